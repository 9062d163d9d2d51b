package vbox

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nilltadios/voidbox/container"
	"github.com/nilltadios/voidbox/internal/manifest"
	"github.com/nilltadios/voidbox/internal/overlay"
)

// installPackagesNS implements the "install mode" namespace entry of
// spec.md §4.3's Layer Builder: compose a one-shot overlay with
// lowerdir=base, the caller's staging directory as the fresh upperdir, and
// a scratch workdir, then enter the namespace engine to invoke the base
// distro's package manager against that upperdir. Wired as
// layer.Builder.InstallPackages by [New], since building a dependency
// layer requires namespace entry — a concern internal/layer deliberately
// does not import, to keep the build-plan and namespace-entry concerns
// separate per DESIGN.md's internal/layer entry.
func (e *Engine) installPackagesNS(ctx context.Context, base manifest.BaseID, upperdir string, packages []string) error {
	if len(packages) == 0 {
		return nil
	}
	cmd, err := packageManagerCommand(base.Distro, packages)
	if err != nil {
		return &OpError{Kind: KindConfiguration, Message: "no package manager for base distro", Cause: err, Context: map[string]string{"distro": base.Distro}}
	}

	mountpoint := upperdir + "-root"
	work := upperdir + "-work"
	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(work, 0o755); err != nil {
		return err
	}
	defer os.RemoveAll(mountpoint)
	defer os.RemoveAll(work)

	plan := overlay.New(container.MustAbs(mountpoint))
	plan.AddLower(container.MustAbs(e.Store.BasePath(base)))
	plan.WithUpper(container.MustAbs(upperdir), container.MustAbs(work))

	ops := &container.Ops{}
	ops.PrependOverlay(plan.Op())

	c, err := container.New(ctx, e.SelfExec, container.SetupEnvKey)
	if err != nil {
		return fmt.Errorf("start install-mode container: %w", err)
	}
	c.Params = &container.Params{
		Root: container.MustAbs(mountpoint),
		Ops:  ops,
		Env: []string{
			"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
			"DEBIAN_FRONTEND=noninteractive",
			"HOME=/root",
		},
		Path:    container.MustAbs("/bin/sh"),
		Args:    []string{"/bin/sh", "-c", cmd},
		HostUID: os.Getuid(),
		HostGID: os.Getgid(),
		// the package manager needs the host's network to fetch packages;
		// install mode is not a running app and the network tag does not
		// apply to it.
		HostNet: true,
	}

	if err := c.Start(); err != nil {
		return fmt.Errorf("start install-mode container: %w", err)
	}
	done := make(chan struct{})
	go c.ForwardSignals(ctx, done)
	state, waitErr := c.Wait()
	close(done)

	code := container.ExitStatus(state, waitErr)
	if code != 0 {
		return fmt.Errorf("package manager exited %d installing %v: %w", code, packages, waitErr)
	}
	return nil
}

// packageManagerCommand renders the shell command that installs packages
// on the named base distro. Each package is single-quoted so a package
// identifier can never break out of the argument list, even though
// spec.md §3 already treats them as opaque tokens the base's own tooling
// resolves.
func packageManagerCommand(distro string, packages []string) (string, error) {
	quoted := make([]string, len(packages))
	for i, p := range packages {
		quoted[i] = shellQuote(p)
	}
	list := strings.Join(quoted, " ")
	switch distro {
	case "ubuntu":
		return "apt-get update && apt-get install -y --no-install-recommends " + list, nil
	case "alpine":
		return "apk add --no-cache " + list, nil
	default:
		return "", fmt.Errorf("unrecognized distro %q", distro)
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
