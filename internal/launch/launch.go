// Package launch drives one run/shell invocation end to end: resolving the
// merged view, entering the namespace engine, and mapping the result to an
// exit status, per spec.md §4.8 and §6.6.
package launch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/nilltadios/voidbox/container"
	"github.com/nilltadios/voidbox/internal/env"
	"github.com/nilltadios/voidbox/internal/manifest"
	"github.com/nilltadios/voidbox/internal/mountplan"
	"github.com/nilltadios/voidbox/internal/overlay"
	"github.com/nilltadios/voidbox/internal/store"
)

// Msg is the suspend/resume/flush surface a launch uses to keep logging
// from interleaving across the pivot_root boundary. internal/vbox.Msg
// satisfies it structurally; it is declared here rather than imported
// since internal/vbox already imports this package.
type Msg interface {
	Suspend()
	Resume()
	BeforeExit()
}

// Request describes one launch: the app, the resolved layer paths, and the
// argv the user asked for (empty for the declared entry point, or a shell
// for the shell(name) operation).
type Request struct {
	App        *manifest.App
	Store      *store.Store
	Base       string
	Dep        string
	AppLayer   string
	Binary     string // absolute path inside the merged view
	Argv       []string
	WaitDelay  time.Duration
	SelfExec   string
	// Msg, if set, is suspended while the container is running (the
	// inherited terminal changes identity across pivot_root) and resumed
	// once it exits.
	Msg Msg
}

// Outcome is the result of a completed launch.
type Outcome struct {
	ExitCode   int
	Mountpoint string
}

// RunError wraps a launch failure with the exit code §6.6 assigns it.
type RunError struct {
	Code int
	Err  error
}

func (e *RunError) Unwrap() error { return e.Err }
func (e *RunError) Error() string { return fmt.Sprintf("run failed (exit %d): %v", e.Code, e.Err) }

// Run composes the merged mount, enters the namespace engine, execs the
// resolved binary, waits for completion, and tears down the mount on every
// exit path — normal, signaled, or cancelled via ctx.
func Run(ctx context.Context, req *Request, host mountplan.HostEnv) (*Outcome, error) {
	capability := overlay.Detect()
	if err := capability.Err(); err != nil {
		return nil, &RunError{Code: 250, Err: err}
	}

	launchID := uuid.NewString()
	mountpoint := req.Store.AppDir(req.App.Name) + "/rootfs-" + launchID
	work := req.Store.AppWork(req.App.Name) + "-" + launchID

	if err := overlay.EnsureMountpointEmpty(mountpoint); err != nil {
		return nil, &RunError{Code: 251, Err: err}
	}
	if err := os.MkdirAll(work, 0o755); err != nil {
		return nil, &RunError{Code: 251, Err: err}
	}
	// The overlay mount itself lives only inside the container's own mount
	// namespace (created at clone() time and applied before pivot_root), so
	// it never propagates to the host's mount table and disappears
	// automatically when that namespace's last process exits.
	// What remains on the host is the now-empty mountpoint and workdir; the
	// supervisor removes both on every exit path so none accumulate under
	// apps/<name>.
	defer os.RemoveAll(mountpoint)
	defer os.RemoveAll(work)

	plan := overlay.New(container.MustAbs(mountpoint))
	if !req.App.Permissions.NativeMode {
		plan.AddLower(container.MustAbs(req.Base))
		if req.Dep != "" {
			plan.AddLower(container.MustAbs(req.Dep))
		}
	} else {
		plan.AddLower(container.MustAbs(req.Base)).
			AddLower(container.MustAbs("/usr")).
			AddLower(container.MustAbs("/lib")).
			AddLower(container.MustAbs("/lib64"))
	}
	plan.WithUpper(container.MustAbs(req.AppLayer), container.MustAbs(work))

	ops := mountplan.Plan(req.App, host)
	// the overlay mount itself is prepended: it must exist before any
	// bind mount targeting a path inside it.
	ops.PrependOverlay(plan.Op())

	containerHome := host.Home
	if !req.App.Permissions.Home {
		containerHome = "/root"
	}
	environ := env.Compose(req.App, host, containerHome)

	argv := req.Argv
	if len(argv) == 0 {
		argv = append([]string{req.Binary}, req.App.Binary.ArgvPrefix...)
	}

	c, err := container.New(ctx, req.SelfExec, container.SetupEnvKey)
	if err != nil {
		return nil, &RunError{Code: 250, Err: err}
	}
	c.Params = &container.Params{
		Root:           container.MustAbs(mountpoint),
		Ops:            ops,
		Hostname:       "voidbox-" + req.App.Name,
		Env:            environ,
		Path:           container.MustAbs(req.Binary),
		Args:           argv,
		HostUID:        host.UID,
		HostGID:        host.GID,
		RetainSysAdmin: req.App.Permissions.NativeMode,
		WaitDelay:      waitDelayOrDefault(req.WaitDelay),
		HostNet:        req.App.Permissions.Network,
	}

	if req.Msg != nil {
		defer req.Msg.BeforeExit()
	}

	// Suspended for the container's entire lifetime: the init process
	// writes to the inherited terminal on both sides of pivot_root, and a
	// line buffered on our side must never interleave with one written
	// after the namespace takes over the terminal.
	if req.Msg != nil {
		req.Msg.Suspend()
	}
	startErr := c.Start()
	if startErr != nil {
		if req.Msg != nil {
			req.Msg.Resume()
		}
		return nil, &RunError{Code: 250, Err: startErr}
	}

	done := make(chan struct{})
	go c.ForwardSignals(ctx, done)

	state, waitErr := c.Wait()
	close(done)
	if req.Msg != nil {
		req.Msg.Resume()
	}

	code := container.ExitStatus(state, waitErr)
	return &Outcome{ExitCode: code, Mountpoint: mountpoint}, nil
}

func waitDelayOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}
