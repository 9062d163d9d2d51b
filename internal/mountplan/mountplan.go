// Package mountplan translates a permission set and detected host
// environment into the ordered list of mount operations the namespace
// engine applies before pivot_root.
package mountplan

import (
	"os"
	"path/filepath"

	"github.com/nilltadios/voidbox/container"
	"github.com/nilltadios/voidbox/container/fhs"
	"github.com/nilltadios/voidbox/internal/manifest"
)

// globDev expands a /dev glob against the live host, returning no matches
// rather than an error when the pattern is malformed or nothing matches —
// both are legitimate "nothing to bind" outcomes here.
func globDev(pattern string) []string {
	matches, _ := filepath.Glob(pattern)
	return matches
}

// HostEnv is the subset of the invoking user's environment and identity
// the mount planner and environment composer both need.
type HostEnv struct {
	UID, GID       int
	Home           string
	XDGRuntimeDir  string
	Display        string
	WaylandDisplay string
	Lang           string
	Term           string
}

// DetectHostEnv reads the values [HostEnv] needs from the process
// environment. An unset variable is left empty; no fallback is applied
// here (env.Compose supplies the TERM default).
func DetectHostEnv(uid, gid int) HostEnv {
	h := HostEnv{UID: uid, GID: gid}
	h.Home = os.Getenv("HOME")
	h.XDGRuntimeDir = os.Getenv("XDG_RUNTIME_DIR")
	h.Display = os.Getenv("DISPLAY")
	h.WaylandDisplay = os.Getenv("WAYLAND_DISPLAY")
	h.Lang = os.Getenv("LANG")
	h.Term = os.Getenv("TERM")
	return h
}

// devNode is one entry of the standard populated /dev.
type devNode struct {
	name string
	mode uint32
	dev  int
}

// Plan builds the ordered [container.Ops] pipeline for one launch: the
// always-present standard mounts, then the permission-driven mounts, then
// the user-visible binds last so they shadow anything a preceding step
// bound at the same path, per §4.6's ordering rules.
func Plan(app *manifest.App, host HostEnv) *container.Ops {
	ops := new(container.Ops)

	standardMounts(ops)
	permissionMounts(ops, app, host)

	// user-visible binds last: home and the runtime dir shadow anything a
	// permission-driven mount above may have placed at the same path.
	if app.Permissions.Home && host.Home != "" {
		home := container.MustAbs(host.Home)
		ops.Mkdir(home, 0o755).Bind(home, home, true)
	}
	if host.XDGRuntimeDir != "" {
		rt := container.MustAbs(host.XDGRuntimeDir)
		ops.Mkdir(rt, 0o700).Bind(rt, rt, true)
	}

	return ops
}

func standardMounts(ops *container.Ops) {
	ops.Mkdir(absDev(), 0o755).Tmpfs(absDev(), "", 0o755)
	for _, n := range []devNode{
		{"null", 0o666, 0}, {"zero", 0o666, 0}, {"full", 0o666, 0},
		{"random", 0o666, 0}, {"urandom", 0o666, 0}, {"tty", 0o666, 0}, {"ptmx", 0o666, 0},
	} {
		p := container.MustAbs(fhs.Dev + n.name)
		ops.DevNode(p, n.mode, n.dev)
	}

	tmp := container.MustAbs(fhs.Tmp)
	ops.Mkdir(tmp, 0o1777).Bind(tmp, tmp, true)

	resolv := container.MustAbs(fhs.Etc + "resolv.conf")
	ops.Mkdir(resolv.Dir(), 0o755).Bind(resolv, resolv, false)
}

func permissionMounts(ops *container.Ops, app *manifest.App, host HostEnv) {
	p := app.Permissions

	if p.GPU {
		dri := container.MustAbs("/dev/dri")
		ops.Mkdir(dri, 0o755).Bind(dri, dri, true)
	}
	if p.Microphone {
		// ALSA capture devices live under /dev/snd; PipeWire/PulseAudio
		// capture rides the same socket p.Audio already binds, so this
		// tag only needs to add the raw device nodes audio output does
		// not already expose.
		snd := container.MustAbs("/dev/snd")
		ops.Mkdir(snd, 0o755).Bind(snd, snd, true)
	}
	if p.Camera {
		// the set of video devices is not known statically, so it is
		// globbed against the live host rather than hardcoded.
		for _, dev := range globDev("/dev/video*") {
			v := container.MustAbs(dev)
			ops.Bind(v, v, true)
		}
	}
	if p.Downloads && host.Home != "" {
		d := container.MustAbs(host.Home + "/Downloads")
		ops.Mkdir(d, 0o755).Bind(d, d, true)
	}
	if p.Fonts {
		f := container.MustAbs("/usr/share/fonts")
		ops.Mkdir(f, 0o755).Bind(f, f, false)
	}
	if p.Themes {
		t := container.MustAbs("/usr/share/themes")
		ops.Mkdir(t, 0o755).Bind(t, t, false)
	}
	if p.Icons {
		i := container.MustAbs("/usr/share/icons")
		ops.Mkdir(i, 0o755).Bind(i, i, false)
	}
	if p.DevMode {
		hostBin := container.MustAbs(fhs.HostBin)
		usrBin := container.MustAbs(fhs.UsrBin)
		ops.Mkdir(hostBin, 0o755).Bind(usrBin, hostBin, false)
	}
	if p.SystemDBus {
		sock := container.MustAbs("/run/dbus/system_bus_socket")
		ops.Mkdir(sock.Dir(), 0o755).Bind(sock, sock, true)
	}
	if p.HostBridge && host.XDGRuntimeDir != "" {
		sock := container.MustAbs(host.XDGRuntimeDir + "/voidbox-bridge.sock")
		ops.Bind(sock, sock, true)
	}
	if p.Audio && host.XDGRuntimeDir != "" {
		pulse := container.MustAbs(host.XDGRuntimeDir + "/pulse")
		ops.Mkdir(pulse.Dir(), 0o755).Bind(pulse, pulse, true)
	}
	if p.NativeMode {
		// native_mode's /usr, /lib, /lib64 replacement is applied as
		// additional overlay lowerdirs by internal/overlay's caller, not
		// as a bind mount here — it must shadow the dependency layer at
		// the overlay level, before pivot_root, not after.
		for _, path := range []string{fhs.Etc + "passwd", fhs.Etc + "group", fhs.Etc + "nsswitch.conf"} {
			a := container.MustAbs(path)
			ops.Bind(a, a, false)
		}
	}
}

func absDev() *container.Absolute { return container.MustAbs(fhs.Dev) }
