package container

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nilltadios/voidbox/container/fhs"
)

// SetupEnvKey is the environment variable [Container.Start] uses to pass
// the setup pipe's fd to the re-exec'd child that becomes the container
// init. Callers must check for its presence before doing anything else in
// main, and hand off to [Init] when it is set.
const SetupEnvKey = "VOIDBOX_SETUP"

// Init is the entry point of the process that becomes PID 1 inside the new
// namespaces (all created at clone() time via [Container.Start]'s
// Cloneflags). It receives [Params] over the setup pipe, writes the uid/gid
// maps, performs the mount pipeline, pivots into the merged root, forks the
// app as its child, and stays alive as the namespace's subreaper until the
// app exits, at which point it exits the whole process with the app's
// mapped status. It only returns on setup failure, before the app is
// forked; any later failure exits the process directly.
func Init() error { return initWith(direct{}) }

// initWith runs the init sequence against an arbitrary [syscallDispatcher];
// kept separate from [Init] so package-internal tests can substitute a
// [*stub] without exporting the dispatcher interface.
func initWith(k syscallDispatcher) error {
	p, closeSetup, err := receiveParams(SetupEnvKey)
	if err != nil {
		return fmt.Errorf("receive setup params: %w", err)
	}
	defer closeSetup()

	if err := writeIDMaps(k, p.HostUID, p.HostGID); err != nil {
		return fmt.Errorf("write id maps: %w", err)
	}

	if err := k.mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("make root private: %w", err)
	}

	if err := p.Ops.Apply(k, MustAbs("/")); err != nil {
		_ = p.Ops.Unwind(k)
		return fmt.Errorf("apply mount pipeline: %w", err)
	}

	root := p.Root.String()
	oldRoot := p.Root.Append(fhs.OldRoot).String()
	if err := k.mkdir(oldRoot, 0o700); err != nil {
		return fmt.Errorf("create pivot scratch dir: %w", err)
	}
	if err := k.pivotRoot(root, oldRoot); err != nil {
		return fmt.Errorf("pivot_root: %w", err)
	}
	if err := k.chdir("/"); err != nil {
		return fmt.Errorf("chdir to new root: %w", err)
	}
	oldRootRel := "/" + fhs.OldRoot
	if err := k.unmount(oldRootRel, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount old root: %w", err)
	}
	if err := k.remove(oldRootRel); err != nil {
		return fmt.Errorf("remove old root scratch dir: %w", err)
	}

	if err := mountEssential(k); err != nil {
		return fmt.Errorf("mount essential filesystems: %w", err)
	}

	if p.Hostname != "" {
		if err := k.sethostname(p.Hostname); err != nil {
			return fmt.Errorf("set hostname: %w", err)
		}
	}

	if !p.RetainSysAdmin {
		dropCapabilities()
	}

	runApp(p)
	panic("unreachable: runApp always exits the process")
}

// writeIDMaps first denies setgroups, so the gid_map write that follows is
// permitted unprivileged, then writes a single-entry uid_map/gid_map
// mapping uid/gid 0 inside the new user namespace (already created by
// [Container.Start]'s Cloneflags) to the real, host-side hostUID/hostGID.
func writeIDMaps(k syscallDispatcher, hostUID, hostGID int) error {
	if err := k.writeFile("/proc/self/setgroups", []byte("deny"), 0o644); err != nil {
		return fmt.Errorf("write setgroups: %w", err)
	}
	uidMap := []byte(fmt.Sprintf("0 %d 1\n", hostUID))
	if err := k.writeFile("/proc/self/uid_map", uidMap, 0o644); err != nil {
		return fmt.Errorf("write uid_map: %w", err)
	}
	gidMap := []byte(fmt.Sprintf("0 %d 1\n", hostGID))
	if err := k.writeFile("/proc/self/gid_map", gidMap, 0o644); err != nil {
		return fmt.Errorf("write gid_map: %w", err)
	}
	return nil
}

// mountEssential mounts /proc, a fresh devpts instance at /dev/pts, and a
// tmpfs at /run. It does not mount /sys. A /run mount that fails with EBUSY
// is treated as already present and is not an error.
func mountEssential(k syscallDispatcher) error {
	for _, m := range []struct{ target, fstype, data string; flags uintptr }{
		{"/proc", "proc", "", 0},
		{"/dev/pts", "devpts", "newinstance,ptmxmode=0666,mode=0620", 0},
	} {
		if err := k.mount(m.fstype, m.target, m.fstype, m.flags, m.data); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
	}
	if err := k.mount("tmpfs", "/run", "tmpfs", 0, "mode=0755"); err != nil {
		var me *MountError
		if errors.As(err, &me) && errors.Is(me.Err, unix.EBUSY) {
			return nil
		}
		return err
	}
	return nil
}

// runApp forks the app as a child of the init process instead of execve'ing
// over it, so init.go's process — PID 1 of the new namespaces — stays alive
// to reap reparented descendants and forward termination signals for as
// long as anything in the namespace is still running. It never returns:
// every path exits the process directly with the app's mapped status.
func runApp(p *Params) {
	cmd := exec.Command(p.Path.String())
	cmd.Args = p.Args
	cmd.Env = p.Env
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if p.WorkingDir != nil {
		cmd.Dir = p.WorkingDir.String()
	}

	if err := cmd.Start(); err != nil {
		if os.IsNotExist(err) {
			os.Exit(127)
		}
		if os.IsPermission(err) {
			os.Exit(126)
		}
		fmt.Fprintf(os.Stderr, "voidbox: start app: %v\n", err)
		os.Exit(125)
	}

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	type winfo struct {
		pid    int
		status unix.WaitStatus
	}
	info := make(chan winfo, 1)
	go func() {
		for {
			var ws unix.WaitStatus
			pid, err := unix.Wait4(-1, &ws, 0, nil)
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if err != nil {
				// ECHILD: nothing left in the namespace to reap.
				close(info)
				return
			}
			info <- winfo{pid, ws}
		}
	}()

	code := 255
	var timeout <-chan time.Time
	for {
		select {
		case sig := <-sigCh:
			if cmd.Process != nil {
				_ = cmd.Process.Signal(sig)
			}
		case w, ok := <-info:
			if !ok {
				os.Exit(code)
			}
			if w.pid != cmd.Process.Pid {
				// a reparented grandchild, not the app itself; keep reaping.
				continue
			}
			switch {
			case w.status.Exited():
				code = w.status.ExitStatus()
			case w.status.Signaled():
				code = 128 + int(w.status.Signal())
			}
			delay := p.WaitDelay
			if delay <= 0 {
				delay = 5 * time.Second
			}
			timeout = time.After(delay)
		case <-timeout:
			os.Exit(code)
		}
	}
}

// dropCapabilities clears the ambient capability set and lowers the
// bounding set to empty, leaving the app with no capabilities beyond what
// the user namespace's root mapping implies (i.e. none outside it).
func dropCapabilities() {
	for cap := 0; cap <= 40; cap++ {
		_, _, _ = unix.Syscall(unix.SYS_PRCTL, unix.PR_CAPBSET_DROP, uintptr(cap), 0)
	}
	_, _, _ = unix.Syscall6(unix.SYS_PRCTL, unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0, 0)
}
