package container

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Params is transmitted from the outer supervisor to the container init
// over the setup pipe. It carries everything [Init] needs to assemble and
// enter the merged rootfs; it must remain gob-encodable.
type Params struct {
	// Root is the merged mountpoint the namespace engine was invoked
	// against; the init process pivots into it.
	Root *Absolute
	// Ops is the pipeline of bind/overlay/tmpfs/mkdir/symlink operations
	// applied inside the new mount namespace before pivot_root.
	Ops *Ops
	// Hostname is set via sethostname after entering the UTS namespace;
	// empty leaves the host's hostname inherited.
	Hostname string
	// Env is the curated environment the app's entry point receives.
	Env []string
	// Path is the absolute path to the app's entry point, already resolved
	// against the merged view.
	Path *Absolute
	// Args is argv, including argv[0].
	Args []string
	// WorkingDir is the app's working directory inside the container; nil
	// leaves the app in the container root, where init chdirs after
	// pivot_root.
	WorkingDir *Absolute
	// HostUID/HostGID are the invoking user's real credentials, mapped to
	// uid/gid 0 inside the new user namespace.
	HostUID, HostGID int
	// RetainSysAdmin skips the capability drop after pivot, leaving the
	// bounding set and no_new_privs as they were; set for native_mode
	// launches.
	RetainSysAdmin bool
	// WaitDelay bounds how long the container init keeps reaping remaining
	// descendants after the app exits, and how long [Container.ForwardSignals]
	// waits after relaying a signal before killing the child; zero means 5s.
	WaitDelay time.Duration
	// HostNet shares the host's network namespace instead of creating a
	// fresh, unconfigured one. Mirrors the network permission tag; false
	// isolates the container from every host interface.
	HostNet bool
}

func init() {
	gob.Register(&BindMountOp{})
	gob.Register(&OverlayMountOp{})
	gob.Register(&TmpfsMountOp{})
	gob.Register(&MkdirOp{})
	gob.Register(&SymlinkOp{})
	gob.Register(&RemountOp{})
	gob.Register(&DevNodeOp{})
}

// Container is the outer supervisor half of the namespace engine: it owns
// the child process that becomes the container init (see [Init]), forwards
// signals, and reaps on every exit path.
type Container struct {
	Params *Params

	cmd     *exec.Cmd
	encoder *gob.Encoder
	started bool
}

// New prepares a [Container] that will re-exec the running binary with
// argv0 set to selfExecPath and the environment variable named key set to
// the setup pipe's fd, mirroring how container init processes bootstrap
// themselves without a separate helper binary.
func New(ctx context.Context, selfExecPath, key string, extraArgv ...string) (*Container, error) {
	c := &Container{}
	c.cmd = exec.CommandContext(ctx, selfExecPath, extraArgv...)
	c.cmd.Stdin, c.cmd.Stdout, c.cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	c.cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWUSER | unix.CLONE_NEWPID | unix.CLONE_NEWNS |
			unix.CLONE_NEWIPC | unix.CLONE_NEWUTS,
		AmbientCaps: []uintptr{unix.CAP_SYS_ADMIN, unix.CAP_SETPCAP},
		Pdeathsig:   syscall.SIGKILL,
	}

	fd, enc, err := setupPipe(&c.cmd.ExtraFiles)
	if err != nil {
		return nil, &StartError{Step: "setup pipe", Err: err}
	}
	c.cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", key, fd))
	c.encoder = enc
	return c, nil
}

// Start ORs CLONE_NEWNET into Cloneflags unless Params.HostNet opts out,
// then forks the supervisor's child — creating every requested namespace
// at clone() time, before the child executes a single instruction — and
// transmits Params over the setup pipe for [Init] (running inside the
// child) to decode.
func (c *Container) Start() error {
	if c.Params == nil {
		return &StartError{Step: "start", Err: fmt.Errorf("nil params")}
	}
	if !c.Params.HostNet {
		c.cmd.SysProcAttr.Cloneflags |= unix.CLONE_NEWNET
	}
	if err := c.cmd.Start(); err != nil {
		return &StartError{Step: "fork", Err: err}
	}
	c.started = true
	if err := c.encoder.Encode(c.Params); err != nil {
		return &StartError{Step: "transmit params", Err: err}
	}
	return nil
}

// Wait blocks until the container init exits and returns its process state.
func (c *Container) Wait() (*os.ProcessState, error) {
	err := c.cmd.Wait()
	return c.cmd.ProcessState, err
}

// ForwardSignals relays SIGTERM/SIGINT/SIGHUP/SIGQUIT received by the
// supervisor to the child process, then after [Params.WaitDelay] sends SIGKILL if
// the child has not yet exited. It returns once ctx is done or the child
// has exited, whichever comes first.
func (c *Container) ForwardSignals(ctx context.Context, done <-chan struct{}) {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGQUIT)
	defer signal.Stop(ch)

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case sig := <-ch:
			if c.cmd.Process == nil {
				continue
			}
			_ = c.cmd.Process.Signal(sig)
			delay := c.Params.WaitDelay
			if delay <= 0 {
				delay = 5 * time.Second
			}
			select {
			case <-done:
				return
			case <-time.After(delay):
				_ = c.cmd.Process.Kill()
			}
		}
	}
}

// ExitStatus maps an *os.ProcessState (or a wait error) to the run exit
// code convention: 0 normal, 1-125 app-defined, 128+N killed by signal N.
func ExitStatus(state *os.ProcessState, waitErr error) int {
	if state == nil {
		return 1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		switch {
		case ws.Exited():
			return ws.ExitStatus()
		case ws.Signaled():
			return 128 + int(ws.Signal())
		}
	}
	return state.ExitCode()
}
