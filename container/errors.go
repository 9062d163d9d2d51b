package container

import (
	"errors"
	"fmt"
)

// MountError is returned by mount-related [Op] implementations and wraps
// the underlying errno alongside the arguments passed to the syscall.
type MountError struct {
	Source, Target, Fstype string
	Flags                  uintptr
	Data                   string
	Err                    error
}

func (e *MountError) Unwrap() error { return e.Err }

func (e *MountError) Error() string {
	if e.Fstype == "" && e.Source != "" {
		return fmt.Sprintf("bind %s on %s: %v", e.Source, e.Target, e.Err)
	}
	if e.Fstype != "" {
		return fmt.Sprintf("mount %s on %s: %v", e.Fstype, e.Target, e.Err)
	}
	return fmt.Sprintf("mount %s: %v", e.Target, e.Err)
}

// OverlayArgumentError reports a violated overlay-composer invariant;
// internal/overlay.EnsureMountpointEmpty returns it for a non-empty
// mountpoint. An [OverlayMountOp] with no lowerdirs, or with only one of
// upperdir/workdir, fails Valid and is reported as an [OpStateError]
// instead. Whether upperdir and workdir share a filesystem is not checked.
type OverlayArgumentError struct {
	Reason string
}

func (e *OverlayArgumentError) Error() string { return "invalid overlay arguments: " + e.Reason }

// OpStateError is returned by [Ops.Apply] when an [Op] fails its Valid
// check; State describes the problem.
type OpStateError struct {
	Op    string
	State string
}

func (e *OpStateError) Error() string {
	return fmt.Sprintf("op %s: %s", e.Op, e.State)
}

// StartError is returned by [New] when the setup pipe cannot be created,
// and by [Container.Start] for nil params, a fork/exec failure, or a
// failure to transmit params to the child.
type StartError struct {
	Step string
	Err  error
}

func (e *StartError) Unwrap() error { return e.Err }
func (e *StartError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }

// KernelCapabilityError is returned when the host kernel lacks a capability
// the container runtime depends on (unprivileged userns, overlay-in-userns).
type KernelCapabilityError struct {
	Capability string
	Detail     string
}

func (e *KernelCapabilityError) Error() string {
	if e.Detail == "" {
		return "kernel capability unavailable: " + e.Capability
	}
	return fmt.Sprintf("kernel capability unavailable: %s (%s)", e.Capability, e.Detail)
}

var (
	// ErrOpSequence reports an op applied out of sequence. [OpStateError]
	// does not wrap it, so errors.Is does not match one to the other.
	ErrOpSequence = errors.New("op applied out of sequence")
)
