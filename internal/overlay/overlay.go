// Package overlay composes lowerdirs, an upperdir, and a workdir into a
// single OverlayFS mount request, and detects kernel support for doing so
// inside an unprivileged user namespace.
package overlay

import (
	"os"

	"github.com/nilltadios/voidbox/container"
	"github.com/nilltadios/voidbox/container/check"
)

// Plan is the fully-resolved set of paths an overlay mount needs, mirroring
// [container.OverlayMountOp] but expressed in terms voidbox's callers build
// up incrementally (a growing lowerdir list) before handing off to the
// namespace engine.
type Plan struct {
	Lower      []*container.Absolute
	Upper      *container.Absolute
	Work       *container.Absolute
	Mountpoint *container.Absolute
}

// New starts a [Plan] targeting mountpoint.
func New(mountpoint *container.Absolute) *Plan { return &Plan{Mountpoint: mountpoint} }

// AddLower appends a lowerdir; later calls shadow earlier ones, as in
// [container.OverlayMountOp], which reverses the list into overlayfs's
// topmost-first lowerdir= order.
func (p *Plan) AddLower(dir *container.Absolute) *Plan {
	p.Lower = append(p.Lower, dir)
	return p
}

// WithUpper sets the writable layer and its required scratch workdir.
// Both must live on the same filesystem as each other (not necessarily the
// same as the lowerdirs).
func (p *Plan) WithUpper(upper, work *container.Absolute) *Plan {
	p.Upper, p.Work = upper, work
	return p
}

// Op renders the plan as a [container.Op] ready to append to a
// [container.Ops] pipeline.
func (p *Plan) Op() *container.OverlayMountOp {
	return &container.OverlayMountOp{Lower: p.Lower, Upper: p.Upper, Work: p.Work, Target: p.Mountpoint}
}

// EnsureMountpointEmpty enforces the composer's invariant that the
// mountpoint is empty before mounting; a non-empty mountpoint from a
// previous crashed run is a bug in cleanup, not something to paper over.
func EnsureMountpointEmpty(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	if len(entries) != 0 {
		return &container.OverlayArgumentError{Reason: "mountpoint " + path + " is not empty"}
	}
	return nil
}

// Capability reports the kernel's ability to satisfy an overlay-in-userns
// mount, distinguishing the two failure modes named in spec.md §7/§8.
type Capability struct {
	UnprivilegedUsernsDisabled bool
	OverlaySupported           bool
}

// Detect probes the running kernel once; callers cache the result for the
// lifetime of a single install/run invocation.
func Detect() Capability {
	disabled := check.UnprivilegedUsernsDisabled()
	return Capability{
		UnprivilegedUsernsDisabled: disabled,
		OverlaySupported:           !disabled && check.OverlayUserns(nil),
	}
}

// Err returns a [*container.KernelCapabilityError] describing the first
// unmet capability, or nil if the kernel supports what the engine needs.
func (c Capability) Err() error {
	if c.UnprivilegedUsernsDisabled {
		return &container.KernelCapabilityError{
			Capability: "unprivileged_userns_clone",
			Detail:     "/proc/sys/kernel/unprivileged_userns_clone=0",
		}
	}
	if !c.OverlaySupported {
		return &container.KernelCapabilityError{Capability: "overlay-in-userns"}
	}
	return nil
}
