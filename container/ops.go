package container

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/nilltadios/voidbox/container/check"
)

// Op is one step of the setup pipeline applied inside the merged root
// before the app's entry point is execve'd. Ops are applied strictly in
// the order they appear in an [Ops] slice; the mount planner (see
// internal/mountplan) is responsible for producing that order.
type Op interface {
	// Apply performs the operation against root using k for every kernel
	// entry point, so tests can substitute a recording [syscallDispatcher].
	Apply(k syscallDispatcher, root *Absolute) error
	// Valid reports whether the op's fields form a sane request.
	Valid() bool
	String() string
}

// Ops is an ordered pipeline of [Op]. Mounted is appended to for every
// [BindMountOp]/[OverlayMountOp]/[TmpfsMountOp] successfully applied, in
// apply order, so [Ops.Unwind] can unmount them in reverse order; the
// container init calls it when the pipeline fails to apply.
type Ops struct {
	list    []Op
	Mounted []*Absolute
}

func (o *Ops) append(op Op) *Ops {
	o.list = append(o.list, op)
	return o
}

func (o *Ops) Mkdir(path *Absolute, perm os.FileMode) *Ops {
	return o.append(&MkdirOp{Path: path, Perm: perm})
}

func (o *Ops) Bind(source, target *Absolute, write bool) *Ops {
	return o.append(&BindMountOp{Source: source, Target: target, Write: write})
}

func (o *Ops) Overlay(target *Absolute, lower []*Absolute, upper, work *Absolute) *Ops {
	return o.append(&OverlayMountOp{Lower: lower, Upper: upper, Work: work, Target: target})
}

func (o *Ops) Tmpfs(target *Absolute, size string, perm os.FileMode) *Ops {
	return o.append(&TmpfsMountOp{Target: target, Size: size, Perm: perm})
}

func (o *Ops) Symlink(target, linkname *Absolute) *Ops {
	return o.append(&SymlinkOp{Target: target, Linkname: linkname})
}

func (o *Ops) Remount(target *Absolute, flags uintptr) *Ops {
	return o.append(&RemountOp{Target: target, Flags: flags})
}

func (o *Ops) DevNode(path *Absolute, mode uint32, dev int) *Ops {
	return o.append(&DevNodeOp{Path: path, Mode: mode, Dev: dev})
}

// PrependOverlay inserts op at the front of the pipeline. The overlay mount
// that produces the merged root must exist before any bind mount whose
// target lies inside it, so callers assemble the permission-driven binds
// first and prepend the overlay last.
func (o *Ops) PrependOverlay(op *OverlayMountOp) *Ops {
	o.list = append([]Op{op}, o.list...)
	return o
}

// Apply runs every op in order against root, stopping and returning the
// first error. Successful mount ops are recorded in o.Mounted regardless
// of whether a later op fails, so the caller can still unwind.
func (o *Ops) Apply(k syscallDispatcher, root *Absolute) error {
	for _, op := range o.list {
		if !op.Valid() {
			return &OpStateError{Op: op.String(), State: "invalid arguments"}
		}
		if err := op.Apply(k, root); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		switch t := op.(type) {
		case *BindMountOp:
			o.Mounted = append(o.Mounted, t.Target)
		case *OverlayMountOp:
			o.Mounted = append(o.Mounted, t.Target)
		case *TmpfsMountOp:
			o.Mounted = append(o.Mounted, t.Target)
		}
	}
	return nil
}

// Unwind unmounts everything in o.Mounted in reverse order, collecting but
// not stopping on individual failures so a best-effort teardown always runs
// to completion.
func (o *Ops) Unwind(k syscallDispatcher) error {
	var first error
	for i := len(o.Mounted) - 1; i >= 0; i-- {
		if err := k.unmount(o.Mounted[i].String(), unix.MNT_DETACH); err != nil && first == nil {
			first = err
		}
	}
	o.Mounted = nil
	return first
}

// MkdirOp creates Path (and its parents) inside the merged root before it
// is used as a mount target or symlink location.
type MkdirOp struct {
	Path *Absolute
	Perm os.FileMode
}

func (op *MkdirOp) Valid() bool  { return op.Path != nil }
func (op *MkdirOp) String() string { return fmt.Sprintf("mkdir %s", op.Path) }
func (op *MkdirOp) Apply(k syscallDispatcher, root *Absolute) error {
	perm := op.Perm
	if perm == 0 {
		perm = 0o755
	}
	return k.mkdir(root.Append(op.Path.String()).String(), perm)
}

// BindMountOp bind-mounts Source onto Target, optionally remounting
// read-only in a second syscall (overlayfs-style bind semantics require a
// second MS_REMOUNT|MS_BIND|MS_RDONLY pass to make a bind mount read-only).
type BindMountOp struct {
	Source, Target *Absolute
	Write          bool
}

func (op *BindMountOp) Valid() bool { return op.Source != nil && op.Target != nil }
func (op *BindMountOp) String() string {
	mode := "ro"
	if op.Write {
		mode = "rw"
	}
	return fmt.Sprintf("bind[%s] %s -> %s", mode, op.Source, op.Target)
}
func (op *BindMountOp) Apply(k syscallDispatcher, root *Absolute) error {
	target := root.Append(op.Target.String()).String()
	if err := k.mount(op.Source.String(), target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return err
	}
	if !op.Write {
		if err := k.mount("", target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
			return err
		}
	}
	return nil
}

// OverlayMountOp mounts an overlayfs view at Target, composing Lower in
// order (later entries shadow earlier ones) with Upper as the writable
// layer and Work as its required scratch directory. When Upper is nil the
// overlay is mounted read-only (no upperdir/workdir in the mount data).
type OverlayMountOp struct {
	Lower        []*Absolute
	Upper, Work  *Absolute
	Target       *Absolute
}

func (op *OverlayMountOp) Valid() bool {
	if op.Target == nil || len(op.Lower) == 0 {
		return false
	}
	return (op.Upper == nil) == (op.Work == nil)
}
func (op *OverlayMountOp) String() string {
	return fmt.Sprintf("overlay %d lower -> %s", len(op.Lower), op.Target)
}
func (op *OverlayMountOp) Apply(k syscallDispatcher, root *Absolute) error {
	// overlayfs stacks lowerdir= from right to left (the first entry is the
	// top layer), so Lower is reversed to let later entries shadow earlier
	// ones.
	lowerPaths := make([]string, len(op.Lower))
	for i, l := range op.Lower {
		lowerPaths[len(op.Lower)-1-i] = l.String()
	}
	data := "lowerdir=" + joinOverlay(lowerPaths)
	if op.Upper != nil {
		data += ",upperdir=" + escapeOverlay(op.Upper.String()) + ",workdir=" + escapeOverlay(op.Work.String())
	}
	target := root.Append(op.Target.String()).String()
	return k.mount("overlay", target, "overlay", 0, data)
}

// TmpfsMountOp mounts a tmpfs at Target, sized by Size (mount(5) "size="
// syntax, e.g. "64m"); an empty Size leaves it at the kernel default.
type TmpfsMountOp struct {
	Target *Absolute
	Size   string
	Perm   os.FileMode
}

func (op *TmpfsMountOp) Valid() bool  { return op.Target != nil }
func (op *TmpfsMountOp) String() string { return fmt.Sprintf("tmpfs %s", op.Target) }
func (op *TmpfsMountOp) Apply(k syscallDispatcher, root *Absolute) error {
	data := ""
	if op.Size != "" {
		data = "size=" + op.Size
	}
	target := root.Append(op.Target.String()).String()
	if err := k.mount("tmpfs", target, "tmpfs", 0, data); err != nil {
		return err
	}
	if op.Perm != 0 {
		return k.chmod(target, op.Perm)
	}
	return nil
}

// SymlinkOp creates a symlink at Linkname (joined onto the root passed to
// Apply) pointing to Target, which is written into the link as given.
type SymlinkOp struct {
	Target, Linkname *Absolute
}

func (op *SymlinkOp) Valid() bool  { return op.Target != nil && op.Linkname != nil }
func (op *SymlinkOp) String() string { return fmt.Sprintf("symlink %s -> %s", op.Linkname, op.Target) }
func (op *SymlinkOp) Apply(k syscallDispatcher, root *Absolute) error {
	return k.symlink(op.Target.String(), root.Append(op.Linkname.String()).String())
}

// RemountOp reapplies mount flags to an already-mounted Target. Target is
// used as given, not joined onto the root passed to Apply.
type RemountOp struct {
	Target *Absolute
	Flags  uintptr
}

func (op *RemountOp) Valid() bool  { return op.Target != nil }
func (op *RemountOp) String() string { return fmt.Sprintf("remount %s", op.Target) }
func (op *RemountOp) Apply(k syscallDispatcher, root *Absolute) error {
	return k.mount("", op.Target.String(), "", op.Flags, "")
}

// DevNodeOp creates a device special file at Path, used to populate the
// minimal /dev tmpfs with null/zero/full/random/urandom/tty/ptmx.
type DevNodeOp struct {
	Path *Absolute
	Mode uint32
	Dev  int
}

func (op *DevNodeOp) Valid() bool  { return op.Path != nil }
func (op *DevNodeOp) String() string { return fmt.Sprintf("mknod %s", op.Path) }
func (op *DevNodeOp) Apply(k syscallDispatcher, root *Absolute) error {
	return k.mknod(root.Append(op.Path.String()).String(), op.Mode, op.Dev)
}

func escapeOverlay(s string) string    { return check.EscapeOverlayDataSegment(s) }
func joinOverlay(paths []string) string { return check.JoinOverlayPaths(paths) }
