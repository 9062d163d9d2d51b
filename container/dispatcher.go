package container

import (
	"os"

	"golang.org/x/sys/unix"
)

// syscallDispatcher abstracts every kernel entry point the namespace engine
// and its [Op] pipeline touch. Production code uses [direct]; tests use a
// recording fake so namespace/mount/pivot_root sequencing can be exercised
// without CAP_SYS_ADMIN or a kernel that supports user namespaces.
type syscallDispatcher interface {
	mount(source, target, fstype string, flags uintptr, data string) error
	unmount(target string, flags int) error
	pivotRoot(newRoot, putOld string) error
	chdir(path string) error
	mkdir(path string, perm os.FileMode) error
	remove(path string) error
	symlink(oldname, newname string) error
	readlink(path string) (string, error)
	writeFile(path string, data []byte, perm os.FileMode) error
	readFile(path string) ([]byte, error)
	stat(path string) (os.FileInfo, error)
	sethostname(name string) error
	mknod(path string, mode uint32, dev int) error
	chmod(path string, mode os.FileMode) error
}

// direct dispatches every call straight to the kernel via golang.org/x/sys/unix.
type direct struct{}

func (direct) mount(source, target, fstype string, flags uintptr, data string) error {
	if err := unix.Mount(source, target, fstype, flags, data); err != nil {
		return &MountError{Source: source, Target: target, Fstype: fstype, Flags: flags, Data: data, Err: err}
	}
	return nil
}

func (direct) unmount(target string, flags int) error { return unix.Unmount(target, flags) }
func (direct) pivotRoot(newRoot, putOld string) error { return unix.PivotRoot(newRoot, putOld) }
func (direct) chdir(path string) error                { return unix.Chdir(path) }
func (direct) mkdir(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
func (direct) remove(path string) error { return os.RemoveAll(path) }
func (direct) symlink(oldname, newname string) error {
	return os.Symlink(oldname, newname)
}
func (direct) readlink(path string) (string, error)         { return os.Readlink(path) }
func (direct) writeFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}
func (direct) readFile(path string) ([]byte, error)    { return os.ReadFile(path) }
func (direct) stat(path string) (os.FileInfo, error)    { return os.Stat(path) }
func (direct) sethostname(name string) error            { return unix.Sethostname([]byte(name)) }
func (direct) mknod(path string, mode uint32, dev int) error {
	return unix.Mknod(path, mode, dev)
}
func (direct) chmod(path string, mode os.FileMode) error { return os.Chmod(path, mode) }
