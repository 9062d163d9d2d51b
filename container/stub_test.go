package container

import (
	"os"
	"sync"
)

// call records a single dispatcher invocation for assertion in tests.
type call struct {
	name string
	args []any
}

// stub is a recording [syscallDispatcher] fake. Every method except
// readFile appends a [call]; each method returns the error registered for
// its name with [stub.fail], if any, on every call, allowing tests to
// exercise failure branches without touching the kernel.
type stub struct {
	mu    sync.Mutex
	calls []call
	errs  map[string]error

	files map[string][]byte
}

func newStub() *stub {
	return &stub{errs: make(map[string]error), files: make(map[string][]byte)}
}

func (s *stub) fail(name string, err error) { s.errs[name] = err }

func (s *stub) record(name string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{name, args})
	return s.errs[name]
}

func (s *stub) mount(source, target, fstype string, flags uintptr, data string) error {
	return s.record("mount", source, target, fstype, flags, data)
}
func (s *stub) unmount(target string, flags int) error { return s.record("unmount", target, flags) }
func (s *stub) pivotRoot(newRoot, putOld string) error {
	return s.record("pivotRoot", newRoot, putOld)
}
func (s *stub) chdir(path string) error   { return s.record("chdir", path) }
func (s *stub) mkdir(path string, perm os.FileMode) error {
	return s.record("mkdir", path, perm)
}
func (s *stub) remove(path string) error { return s.record("remove", path) }
func (s *stub) symlink(oldname, newname string) error {
	return s.record("symlink", oldname, newname)
}
func (s *stub) readlink(path string) (string, error) {
	return "", s.record("readlink", path)
}
func (s *stub) writeFile(path string, data []byte, perm os.FileMode) error {
	s.mu.Lock()
	s.files[path] = data
	s.mu.Unlock()
	return s.record("writeFile", path, string(data), perm)
}
func (s *stub) readFile(path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["readFile"]; err != nil {
		return nil, err
	}
	return s.files[path], nil
}
func (s *stub) stat(path string) (os.FileInfo, error) { return nil, s.record("stat", path) }
func (s *stub) sethostname(name string) error          { return s.record("sethostname", name) }
func (s *stub) mknod(path string, mode uint32, dev int) error {
	return s.record("mknod", path, mode, dev)
}
func (s *stub) chmod(path string, mode os.FileMode) error { return s.record("chmod", path, mode) }
