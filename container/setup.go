package container

import (
	"encoding/gob"
	"errors"
	"os"
	"strconv"
)

// ErrSetupNotSet is returned by [receiveParams] when the setup fd
// environment variable is absent, meaning the process was not launched by
// [Container.Start].
var ErrSetupNotSet = errors.New("setup pipe environment variable not set")

// setupPipe opens a pipe, appends its read end to extraFiles (so it
// survives into the child via os/exec.Cmd.ExtraFiles), and returns the fd
// number the child will see it at along with an encoder for the write end.
func setupPipe(extraFiles *[]*os.File) (int, *gob.Encoder, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return -1, nil, err
	}
	fd := 3 + len(*extraFiles)
	*extraFiles = append(*extraFiles, r)
	return fd, gob.NewEncoder(w), nil
}

// receiveParams retrieves the setup fd named by key from the environment
// and decodes a [Params] from it. Called by [Init] inside the freshly
// unshared child.
func receiveParams(key string) (*Params, func() error, error) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil, ErrSetupNotSet
	}
	fd, err := strconv.Atoi(s)
	if err != nil {
		return nil, nil, err
	}
	setup := os.NewFile(uintptr(fd), "setup")
	if setup == nil {
		return nil, nil, errors.New("invalid setup fd")
	}
	var p Params
	if err := gob.NewDecoder(setup).Decode(&p); err != nil {
		_ = setup.Close()
		return nil, nil, err
	}
	return &p, setup.Close, nil
}
