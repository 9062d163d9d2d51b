package container

import (
	"os/exec"
	"testing"
)

func TestExitStatusNormalExit(t *testing.T) {
	cmd := exec.Command("false")
	_ = cmd.Run()
	if cmd.ProcessState == nil {
		t.Skip("ProcessState unavailable in this environment")
	}
	code := ExitStatus(cmd.ProcessState, nil)
	if code != 1 {
		t.Fatalf("ExitStatus(false) = %d, want 1", code)
	}
}

func TestExitStatusNilState(t *testing.T) {
	if ExitStatus(nil, nil) != 1 {
		t.Fatal("ExitStatus(nil, nil) should be a non-zero failure code")
	}
}
