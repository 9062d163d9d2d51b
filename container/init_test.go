package container

import "testing"

func TestWriteIDMaps(t *testing.T) {
	s := newStub()
	if err := writeIDMaps(s, 1000, 1000); err != nil {
		t.Fatalf("writeIDMaps: %v", err)
	}

	var sawUID, sawGID, sawSetgroups bool
	for _, c := range s.calls {
		if c.name != "writeFile" {
			continue
		}
		switch c.args[0].(string) {
		case "/proc/self/uid_map":
			sawUID = true
			if c.args[1].(string) != "0 1000 1\n" {
				t.Errorf("uid_map = %q", c.args[1])
			}
		case "/proc/self/gid_map":
			sawGID = true
		case "/proc/self/setgroups":
			sawSetgroups = true
			if c.args[1].(string) != "deny" {
				t.Errorf("setgroups = %q", c.args[1])
			}
		}
	}
	if !sawUID || !sawGID || !sawSetgroups {
		t.Fatalf("missing expected writes: uid=%v gid=%v setgroups=%v", sawUID, sawGID, sawSetgroups)
	}

	// setgroups must be written before gid_map, matching the kernel's
	// requirement that gid_map writes from an unprivileged process are
	// only permitted once setgroups is denied.
	var setgroupsIdx, gidIdx int = -1, -1
	for i, c := range s.calls {
		if c.name == "writeFile" {
			switch c.args[0].(string) {
			case "/proc/self/setgroups":
				setgroupsIdx = i
			case "/proc/self/gid_map":
				gidIdx = i
			}
		}
	}
	if setgroupsIdx == -1 || gidIdx == -1 || setgroupsIdx > gidIdx {
		t.Fatalf("setgroups must be written before gid_map: setgroups=%d gid_map=%d", setgroupsIdx, gidIdx)
	}
}

func TestWriteIDMapsPropagatesSetgroupsFailure(t *testing.T) {
	s := newStub()
	s.fail("writeFile", errPermission)
	if err := writeIDMaps(s, 1000, 1000); err == nil {
		t.Fatal("expected error when /proc/self/setgroups write fails")
	}
}

func TestMountEssentialSucceedsWithoutErrors(t *testing.T) {
	s := newStub()
	if err := mountEssential(s); err != nil {
		t.Fatalf("mountEssential: %v", err)
	}
}
