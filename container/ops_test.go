package container

import "testing"

func TestOpsApplyOrderAndMounted(t *testing.T) {
	s := newStub()
	ops := new(Ops)
	ops.Mkdir(MustAbs("/run/voidbox"), 0o755)
	ops.Bind(MustAbs("/home/user"), MustAbs("/home/user"), true)
	ops.Tmpfs(MustAbs("/run"), "", 0)

	if err := ops.Apply(s, MustAbs("/merged")); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(s.calls) == 0 {
		t.Fatal("expected dispatcher calls to be recorded")
	}
	if s.calls[0].name != "mkdir" {
		t.Fatalf("first call = %s, want mkdir", s.calls[0].name)
	}

	if len(ops.Mounted) != 2 {
		t.Fatalf("Mounted = %v, want 2 entries (bind + tmpfs)", ops.Mounted)
	}
}

func TestOpsApplyStopsOnFirstError(t *testing.T) {
	s := newStub()
	s.fail("mount", &MountError{Target: "/home/user", Err: errPermission})
	ops := new(Ops)
	ops.Bind(MustAbs("/home/user"), MustAbs("/home/user"), true)
	ops.Tmpfs(MustAbs("/run"), "", 0)

	if err := ops.Apply(s, MustAbs("/merged")); err == nil {
		t.Fatal("expected error from failing bind mount")
	}
	if len(ops.Mounted) != 0 {
		t.Fatalf("Mounted = %v, want none after failed first op", ops.Mounted)
	}
}

func TestOpsUnwindReverseOrder(t *testing.T) {
	s := newStub()
	ops := new(Ops)
	ops.Mounted = []*Absolute{MustAbs("/a"), MustAbs("/b"), MustAbs("/c")}
	_ = ops.Unwind(s)

	want := []string{"/c", "/b", "/a"}
	if len(s.calls) != 3 {
		t.Fatalf("got %d unmount calls, want 3", len(s.calls))
	}
	for i, c := range s.calls {
		if c.name != "unmount" || c.args[0].(string) != want[i] {
			t.Fatalf("call %d = %v, want unmount %s", i, c, want[i])
		}
	}
	if ops.Mounted != nil {
		t.Fatal("Unwind should clear Mounted")
	}
}

func TestBindMountOpInvalid(t *testing.T) {
	op := &BindMountOp{}
	if op.Valid() {
		t.Fatal("zero-value BindMountOp should be invalid")
	}
}

func TestOverlayMountOpValidation(t *testing.T) {
	cases := []struct {
		name string
		op   *OverlayMountOp
		want bool
	}{
		{"no lowerdirs", &OverlayMountOp{Target: MustAbs("/m")}, false},
		{"readonly overlay", &OverlayMountOp{Target: MustAbs("/m"), Lower: []*Absolute{MustAbs("/a")}}, true},
		{"mismatched upper/work", &OverlayMountOp{
			Target: MustAbs("/m"), Lower: []*Absolute{MustAbs("/a")}, Upper: MustAbs("/u"),
		}, false},
		{"full overlay", &OverlayMountOp{
			Target: MustAbs("/m"), Lower: []*Absolute{MustAbs("/a"), MustAbs("/b")},
			Upper: MustAbs("/u"), Work: MustAbs("/w"),
		}, true},
	}
	for _, c := range cases {
		if got := c.op.Valid(); got != c.want {
			t.Errorf("%s: Valid() = %v, want %v", c.name, got, c.want)
		}
	}
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

var errPermission = staticErr("permission denied")
