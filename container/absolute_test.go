package container

import "testing"

func TestNewAbs(t *testing.T) {
	if _, err := NewAbs("relative/path"); err == nil {
		t.Fatal("expected error for relative path")
	}
	a, err := NewAbs("/opt/demo")
	if err != nil {
		t.Fatalf("NewAbs: %v", err)
	}
	if a.String() != "/opt/demo" {
		t.Fatalf("String() = %q", a.String())
	}
}

func TestAbsoluteAppend(t *testing.T) {
	a := MustAbs("/opt/demo")
	if got := a.Append("bin", "demo").String(); got != "/opt/demo/bin/demo" {
		t.Fatalf("Append = %q", got)
	}
}

func TestMustAbsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-absolute path")
		}
	}()
	MustAbs("relative")
}

func TestSortAbs(t *testing.T) {
	x := []*Absolute{MustAbs("/c"), MustAbs("/a"), MustAbs("/b")}
	SortAbs(x)
	want := []string{"/a", "/b", "/c"}
	for i, a := range x {
		if a.String() != want[i] {
			t.Fatalf("x[%d] = %s, want %s", i, a, want[i])
		}
	}
}
