package overlay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nilltadios/voidbox/container"
)

func TestPlanOpOrdering(t *testing.T) {
	p := New(container.MustAbs("/merged")).
		AddLower(container.MustAbs("/bases/ubuntu-24.04-x86_64")).
		AddLower(container.MustAbs("/deps/key")).
		WithUpper(container.MustAbs("/apps/demo/layer"), container.MustAbs("/apps/demo/work"))

	op := p.Op()
	if len(op.Lower) != 2 {
		t.Fatalf("Lower = %v, want 2 entries", op.Lower)
	}
	if op.Lower[0].String() != "/bases/ubuntu-24.04-x86_64" {
		t.Fatalf("base should be first lowerdir, got %s", op.Lower[0])
	}
	if !op.Valid() {
		t.Fatal("fully populated plan should be valid")
	}
}

func TestEnsureMountpointEmptyRejectsNonEmpty(t *testing.T) {
	dir := t.TempDir()
	mp := filepath.Join(dir, "merged")
	if err := EnsureMountpointEmpty(mp); err != nil {
		t.Fatalf("first call on fresh dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(mp, "stray"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := EnsureMountpointEmpty(mp); err == nil {
		t.Fatal("expected error for non-empty mountpoint")
	}
}

func TestCapabilityErr(t *testing.T) {
	c := Capability{UnprivilegedUsernsDisabled: true}
	if c.Err() == nil {
		t.Fatal("expected error when unprivileged userns is disabled")
	}

	c2 := Capability{OverlaySupported: false}
	if c2.Err() == nil {
		t.Fatal("expected error when overlay is unsupported")
	}

	c3 := Capability{OverlaySupported: true}
	if c3.Err() != nil {
		t.Fatalf("fully-supported kernel should report no error, got %v", c3.Err())
	}
}
