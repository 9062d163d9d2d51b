package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nilltadios/voidbox/internal/manifest"
)

func TestDependencyKeyStable(t *testing.T) {
	base := manifest.BaseID{Distro: "ubuntu", Version: "24.04", Arch: "x86_64"}
	a := DependencyKey(base, []string{"libfoo", "libbar"})
	b := DependencyKey(base, []string{"libbar", "libfoo"})
	if a != b {
		t.Fatalf("DependencyKey should be order-independent: %q != %q", a, b)
	}
}

func TestDependencyKeyDiffersByBase(t *testing.T) {
	pkgs := []string{"libfoo"}
	a := DependencyKey(manifest.BaseID{Distro: "ubuntu", Version: "24.04", Arch: "x86_64"}, pkgs)
	b := DependencyKey(manifest.BaseID{Distro: "alpine", Version: "3.19", Arch: "x86_64"}, pkgs)
	if a == b {
		t.Fatal("DependencyKey should differ across bases")
	}
}

func TestSaveLoadIndexRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	idx := &Index{Apps: map[string]InstalledRecord{
		"demo": {Name: "demo", InstalledVersion: "1.0"},
	}}
	if err := s.SaveIndex(idx); err != nil {
		t.Fatalf("SaveIndex: %v", err)
	}

	got, err := s.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if got.Apps["demo"].InstalledVersion != "1.0" {
		t.Fatalf("round trip mismatch: %+v", got.Apps["demo"])
	}
}

func TestLoadIndexMissingIsEmpty(t *testing.T) {
	s := New(t.TempDir())
	idx, err := s.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if len(idx.Apps) != 0 {
		t.Fatalf("expected empty index, got %+v", idx)
	}
}

func TestPublishIfAbsentWinnerAndLoser(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "bases", "ubuntu-24.04-x86_64")

	stagedA := filepath.Join(dir, "stage-a")
	stagedB := filepath.Join(dir, "stage-b")
	os.MkdirAll(stagedA, 0o755)
	os.MkdirAll(stagedB, 0o755)
	os.WriteFile(filepath.Join(stagedA, "marker"), []byte("a"), 0o644)

	builtA, err := PublishIfAbsent(stagedA, dest)
	if err != nil || !builtA {
		t.Fatalf("first publish: built=%v err=%v", builtA, err)
	}

	builtB, err := PublishIfAbsent(stagedB, dest)
	if err != nil || builtB {
		t.Fatalf("second publish should lose the race: built=%v err=%v", builtB, err)
	}
	if _, err := os.Stat(stagedB); !os.IsNotExist(err) {
		t.Fatal("loser's staged copy should be removed")
	}
	if _, err := os.Stat(filepath.Join(dest, "marker")); err != nil {
		t.Fatal("winner's tree should remain at dest")
	}
}

func TestGCRemovesUnreferenced(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	os.MkdirAll(filepath.Join(s.BasesDir(), "kept"), 0o755)
	os.MkdirAll(filepath.Join(s.BasesDir(), "orphan"), 0o755)

	idx := &Index{Apps: map[string]InstalledRecord{
		"demo": {BaseID: "kept"},
	}}
	if err := s.GC(idx); err != nil {
		t.Fatalf("GC: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.BasesDir(), "kept")); err != nil {
		t.Fatal("referenced base should survive GC")
	}
	if _, err := os.Stat(filepath.Join(s.BasesDir(), "orphan")); !os.IsNotExist(err) {
		t.Fatal("unreferenced base should be removed by GC")
	}
}
