package vbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewCreatesStoreLayout(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, sub := range []string{"bases", "deps", "apps", "manifests", "settings"} {
		if _, err := os.Stat(filepath.Join(dir, sub)); err != nil {
			t.Errorf("expected %s to exist: %v", sub, err)
		}
	}
	if e.Store.Root != dir {
		t.Fatalf("Store.Root = %q, want %q", e.Store.Root, dir)
	}
}

func TestRemoveUnknownApp(t *testing.T) {
	e, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Remove("nonexistent", true); err == nil {
		t.Fatal("expected error removing an app that was never installed")
	}
}

func TestSaveLoadRemoveOverrides(t *testing.T) {
	e, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SaveOverrides("demo", map[string]bool{"gpu": false, "audio": true}); err != nil {
		t.Fatalf("SaveOverrides: %v", err)
	}
	raw, err := e.loadOverrides("demo")
	if err != nil {
		t.Fatalf("loadOverrides: %v", err)
	}
	if raw["gpu"] || !raw["audio"] {
		t.Fatalf("loadOverrides = %v, want gpu=false audio=true", raw)
	}
	if err := e.RemoveOverrides("demo"); err != nil {
		t.Fatalf("RemoveOverrides: %v", err)
	}
	raw, err = e.loadOverrides("demo")
	if err != nil {
		t.Fatalf("loadOverrides after remove: %v", err)
	}
	if raw != nil {
		t.Fatalf("expected nil overrides after remove, got %v", raw)
	}
}

func TestRemoveOverridesOnNonexistentIsNoop(t *testing.T) {
	e, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.RemoveOverrides("never-installed"); err != nil {
		t.Fatalf("RemoveOverrides on missing file should be a no-op: %v", err)
	}
}

func TestListEmptyStore(t *testing.T) {
	e, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	recs, err := e.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no installed records, got %v", recs)
	}
}
