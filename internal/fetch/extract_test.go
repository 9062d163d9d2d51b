package fetch

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func TestDetectKind(t *testing.T) {
	cases := map[string]ArchiveKind{
		"demo.zip":     ArchiveZip,
		"demo.tar.gz":  ArchiveTarGz,
		"demo.tgz":     ArchiveTarGz,
		"demo.tar.xz":  ArchiveTarXz,
		"demo.tar.zst": ArchiveTarZstd,
		"demo.bin":     ArchiveRaw,
	}
	for name, want := range cases {
		if got := DetectKind(name); got != want {
			t.Errorf("DetectKind(%q) = %q, want %q", name, got, want)
		}
	}
}

func buildTarGz(t *testing.T, entries map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tar.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		hdr := &tar.Header{Name: name, Size: int64(len(content)), Mode: 0o755}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	tw.Close()
	gz.Close()
	return path
}

func TestExtractTarGzWritesFiles(t *testing.T) {
	archive := buildTarGz(t, map[string]string{"opt/demo/demo": "hello\n"})
	dest := t.TempDir()
	if err := Extract(archive, dest, ArchiveTarGz); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dest, "opt/demo/demo"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if !bytes.Equal(b, []byte("hello\n")) {
		t.Fatalf("content = %q", b)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	archive := buildTarGz(t, map[string]string{"../../etc/passwd": "root:x:0:0\n"})
	dest := t.TempDir()
	if err := Extract(archive, dest, ArchiveTarGz); err == nil {
		t.Fatal("expected traversal error")
	}
	entries, _ := os.ReadDir(dest)
	if len(entries) != 0 {
		t.Fatal("nothing should be written when an entry escapes destination")
	}
}

func TestExtractRejectsAbsolutePath(t *testing.T) {
	archive := buildTarGz(t, map[string]string{"/etc/passwd": "root:x:0:0\n"})
	if err := Extract(archive, t.TempDir(), ArchiveTarGz); err == nil {
		t.Fatal("expected error for absolute entry path")
	}
}

func TestSafeJoinRejectsTraversal(t *testing.T) {
	if _, err := safeJoin("/dest", "../escape"); err == nil {
		t.Fatal("expected traversal error")
	}
	if _, err := safeJoin("/dest", "sub/../../escape"); err == nil {
		t.Fatal("expected traversal error")
	}
	if _, err := safeJoin("/dest", "sub/file"); err != nil {
		t.Fatalf("safeJoin: unexpected error %v", err)
	}
}
