// Package layer builds the three tree kinds voidbox composes into a
// merged view: base images, shared dependency layers, and per-app layers.
package layer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nilltadios/voidbox/internal/fetch"
	"github.com/nilltadios/voidbox/internal/manifest"
	"github.com/nilltadios/voidbox/internal/store"
)

// BaseURL resolves the canonical mirror URL for a recognized base id. In
// production this would be backed by the closed base-image registry of
// spec.md §6.1; the map is small enough to inline here rather than add a
// second manifest format for something that changes by data update only.
var BaseURL = map[manifest.BaseID]string{
	{Distro: "ubuntu", Version: "24.04", Arch: "x86_64"}:  "https://cdimage.example.invalid/ubuntu-24.04-x86_64-rootfs.tar.gz",
	{Distro: "ubuntu", Version: "24.04", Arch: "aarch64"}: "https://cdimage.example.invalid/ubuntu-24.04-aarch64-rootfs.tar.gz",
	{Distro: "alpine", Version: "3.19", Arch: "x86_64"}:   "https://dl-cdn.example.invalid/alpine-3.19-x86_64-rootfs.tar.gz",
	{Distro: "alpine", Version: "3.19", Arch: "aarch64"}:  "https://dl-cdn.example.invalid/alpine-3.19-aarch64-rootfs.tar.gz",
}

// Builder produces base, dependency, and app layers on top of a [store.Store].
type Builder struct {
	Store   *store.Store
	Fetcher *fetch.Fetcher
	// InstallPackages invokes the base distro's package manager inside a
	// one-shot install-mode namespace to populate a dependency layer's
	// upperdir. It is supplied by the caller (internal/vbox) because it
	// requires the namespace engine, which this package does not import
	// to keep the layer/build-plan concern separate from namespace entry.
	InstallPackages func(ctx context.Context, base manifest.BaseID, upperdir string, packages []string) error
}

// EnsureBase guarantees store.bases[base_id] exists, fetching and
// extracting it if absent. Concurrent callers racing on the same base
// both succeed: the loser discards its staging copy and observes the
// winner's tree, per §4.3.
func (b *Builder) EnsureBase(ctx context.Context, id manifest.BaseID) (string, error) {
	dest := b.Store.BasePath(id)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	url, ok := BaseURL[id]
	if !ok {
		return "", fmt.Errorf("no mirror URL registered for base %s", id)
	}

	stagingArchive := filepath.Join(b.Fetcher.TempDir, "base-"+id.String()+".tar.gz")
	if err := b.Fetcher.Download(ctx, url, stagingArchive, 0); err != nil {
		return "", fmt.Errorf("download base %s: %w", id, err)
	}
	defer os.Remove(stagingArchive)

	staging, err := os.MkdirTemp(filepath.Dir(b.Store.BasesDir()), "base-staging-*")
	if err != nil {
		return "", err
	}
	if err := fetch.Extract(stagingArchive, staging, fetch.DetectKind(url)); err != nil {
		os.RemoveAll(staging)
		return "", fmt.Errorf("extract base %s: %w", id, err)
	}

	if _, err := store.PublishIfAbsent(staging, dest); err != nil {
		return "", fmt.Errorf("publish base %s: %w", id, err)
	}
	return dest, nil
}

// EnsureDependencyLayer guarantees store.deps[key] exists for the given
// base and package set, building it in a one-shot install if absent.
func (b *Builder) EnsureDependencyLayer(ctx context.Context, id manifest.BaseID, packages []string) (string, error) {
	dest := b.Store.DepsPath(id, packages)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}
	if len(packages) == 0 {
		// an app with no declared dependencies still gets a (trivially
		// empty) layer directory so downstream lowerdir composition does
		// not need a nil case.
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return "", err
		}
		return dest, nil
	}

	if _, err := b.EnsureBase(ctx, id); err != nil {
		return "", err
	}

	staging, err := os.MkdirTemp(filepath.Dir(b.Store.DepsDir()), "deps-staging-*")
	if err != nil {
		return "", err
	}
	if b.InstallPackages == nil {
		os.RemoveAll(staging)
		return "", fmt.Errorf("dependency layer for %s requires InstallPackages", id)
	}
	if err := b.InstallPackages(ctx, id, staging, packages); err != nil {
		os.RemoveAll(staging)
		return "", fmt.Errorf("install packages into dependency layer: %w", err)
	}

	if _, err := store.PublishIfAbsent(staging, dest); err != nil {
		return "", fmt.Errorf("publish dependency layer: %w", err)
	}
	return dest, nil
}

// AppLayerResult records what BuildAppLayer produced.
type AppLayerResult struct {
	LayerDir       string
	ResolvedBinary string
	Version        string
}

// BuildAppLayer downloads and extracts the app's archive into
// store.apps[name]/layer/<install_prefix>, returning the resolved absolute
// path of the app's entry point inside the future merged view.
func (b *Builder) BuildAppLayer(ctx context.Context, app *manifest.App, resolved *fetch.Resolved, installPrefix string) (*AppLayerResult, error) {
	layerDir := b.Store.AppLayer(app.Name)

	archive := filepath.Join(b.Fetcher.TempDir, app.Name+"-app-archive")
	if err := b.Fetcher.Download(ctx, resolved.URL, archive, 0); err != nil {
		return nil, fmt.Errorf("download app archive: %w", err)
	}
	defer os.Remove(archive)

	staging, err := os.MkdirTemp(filepath.Dir(layerDir), "app-staging-*")
	if err != nil {
		return nil, err
	}
	target := filepath.Join(staging, installPrefix)
	if err := fetch.Extract(archive, target, fetch.DetectKind(resolved.URL)); err != nil {
		os.RemoveAll(staging)
		return nil, fmt.Errorf("extract app archive: %w", err)
	}

	if err := os.RemoveAll(layerDir); err != nil {
		os.RemoveAll(staging)
		return nil, fmt.Errorf("clear stale app layer: %w", err)
	}
	if err := os.Rename(staging, layerDir); err != nil {
		os.RemoveAll(staging)
		return nil, fmt.Errorf("publish app layer: %w", err)
	}

	bin := filepath.Join(installPrefix, app.Binary.RelativePath)
	return &AppLayerResult{
		LayerDir:       layerDir,
		ResolvedBinary: bin,
		Version:        resolved.ResolvedVersion,
	}, nil
}

// DefaultInstallPrefix is the canonical install prefix used unless a
// manifest overrides it; spec.md §3 names /opt/<name> as the default.
func DefaultInstallPrefix(name string) string { return filepath.Join("/opt", name) }
