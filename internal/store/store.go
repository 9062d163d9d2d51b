// Package store maps logical names (app, base, dependency-set) to on-disk
// locations under the user data root and maintains the installed-apps
// index, the only piece of process-wide state voidbox coordinates through.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/nilltadios/voidbox/internal/manifest"
)

// Store resolves every on-disk path under a single data root, per §6.3 of
// the store layout.
type Store struct {
	Root string
}

func New(root string) *Store { return &Store{Root: root} }

func (s *Store) BasesDir() string     { return filepath.Join(s.Root, "bases") }
func (s *Store) DepsDir() string      { return filepath.Join(s.Root, "deps") }
func (s *Store) AppsDir() string      { return filepath.Join(s.Root, "apps") }
func (s *Store) ManifestsDir() string { return filepath.Join(s.Root, "manifests") }
func (s *Store) SettingsDir() string  { return filepath.Join(s.Root, "settings") }
func (s *Store) IndexPath() string    { return filepath.Join(s.Root, "installed.json") }

func (s *Store) BasePath(id manifest.BaseID) string {
	return filepath.Join(s.BasesDir(), fmt.Sprintf("%s-%s-%s", id.Distro, id.Version, id.Arch))
}

// DependencyKey hashes (base_id, sorted(packages)) per spec.md §9's pinned
// algorithm: sha256(base_id || "\n" || "\n".join(sorted(packages))).
func DependencyKey(base manifest.BaseID, packages []string) string {
	sorted := append([]string(nil), packages...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(base.String()))
	h.Write([]byte("\n"))
	for i, p := range sorted {
		if i > 0 {
			h.Write([]byte("\n"))
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DepsDirName returns the on-disk directory basename for a dependency
// layer, used both to build its path and as the value recorded in
// [InstalledRecord.DependencyKey] so GC can match by basename directly.
func DepsDirName(base manifest.BaseID, packages []string) string {
	return fmt.Sprintf("%s-%s", base, DependencyKey(base, packages))
}

func (s *Store) DepsPath(base manifest.BaseID, packages []string) string {
	return filepath.Join(s.DepsDir(), DepsDirName(base, packages))
}

func (s *Store) AppDir(name string) string    { return filepath.Join(s.AppsDir(), name) }
func (s *Store) AppLayer(name string) string  { return filepath.Join(s.AppDir(name), "layer") }
func (s *Store) AppWork(name string) string   { return filepath.Join(s.AppDir(name), "work") }
func (s *Store) AppRootfs(name string) string { return filepath.Join(s.AppDir(name), "rootfs") }
func (s *Store) AppBaseJSON(name string) string { return filepath.Join(s.AppDir(name), "base.json") }
func (s *Store) AppMetaJSON(name string) string { return filepath.Join(s.AppDir(name), "meta.json") }
func (s *Store) ManifestPath(name string) string {
	return filepath.Join(s.ManifestsDir(), name+".toml")
}
func (s *Store) SettingsPath(name string) string {
	return filepath.Join(s.SettingsDir(), name+".toml")
}

// InstalledRecord is one entry of the installed-apps index.
type InstalledRecord struct {
	Name             string    `json:"name"`
	ManifestPath     string    `json:"manifest_path"`
	InstalledVersion string    `json:"installed_version"`
	BaseID           string    `json:"base_id"`
	DependencyKey    string    `json:"dependency_key"`
	InstalledAt      time.Time `json:"installed_at"`
}

// Index is the in-memory form of installed.json.
type Index struct {
	Apps map[string]InstalledRecord `json:"apps"`
}

// LoadIndex reads installed.json, returning an empty [Index] if it does
// not yet exist (a fresh store).
func (s *Store) LoadIndex() (*Index, error) {
	b, err := os.ReadFile(s.IndexPath())
	if os.IsNotExist(err) {
		return &Index{Apps: map[string]InstalledRecord{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return nil, fmt.Errorf("decode installed.json: %w", err)
	}
	if idx.Apps == nil {
		idx.Apps = map[string]InstalledRecord{}
	}
	return &idx, nil
}

// SaveIndex rewrites installed.json atomically: write to a temp file on
// the same filesystem, then rename over the destination.
func (s *Store) SaveIndex(idx *Index) error {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.Root, ".installed-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.IndexPath())
}

// AppLock returns an advisory file lock guarding installs/updates of a
// single app, preventing two installs of the same app from racing.
// Concurrent installs of distinct apps never contend on this lock even if
// they share a base or dependency layer.
func (s *Store) AppLock(name string) *flock.Flock {
	return flock.New(filepath.Join(s.AppsDir(), "."+name+".lock"))
}

// PublishIfAbsent implements the "stage into a unique temp dir, then
// rename-if-absent" publish protocol shared artifacts use: if dest does
// not exist, staged is renamed into place and true is returned (this
// caller built it); if dest already exists, staged is discarded and false
// is returned (this caller lost the race and should use the winner's
// tree).
func PublishIfAbsent(staged, dest string) (built bool, err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, err
	}
	if err := os.Rename(staged, dest); err != nil {
		if os.IsExist(err) {
			_ = os.RemoveAll(staged)
			return false, nil
		}
		// rename onto an existing directory fails with ENOTEMPTY/EEXIST
		// depending on platform; treat any failure where dest now exists
		// as a lost race rather than a hard error.
		if _, statErr := os.Stat(dest); statErr == nil {
			_ = os.RemoveAll(staged)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GC walks installed.json and removes any deps/* or bases/* directory that
// no remaining app references, implementing the "reference-counted by
// presence in the index" ownership rule for shared layers.
func (s *Store) GC(idx *Index) error {
	referencedBase := map[string]bool{}
	referencedDeps := map[string]bool{}
	for _, rec := range idx.Apps {
		referencedBase[rec.BaseID] = true
		referencedDeps[rec.DependencyKey] = true
	}

	if err := gcDir(s.BasesDir(), referencedBase); err != nil {
		return err
	}
	if err := gcDir(s.DepsDir(), referencedDeps); err != nil {
		return err
	}
	return nil
}

func gcDir(dir string, referenced map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if referenced[e.Name()] {
			continue
		}
		// base directory names match their base id exactly, and dependency
		// directory names match InstalledRecord.DependencyKey exactly, so a
		// plain membership check against either referenced set is enough.
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
