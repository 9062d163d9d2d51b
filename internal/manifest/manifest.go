// Package manifest parses and validates the declarative application
// description voidbox installs from.
package manifest

import (
	"fmt"
	"regexp"
	"sort"

	toml "github.com/pelletier/go-toml"
)

var nameShape = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// BaseID identifies a recognized base image by distro, version, and arch.
type BaseID struct {
	Distro, Version, Arch string
}

func (b BaseID) String() string { return fmt.Sprintf("%s-%s-%s", b.Distro, b.Version, b.Arch) }

// recognizedBases mirrors the closed set of installable bases; adding an
// entry is a data-only change.
var recognizedBases = map[BaseID]struct{}{
	{"ubuntu", "24.04", "x86_64"}:  {},
	{"ubuntu", "24.04", "aarch64"}: {},
	{"alpine", "3.19", "x86_64"}:   {},
	{"alpine", "3.19", "aarch64"}:  {},
}

// IsRecognizedBase reports whether id is one of the bases voidbox knows how
// to bootstrap.
func IsRecognizedBase(id BaseID) bool { _, ok := recognizedBases[id]; return ok }

// SourceKind tags the variant carried by [Source].
type SourceKind string

const (
	SourceDirect       SourceKind = "direct"
	SourceReleaseIndex SourceKind = "release-index"
)

// Source is the tagged variant describing where an app's archive comes
// from. [Source.Validate] checks that the fields Type requires are set;
// fields belonging to the other variant are not rejected.
type Source struct {
	Type SourceKind `toml:"type"`

	// direct
	URL        string `toml:"url"`
	VersionURL string `toml:"version_url"`

	// release-index
	IndexURL       string `toml:"index_url"`
	AssetOS        string `toml:"asset_os"`
	AssetArch      string `toml:"asset_arch"`
	AssetExtension string `toml:"asset_extension"`
	AssetPattern   string `toml:"asset_pattern"`
	VersionRegex   string `toml:"version_regex"`
}

func (s Source) Validate() error {
	switch s.Type {
	case SourceDirect:
		if s.URL == "" {
			return fmt.Errorf("source: direct requires url")
		}
	case SourceReleaseIndex:
		if s.IndexURL == "" || s.AssetOS == "" || s.AssetArch == "" {
			return fmt.Errorf("source: release-index requires index_url, asset_os, asset_arch")
		}
	default:
		return fmt.Errorf("source: unknown type %q", s.Type)
	}
	return nil
}

// Permissions is the declared permission set: a fixed, closed vocabulary of
// capability tags mapped to whether the app receives them.
type Permissions struct {
	Network     bool `toml:"network"`
	Audio       bool `toml:"audio"`
	Microphone  bool `toml:"microphone"`
	GPU         bool `toml:"gpu"`
	Camera      bool `toml:"camera"`
	Home        bool `toml:"home"`
	Downloads   bool `toml:"downloads"`
	Fonts       bool `toml:"fonts"`
	Themes      bool `toml:"themes"`
	Icons       bool `toml:"icons"`
	NativeMode  bool `toml:"native_mode"`
	DevMode     bool `toml:"dev_mode"`
	SystemDBus  bool `toml:"system_dbus"`
	HostBridge  bool `toml:"host_bridge"`
}

// knownTags enumerates the recognized permission keys, used only for
// surfacing a clear error when the raw TOML table contains a tag this
// struct does not declare a field for (e.g. a typo).
var knownTags = []string{
	"network", "audio", "microphone", "gpu", "camera", "home", "downloads",
	"fonts", "themes", "icons", "native_mode", "dev_mode", "system_dbus",
	"host_bridge",
}

// Runtime describes the base image and is the `[runtime]` table.
type Runtime struct {
	Distro  string `toml:"distro"`
	Version string `toml:"version"`
	Arch    string `toml:"arch"`
}

func (r Runtime) BaseID() BaseID { return BaseID{r.Distro, r.Version, r.Arch} }

// Binary is the `[binary]` table: the app's entry point inside the merged
// view, relative to the install prefix.
type Binary struct {
	RelativePath string   `toml:"relative_path"`
	ArgvPrefix   []string `toml:"argv_prefix"`
	WorkingDir   string   `toml:"working_dir"`
	PassEnv      []string `toml:"pass_env"`
}

// App is the immutable in-memory record produced by [Parse].
type App struct {
	Name        string   `toml:"-"`
	DisplayName string   `toml:"-"`
	Source      Source   `toml:"-"`
	Runtime     Runtime  `toml:"-"`
	Packages    []string `toml:"-"`
	Binary      Binary   `toml:"-"`
	Permissions Permissions `toml:"-"`
}

// SortedPackages returns a copy of App.Packages in sorted order, the form
// the dependency-layer hash is computed over.
func (a *App) SortedPackages() []string {
	out := append([]string(nil), a.Packages...)
	sort.Strings(out)
	return out
}

// document is the raw shape decoded from TOML before field promotion into
// [App]; it exists because [App]'s fields are organized for consumers, not
// for the manifest's table layout.
type document struct {
	App struct {
		Name        string `toml:"name"`
		DisplayName string `toml:"display_name"`
	} `toml:"app"`
	Source      Source            `toml:"source"`
	Runtime     Runtime           `toml:"runtime"`
	Dependencies struct {
		Packages []string `toml:"packages"`
	} `toml:"dependencies"`
	Binary      Binary            `toml:"binary"`
	Permissions map[string]bool   `toml:"permissions"`
	Desktop     map[string]string `toml:"desktop"` // ignored by the core
}

// ValidationError lists every offending field found while validating a
// manifest; rejection is total, never partial.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	s := "invalid manifest:"
	for _, f := range e.Fields {
		s += "\n  - " + f
	}
	return s
}

// Parse decodes raw TOML bytes into a validated [App], or returns a
// [*ValidationError] listing every offending field.
func Parse(data []byte) (*App, error) {
	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Fields: []string{"toml: " + err.Error()}}
	}

	app := &App{
		Name:        doc.App.Name,
		DisplayName: doc.App.DisplayName,
		Source:      doc.Source,
		Runtime:     doc.Runtime,
		Packages:    doc.Dependencies.Packages,
		Binary:      doc.Binary,
	}

	var fields []string

	if !nameShape.MatchString(app.Name) {
		fields = append(fields, fmt.Sprintf("app.name %q does not match [a-z0-9][a-z0-9-]{0,63}", app.Name))
	}
	if !IsRecognizedBase(app.Runtime.BaseID()) {
		fields = append(fields, fmt.Sprintf("runtime: unrecognized base %s", app.Runtime.BaseID()))
	}
	if err := app.Source.Validate(); err != nil {
		fields = append(fields, err.Error())
	}
	if app.Binary.RelativePath == "" {
		fields = append(fields, "binary.relative_path: must be non-empty")
	} else if app.Binary.RelativePath[0] == '/' {
		fields = append(fields, "binary.relative_path: must not be absolute")
	}

	perms, permFields := parsePermissions(doc.Permissions)
	fields = append(fields, permFields...)
	app.Permissions = perms

	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	return app, nil
}

// overrideDocument is the shape of a per-app settings file: a bare
// `[permissions]` table layered over the manifest's own permission set,
// letting a user grant or revoke a tag without re-installing the app.
type overrideDocument struct {
	Permissions map[string]bool `toml:"permissions"`
}

// ParseOverrides decodes a per-app settings file into the raw tag map
// [ApplyOverrides] consumes. An empty or absent file is the caller's
// responsibility to special-case; ParseOverrides only parses bytes it is
// actually given.
func ParseOverrides(data []byte) (map[string]bool, error) {
	var doc overrideDocument
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	for key := range doc.Permissions {
		if _, ok := knownTagSet[key]; !ok {
			return nil, fmt.Errorf("settings: unknown permission tag %q", key)
		}
	}
	return doc.Permissions, nil
}

// ApplyOverrides returns a copy of base with every tag present in raw set
// to the override's value; tags raw does not mention keep the manifest's
// declared value.
func ApplyOverrides(base Permissions, raw map[string]bool) Permissions {
	out := base
	dst := map[string]*bool{
		"network": &out.Network, "audio": &out.Audio, "microphone": &out.Microphone,
		"gpu": &out.GPU, "camera": &out.Camera, "home": &out.Home,
		"downloads": &out.Downloads, "fonts": &out.Fonts, "themes": &out.Themes,
		"icons": &out.Icons, "native_mode": &out.NativeMode, "dev_mode": &out.DevMode,
		"system_dbus": &out.SystemDBus, "host_bridge": &out.HostBridge,
	}
	for key, val := range raw {
		if p, ok := dst[key]; ok {
			*p = val
		}
	}
	return out
}

var knownTagSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(knownTags))
	for _, t := range knownTags {
		m[t] = struct{}{}
	}
	return m
}()

func parsePermissions(raw map[string]bool) (Permissions, []string) {
	p := Permissions{Network: true} // default true per spec.md §3
	var fields []string

	set := func(dst *bool, key string) {
		if v, ok := raw[key]; ok {
			*dst = v
		}
	}

	known := map[string]*bool{
		"network": &p.Network, "audio": &p.Audio, "microphone": &p.Microphone,
		"gpu": &p.GPU, "camera": &p.Camera, "home": &p.Home,
		"downloads": &p.Downloads, "fonts": &p.Fonts, "themes": &p.Themes,
		"icons": &p.Icons, "native_mode": &p.NativeMode, "dev_mode": &p.DevMode,
		"system_dbus": &p.SystemDBus, "host_bridge": &p.HostBridge,
	}
	for key, dst := range known {
		set(dst, key)
	}
	for key := range raw {
		if _, ok := known[key]; !ok {
			fields = append(fields, fmt.Sprintf("permissions: unknown tag %q", key))
		}
	}
	return p, fields
}
