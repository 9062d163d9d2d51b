package vbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml"

	"github.com/nilltadios/voidbox/internal/fetch"
	"github.com/nilltadios/voidbox/internal/launch"
	"github.com/nilltadios/voidbox/internal/layer"
	"github.com/nilltadios/voidbox/internal/manifest"
	"github.com/nilltadios/voidbox/internal/mountplan"
	"github.com/nilltadios/voidbox/internal/store"
)

// Engine wires together every package the core operations consume: the
// store, the fetcher/layer builder, and the process identity used to
// compose mount plans and environments.
type Engine struct {
	Store   *store.Store
	Builder *layer.Builder
	Fetcher *fetch.Fetcher
	Msg     *Msg

	SelfExec string // absolute path of the running voidbox binary
}

// New assembles an [Engine] rooted at dataRoot.
func New(dataRoot string) (*Engine, error) {
	s := store.New(dataRoot)
	for _, dir := range []string{s.BasesDir(), s.DepsDir(), s.AppsDir(), s.ManifestsDir(), s.SettingsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	tmp := filepath.Join(dataRoot, ".tmp")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, err
	}
	f := fetch.New(tmp)
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		Store:    s,
		Fetcher:  f,
		Msg:      NewMsg(nil),
		SelfExec: self,
	}
	e.Builder = &layer.Builder{Store: s, Fetcher: f, InstallPackages: e.installPackagesNS}
	return e, nil
}

// Install implements §6.4's install(manifest_source).
func (e *Engine) Install(ctx context.Context, manifestPath string) (*store.InstalledRecord, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &InstallError{newOpError(KindFilesystem, "cannot read manifest", err, map[string]string{"path": manifestPath})}
	}
	app, err := manifest.Parse(data)
	if err != nil {
		return nil, &InstallError{newOpError(KindConfiguration, "manifest invalid", err, nil)}
	}

	lock := e.Store.AppLock(app.Name)
	locked, err := lock.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil || !locked {
		return nil, &InstallError{newOpError(KindConcurrency, "another process holds the app lock", err, map[string]string{"app": app.Name})}
	}
	defer lock.Unlock()

	idx, err := e.Store.LoadIndex()
	if err != nil {
		return nil, &InstallError{newOpError(KindFilesystem, "cannot read installed.json", err, nil)}
	}

	if _, err := e.Builder.EnsureBase(ctx, app.Runtime.BaseID()); err != nil {
		return nil, &InstallError{newOpError(KindNetwork, "base bootstrap failed", err, map[string]string{"base": app.Runtime.BaseID().String()})}
	}

	depsDirName := ""
	if len(app.Packages) > 0 {
		if _, err := e.Builder.EnsureDependencyLayer(ctx, app.Runtime.BaseID(), app.Packages); err != nil {
			return nil, &InstallError{newOpError(KindNetwork, "dependency layer build failed", err, nil)}
		}
		depsDirName = store.DepsDirName(app.Runtime.BaseID(), app.Packages)
	}

	resolved, err := e.Fetcher.Resolve(ctx, app.Source, "")
	if err != nil {
		return nil, &InstallError{newOpError(KindNetwork, "resolve failed", err, nil)}
	}

	installPrefix := layer.DefaultInstallPrefix(app.Name)
	if _, err := e.Builder.BuildAppLayer(ctx, app, resolved, installPrefix); err != nil {
		return nil, &InstallError{newOpError(KindIntegrity, "app layer build failed", err, nil)}
	}

	dstManifest := e.Store.ManifestPath(app.Name)
	if err := os.MkdirAll(filepath.Dir(dstManifest), 0o755); err != nil {
		return nil, &InstallError{newOpError(KindFilesystem, "cannot create manifests dir", err, nil)}
	}
	if err := os.WriteFile(dstManifest, data, 0o644); err != nil {
		return nil, &InstallError{newOpError(KindFilesystem, "cannot persist manifest", err, nil)}
	}

	rec := store.InstalledRecord{
		Name:             app.Name,
		ManifestPath:     dstManifest,
		InstalledVersion: resolved.ResolvedVersion,
		BaseID:           app.Runtime.BaseID().String(),
		DependencyKey:    depsDirName,
		InstalledAt:      nowStamp(),
	}
	idx.Apps[app.Name] = rec
	if err := e.Store.SaveIndex(idx); err != nil {
		return nil, &InstallError{newOpError(KindFilesystem, "cannot persist installed.json", err, nil)}
	}

	e.Msg.Info("installed ", app.Name, " ", resolved.ResolvedVersion)
	return &rec, nil
}

// Run implements §6.4's run(name, user_args, url?).
func (e *Engine) Run(ctx context.Context, name string, userArgs []string) (*ExitStatus, error) {
	app, rec, err := e.loadInstalled(name)
	if err != nil {
		return nil, err
	}
	if err := e.applyOverrides(app); err != nil {
		return nil, err
	}

	host := mountplan.DetectHostEnv(os.Getuid(), os.Getgid())
	installPrefix := layer.DefaultInstallPrefix(app.Name)
	binary := filepath.Join(installPrefix, app.Binary.RelativePath)

	req := &launch.Request{
		App:      app,
		Store:    e.Store,
		Base:     e.Store.BasePath(app.Runtime.BaseID()),
		Dep:      depPath(e.Store, rec),
		AppLayer: e.Store.AppLayer(app.Name),
		Binary:   binary,
		Argv:     append([]string{binary}, append(app.Binary.ArgvPrefix, userArgs...)...),
		SelfExec: e.SelfExec,
		Msg:      e.Msg,
	}

	out, err := launch.Run(ctx, req, host)
	if err != nil {
		return mapRunErr(err), err
	}
	return &ExitStatus{Code: ExitCode(out.ExitCode)}, nil
}

// Shell implements §6.4's shell(name): run with the binary overridden to
// an interactive shell, reusing the entire namespace/mount/launch path.
func (e *Engine) Shell(ctx context.Context, name string) (*ExitStatus, error) {
	app, rec, err := e.loadInstalled(name)
	if err != nil {
		return nil, err
	}
	if err := e.applyOverrides(app); err != nil {
		return nil, err
	}

	host := mountplan.DetectHostEnv(os.Getuid(), os.Getgid())
	req := &launch.Request{
		App:      app,
		Store:    e.Store,
		Base:     e.Store.BasePath(app.Runtime.BaseID()),
		Dep:      depPath(e.Store, rec),
		AppLayer: e.Store.AppLayer(app.Name),
		Binary:   "/bin/sh",
		Argv:     []string{"/bin/sh", "-i"},
		SelfExec: e.SelfExec,
		Msg:      e.Msg,
	}

	out, err := launch.Run(ctx, req, host)
	if err != nil {
		return mapRunErr(err), err
	}
	return &ExitStatus{Code: ExitCode(out.ExitCode)}, nil
}

// Remove implements §6.4's remove(name, purge). GC reclaims any base or
// dependency layer no remaining app references.
func (e *Engine) Remove(name string, purge bool) error {
	idx, err := e.Store.LoadIndex()
	if err != nil {
		return &RemoveError{newOpError(KindFilesystem, "cannot read installed.json", err, nil)}
	}
	if _, ok := idx.Apps[name]; !ok {
		return &RemoveError{newOpError(KindConfiguration, "app not installed", nil, map[string]string{"app": name})}
	}
	delete(idx.Apps, name)
	if err := e.Store.SaveIndex(idx); err != nil {
		return &RemoveError{newOpError(KindFilesystem, "cannot persist installed.json", err, nil)}
	}
	if purge {
		if err := e.RemoveOverrides(name); err != nil {
			return &RemoveError{newOpError(KindFilesystem, "cannot remove settings override", err, nil)}
		}
		if err := os.RemoveAll(e.Store.AppDir(name)); err != nil {
			return &RemoveError{newOpError(KindFilesystem, "cannot remove app layer", err, nil)}
		}
	}
	if err := e.Store.GC(idx); err != nil {
		return &RemoveError{newOpError(KindFilesystem, "garbage collection failed", err, nil)}
	}
	return nil
}

// UpdateOutcome distinguishes "no update available" from "updated" for
// one app, per the supplemented behavior of update's per-app result.
type UpdateOutcome struct {
	Name       string
	Updated    bool
	OldVersion string
	NewVersion string
}

// Update implements §6.4's update(name?): re-resolves each named app (or
// every installed app if name is empty) and re-fetches only those whose
// resolved version differs from the recorded one.
func (e *Engine) Update(ctx context.Context, name string) ([]UpdateOutcome, error) {
	idx, err := e.Store.LoadIndex()
	if err != nil {
		return nil, &UpdateError{newOpError(KindFilesystem, "cannot read installed.json", err, nil)}
	}

	var names []string
	if name != "" {
		names = []string{name}
	} else {
		for n := range idx.Apps {
			names = append(names, n)
		}
	}

	var out []UpdateOutcome
	for _, n := range names {
		rec := idx.Apps[n]
		app, err := e.loadManifest(rec.ManifestPath)
		if err != nil {
			return out, &UpdateError{newOpError(KindConfiguration, "manifest invalid", err, map[string]string{"app": n})}
		}
		resolved, err := e.Fetcher.Resolve(ctx, app.Source, "")
		if err != nil {
			return out, &UpdateError{newOpError(KindNetwork, "resolve failed", err, map[string]string{"app": n})}
		}
		o := UpdateOutcome{Name: n, OldVersion: rec.InstalledVersion, NewVersion: resolved.ResolvedVersion}
		if resolved.ResolvedVersion != rec.InstalledVersion {
			installPrefix := layer.DefaultInstallPrefix(app.Name)
			if _, err := e.Builder.BuildAppLayer(ctx, app, resolved, installPrefix); err != nil {
				return out, &UpdateError{newOpError(KindIntegrity, "app layer rebuild failed", err, map[string]string{"app": n})}
			}
			rec.InstalledVersion = resolved.ResolvedVersion
			idx.Apps[n] = rec
			o.Updated = true
		}
		out = append(out, o)
	}

	if err := e.Store.SaveIndex(idx); err != nil {
		return out, &UpdateError{newOpError(KindFilesystem, "cannot persist installed.json", err, nil)}
	}
	if err := e.Store.GC(idx); err != nil {
		return out, &UpdateError{newOpError(KindFilesystem, "garbage collection failed", err, nil)}
	}
	return out, nil
}

// List implements §6.4's list().
func (e *Engine) List() ([]store.InstalledRecord, error) {
	idx, err := e.Store.LoadIndex()
	if err != nil {
		return nil, err
	}
	var out []store.InstalledRecord
	for _, rec := range idx.Apps {
		out = append(out, rec)
	}
	return out, nil
}

// AppDetails is the result of §6.4's info(name).
type AppDetails struct {
	Record  store.InstalledRecord
	App     *manifest.App
}

// Info implements §6.4's info(name).
func (e *Engine) Info(name string) (*AppDetails, error) {
	idx, err := e.Store.LoadIndex()
	if err != nil {
		return nil, err
	}
	rec, ok := idx.Apps[name]
	if !ok {
		return nil, fmt.Errorf("app %q not installed", name)
	}
	app, err := e.loadManifest(rec.ManifestPath)
	if err != nil {
		return nil, err
	}
	return &AppDetails{Record: rec, App: app}, nil
}

// applyOverrides layers the per-app settings file (if any) over app's
// manifest-declared permissions in place, letting a user grant or revoke a
// permission tag post-install without editing the manifest.
func (e *Engine) applyOverrides(app *manifest.App) error {
	raw, err := e.loadOverrides(app.Name)
	if err != nil {
		return &OpError{Kind: KindConfiguration, Message: "settings override invalid", Cause: err, Context: map[string]string{"app": app.Name}}
	}
	if raw == nil {
		return nil
	}
	app.Permissions = manifest.ApplyOverrides(app.Permissions, raw)
	return nil
}

func (e *Engine) loadOverrides(name string) (map[string]bool, error) {
	data, err := os.ReadFile(e.Store.SettingsPath(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return manifest.ParseOverrides(data)
}

// SaveOverrides persists a per-app permission override set, creating the
// settings directory on first use.
func (e *Engine) SaveOverrides(name string, overrides map[string]bool) error {
	if err := os.MkdirAll(e.Store.SettingsDir(), 0o755); err != nil {
		return &OpError{Kind: KindFilesystem, Message: "cannot create settings dir", Cause: err}
	}
	doc := struct {
		Permissions map[string]bool `toml:"permissions"`
	}{Permissions: overrides}
	b, err := toml.Marshal(doc)
	if err != nil {
		return &OpError{Kind: KindConfiguration, Message: "cannot encode settings", Cause: err}
	}
	if err := os.WriteFile(e.Store.SettingsPath(name), b, 0o644); err != nil {
		return &OpError{Kind: KindFilesystem, Message: "cannot write settings", Cause: err, Context: map[string]string{"app": name}}
	}
	return nil
}

// RemoveOverrides deletes a per-app settings file, if one exists; removing
// a nonexistent override is a no-op rather than an error.
func (e *Engine) RemoveOverrides(name string) error {
	err := os.Remove(e.Store.SettingsPath(name))
	if err != nil && !os.IsNotExist(err) {
		return &OpError{Kind: KindFilesystem, Message: "cannot remove settings", Cause: err, Context: map[string]string{"app": name}}
	}
	return nil
}

func (e *Engine) loadManifest(path string) (*manifest.App, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return manifest.Parse(data)
}

func (e *Engine) loadInstalled(name string) (*manifest.App, store.InstalledRecord, error) {
	idx, err := e.Store.LoadIndex()
	if err != nil {
		return nil, store.InstalledRecord{}, &OpError{Kind: KindFilesystem, Message: "cannot read installed.json", Cause: err}
	}
	rec, ok := idx.Apps[name]
	if !ok {
		return nil, store.InstalledRecord{}, &OpError{Kind: KindConfiguration, Message: "app not installed", Context: map[string]string{"app": name}}
	}
	app, err := e.loadManifest(rec.ManifestPath)
	if err != nil {
		return nil, store.InstalledRecord{}, &OpError{Kind: KindConfiguration, Message: "manifest invalid", Cause: err}
	}
	return app, rec, nil
}

func depPath(s *store.Store, rec store.InstalledRecord) string {
	if rec.DependencyKey == "" {
		return ""
	}
	return filepath.Join(s.DepsDir(), rec.DependencyKey)
}

func mapRunErr(err error) *ExitStatus {
	if re, ok := err.(*launch.RunError); ok {
		return &ExitStatus{Code: ExitCode(re.Code), Err: re.Err}
	}
	return &ExitStatus{Code: ExitNamespaceSetupFailed, Err: err}
}

// nowStamp is a seam so tests can stub the install timestamp; production
// code always calls the real clock.
var nowStamp = defaultNowStamp

func defaultNowStamp() (t time.Time) { return time.Now() }
