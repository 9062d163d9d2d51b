// Package env composes the curated environment passed to an app's entry
// point, per spec.md §4.7.
package env

import (
	"os"
	"strings"
	"unicode/utf8"

	"github.com/nilltadios/voidbox/internal/manifest"
	"github.com/nilltadios/voidbox/internal/mountplan"
)

// defaultPath is the fixed $PATH search order; dev_mode prepends /host/bin.
var defaultPath = []string{
	"/usr/local/sbin", "/usr/local/bin", "/usr/sbin", "/usr/bin", "/sbin", "/bin",
}

// Compose builds the full environment slice (KEY=value strings suitable
// for execve) for app running under host, with containerHome as the
// container-side $HOME.
func Compose(app *manifest.App, host mountplan.HostEnv, containerHome string) []string {
	// inside the namespace the container's apparent uid is always 0 (root
	// mapped via uid_map), so $USER/$LOGNAME name the mapped identity, not
	// the host account name.
	set := map[string]string{
		"HOME":    containerHome,
		"USER":    "root",
		"LOGNAME": "root",
		"TERM":    fallback(host.Term, "xterm-256color"),
	}

	path := defaultPath
	if app.Permissions.DevMode {
		path = append([]string{"/host/bin"}, path...)
	}
	set["PATH"] = strings.Join(path, ":")

	if validUTF8Locale(host.Lang) {
		set["LANG"] = host.Lang
	}
	if host.Display != "" {
		set["DISPLAY"] = host.Display
	}
	if host.WaylandDisplay != "" {
		set["WAYLAND_DISPLAY"] = host.WaylandDisplay
	}
	if host.XDGRuntimeDir != "" {
		set["XDG_RUNTIME_DIR"] = host.XDGRuntimeDir
		if app.Permissions.Audio {
			set["PULSE_SERVER"] = "unix:" + host.XDGRuntimeDir + "/pulse/native"
			set["PIPEWIRE_RUNTIME_DIR"] = host.XDGRuntimeDir
		}
	}

	// every other inherited variable is dropped unless the manifest's
	// binary descriptor explicitly names it to pass through.
	for _, name := range app.Binary.PassEnv {
		if v, ok := os.LookupEnv(name); ok {
			set[name] = v
		}
	}

	out := make([]string, 0, len(set))
	for k, v := range set {
		out = append(out, k+"="+v)
	}
	return out
}

func fallback(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func validUTF8Locale(lang string) bool {
	return lang != "" && utf8.ValidString(lang)
}
