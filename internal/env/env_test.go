package env

import (
	"strings"
	"testing"

	"github.com/nilltadios/voidbox/internal/manifest"
	"github.com/nilltadios/voidbox/internal/mountplan"
)

func find(env []string, key string) (string, bool) {
	for _, kv := range env {
		if strings.HasPrefix(kv, key+"=") {
			return strings.TrimPrefix(kv, key+"="), true
		}
	}
	return "", false
}

func TestComposeBasics(t *testing.T) {
	app := &manifest.App{Name: "demo"}
	host := mountplan.HostEnv{Display: ":0", Lang: "en_US.UTF-8"}
	out := Compose(app, host, "/root")

	if v, ok := find(out, "HOME"); !ok || v != "/root" {
		t.Fatalf("HOME = %q, %v", v, ok)
	}
	if v, _ := find(out, "DISPLAY"); v != ":0" {
		t.Fatalf("DISPLAY = %q", v)
	}
	if v, _ := find(out, "LANG"); v != "en_US.UTF-8" {
		t.Fatalf("LANG = %q", v)
	}
}

func TestComposeDevModePrependsHostBin(t *testing.T) {
	app := &manifest.App{Permissions: manifest.Permissions{DevMode: true}}
	out := Compose(app, mountplan.HostEnv{}, "/root")
	path, _ := find(out, "PATH")
	if !strings.HasPrefix(path, "/host/bin:") {
		t.Fatalf("PATH = %q, want /host/bin prefix", path)
	}
}

func TestComposeDropsUnlistedVars(t *testing.T) {
	app := &manifest.App{}
	out := Compose(app, mountplan.HostEnv{}, "/root")
	if _, ok := find(out, "SSH_AUTH_SOCK"); ok {
		t.Fatal("unlisted host variables must not be inherited")
	}
}
