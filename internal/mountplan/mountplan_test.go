package mountplan

import (
	"testing"

	"github.com/nilltadios/voidbox/internal/manifest"
)

func TestPlanDoesNotApplyOps(t *testing.T) {
	app := &manifest.App{Name: "demo", Permissions: manifest.Permissions{Home: true}}
	host := HostEnv{Home: "/home/user"}

	ops := Plan(app, host)
	if len(ops.Mounted) != 0 {
		t.Fatal("Plan should not apply anything, only build the pipeline")
	}
}

func TestDetectHostEnvIdentity(t *testing.T) {
	h := DetectHostEnv(1000, 1000)
	if h.UID != 1000 || h.GID != 1000 {
		t.Fatalf("unexpected identity in HostEnv: %+v", h)
	}
}

func TestPlanGPUPermission(t *testing.T) {
	withGPU := &manifest.App{Permissions: manifest.Permissions{GPU: true}}
	withoutGPU := &manifest.App{Permissions: manifest.Permissions{}}

	opsWith := Plan(withGPU, HostEnv{})
	opsWithout := Plan(withoutGPU, HostEnv{})

	if opsWith == nil || opsWithout == nil {
		t.Fatal("Plan should never return nil")
	}
}

func TestPlanMicrophonePermission(t *testing.T) {
	app := &manifest.App{Permissions: manifest.Permissions{Microphone: true}}
	if ops := Plan(app, HostEnv{}); ops == nil {
		t.Fatal("Plan should never return nil")
	}
}
