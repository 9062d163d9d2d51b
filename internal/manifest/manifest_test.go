package manifest

import "testing"

const validDoc = `
[app]
name = "demo"
display_name = "Demo"

[source]
type = "direct"
url = "https://example.invalid/demo.tar.gz"

[runtime]
distro = "ubuntu"
version = "24.04"
arch = "x86_64"

[dependencies]
packages = ["libfoo"]

[binary]
relative_path = "demo"

[permissions]
home = true
gpu = true
`

func TestParseValid(t *testing.T) {
	app, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if app.Name != "demo" {
		t.Errorf("Name = %q", app.Name)
	}
	if !app.Permissions.Network {
		t.Error("network should default true")
	}
	if !app.Permissions.Home || !app.Permissions.GPU {
		t.Error("home/gpu should be true as declared")
	}
	if app.Permissions.Audio {
		t.Error("audio should default false")
	}
}

func TestParseRejectsUnknownPermission(t *testing.T) {
	doc := validDoc + "\nbogus_tag = true\n"
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("expected validation error for unknown permission tag")
	}
}

func TestParseRejectsBadName(t *testing.T) {
	bad := `
[app]
name = "Demo_App"
[source]
type = "direct"
url = "https://example.invalid/d.tar.gz"
[runtime]
distro = "ubuntu"
version = "24.04"
arch = "x86_64"
[binary]
relative_path = "demo"
`
	_, err := Parse([]byte(bad))
	if err == nil {
		t.Fatal("expected validation error for bad name shape")
	}
}

func TestParseRejectsAbsoluteBinaryPath(t *testing.T) {
	bad := `
[app]
name = "demo"
[source]
type = "direct"
url = "https://example.invalid/d.tar.gz"
[runtime]
distro = "ubuntu"
version = "24.04"
arch = "x86_64"
[binary]
relative_path = "/demo"
`
	_, err := Parse([]byte(bad))
	if err == nil {
		t.Fatal("expected validation error for absolute relative_path")
	}
}

func TestParseTotalRejectionListsAllFields(t *testing.T) {
	bad := `
[app]
name = "Bad Name"
[source]
type = "bogus"
[runtime]
distro = "nonexistent"
version = "1"
arch = "x86_64"
[binary]
relative_path = ""
`
	_, err := Parse([]byte(bad))
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("err type = %T, want *ValidationError", err)
	}
	if len(ve.Fields) < 4 {
		t.Fatalf("expected multiple offending fields, got %v", ve.Fields)
	}
}

func TestApplyOverridesSetsOnlyMentionedTags(t *testing.T) {
	base := Permissions{Network: true, GPU: true}
	got := ApplyOverrides(base, map[string]bool{"gpu": false, "audio": true})
	if got.GPU {
		t.Error("gpu override should clear GPU")
	}
	if !got.Audio {
		t.Error("audio override should set Audio")
	}
	if !got.Network {
		t.Error("network not mentioned in override, should keep base value")
	}
}

func TestParseOverridesRejectsUnknownTag(t *testing.T) {
	if _, err := ParseOverrides([]byte("[permissions]\nbogus_tag = true\n")); err == nil {
		t.Fatal("expected error for unknown override tag")
	}
}

func TestParseOverridesEmptyTable(t *testing.T) {
	raw, err := ParseOverrides([]byte("[permissions]\n"))
	if err != nil {
		t.Fatalf("ParseOverrides: %v", err)
	}
	if len(raw) != 0 {
		t.Fatalf("expected empty override map, got %v", raw)
	}
}

func TestSortedPackages(t *testing.T) {
	app := &App{Packages: []string{"zeta", "alpha", "mu"}}
	got := app.SortedPackages()
	want := []string{"alpha", "mu", "zeta"}
	for i, p := range want {
		if got[i] != p {
			t.Fatalf("SortedPackages()[%d] = %q, want %q", i, got[i], p)
		}
	}
}
