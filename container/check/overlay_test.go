package check

import "testing"

func TestEscapeOverlayDataSegment(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"/opt/demo":   "/opt/demo",
		"a,b":         `a\,b`,
		"a:b":         `a\:b`,
		`a\b`:         `a\\b`,
		"a\x00b":      "a",
	}
	for in, want := range cases {
		if got := EscapeOverlayDataSegment(in); got != want {
			t.Errorf("EscapeOverlayDataSegment(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJoinOverlayPaths(t *testing.T) {
	got := JoinOverlayPaths([]string{"/a", "/b,c", "/d"})
	want := `/a:/b\,c:/d`
	if got != want {
		t.Fatalf("JoinOverlayPaths = %q, want %q", got, want)
	}
}
