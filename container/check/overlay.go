// Package check holds the overlay mount-option escaping helpers shared
// between the overlay composer and the namespace engine, and the kernel
// capability probes in kernel.go, which read a sysctl and attempt a mount.
package check

import "strings"

const (
	// SpecialOverlayEscape is the escape string for overlay mount options.
	SpecialOverlayEscape = `\`
	// SpecialOverlayOption is the separator string between overlay mount options.
	SpecialOverlayOption = ","
	// SpecialOverlayPath is the separator string between overlay paths.
	SpecialOverlayPath = ":"
)

// EscapeOverlayDataSegment escapes a string for formatting into the data
// argument of an overlay mount call, per overlayfs.txt's escaping rules.
func EscapeOverlayDataSegment(s string) string {
	if s == "" {
		return ""
	}
	if f := strings.SplitN(s, "\x00", 2); len(f) > 0 {
		s = f[0]
	}
	return strings.NewReplacer(
		SpecialOverlayEscape, SpecialOverlayEscape+SpecialOverlayEscape,
		SpecialOverlayOption, SpecialOverlayEscape+SpecialOverlayOption,
		SpecialOverlayPath, SpecialOverlayEscape+SpecialOverlayPath,
	).Replace(s)
}

// JoinOverlayPaths joins a list of lowerdir paths with the overlay path
// separator, escaping each segment first.
func JoinOverlayPaths(paths []string) string {
	escaped := make([]string, len(paths))
	for i, p := range paths {
		escaped[i] = EscapeOverlayDataSegment(p)
	}
	return strings.Join(escaped, SpecialOverlayPath)
}
