package check

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const sysctlUnprivilegedUserns = "/proc/sys/kernel/unprivileged_userns_clone"

// UnprivilegedUsernsDisabled reports whether the running kernel has
// unprivileged user namespace creation disabled via sysctl. Kernels that
// do not expose the sysctl at all (most distributions besides Debian's
// hardened default) are treated as enabled.
func UnprivilegedUsernsDisabled() bool {
	b, err := os.ReadFile(sysctlUnprivilegedUserns)
	if err != nil {
		return false
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return false
	}
	return v == 0
}

// OverlayUserns probes whether the kernel supports mounting overlayfs
// inside an unprivileged user namespace by attempting a throwaway mount
// in a scratch user+mount namespace pair. A false result does not by
// itself distinguish "unsupported" from "no permission"; callers combine
// it with [UnprivilegedUsernsDisabled] to produce a specific diagnostic.
func OverlayUserns(probe func() error) bool {
	if probe == nil {
		probe = defaultOverlayProbe
	}
	return probe() == nil
}

func defaultOverlayProbe() error {
	dir, err := os.MkdirTemp("", "voidbox-overlay-probe-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	lower := dir + "/lower"
	upper := dir + "/upper"
	work := dir + "/work"
	merged := dir + "/merged"
	for _, p := range []string{lower, upper, work, merged} {
		if err := os.MkdirAll(p, 0o700); err != nil {
			return err
		}
	}

	data := "lowerdir=" + EscapeOverlayDataSegment(lower) +
		",upperdir=" + EscapeOverlayDataSegment(upper) +
		",workdir=" + EscapeOverlayDataSegment(work)
	if err := unix.Mount("overlay", merged, "overlay", 0, data); err != nil {
		return err
	}
	_ = unix.Unmount(merged, unix.MNT_DETACH)
	return nil
}
