// Package fhs provides constant pathname values for common FHS locations
// used while composing a container's merged view.
package fhs

const (
	// Root points to the file system root.
	Root = "/"
	// Etc points to the directory for system-specific configuration.
	Etc = "/etc/"
	// Tmp points to the place for small temporary files.
	Tmp = "/tmp/"

	// Run points to a tmpfs for runtime data and socket files.
	Run = "/run/"
	// RunUser points to a directory containing per-user runtime directories.
	RunUser = Run + "user/"

	// Usr points to vendor-supplied operating system resources.
	Usr = "/usr/"
	// UsrBin points to binaries that should appear on $PATH.
	UsrBin = Usr + "bin/"
	// Lib and Lib64 point to the host's shared library trees, overlaid in native mode.
	Lib   = "/lib/"
	Lib64 = "/lib64/"

	// Opt points to the conventional install prefix for third-party applications.
	Opt = "/opt/"

	// Dev points to the root directory for device nodes.
	Dev = "/dev/"
	// DevPts points to the devpts instance root.
	DevPts = Dev + "pts/"
	// Proc points to the process-information pseudo-filesystem.
	Proc = "/proc/"
	// ProcSys points to the kernel tunable hierarchy below /proc.
	ProcSys = Proc + "sys/"
	// Sys points to the device/kernel-object pseudo-filesystem.
	Sys = "/sys/"

	// HostBin is the mountpoint for the host's /usr/bin when dev_mode is enabled.
	HostBin = "/host/bin/"

	// OldRoot is the scratch directory pivot_root moves the old root to.
	OldRoot = ".old_root/"
)
