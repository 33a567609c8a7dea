// Package platform answers the host questions the daemon cares about:
// which OS it runs on, where shared memory lives, and whether file
// watching and tmpfs are available for a path.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Platform represents the detected platform
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL1    Platform = "wsl1"
	PlatformWSL2    Platform = "wsl2"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

const procMounts = "/proc/mounts"

var (
	detectOnce sync.Once
	detected   Platform
)

// Detect returns the current platform, caching the result
func Detect() Platform {
	detectOnce.Do(func() {
		detected = detectPlatform()
	})
	return detected
}

func detectPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		procVersion, _ := os.ReadFile("/proc/version")
		_, runWSL := os.Stat("/run/WSL")
		return classifyLinux(string(procVersion), os.Getenv("WSL_DISTRO_NAME") != "", runWSL == nil)
	default:
		return PlatformUnknown
	}
}

// classifyLinux distinguishes native Linux from WSL1 and WSL2 using the
// kernel version string and environment hints.
func classifyLinux(procVersion string, wslEnv, runWSL bool) Platform {
	switch {
	case strings.Contains(procVersion, "microsoft-standard"):
		return PlatformWSL2
	case strings.Contains(procVersion, "Microsoft"):
		return PlatformWSL1
	case wslEnv && runWSL:
		return PlatformWSL2
	case wslEnv:
		return PlatformWSL1
	default:
		return PlatformLinux
	}
}

// IsWSL returns true if running in any WSL environment
func IsWSL() bool {
	p := Detect()
	return p == PlatformWSL1 || p == PlatformWSL2
}

// SupportsPTY reports whether sessions can be spawned on p.
func (p Platform) SupportsPTY() bool {
	switch p {
	case PlatformMacOS, PlatformLinux, PlatformWSL1, PlatformWSL2:
		return true
	default:
		return false
	}
}

// String returns a human-readable platform name
func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformLinux:
		return "Linux"
	case PlatformWSL1:
		return "WSL1"
	case PlatformWSL2:
		return "WSL2"
	case PlatformWindows:
		return "Windows"
	default:
		return "Unknown"
	}
}

// SharedMemoryDir returns the directory snapshot regions are created in
// when nothing is configured: /dev/shm where it exists, else the temp dir.
func SharedMemoryDir() string {
	if st, err := os.Stat("/dev/shm"); err == nil && st.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// FilesystemType returns the mount type holding path, or "" when it
// cannot be determined (non-Linux hosts included).
func FilesystemType(path string) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	mounts, err := os.ReadFile(procMounts)
	if err != nil {
		return ""
	}
	return mountTypeFor(absPath, string(mounts))
}

// mountTypeFor finds the longest mount point in a /proc/mounts listing that
// contains absPath. Format: device mountpoint fstype options ...
func mountTypeFor(absPath, mounts string) string {
	var matchedMount, matchedType string
	for _, line := range strings.Split(mounts, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		mountPoint := fields[1]
		if !withinMount(absPath, mountPoint) {
			continue
		}
		if len(mountPoint) > len(matchedMount) {
			matchedMount = mountPoint
			matchedType = fields[2]
		}
	}
	return matchedType
}

func withinMount(path, mountPoint string) bool {
	if mountPoint == "/" || path == mountPoint {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(mountPoint, "/")+"/")
}

// IsMemoryBacked reports whether path lives on tmpfs. Unknown counts as
// memory backed so callers only warn on a positive disk answer.
func IsMemoryBacked(path string) bool {
	fsType := FilesystemType(path)
	return fsType == "" || fsType == "tmpfs" || fsType == "ramfs"
}

// CheckFsnotifySupport returns a warning when path sits on a filesystem
// where change notifications are unreliable, or "" when watching works.
func CheckFsnotifySupport(path string) string {
	return fsnotifyWarning(FilesystemType(path))
}

func fsnotifyWarning(fsType string) string {
	switch {
	case fsType == "9p":
		return "config on 9p mount (WSL2 Windows filesystem): hot reload disabled, restart the daemon after edits"
	case fsType == "nfs" || fsType == "nfs4":
		return "config on NFS mount: hot reload may miss edits"
	case fsType == "cifs" || fsType == "smbfs":
		return "config on CIFS/SMB mount: hot reload may miss edits"
	case strings.HasPrefix(fsType, "fuse.sshfs"):
		return "config on SSHFS mount: hot reload disabled, restart the daemon after edits"
	}
	return ""
}
