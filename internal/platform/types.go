// Package platform detects the host OS, architecture, and Linux
// distribution details, and exposes them to manifest code as a
// read-only Lua table. It uses gopsutil for distribution detection
// and falls back gracefully to OS/arch only when that fails.
package platform

import "context"

// Linux distribution family constants.
const (
	FamilyDebian  = "debian" // Debian, Ubuntu, Linux Mint
	FamilyRHEL    = "rhel"   // RHEL, CentOS, Rocky Linux, AlmaLinux
	FamilyFedora  = "fedora"
	FamilySUSE    = "suse"
	FamilyArch    = "arch" // Arch Linux, Manjaro
	FamilyAlpine  = "alpine"
	FamilyUnknown = "unknown"
)

// Info contains platform detection information.
type Info struct {
	OS      string // "linux", "darwin", "windows"
	Arch    string // "amd64", "arm64" (normalized)
	ArchRaw string // original GOARCH value
	Distro  string // distro ID (Linux only, e.g., "ubuntu")
	Family  string // canonical family (e.g., "debian", "rhel")
	Version string // distro version (Linux only, e.g., "22.04")
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool {
	return i.OS == "darwin"
}

// IsAMD64 returns true if the architecture is amd64.
func (i *Info) IsAMD64() bool {
	return i.Arch == "amd64"
}

// IsARM64 returns true if the architecture is arm64.
func (i *Info) IsARM64() bool {
	return i.Arch == "arm64"
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}
