package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// RealDetector implements Detector using actual platform detection.
type RealDetector struct{}

// NewDetector creates a new platform detector.
func NewDetector() Detector {
	return &RealDetector{}
}

// Detect performs platform detection and returns platform information.
// It uses runtime.GOOS and runtime.GOARCH for OS and architecture,
// and gopsutil for Linux distribution details.
//
// On Linux, if gopsutil fails to detect the distribution, the distro
// fields stay empty and detection continues. Asset selection only needs
// OS and arch; distro details exist for manifest conditionals.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:      runtime.GOOS,
		ArchRaw: runtime.GOARCH,
	}

	arch, err := normalizeArch(runtime.GOARCH)
	if err != nil {
		return nil, fmt.Errorf("platform detection failed: %w", err)
	}
	info.Arch = arch

	if runtime.GOOS == "linux" {
		distro, family, version, err := host.PlatformInformationWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
			}
			// Graceful fallback: OS/arch only
			return info, nil
		}

		info.Distro = normalizeID(distro)
		info.Family = mapFamily(family)
		info.Version = normalizeID(version)
	}

	return info, nil
}

// StaticDetector returns a fixed Info. Used in tests and for
// cross-platform manifest evaluation.
type StaticDetector struct {
	Info *Info
}

// Detect returns the fixed platform info.
func (d *StaticDetector) Detect(ctx context.Context) (*Info, error) {
	if d.Info == nil {
		return nil, fmt.Errorf("static detector has no platform info")
	}
	return d.Info, nil
}
