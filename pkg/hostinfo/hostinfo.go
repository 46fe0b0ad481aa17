// Package hostinfo describes the machine a benchmark ran on.
package hostinfo

import (
	"context"
	"fmt"
	"runtime"

	"github.com/docker/go-units"
	"github.com/hashicorp/go-multierror"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
)

// SystemInfo is a snapshot of the host. Fields the platform cannot report
// are left zero.
type SystemInfo struct {
	Hostname           string  `json:"hostname"`
	OS                 string  `json:"os"`
	Platform           string  `json:"platform"`
	PlatformVersion    string  `json:"platform_version"`
	KernelVersion      string  `json:"kernel_version"`
	Arch               string  `json:"arch"`
	Virtualization     string  `json:"virtualization,omitempty"`
	VirtualizationRole string  `json:"virtualization_role,omitempty"`
	CPUVendor          string  `json:"cpu_vendor"`
	CPUModel           string  `json:"cpu_model"`
	CPUCores           int     `json:"cpu_cores"`
	CPUMhz             float64 `json:"cpu_mhz"`
	CPUCacheKB         int     `json:"cpu_cache_kb"`
	MemoryTotalBytes   uint64  `json:"memory_total_bytes"`
}

// Collect gathers a SystemInfo. A failing probe does not abort the others:
// the partial snapshot is always returned, together with the probe errors.
func Collect(ctx context.Context) (*SystemInfo, error) {
	info := &SystemInfo{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUCores: runtime.NumCPU(),
	}

	var result *multierror.Error

	if h, err := host.InfoWithContext(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("reading host info: %w", err))
	} else {
		info.Hostname = h.Hostname
		info.Platform = h.Platform
		info.PlatformVersion = h.PlatformVersion
		info.KernelVersion = h.KernelVersion
		info.Virtualization = h.VirtualizationSystem
		info.VirtualizationRole = h.VirtualizationRole
	}

	if cpus, err := cpu.InfoWithContext(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("reading cpu info: %w", err))
	} else if len(cpus) > 0 {
		info.CPUVendor = cpus[0].VendorID
		info.CPUModel = cpus[0].ModelName
		info.CPUMhz = cpus[0].Mhz
		info.CPUCacheKB = int(cpus[0].CacheSize)
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		info.CPUCores = n
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("reading memory info: %w", err))
	} else {
		info.MemoryTotalBytes = vm.Total
	}

	return info, result.ErrorOrNil()
}

// Fields renders the snapshot as log fields.
func (s *SystemInfo) Fields() logrus.Fields {
	fields := logrus.Fields{
		"os":        s.OS,
		"arch":      s.Arch,
		"cpu_cores": s.CPUCores,
	}

	if s.Hostname != "" {
		fields["hostname"] = s.Hostname
	}

	if s.CPUModel != "" {
		fields["cpu_model"] = s.CPUModel
	}

	if s.MemoryTotalBytes > 0 {
		fields["memory"] = units.BytesSize(float64(s.MemoryTotalBytes))
	}

	if s.Platform != "" {
		platform := s.Platform
		if s.PlatformVersion != "" {
			platform += " " + s.PlatformVersion
		}

		fields["platform"] = platform
	}

	return fields
}

// Log collects a snapshot and writes it to log. Probe failures are logged at
// debug level; the returned snapshot is never nil.
func Log(ctx context.Context, log logrus.FieldLogger) *SystemInfo {
	info, err := Collect(ctx)
	if err != nil {
		log.WithError(err).Debug("Host snapshot is incomplete")
	}

	log.WithFields(info.Fields()).Info("Host snapshot")

	return info
}
