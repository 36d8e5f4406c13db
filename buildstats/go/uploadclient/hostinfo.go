package uploadclient

import (
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"

	"go.buildstats.org/infra/buildstats/go/ingest/format"
	"go.buildstats.org/infra/go/skerr"
)

const bytesPerMB = 1024 * 1024

// CollectHostInfo gathers hardware and OS facts about this machine for the
// host side-channel of an upload.
func CollectHostInfo() (*format.HostInfo, error) {
	info, err := host.Info()
	if err != nil {
		return nil, skerr.Wrapf(err, "Reading host info")
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, skerr.Wrapf(err, "Reading memory info")
	}
	swap, err := mem.SwapMemory()
	if err != nil {
		return nil, skerr.Wrapf(err, "Reading swap info")
	}
	zone, _ := time.Now().Zone()
	ret := &format.HostInfo{
		HostOS:           info.OS,
		HostArchitecture: info.KernelArch,
		HostModel:        info.Platform,
		HostOSFamily:     info.PlatformFamily,
		HostOSVersion:    info.PlatformVersion,
		MemoryTotalMB:    float64(vm.Total) / bytesPerMB,
		MemoryFreeMB:     float64(vm.Available) / bytesPerMB,
		SwapTotalMB:      float64(swap.Total) / bytesPerMB,
		SwapFreeMB:       float64(swap.Free) / bytesPerMB,
		UptimeSeconds:    int64(info.Uptime),
		TimezoneName:     zone,
		IsVirtual:        info.VirtualizationRole == "guest",
	}
	// CPU details are best effort; some platforms report nothing here.
	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		ret.CPUModel = cpus[0].ModelName
		ret.CPUSpeedGHz = cpus[0].Mhz / 1000.0
	}
	if count, err := cpu.Counts(true); err == nil {
		ret.CPUCount = count
	}
	return ret, nil
}
