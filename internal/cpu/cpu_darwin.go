//go:build darwin

package cpu

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/shirou/gopsutil/v3/cpu"
)

// DarwinDriver reads processor information from sysctl and gopsutil
type DarwinDriver struct{}

// newPlatformDriver creates a new macOS processor driver
func newPlatformDriver() Driver {
	return &DarwinDriver{}
}

func sysctlInt(name string) (int, error) {
	v, err := unix.SysctlUint32(name)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func sysctlInt64(name string) (int64, error) {
	v, err := unix.SysctlUint64(name)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// QueryProcessorIdentity reads the machdep.cpu sysctl tree
func (d *DarwinDriver) QueryProcessorIdentity(_ context.Context) (ProcessorIdentifier, error) {
	id := UnknownIdentifier()
	if vendor, err := unix.Sysctl("machdep.cpu.vendor"); err == nil && vendor != "" {
		id.Vendor = vendor
	}
	name, err := unix.Sysctl("machdep.cpu.brand_string")
	if err != nil {
		return id, fmt.Errorf("reading machdep.cpu.brand_string: %w", err)
	}
	id.Name = name
	if strings.HasPrefix(name, "Apple") {
		id.Vendor = "Apple Inc."
	}
	if family, err := sysctlInt("machdep.cpu.family"); err == nil {
		id.Family = strconv.Itoa(family)
	} else if family, err := sysctlInt("hw.cpufamily"); err == nil {
		id.Family = fmt.Sprintf("0x%x", family)
	}
	if model, err := sysctlInt("machdep.cpu.model"); err == nil {
		id.Model = strconv.Itoa(model)
	}
	if stepping, err := sysctlInt("machdep.cpu.stepping"); err == nil {
		id.Stepping = strconv.Itoa(stepping)
	}
	if sig, err := sysctlInt("machdep.cpu.signature"); err == nil {
		id.ProcessorID = fmt.Sprintf("%08X", sig)
	}
	if is64, err := sysctlInt("hw.cpu64bit_capable"); err == nil {
		id.CPU64Bit = is64 != 0
	}
	if hz, err := sysctlInt64("hw.cpufrequency"); err == nil && hz > 0 {
		id.VendorFreq = hz
	} else {
		id.VendorFreq = parseHertz(name)
	}
	return id, nil
}

// QueryTopology spreads logical processors over hw.physicalcpu cores and
// reads the cache sizes published under hw.
func (d *DarwinDriver) QueryTopology(_ context.Context) (Topology, error) {
	logical, err := sysctlInt("hw.logicalcpu")
	if err != nil {
		return Topology{}, fmt.Errorf("reading hw.logicalcpu: %w", err)
	}
	cores, _ := sysctlInt("hw.physicalcpu")
	packages, _ := sysctlInt("hw.packages")
	return evenTopology(logical, cores, packages, d.queryCaches()), nil
}

func (d *DarwinDriver) queryCaches() []ProcessorCache {
	line, _ := sysctlInt64("hw.cachelinesize")
	entries := []struct {
		name  string
		level int
		typ   CacheType
	}{
		{"hw.l1icachesize", 1, CacheInstruction},
		{"hw.l1dcachesize", 1, CacheData},
		{"hw.l2cachesize", 2, CacheUnified},
		{"hw.l3cachesize", 3, CacheUnified},
	}
	var caches []ProcessorCache
	for _, e := range entries {
		size, err := sysctlInt64(e.name)
		if err != nil || size <= 0 {
			continue
		}
		caches = append(caches, ProcessorCache{
			Level:     e.level,
			LineSize:  int(line),
			CacheSize: size,
			Type:      e.typ,
		})
	}
	return caches
}

// QuerySystemTicks returns host ticks from gopsutil. macOS has no steal time.
func (d *DarwinDriver) QuerySystemTicks(ctx context.Context) (Ticks, error) {
	return gopsutilSystemTicks(ctx)
}

// QueryProcessorTicks returns per processor ticks from gopsutil
func (d *DarwinDriver) QueryProcessorTicks(ctx context.Context) ([]Ticks, error) {
	return gopsutilProcessorTicks(ctx)
}

// QueryCurrentFrequencies reports hw.cpufrequency for every processor, which
// is the only value macOS publishes.
func (d *DarwinDriver) QueryCurrentFrequencies(ctx context.Context) ([]int64, error) {
	hz, err := sysctlInt64("hw.cpufrequency")
	if err != nil {
		infos, err := cpu.InfoWithContext(ctx)
		if err != nil || len(infos) == 0 || infos[0].Mhz <= 0 {
			return nil, errors.New("current frequency not published")
		}
		hz = int64(infos[0].Mhz * 1e6)
	}
	n, err := sysctlInt("hw.logicalcpu")
	if err != nil {
		return nil, err
	}
	freqs := make([]int64, n)
	for i := range freqs {
		freqs[i] = hz
	}
	return freqs, nil
}

// QueryMaxFrequency reads hw.cpufrequency_max
func (d *DarwinDriver) QueryMaxFrequency(_ context.Context) (int64, error) {
	return sysctlInt64("hw.cpufrequency_max")
}

// QueryLoadAverages returns vm.loadavg through gopsutil
func (d *DarwinDriver) QueryLoadAverages(ctx context.Context, n int) ([]float64, error) {
	return gopsutilLoadAverages(ctx, n)
}

// QueryContextSwitches is not published by macOS
func (d *DarwinDriver) QueryContextSwitches(_ context.Context) (int64, error) {
	return Unknown, nil
}

// QueryInterrupts is not published by macOS
func (d *DarwinDriver) QueryInterrupts(_ context.Context) (int64, error) {
	return Unknown, nil
}
