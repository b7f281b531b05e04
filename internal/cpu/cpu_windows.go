//go:build windows

package cpu

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/StackExchange/wmi"
	"go.uber.org/zap"
)

// WindowsDriver reads processor information from WMI and gopsutil
type WindowsDriver struct{}

// newPlatformDriver creates a new Windows processor driver
func newPlatformDriver() Driver {
	return &WindowsDriver{}
}

// Win32_Processor represents one processor package
type Win32_Processor struct {
	Name                      string
	Manufacturer              string
	Description               string
	ProcessorId               *string
	MaxClockSpeed             uint32
	CurrentClockSpeed         uint32
	NumberOfCores             uint32
	NumberOfLogicalProcessors uint32
	AddressWidth              uint16
}

// Win32_CacheMemory represents one cache reported by SMBIOS
type Win32_CacheMemory struct {
	Level         uint16
	Associativity uint16
	CacheType     uint16
	InstalledSize uint32
	BlockSize     *uint64
}

// Win32_PerfRawData_PerfOS_System holds system wide raw counters
type Win32_PerfRawData_PerfOS_System struct {
	ContextSwitchesPersec uint32
}

// Win32_PerfRawData_PerfOS_Processor holds per processor raw counters
type Win32_PerfRawData_PerfOS_Processor struct {
	Name             string
	InterruptsPersec uint32
}

func (d *WindowsDriver) processors() ([]Win32_Processor, error) {
	var procs []Win32_Processor
	q := wmi.CreateQuery(&procs, "")
	if err := wmi.Query(q, &procs); err != nil {
		return nil, fmt.Errorf("querying Win32_Processor: %w", err)
	}
	if len(procs) == 0 {
		return nil, errors.New("no Win32_Processor instances")
	}
	return procs, nil
}

// QueryProcessorIdentity parses the Win32_Processor description, which has
// the form "Intel64 Family 6 Model 158 Stepping 10"
func (d *WindowsDriver) QueryProcessorIdentity(_ context.Context) (ProcessorIdentifier, error) {
	procs, err := d.processors()
	if err != nil {
		return ProcessorIdentifier{}, err
	}
	p := procs[0]
	id := ProcessorIdentifier{
		Vendor:     p.Manufacturer,
		Name:       strings.TrimSpace(p.Name),
		CPU64Bit:   p.AddressWidth == 64,
		VendorFreq: int64(p.MaxClockSpeed) * 1_000_000,
	}
	if id.Vendor == "" {
		id.Vendor = UnknownVendor
	}
	if p.ProcessorId != nil {
		id.ProcessorID = *p.ProcessorId
	}
	fields := strings.Fields(p.Description)
	for i := 0; i+1 < len(fields); i++ {
		switch fields[i] {
		case "Family":
			id.Family = fields[i+1]
		case "Model":
			id.Model = fields[i+1]
		case "Stepping":
			id.Stepping = fields[i+1]
		}
	}
	if hz := parseHertz(id.Name); hz > 0 {
		id.VendorFreq = hz
	}
	return id, nil
}

// QueryTopology treats each Win32_Processor instance as a package
func (d *WindowsDriver) QueryTopology(_ context.Context) (Topology, error) {
	procs, err := d.processors()
	if err != nil {
		return Topology{}, err
	}
	var logical, cores int
	for _, p := range procs {
		logical += int(p.NumberOfLogicalProcessors)
		cores += int(p.NumberOfCores)
	}
	return evenTopology(logical, cores, len(procs), d.queryCaches()), nil
}

func (d *WindowsDriver) queryCaches() []ProcessorCache {
	var mems []Win32_CacheMemory
	q := wmi.CreateQuery(&mems, "")
	if err := wmi.Query(q, &mems); err != nil {
		zap.S().Debugw("querying Win32_CacheMemory failed", "error", err)
		return nil
	}
	caches := make([]ProcessorCache, 0, len(mems))
	for _, m := range mems {
		c := ProcessorCache{
			// 3 = primary, 4 = secondary, 5 = tertiary
			Level:         int(m.Level) - 2,
			Associativity: wmiAssociativity(m.Associativity),
			CacheSize:     int64(m.InstalledSize) << 10,
			Type:          CacheUnknown,
		}
		if c.Level < 1 {
			continue
		}
		if m.BlockSize != nil {
			c.LineSize = int(*m.BlockSize)
		}
		switch m.CacheType {
		case 3:
			c.Type = CacheInstruction
		case 4:
			c.Type = CacheData
		case 5:
			c.Type = CacheUnified
		}
		caches = append(caches, c)
	}
	return caches
}

// wmiAssociativity maps the CIM_CacheMemory Associativity enumeration to ways
func wmiAssociativity(v uint16) int {
	switch v {
	case 3:
		return 1
	case 4:
		return 2
	case 5:
		return 4
	case 6:
		return WaysFullyAssociative
	case 7:
		return 8
	case 8:
		return 16
	case 9:
		return 12
	case 10:
		return 24
	case 11:
		return 32
	case 12:
		return 48
	case 13:
		return 64
	case 14:
		return 20
	default:
		return WaysUnknown
	}
}

// QuerySystemTicks returns host ticks from gopsutil. DPC time is reported as SOFTIRQ.
func (d *WindowsDriver) QuerySystemTicks(ctx context.Context) (Ticks, error) {
	return gopsutilSystemTicks(ctx)
}

// QueryProcessorTicks returns per processor ticks from gopsutil
func (d *WindowsDriver) QueryProcessorTicks(ctx context.Context) ([]Ticks, error) {
	return gopsutilProcessorTicks(ctx)
}

// QueryCurrentFrequencies reports each package's CurrentClockSpeed for all
// of its logical processors
func (d *WindowsDriver) QueryCurrentFrequencies(_ context.Context) ([]int64, error) {
	procs, err := d.processors()
	if err != nil {
		return nil, err
	}
	var freqs []int64
	for _, p := range procs {
		hz := Unknown
		if p.CurrentClockSpeed > 0 {
			hz = int64(p.CurrentClockSpeed) * 1_000_000
		}
		for i := uint32(0); i < p.NumberOfLogicalProcessors; i++ {
			freqs = append(freqs, hz)
		}
	}
	return freqs, nil
}

// QueryMaxFrequency returns the highest MaxClockSpeed over all packages
func (d *WindowsDriver) QueryMaxFrequency(_ context.Context) (int64, error) {
	procs, err := d.processors()
	if err != nil {
		return Unknown, err
	}
	maxHz := Unknown
	for _, p := range procs {
		if hz := int64(p.MaxClockSpeed) * 1_000_000; hz > maxHz {
			maxHz = hz
		}
	}
	return maxHz, nil
}

// QueryLoadAverages is not supported: Windows has no load average
func (d *WindowsDriver) QueryLoadAverages(_ context.Context, n int) ([]float64, error) {
	return nil, errors.New("load average not supported on windows")
}

// QueryContextSwitches reads the raw PerfOS system counter
func (d *WindowsDriver) QueryContextSwitches(_ context.Context) (int64, error) {
	var sys []Win32_PerfRawData_PerfOS_System
	q := wmi.CreateQuery(&sys, "")
	if err := wmi.Query(q, &sys); err != nil {
		return Unknown, err
	}
	if len(sys) == 0 {
		return Unknown, nil
	}
	return int64(sys[0].ContextSwitchesPersec), nil
}

// QueryInterrupts reads the raw PerfOS processor counter for _Total
func (d *WindowsDriver) QueryInterrupts(_ context.Context) (int64, error) {
	var procs []Win32_PerfRawData_PerfOS_Processor
	q := wmi.CreateQuery(&procs, "WHERE Name = "+strconv.Quote("_Total"))
	if err := wmi.Query(q, &procs); err != nil {
		return Unknown, err
	}
	if len(procs) == 0 {
		return Unknown, nil
	}
	return int64(procs[0].InterruptsPersec), nil
}
