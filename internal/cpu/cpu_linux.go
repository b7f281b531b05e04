//go:build linux

package cpu

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/sysfs"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/CristiGvl/picoTelemetry/internal/tuples"
)

// LinuxDriver reads processor information from procfs and sysfs
type LinuxDriver struct {
	proc    procfs.FS
	sys     sysfs.FS
	sysPath string
	err     error
}

// newPlatformDriver creates a driver over the default /proc and /sys mounts
func newPlatformDriver() Driver {
	return NewLinuxDriver(procfs.DefaultMountPoint, sysfs.DefaultMountPoint)
}

// NewLinuxDriver creates a driver reading the given procfs and sysfs mount
// points. A missing mount point is reported by every query.
func NewLinuxDriver(procPath, sysPath string) *LinuxDriver {
	d := &LinuxDriver{sysPath: sysPath}
	var errProc, errSys error
	d.proc, errProc = procfs.NewFS(procPath)
	d.sys, errSys = sysfs.NewFS(sysPath)
	d.err = multierr.Combine(errProc, errSys)
	if d.err != nil {
		zap.S().Warnw("processor filesystems unavailable", "proc", procPath, "sys", sysPath, "error", d.err)
	}
	return d
}

// QueryProcessorIdentity reads the first /proc/cpuinfo entry
func (d *LinuxDriver) QueryProcessorIdentity(_ context.Context) (ProcessorIdentifier, error) {
	if d.err != nil {
		return ProcessorIdentifier{}, d.err
	}
	infos, err := d.proc.CPUInfo()
	if err != nil {
		return ProcessorIdentifier{}, fmt.Errorf("reading cpuinfo: %w", err)
	}
	if len(infos) == 0 {
		return ProcessorIdentifier{}, errors.New("cpuinfo has no processors")
	}
	info := infos[0]

	id := ProcessorIdentifier{
		Vendor:     info.VendorID,
		Name:       info.ModelName,
		Family:     info.CPUFamily,
		Model:      info.Model,
		Stepping:   info.Stepping,
		CPU64Bit:   strings.Contains(runtime.GOARCH, "64"),
		VendorFreq: parseHertz(info.ModelName),
	}
	if id.Vendor == "" {
		id.Vendor = UnknownVendor
	}
	for _, flag := range info.Flags {
		// long mode
		if flag == "lm" {
			id.CPU64Bit = true
			break
		}
	}
	id.ProcessorID = x86Signature(info.CPUFamily, info.Model, info.Stepping)
	return id, nil
}

// x86Signature rebuilds the CPUID leaf 1 EAX value from family, model and
// stepping. It returns an empty string when any of them is not numeric.
func x86Signature(family, model, stepping string) string {
	f, err1 := strconv.Atoi(family)
	m, err2 := strconv.Atoi(model)
	s, err3 := strconv.Atoi(stepping)
	if err1 != nil || err2 != nil || err3 != nil {
		return ""
	}
	var sig int
	if f > 0xf {
		sig |= (f - 0xf) << 20
		f = 0xf
	}
	sig |= (m >> 4) << 16
	sig |= f << 8
	sig |= (m & 0xf) << 4
	sig |= s & 0xf
	return fmt.Sprintf("%08X", sig)
}

// QueryTopology maps each logical processor to its core, package and NUMA
// node, falling back to sysfs when cpuinfo carries no physical ids.
func (d *LinuxDriver) QueryTopology(_ context.Context) (Topology, error) {
	if d.err != nil {
		return Topology{}, d.err
	}
	infos, err := d.proc.CPUInfo()
	if err != nil {
		return Topology{}, fmt.Errorf("reading cpuinfo: %w", err)
	}

	sysCPUs := make(map[string]sysfs.CPU)
	if cpus, err := d.sys.CPUs(); err == nil {
		for _, c := range cpus {
			sysCPUs[c.Number()] = c
		}
	}

	logical := make([]LogicalProcessor, 0, len(infos))
	haveCores := true
	for _, info := range infos {
		n := int(info.Processor)
		lp := LogicalProcessor{ProcessorNumber: n, NUMANode: d.numaNode(n)}

		pkg, errPkg := strconv.Atoi(info.PhysicalID)
		core, errCore := strconv.Atoi(info.CoreID)
		if errPkg != nil || errCore != nil {
			pkg, core, err = topologyFromSysfs(sysCPUs[strconv.Itoa(n)])
			if err != nil {
				haveCores = false
				pkg, core = 0, n
			}
		}
		lp.PhysicalPackageNumber = pkg
		lp.PhysicalProcessorNumber = core
		logical = append(logical, lp)
	}

	var physical []PhysicalProcessor
	if haveCores && len(logical) > 0 {
		seen := make(map[[2]int]struct{})
		for _, lp := range logical {
			k := [2]int{lp.PhysicalPackageNumber, lp.PhysicalProcessorNumber}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			physical = append(physical, PhysicalProcessor{
				PhysicalPackageNumber:   lp.PhysicalPackageNumber,
				PhysicalProcessorNumber: lp.PhysicalProcessorNumber,
			})
		}
	}

	return tuples.NewTriplet(logical, physical, d.queryCaches()), nil
}

func topologyFromSysfs(c sysfs.CPU) (int, int, error) {
	if c == "" {
		return 0, 0, errors.New("cpu not present in sysfs")
	}
	topo, err := c.Topology()
	if err != nil {
		return 0, 0, err
	}
	pkg, err := strconv.Atoi(topo.PhysicalPackageID)
	if err != nil {
		return 0, 0, err
	}
	core, err := strconv.Atoi(topo.CoreID)
	if err != nil {
		return 0, 0, err
	}
	return pkg, core, nil
}

func (d *LinuxDriver) numaNode(cpu int) int {
	matches, _ := filepath.Glob(filepath.Join(d.sysPath, "devices/system/cpu", "cpu"+strconv.Itoa(cpu), "node[0-9]*"))
	for _, m := range matches {
		if node, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(m), "node")); err == nil {
			return node
		}
	}
	return 0
}

// queryCaches reads the cache hierarchy of cpu0. It returns nil when sysfs
// does not expose it.
func (d *LinuxDriver) queryCaches() []ProcessorCache {
	dirs, _ := filepath.Glob(filepath.Join(d.sysPath, "devices/system/cpu/cpu0/cache/index[0-9]*"))
	if len(dirs) == 0 {
		return nil
	}
	var caches []ProcessorCache
	for _, dir := range dirs {
		level, err := readSysInt(filepath.Join(dir, "level"))
		if err != nil {
			continue
		}
		c := ProcessorCache{Level: level, Type: CacheUnknown}
		if ways, err := readSysInt(filepath.Join(dir, "ways_of_associativity")); err == nil {
			c.Associativity = ways
		}
		if line, err := readSysInt(filepath.Join(dir, "coherency_line_size")); err == nil {
			c.LineSize = line
		}
		if size, err := readSysString(filepath.Join(dir, "size")); err == nil {
			c.CacheSize = parseCacheSize(size)
		}
		if typ, err := readSysString(filepath.Join(dir, "type")); err == nil {
			c.Type = parseCacheType(typ)
		}
		caches = append(caches, c)
	}
	return caches
}

func parseCacheType(s string) CacheType {
	switch strings.ToLower(s) {
	case "unified":
		return CacheUnified
	case "instruction":
		return CacheInstruction
	case "data":
		return CacheData
	case "trace":
		return CacheTrace
	default:
		return CacheUnknown
	}
}

// parseCacheSize parses sysfs sizes such as "32K", which are binary multiples.
func parseCacheSize(s string) int64 {
	if s == "" {
		return 0
	}
	switch s[len(s)-1] {
	case 'K', 'M', 'G':
		s += "iB"
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0
	}
	return int64(n)
}

func readSysString(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func readSysInt(path string) (int, error) {
	s, err := readSysString(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

func ticksFromStat(s procfs.CPUStat) Ticks {
	var t Ticks
	t[User] = millis(s.User)
	t[Nice] = millis(s.Nice)
	t[System] = millis(s.System)
	t[Idle] = millis(s.Idle)
	t[IOWait] = millis(s.Iowait)
	t[IRQ] = millis(s.IRQ)
	t[SoftIRQ] = millis(s.SoftIRQ)
	t[Steal] = millis(s.Steal)
	return t
}

// millis converts procfs seconds to milliseconds
func millis(seconds float64) uint64 {
	if seconds <= 0 {
		return 0
	}
	return uint64(math.Round(seconds * 1000))
}

// QuerySystemTicks reads the aggregate cpu line of /proc/stat
func (d *LinuxDriver) QuerySystemTicks(_ context.Context) (Ticks, error) {
	if d.err != nil {
		return Ticks{}, d.err
	}
	stat, err := d.proc.Stat()
	if err != nil {
		return Ticks{}, fmt.Errorf("reading stat: %w", err)
	}
	return ticksFromStat(stat.CPUTotal), nil
}

// QueryProcessorTicks reads the per cpu lines of /proc/stat, placing each at
// its processor number. Offline processors are left zero.
func (d *LinuxDriver) QueryProcessorTicks(_ context.Context) ([]Ticks, error) {
	if d.err != nil {
		return nil, d.err
	}
	stat, err := d.proc.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading stat: %w", err)
	}
	size := 0
	for n := range stat.CPU {
		if int(n)+1 > size {
			size = int(n) + 1
		}
	}
	ticks := make([]Ticks, size)
	for n, s := range stat.CPU {
		ticks[int(n)] = ticksFromStat(s)
	}
	return ticks, nil
}

// QueryCurrentFrequencies prefers cpufreq and falls back to cpuinfo MHz.
func (d *LinuxDriver) QueryCurrentFrequencies(_ context.Context) ([]int64, error) {
	if d.err != nil {
		return nil, d.err
	}
	var freqs []int64
	set := func(n int, hz int64) {
		for len(freqs) <= n {
			freqs = append(freqs, Unknown)
		}
		freqs[n] = hz
	}

	if stats, err := d.sys.SystemCpufreq(); err == nil {
		for _, s := range stats {
			n, err := strconv.Atoi(strings.TrimPrefix(s.Name, "cpu"))
			if err != nil {
				continue
			}
			switch {
			case s.ScalingCurrentFrequency != nil:
				set(n, int64(*s.ScalingCurrentFrequency)*1000)
			case s.CpuinfoCurrentFrequency != nil:
				set(n, int64(*s.CpuinfoCurrentFrequency)*1000)
			}
		}
	}
	if len(freqs) > 0 {
		return freqs, nil
	}

	infos, err := d.proc.CPUInfo()
	if err != nil {
		return nil, fmt.Errorf("reading cpuinfo: %w", err)
	}
	for _, info := range infos {
		if info.CPUMHz > 0 {
			set(int(info.Processor), int64(info.CPUMHz*1e6))
		}
	}
	return freqs, nil
}

// QueryMaxFrequency returns the highest cpuinfo_max_freq over all processors
func (d *LinuxDriver) QueryMaxFrequency(_ context.Context) (int64, error) {
	if d.err != nil {
		return Unknown, d.err
	}
	stats, err := d.sys.SystemCpufreq()
	if err != nil {
		return Unknown, fmt.Errorf("reading cpufreq: %w", err)
	}
	maxHz := Unknown
	for _, s := range stats {
		if s.CpuinfoMaximumFrequency != nil {
			if hz := int64(*s.CpuinfoMaximumFrequency) * 1000; hz > maxHz {
				maxHz = hz
			}
		}
	}
	return maxHz, nil
}

// QueryLoadAverages reads /proc/loadavg
func (d *LinuxDriver) QueryLoadAverages(_ context.Context, n int) ([]float64, error) {
	if d.err != nil {
		return nil, d.err
	}
	avg, err := d.proc.LoadAvg()
	if err != nil {
		return nil, fmt.Errorf("reading loadavg: %w", err)
	}
	loads := []float64{avg.Load1, avg.Load5, avg.Load15}
	if n < len(loads) {
		loads = loads[:n]
	}
	return loads, nil
}

// QueryContextSwitches reads the ctxt line of /proc/stat
func (d *LinuxDriver) QueryContextSwitches(_ context.Context) (int64, error) {
	if d.err != nil {
		return Unknown, d.err
	}
	stat, err := d.proc.Stat()
	if err != nil {
		return Unknown, fmt.Errorf("reading stat: %w", err)
	}
	return int64(stat.ContextSwitches), nil
}

// QueryInterrupts reads the intr line of /proc/stat
func (d *LinuxDriver) QueryInterrupts(_ context.Context) (int64, error) {
	if d.err != nil {
		return Unknown, d.err
	}
	stat, err := d.proc.Stat()
	if err != nil {
		return Unknown, fmt.Errorf("reading stat: %w", err)
	}
	return int64(stat.IRQTotal), nil
}
