package cpu

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/CristiGvl/picoTelemetry/internal/memo"
)

// CentralProcessor serves processor topology and counters for one host.
// Topology and identity are discovered once in New and never change; tick
// counters and frequencies are read through short-lived caches.
type CentralProcessor struct {
	driver Driver

	identifier   ProcessorIdentifier
	logical      []LogicalProcessor
	physical     []PhysicalProcessor
	hasPhysical  bool
	caches       []ProcessorCache
	packageCount int
	coreCount    int

	systemTicks     *memo.Memoizer[Ticks]
	processorTicks  *memo.Memoizer[[]Ticks]
	maxFreq         *memo.Memoizer[int64]
	contextSwitches *memo.Memoizer[int64]
	interrupts      *memo.Memoizer[int64]
}

// Option configures a CentralProcessor
type Option func(*options)

type options struct {
	expiration time.Duration
	memoOpts   []memo.Option
}

// WithExpiration sets the TTL of the tick and counter caches.
func WithExpiration(ttl time.Duration) Option {
	return func(o *options) {
		o.expiration = ttl
	}
}

// WithMemoOptions passes options to every cache the processor creates.
func WithMemoOptions(opts ...memo.Option) Option {
	return func(o *options) {
		o.memoOpts = append(o.memoOpts, opts...)
	}
}

// NewCentralProcessor builds a CentralProcessor over the current platform's driver.
func NewCentralProcessor(ctx context.Context, opts ...Option) (*CentralProcessor, error) {
	return New(ctx, NewDriver(), opts...)
}

// New discovers the topology and identity through driver and returns the
// processor. Only a failure to read the topology is fatal.
func New(ctx context.Context, driver Driver, opts ...Option) (*CentralProcessor, error) {
	o := options{expiration: memo.DefaultExpiration()}
	for _, opt := range opts {
		opt(&o)
	}

	cp := &CentralProcessor{driver: driver}

	topology, err := driver.QueryTopology(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying processor topology: %w", err)
	}
	cp.logical, cp.physical, cp.caches = topology.Unpack()
	if len(cp.logical) == 0 {
		n := runtime.NumCPU()
		zap.S().Warnw("driver reported no logical processors, assuming a flat layout", "count", n)
		cp.logical = make([]LogicalProcessor, n)
		for i := range cp.logical {
			cp.logical[i] = LogicalProcessor{ProcessorNumber: i, PhysicalProcessorNumber: i}
		}
	}
	cp.hasPhysical = cp.physical != nil
	cp.caches = normalizeCaches(cp.caches)

	cp.identifier, err = driver.QueryProcessorIdentity(ctx)
	if err != nil {
		zap.S().Warnw("could not identify processor", "error", err)
		cp.identifier = UnknownIdentifier()
	}
	if cp.identifier.VendorFreq <= 0 {
		cp.identifier.VendorFreq = Unknown
	}

	cp.packageCount, cp.coreCount = countPackagesAndCores(cp.logical)

	cp.systemTicks = memo.New(func() (Ticks, error) {
		return driver.QuerySystemTicks(context.Background())
	}, o.expiration, o.memoOpts...)
	cp.processorTicks = memo.New(func() ([]Ticks, error) {
		return driver.QueryProcessorTicks(context.Background())
	}, o.expiration, o.memoOpts...)
	cp.maxFreq = memo.New(func() (int64, error) {
		return driver.QueryMaxFrequency(context.Background())
	}, o.expiration, o.memoOpts...)
	cp.contextSwitches = memo.New(func() (int64, error) {
		return driver.QueryContextSwitches(context.Background())
	}, o.expiration, o.memoOpts...)
	cp.interrupts = memo.New(func() (int64, error) {
		return driver.QueryInterrupts(context.Background())
	}, o.expiration, o.memoOpts...)

	return cp, nil
}

func countPackagesAndCores(logical []LogicalProcessor) (int, int) {
	type core struct{ pkg, core int }
	packages := make(map[int]struct{})
	cores := make(map[core]struct{})
	for _, lp := range logical {
		packages[lp.PhysicalPackageNumber] = struct{}{}
		cores[core{lp.PhysicalPackageNumber, lp.PhysicalProcessorNumber}] = struct{}{}
	}
	return len(packages), len(cores)
}

// normalizeCaches keeps one entry per (level, type) and orders them by level
// then type.
func normalizeCaches(caches []ProcessorCache) []ProcessorCache {
	if caches == nil {
		return nil
	}
	type key struct {
		level int
		typ   CacheType
	}
	seen := make(map[key]struct{}, len(caches))
	out := make([]ProcessorCache, 0, len(caches))
	for _, c := range caches {
		k := key{c.Level, c.Type}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// ProcessorIdentifier returns the processor identity.
func (cp *CentralProcessor) ProcessorIdentifier() ProcessorIdentifier {
	return cp.identifier
}

// LogicalProcessors returns the logical processors in processor number order.
func (cp *CentralProcessor) LogicalProcessors() []LogicalProcessor {
	return append([]LogicalProcessor(nil), cp.logical...)
}

// PhysicalProcessors returns the cores. ok is false when the platform cannot
// tell cores from hardware threads; use PhysicalProcessorCount instead.
func (cp *CentralProcessor) PhysicalProcessors() (procs []PhysicalProcessor, ok bool) {
	if !cp.hasPhysical {
		return nil, false
	}
	return append([]PhysicalProcessor(nil), cp.physical...), true
}

// ProcessorCaches returns the cache hierarchy, or nil when unknown.
func (cp *CentralProcessor) ProcessorCaches() []ProcessorCache {
	if cp.caches == nil {
		return nil
	}
	return append([]ProcessorCache(nil), cp.caches...)
}

// LogicalProcessorCount returns the number of hardware threads.
func (cp *CentralProcessor) LogicalProcessorCount() int {
	return len(cp.logical)
}

// PhysicalProcessorCount returns the number of cores, derived from the
// logical processor mapping.
func (cp *CentralProcessor) PhysicalProcessorCount() int {
	return cp.coreCount
}

// PhysicalPackageCount returns the number of sockets, derived from the
// logical processor mapping.
func (cp *CentralProcessor) PhysicalPackageCount() int {
	return cp.packageCount
}

// SystemTicks returns the system wide tick counters. All entries are zero
// when the platform could not be read.
func (cp *CentralProcessor) SystemTicks() Ticks {
	ticks, err := cp.systemTicks.Get()
	if err != nil {
		zap.S().Debugw("failed to query system ticks", "error", err)
		return Ticks{}
	}
	return ticks
}

// ProcessorTicks returns one Ticks per logical processor. Rows the platform
// did not report are zero.
func (cp *CentralProcessor) ProcessorTicks() []Ticks {
	out := make([]Ticks, len(cp.logical))
	ticks, err := cp.processorTicks.Get()
	if err != nil {
		zap.S().Debugw("failed to query processor ticks", "error", err)
		return out
	}
	for i, lp := range cp.logical {
		if n := lp.ProcessorNumber; n >= 0 && n < len(ticks) {
			out[i] = ticks[n]
		}
	}
	return out
}

// CurrentFrequencies returns the current frequency in Hz of each logical
// processor, with Unknown for processors the platform did not report.
func (cp *CentralProcessor) CurrentFrequencies() []int64 {
	out := make([]int64, len(cp.logical))
	for i := range out {
		out[i] = Unknown
	}
	freqs, err := cp.driver.QueryCurrentFrequencies(context.Background())
	if err != nil {
		zap.S().Debugw("failed to query current frequencies", "error", err)
		return out
	}
	for i, lp := range cp.logical {
		if n := lp.ProcessorNumber; n >= 0 && n < len(freqs) && freqs[n] > 0 {
			out[i] = freqs[n]
		}
	}
	return out
}

// MaxFrequency returns the maximum frequency in Hz, or Unknown.
func (cp *CentralProcessor) MaxFrequency() int64 {
	return positiveOrUnknown(cp.maxFreq.Get())
}

// ContextSwitches returns the cumulative context switch count, or Unknown.
func (cp *CentralProcessor) ContextSwitches() int64 {
	return positiveOrUnknown(cp.contextSwitches.Get())
}

// Interrupts returns the cumulative interrupt count, or Unknown.
func (cp *CentralProcessor) Interrupts() int64 {
	return positiveOrUnknown(cp.interrupts.Get())
}

// LoadAverage returns the 1, 5 and 15 minute load averages, truncated to n
// entries. Entries the platform cannot report are UnknownLoad.
func (cp *CentralProcessor) LoadAverage(n int) ([]float64, error) {
	if n < 1 || n > 3 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLoadWindow, n)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = UnknownLoad
	}
	loads, err := cp.driver.QueryLoadAverages(context.Background(), n)
	if err != nil {
		zap.S().Debugw("failed to query load averages", "error", err)
		return out, nil
	}
	for i := 0; i < n && i < len(loads); i++ {
		if loads[i] >= 0 {
			out[i] = loads[i]
		}
	}
	return out, nil
}

func positiveOrUnknown(v int64, err error) int64 {
	if err != nil {
		zap.S().Debugw("processor counter unavailable", "error", err)
		return Unknown
	}
	if v <= 0 {
		return Unknown
	}
	return v
}
