package cpu

import (
	"context"
	"errors"
	"fmt"

	"github.com/CristiGvl/picoTelemetry/internal/tuples"
)

// Unknown is the value reported for frequencies and counters a platform cannot supply.
const Unknown int64 = -1

// UnknownLoad is the value reported for a load average window a platform cannot supply.
const UnknownLoad float64 = -1

// ErrInvalidLoadWindow is returned when fewer than one or more than three load averages are requested.
var ErrInvalidLoadWindow = errors.New("load average window count must be between 1 and 3")

// TickType indexes a Ticks array. The order is fixed and must not change.
type TickType int

const (
	User TickType = iota
	Nice
	System
	Idle
	IOWait
	IRQ
	SoftIRQ
	Steal

	// TickTypeCount is the number of tick types.
	TickTypeCount
)

var tickTypeNames = [TickTypeCount]string{"user", "nice", "system", "idle", "iowait", "irq", "softirq", "steal"}

func (t TickType) String() string {
	if t < 0 || t >= TickTypeCount {
		return fmt.Sprintf("TickType(%d)", int(t))
	}
	return tickTypeNames[t]
}

// TickTypes returns all tick types in ordinal order.
func TickTypes() []TickType {
	types := make([]TickType, TickTypeCount)
	for i := range types {
		types[i] = TickType(i)
	}
	return types
}

// Ticks holds cumulative CPU time in milliseconds, indexed by TickType.
type Ticks [TickTypeCount]uint64

// Total returns the sum of all entries.
func (t Ticks) Total() uint64 {
	var total uint64
	for _, v := range t {
		total += v
	}
	return total
}

// Map returns the ticks keyed by tick type name.
func (t Ticks) Map() map[string]uint64 {
	m := make(map[string]uint64, TickTypeCount)
	for i, v := range t {
		m[TickType(i).String()] = v
	}
	return m
}

// LogicalProcessor is one schedulable hardware thread.
type LogicalProcessor struct {
	ProcessorNumber         int `json:"processor_number"`
	PhysicalProcessorNumber int `json:"physical_processor_number"`
	PhysicalPackageNumber   int `json:"physical_package_number"`
	NUMANode                int `json:"numa_node"`
}

// PhysicalProcessor is one core.
type PhysicalProcessor struct {
	PhysicalPackageNumber   int    `json:"physical_package_number"`
	PhysicalProcessorNumber int    `json:"physical_processor_number"`
	IDString                string `json:"id_string,omitempty"`
}

// CacheType describes what a ProcessorCache holds.
type CacheType int

const (
	CacheUnified CacheType = iota
	CacheInstruction
	CacheData
	CacheTrace
	CacheUnknown
)

func (c CacheType) String() string {
	switch c {
	case CacheUnified:
		return "UNIFIED"
	case CacheInstruction:
		return "INSTRUCTION"
	case CacheData:
		return "DATA"
	case CacheTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c CacheType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

const (
	// WaysUnknown is the associativity of a cache whose organisation was not reported.
	WaysUnknown = 0
	// WaysFullyAssociative is the associativity of a fully associative cache.
	WaysFullyAssociative = 0xff
)

// ProcessorCache describes one level of the cache hierarchy.
type ProcessorCache struct {
	Level         int       `json:"level"`
	Associativity int       `json:"associativity"`
	LineSize      int       `json:"line_size"`
	CacheSize     int64     `json:"cache_size"`
	Type          CacheType `json:"type"`
}

// Topology is what a driver reports about the processor layout: the logical
// processors, the physical processors (nil when the platform cannot tell
// cores from threads) and the cache hierarchy (nil when unknown).
type Topology = tuples.Triplet[[]LogicalProcessor, []PhysicalProcessor, []ProcessorCache]

// Driver is implemented once per platform and supplies the raw values the
// CentralProcessor normalises. Methods return an error when the value could
// not be read; the CentralProcessor turns those into the unknown sentinels.
// Per processor slices are indexed by ProcessorNumber, not by position in
// the topology, so gaps left by offline processors stay empty.
type Driver interface {
	QueryProcessorIdentity(ctx context.Context) (ProcessorIdentifier, error)
	QueryTopology(ctx context.Context) (Topology, error)
	QuerySystemTicks(ctx context.Context) (Ticks, error)
	QueryProcessorTicks(ctx context.Context) ([]Ticks, error)
	QueryCurrentFrequencies(ctx context.Context) ([]int64, error)
	QueryMaxFrequency(ctx context.Context) (int64, error)
	QueryLoadAverages(ctx context.Context, n int) ([]float64, error)
	QueryContextSwitches(ctx context.Context) (int64, error)
	QueryInterrupts(ctx context.Context) (int64, error)
}

// NewDriver returns the driver for the current platform
func NewDriver() Driver {
	return newPlatformDriver()
}
