package cpu

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CristiGvl/picoTelemetry/internal/memo"
	"github.com/CristiGvl/picoTelemetry/internal/tuples"
)

var errUnavailable = errors.New("unavailable")

type fakeDriver struct {
	mu sync.Mutex

	identity    ProcessorIdentifier
	identityErr error
	topology    Topology
	topologyErr error

	systemTicks    Ticks
	processorTicks []Ticks
	ticksErr       error
	freqs          []int64
	maxFreq        int64
	loads          []float64
	loadsErr       error
	switches       int64
	interrupts     int64

	systemTickCalls int
}

func (f *fakeDriver) QueryProcessorIdentity(context.Context) (ProcessorIdentifier, error) {
	return f.identity, f.identityErr
}

func (f *fakeDriver) QueryTopology(context.Context) (Topology, error) {
	return f.topology, f.topologyErr
}

func (f *fakeDriver) QuerySystemTicks(context.Context) (Ticks, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.systemTickCalls++
	return f.systemTicks, f.ticksErr
}

func (f *fakeDriver) QueryProcessorTicks(context.Context) ([]Ticks, error) {
	return f.processorTicks, f.ticksErr
}

func (f *fakeDriver) QueryCurrentFrequencies(context.Context) ([]int64, error) {
	return f.freqs, nil
}

func (f *fakeDriver) QueryMaxFrequency(context.Context) (int64, error) {
	return f.maxFreq, nil
}

func (f *fakeDriver) QueryLoadAverages(_ context.Context, n int) ([]float64, error) {
	if f.loadsErr != nil {
		return nil, f.loadsErr
	}
	if n < len(f.loads) {
		return f.loads[:n], nil
	}
	return f.loads, nil
}

func (f *fakeDriver) QueryContextSwitches(context.Context) (int64, error) {
	return f.switches, nil
}

func (f *fakeDriver) QueryInterrupts(context.Context) (int64, error) {
	return f.interrupts, nil
}

func (f *fakeDriver) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.systemTickCalls
}

// twoByTwo is one package with two cores of two threads each.
func twoByTwo() *fakeDriver {
	logical := []LogicalProcessor{
		{ProcessorNumber: 0, PhysicalProcessorNumber: 0},
		{ProcessorNumber: 1, PhysicalProcessorNumber: 0},
		{ProcessorNumber: 2, PhysicalProcessorNumber: 1},
		{ProcessorNumber: 3, PhysicalProcessorNumber: 1},
	}
	physical := []PhysicalProcessor{
		{PhysicalProcessorNumber: 0},
		{PhysicalProcessorNumber: 1},
	}
	caches := []ProcessorCache{
		{Level: 2, Associativity: 4, LineSize: 64, CacheSize: 256 << 10, Type: CacheUnified},
		{Level: 1, Associativity: 8, LineSize: 64, CacheSize: 32 << 10, Type: CacheData},
		{Level: 1, Associativity: 8, LineSize: 64, CacheSize: 32 << 10, Type: CacheInstruction},
		{Level: 1, Associativity: 8, LineSize: 64, CacheSize: 32 << 10, Type: CacheData},
	}
	var sys Ticks
	sys[User], sys[System], sys[Idle] = 400, 200, 1000
	return &fakeDriver{
		identity: ProcessorIdentifier{
			Vendor:     "GenuineIntel",
			Name:       "Intel(R) Core(TM) i7-8700K CPU @ 3.70GHz",
			Family:     "6",
			Model:      "158",
			Stepping:   "10",
			CPU64Bit:   true,
			VendorFreq: 3_700_000_000,
		},
		topology:       tuples.NewTriplet(logical, physical, caches),
		systemTicks:    sys,
		processorTicks: []Ticks{sys, sys, sys},
		freqs:          []int64{3_600_000_000, 0, -5, 3_900_000_000},
		maxFreq:        4_700_000_000,
		loads:          []float64{1.5, 0.75, -1},
		switches:       12345,
		interrupts:     6789,
	}
}

func newProcessor(t *testing.T, d Driver, opts ...Option) *CentralProcessor {
	t.Helper()
	cp, err := New(context.Background(), d, opts...)
	require.NoError(t, err)
	return cp
}

func TestNewDerivesCounts(t *testing.T) {
	cp := newProcessor(t, twoByTwo())

	assert.Equal(t, 4, cp.LogicalProcessorCount())
	assert.Equal(t, 2, cp.PhysicalProcessorCount())
	assert.Equal(t, 1, cp.PhysicalPackageCount())

	physical, ok := cp.PhysicalProcessors()
	require.True(t, ok)
	assert.Len(t, physical, 2)
	assert.Equal(t, "Intel64 Family 6 Model 158 Stepping 10", cp.ProcessorIdentifier().Identifier())
}

func TestNewTopologyErrorIsFatal(t *testing.T) {
	d := twoByTwo()
	d.topologyErr = errUnavailable

	_, err := New(context.Background(), d)
	assert.ErrorIs(t, err, errUnavailable)
}

func TestNewIdentityErrorFallsBackToUnknown(t *testing.T) {
	d := twoByTwo()
	d.identityErr = errUnavailable

	cp := newProcessor(t, d)
	id := cp.ProcessorIdentifier()
	assert.Equal(t, UnknownVendor, id.Vendor)
	assert.Equal(t, Unknown, id.VendorFreq)
}

func TestNewEmptyTopologyUsesFlatLayout(t *testing.T) {
	d := &fakeDriver{topology: tuples.NewTriplet[[]LogicalProcessor, []PhysicalProcessor, []ProcessorCache](nil, nil, nil)}

	cp := newProcessor(t, d)
	assert.Positive(t, cp.LogicalProcessorCount())
	assert.Equal(t, cp.LogicalProcessorCount(), cp.PhysicalProcessorCount())
	assert.Equal(t, 1, cp.PhysicalPackageCount())
	_, ok := cp.PhysicalProcessors()
	assert.False(t, ok)
	assert.Nil(t, cp.ProcessorCaches())
}

func TestProcessorCachesDeduplicatedAndSorted(t *testing.T) {
	cp := newProcessor(t, twoByTwo())

	caches := cp.ProcessorCaches()
	require.Len(t, caches, 3)
	assert.Equal(t, 1, caches[0].Level)
	assert.Equal(t, CacheInstruction, caches[0].Type)
	assert.Equal(t, 1, caches[1].Level)
	assert.Equal(t, CacheData, caches[1].Type)
	assert.Equal(t, 2, caches[2].Level)
}

func TestSingleCoreTwoThreadsSharesL1(t *testing.T) {
	l1 := ProcessorCache{Level: 1, Associativity: 8, LineSize: 64, CacheSize: 32 << 10, Type: CacheData}
	d := &fakeDriver{topology: tuples.NewTriplet(
		[]LogicalProcessor{
			{ProcessorNumber: 0, PhysicalProcessorNumber: 0},
			{ProcessorNumber: 1, PhysicalProcessorNumber: 0},
		},
		[]PhysicalProcessor{{PhysicalProcessorNumber: 0}},
		// one entry per thread, the hierarchy has one
		[]ProcessorCache{l1, l1},
	)}

	cp := newProcessor(t, d)
	assert.Equal(t, 2, cp.LogicalProcessorCount())
	assert.Equal(t, 1, cp.PhysicalProcessorCount())
	assert.Equal(t, []ProcessorCache{l1}, cp.ProcessorCaches())
}

func TestProcessorTicksOneRowPerLogicalProcessor(t *testing.T) {
	cp := newProcessor(t, twoByTwo())

	rows := cp.ProcessorTicks()
	require.Len(t, rows, cp.LogicalProcessorCount())
	assert.Equal(t, uint64(400), rows[0][User])
	// the driver reported only three rows
	assert.Equal(t, Ticks{}, rows[3])
	for _, row := range rows {
		assert.Len(t, row, int(TickTypeCount))
	}
}

func TestTicksZeroOnError(t *testing.T) {
	d := twoByTwo()
	d.ticksErr = errUnavailable
	cp := newProcessor(t, d)

	assert.Equal(t, Ticks{}, cp.SystemTicks())
	rows := cp.ProcessorTicks()
	assert.Len(t, rows, 4)
	assert.Equal(t, Ticks{}, rows[0])
}

func TestPerProcessorRowsFollowProcessorNumber(t *testing.T) {
	// processor 2 is offline
	var a, b, d Ticks
	a[User], b[User], d[User] = 100, 200, 400
	drv := &fakeDriver{
		topology: tuples.NewTriplet(
			[]LogicalProcessor{
				{ProcessorNumber: 0, PhysicalProcessorNumber: 0},
				{ProcessorNumber: 1, PhysicalProcessorNumber: 1},
				{ProcessorNumber: 3, PhysicalProcessorNumber: 3},
			},
			[]PhysicalProcessor(nil),
			[]ProcessorCache(nil),
		),
		processorTicks: []Ticks{a, b, {}, d},
		freqs:          []int64{1_000_000_000, 2_000_000_000, Unknown, 4_000_000_000},
	}
	cp := newProcessor(t, drv)

	rows := cp.ProcessorTicks()
	require.Len(t, rows, 3)
	assert.Equal(t, []Ticks{a, b, d}, rows)
	assert.Equal(t, []int64{1_000_000_000, 2_000_000_000, 4_000_000_000}, cp.CurrentFrequencies())
}

func TestSystemTicksMemoized(t *testing.T) {
	mock := clock.NewMock()
	d := twoByTwo()
	cp := newProcessor(t, d,
		WithExpiration(time.Second),
		WithMemoOptions(memo.WithClock(mock)))

	first := cp.SystemTicks()
	cp.SystemTicks()
	assert.Equal(t, 1, d.calls())

	mock.Add(500 * time.Millisecond)
	cp.SystemTicks()
	assert.Equal(t, 1, d.calls())

	mock.Add(time.Second)
	assert.Equal(t, first, cp.SystemTicks())
	assert.Equal(t, 2, d.calls())
}

func TestCurrentFrequencies(t *testing.T) {
	cp := newProcessor(t, twoByTwo())

	freqs := cp.CurrentFrequencies()
	assert.Equal(t, []int64{3_600_000_000, Unknown, Unknown, 3_900_000_000}, freqs)
	for _, f := range freqs {
		assert.True(t, f == Unknown || f > 0)
	}
}

func TestCurrentFrequenciesPadded(t *testing.T) {
	d := twoByTwo()
	d.freqs = []int64{2_000_000_000}
	cp := newProcessor(t, d)

	assert.Equal(t, []int64{2_000_000_000, Unknown, Unknown, Unknown}, cp.CurrentFrequencies())
}

func TestCounters(t *testing.T) {
	d := twoByTwo()
	cp := newProcessor(t, d)
	assert.Equal(t, int64(4_700_000_000), cp.MaxFrequency())
	assert.Equal(t, int64(12345), cp.ContextSwitches())
	assert.Equal(t, int64(6789), cp.Interrupts())

	d = twoByTwo()
	d.maxFreq, d.switches, d.interrupts = 0, Unknown, 0
	cp = newProcessor(t, d)
	assert.Equal(t, Unknown, cp.MaxFrequency())
	assert.Equal(t, Unknown, cp.ContextSwitches())
	assert.Equal(t, Unknown, cp.Interrupts())
}

func TestLoadAverage(t *testing.T) {
	cp := newProcessor(t, twoByTwo())

	for _, n := range []int{0, 4, -1} {
		_, err := cp.LoadAverage(n)
		assert.ErrorIs(t, err, ErrInvalidLoadWindow, "n=%d", n)
	}

	for n := 1; n <= 3; n++ {
		loads, err := cp.LoadAverage(n)
		require.NoError(t, err)
		assert.Len(t, loads, n)
	}

	loads, err := cp.LoadAverage(3)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 0.75, UnknownLoad}, loads)
}

func TestLoadAverageUnsupported(t *testing.T) {
	d := twoByTwo()
	d.loadsErr = errUnavailable
	cp := newProcessor(t, d)

	loads, err := cp.LoadAverage(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{UnknownLoad, UnknownLoad}, loads)
}

func TestLogicalProcessorsReturnsCopy(t *testing.T) {
	cp := newProcessor(t, twoByTwo())

	lps := cp.LogicalProcessors()
	lps[0].ProcessorNumber = 99
	assert.Equal(t, 0, cp.LogicalProcessors()[0].ProcessorNumber)
}

func TestCentralProcessorOnHost(t *testing.T) {
	if testing.Short() {
		t.Skip("reads the host processor")
	}
	cp, err := NewCentralProcessor(context.Background())
	require.NoError(t, err)

	assert.Positive(t, cp.LogicalProcessorCount())
	assert.Positive(t, cp.PhysicalProcessorCount())
	assert.LessOrEqual(t, cp.PhysicalProcessorCount(), cp.LogicalProcessorCount())
	assert.LessOrEqual(t, cp.PhysicalPackageCount(), cp.PhysicalProcessorCount())
	assert.Len(t, cp.ProcessorTicks(), cp.LogicalProcessorCount())
	for _, f := range cp.CurrentFrequencies() {
		assert.True(t, f == Unknown || f > 0)
	}
	loads, err := cp.LoadAverage(3)
	require.NoError(t, err)
	assert.Len(t, loads, 3)
}
