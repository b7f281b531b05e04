package cli

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CristiGvl/picoTelemetry/internal/cpu"
	"github.com/CristiGvl/picoTelemetry/internal/memo"
	"github.com/CristiGvl/picoTelemetry/internal/memory"
	"github.com/CristiGvl/picoTelemetry/internal/process"
	"github.com/CristiGvl/picoTelemetry/internal/temps"
	"github.com/CristiGvl/picoTelemetry/internal/tuples"
)

type stubProcessor struct{}

func (stubProcessor) QueryProcessorIdentity(context.Context) (cpu.ProcessorIdentifier, error) {
	return cpu.ProcessorIdentifier{
		Vendor:     "AuthenticAMD",
		Name:       "AMD Ryzen 7 3700X 8-Core Processor",
		Family:     "23",
		Model:      "113",
		Stepping:   "0",
		CPU64Bit:   true,
		VendorFreq: 3_600_000_000,
	}, nil
}

func (stubProcessor) QueryTopology(context.Context) (cpu.Topology, error) {
	logical := []cpu.LogicalProcessor{
		{ProcessorNumber: 0, PhysicalProcessorNumber: 0},
		{ProcessorNumber: 1, PhysicalProcessorNumber: 1},
	}
	caches := []cpu.ProcessorCache{
		{Level: 3, Associativity: cpu.WaysFullyAssociative, LineSize: 64, CacheSize: 32 << 20, Type: cpu.CacheUnified},
	}
	return tuples.NewTriplet(logical, []cpu.PhysicalProcessor(nil), caches), nil
}

func (stubProcessor) QuerySystemTicks(context.Context) (cpu.Ticks, error) {
	return cpu.Ticks{1234, 0, 567, 89000}, nil
}

func (stubProcessor) QueryProcessorTicks(context.Context) ([]cpu.Ticks, error) {
	return []cpu.Ticks{{600}, {634}}, nil
}

func (stubProcessor) QueryCurrentFrequencies(context.Context) ([]int64, error) {
	return []int64{3_600_000_000}, nil
}

func (stubProcessor) QueryMaxFrequency(context.Context) (int64, error) {
	return 0, fmt.Errorf("no cpufreq")
}

func (stubProcessor) QueryLoadAverages(context.Context, int) ([]float64, error) {
	return []float64{1.5, -1, 0.25}, nil
}

func (stubProcessor) QueryContextSwitches(context.Context) (int64, error) { return 1_234_567, nil }
func (stubProcessor) QueryInterrupts(context.Context) (int64, error)      { return 0, nil }

type stubProcesses map[int]*process.Attributes

func (s stubProcesses) ListPIDs(context.Context) ([]int, error) {
	pids := make([]int, 0, len(s))
	for pid := range s {
		pids = append(pids, pid)
	}
	return pids, nil
}

func (s stubProcesses) QuerySnapshot(_ context.Context, pid int) (*process.Attributes, error) {
	a, ok := s[pid]
	if !ok {
		return nil, fmt.Errorf("pid %d: %w", pid, process.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s stubProcesses) QueryArgsAndEnv(context.Context, int) (process.ArgsAndEnv, error) {
	return tuples.NewPair(
		[]string{"nginx", "-g", "daemon off;"},
		[]tuples.Pair[string, string]{tuples.NewPair("TERM", "xterm")},
	), nil
}

func (s stubProcesses) QueryThreads(_ context.Context, pid int) ([]process.ThreadRecord, error) {
	return []process.ThreadRecord{{ThreadID: pid + 1, State: process.StateRunning, Priority: 20}}, nil
}

func newStubProcessor(t *testing.T) *cpu.CentralProcessor {
	t.Helper()
	cp, err := cpu.New(context.Background(), stubProcessor{}, cpu.WithExpiration(memo.NoCache))
	require.NoError(t, err)
	return cp
}

func newStubProcess(t *testing.T) *process.OSProcess {
	t.Helper()
	a := process.NewAttributes(80)
	a.Name = "nginx"
	a.ParentPID = 1
	a.State = process.StateSleeping
	a.ThreadCount = 1
	a.ResidentSetSize = 3 << 20
	a.KernelTime = 1500
	a.UserTime = 2500
	a.Bitness = 64
	a.AffinityMask = 0b1111

	p, err := process.NewWithDriver(context.Background(), 80, stubProcesses{80: a})
	require.NoError(t, err)
	return p
}

func TestWriteProcessor(t *testing.T) {
	var buf bytes.Buffer
	sensors := []temps.Sensor{{Name: "k10temp_tctl", Temperature: 64.3}}
	writeProcessor(&buf, newStubProcessor(t), sensors, true)
	out := buf.String()

	assert.Contains(t, out, "AMD Ryzen 7 3700X 8-Core Processor")
	assert.Contains(t, out, "AMD64 Family 23 Model 113 Stepping 0")
	assert.Contains(t, out, "Zen 2")
	assert.Contains(t, out, "1 physical package(s), 2 core(s), 2 logical processor(s)")
	assert.Contains(t, out, "max unknown")
	assert.Contains(t, out, "Context switches: 1,234,567, interrupts: unknown")
	assert.Contains(t, out, "Load average: 1.50 unknown 0.25")
	assert.Contains(t, out, "Temperature: 64.3°C (k10temp_tctl)")
	assert.Contains(t, out, "32 MiB")
	assert.Contains(t, out, "full")
	assert.Contains(t, out, "89000")
	assert.Contains(t, out, "634")
}

func TestWriteProcessList(t *testing.T) {
	var buf bytes.Buffer
	writeProcessList(&buf, []*process.OSProcess{newStubProcess(t)}, &memory.Info{Total: 12 << 20})
	out := buf.String()

	assert.Contains(t, out, "nginx")
	assert.Contains(t, out, "SLEEPING")
	assert.Contains(t, out, "3.0 MiB")
	assert.Contains(t, out, "25.0")
}

func TestWriteProcess(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeProcess(context.Background(), &buf, newStubProcess(t), nil, true, true))
	out := buf.String()

	assert.Contains(t, out, "nginx(80)")
	assert.Contains(t, out, "Command line: nginx -g daemon off;")
	assert.Contains(t, out, "kernel 1.5s, user 2.5s")
	assert.Contains(t, out, "virtual unknown, resident 3.0 MiB (0.0%)")
	assert.Contains(t, out, "64-bit")
	assert.Contains(t, out, "Affinity: 0xf")
	assert.Contains(t, out, "81")
	assert.Contains(t, out, "TERM=xterm")
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "unknown", hertz(-1))
	assert.Equal(t, "3.6 GHz", hertz(3_600_000_000))
	assert.Equal(t, "unknown", count(-1))
	assert.Equal(t, "1,000", count(1000))
	assert.Equal(t, "unknown", millis(-1))
	assert.Equal(t, "250ms", millis(250))
	assert.Equal(t, "unknown", affinity(0))
	assert.Equal(t, "all", affinity(-1))
	assert.Equal(t, "0xb", affinity(0b1011))
}
