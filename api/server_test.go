package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
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
		Vendor:     "GenuineIntel",
		Name:       "Intel(R) Core(TM) i7-8700K CPU @ 3.70GHz",
		Family:     "6",
		Model:      "158",
		Stepping:   "10",
		CPU64Bit:   true,
		VendorFreq: 3_700_000_000,
	}, nil
}

func (stubProcessor) QueryTopology(context.Context) (cpu.Topology, error) {
	logical := []cpu.LogicalProcessor{
		{ProcessorNumber: 0, PhysicalProcessorNumber: 0},
		{ProcessorNumber: 1, PhysicalProcessorNumber: 0},
	}
	physical := []cpu.PhysicalProcessor{{PhysicalProcessorNumber: 0}}
	caches := []cpu.ProcessorCache{
		{Level: 2, Associativity: 4, LineSize: 64, CacheSize: 256 << 10, Type: cpu.CacheUnified},
		{Level: 1, Associativity: 8, LineSize: 64, CacheSize: 32 << 10, Type: cpu.CacheData},
	}
	return tuples.NewTriplet(logical, physical, caches), nil
}

func (stubProcessor) QuerySystemTicks(context.Context) (cpu.Ticks, error) {
	return cpu.Ticks{100, 0, 50, 800}, nil
}

func (stubProcessor) QueryProcessorTicks(context.Context) ([]cpu.Ticks, error) {
	return []cpu.Ticks{{60, 0, 20, 400}, {40, 0, 30, 400}}, nil
}

func (stubProcessor) QueryCurrentFrequencies(context.Context) ([]int64, error) {
	return []int64{3_600_000_000, 3_700_000_000}, nil
}

func (stubProcessor) QueryMaxFrequency(context.Context) (int64, error) {
	return 4_700_000_000, nil
}

func (stubProcessor) QueryLoadAverages(_ context.Context, n int) ([]float64, error) {
	return []float64{0.5, 0.25, 0.125}[:n], nil
}

func (stubProcessor) QueryContextSwitches(context.Context) (int64, error) { return 1000, nil }
func (stubProcessor) QueryInterrupts(context.Context) (int64, error)      { return 500, nil }

type stubProcesses struct {
	procs map[int]*process.Attributes
}

func (s stubProcesses) ListPIDs(context.Context) ([]int, error) {
	pids := make([]int, 0, len(s.procs))
	for pid := range s.procs {
		pids = append(pids, pid)
	}
	return pids, nil
}

func (s stubProcesses) QuerySnapshot(_ context.Context, pid int) (*process.Attributes, error) {
	a, ok := s.procs[pid]
	if !ok {
		return nil, fmt.Errorf("pid %d: %w", pid, process.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s stubProcesses) QueryArgsAndEnv(_ context.Context, pid int) (process.ArgsAndEnv, error) {
	if _, ok := s.procs[pid]; !ok {
		return process.ArgsAndEnv{}, errors.New("gone")
	}
	return tuples.NewPair(
		[]string{"/usr/bin/sleep", "60"},
		[]tuples.Pair[string, string]{tuples.NewPair("HOME", "/root"), tuples.NewPair("LANG", "C")},
	), nil
}

func (s stubProcesses) QueryThreads(_ context.Context, pid int) ([]process.ThreadRecord, error) {
	return []process.ThreadRecord{{ThreadID: pid, State: process.StateSleeping}}, nil
}

type stubMemory struct{}

func (stubMemory) GetInfo(context.Context) (*memory.Info, error) {
	return &memory.Info{Total: 1 << 30, Used: 768 << 20, Available: 256 << 20, Usage: 75}, nil
}

type stubSensors struct{}

func (stubSensors) GetProcessorSensors(context.Context) ([]temps.Sensor, error) {
	return []temps.Sensor{
		{Name: "coretemp_core_0", Temperature: 52},
		{Name: "coretemp_core_1", Temperature: 58, Critical: 100},
	}, nil
}

func attributes(pid int, name string) *process.Attributes {
	a := process.NewAttributes(pid)
	a.Name = name
	a.ParentPID = 1
	a.State = process.StateSleeping
	a.ThreadCount = 1
	a.KernelTime = 10
	a.UserTime = 30
	a.StartTime = 1_700_000_000_000
	a.ResidentSetSize = 256 << 20
	a.AffinityMask = 0b11
	return a
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()

	processor, err := cpu.New(ctx, stubProcessor{}, cpu.WithExpiration(memo.NoCache))
	require.NoError(t, err)

	driver := stubProcesses{procs: map[int]*process.Attributes{
		42: attributes(42, "sleep"),
		7:  attributes(7, "init"),
	}}
	registry, err := process.NewRegistry(16, driver)
	require.NoError(t, err)

	server, err := NewServer(Sources{
		Processor: processor,
		Processes: registry,
		Memory:    stubMemory{},
		Sensors:   stubSensors{},
	})
	require.NoError(t, err)
	return server
}

func get(t *testing.T, s *Server, target string, out any) int {
	t.Helper()
	resp, err := s.app.Test(httptest.NewRequest("GET", target, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(body, out), string(body))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	var body map[string]any
	assert.Equal(t, 200, get(t, s, "/api/health", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestCPU(t *testing.T) {
	s := newTestServer(t)
	var body map[string]any
	require.Equal(t, 200, get(t, s, "/api/cpu", &body))

	assert.Equal(t, "Intel64 Family 6 Model 158 Stepping 10", body["identifier_string"])
	assert.Equal(t, "Coffee Lake", body["microarchitecture"])
	assert.EqualValues(t, 2, body["logical_count"])
	assert.EqualValues(t, 1, body["physical_count"])
	assert.EqualValues(t, 4_700_000_000, body["max_frequency"])
	assert.Contains(t, body, "physical_processors")
}

func TestTicks(t *testing.T) {
	s := newTestServer(t)

	var system map[string]uint64
	require.Equal(t, 200, get(t, s, "/api/cpu/ticks", &system))
	assert.Len(t, system, int(cpu.TickTypeCount))
	assert.EqualValues(t, 800, system["idle"])

	var rows []map[string]uint64
	require.Equal(t, 200, get(t, s, "/api/cpu/ticks/processors", &rows))
	require.Len(t, rows, 2)
	assert.EqualValues(t, 60, rows[0]["user"])
}

func TestFrequency(t *testing.T) {
	s := newTestServer(t)
	var body struct {
		Current []int64 `json:"current"`
		Max     int64   `json:"max"`
	}
	require.Equal(t, 200, get(t, s, "/api/cpu/frequency", &body))
	assert.Equal(t, []int64{3_600_000_000, 3_700_000_000}, body.Current)
	assert.EqualValues(t, 4_700_000_000, body.Max)
}

func TestLoadAverage(t *testing.T) {
	s := newTestServer(t)

	var load []float64
	require.Equal(t, 200, get(t, s, "/api/cpu/load?n=2", &load))
	assert.Equal(t, []float64{0.5, 0.25}, load)

	require.Equal(t, 200, get(t, s, "/api/cpu/load", &load))
	assert.Len(t, load, 3)

	assert.Equal(t, 400, get(t, s, "/api/cpu/load?n=4", nil))
	assert.Equal(t, 400, get(t, s, "/api/cpu/load?n=0", nil))
	assert.Equal(t, 400, get(t, s, "/api/cpu/load?n=x", nil))
}

func TestCaches(t *testing.T) {
	s := newTestServer(t)
	var caches []struct {
		Level int    `json:"level"`
		Type  string `json:"type"`
	}
	require.Equal(t, 200, get(t, s, "/api/cpu/caches", &caches))
	require.Len(t, caches, 2)
	assert.Equal(t, 1, caches[0].Level)
	assert.Equal(t, "DATA", caches[0].Type)
	assert.Equal(t, "UNIFIED", caches[1].Type)
}

func TestTemperature(t *testing.T) {
	s := newTestServer(t)
	var body struct {
		Sensors []temps.Sensor `json:"sensors"`
		Max     float64        `json:"max_celsius"`
	}
	require.Equal(t, 200, get(t, s, "/api/cpu/temperature", &body))
	assert.Len(t, body.Sensors, 2)
	assert.EqualValues(t, 58, body.Max)
}

func TestMemory(t *testing.T) {
	s := newTestServer(t)
	var info memory.Info
	require.Equal(t, 200, get(t, s, "/api/memory", &info))
	assert.EqualValues(t, 1<<30, info.Total)
	assert.InDelta(t, 75.0, info.Usage, 1e-9)
}

func TestProcesses(t *testing.T) {
	s := newTestServer(t)
	var procs []struct {
		PID  int    `json:"pid"`
		Name string `json:"name"`
	}
	require.Equal(t, 200, get(t, s, "/api/processes", &procs))
	require.Len(t, procs, 2)
	assert.Equal(t, 7, procs[0].PID)
	assert.Equal(t, "sleep", procs[1].Name)
}

func TestProcess(t *testing.T) {
	s := newTestServer(t)
	var body struct {
		PID         int     `json:"pid"`
		Name        string  `json:"name"`
		State       string  `json:"state"`
		CommandLine string  `json:"command_line"`
		KernelTime  int64   `json:"kernel_time"`
		MemoryShare float64 `json:"memory_percent"`
		Affinity    int64   `json:"affinity_mask"`
	}
	require.Equal(t, 200, get(t, s, "/api/processes/42", &body))
	assert.Equal(t, 42, body.PID)
	assert.Equal(t, "sleep", body.Name)
	assert.Equal(t, "SLEEPING", body.State)
	assert.Equal(t, "/usr/bin/sleep 60", body.CommandLine)
	assert.EqualValues(t, 10, body.KernelTime)
	assert.InDelta(t, 25.0, body.MemoryShare, 1e-9)
	assert.EqualValues(t, 0b11, body.Affinity)

	assert.Equal(t, 404, get(t, s, "/api/processes/9999", nil))
	assert.Equal(t, 400, get(t, s, "/api/processes/abc", nil))
}

func TestThreadsAndEnvironment(t *testing.T) {
	s := newTestServer(t)

	var threads []struct {
		ThreadID  int `json:"thread_id"`
		OwningPID int `json:"owning_pid"`
	}
	require.Equal(t, 200, get(t, s, "/api/processes/42/threads", &threads))
	require.Len(t, threads, 1)
	assert.Equal(t, 42, threads[0].OwningPID)

	var env []map[string]string
	require.Equal(t, 200, get(t, s, "/api/processes/42/environment", &env))
	assert.Equal(t, []map[string]string{
		{"name": "HOME", "value": "/root"},
		{"name": "LANG", "value": "C"},
	}, env)

	assert.Equal(t, 404, get(t, s, "/api/processes/9999/environment", nil))
}
