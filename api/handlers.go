package api

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/CristiGvl/picoTelemetry/internal/cpu"
	"github.com/CristiGvl/picoTelemetry/internal/process"
	"github.com/CristiGvl/picoTelemetry/internal/temps"
)

// processView is the detail document of one process
type processView struct {
	process.Snapshot
	CommandLine   string  `json:"command_line"`
	CPULoad       float64 `json:"cpu_load"`
	MemoryPercent float64 `json:"memory_percent"`
}

// CPU endpoint
func (s *Server) getCPU(c *fiber.Ctx) error {
	id := s.processor.ProcessorIdentifier()
	info := fiber.Map{
		"identifier":         id,
		"identifier_string":  id.Identifier(),
		"microarchitecture":  id.MicroArchitecture(),
		"logical_count":      s.processor.LogicalProcessorCount(),
		"physical_count":     s.processor.PhysicalProcessorCount(),
		"package_count":      s.processor.PhysicalPackageCount(),
		"logical_processors": s.processor.LogicalProcessors(),
		"max_frequency":      s.processor.MaxFrequency(),
		"context_switches":   s.processor.ContextSwitches(),
		"interrupts":         s.processor.Interrupts(),
	}
	if physical, ok := s.processor.PhysicalProcessors(); ok {
		info["physical_processors"] = physical
	}

	return c.JSON(info)
}

// System tick endpoint
func (s *Server) getSystemTicks(c *fiber.Ctx) error {
	return c.JSON(s.processor.SystemTicks().Map())
}

// Per processor tick endpoint
func (s *Server) getProcessorTicks(c *fiber.Ctx) error {
	rows := s.processor.ProcessorTicks()
	ticks := make([]map[string]uint64, len(rows))
	for i, row := range rows {
		ticks[i] = row.Map()
	}

	return c.JSON(ticks)
}

// Frequency endpoint
func (s *Server) getFrequency(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"current": s.processor.CurrentFrequencies(),
		"max":     s.processor.MaxFrequency(),
		"vendor":  s.processor.ProcessorIdentifier().VendorFreq,
	})
}

// Load average endpoint
func (s *Server) getLoadAverage(c *fiber.Ctx) error {
	n, err := strconv.Atoi(c.Query("n", "3"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid window count"})
	}

	load, err := s.processor.LoadAverage(n)
	if errors.Is(err, cpu.ErrInvalidLoadWindow) {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(load)
}

// Cache hierarchy endpoint
func (s *Server) getCaches(c *fiber.Ctx) error {
	return c.JSON(s.processor.ProcessorCaches())
}

// Temperature endpoint
func (s *Server) getTemperature(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	sensors, err := s.tempsReader.GetProcessorSensors(ctx)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	info := fiber.Map{"sensors": sensors}
	if hottest, ok := temps.Hottest(sensors); ok {
		info["max_celsius"] = hottest.Temperature
	}

	return c.JSON(info)
}

// Memory endpoint
func (s *Server) getMemory(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	info, err := s.memoryReader.GetInfo(ctx)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(info)
}

// Process list endpoint
func (s *Server) getProcesses(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	procs, err := s.processes.List(ctx)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	snapshots := make([]process.Snapshot, len(procs))
	for i, p := range procs {
		snapshots[i] = p.Snapshot()
	}

	return c.JSON(snapshots)
}

// lookupProcess resolves the :pid parameter, writing the error response
// itself when it returns a nil process.
func (s *Server) lookupProcess(c *fiber.Ctx) (*process.OSProcess, error) {
	pid, err := strconv.Atoi(c.Params("pid"))
	if err != nil || pid < 0 {
		return nil, c.Status(400).JSON(fiber.Map{"error": "invalid process ID"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	p, err := s.processes.Get(ctx, pid)
	if errors.Is(err, process.ErrNotFound) {
		return nil, c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return nil, c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	return p, nil
}

// Process detail endpoint
func (s *Server) getProcess(c *fiber.Ctx) error {
	p, err := s.lookupProcess(c)
	if p == nil {
		return err
	}

	view := processView{
		Snapshot:    p.Snapshot(),
		CommandLine: p.CommandLine(),
		CPULoad:     p.CPULoadCumulative(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if info, err := s.memoryReader.GetInfo(ctx); err == nil {
		view.MemoryPercent = info.ResidentShare(view.ResidentSetSize)
	}

	return c.JSON(view)
}

// Process thread endpoint
func (s *Server) getThreads(c *fiber.Ctx) error {
	p, err := s.lookupProcess(c)
	if p == nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	threads, err := p.Threads(ctx)
	if errors.Is(err, process.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(threads)
}

// Process environment endpoint
func (s *Server) getEnvironment(c *fiber.Ctx) error {
	p, err := s.lookupProcess(c)
	if p == nil {
		return err
	}

	env := p.EnvironmentList()
	vars := make([]fiber.Map, len(env))
	for i, kv := range env {
		vars[i] = fiber.Map{"name": kv.A, "value": kv.B}
	}

	return c.JSON(vars)
}
