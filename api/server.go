package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"github.com/CristiGvl/picoTelemetry/internal/cpu"
	"github.com/CristiGvl/picoTelemetry/internal/memory"
	"github.com/CristiGvl/picoTelemetry/internal/platform"
	"github.com/CristiGvl/picoTelemetry/internal/process"
	"github.com/CristiGvl/picoTelemetry/internal/temps"
)

// requestTimeout bounds the driver calls of one request
const requestTimeout = 10 * time.Second

// Sources are the readers the server answers from
type Sources struct {
	Processor *cpu.CentralProcessor
	Processes *process.Registry
	Memory    memory.Reader
	Sensors   temps.Reader
}

// Server represents the API server
type Server struct {
	app          *fiber.App
	processor    *cpu.CentralProcessor
	processes    *process.Registry
	memoryReader memory.Reader
	tempsReader  temps.Reader
}

// NewServer creates a new API server
func NewServer(src Sources) (*Server, error) {
	// Validate platform support
	if err := platform.ValidateSupport(); err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		ServerHeader: "picoTelemetry",
		AppName:      "picoTelemetry v1.0",
	})

	// Middleware
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,OPTIONS",
		AllowHeaders:  "*",
		ExposeHeaders: "Content-Length,Content-Type",
		MaxAge:        86400, // 24 hours
	}))

	server := &Server{
		app:          app,
		processor:    src.Processor,
		processes:    src.Processes,
		memoryReader: src.Memory,
		tempsReader:  src.Sensors,
	}

	server.setupRoutes()
	return server, nil
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.app.Group("/api")

	// Processor endpoints
	api.Get("/cpu", s.getCPU)
	api.Get("/cpu/ticks", s.getSystemTicks)
	api.Get("/cpu/ticks/processors", s.getProcessorTicks)
	api.Get("/cpu/frequency", s.getFrequency)
	api.Get("/cpu/load", s.getLoadAverage)
	api.Get("/cpu/caches", s.getCaches)
	api.Get("/cpu/temperature", s.getTemperature)
	api.Get("/memory", s.getMemory)

	// Process endpoints
	api.Get("/processes", s.getProcesses)
	api.Get("/processes/:pid", s.getProcess)
	api.Get("/processes/:pid/threads", s.getThreads)
	api.Get("/processes/:pid/environment", s.getEnvironment)

	// Health check
	api.Get("/health", s.healthCheck)
}

// Start starts the API server
func (s *Server) Start(address string) error {
	return s.app.Listen(address)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// Health check endpoint
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":        "ok",
		"platform":      platform.GetOS(),
		"native_driver": platform.HasNativeDriver(),
		"timestamp":     time.Now().Unix(),
	})
}
