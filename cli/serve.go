package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CristiGvl/picoTelemetry/api"
	"github.com/CristiGvl/picoTelemetry/internal/cpu"
	"github.com/CristiGvl/picoTelemetry/internal/memory"
	"github.com/CristiGvl/picoTelemetry/internal/temps"
)

var (
	bind string
	port string
)

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve processor and process telemetry over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("bind") {
			cfg.Server.Bind = bind
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = port
		}

		processor, err := cpu.NewCentralProcessor(cmd.Context())
		if err != nil {
			return err
		}
		registry, err := newRegistry()
		if err != nil {
			return err
		}

		server, err := api.NewServer(api.Sources{
			Processor: processor,
			Processes: registry,
			Memory:    memory.NewReader(),
			Sensors:   temps.NewReader(),
		})
		if err != nil {
			return err
		}

		// Handle graceful shutdown
		go func() {
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan

			if err := server.Shutdown(); err != nil {
				zap.S().Errorw("error during shutdown", "error", err)
			}
		}()

		address := cfg.Address()
		zap.S().Infow("starting picoTelemetry server", "address", address, "processor", processor.ProcessorIdentifier().Name)
		return server.Start(address)
	},
}

func init() {
	serveCmd.Flags().StringVar(&bind, "bind", "0.0.0.0", "IP address to bind the server to")
	serveCmd.Flags().StringVarP(&port, "port", "p", "8080", "port to run the server on")
	rootCmd.AddCommand(serveCmd)
}
