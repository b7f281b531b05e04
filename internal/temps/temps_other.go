//go:build !windows

package temps

import (
	"context"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"
)

// GopsutilReader reads hwmon (Linux) and SMC (macOS) sensors through gopsutil
type GopsutilReader struct{}

// newPlatformReader creates a gopsutil backed temperature reader
func newPlatformReader() Reader {
	return &GopsutilReader{}
}

// GetProcessorSensors returns the processor temperature sensors
func (r *GopsutilReader) GetProcessorSensors(ctx context.Context) ([]Sensor, error) {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		// some sensors failing still leaves the others usable
		if len(temps) == 0 {
			return nil, err
		}
		zap.S().Debugw("some temperature sensors could not be read", "error", err)
	}

	all := make([]Sensor, len(temps))
	for i, temp := range temps {
		all[i] = Sensor{
			Name:        temp.SensorKey,
			Temperature: temp.Temperature,
			High:        temp.High,
			Critical:    temp.Critical,
		}
	}

	return processorSensors(all), nil
}
