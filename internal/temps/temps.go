// Package temps reads processor temperature sensors.
package temps

import (
	"context"
	"strings"
)

// Sensor is one temperature reading in degrees Celsius. High and Critical
// are zero when the sensor reports no threshold.
type Sensor struct {
	Name        string  `json:"name"`
	Temperature float64 `json:"temperature_celsius"`
	High        float64 `json:"high_celsius"`
	Critical    float64 `json:"critical_celsius"`
}

// Reader interface for temperature monitoring
type Reader interface {
	GetProcessorSensors(ctx context.Context) ([]Sensor, error)
}

// NewReader creates a new temperature reader for the current platform
func NewReader() Reader {
	return newPlatformReader()
}

// processorKeys are name fragments of sensors that measure the processor.
var processorKeys = []string{"coretemp", "k10temp", "zenpower", "cpu", "core", "package", "tctl", "tdie", "processor"}

func isProcessorSensor(name string) bool {
	name = strings.ToLower(name)
	for _, key := range processorKeys {
		if strings.Contains(name, key) {
			return true
		}
	}
	return false
}

// plausible drops readings of disconnected or misconfigured sensors.
func plausible(celsius float64) bool {
	return celsius > -50 && celsius < 150
}

// processorSensors keeps the plausible processor sensors of all.
func processorSensors(all []Sensor) []Sensor {
	var out []Sensor
	for _, s := range all {
		if isProcessorSensor(s.Name) && plausible(s.Temperature) {
			out = append(out, s)
		}
	}
	return out
}

// Hottest returns the sensor with the highest reading.
func Hottest(sensors []Sensor) (Sensor, bool) {
	if len(sensors) == 0 {
		return Sensor{}, false
	}
	hottest := sensors[0]
	for _, s := range sensors[1:] {
		if s.Temperature > hottest.Temperature {
			hottest = s
		}
	}
	return hottest, true
}
