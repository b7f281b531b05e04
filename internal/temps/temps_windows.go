//go:build windows

package temps

import (
	"context"
	"errors"

	"github.com/StackExchange/wmi"
	"go.uber.org/zap"
)

// WindowsReader implements temperature monitoring for Windows
type WindowsReader struct{}

// newPlatformReader creates a new Windows temperature reader
func newPlatformReader() Reader {
	return &WindowsReader{}
}

// Win32_TemperatureProbe represents WMI temperature probe data
type Win32_TemperatureProbe struct {
	DeviceID        string
	Name            string
	Description     string
	CurrentReading  *uint32
	NominalReading  *uint32
	MaxReadableHigh *uint32
}

// Win32_PerfRawData_Counters_ThermalZoneInformation represents thermal zone data
type Win32_PerfRawData_Counters_ThermalZoneInformation struct {
	Name                     string
	Temperature              uint32
	HighPrecisionTemperature uint32
}

// tenthsKelvin converts a reading in tenths of a Kelvin to Celsius.
func tenthsKelvin(v uint32) float64 {
	return float64(v)/10.0 - 273.15
}

// GetProcessorSensors returns the processor temperature sensors. Probes are
// tried first; most firmware only exposes ACPI thermal zones.
func (r *WindowsReader) GetProcessorSensors(_ context.Context) ([]Sensor, error) {
	sensors, probeErr := r.probes()
	if probeErr != nil {
		zap.S().Debugw("could not query temperature probes", "error", probeErr)
	}
	if found := processorSensors(sensors); len(found) > 0 {
		return found, nil
	}

	zones, zoneErr := r.thermalZones()
	if zoneErr != nil {
		return nil, errors.Join(probeErr, zoneErr)
	}
	if found := processorSensors(zones); len(found) > 0 {
		return found, nil
	}

	// zones named after ACPI paths (\_TZ.TZ00) still track the package
	var out []Sensor
	for _, z := range zones {
		if plausible(z.Temperature) {
			out = append(out, z)
		}
	}
	return out, nil
}

func (r *WindowsReader) probes() ([]Sensor, error) {
	var probes []Win32_TemperatureProbe
	if err := wmi.Query(wmi.CreateQuery(&probes, ""), &probes); err != nil {
		return nil, err
	}

	var sensors []Sensor
	for _, probe := range probes {
		if probe.CurrentReading == nil {
			continue
		}

		sensor := Sensor{
			Name:        probe.Name,
			Temperature: tenthsKelvin(*probe.CurrentReading),
		}
		if probe.Description != "" {
			sensor.Name = probe.Description
		}
		if probe.NominalReading != nil {
			sensor.High = tenthsKelvin(*probe.NominalReading)
		}
		if probe.MaxReadableHigh != nil {
			sensor.Critical = tenthsKelvin(*probe.MaxReadableHigh)
		}
		sensors = append(sensors, sensor)
	}

	return sensors, nil
}

func (r *WindowsReader) thermalZones() ([]Sensor, error) {
	var zones []Win32_PerfRawData_Counters_ThermalZoneInformation
	if err := wmi.Query(wmi.CreateQuery(&zones, ""), &zones); err != nil {
		return nil, err
	}

	sensors := make([]Sensor, 0, len(zones))
	for _, zone := range zones {
		celsius := float64(zone.Temperature) - 273.15
		if zone.HighPrecisionTemperature > 0 {
			celsius = tenthsKelvin(zone.HighPrecisionTemperature)
		}
		sensors = append(sensors, Sensor{Name: zone.Name, Temperature: celsius})
	}

	return sensors, nil
}
