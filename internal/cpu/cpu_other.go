//go:build !linux && !windows && !darwin

package cpu

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
)

// GenericDriver reads processor information through gopsutil only
type GenericDriver struct{}

// newPlatformDriver creates a driver for platforms without native support
func newPlatformDriver() Driver {
	return &GenericDriver{}
}

// QueryProcessorIdentity returns the first gopsutil InfoStat
func (d *GenericDriver) QueryProcessorIdentity(ctx context.Context) (ProcessorIdentifier, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return ProcessorIdentifier{}, fmt.Errorf("reading cpu info: %w", err)
	}
	if len(infos) == 0 {
		return ProcessorIdentifier{}, errors.New("no cpu info reported")
	}
	info := infos[0]
	id := ProcessorIdentifier{
		Vendor:     info.VendorID,
		Name:       strings.TrimSpace(info.ModelName),
		Family:     info.Family,
		Model:      info.Model,
		Stepping:   fmt.Sprint(info.Stepping),
		VendorFreq: parseHertz(info.ModelName),
	}
	if id.Vendor == "" {
		id.Vendor = UnknownVendor
	}
	for _, f := range info.Flags {
		if f == "lm" {
			id.CPU64Bit = true
			break
		}
	}
	if id.VendorFreq <= 0 && info.Mhz > 0 {
		id.VendorFreq = int64(info.Mhz * 1e6)
	}
	return id, nil
}

// QueryTopology derives an even layout from the logical and core counts
func (d *GenericDriver) QueryTopology(ctx context.Context) (Topology, error) {
	logical, cores, err := gopsutilCounts(ctx)
	if err != nil {
		return Topology{}, err
	}
	return evenTopology(logical, cores, 1, nil), nil
}

// QuerySystemTicks returns host ticks from gopsutil
func (d *GenericDriver) QuerySystemTicks(ctx context.Context) (Ticks, error) {
	return gopsutilSystemTicks(ctx)
}

// QueryProcessorTicks returns per processor ticks from gopsutil
func (d *GenericDriver) QueryProcessorTicks(ctx context.Context) ([]Ticks, error) {
	return gopsutilProcessorTicks(ctx)
}

// QueryCurrentFrequencies reports the gopsutil Mhz value of each InfoStat
func (d *GenericDriver) QueryCurrentFrequencies(ctx context.Context) ([]int64, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return nil, err
	}
	freqs := make([]int64, len(infos))
	for i, info := range infos {
		freqs[i] = int64(info.Mhz * 1e6)
	}
	return freqs, nil
}

// QueryMaxFrequency is not published portably
func (d *GenericDriver) QueryMaxFrequency(_ context.Context) (int64, error) {
	return Unknown, nil
}

// QueryLoadAverages returns the load averages through gopsutil
func (d *GenericDriver) QueryLoadAverages(ctx context.Context, n int) ([]float64, error) {
	return gopsutilLoadAverages(ctx, n)
}

// QueryContextSwitches is not published portably
func (d *GenericDriver) QueryContextSwitches(_ context.Context) (int64, error) {
	return Unknown, nil
}

// QueryInterrupts is not published portably
func (d *GenericDriver) QueryInterrupts(_ context.Context) (int64, error) {
	return Unknown, nil
}
