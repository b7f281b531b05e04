//go:build !linux

package cpu

import (
	"context"
	"fmt"
	"math"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
)

// gopsutil reports times in seconds
func ticksFromTimes(t cpu.TimesStat) Ticks {
	var ticks Ticks
	ticks[User] = secondsToMillis(t.User)
	ticks[Nice] = secondsToMillis(t.Nice)
	ticks[System] = secondsToMillis(t.System)
	ticks[Idle] = secondsToMillis(t.Idle)
	ticks[IOWait] = secondsToMillis(t.Iowait)
	ticks[IRQ] = secondsToMillis(t.Irq)
	ticks[SoftIRQ] = secondsToMillis(t.Softirq)
	ticks[Steal] = secondsToMillis(t.Steal)
	return ticks
}

func secondsToMillis(s float64) uint64 {
	if s <= 0 {
		return 0
	}
	return uint64(math.Round(s * 1000))
}

func gopsutilSystemTicks(ctx context.Context) (Ticks, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return Ticks{}, err
	}
	if len(times) == 0 {
		return Ticks{}, fmt.Errorf("no cpu times reported")
	}
	return ticksFromTimes(times[0]), nil
}

func gopsutilProcessorTicks(ctx context.Context) ([]Ticks, error) {
	times, err := cpu.TimesWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	ticks := make([]Ticks, len(times))
	for i, t := range times {
		ticks[i] = ticksFromTimes(t)
	}
	return ticks, nil
}

func gopsutilLoadAverages(ctx context.Context, n int) ([]float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	loads := []float64{avg.Load1, avg.Load5, avg.Load15}
	if n < len(loads) {
		loads = loads[:n]
	}
	return loads, nil
}

func gopsutilCounts(ctx context.Context) (int, int, error) {
	logical, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return 0, 0, fmt.Errorf("counting logical processors: %w", err)
	}
	cores, err := cpu.CountsWithContext(ctx, false)
	if err != nil {
		cores = 0
	}
	return logical, cores, nil
}
