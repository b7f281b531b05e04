package cpu

// LoadBetweenTicks returns the fraction of time, between 0 and 1, the CPU was
// busy between two SystemTicks snapshots. It returns 0 when no time elapsed.
func LoadBetweenTicks(prev, cur Ticks) float64 {
	var total, idle uint64
	for i := range cur {
		if cur[i] < prev[i] {
			// counter reset, e.g. a processor went offline
			continue
		}
		d := cur[i] - prev[i]
		total += d
		if TickType(i) == Idle || TickType(i) == IOWait {
			idle += d
		}
	}
	if total == 0 {
		return 0
	}
	return float64(total-idle) / float64(total)
}

// ProcessorLoadBetweenTicks applies LoadBetweenTicks to each logical processor.
// Processors missing from either snapshot report 0.
func ProcessorLoadBetweenTicks(prev, cur []Ticks) []float64 {
	loads := make([]float64, len(cur))
	for i := range cur {
		if i < len(prev) {
			loads[i] = LoadBetweenTicks(prev[i], cur[i])
		}
	}
	return loads
}
