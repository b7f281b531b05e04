//go:build !linux

package memory

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"
)

// GopsutilReader implements memory monitoring through gopsutil
type GopsutilReader struct{}

// newPlatformReader creates a gopsutil backed memory reader
func newPlatformReader() Reader {
	return &GopsutilReader{}
}

// GetInfo returns memory information
func (r *GopsutilReader) GetInfo(ctx context.Context) (*Info, error) {
	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}

	return newInfo(memInfo.Total, memInfo.Available), nil
}
