//go:build linux

package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/procfs"
)

// LinuxReader reads /proc/meminfo
type LinuxReader struct {
	fs  procfs.FS
	err error
}

// newPlatformReader creates a new Linux memory reader
func newPlatformReader() Reader {
	return NewLinuxReader(procfs.DefaultMountPoint)
}

// NewLinuxReader returns a reader for the proc filesystem mounted at procPath.
func NewLinuxReader(procPath string) *LinuxReader {
	fs, err := procfs.NewFS(procPath)
	return &LinuxReader{fs: fs, err: err}
}

// GetInfo returns memory information
func (r *LinuxReader) GetInfo(_ context.Context) (*Info, error) {
	if r.err != nil {
		return nil, r.err
	}
	mi, err := r.fs.Meminfo()
	if err != nil {
		return nil, fmt.Errorf("reading meminfo: %w", err)
	}
	if mi.MemTotalBytes == nil {
		return nil, errors.New("meminfo has no MemTotal")
	}

	// kernels before 3.14 have no MemAvailable
	available := mi.MemAvailableBytes
	if available == nil {
		available = mi.MemFreeBytes
	}
	if available == nil {
		return newInfo(*mi.MemTotalBytes, 0), nil
	}
	return newInfo(*mi.MemTotalBytes, *available), nil
}
