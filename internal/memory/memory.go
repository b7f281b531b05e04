// Package memory reports the physical memory of the host.
package memory

import "context"

// Info represents physical memory in bytes
type Info struct {
	Total     uint64  `json:"total"`
	Used      uint64  `json:"used"`
	Available uint64  `json:"available"`
	Usage     float64 `json:"usage_percent"`
}

// Reader interface for memory monitoring
type Reader interface {
	GetInfo(ctx context.Context) (*Info, error)
}

// NewReader creates a new memory reader for the current platform
func NewReader() Reader {
	return newPlatformReader()
}

func newInfo(total, available uint64) *Info {
	info := &Info{Total: total, Available: min(available, total)}
	info.Used = info.Total - info.Available
	if info.Total > 0 {
		info.Usage = 100 * float64(info.Used) / float64(info.Total)
	}
	return info
}

// ResidentShare returns rss as a percentage of total memory, or 0 when
// either is unknown.
func (i *Info) ResidentShare(rss int64) float64 {
	if i == nil || i.Total == 0 || rss < 0 {
		return 0
	}
	return 100 * float64(rss) / float64(i.Total)
}
