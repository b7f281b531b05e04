// Package process exposes refreshable snapshots of operating system processes.
package process

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/CristiGvl/picoTelemetry/internal/tuples"
)

// Unknown is reported for counters the platform cannot supply.
const Unknown int64 = -1

// UnknownName is reported when a user or group id has no name.
const UnknownName = "unknown"

// ErrNotFound is returned by drivers when the process does not exist.
var ErrNotFound = errors.New("process not found")

// State is the scheduling state of a process or thread.
type State int

const (
	// StateNew is a process being created.
	StateNew State = iota
	StateRunning
	StateSleeping
	// StateWaiting is an uninterruptible wait, usually on I/O.
	StateWaiting
	StateStopped
	StateZombie
	StateOther
	// StateInvalid marks a snapshot whose process could not be found on the last update.
	StateInvalid
)

var stateNames = [...]string{"NEW", "RUNNING", "SLEEPING", "WAITING", "STOPPED", "ZOMBIE", "OTHER", "INVALID"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Attributes is one consistent set of process values read by a driver.
// Times are milliseconds; StartTime is milliseconds since the Unix epoch.
type Attributes struct {
	PID        int    `json:"pid"`
	ParentPID  int    `json:"ppid"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	CurrentDir string `json:"cwd"`
	UserID     string `json:"user_id"`
	GroupID    string `json:"group_id"`
	State      State  `json:"state"`

	ThreadCount     int   `json:"thread_count"`
	Priority        int   `json:"priority"`
	VirtualSize     int64 `json:"virtual_size"`
	ResidentSetSize int64 `json:"resident_set_size"`
	KernelTime      int64 `json:"kernel_time"`
	UserTime        int64 `json:"user_time"`
	StartTime       int64 `json:"start_time"`
	BytesRead       int64 `json:"bytes_read"`
	BytesWritten    int64 `json:"bytes_written"`
	OpenFiles       int64 `json:"open_files"`
	MinorFaults     int64 `json:"minor_faults"`
	MajorFaults     int64 `json:"major_faults"`
	ContextSwitches int64 `json:"context_switches"`

	// Bitness is 32 or 64, or 0 when unknown.
	Bitness int `json:"bitness"`
	// AffinityMask has bit n set when the process may run on processor n.
	// Zero means unknown.
	AffinityMask int64 `json:"affinity_mask"`

	// names known to the driver, preferred over an id lookup
	userName  string
	groupName string
}

// NewAttributes returns attributes for pid with every counter set to Unknown.
func NewAttributes(pid int) *Attributes {
	return &Attributes{
		PID:             pid,
		State:           StateOther,
		VirtualSize:     Unknown,
		ResidentSetSize: Unknown,
		KernelTime:      Unknown,
		UserTime:        Unknown,
		BytesRead:       Unknown,
		BytesWritten:    Unknown,
		OpenFiles:       Unknown,
		MinorFaults:     Unknown,
		MajorFaults:     Unknown,
		ContextSwitches: Unknown,
	}
}

// Snapshot is the published view of a process: the driver attributes plus
// resolved names and the up time at the moment of the update.
type Snapshot struct {
	Attributes
	User  string `json:"user"`
	Group string `json:"group"`
	// UpTime is milliseconds since StartTime, measured at the last update.
	UpTime int64 `json:"up_time"`
}

// ThreadRecord is what a driver reports for one thread.
type ThreadRecord struct {
	ThreadID   int   `json:"thread_id"`
	State      State `json:"state"`
	KernelTime int64 `json:"kernel_time"`
	UserTime   int64 `json:"user_time"`
	StartTime  int64 `json:"start_time"`
	Priority   int   `json:"priority"`
}

// OSThread is one thread of an OSProcess.
type OSThread struct {
	ThreadRecord
	OwningPID int   `json:"owning_pid"`
	UpTime    int64 `json:"up_time"`
}

// ArgsAndEnv holds the argument list and the environment in the order the
// operating system reports them.
type ArgsAndEnv = tuples.Pair[[]string, []tuples.Pair[string, string]]

// Driver is implemented once per platform.
type Driver interface {
	ListPIDs(ctx context.Context) ([]int, error)
	// QuerySnapshot returns an error wrapping ErrNotFound when pid does not exist.
	QuerySnapshot(ctx context.Context, pid int) (*Attributes, error)
	QueryArgsAndEnv(ctx context.Context, pid int) (ArgsAndEnv, error)
	QueryThreads(ctx context.Context, pid int) ([]ThreadRecord, error)
}

// NewDriver returns the driver for the current platform
func NewDriver() Driver {
	return newPlatformDriver()
}

func notFound(pid int) error {
	return fmt.Errorf("pid %d: %w", pid, ErrNotFound)
}

// splitEnv turns NAME=value entries into pairs, keeping their order.
func splitEnv(env []string) []tuples.Pair[string, string] {
	pairs := make([]tuples.Pair[string, string], 0, len(env))
	for _, kv := range env {
		if kv == "" {
			continue
		}
		name, value, _ := strings.Cut(kv, "=")
		pairs = append(pairs, tuples.NewPair(name, value))
	}
	return pairs
}

// affinityMask sets one bit per allowed processor. A processor numbered 64
// or higher cannot be represented, so every bit is set instead.
func affinityMask(cpus []uint64) int64 {
	var mask uint64
	for _, c := range cpus {
		if c >= 64 {
			return -1
		}
		mask |= 1 << c
	}
	return int64(mask)
}

// allProcessorsMask is the mask of a process allowed on every one of n
// logical processors.
func allProcessorsMask(n int) int64 {
	switch {
	case n <= 0:
		return 0
	case n >= 64:
		return -1
	}
	return int64(1)<<n - 1
}
