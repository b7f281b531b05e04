package process

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/CristiGvl/picoTelemetry/internal/memo"
	"github.com/CristiGvl/picoTelemetry/internal/tuples"
)

// OSProcess is a refreshable view of one operating system process. Readers
// always see one complete snapshot; Update replaces it as a whole.
type OSProcess struct {
	pid    int
	driver Driver
	names  *NameResolver
	clock  clock.Clock

	current atomic.Pointer[published]
}

// published is swapped atomically on every update so that the argument and
// environment cache always belongs to the snapshot it was created with.
type published struct {
	snapshot Snapshot
	argsEnv  *memo.Memoizer[ArgsAndEnv]
}

// Option configures an OSProcess
type Option func(*OSProcess)

// WithClock sets the clock used to compute up times.
func WithClock(c clock.Clock) Option {
	return func(p *OSProcess) {
		p.clock = c
	}
}

// WithNameResolver sets the resolver used for user and group names.
func WithNameResolver(r *NameResolver) Option {
	return func(p *OSProcess) {
		p.names = r
	}
}

// New returns the process pid read through the platform driver. It fails if
// the process cannot be read.
func New(ctx context.Context, pid int, opts ...Option) (*OSProcess, error) {
	return NewWithDriver(ctx, pid, NewDriver(), opts...)
}

// NewWithDriver is New over an explicit driver.
func NewWithDriver(ctx context.Context, pid int, driver Driver, opts ...Option) (*OSProcess, error) {
	p := &OSProcess{
		pid:    pid,
		driver: driver,
		names:  defaultNames,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.update(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Update rereads every attribute of the process. It returns false when the
// process could not be read, in which case State reports StateInvalid and
// the other accessors keep their previous values.
func (p *OSProcess) Update(ctx context.Context) bool {
	err := p.update(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		zap.S().Debugw("process update failed", "pid", p.pid, "error", err)
	}
	return err == nil
}

func (p *OSProcess) update(ctx context.Context) error {
	attrs, err := p.driver.QuerySnapshot(ctx, p.pid)
	if err != nil {
		p.invalidate()
		return err
	}

	snap := Snapshot{Attributes: *attrs}
	snap.PID = p.pid
	snap.User = attrs.userName
	if snap.User == "" {
		snap.User = p.names.UserName(attrs.UserID)
	}
	snap.Group = attrs.groupName
	if snap.Group == "" {
		snap.Group = p.names.GroupName(attrs.GroupID)
	}
	snap.UpTime = p.upTime(attrs.StartTime)

	pid, driver := p.pid, p.driver
	argsEnv := memo.New(func() (ArgsAndEnv, error) {
		return driver.QueryArgsAndEnv(context.Background(), pid)
	}, memo.NoExpiration)

	p.current.Store(&published{snapshot: snap, argsEnv: argsEnv})
	return nil
}

// invalidate publishes a copy of the current snapshot marked StateInvalid.
func (p *OSProcess) invalidate() {
	for {
		prev := p.current.Load()
		next := &published{}
		if prev != nil {
			*next = *prev
		}
		next.snapshot.PID = p.pid
		next.snapshot.State = StateInvalid
		if p.current.CompareAndSwap(prev, next) {
			return
		}
	}
}

func (p *OSProcess) upTime(start int64) int64 {
	if start <= 0 {
		return 0
	}
	return max(p.clock.Now().UnixMilli()-start, 0)
}

func (p *OSProcess) load() *published {
	if pub := p.current.Load(); pub != nil {
		return pub
	}
	return &published{snapshot: Snapshot{Attributes: Attributes{PID: p.pid, State: StateInvalid}}}
}

// Snapshot returns a copy of every attribute from the last update.
func (p *OSProcess) Snapshot() Snapshot {
	return p.load().snapshot
}

// PID returns the process id.
func (p *OSProcess) PID() int {
	return p.pid
}

// ParentPID returns the id of the parent process.
func (p *OSProcess) ParentPID() int {
	return p.load().snapshot.ParentPID
}

// Name returns the short process name.
func (p *OSProcess) Name() string {
	return p.load().snapshot.Name
}

// Path returns the full path of the executable, or empty when unreadable.
func (p *OSProcess) Path() string {
	return p.load().snapshot.Path
}

// CurrentWorkingDirectory returns the working directory, or empty when unreadable.
func (p *OSProcess) CurrentWorkingDirectory() string {
	return p.load().snapshot.CurrentDir
}

// User returns the name of the owning user.
func (p *OSProcess) User() string {
	return p.load().snapshot.User
}

// UserID returns the id of the owning user.
func (p *OSProcess) UserID() string {
	return p.load().snapshot.UserID
}

// Group returns the name of the owning group.
func (p *OSProcess) Group() string {
	return p.load().snapshot.Group
}

// GroupID returns the id of the owning group.
func (p *OSProcess) GroupID() string {
	return p.load().snapshot.GroupID
}

// State returns the scheduling state, or StateInvalid after a failed update.
func (p *OSProcess) State() State {
	return p.load().snapshot.State
}

// ThreadCount returns the number of threads.
func (p *OSProcess) ThreadCount() int {
	return p.load().snapshot.ThreadCount
}

// Priority returns the platform specific scheduling priority.
func (p *OSProcess) Priority() int {
	return p.load().snapshot.Priority
}

// VirtualSize returns the virtual memory size in bytes, or Unknown.
func (p *OSProcess) VirtualSize() int64 {
	return p.load().snapshot.VirtualSize
}

// ResidentSetSize returns the resident memory in bytes, or Unknown.
func (p *OSProcess) ResidentSetSize() int64 {
	return p.load().snapshot.ResidentSetSize
}

// KernelTime returns milliseconds spent in kernel mode, or Unknown.
func (p *OSProcess) KernelTime() int64 {
	return p.load().snapshot.KernelTime
}

// UserTime returns milliseconds spent in user mode, or Unknown.
func (p *OSProcess) UserTime() int64 {
	return p.load().snapshot.UserTime
}

// StartTime returns the start time in milliseconds since the Unix epoch.
func (p *OSProcess) StartTime() int64 {
	return p.load().snapshot.StartTime
}

// UpTime returns milliseconds since StartTime, measured at the last update.
func (p *OSProcess) UpTime() int64 {
	return p.load().snapshot.UpTime
}

// BytesRead returns the bytes read from storage, or Unknown.
func (p *OSProcess) BytesRead() int64 {
	return p.load().snapshot.BytesRead
}

// BytesWritten returns the bytes written to storage, or Unknown.
func (p *OSProcess) BytesWritten() int64 {
	return p.load().snapshot.BytesWritten
}

// OpenFiles returns the number of open file descriptors or handles, or Unknown.
func (p *OSProcess) OpenFiles() int64 {
	return p.load().snapshot.OpenFiles
}

// Bitness returns 32 or 64, or 0 when unknown.
func (p *OSProcess) Bitness() int {
	return p.load().snapshot.Bitness
}

// MinorFaults returns the page faults served without I/O, or Unknown.
func (p *OSProcess) MinorFaults() int64 {
	return p.load().snapshot.MinorFaults
}

// MajorFaults returns the page faults that needed I/O, or Unknown.
func (p *OSProcess) MajorFaults() int64 {
	return p.load().snapshot.MajorFaults
}

// ContextSwitches returns voluntary plus involuntary switches, or Unknown.
func (p *OSProcess) ContextSwitches() int64 {
	return p.load().snapshot.ContextSwitches
}

// AffinityMask returns the allowed processors as a bitmask, or 0 when unknown.
func (p *OSProcess) AffinityMask() int64 {
	return p.load().snapshot.AffinityMask
}

func (p *OSProcess) argsAndEnv() ArgsAndEnv {
	pub := p.load()
	if pub.argsEnv == nil {
		return ArgsAndEnv{}
	}
	v, err := pub.argsEnv.Get()
	if err != nil {
		zap.S().Debugw("could not read process arguments", "pid", p.pid, "error", err)
		return ArgsAndEnv{}
	}
	return v
}

// Arguments returns the argument list, starting with argument zero. It is
// read once per update.
func (p *OSProcess) Arguments() []string {
	return append([]string(nil), p.argsAndEnv().A...)
}

// CommandLine returns the arguments joined by spaces.
func (p *OSProcess) CommandLine() string {
	return strings.Join(p.argsAndEnv().A, " ")
}

// EnvironmentList returns the environment in the order the process holds it.
func (p *OSProcess) EnvironmentList() []tuples.Pair[string, string] {
	return append([]tuples.Pair[string, string](nil), p.argsAndEnv().B...)
}

// Environment returns the environment as a map. When a name is set twice
// the later value wins.
func (p *OSProcess) Environment() map[string]string {
	env := p.argsAndEnv().B
	m := make(map[string]string, len(env))
	for _, kv := range env {
		m[kv.A] = kv.B
	}
	return m
}

// Threads reads the threads of the process. The result is not cached.
func (p *OSProcess) Threads(ctx context.Context) ([]OSThread, error) {
	records, err := p.driver.QueryThreads(ctx, p.pid)
	if err != nil {
		return nil, fmt.Errorf("querying threads of %d: %w", p.pid, err)
	}
	threads := make([]OSThread, len(records))
	for i, r := range records {
		threads[i] = OSThread{
			ThreadRecord: r,
			OwningPID:    p.pid,
			UpTime:       p.upTime(r.StartTime),
		}
	}
	return threads, nil
}

// CPULoadCumulative returns the share of one processor the process used
// since it started.
func (p *OSProcess) CPULoadCumulative() float64 {
	s := p.load().snapshot
	if s.UpTime <= 0 || s.KernelTime < 0 || s.UserTime < 0 {
		return 0
	}
	return float64(s.KernelTime+s.UserTime) / float64(s.UpTime)
}

// CPULoadBetweenSnapshots returns the share of one processor the process
// used between prior and the current snapshot. It falls back to
// CPULoadCumulative when prior belongs to another process.
func (p *OSProcess) CPULoadBetweenSnapshots(prior Snapshot) float64 {
	s := p.load().snapshot
	if prior.PID != s.PID || prior.StartTime != s.StartTime || prior.UpTime >= s.UpTime {
		return p.CPULoadCumulative()
	}
	busy := (s.KernelTime + s.UserTime) - (prior.KernelTime + prior.UserTime)
	if busy < 0 {
		return 0
	}
	return float64(busy) / float64(s.UpTime-prior.UpTime)
}

// Equal reports whether p and other refer to the same process instance:
// the same pid started at the same time.
func (p *OSProcess) Equal(other *OSProcess) bool {
	if other == nil {
		return false
	}
	return p.pid == other.pid && p.StartTime() == other.StartTime()
}

func (p *OSProcess) String() string {
	return fmt.Sprintf("%s(%d)", p.Name(), p.pid)
}
