//go:build !linux

package process

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// GopsutilDriver reads processes through gopsutil
type GopsutilDriver struct{}

// newPlatformDriver creates a gopsutil backed driver
func newPlatformDriver() Driver {
	return &GopsutilDriver{}
}

func (d *GopsutilDriver) open(ctx context.Context, pid int) (*process.Process, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return nil, notFound(pid)
	}
	if err != nil {
		return nil, fmt.Errorf("opening process %d: %w", pid, err)
	}
	return p, nil
}

// ListPIDs returns the pids gopsutil enumerates
func (d *GopsutilDriver) ListPIDs(ctx context.Context) ([]int, error) {
	pids32, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, err
	}
	pids := make([]int, len(pids32))
	for i, pid := range pids32 {
		pids[i] = int(pid)
	}
	sort.Ints(pids)
	return pids, nil
}

// QuerySnapshot reads every attribute gopsutil offers on this platform.
// Attributes it does not implement stay unknown.
func (d *GopsutilDriver) QuerySnapshot(ctx context.Context, pid int) (*Attributes, error) {
	p, err := d.open(ctx, pid)
	if err != nil {
		return nil, err
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		if running, _ := p.IsRunningWithContext(ctx); !running {
			return nil, notFound(pid)
		}
		return nil, fmt.Errorf("reading name of %d: %w", pid, err)
	}

	a := NewAttributes(pid)
	a.Name = name
	var errs error
	if ppid, err := p.PpidWithContext(ctx); err == nil {
		a.ParentPID = int(ppid)
	} else {
		errs = multierr.Append(errs, err)
	}
	if exe, err := p.ExeWithContext(ctx); err == nil {
		a.Path = exe
	} else {
		errs = multierr.Append(errs, err)
	}
	if cwd, err := p.CwdWithContext(ctx); err == nil {
		a.CurrentDir = cwd
	} else {
		errs = multierr.Append(errs, err)
	}
	if uids, err := p.UidsWithContext(ctx); err == nil && len(uids) > 0 {
		a.UserID = strconv.Itoa(int(uids[0]))
	} else if username, err := p.UsernameWithContext(ctx); err == nil {
		a.userName = username
	}
	if gids, err := p.GidsWithContext(ctx); err == nil && len(gids) > 0 {
		a.GroupID = strconv.Itoa(int(gids[0]))
	}
	if status, err := p.StatusWithContext(ctx); err == nil && len(status) > 0 {
		a.State = stateFromStatus(status[0])
	} else {
		errs = multierr.Append(errs, err)
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		a.ThreadCount = int(n)
	} else {
		errs = multierr.Append(errs, err)
	}
	if nice, err := p.NiceWithContext(ctx); err == nil {
		a.Priority = int(nice)
	} else {
		errs = multierr.Append(errs, err)
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		a.VirtualSize = int64(mem.VMS)
		a.ResidentSetSize = int64(mem.RSS)
	} else {
		errs = multierr.Append(errs, err)
	}
	if times, err := p.TimesWithContext(ctx); err == nil {
		a.KernelTime = int64(times.System * 1000)
		a.UserTime = int64(times.User * 1000)
	} else {
		errs = multierr.Append(errs, err)
	}
	if created, err := p.CreateTimeWithContext(ctx); err == nil {
		a.StartTime = created
	} else {
		errs = multierr.Append(errs, err)
	}
	if pio, err := p.IOCountersWithContext(ctx); err == nil {
		a.BytesRead = int64(pio.ReadBytes)
		a.BytesWritten = int64(pio.WriteBytes)
	}
	if fds, err := p.NumFDsWithContext(ctx); err == nil {
		a.OpenFiles = int64(fds)
	}
	if faults, err := p.PageFaultsWithContext(ctx); err == nil {
		a.MinorFaults = int64(faults.MinorFaults)
		a.MajorFaults = int64(faults.MajorFaults)
	}
	if ctxsw, err := p.NumCtxSwitchesWithContext(ctx); err == nil {
		a.ContextSwitches = ctxsw.Voluntary + ctxsw.Involuntary
	}
	a.AffinityMask = queryAffinity(ctx, p)
	if errs != nil {
		zap.S().Debugw("some process attributes unavailable", "pid", pid, "error", errs)
	}
	return a, nil
}

// queryAffinity reads the allowed processors where the platform has affinity
// and reports every logical processor where it does not.
func queryAffinity(ctx context.Context, p *process.Process) int64 {
	if cpus, err := p.CPUAffinityWithContext(ctx); err == nil && len(cpus) > 0 {
		allowed := make([]uint64, 0, len(cpus))
		for _, c := range cpus {
			if c >= 0 {
				allowed = append(allowed, uint64(c))
			}
		}
		return affinityMask(allowed)
	}
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return 0
	}
	return allProcessorsMask(n)
}

// stateFromStatus maps the gopsutil status names
func stateFromStatus(status string) State {
	switch status {
	case process.Running:
		return StateRunning
	case process.Sleep, process.Idle:
		return StateSleeping
	case process.Wait, process.Lock:
		return StateWaiting
	case process.Stop:
		return StateStopped
	case process.Zombie:
		return StateZombie
	default:
		return StateOther
	}
}

// QueryArgsAndEnv reads the argument slice and, where supported, the environment
func (d *GopsutilDriver) QueryArgsAndEnv(ctx context.Context, pid int) (ArgsAndEnv, error) {
	p, err := d.open(ctx, pid)
	if err != nil {
		return ArgsAndEnv{}, err
	}
	args, err := p.CmdlineSliceWithContext(ctx)
	if err != nil {
		return ArgsAndEnv{}, fmt.Errorf("reading arguments of %d: %w", pid, err)
	}
	env, err := p.EnvironWithContext(ctx)
	if err != nil {
		zap.S().Debugw("could not read process environment", "pid", pid, "error", err)
	}
	return ArgsAndEnv{A: args, B: splitEnv(env)}, nil
}

// QueryThreads returns per thread times where gopsutil implements them
func (d *GopsutilDriver) QueryThreads(ctx context.Context, pid int) ([]ThreadRecord, error) {
	p, err := d.open(ctx, pid)
	if err != nil {
		return nil, err
	}
	times, err := p.ThreadsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading threads of %d: %w", pid, err)
	}
	threads := make([]ThreadRecord, 0, len(times))
	for tid, t := range times {
		threads = append(threads, ThreadRecord{
			ThreadID:   int(tid),
			State:      StateOther,
			KernelTime: int64(t.System * 1000),
			UserTime:   int64(t.User * 1000),
		})
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].ThreadID < threads[j].ThreadID })
	return threads, nil
}
