//go:build linux

package process

import (
	"context"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/prometheus/procfs"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/CristiGvl/picoTelemetry/internal/memo"
)

// userHZ is the kernel clock tick rate used in /proc stat files
const userHZ = 100

// maxThreadReaders bounds the number of concurrent per-thread stat reads
const maxThreadReaders = 8

// LinuxDriver reads processes from procfs
type LinuxDriver struct {
	fs   procfs.FS
	path string
	err  error

	// bootTime is milliseconds since the epoch
	bootTime *memo.Memoizer[int64]
}

// newPlatformDriver creates a driver over the default /proc mount
func newPlatformDriver() Driver {
	return NewLinuxDriver(procfs.DefaultMountPoint)
}

// NewLinuxDriver creates a driver reading the procfs mounted at procPath.
func NewLinuxDriver(procPath string) *LinuxDriver {
	d := &LinuxDriver{path: procPath}
	d.fs, d.err = procfs.NewFS(procPath)
	if d.err != nil {
		zap.S().Warnw("procfs unavailable", "path", procPath, "error", d.err)
	}
	d.bootTime = memo.New(func() (int64, error) {
		stat, err := d.fs.Stat()
		if err != nil {
			return 0, err
		}
		return int64(stat.BootTime) * 1000, nil
	}, memo.NoExpiration)
	return d
}

func ticksToMillis(ticks uint) int64 {
	return int64(ticks) * 1000 / userHZ
}

func (d *LinuxDriver) proc(pid int) (procfs.Proc, error) {
	if d.err != nil {
		return procfs.Proc{}, d.err
	}
	p, err := d.fs.Proc(pid)
	if errors.Is(err, fs.ErrNotExist) {
		return procfs.Proc{}, notFound(pid)
	}
	return p, err
}

// startMillis converts a stat start time in ticks after boot to
// milliseconds since the epoch.
func (d *LinuxDriver) startMillis(starttime uint64) (int64, error) {
	boot, err := d.bootTime.Get()
	if err != nil {
		return 0, err
	}
	return boot + int64(starttime)*1000/userHZ, nil
}

// ListPIDs returns the numeric entries of /proc
func (d *LinuxDriver) ListPIDs(_ context.Context) ([]int, error) {
	if d.err != nil {
		return nil, d.err
	}
	procs, err := d.fs.AllProcs()
	if err != nil {
		return nil, err
	}
	pids := make([]int, len(procs))
	for i, p := range procs {
		pids[i] = p.PID
	}
	sort.Ints(pids)
	return pids, nil
}

// QuerySnapshot reads stat, status, io, fd, exe and cwd of pid. Only a
// failure to read stat fails the query; other files are often unreadable
// for processes of other users and leave their fields unknown.
func (d *LinuxDriver) QuerySnapshot(_ context.Context, pid int) (*Attributes, error) {
	p, err := d.proc(pid)
	if err != nil {
		return nil, err
	}
	stat, err := p.Stat()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(pid)
	}
	if err != nil {
		return nil, fmt.Errorf("reading stat of %d: %w", pid, err)
	}

	a := NewAttributes(pid)
	a.ParentPID = stat.PPID
	a.Name = stat.Comm
	a.State = stateFromCode(stat.State)
	a.ThreadCount = stat.NumThreads
	a.Priority = stat.Priority
	a.VirtualSize = int64(stat.VirtualMemory())
	a.ResidentSetSize = int64(stat.ResidentMemory())
	a.KernelTime = ticksToMillis(stat.STime)
	a.UserTime = ticksToMillis(stat.UTime)
	a.MinorFaults = int64(stat.MinFlt)
	a.MajorFaults = int64(stat.MajFlt)

	var errs error
	if start, err := d.startMillis(stat.Starttime); err == nil {
		a.StartTime = start
	} else {
		errs = multierr.Append(errs, err)
	}
	if status, err := p.NewStatus(); err == nil {
		a.UserID = strconv.FormatUint(status.UIDs[0], 10)
		a.GroupID = strconv.FormatUint(status.GIDs[0], 10)
		a.ContextSwitches = int64(status.VoluntaryCtxtSwitches + status.NonVoluntaryCtxtSwitches)
		a.AffinityMask = affinityMask(status.CpusAllowedList)
	} else {
		errs = multierr.Append(errs, err)
	}
	if exe, err := p.Executable(); err == nil {
		a.Path = exe
	} else {
		errs = multierr.Append(errs, err)
	}
	if cwd, err := p.Cwd(); err == nil {
		a.CurrentDir = cwd
	} else {
		errs = multierr.Append(errs, err)
	}
	if pio, err := p.IO(); err == nil {
		a.BytesRead = int64(pio.ReadBytes)
		a.BytesWritten = int64(pio.WriteBytes)
	} else {
		errs = multierr.Append(errs, err)
	}
	if n, err := p.FileDescriptorsLen(); err == nil {
		a.OpenFiles = int64(n)
	} else {
		errs = multierr.Append(errs, err)
	}
	if a.Path != "" {
		if bits, err := elfBitness(filepath.Join(d.path, strconv.Itoa(pid), "exe")); err == nil {
			a.Bitness = bits
		} else {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		zap.S().Debugw("some process attributes unavailable", "pid", pid, "error", errs)
	}
	return a, nil
}

// stateFromCode maps the state letter of /proc/<pid>/stat
func stateFromCode(code string) State {
	switch code {
	case "R":
		return StateRunning
	case "S", "I":
		return StateSleeping
	case "D":
		return StateWaiting
	case "T", "t":
		return StateStopped
	case "Z":
		return StateZombie
	default:
		return StateOther
	}
}

// elfBitness reads the class byte of the ELF header at path
func elfBitness(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var ident [elf.EI_NIDENT]byte
	if _, err := io.ReadFull(f, ident[:]); err != nil {
		return 0, err
	}
	if string(ident[:len(elf.ELFMAG)]) != elf.ELFMAG {
		return 0, fmt.Errorf("%s is not an ELF file", path)
	}
	switch elf.Class(ident[elf.EI_CLASS]) {
	case elf.ELFCLASS32:
		return 32, nil
	case elf.ELFCLASS64:
		return 64, nil
	default:
		return 0, fmt.Errorf("unknown ELF class %d", ident[elf.EI_CLASS])
	}
}

// QueryArgsAndEnv reads cmdline and environ. The environment of another
// user's process is usually unreadable; the arguments are still returned.
func (d *LinuxDriver) QueryArgsAndEnv(_ context.Context, pid int) (ArgsAndEnv, error) {
	p, err := d.proc(pid)
	if err != nil {
		return ArgsAndEnv{}, err
	}
	args, err := p.CmdLine()
	if errors.Is(err, fs.ErrNotExist) {
		return ArgsAndEnv{}, notFound(pid)
	}
	if err != nil {
		return ArgsAndEnv{}, fmt.Errorf("reading cmdline of %d: %w", pid, err)
	}
	env, err := p.Environ()
	if err != nil {
		zap.S().Debugw("could not read process environment", "pid", pid, "error", err)
	}
	return ArgsAndEnv{A: args, B: splitEnv(env)}, nil
}

// QueryThreads reads /proc/<pid>/task/*/stat concurrently. Threads that exit
// during the read are left out.
func (d *LinuxDriver) QueryThreads(ctx context.Context, pid int) ([]ThreadRecord, error) {
	if d.err != nil {
		return nil, d.err
	}
	tasks, err := d.fs.AllThreads(pid)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(pid)
	}
	if err != nil {
		return nil, fmt.Errorf("listing threads of %d: %w", pid, err)
	}

	records := make([]*ThreadRecord, len(tasks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxThreadReaders)
	for i, task := range tasks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			stat, err := task.Stat()
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading stat of thread %d: %w", task.PID, err)
			}
			start, _ := d.startMillis(stat.Starttime)
			records[i] = &ThreadRecord{
				ThreadID:   task.PID,
				State:      stateFromCode(stat.State),
				KernelTime: ticksToMillis(stat.STime),
				UserTime:   ticksToMillis(stat.UTime),
				StartTime:  start,
				Priority:   stat.Priority,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	threads := make([]ThreadRecord, 0, len(records))
	for _, r := range records {
		if r != nil {
			threads = append(threads, *r)
		}
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].ThreadID < threads[j].ThreadID })
	return threads, nil
}
