package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CristiGvl/picoTelemetry/internal/memory"
	"github.com/CristiGvl/picoTelemetry/internal/process"
)

var (
	showThreads bool
	showEnv     bool
)

// procCmd lists processes, or describes one when a pid is given
var procCmd = &cobra.Command{
	Use:   "proc [pid]",
	Short: "List processes or show one process in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := newRegistry()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		mem, err := memory.NewReader().GetInfo(ctx)
		if err != nil {
			zap.S().Debugw("could not read physical memory", "error", err)
		}

		if len(args) == 0 {
			procs, err := registry.List(ctx)
			if err != nil {
				return err
			}
			writeProcessList(cmd.OutOrStdout(), procs, mem)
			return nil
		}

		pid, err := strconv.Atoi(args[0])
		if err != nil || pid < 0 {
			return fmt.Errorf("invalid process ID %q", args[0])
		}
		p, err := registry.Get(ctx, pid)
		if err != nil {
			return err
		}
		return writeProcess(ctx, cmd.OutOrStdout(), p, mem, showThreads, showEnv)
	},
}

func init() {
	procCmd.Flags().BoolVarP(&showThreads, "threads", "t", false, "print the threads of the process")
	procCmd.Flags().BoolVarP(&showEnv, "env", "e", false, "print the environment of the process")
	rootCmd.AddCommand(procCmd)
}

func millis(v int64) string {
	if v < 0 {
		return "unknown"
	}
	return (time.Duration(v) * time.Millisecond).String()
}

func affinity(mask int64) string {
	switch mask {
	case 0:
		return "unknown"
	case -1:
		return "all"
	}
	return "0x" + strconv.FormatInt(mask, 16)
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func writeProcessList(w io.Writer, procs []*process.OSProcess, mem *memory.Info) {
	table := newTable(w, "PID", "PPID", "User", "State", "Threads", "RSS", "CPU %", "Mem %", "Name")
	for _, p := range procs {
		table.Append([]string{
			strconv.Itoa(p.PID()),
			strconv.Itoa(p.ParentPID()),
			p.User(),
			p.State().String(),
			strconv.Itoa(p.ThreadCount()),
			bytesOrUnknown(p.ResidentSetSize()),
			percent(100 * p.CPULoadCumulative()),
			percent(mem.ResidentShare(p.ResidentSetSize())),
			p.Name(),
		})
	}
	table.Render()
}

func writeProcess(ctx context.Context, w io.Writer, p *process.OSProcess, mem *memory.Info, threads, env bool) error {
	s := p.Snapshot()
	fmt.Fprintf(w, "%s\n", p)
	fmt.Fprintf(w, " Path: %s\n", s.Path)
	fmt.Fprintf(w, " Command line: %s\n", p.CommandLine())
	fmt.Fprintf(w, " Working directory: %s\n", s.CurrentDir)
	fmt.Fprintf(w, " Parent: %d\n", s.ParentPID)
	fmt.Fprintf(w, " User: %s (%s), group: %s (%s)\n", s.User, s.UserID, s.Group, s.GroupID)
	fmt.Fprintf(w, " State: %s, priority %d, %d thread(s), %d-bit\n", s.State, s.Priority, s.ThreadCount, s.Bitness)
	fmt.Fprintf(w, " Affinity: %s\n", affinity(s.AffinityMask))
	fmt.Fprintf(w, " Memory: virtual %s, resident %s (%s%%)\n", bytesOrUnknown(s.VirtualSize), bytesOrUnknown(s.ResidentSetSize), percent(mem.ResidentShare(s.ResidentSetSize)))
	fmt.Fprintf(w, " CPU time: kernel %s, user %s, load %.1f%%\n", millis(s.KernelTime), millis(s.UserTime), 100*p.CPULoadCumulative())
	if s.StartTime > 0 {
		fmt.Fprintf(w, " Started: %s (up %s)\n", humanize.Time(time.UnixMilli(s.StartTime)), millis(s.UpTime))
	}
	fmt.Fprintf(w, " I/O: read %s, written %s, %s open file(s)\n", bytesOrUnknown(s.BytesRead), bytesOrUnknown(s.BytesWritten), count(s.OpenFiles))
	fmt.Fprintf(w, " Faults: minor %s, major %s, context switches %s\n", count(s.MinorFaults), count(s.MajorFaults), count(s.ContextSwitches))

	if threads {
		list, err := p.Threads(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(w)
		table := newTable(w, "TID", "State", "Priority", "Kernel", "User", "Up")
		for _, t := range list {
			table.Append([]string{
				strconv.Itoa(t.ThreadID),
				t.State.String(),
				strconv.Itoa(t.Priority),
				millis(t.KernelTime),
				millis(t.UserTime),
				millis(t.UpTime),
			})
		}
		table.Render()
	}

	if env {
		fmt.Fprintln(w)
		for _, kv := range p.EnvironmentList() {
			fmt.Fprintf(w, "%s=%s\n", kv.A, kv.B)
		}
	}
	return nil
}
