package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CristiGvl/picoTelemetry/internal/cpu"
	"github.com/CristiGvl/picoTelemetry/internal/temps"
)

var perProcessor bool

// cpuCmd prints the processor identity, topology and counters
var cpuCmd = &cobra.Command{
	Use:   "cpu",
	Short: "Show processor identity, caches and tick counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		processor, err := cpu.NewCentralProcessor(cmd.Context())
		if err != nil {
			return err
		}
		sensors, err := temps.NewReader().GetProcessorSensors(cmd.Context())
		if err != nil {
			zap.S().Debugw("could not read temperature sensors", "error", err)
		}
		writeProcessor(cmd.OutOrStdout(), processor, sensors, perProcessor)
		return nil
	},
}

func init() {
	cpuCmd.Flags().BoolVar(&perProcessor, "per-processor", false, "also print tick counters of every logical processor")
	rootCmd.AddCommand(cpuCmd)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func hertz(v int64) string {
	if v < 0 {
		return "unknown"
	}
	return humanize.SIWithDigits(float64(v), 2, "Hz")
}

func count(v int64) string {
	if v < 0 {
		return "unknown"
	}
	return humanize.Comma(v)
}

func bytesOrUnknown(v int64) string {
	if v < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(v))
}

func writeProcessor(w io.Writer, cp *cpu.CentralProcessor, sensors []temps.Sensor, perProcessor bool) {
	id := cp.ProcessorIdentifier()
	fmt.Fprintf(w, "%s\n", id.Name)
	fmt.Fprintf(w, " %s\n", id.Identifier())
	fmt.Fprintf(w, " Vendor: %s (%s)\n", id.Vendor, id.MicroArchitecture())
	fmt.Fprintf(w, " %d physical package(s), %d core(s), %d logical processor(s)\n",
		cp.PhysicalPackageCount(), cp.PhysicalProcessorCount(), cp.LogicalProcessorCount())
	fmt.Fprintf(w, " Frequency: vendor %s, max %s\n", hertz(id.VendorFreq), hertz(cp.MaxFrequency()))
	fmt.Fprintf(w, " Context switches: %s, interrupts: %s\n", count(cp.ContextSwitches()), count(cp.Interrupts()))
	if hottest, ok := temps.Hottest(sensors); ok {
		fmt.Fprintf(w, " Temperature: %.1f°C (%s)\n", hottest.Temperature, hottest.Name)
	}

	if load, err := cp.LoadAverage(3); err == nil {
		fields := make([]string, len(load))
		for i, l := range load {
			if l < 0 {
				fields[i] = "unknown"
				continue
			}
			fields[i] = strconv.FormatFloat(l, 'f', 2, 64)
		}
		fmt.Fprintf(w, " Load average: %s\n", strings.Join(fields, " "))
	}
	fmt.Fprintln(w)

	if caches := cp.ProcessorCaches(); len(caches) > 0 {
		table := newTable(w, "Level", "Type", "Size", "Line", "Ways")
		for _, c := range caches {
			ways := strconv.Itoa(c.Associativity)
			switch c.Associativity {
			case cpu.WaysUnknown:
				ways = "unknown"
			case cpu.WaysFullyAssociative:
				ways = "full"
			}
			table.Append([]string{
				"L" + strconv.Itoa(c.Level),
				c.Type.String(),
				humanize.IBytes(uint64(c.CacheSize)),
				strconv.Itoa(c.LineSize),
				ways,
			})
		}
		table.Render()
		fmt.Fprintln(w)
	}

	header := []string{"CPU"}
	for _, t := range cpu.TickTypes() {
		header = append(header, t.String())
	}
	table := newTable(w, header...)
	table.Append(tickRow("all", cp.SystemTicks()))
	if perProcessor {
		freqs := cp.CurrentFrequencies()
		for i, row := range cp.ProcessorTicks() {
			label := strconv.Itoa(i)
			if i < len(freqs) && freqs[i] > 0 {
				label += " @ " + hertz(freqs[i])
			}
			table.Append(tickRow(label, row))
		}
	}
	table.Render()
}

func tickRow(label string, ticks cpu.Ticks) []string {
	row := make([]string, 0, len(ticks)+1)
	row = append(row, label)
	for _, v := range ticks {
		row = append(row, strconv.FormatUint(v, 10))
	}
	return row
}
