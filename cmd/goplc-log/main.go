// Command goplc-log views and analyzes controller event log files.
//
// Log files are written by the runtime's CBOR file logger when the
// configuration names a log file.
//
// Usage:
//
//	goplc-log <command> [flags] <file.plclog>
//
// Commands:
//
//	view     Print events in human-readable form
//	stats    Summarize the log file
//
// Examples:
//
//	# View all events
//	goplc-log view vent.plclog
//
//	# View only transfer events of one block
//	goplc-log view -category transfer -block meter vent.plclog
//
//	# Count events per task
//	goplc-log stats vent.plclog
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/goplc-io/goplc/pkg/log"
)

const usage = `goplc-log - controller event log viewer

Usage:
  goplc-log <command> [flags] <file.plclog>

Commands:
  view     Print events in human-readable form
  stats    Summarize the log file

Use "goplc-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "view":
		err = runView(args)
	case "stats":
		err = runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "goplc-log: unknown command %q\n\n%s", cmd, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "goplc-log: %v\n", err)
		os.Exit(1)
	}
}

func parseFilter(fs *flag.FlagSet) (*log.Filter, *string) {
	filter := &log.Filter{}
	fs.StringVar(&filter.Task, "task", "", "filter by task name")
	fs.StringVar(&filter.Block, "block", "", "filter by block id")
	category := fs.String("category", "", "filter by category (cycle, transfer, state, error)")
	return filter, category
}

func applyCategory(filter *log.Filter, category string) error {
	if category == "" {
		return nil
	}
	for _, c := range []log.Category{log.CategoryCycle, log.CategoryTransfer, log.CategoryState, log.CategoryError} {
		if strings.EqualFold(c.String(), category) {
			cc := c
			filter.Category = &cc
			return nil
		}
	}
	return fmt.Errorf("unknown category %q", category)
}

func openReader(fs *flag.FlagSet, filter *log.Filter) (*log.Reader, error) {
	if fs.NArg() != 1 {
		return nil, errors.New("exactly one log file is required")
	}
	return log.NewFilteredReader(fs.Arg(0), *filter)
}

func runView(args []string) error {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	filter, category := parseFilter(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := applyCategory(filter, *category); err != nil {
		return err
	}
	r, err := openReader(fs, filter)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		event, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println(formatEvent(event))
	}
}

func formatEvent(e log.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-9s %-8s", e.Timestamp.Format("15:04:05.000000"), e.Source, e.Category)
	if e.Task != "" {
		fmt.Fprintf(&b, " task=%s", e.Task)
	}
	if e.Block != "" {
		fmt.Fprintf(&b, " block=%s", e.Block)
	}
	switch {
	case e.Cycle != nil:
		fmt.Fprintf(&b, " period=%s elapsed=%s", e.Cycle.Period, e.Cycle.Elapsed)
		if e.Cycle.Overrun {
			b.WriteString(" OVERRUN")
		}
		if e.Cycle.Skipped {
			b.WriteString(" SKIPPED")
		}
	case e.Transfer != nil:
		fmt.Fprintf(&b, " dir=%s addr=%s count=%d", e.Transfer.Direction, e.Transfer.Address, e.Transfer.Count)
		if e.Transfer.Unit != 0 {
			fmt.Fprintf(&b, " unit=%d", e.Transfer.Unit)
		}
		if e.Transfer.Suppressed {
			b.WriteString(" suppressed")
		}
	case e.StateChange != nil:
		fmt.Fprintf(&b, " %s", e.StateChange.Entity)
		if e.StateChange.OldState != "" {
			fmt.Fprintf(&b, " %s ->", e.StateChange.OldState)
		}
		fmt.Fprintf(&b, " %s", e.StateChange.NewState)
		if e.StateChange.Reason != "" {
			fmt.Fprintf(&b, " (%s)", e.StateChange.Reason)
		}
	case e.Error != nil:
		fmt.Fprintf(&b, " %s", e.Error.Message)
		if e.Error.Context != "" {
			fmt.Fprintf(&b, " [%s]", e.Error.Context)
		}
	}
	return b.String()
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	filter, category := parseFilter(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := applyCategory(filter, *category); err != nil {
		return err
	}
	r, err := openReader(fs, filter)
	if err != nil {
		return err
	}
	defer r.Close()

	var (
		total      int
		byCategory = map[string]int{}
		byTask     = map[string]int{}
		overruns   int
		suppressed int
		errCount   int
	)
	var first, last log.Event
	for {
		event, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if total == 0 {
			first = event
		}
		last = event
		total++
		byCategory[event.Category.String()]++
		if event.Task != "" {
			byTask[event.Task]++
		}
		if event.Cycle != nil && event.Cycle.Overrun {
			overruns++
		}
		if event.Transfer != nil && event.Transfer.Suppressed {
			suppressed++
		}
		if event.Error != nil {
			errCount++
		}
	}

	fmt.Printf("events:     %d\n", total)
	if total > 0 {
		fmt.Printf("time range: %s .. %s\n",
			first.Timestamp.Format("2006-01-02 15:04:05"),
			last.Timestamp.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("overruns:   %d\n", overruns)
	fmt.Printf("suppressed: %d\n", suppressed)
	fmt.Printf("errors:     %d\n", errCount)

	fmt.Println("\nby category:")
	for _, k := range sortedKeys(byCategory) {
		fmt.Printf("  %-10s %d\n", k, byCategory[k])
	}
	fmt.Println("\nby task:")
	for _, k := range sortedKeys(byTask) {
		fmt.Printf("  %-16s %d\n", k, byTask[k])
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
