// Command goplc-cli talks to a running controller over its control
// socket.
//
// Usage:
//
//	goplc-cli [flags] [method]
//
// With a method argument one request is sent and the result printed:
//
//	goplc-cli -socket /var/run/goplc/vent.plcsock info
//	goplc-cli -name vent task_stats.get
//
// Without a method an interactive prompt opens. Available methods:
//
//	test              liveness probe
//	info              controller identity and status
//	task_stats.get    per-task cycle statistics
//	task_stats.reset  zero the statistics
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/goplc-io/goplc/pkg/api"
)

const defaultVarDir = "/var/run/goplc"

func main() {
	var (
		socket = flag.String("socket", "", "control socket path")
		name   = flag.String("name", "", "controller name, resolved against the var directory")
	)
	flag.Parse()

	path := *socket
	if path == "" && *name != "" {
		dir := os.Getenv("PLC_VAR_DIR")
		if dir == "" {
			dir = defaultVarDir
		}
		path = filepath.Join(dir, *name+".plcsock")
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "goplc-cli: -socket or -name is required")
		flag.Usage()
		os.Exit(2)
	}

	client, err := api.Dial(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "goplc-cli: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if method := flag.Arg(0); method != "" {
		if err := runMethod(client, method, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "goplc-cli: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := repl(client); err != nil {
		fmt.Fprintf(os.Stderr, "goplc-cli: %v\n", err)
		os.Exit(1)
	}
}

func repl(client *api.Client) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "plc> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("test"),
			readline.PcItem("info"),
			readline.PcItem("task_stats.get"),
			readline.PcItem("task_stats.reset"),
			readline.PcItem("help"),
			readline.PcItem("exit"),
		),
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return nil
		}

		cmd := strings.TrimSpace(line)
		switch cmd {
		case "":
		case "help", "?":
			fmt.Fprintln(rl.Stdout(), "methods: test, info, task_stats.get, task_stats.reset")
		case "exit", "quit", "q":
			return nil
		default:
			if err := runMethod(client, cmd, rl.Stdout()); err != nil {
				fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
			}
		}
	}
}

func runMethod(client *api.Client, method string, out io.Writer) error {
	switch method {
	case "test":
		if err := client.Test(); err != nil {
			return err
		}
		fmt.Fprintln(out, "OK")
	case "info":
		info, err := client.Info()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "system:      %s\n", info.SystemName)
		fmt.Fprintf(out, "name:        %s\n", info.Name)
		if info.Description != "" {
			fmt.Fprintf(out, "description: %s\n", info.Description)
		}
		fmt.Fprintf(out, "version:     %s\n", info.Version)
		fmt.Fprintf(out, "status:      %s\n", info.Status)
		fmt.Fprintf(out, "pid:         %d\n", info.PID)
		fmt.Fprintf(out, "uptime:      %s\n", info.Uptime.Round(time.Second))
	case "task_stats.get":
		stats, err := client.TaskStats()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-16s %-8s %10s %8s %8s %6s %12s %12s\n",
			"TASK", "KIND", "INTERVAL", "CYCLES", "OVERRUNS", "ERRORS", "JITTER(AVG)", "JITTER(MAX)")
		for _, st := range stats {
			fmt.Fprintf(out, "%-16s %-8s %10s %8d %8d %6d %12s %12s\n",
				st.Name, st.Kind, st.Interval, st.Cycles, st.Overruns, st.Errors,
				st.JitterAvg, st.JitterMax)
		}
	case "task_stats.reset":
		if err := client.ResetTaskStats(); err != nil {
			return err
		}
		fmt.Fprintln(out, "OK")
	default:
		return fmt.Errorf("unknown method %q", method)
	}
	return nil
}
