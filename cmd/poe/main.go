// Command poe is the CLI entry point: thin argument parsing that wires
// each subcommand straight into the corresponding core package, in the
// style of nerrf's cmd/tracker getenvDefault plain main().
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jaso1024/poe/internal/buildwrap"
	"github.com/jaso1024/poe/internal/capture"
	"github.com/jaso1024/poe/internal/config"
	"github.com/jaso1024/poe/internal/doctor"
	"github.com/jaso1024/poe/internal/pack"
	"github.com/jaso1024/poe/internal/query"
	"github.com/jaso1024/poe/internal/summary"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(os.Args[2:])
	case "query":
		err = queryCmd(os.Args[2:])
	case "doctor":
		err = doctorCmd(os.Args[2:])
	case "build":
		err = buildCmd(os.Args[2:])
	case "explain", "diff", "serve", "trace", "update":
		err = fmt.Errorf("%q is recognized but not implemented by the core poe binary", os.Args[1])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "poe:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  poe run [--always] [--mode lite|full] [--output DIR] [--sample-hz N] -- CMD...
  poe query PACK QUERY
  poe doctor
  poe build [-o DIR] -- BUILDCMD...

QUERY is one of: summary, processes, events, events:KIND, files, files:SUBSTR,
net, net:SUBSTR, stacks, stdout, stderr, stats, sql:RAW_SELECT

recognized but not implemented: explain, diff, serve, trace, update`)
}

// splitOnDoubleDash splits args on a literal "--" separator, returning the
// flag-bearing prefix and the trailing command, matching how run and build
// both separate their own flags from the wrapped command line.
func splitOnDoubleDash(args []string) (before, after []string) {
	for i, a := range args {
		if a == "--" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}

func runCmd(args []string) error {
	flags, cmd := splitOnDoubleDash(args)
	if len(cmd) == 0 {
		return fmt.Errorf("run requires a command after --")
	}

	var always bool
	var mode, output string
	var sampleHz int
	for i := 0; i < len(flags); i++ {
		switch flags[i] {
		case "--always":
			always = true
		case "--mode":
			i++
			if i >= len(flags) {
				return fmt.Errorf("--mode requires lite or full")
			}
			mode = flags[i]
		case "--output":
			i++
			if i >= len(flags) {
				return fmt.Errorf("--output requires a directory")
			}
			output = flags[i]
		case "--sample-hz":
			i++
			if i >= len(flags) {
				return fmt.Errorf("--sample-hz requires an integer")
			}
			n := 0
			if _, err := fmt.Sscanf(flags[i], "%d", &n); err != nil {
				return fmt.Errorf("--sample-hz: %w", err)
			}
			sampleHz = n
		case "--diff":
			i++ // accepted for command-surface parity; baseline comparison is unimplemented
		default:
			return fmt.Errorf("unrecognized run flag %q", flags[i])
		}
	}

	m := capture.ModeFull
	if mode == string(capture.ModeLite) {
		m = capture.ModeLite
	}
	if output == "" {
		output = "."
	}

	log := logrus.NewEntry(logrus.New())
	res, err := capture.Run(context.Background(), capture.Options{
		Command:    cmd,
		OutputDir:  output,
		Always:     always,
		Mode:       m,
		SampleHz:   sampleHz,
		BatchSize:  config.GetenvDefaultInt(config.EnvBatchSize, config.DefaultBatchSize),
		PoeVersion: poeVersion,
		Log:        log,
	})
	if err != nil {
		return err
	}

	if res.PackPath != "" {
		printPacketBanner(res.PackPath)
		fmt.Println(res.PackPath)
	}
	os.Exit(res.ExitCode)
	return nil
}

// printPacketBanner renders the debug-packet summary to stderr on a
// triggered run, matching the original's src/cli/run.rs banner (spec §8
// scenario 4: the CRASH/signal line must land on stderr).
func printPacketBanner(packPath string) {
	r, err := pack.Open(packPath)
	if err != nil {
		return
	}
	defer r.Close()

	var s summary.Summary
	if err := json.Unmarshal(r.SummaryJSON, &s); err != nil {
		return
	}

	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "--- poe debug packet ---")
	switch {
	case s.Signal != nil:
		name := s.SignalName
		if name == "" {
			name = fmt.Sprintf("signal %d", *s.Signal)
		}
		label := "CRASH"
		if s.TriggerReason != "crash" {
			label = "SIGNAL"
		}
		fmt.Fprintf(os.Stderr, "  %s process killed by %s (%d)\n", label, name, *s.Signal)
	case s.ExitCode != nil && *s.ExitCode != 0:
		fmt.Fprintf(os.Stderr, "  FAIL process exited with code %d\n", *s.ExitCode)
	}
	fmt.Fprintf(os.Stderr, "  packet: %s\n", packPath)
	fmt.Fprintf(os.Stderr, "  duration: %dms\n", s.DurationMS)
	fmt.Fprintf(os.Stderr, "  run: poe explain %s\n", packPath)
	fmt.Fprintln(os.Stderr, "------------------------")
}

func queryCmd(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("query requires PACK and QUERY arguments")
	}
	packPath, q := args[0], args[1]

	r, err := pack.Open(packPath)
	if err != nil {
		return fmt.Errorf("open pack: %w", err)
	}
	defer r.Close()

	qq, err := query.Open(r.StorePath)
	if err != nil {
		return fmt.Errorf("open trace store: %w", err)
	}
	defer qq.Close()

	name, arg, _ := strings.Cut(q, ":")
	var result any
	switch name {
	case "summary":
		result, err = qq.Summary()
	case "processes":
		result, err = qq.Processes()
	case "events":
		result, err = qq.Events(arg)
	case "files":
		result, err = qq.FilesMatching(arg)
	case "net":
		result, err = qq.NetMatching(arg)
	case "stacks":
		result, err = qq.Stacks()
	case "stdout":
		result, err = qq.Stdout()
	case "stderr":
		result, err = qq.Stderr()
	case "stats":
		result, err = qq.Stats()
	case "sql":
		return runRawSQL(qq, arg)
	default:
		return fmt.Errorf("unrecognized query %q", q)
	}
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runRawSQL(qq *query.Query, raw string) error {
	rows, err := qq.SQL(raw)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return printJSON(out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func doctorCmd(args []string) error {
	report := doctor.Run()
	for _, c := range report.Checks {
		line := fmt.Sprintf("[%s] %-20s %s", strings.ToUpper(string(c.Status)), c.Name, c.Detail)
		if c.Remedy != "" {
			line += "\n    remedy: " + c.Remedy
		}
		fmt.Println(line)
	}
	if !report.OK() {
		os.Exit(1)
	}
	return nil
}

func buildCmd(args []string) error {
	flags, cmd := splitOnDoubleDash(args)
	if len(cmd) == 0 {
		return fmt.Errorf("build requires a build command after --")
	}

	output := "."
	for i := 0; i < len(flags); i++ {
		if flags[i] == "-o" || flags[i] == "--output" {
			i++
			if i >= len(flags) {
				return fmt.Errorf("-o requires a directory")
			}
			output = flags[i]
			continue
		}
		return fmt.Errorf("unrecognized build flag %q", flags[i])
	}

	wrapperDir := filepath.Join(output, ".poe-build-wrappers")
	if err := buildwrap.Prepare(wrapperDir); err != nil {
		return fmt.Errorf("prepare compiler wrappers: %w", err)
	}

	absWrapperDir, err := filepath.Abs(wrapperDir)
	if err != nil {
		return err
	}

	c := exec.Command(cmd[0], cmd[1:]...)
	c.Env = append(os.Environ(), "PATH="+absWrapperDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.Stdin = os.Stdin
	if err := c.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		return err
	}
	return nil
}

// poeVersion is overridden at link time via -ldflags "-X main.poeVersion=...".
var poeVersion = "dev"
