//go:build linux && amd64

// Package capture implements the top-level "run a command, return a pack
// path or reason" entry point spec §1 requires of the core: it owns the
// dependency graph between the tracer, syscall decoder, stack sampler,
// stdio relay, trace store, and pack writer, so that dependency graph is
// not left to the (out-of-scope) CLI dispatcher.
package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/jaso1024/poe/internal/bus"
	"github.com/jaso1024/poe/internal/config"
	"github.com/jaso1024/poe/internal/distributed"
	"github.com/jaso1024/poe/internal/events"
	"github.com/jaso1024/poe/internal/nativetrace"
	"github.com/jaso1024/poe/internal/pack"
	"github.com/jaso1024/poe/internal/ring"
	"github.com/jaso1024/poe/internal/sampler"
	"github.com/jaso1024/poe/internal/stdio"
	"github.com/jaso1024/poe/internal/store"
	"github.com/jaso1024/poe/internal/summary"
	"github.com/jaso1024/poe/internal/symbols"
	"github.com/jaso1024/poe/internal/tracer"
)

// Mode gates granularity knobs that may, in future revisions, trade sampler
// fidelity for overhead. Today lite and full behave identically (spec
// GLOSSARY: "current core behaves identically either way").
type Mode string

const (
	ModeLite Mode = "lite"
	ModeFull Mode = "full"
)

// Options configures one capture run (spec §6: `run` subcommand).
type Options struct {
	Command    []string
	WorkingDir string
	OutputDir  string
	Always     bool
	Mode       Mode
	SampleHz   int
	BatchSize  int
	GitSHA     string
	PoeVersion string
	Allowlist  map[string]struct{} // env keys exempt from redaction
	Log        *logrus.Entry
}

// Result is what Run produces: either a written pack, or a reason none was
// written (spec §3: "A trigger reason implies a pack is written; no
// trigger implies no pack").
type Result struct {
	PackPath string // empty if TriggerReason is TriggerNone
	ExitCode int
	Signal   *int
	Trigger  events.TriggerReason
}

// Run drives one capture end-to-end: spawn, trace, relay stdio, sample
// stacks, persist to a trace store, decide the trigger, and — only on a
// trigger — write a .poepack archive (spec §4.6, §4.9).
func Run(ctx context.Context, opts Options) (*Result, error) {
	if len(opts.Command) == 0 {
		return nil, trace.BadParameter("empty command")
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	log = log.WithField("component", "capture")

	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, trace.Wrap(err, "create output dir %s", opts.OutputDir)
	}
	if opts.Mode == "" {
		opts.Mode = ModeFull
	}

	runID := uuid.NewString()
	startTime := time.Now()
	workingDir := opts.WorkingDir
	if workingDir == "" {
		if wd, err := os.Getwd(); err == nil {
			workingDir = wd
		}
	}
	hostname, _ := os.Hostname()

	traceCtx := distributed.FromParentEnv()
	env := append(append([]string(nil), os.Environ()...), traceCtx.ChildEnv()...)
	envHash := hashEnv(env)

	storeDir, err := os.MkdirTemp("", "poe-store-")
	if err != nil {
		return nil, trace.Wrap(err, "create temp store dir")
	}
	defer os.RemoveAll(storeDir)
	storePath := filepath.Join(storeDir, "trace.sqlite")

	st, err := store.Open(storePath)
	if err != nil {
		return nil, trace.Wrap(err, "open trace store")
	}
	defer st.Close()

	run := &events.Run{
		RunID:      runID,
		Command:    opts.Command,
		WorkingDir: workingDir,
		EnvHash:    envHash,
		StartTime:  startTime,
		GitSHA:     opts.GitSHA,
		Hostname:   hostname,
	}
	if err := store.InsertRun(st, run); err != nil {
		return nil, trace.Wrap(err, "insert run row")
	}

	b := bus.New(1024)
	writer := store.NewWriter(st, opts.BatchSize, log)
	writerErrCh := make(chan error, 1)
	writerCtx, cancelWriter := context.WithCancel(context.Background())
	defer cancelWriter()
	go func() { writerErrCh <- writer.Run(writerCtx, b.Events()) }()

	tracerProducer := b.NewProducer()
	stdioProducer := b.NewProducer()

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, trace.Wrap(err, "create stdout pipe")
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return nil, trace.Wrap(err, "create stderr pipe")
	}

	epochMono := nowMono()
	epochWall := time.Now()

	var relay *stdio.Relay
	var samp *sampler.Sampler
	var binPath string
	relayCtx, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()

	onStart := func(rootPID int32) {
		stdoutW.Close()
		stderrW.Close()
		relay = stdio.New(stdioProducer, rootPID, epochWall, log)
		relay.Start(relayCtx, stdoutR, stderrR)

		// /proc/<pid>/exe must be read now, while the tracee is alive: the
		// exec into opts.Command has already happened by the time the
		// tracer reaches its initial stop, but the symlink disappears the
		// moment the process exits.
		if p, rerr := os.Readlink(fmt.Sprintf("/proc/%d/exe", rootPID)); rerr == nil {
			binPath = p
		}

		if opts.Mode == ModeFull || opts.Mode == ModeLite {
			s, err := sampler.Open(int(rootPID), sampleHzOrDefault(opts.SampleHz), epochMono, log)
			if err != nil {
				log.WithError(err).Warn("stack sampler setup failed, continuing with zero samples")
			} else if err := s.Enable(); err != nil {
				log.WithError(err).Warn("stack sampler enable failed, continuing with zero samples")
			} else {
				samp = s
			}
		}
	}

	tr := tracer.New(tracerProducer, epochMono, log)
	result, err := tr.Run(ctx, tracer.Options{
		Command:    opts.Command,
		Env:        env,
		WorkingDir: workingDir,
		Stdout:     stdoutW,
		Stderr:     stderrW,
		OnStart:    onStart,
	})
	if err != nil {
		return nil, trace.Wrap(err, "tracer run")
	}

	var stdoutRing, stderrRing *ring.ByteRing
	if relay != nil {
		stdoutRing, stderrRing = relay.Wait()
	} else {
		stdoutRing, stderrRing = ring.NewByteRing(0), ring.NewByteRing(0)
	}

	if samp != nil {
		for _, ev := range samp.Drain(result.RootPID) {
			stdioProducer.Send(ev)
		}
		if err := samp.Close(); err != nil {
			log.WithError(err).Warn("stack sampler close failed")
		}
	}

	ringPath := nativetrace.RingPath(int(result.RootPID))
	if entries, err := nativetrace.Read(ringPath); err != nil {
		log.WithError(err).Debug("native-trace ring read failed, continuing without native-trace events")
	} else if len(entries) > 0 {
		var resolver *symbols.Resolver
		if binPath != "" {
			if r, lerr := symbols.Load(binPath); lerr == nil {
				resolver = r
				nativetrace.PivotMain(entries, resolver)
			}
		}
		for _, ev := range nativetrace.ToEvents(entries, resolver, epochMono, result.RootPID) {
			stdioProducer.Send(ev)
		}
		os.Remove(ringPath)
	}

	// All producers (tracer, relay, sampler, native-trace) have finished
	// sending by this point; closing the bus lets the writer flush its
	// final batch and return (spec §5: "producers drop their channel
	// sender, causing the writer to flush and exit").
	b.Close()
	writerErr := <-writerErrCh
	if writerErr != nil {
		log.WithError(writerErr).Error("store writer failed, pack reflects only committed batches")
	}

	exitCode := 0
	if result.ExitCode != nil {
		exitCode = *result.ExitCode
	} else if result.Signal != nil {
		exitCode = 128 + *result.Signal
	}

	trigger := events.DecideTrigger(opts.Always, result.CrashSignal, result.AnySignal, exitCode)

	endTime := time.Now()
	run.EndTime = &endTime
	run.ExitCode = result.ExitCode
	run.Signal = result.Signal
	run.TriggerReason = trigger
	if err := store.FinalizeRun(st, run); err != nil {
		log.WithError(err).Error("failed to finalize run row")
	}

	res := &Result{
		ExitCode: exitCode,
		Signal:   result.Signal,
		Trigger:  trigger,
	}

	if trigger == events.TriggerNone {
		return res, nil
	}

	if err := st.Checkpoint(); err != nil {
		return res, trace.Wrap(err, "checkpoint store before packing")
	}

	var failure *summary.Failure
	if trigger == events.TriggerCrash || trigger == events.TriggerSignal {
		pid := result.RootPID
		failure = &summary.Failure{
			Kind:        string(trigger),
			Description: failureDescription(trigger, result.Signal),
			PrimaryPID:  &pid,
		}
	} else if trigger == events.TriggerNonZeroExit {
		failure = &summary.Failure{
			Kind:        string(trigger),
			Description: fmt.Sprintf("command exited with code %d", exitCode),
		}
	}

	sum := summary.Build(run, writer.Stats(), failure)
	sumBytes, err := summary.Marshal(sum)
	if err != nil {
		return res, trace.Wrap(err, "marshal summary.json")
	}

	poeEnv := pack.BuildEnvironment(
		runID, opts.GitSHA, hostname, opts.PoeVersion, kernelRelease(), runtime.GOARCH,
		env, opts.Allowlist, traceCtx,
	)

	packPath := filepath.Join(opts.OutputDir, runID+".poepack")
	if err := pack.Write(pack.WriteOptions{
		OutPath:     packPath,
		SummaryJSON: sumBytes,
		StorePath:   storePath,
		Stdout:      stdoutRing.Contents(),
		Stderr:      stderrRing.Contents(),
		Environment: poeEnv,
	}); err != nil {
		return res, trace.Wrap(err, "write pack")
	}

	res.PackPath = packPath
	return res, nil
}

func sampleHzOrDefault(hz int) int {
	if hz <= 0 {
		return config.GetenvDefaultInt(config.EnvSampleHz, config.DefaultSampleHz)
	}
	return hz
}

func nowMono() int64 {
	var ts unix.Timespec
	unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return ts.Sec*1_000_000_000 + ts.Nsec
}

func kernelRelease() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return ""
	}
	return cstr(uts.Release[:])
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// hashEnv computes the 16-hex run.env_hash: SHA-256 over sorted "K=V\0"
// entries (spec §3).
func hashEnv(env []string) string {
	sorted := append([]string(nil), env...)
	sort.Strings(sorted)
	h := sha256.New()
	for _, kv := range sorted {
		h.Write([]byte(kv))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func failureDescription(trigger events.TriggerReason, signal *int) string {
	if trigger == events.TriggerCrash && signal != nil {
		return fmt.Sprintf("crashed with %s", unix.Signal(*signal).String())
	}
	if trigger == events.TriggerSignal && signal != nil {
		return fmt.Sprintf("terminated by %s", unix.Signal(*signal).String())
	}
	s := string(trigger)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
