// Package adapter implements the small lifecycle capability set shared by
// language-specific sidecars (spec §9: "Adapter polymorphism"). No
// Python/Rust-specific parsing lives here (an explicit Non-goal); only the
// generic load/start/exit lifecycle and the line-delimited-JSON sidecar
// reader that every adapter is built from.
package adapter

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/jaso1024/poe/internal/bus"
	"github.com/jaso1024/poe/internal/events"
)

// Adapter is the capability set a language-specific sidecar implements
// (spec §9): on_load / on_start / on_exit.
type Adapter interface {
	// Name identifies the adapter for logging and argv0 detection.
	Name() string
	// OnLoad returns environment overrides to inject into the child and the
	// set of file descriptors whose close-on-exec bit must be cleared for
	// the child only (spec §4.6, §9).
	OnLoad() (envOverrides []string, fdsToClearCloexec []int)
	// OnStart is called once the root process is known, with a producer
	// the adapter (or its reader goroutine) may use to forward events.
	OnStart(producer *bus.Producer, rootPID int32)
	// OnExit releases any resources OnStart acquired (e.g. joins the
	// sidecar reader goroutine).
	OnExit()
}

// Detector matches a command's argv[0] against a command-shape family
// (spec §9: "register adapters by detecting the command shape").
type Detector struct {
	Name    string
	Matches func(argv0 string) bool
	New     func() Adapter
}

// DetectByArgv0 returns the first registered Detector whose Matches
// predicate accepts argv0, or nil if none match. Detectors are consulted
// in registration order.
func DetectByArgv0(detectors []Detector, argv0 string) Adapter {
	for _, d := range detectors {
		if d.Matches(argv0) {
			return d.New()
		}
	}
	return nil
}

// LineReader is the "cooperative-style sidecar ingestion" surface (spec
// §9): a dedicated goroutine that blocks reading newline-delimited JSON
// off an inherited fd, parses each line, and forwards it onto the bus as a
// Generic event. It is not a scheduler task; failures are logged and end
// the reader, never the capture (spec §7: "adapter load failure (adapter
// disabled)").
type LineReader struct {
	log      *logrus.Entry
	producer *bus.Producer
	kind     events.Kind
	done     chan struct{}
}

// NewLineReader constructs a LineReader that tags every forwarded event
// with kind.
func NewLineReader(producer *bus.Producer, kind events.Kind, log *logrus.Entry) *LineReader {
	return &LineReader{
		log:      log.WithField("component", "adapter"),
		producer: producer,
		kind:     kind,
		done:     make(chan struct{}),
	}
}

// Run reads newline-delimited JSON objects from r, parses each one as a
// freeform detail payload, and forwards it as a Generic event stamped with
// procID and a timestamp relative to epoch. Run returns when r reaches EOF
// or a read error occurs; it never panics on malformed JSON, it only skips
// that line.
func (lr *LineReader) Run(r io.Reader, procID int32, tsFn func() int64) {
	defer close(lr.done)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var payload json.RawMessage
		if err := json.Unmarshal(line, &payload); err != nil {
			lr.log.WithError(err).Warn("adapter sidecar line was not valid JSON, skipping")
			continue
		}
		lr.producer.Send(events.Event{Generic: &events.Generic{
			TS:     tsFn(),
			ProcID: procID,
			Kind:   lr.kind,
			Detail: string(payload),
		}})
	}
	if err := sc.Err(); err != nil {
		lr.log.WithError(err).Debug("adapter sidecar reader terminated")
	}
}

// Wait blocks until Run has returned.
func (lr *LineReader) Wait() { <-lr.done }

// ClearCloexec clears the close-on-exec flag on fd so it survives into the
// child across exec (spec §4.6, §9: "The fd's close-on-exec bit is cleared
// only for the child"). The parent's own copy of the fd keeps FD_CLOEXEC
// set by callers re-setting it after fork, which os/exec.Cmd.ExtraFiles
// handles for us: ExtraFiles are dup'd without FD_CLOEXEC into the child's
// low fd numbers, so in practice this helper exists for sidecars built
// directly on a raw pipe fd rather than ExtraFiles.
func ClearCloexec(f *os.File) error {
	fd := int(f.Fd())
	flags, err := fcntlGetFd(fd)
	if err != nil {
		return err
	}
	return fcntlSetFd(fd, flags&^fdCloexec)
}
