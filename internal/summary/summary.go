// Package summary builds the summary.json document that accompanies every
// pack (spec §6): the single human- and tool-readable digest of a capture.
package summary

import (
	"encoding/json"
	"time"

	"github.com/gravitational/trace"

	"github.com/jaso1024/poe/internal/events"
	"github.com/jaso1024/poe/internal/store"
)

// Version is the summary schema version embedded in every pack.
const Version = 1

// Failure describes why a run is considered a failure, when it is one.
type Failure struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	PrimaryPID  *int32 `json:"primary_pid,omitempty"`
}

// Stats mirrors store.Stats in the summary's JSON shape (spec §6).
type Stats struct {
	ProcessCount int   `json:"process_count"`
	EventCount   int   `json:"event_count"`
	FileOps      int   `json:"file_ops"`
	NetOps       int   `json:"net_ops"`
	StackSamples int   `json:"stack_samples"`
	StdoutBytes  int64 `json:"stdout_bytes"`
	StderrBytes  int64 `json:"stderr_bytes"`
}

// Summary is the exact document written to summary.json.
type Summary struct {
	Version       int            `json:"version"`
	RunID         string         `json:"run_id"`
	Timestamp     string         `json:"timestamp"`
	Command       []string       `json:"command"`
	WorkingDir    string         `json:"working_dir"`
	Hostname      string         `json:"hostname"`
	GitSHA        string         `json:"git_sha,omitempty"`
	ExitCode      *int           `json:"exit_code,omitempty"`
	Signal        *int           `json:"signal,omitempty"`
	SignalName    string         `json:"signal_name,omitempty"`
	TriggerReason string         `json:"trigger_reason,omitempty"`
	DurationMS    int64          `json:"duration_ms"`
	Failure       *Failure       `json:"failure,omitempty"`
	Stats         Stats          `json:"stats"`
}

// Build assembles a Summary from the finalized run record and accumulated
// store-writer stats. failure is nil for a clean run.
func Build(r *events.Run, st store.Stats, failure *Failure) Summary {
	duration := int64(0)
	if r.EndTime != nil {
		duration = r.EndTime.Sub(r.StartTime).Milliseconds()
	}

	s := Summary{
		Version:       Version,
		RunID:         r.RunID,
		Timestamp:     r.StartTime.UTC().Format(time.RFC3339),
		Command:       r.Command,
		WorkingDir:    r.WorkingDir,
		Hostname:      r.Hostname,
		GitSHA:        r.GitSHA,
		ExitCode:      r.ExitCode,
		Signal:        r.Signal,
		TriggerReason: string(r.TriggerReason),
		DurationMS:    duration,
		Failure:       failure,
		Stats: Stats{
			ProcessCount: st.ProcessCount,
			EventCount:   st.EventCount,
			FileOps:      st.FileOps,
			NetOps:       st.NetOps,
			StackSamples: st.StackSamples,
			StdoutBytes:  st.StdoutBytes,
			StderrBytes:  st.StderrBytes,
		},
	}
	if r.Signal != nil {
		s.SignalName = signalName(*r.Signal)
	}
	return s
}

// Marshal renders s as indented JSON for on-disk/archive storage.
func Marshal(s Summary) ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, trace.Wrap(err, "marshal summary")
	}
	return b, nil
}

// Unmarshal parses a summary.json document.
func Unmarshal(b []byte) (Summary, error) {
	var s Summary
	if err := json.Unmarshal(b, &s); err != nil {
		return Summary{}, trace.Wrap(err, "unmarshal summary")
	}
	return s, nil
}

var signalNames = map[int]string{
	2:  "SIGINT",
	3:  "SIGQUIT",
	4:  "SIGILL",
	5:  "SIGTRAP",
	6:  "SIGABRT",
	7:  "SIGBUS",
	8:  "SIGFPE",
	9:  "SIGKILL",
	11: "SIGSEGV",
	13: "SIGPIPE",
	15: "SIGTERM",
}

func signalName(n int) string {
	if name, ok := signalNames[n]; ok {
		return name
	}
	return ""
}
