// Package pack writes and reads .poepack archives (spec §4.9): a
// deterministic, Deflate-compressed zip containing the run summary, the
// checkpointed trace store, stdio artifacts, and redacted environment
// metadata.
package pack

import (
	"archive/zip"
	"encoding/json"
	"os"
	"time"

	"github.com/gravitational/trace"

	"github.com/jaso1024/poe/internal/distributed"
	"github.com/jaso1024/poe/internal/redact"
)

const (
	memberSummary     = "summary.json"
	memberStore       = "trace.sqlite"
	memberStdout      = "artifacts/stdout.log"
	memberStderr      = "artifacts/stderr.log"
	memberEnvironment = "meta/environment.json"
)

// Environment is the document written to meta/environment.json
// (spec §4.9).
type Environment struct {
	RunID       string            `json:"run_id"`
	GitSHA      string            `json:"git_sha,omitempty"`
	Hostname    string            `json:"hostname"`
	PoeVersion  string            `json:"poe_version"`
	Kernel      string            `json:"kernel"`
	Arch        string            `json:"arch"`
	Environment map[string]string `json:"environment"`
	TraceContext struct {
		TraceID      string `json:"trace_id"`
		ParentSpanID string `json:"parent_span_id"`
		Origin       string `json:"origin,omitempty"`
	} `json:"trace_context"`
}

// WriteOptions bundles everything Write needs to assemble one pack.
type WriteOptions struct {
	OutPath     string
	SummaryJSON []byte // pre-marshaled summary.json bytes (spec §6)
	StorePath   string // checkpointed sqlite file to embed as trace.sqlite
	Stdout      []byte // nil/empty omits artifacts/stdout.log
	Stderr      []byte
	Environment Environment
}

// Write assembles a deterministic .poepack at opts.OutPath. Members are
// written in a fixed order with Deflate compression and zero-valued
// modification times so identical inputs produce byte-identical archives.
func Write(opts WriteOptions) error {
	f, err := os.Create(opts.OutPath)
	if err != nil {
		return trace.Wrap(err, "create pack %s", opts.OutPath)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	if err := writeMember(zw, memberSummary, opts.SummaryJSON); err != nil {
		return err
	}

	storeBytes, err := os.ReadFile(opts.StorePath)
	if err != nil {
		return trace.Wrap(err, "read checkpointed store %s", opts.StorePath)
	}
	if err := writeMember(zw, memberStore, storeBytes); err != nil {
		return err
	}

	if len(opts.Stdout) > 0 {
		if err := writeMember(zw, memberStdout, opts.Stdout); err != nil {
			return err
		}
	}
	if len(opts.Stderr) > 0 {
		if err := writeMember(zw, memberStderr, opts.Stderr); err != nil {
			return err
		}
	}

	envBytes, err := json.MarshalIndent(opts.Environment, "", "  ")
	if err != nil {
		return trace.Wrap(err, "marshal environment.json")
	}
	if err := writeMember(zw, memberEnvironment, envBytes); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return trace.Wrap(err, "close pack %s", opts.OutPath)
	}
	return nil
}

// writeMember writes one deterministic archive member: fixed mod time,
// Deflate compression, logical (forward-slash) name.
func writeMember(zw *zip.Writer, name string, data []byte) error {
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: deterministicModTime,
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return trace.Wrap(err, "create pack member %s", name)
	}
	if _, err := w.Write(data); err != nil {
		return trace.Wrap(err, "write pack member %s", name)
	}
	return nil
}

// BuildEnvironment assembles the environment.json document, redacting the
// process environment per spec §4.9 and carrying the distributed trace
// context derived from the parent's own environment.
func BuildEnvironment(runID, gitSHA, hostname, poeVersion, kernel, arch string, env []string, allowlist map[string]struct{}, ctx distributed.Context) Environment {
	envMap := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, ok := splitKV(kv)
		if ok {
			envMap[k] = v
		}
	}
	redacted := redact.Environment(envMap, allowlist)

	e := Environment{
		RunID:       runID,
		GitSHA:      gitSHA,
		Hostname:    hostname,
		PoeVersion:  poeVersion,
		Kernel:      kernel,
		Arch:        arch,
		Environment: redacted,
	}
	e.TraceContext.TraceID = ctx.TraceID
	e.TraceContext.ParentSpanID = ctx.ParentSpanID
	e.TraceContext.Origin = ctx.Origin
	return e
}

func splitKV(s string) (key, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// deterministicModTime is the fixed timestamp stamped on every archive
// member so repeated Write calls over identical inputs are byte-identical.
var deterministicModTime = time.Unix(0, 0).UTC()
