// Package distributed implements trace-context propagation between a poe
// capture and its parent process, so packs from a distributed invocation
// can later be collated (spec §4.9, §7, "Environment seen by the child").
package distributed

import (
	"crypto/rand"
	"encoding/hex"
	"os"

	"github.com/google/uuid"

	"github.com/jaso1024/poe/internal/config"
)

// Context is the trace-correlation triple injected into the child's
// environment and recorded in a pack's environment.json.
type Context struct {
	TraceID      string
	ParentSpanID string
	Origin       string
}

// FromParentEnv derives the trace context for a new capture from the
// *parent* process's own environment (spec §7: "trace_context is derived
// from the parent process's environment at pack time, not the child's").
// POE_TRACE_ID is inherited if present, otherwise minted. A fresh span id
// is always generated; Origin is carried through unchanged, or defaults to
// this host's hostname for a root capture (spec §6: POE_TRACE_ORIGIN).
func FromParentEnv() Context {
	traceID := os.Getenv(config.EnvTraceID)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	origin := os.Getenv(config.EnvTraceOrigin)
	if origin == "" {
		origin, _ = os.Hostname()
	}
	return Context{
		TraceID:      traceID,
		ParentSpanID: newSpanID(),
		Origin:       origin,
	}
}

// newSpanID mints a fresh 16-hex-character span id (spec §7).
func newSpanID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read on Linux only fails if the kernel CSPRNG itself
		// is unavailable; fall back to the zero id rather than panic.
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}

// ChildEnv returns the KEY=VALUE pairs to inject into the child's
// environment for correlation (spec §7).
func (c Context) ChildEnv() []string {
	env := []string{
		config.EnvTraceID + "=" + c.TraceID,
		config.EnvParentSpanID + "=" + c.ParentSpanID,
	}
	if c.Origin != "" {
		env = append(env, config.EnvTraceOrigin+"="+c.Origin)
	}
	return env
}
