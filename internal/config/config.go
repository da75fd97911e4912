// Package config provides the small set of environment-driven knobs the
// core reads directly, in the style of nerrf's cmd/tracker getenvDefault.
package config

import (
	"os"
	"strconv"
)

// GetenvDefault returns the value of environment variable k, or v if unset
// or empty.
func GetenvDefault(k, v string) string {
	if val := os.Getenv(k); val != "" {
		return val
	}
	return v
}

// GetenvDefaultInt parses environment variable k as an int, or returns v if
// unset, empty, or unparsable.
func GetenvDefaultInt(k string, v int) int {
	val := os.Getenv(k)
	if val == "" {
		return v
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return v
	}
	return n
}

const (
	// EnvTraceID carries the distributed trace id across process/host
	// boundaries (spec §6, §9).
	EnvTraceID = "POE_TRACE_ID"
	// EnvParentSpanID carries the freshly-minted parent span id injected
	// into every captured run.
	EnvParentSpanID = "POE_PARENT_SPAN_ID"
	// EnvTraceOrigin carries the originating hostname for cross-host
	// correlation.
	EnvTraceOrigin = "POE_TRACE_ORIGIN"
	// EnvBatchSize overrides the store writer's batch size (spec §4.3,
	// default 1024).
	EnvBatchSize = "POE_BATCH_SIZE"
	// EnvSampleHz overrides the stack sampler's frequency (spec §4.7).
	EnvSampleHz = "POE_SAMPLE_HZ"
)

const (
	// DefaultBatchSize is the writer's default flush threshold.
	DefaultBatchSize = 1024
	// DefaultSampleHz is the stack sampler's default frequency.
	DefaultSampleHz = 99
	// DefaultStdioRingCapacity bounds the retained tail of stdout/stderr.
	DefaultStdioRingCapacity = 1 << 20 // 1 MiB
)
