//go:build linux && amd64

package tracer

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaso1024/poe/internal/bus"
)

// requirePtrace skips tests that need a real ptrace-capable kernel and
// root or CAP_SYS_PTRACE, consistent with how privileged capability
// checks are gated elsewhere in this module.
func requirePtrace(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping ptrace-backed test in -short mode")
	}
	if os.Getenv("POE_TEST_PTRACE") != "1" {
		t.Skip("set POE_TEST_PTRACE=1 to run tests that actually ptrace a child")
	}
}

func TestRunTracesTrivialExit(t *testing.T) {
	requirePtrace(t)

	b := bus.New(64)
	producer := b.NewProducer()
	tr := New(producer, nowMono(), logrus.NewEntry(logrus.New()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := tr.Run(ctx, Options{
		Command: []string{"/bin/true"},
		Env:     os.Environ(),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %+v", res)
	}
	if res.AnySignal || res.CrashSignal {
		t.Fatalf("unexpected signal in result: %+v", res)
	}
}

func TestRunRecordsSIGSEGVAsCrash(t *testing.T) {
	requirePtrace(t)

	b := bus.New(64)
	producer := b.NewProducer()
	tr := New(producer, nowMono(), logrus.NewEntry(logrus.New()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := tr.Run(ctx, Options{
		Command: []string{"/bin/sh", "-c", "kill -SEGV $$"},
		Env:     os.Environ(),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.CrashSignal {
		t.Fatalf("expected CrashSignal, got %+v", res)
	}
}
