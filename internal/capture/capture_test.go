//go:build linux && amd64

package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/jaso1024/poe/internal/events"
	"github.com/jaso1024/poe/internal/pack"
)

// requirePtrace skips tests that need a real ptrace-capable kernel and
// root or CAP_SYS_PTRACE, consistent with internal/tracer's test gating.
func requirePtrace(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping ptrace-backed test in -short mode")
	}
	if os.Getenv("POE_TEST_PTRACE") != "1" {
		t.Skip("set POE_TEST_PTRACE=1 to run tests that actually ptrace a child")
	}
}

func TestRunTrueProducesNoPack(t *testing.T) {
	requirePtrace(t)
	dir := t.TempDir()

	res, err := Run(context.Background(), Options{
		Command:   []string{"/bin/true"},
		OutputDir: dir,
		Log:       logrus.NewEntry(logrus.New()),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Trigger != events.TriggerNone {
		t.Fatalf("expected no trigger, got %q", res.Trigger)
	}
	if res.PackPath != "" {
		t.Fatalf("expected no pack path, got %q", res.PackPath)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty output dir, found %v", entries)
	}
}

func TestRunFalseProducesExitCodePack(t *testing.T) {
	requirePtrace(t)
	dir := t.TempDir()

	res, err := Run(context.Background(), Options{
		Command:   []string{"/bin/false"},
		OutputDir: dir,
		Log:       logrus.NewEntry(logrus.New()),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", res.ExitCode)
	}
	if res.Trigger != events.TriggerNonZeroExit {
		t.Fatalf("expected non_zero_exit trigger, got %q", res.Trigger)
	}
	if res.PackPath == "" {
		t.Fatal("expected a pack to be written")
	}
	if filepath.Dir(res.PackPath) != dir {
		t.Fatalf("pack written outside output dir: %s", res.PackPath)
	}

	r, err := pack.Open(res.PackPath)
	if err != nil {
		t.Fatalf("failed to open written pack: %v", err)
	}
	defer r.Close()
	if len(r.SummaryJSON) == 0 {
		t.Fatal("expected non-empty summary.json in pack")
	}
}

func TestRunAlwaysCapturesStdout(t *testing.T) {
	requirePtrace(t)
	dir := t.TempDir()

	res, err := Run(context.Background(), Options{
		Command:   []string{"/bin/echo", "hello"},
		OutputDir: dir,
		Always:    true,
		Log:       logrus.NewEntry(logrus.New()),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Trigger != events.TriggerAlways {
		t.Fatalf("expected always trigger, got %q", res.Trigger)
	}
	if res.PackPath == "" {
		t.Fatal("expected a pack to be written")
	}
}

func TestRunRejectsEmptyCommand(t *testing.T) {
	if _, err := Run(context.Background(), Options{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}
