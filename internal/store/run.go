package store

import (
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/jaso1024/poe/internal/events"
)

// InsertRun records the run row at capture start. Run lifecycle is owned
// directly by the capture orchestrator, not the bus, since there is
// exactly one Run per pack and it must exist before any other table is
// populated (spec §3).
func InsertRun(s *Store, r *events.Run) error {
	_, err := s.db.Exec(`
		INSERT INTO run(run_id, command, working_dir, env_hash, start_time, git_sha, hostname, trigger_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, ArgvJoin(r.Command), r.WorkingDir, r.EnvHash, r.StartTime.Format(time.RFC3339Nano), r.GitSHA, r.Hostname, string(r.TriggerReason))
	return trace.Wrap(err, "insert run")
}

// FinalizeRun records the run's completion fields once the tracer's loop
// has exited and the trigger decision has been made.
func FinalizeRun(s *Store, r *events.Run) error {
	_, err := s.db.Exec(`
		UPDATE run SET end_time = ?, exit_code = ?, signal = ?, trigger_reason = ?
		WHERE run_id = ?
	`, r.EndTime.Format(time.RFC3339Nano), r.ExitCode, r.Signal, string(r.TriggerReason), r.RunID)
	return trace.Wrap(err, "finalize run")
}

// ArgvJoin and ArgvSplit encode/decode a string slice into the store's
// NUL-separated TEXT columns (argv, command).
func ArgvJoin(argv []string) string {
	return strings.Join(argv, "\x00")
}

func ArgvSplit(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x00")
}
