// Package query implements the typed read-side accessors over a captured
// (or reopened-from-pack) trace store: the surface `poe query` and any
// future collaborator tooling use instead of hand-writing SQL (spec §6).
// Promoted to a core package here: the distilled spec's query command
// still needs a library to call, regardless of what its CLI Non-goals say
// about an external query *language*.
package query

import (
	"database/sql"

	"github.com/gravitational/trace"

	"github.com/jaso1024/poe/internal/store"
	"github.com/jaso1024/poe/internal/summary"
)

// Query is a read-only handle over one trace store.
type Query struct {
	store *store.Store
}

// Open opens path read-only for querying.
func Open(path string) (*Query, error) {
	s, err := store.OpenReadOnly(path)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Query{store: s}, nil
}

// Close releases the underlying connection.
func (q *Query) Close() error { return q.store.Close() }

// ProcessRow mirrors the processes table.
type ProcessRow struct {
	ProcID       int32
	ParentProcID *int32
	Argv         []string
	Cwd          string
	StartTS      int64
	EndTS        *int64
	ExitCode     *int
	Signal       *int
}

// EventRow mirrors the events (generic) table.
type EventRow struct {
	ID     int64
	TS     int64
	ProcID int32
	Kind   string
	Detail string
}

// FileRow mirrors the files table.
type FileRow struct {
	ID     int64
	TS     int64
	ProcID int32
	Op     string
	Path   string
	FD     *int32
	Bytes  *int64
	Flags  int64
	Result int64
}

// NetRow mirrors the net table.
type NetRow struct {
	ID     int64
	TS     int64
	ProcID int32
	Op     string
	Proto  string
	Src    string
	Dst    string
	Bytes  *int64
	FD     *int32
	Result int64
}

// StackRow mirrors the stacks table, with frames already decoded.
type StackRow struct {
	ID     int64
	TS     int64
	ProcID int32
	Frames []uint64
	Weight uint64
}

// StdioRow mirrors the stdio table.
type StdioRow struct {
	ID     int64
	TS     int64
	ProcID int32
	Stream string
	Data   []byte
}

// Summary reads and parses summary.json-equivalent fields directly from the
// run table, for callers that only have a reopened store and not the
// original summary.json bytes (e.g. `poe query` against a checked-out
// trace.sqlite rather than a .poepack).
func (q *Query) Summary() (summary.Summary, error) {
	row := q.store.DB().QueryRow(`
		SELECT run_id, command, working_dir, hostname, start_time, end_time,
		       git_sha, exit_code, signal, trigger_reason
		FROM run LIMIT 1
	`)

	var runID, command, workingDir, hostname, startTime string
	var endTime, gitSHA sql.NullString
	var exitCode, signal sql.NullInt64
	var triggerReason string
	if err := row.Scan(&runID, &command, &workingDir, &hostname, &startTime, &endTime, &gitSHA, &exitCode, &signal, &triggerReason); err != nil {
		return summary.Summary{}, trace.Wrap(err, "scan run row")
	}

	s := summary.Summary{
		Version:       summary.Version,
		RunID:         runID,
		Timestamp:     startTime,
		Command:       store.ArgvSplit(command),
		WorkingDir:    workingDir,
		Hostname:      hostname,
		GitSHA:        gitSHA.String,
		TriggerReason: triggerReason,
	}
	if exitCode.Valid {
		n := int(exitCode.Int64)
		s.ExitCode = &n
	}
	if signal.Valid {
		n := int(signal.Int64)
		s.Signal = &n
	}
	return s, nil
}

// Processes returns every recorded process, ordered by start time.
func (q *Query) Processes() ([]ProcessRow, error) {
	rows, err := q.store.DB().Query(`
		SELECT proc_id, parent_proc_id, argv, cwd, start_ts, end_ts, exit_code, signal
		FROM processes ORDER BY start_ts
	`)
	if err != nil {
		return nil, trace.Wrap(err, "query processes")
	}
	defer rows.Close()

	var out []ProcessRow
	for rows.Next() {
		var p ProcessRow
		var parent, endTS, exitCode, signal sql.NullInt64
		var argv string
		if err := rows.Scan(&p.ProcID, &parent, &argv, &p.Cwd, &p.StartTS, &endTS, &exitCode, &signal); err != nil {
			return nil, trace.Wrap(err, "scan process row")
		}
		p.Argv = store.ArgvSplit(argv)
		if parent.Valid {
			n := int32(parent.Int64)
			p.ParentProcID = &n
		}
		if endTS.Valid {
			p.EndTS = &endTS.Int64
		}
		if exitCode.Valid {
			n := int(exitCode.Int64)
			p.ExitCode = &n
		}
		if signal.Valid {
			n := int(signal.Int64)
			p.Signal = &n
		}
		out = append(out, p)
	}
	return out, trace.Wrap(rows.Err())
}

// Events returns generic events, optionally filtered by kind (empty string
// means all kinds), ordered by id (spec §3: "the store's within-table id
// sequence equals the writer-thread observation order").
func (q *Query) Events(kind string) ([]EventRow, error) {
	query := `SELECT id, ts, proc_id, kind, detail FROM events`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY id`

	rows, err := q.store.DB().Query(query, args...)
	if err != nil {
		return nil, trace.Wrap(err, "query events")
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.ID, &e.TS, &e.ProcID, &e.Kind, &e.Detail); err != nil {
			return nil, trace.Wrap(err, "scan event row")
		}
		out = append(out, e)
	}
	return out, trace.Wrap(rows.Err())
}

// Files returns all file operations, ordered by id.
func (q *Query) Files() ([]FileRow, error) {
	return q.FilesMatching("")
}

// FilesMatching returns file operations whose path contains substr
// (empty substr matches all rows), ordered by id.
func (q *Query) FilesMatching(substr string) ([]FileRow, error) {
	query := `SELECT id, ts, proc_id, op, path, fd, bytes, flags, result FROM files`
	var args []any
	if substr != "" {
		query += ` WHERE path LIKE ?`
		args = append(args, "%"+substr+"%")
	}
	query += ` ORDER BY id`

	rows, err := q.store.DB().Query(query, args...)
	if err != nil {
		return nil, trace.Wrap(err, "query files")
	}
	defer rows.Close()

	var out []FileRow
	for rows.Next() {
		var f FileRow
		var fd, bytesN sql.NullInt64
		if err := rows.Scan(&f.ID, &f.TS, &f.ProcID, &f.Op, &f.Path, &fd, &bytesN, &f.Flags, &f.Result); err != nil {
			return nil, trace.Wrap(err, "scan file row")
		}
		if fd.Valid {
			n := int32(fd.Int64)
			f.FD = &n
		}
		if bytesN.Valid {
			f.Bytes = &bytesN.Int64
		}
		out = append(out, f)
	}
	return out, trace.Wrap(rows.Err())
}

// Net returns all net operations, ordered by id.
func (q *Query) Net() ([]NetRow, error) {
	return q.NetMatching("")
}

// NetMatching returns net operations whose src or dst contains substr
// (empty substr matches all rows), ordered by id.
func (q *Query) NetMatching(substr string) ([]NetRow, error) {
	query := `SELECT id, ts, proc_id, op, proto, src, dst, bytes, fd, result FROM net`
	var args []any
	if substr != "" {
		query += ` WHERE src LIKE ? OR dst LIKE ?`
		args = append(args, "%"+substr+"%", "%"+substr+"%")
	}
	query += ` ORDER BY id`

	rows, err := q.store.DB().Query(query, args...)
	if err != nil {
		return nil, trace.Wrap(err, "query net")
	}
	defer rows.Close()

	var out []NetRow
	for rows.Next() {
		var n NetRow
		var bytesN sql.NullInt64
		var fd sql.NullInt64
		if err := rows.Scan(&n.ID, &n.TS, &n.ProcID, &n.Op, &n.Proto, &n.Src, &n.Dst, &bytesN, &fd, &n.Result); err != nil {
			return nil, trace.Wrap(err, "scan net row")
		}
		if bytesN.Valid {
			n.Bytes = &bytesN.Int64
		}
		if fd.Valid {
			v := int32(fd.Int64)
			n.FD = &v
		}
		out = append(out, n)
	}
	return out, trace.Wrap(rows.Err())
}

// Stacks returns all stack samples, ordered by id, decoding the packed
// frames blob.
func (q *Query) Stacks() ([]StackRow, error) {
	rows, err := q.store.DB().Query(`SELECT id, ts, proc_id, frames, weight FROM stacks ORDER BY id`)
	if err != nil {
		return nil, trace.Wrap(err, "query stacks")
	}
	defer rows.Close()

	var out []StackRow
	for rows.Next() {
		var s StackRow
		var blob []byte
		if err := rows.Scan(&s.ID, &s.TS, &s.ProcID, &blob, &s.Weight); err != nil {
			return nil, trace.Wrap(err, "scan stack row")
		}
		s.Frames = store.DecodeFrames(blob)
		out = append(out, s)
	}
	return out, trace.Wrap(rows.Err())
}

// Stdout returns every stdout chunk, ordered by id.
func (q *Query) Stdout() ([]StdioRow, error) { return q.stdio("stdout") }

// Stderr returns every stderr chunk, ordered by id.
func (q *Query) Stderr() ([]StdioRow, error) { return q.stdio("stderr") }

func (q *Query) stdio(stream string) ([]StdioRow, error) {
	rows, err := q.store.DB().Query(`SELECT id, ts, proc_id, stream, data FROM stdio WHERE stream = ? ORDER BY id`, stream)
	if err != nil {
		return nil, trace.Wrap(err, "query stdio")
	}
	defer rows.Close()

	var out []StdioRow
	for rows.Next() {
		var s StdioRow
		if err := rows.Scan(&s.ID, &s.TS, &s.ProcID, &s.Stream, &s.Data); err != nil {
			return nil, trace.Wrap(err, "scan stdio row")
		}
		out = append(out, s)
	}
	return out, trace.Wrap(rows.Err())
}

// Stats recomputes the summary-style counters directly from the store,
// for collaborators that only have a trace.sqlite and not the original
// summary.json.
func (q *Query) Stats() (summary.Stats, error) {
	var s summary.Stats
	db := q.store.DB()

	if err := db.QueryRow(`SELECT COUNT(*) FROM processes`).Scan(&s.ProcessCount); err != nil {
		return s, trace.Wrap(err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&s.EventCount); err != nil {
		return s, trace.Wrap(err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&s.FileOps); err != nil {
		return s, trace.Wrap(err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM net`).Scan(&s.NetOps); err != nil {
		return s, trace.Wrap(err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM stacks`).Scan(&s.StackSamples); err != nil {
		return s, trace.Wrap(err)
	}
	var stdoutBytes, stderrBytes sql.NullInt64
	if err := db.QueryRow(`SELECT SUM(LENGTH(data)) FROM stdio WHERE stream = 'stdout'`).Scan(&stdoutBytes); err != nil {
		return s, trace.Wrap(err)
	}
	if err := db.QueryRow(`SELECT SUM(LENGTH(data)) FROM stdio WHERE stream = 'stderr'`).Scan(&stderrBytes); err != nil {
		return s, trace.Wrap(err)
	}
	s.StdoutBytes = stdoutBytes.Int64
	s.StderrBytes = stderrBytes.Int64
	return s, nil
}

// SQL runs an arbitrary read-only query against the store, for the `poe
// query PACK sql:<raw>` escape hatch. Callers are responsible for ensuring the
// query is a SELECT; the underlying connection is opened read-only
// (spec §3 ownership), so mutating statements fail at the driver level.
func (q *Query) SQL(query string, args ...any) (*sql.Rows, error) {
	rows, err := q.store.DB().Query(query, args...)
	return rows, trace.Wrap(err, "execute SQL query")
}
