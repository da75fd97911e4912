// Package store implements the durable, indexed, on-disk trace store
// (spec §4.3): a SQLite database (WAL + NORMAL sync + 64MB cache + MEMORY
// temp store) with one table per entity, written exclusively by a single
// batching writer goroutine.
package store

import (
	"database/sql"

	"github.com/gravitational/trace"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS run (
	run_id TEXT PRIMARY KEY,
	command TEXT,
	working_dir TEXT,
	env_hash TEXT,
	start_time TEXT,
	end_time TEXT,
	git_sha TEXT,
	hostname TEXT,
	exit_code INTEGER,
	signal INTEGER,
	trigger_reason TEXT
);

CREATE TABLE IF NOT EXISTS processes (
	proc_id INTEGER PRIMARY KEY,
	parent_proc_id INTEGER,
	argv TEXT,
	cwd TEXT,
	start_ts INTEGER,
	end_ts INTEGER,
	exit_code INTEGER,
	signal INTEGER
);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER,
	proc_id INTEGER,
	kind TEXT,
	detail TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_proc_id ON events(proc_id);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);

CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER,
	proc_id INTEGER,
	op TEXT,
	path TEXT,
	fd INTEGER,
	bytes INTEGER,
	flags INTEGER,
	result INTEGER
);
CREATE INDEX IF NOT EXISTS idx_files_ts ON files(ts);
CREATE INDEX IF NOT EXISTS idx_files_proc_id ON files(proc_id);
CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);

CREATE TABLE IF NOT EXISTS net (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER,
	proc_id INTEGER,
	op TEXT,
	proto TEXT,
	src TEXT,
	dst TEXT,
	bytes INTEGER,
	fd INTEGER,
	result INTEGER
);
CREATE INDEX IF NOT EXISTS idx_net_ts ON net(ts);
CREATE INDEX IF NOT EXISTS idx_net_proc_id ON net(proc_id);

CREATE TABLE IF NOT EXISTS stacks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER,
	proc_id INTEGER,
	frames BLOB,
	weight INTEGER
);
CREATE INDEX IF NOT EXISTS idx_stacks_ts ON stacks(ts);
CREATE INDEX IF NOT EXISTS idx_stacks_proc_id ON stacks(proc_id);

CREATE TABLE IF NOT EXISTS stdio (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER,
	proc_id INTEGER,
	stream TEXT,
	data BLOB
);
CREATE INDEX IF NOT EXISTS idx_stdio_ts ON stdio(ts);
`

// Store owns the single database connection used during a capture. Only
// the writer goroutine touches it while a capture is in progress; after the
// writer has drained, the capture checkpoints it and the pack writer copies
// the store file's bytes into the archive. The query accessors use a
// separate, read-only connection from OpenReadOnly.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (or opens) the SQLite database at path and applies the
// pragmas spec §4.3 requires for write throughput: WAL journaling, NORMAL
// synchronous, a 64MB page cache, and an in-memory temp store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, trace.Wrap(err, "open store at %s", path)
	}
	db.SetMaxOpenConns(1) // single-writer discipline (spec §3, §5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-65536", // 64MB, negative = KiB
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, trace.Wrap(err, "apply pragma %q", p)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, trace.Wrap(err, "create schema")
	}

	return &Store{db: db, path: path}, nil
}

// OpenReadOnly re-opens the store file after the writer has closed it, for
// use by the query accessors.
func OpenReadOnly(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, trace.Wrap(err, "open store read-only at %s", path)
	}
	return &Store{db: db, path: path}, nil
}

// DB exposes the underlying *sql.DB for the writer and query packages.
func (s *Store) DB() *sql.DB { return s.db }

// Checkpoint truncates the write-ahead journal so the store file is
// self-contained before packing (spec §4.3).
func (s *Store) Checkpoint() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return trace.Wrap(err, "checkpoint store")
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return trace.Wrap(s.db.Close())
}

// Path returns the on-disk path of the store file.
func (s *Store) Path() string { return s.path }
