package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/jaso1024/poe/internal/config"
	"github.com/jaso1024/poe/internal/events"
)

// flushTimeout is the maximum tail latency of a non-empty buffer before it
// is flushed even though it has not reached BatchSize (spec §4.3).
const flushTimeout = 100 * time.Millisecond

// Stats accumulates the coarse counters that end up in summary.json
// (spec §6).
type Stats struct {
	ProcessCount int
	EventCount   int
	FileOps      int
	NetOps       int
	StackSamples int
	StdoutBytes  int64
	StderrBytes  int64
}

// Writer is the single consumer of the event bus: it batches events into
// transactions of at most batchSize events (a partial batch is flushed
// after flushTimeout) and is the sole writer of the store's connection
// during capture (spec §3, §4.3, §5).
type Writer struct {
	store     *Store
	log       *logrus.Entry
	batchSize int

	stats   Stats
	seenPid map[int32]struct{}

	err error // first insert error; terminates the writer per spec §7
}

// NewWriter constructs a Writer. batchSize <= 0 uses config.DefaultBatchSize.
func NewWriter(s *Store, batchSize int, log *logrus.Entry) *Writer {
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}
	return &Writer{
		store:     s,
		log:       log.WithField("component", "store"),
		batchSize: batchSize,
		seenPid:   make(map[int32]struct{}),
	}
}

// Run drains ch until it is closed, flushing batched transactions along the
// way. It returns the first insert error encountered (spec §7: "any insert
// error terminates the writer"); the caller is expected to run this in its
// own goroutine and join on it.
func (w *Writer) Run(ctx context.Context, ch <-chan events.Event) error {
	buf := make([]events.Event, 0, w.batchSize)
	timer := time.NewTimer(flushTimeout)
	defer timer.Stop()

	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := w.flush(buf); err != nil {
			w.err = err
			w.log.WithError(err).Error("store writer flush failed, dropping further events")
		}
		buf = buf[:0]
	}

	for {
		if w.err != nil {
			// Per spec §7: once the writer has failed, later events are
			// dropped; keep draining so producers don't block forever, but
			// stop attempting inserts.
			select {
			case _, ok := <-ch:
				if !ok {
					return w.err
				}
				continue
			case <-ctx.Done():
				return w.err
			}
		}

		select {
		case ev, ok := <-ch:
			if !ok {
				flush()
				return w.err
			}
			buf = append(buf, ev)
			if len(buf) >= w.batchSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(flushTimeout)
			}
		case <-timer.C:
			flush()
			timer.Reset(flushTimeout)
		case <-ctx.Done():
			flush()
			return w.err
		}
	}
}

// Stats returns a snapshot of the writer's accumulated counters. Safe to
// call only after Run has returned.
func (w *Writer) Stats() Stats { return w.stats }

func (w *Writer) flush(buf []events.Event) error {
	tx, err := w.store.db.BeginTx(context.Background(), nil)
	if err != nil {
		return trace.Wrap(err, "begin flush transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	for _, ev := range buf {
		if err := w.insertOne(tx, ev); err != nil {
			return trace.Wrap(err, "insert event")
		}
	}

	if err := tx.Commit(); err != nil {
		return trace.Wrap(err, "commit flush transaction")
	}
	return nil
}

func (w *Writer) insertOne(tx *sql.Tx, ev events.Event) error {
	switch {
	case ev.Process != nil:
		return w.insertProcess(tx, ev.Process)
	case ev.FileOp != nil:
		w.stats.FileOps++
		return w.insertFile(tx, ev.FileOp)
	case ev.NetOp != nil:
		w.stats.NetOps++
		return w.insertNet(tx, ev.NetOp)
	case ev.StackSample != nil:
		w.stats.StackSamples++
		return w.insertStack(tx, ev.StackSample)
	case ev.Stdio != nil:
		if ev.Stdio.Stream == "stdout" {
			w.stats.StdoutBytes += int64(len(ev.Stdio.Data))
		} else {
			w.stats.StderrBytes += int64(len(ev.Stdio.Data))
		}
		return w.insertStdio(tx, ev.Stdio)
	case ev.Generic != nil:
		w.stats.EventCount++
		return w.insertGeneric(tx, ev.Generic)
	}
	return nil
}

func (w *Writer) insertProcess(tx *sql.Tx, p *events.Process) error {
	if _, seen := w.seenPid[p.ProcID]; !seen {
		w.seenPid[p.ProcID] = struct{}{}
		w.stats.ProcessCount++
	}

	_, err := tx.Exec(`
		INSERT INTO processes(proc_id, parent_proc_id, argv, cwd, start_ts, end_ts, exit_code, signal)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(proc_id) DO UPDATE SET
			argv = CASE WHEN excluded.argv != '' THEN excluded.argv ELSE processes.argv END,
			cwd = CASE WHEN excluded.cwd != '' THEN excluded.cwd ELSE processes.cwd END,
			end_ts = COALESCE(excluded.end_ts, processes.end_ts),
			exit_code = COALESCE(excluded.exit_code, processes.exit_code),
			signal = COALESCE(excluded.signal, processes.signal)
	`, p.ProcID, p.ParentProcID, ArgvJoin(p.Argv), p.Cwd, p.StartTS, p.EndTS, p.ExitCode, p.Signal)
	return trace.Wrap(err)
}

func (w *Writer) insertFile(tx *sql.Tx, f *events.FileOp) error {
	_, err := tx.Exec(`
		INSERT INTO files(ts, proc_id, op, path, fd, bytes, flags, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, f.TS, f.ProcID, f.Op, f.Path, f.FD, f.Bytes, f.Flags, f.Result)
	return trace.Wrap(err)
}

func (w *Writer) insertNet(tx *sql.Tx, n *events.NetOp) error {
	_, err := tx.Exec(`
		INSERT INTO net(ts, proc_id, op, proto, src, dst, bytes, fd, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.TS, n.ProcID, n.Op, n.Proto, n.Src, n.Dst, n.Bytes, n.FD, n.Result)
	return trace.Wrap(err)
}

func (w *Writer) insertStack(tx *sql.Tx, s *events.StackSample) error {
	_, err := tx.Exec(`
		INSERT INTO stacks(ts, proc_id, frames, weight)
		VALUES (?, ?, ?, ?)
	`, s.TS, s.ProcID, encodeFrames(s.Frames), s.Weight)
	return trace.Wrap(err)
}

func (w *Writer) insertStdio(tx *sql.Tx, c *events.StdioChunk) error {
	_, err := tx.Exec(`
		INSERT INTO stdio(ts, proc_id, stream, data)
		VALUES (?, ?, ?, ?)
	`, c.TS, c.ProcID, c.Stream, c.Data)
	return trace.Wrap(err)
}

func (w *Writer) insertGeneric(tx *sql.Tx, g *events.Generic) error {
	_, err := tx.Exec(`
		INSERT INTO events(ts, proc_id, kind, detail)
		VALUES (?, ?, ?, ?)
	`, g.TS, g.ProcID, string(g.Kind), g.Detail)
	return trace.Wrap(err)
}

// encodeFrames packs an ordered frame-address list into a compact
// little-endian uint64 blob (spec §4.3's "compact list encoding").
func encodeFrames(frames []uint64) []byte {
	out := make([]byte, 8*len(frames))
	for i, f := range frames {
		binary.LittleEndian.PutUint64(out[i*8:], f)
	}
	return out
}

// DecodeFrames reverses encodeFrames; used by the query layer.
func DecodeFrames(blob []byte) []uint64 {
	out := make([]uint64, len(blob)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(blob[i*8:])
	}
	return out
}
