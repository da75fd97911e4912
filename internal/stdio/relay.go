// Package stdio implements the tee-and-capture relay for a child's stdout
// and stderr streams (spec §4.4). Two dedicated worker goroutines each read
// from one end of a pipe, write verbatim to the parent's own stream (tee to
// console), append to a bounded byte ring, and emit a StdioChunk event.
package stdio

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaso1024/poe/internal/bus"
	"github.com/jaso1024/poe/internal/config"
	"github.com/jaso1024/poe/internal/events"
	"github.com/jaso1024/poe/internal/ring"
)

const readChunk = 8 * 1024 // 8 KiB, spec §4.4

// Relay owns the stdout/stderr worker goroutines for one captured run.
type Relay struct {
	log      *logrus.Entry
	epoch    time.Time
	producer *bus.Producer
	procID   int32

	stdoutRing *ring.ByteRing
	stderrRing *ring.ByteRing

	wg sync.WaitGroup
}

// New constructs a Relay. epoch is the run's monotonic-time origin, used to
// stamp StdioChunk events consistently with the tracer's own timestamps.
func New(producer *bus.Producer, procID int32, epoch time.Time, log *logrus.Entry) *Relay {
	return &Relay{
		log:        log.WithField("component", "stdio"),
		epoch:      epoch,
		producer:   producer,
		procID:     procID,
		stdoutRing: ring.NewByteRing(config.DefaultStdioRingCapacity),
		stderrRing: ring.NewByteRing(config.DefaultStdioRingCapacity),
	}
}

// Start launches the stdout and stderr relay workers, consuming from the
// given pipe read-ends and tee-ing each stream to the parent's own
// os.Stdout / os.Stderr.
func (r *Relay) Start(ctx context.Context, stdoutR, stderrR io.Reader) {
	r.wg.Add(2)
	go r.pump(ctx, stdoutR, os.Stdout, "stdout", r.stdoutRing)
	go r.pump(ctx, stderrR, os.Stderr, "stderr", r.stderrRing)
}

// Wait blocks until both relay workers have terminated (pipe EOF or a
// non-EINTR read error, spec §4.4), then returns the two byte rings.
func (r *Relay) Wait() (stdout, stderr *ring.ByteRing) {
	r.wg.Wait()
	return r.stdoutRing, r.stderrRing
}

func (r *Relay) pump(ctx context.Context, src io.Reader, console io.Writer, stream string, dst *ring.ByteRing) {
	defer r.wg.Done()

	buf := make([]byte, readChunk)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)

			if _, werr := console.Write(chunk); werr != nil {
				r.log.WithError(werr).Debug("console tee write failed")
			}

			dst.Write(chunk)

			r.producer.Send(events.Event{Stdio: &events.StdioChunk{
				TS:     time.Since(r.epoch).Nanoseconds(),
				ProcID: r.procID,
				Stream: stream,
				Data:   chunk,
			}})
		}
		if err != nil {
			if err != io.EOF {
				r.log.WithError(err).WithField("stream", stream).Debug("relay read terminated")
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
