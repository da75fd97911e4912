package stdio

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaso1024/poe/internal/bus"
)

func TestRelayTeesRingsAndEmitsEvents(t *testing.T) {
	b := bus.New(64)
	p := b.NewProducer()
	log := logrus.NewEntry(logrus.New())

	r := New(p, 123, time.Now(), log)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx, stdoutR, stderrR)

	go func() {
		stdoutW.Write([]byte("out-chunk"))
		stdoutW.Close()
		stderrW.Write([]byte("err-chunk"))
		stderrW.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Wait()
		b.Close()
	}()

	var stdoutEvents, stderrEvents int
	for ev := range b.Events() {
		if ev.Stdio == nil {
			continue
		}
		if ev.Stdio.ProcID != 123 {
			t.Errorf("event ProcID = %d, want 123", ev.Stdio.ProcID)
		}
		switch ev.Stdio.Stream {
		case "stdout":
			stdoutEvents++
			if string(ev.Stdio.Data) != "out-chunk" {
				t.Errorf("stdout data = %q", ev.Stdio.Data)
			}
		case "stderr":
			stderrEvents++
			if string(ev.Stdio.Data) != "err-chunk" {
				t.Errorf("stderr data = %q", ev.Stdio.Data)
			}
		}
	}
	<-done

	if stdoutEvents != 1 || stderrEvents != 1 {
		t.Fatalf("got %d stdout events and %d stderr events, want 1 each", stdoutEvents, stderrEvents)
	}

	stdoutRing, stderrRing := r.stdoutRing, r.stderrRing
	if string(stdoutRing.Contents()) != "out-chunk" {
		t.Errorf("stdout ring = %q", stdoutRing.Contents())
	}
	if string(stderrRing.Contents()) != "err-chunk" {
		t.Errorf("stderr ring = %q", stderrRing.Contents())
	}
}
