package adapter

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/jaso1024/poe/internal/bus"
	"github.com/jaso1024/poe/internal/events"
)

func TestDetectByArgv0(t *testing.T) {
	pythonAdapter := Detector{
		Name:    "python",
		Matches: func(argv0 string) bool { return strings.HasPrefix(argv0, "python") },
		New:     func() Adapter { return nil },
	}
	detectors := []Detector{pythonAdapter}

	if d := DetectByArgv0(detectors, "python3"); d != nil {
		t.Fatalf("expected nil Adapter from stub New(), got %v", d)
	}
	if d := DetectByArgv0(detectors, "node"); d != nil {
		t.Fatalf("expected no match for node, got %v", d)
	}
}

func TestLineReaderForwardsValidJSONSkipsInvalid(t *testing.T) {
	b := bus.New(8)
	producer := b.NewProducer()
	lr := NewLineReader(producer, events.KindAdapterCall, logrus.NewEntry(logrus.New()))

	input := strings.NewReader("{\"fn\":\"foo\"}\nnot json\n{\"fn\":\"bar\"}\n")
	go func() {
		lr.Run(input, 42, func() int64 { return 7 })
		b.Close()
	}()

	var got []events.Event
	for ev := range b.Events() {
		got = append(got, ev)
	}
	lr.Wait()

	if len(got) != 2 {
		t.Fatalf("expected 2 forwarded events, got %d", len(got))
	}
	for _, ev := range got {
		if ev.Generic == nil {
			t.Fatalf("expected Generic event, got %+v", ev)
		}
		if ev.Generic.ProcID != 42 || ev.Generic.TS != 7 {
			t.Fatalf("unexpected stamping: %+v", ev.Generic)
		}
	}
}
