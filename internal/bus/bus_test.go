package bus

import (
	"testing"

	"github.com/jaso1024/poe/internal/events"
)

func TestBusDeliversEventsInSendOrder(t *testing.T) {
	b := New(0) // exercise the default-capacity fallback
	p := b.NewProducer()

	go func() {
		for i := 0; i < 3; i++ {
			p.Send(events.Event{Generic: &events.Generic{ProcID: int32(i)}})
		}
		b.Close()
	}()

	var got []int32
	for ev := range b.Events() {
		got = append(got, ev.Generic.ProcID)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	for i, v := range got {
		if v != int32(i) {
			t.Fatalf("event %d has ProcID %d, want %d", i, v, i)
		}
	}
}

func TestBusSupportsMultipleProducers(t *testing.T) {
	b := New(16)
	p1, p2 := b.NewProducer(), b.NewProducer()
	done := make(chan struct{})

	go func() {
		p1.Send(events.Event{Generic: &events.Generic{Kind: events.KindProcessStart}})
		done <- struct{}{}
	}()
	go func() {
		p2.Send(events.Event{Generic: &events.Generic{Kind: events.KindProcessExit}})
		done <- struct{}{}
	}()
	<-done
	<-done
	b.Close()

	seen := map[events.Kind]bool{}
	for ev := range b.Events() {
		seen[ev.Generic.Kind] = true
	}
	if !seen[events.KindProcessStart] || !seen[events.KindProcessExit] {
		t.Fatalf("expected events from both producers, got %v", seen)
	}
}
