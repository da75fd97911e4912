package ring

import (
	"bytes"
	"testing"
)

func TestByteRingRetainsTailAndTracksTotal(t *testing.T) {
	r := NewByteRing(4)
	writes := [][]byte{[]byte("ab"), []byte("cde"), []byte("f")}
	var total int
	for _, w := range writes {
		r.Write(w)
		total += len(w)
	}

	if got := r.TotalWritten(); got != uint64(total) {
		t.Fatalf("TotalWritten() = %d, want %d", got, total)
	}
	// capacity 4, writes give "ab"+"cde"+"f" = "abcdef", tail is "cdef"
	if got := r.Contents(); !bytes.Equal(got, []byte("cdef")) {
		t.Fatalf("Contents() = %q, want %q", got, "cdef")
	}
	if got := r.Len(); got != 4 {
		t.Fatalf("Len() = %d, want 4", got)
	}
}

func TestByteRingUnderCapacityRoundTrips(t *testing.T) {
	r := NewByteRing(16)
	r.Write([]byte("hello"))
	r.Write([]byte(" world"))
	if got := r.Contents(); string(got) != "hello world" {
		t.Fatalf("Contents() = %q, want %q", got, "hello world")
	}
	if got := r.TotalWritten(); got != uint64(len("hello world")) {
		t.Fatalf("TotalWritten() = %d", got)
	}
}

func TestByteRingOversizedWriteReplacesContents(t *testing.T) {
	r := NewByteRing(3)
	r.Write([]byte("abcdefgh"))
	if got := r.Contents(); string(got) != "fgh" {
		t.Fatalf("Contents() = %q, want %q", got, "fgh")
	}
}

func TestByteRingZeroCapacityDropsEverything(t *testing.T) {
	r := NewByteRing(0)
	r.Write([]byte("anything"))
	if got := r.Contents(); len(got) != 0 {
		t.Fatalf("Contents() = %q, want empty", got)
	}
	if got := r.TotalWritten(); got != 8 {
		t.Fatalf("TotalWritten() = %d, want 8", got)
	}
}

func TestEventRingDropsOldestOnOverflow(t *testing.T) {
	r := NewEventRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	got := r.Snapshot()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Snapshot() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Snapshot() = %v, want %v", got, want)
		}
	}
}
