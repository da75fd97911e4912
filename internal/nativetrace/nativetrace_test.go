package nativetrace

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func buildRing(t *testing.T, capacity int, writePos uint64, entries []Entry) []byte {
	t.Helper()
	buf := make([]byte, headerSize+capacity*entrySize)
	binary.LittleEndian.PutUint32(buf[0:], magic)
	binary.LittleEndian.PutUint32(buf[4:], 1)
	binary.LittleEndian.PutUint32(buf[8:], uint32(capacity))
	binary.LittleEndian.PutUint64(buf[16:], writePos)
	binary.LittleEndian.PutUint64(buf[24:], 0)

	for i, e := range entries {
		off := headerSize + i*entrySize
		binary.LittleEndian.PutUint64(buf[off:], e.TSNanos)
		binary.LittleEndian.PutUint64(buf[off+8:], e.FuncAddr)
		binary.LittleEndian.PutUint64(buf[off+16:], e.CallSite)
		binary.LittleEndian.PutUint32(buf[off+24:], e.TID)
		if e.IsExit {
			buf[off+28] = eventTypeExit
		} else {
			buf[off+28] = eventTypeEnter
		}
		buf[off+29] = e.Depth
	}
	return buf
}

func TestReadMissingFileIsNotError(t *testing.T) {
	entries, err := Read(filepath.Join(t.TempDir(), "does-not-exist.bin"))
	if err != nil {
		t.Fatalf("missing ring file should not error: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries, got %v", entries)
	}
}

func TestReadUnwrappedRing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ring.bin")
	entries := []Entry{
		{TSNanos: 100, FuncAddr: 0x1000},
		{TSNanos: 50, FuncAddr: 0x2000, IsExit: true},
	}
	data := buildRing(t, 4, 2, entries)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	// sorted by ts ascending
	if got[0].TSNanos != 50 || got[1].TSNanos != 100 {
		t.Fatalf("entries not sorted by ts: %+v", got)
	}
}

func TestReadWrappedRingStartsAtLogicalPosition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ring.bin")
	capacity := 4
	// write_pos=6 means wrapped once, logical start = 6%4=2. All entries
	// share one timestamp, so the stable sort keeps the logical order.
	entries := make([]Entry, capacity)
	for i := range entries {
		entries[i] = Entry{TSNanos: 1000, FuncAddr: uint64(i)}
	}
	data := buildRing(t, capacity, 6, entries)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != capacity {
		t.Fatalf("expected %d entries, got %d", capacity, len(got))
	}
	want := []uint64{2, 3, 0, 1}
	for i, e := range got {
		if e.FuncAddr != want[i] {
			t.Fatalf("entry %d has FuncAddr %d, want logical order %v", i, e.FuncAddr, want)
		}
	}
}

func TestReadBadMagicRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ring.bin")
	data := buildRing(t, 1, 0, nil)
	binary.LittleEndian.PutUint32(data[0:], 0xdeadbeef)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestToEventsProducesEnterAndExitKinds(t *testing.T) {
	entries := []Entry{
		{TSNanos: 2_000_000_000, FuncAddr: 0x1234, TID: 9},
		{TSNanos: 3_000_000_000, FuncAddr: 0x1234, TID: 9, IsExit: true},
	}
	evs := ToEvents(entries, nil, 1_000_000_000, 42)
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Generic.Kind != "native_trace_enter" {
		t.Fatalf("unexpected first kind: %v", evs[0].Generic.Kind)
	}
	if evs[1].Generic.Kind != "native_trace_exit" {
		t.Fatalf("unexpected second kind: %v", evs[1].Generic.Kind)
	}
	if evs[0].Generic.TS != 1_000_000_000 {
		t.Fatalf("expected rebased ts 1e9, got %d", evs[0].Generic.TS)
	}
	if evs[0].Generic.ProcID != 42 {
		t.Fatalf("expected procID 42, got %d", evs[0].Generic.ProcID)
	}
}
