// Package nativetrace reads the binary ring file written by the poe_rt
// runtime library that instrumented builds link against, and symbolizes
// its entries against the target binary (spec §4.8).
package nativetrace

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/gravitational/trace"

	"github.com/jaso1024/poe/internal/events"
	"github.com/jaso1024/poe/internal/symbols"
)

// magic identifies a poe_rt ring file: "POER" read little-endian.
const magic = 0x504F4552

const (
	headerSize = 64
	entrySize  = 32
)

// EventType mirrors the runtime library's event_type byte.
const (
	eventTypeEnter = 0
	eventTypeExit  = 1
)

// RingPath is the fixed per-pid path the runtime library writes to
// (spec §4.8).
func RingPath(pid int) string {
	return fmt.Sprintf("/tmp/poe-rt-%d.bin", pid)
}

// Entry is one decoded ring record.
type Entry struct {
	TSNanos  uint64
	FuncAddr uint64
	CallSite uint64
	TID      uint32
	IsExit   bool
	Depth    uint8
}

// header is the 64-byte file header.
type header struct {
	Magic      uint32
	Version    uint32
	Capacity   uint32
	Reserved   uint32
	WritePos   uint64
	StartWall  uint64
}

// Read opens the ring file at path, validates it, and returns entries in
// logical (chronological write) order. A missing file is not an error —
// native-trace ingest is optional and silently absent when the target
// wasn't built with instrumentation (spec §7: "native-trace ring read
// failure (no enter/exit events)").
func Read(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, trace.Wrap(err, "read native-trace ring %s", path)
	}
	if len(data) < headerSize {
		return nil, trace.BadParameter("native-trace ring %s truncated header", path)
	}

	h := header{
		Magic:     binary.LittleEndian.Uint32(data[0:4]),
		Version:   binary.LittleEndian.Uint32(data[4:8]),
		Capacity:  binary.LittleEndian.Uint32(data[8:12]),
		Reserved:  binary.LittleEndian.Uint32(data[12:16]),
		WritePos:  binary.LittleEndian.Uint64(data[16:24]),
		StartWall: binary.LittleEndian.Uint64(data[24:32]),
	}
	if h.Magic != magic {
		return nil, trace.BadParameter("native-trace ring %s: bad magic %x", path, h.Magic)
	}
	if h.Capacity == 0 {
		return nil, trace.BadParameter("native-trace ring %s: zero capacity", path)
	}

	body := data[headerSize:]
	slots := int(h.Capacity)
	if len(body) < slots*entrySize {
		return nil, trace.BadParameter("native-trace ring %s: body shorter than capacity", path)
	}

	wrapped := h.WritePos >= uint64(slots)
	count := slots
	start := 0
	if !wrapped {
		count = int(h.WritePos)
		start = 0
	} else {
		start = int(h.WritePos % uint64(slots))
	}

	entries := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		idx := (start + i) % slots
		off := idx * entrySize
		e := decodeEntry(body[off : off+entrySize])
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].TSNanos < entries[j].TSNanos })
	return entries, nil
}

func decodeEntry(b []byte) Entry {
	return Entry{
		TSNanos:  binary.LittleEndian.Uint64(b[0:8]),
		FuncAddr: binary.LittleEndian.Uint64(b[8:16]),
		CallSite: binary.LittleEndian.Uint64(b[16:24]),
		TID:      binary.LittleEndian.Uint32(b[24:28]),
		IsExit:   b[28] == eventTypeExit,
		Depth:    b[29],
	}
}

// PivotMain establishes resolver's load offset from the captured trace
// itself: the first depth-0 enter record is main's runtime address (it is
// the outermost instrumented frame, entered once by __libc_start_main
// before anything else), pivoted against main's address in the binary's
// own symbol table (spec §4.8: "main used as a pivot between in-file and
// runtime load addresses to compute the load offset"). A no-op if no
// depth-0 enter record exists or the binary has no "main" symbol — Resolve
// then falls back to raw hex addresses.
func PivotMain(entries []Entry, resolver *symbols.Resolver) {
	if resolver == nil {
		return
	}
	fileAddr, ok := resolver.FileAddr("main")
	if !ok {
		return
	}
	for _, e := range entries {
		if !e.IsExit && e.Depth == 0 {
			resolver.Pivot(e.FuncAddr, fileAddr)
			return
		}
	}
}

// ToEvents symbolizes entries against resolver and converts them into
// generic bus events of kind NativeTraceEnter/Exit, rebasing ts to the run
// epoch. procID identifies the traced process the ring belongs to.
func ToEvents(entries []Entry, resolver *symbols.Resolver, epochNs int64, procID int32) []events.Event {
	out := make([]events.Event, 0, len(entries))
	for _, e := range entries {
		kind := events.KindNativeTraceEnter
		if e.IsExit {
			kind = events.KindNativeTraceExit
		}
		sym := fmt.Sprintf("0x%x", e.FuncAddr)
		if resolver != nil {
			sym = resolver.Resolve(e.FuncAddr)
		}
		detail := fmt.Sprintf(`{"func":%q,"call_site":"0x%x","tid":%d,"depth":%d}`, sym, e.CallSite, e.TID, e.Depth)
		out = append(out, events.Event{Generic: &events.Generic{
			TS:     int64(e.TSNanos) - epochNs,
			ProcID: procID,
			Kind:   kind,
			Detail: detail,
		}})
	}
	return out
}
