//go:build linux && amd64

// Package sampler implements the kernel-assisted CPU-time-based call-chain
// sampler (spec §4.7): a perf_event_open software CPU-clock event, sampled
// in frequency mode with callchain/tid/time records, read from a
// memory-mapped ring shared with the kernel.
package sampler

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/jaso1024/poe/internal/events"
)

// ringPages is N in spec §4.7: the data ring is N pages, plus one header
// page, memory-mapped shared with the kernel.
const ringPages = 16

// Sampler owns one perf_event_open file descriptor and its mmap'd ring for
// a single root process (spec §4.7: "child process groups not yet attached
// on fork — a deliberate simplification").
type Sampler struct {
	log      *logrus.Entry
	fd       int
	mapping  []byte
	pageSize int
	epochNs  int64 // run-epoch origin, in CLOCK_MONOTONIC ns, for rebasing sample times
	enabled  bool
}

// Open configures and memory-maps a software CPU-clock sampling event for
// pid at freqHz, inheriting to children, excluding kernel/hypervisor
// frames, in frequency mode, initially disabled (spec §4.7). epochNs is the
// CLOCK_MONOTONIC timestamp the tracer uses as its own run epoch, so sample
// timestamps can be rebased onto the same axis as decoded syscall events.
func Open(pid int, freqHz int, epochNs int64, log *logrus.Entry) (*Sampler, error) {
	l := log.WithField("component", "sampler")

	attr := eventAttr{
		Type:               perfTypeSoftware,
		Size:               eventAttrSize,
		Config:             perfCountSWCpuClock,
		SamplePeriodOrFreq: uint64(freqHz),
		SampleType:         sampleFormatTID | sampleFormatTime | sampleFormatCallchain,
		Flags:              flagDisabled | flagInherit | flagExcludeKernel | flagExcludeHV | flagFreq,
	}

	fd, err := perfEventOpen(&attr, pid, -1, -1, 0)
	if err != nil {
		return nil, trace.Wrap(err, "perf_event_open for pid %d", pid)
	}

	pageSize := unix.Getpagesize()
	size := (1 + ringPages) * pageSize
	mapping, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, trace.Wrap(err, "mmap perf ring for pid %d", pid)
	}

	return &Sampler{
		log:      l,
		fd:       fd,
		mapping:  mapping,
		pageSize: pageSize,
		epochNs:  epochNs,
	}, nil
}

// Enable starts sampling. Spec §4.7: "Memory-map a ring ... Enable the
// event."
func (s *Sampler) Enable() error {
	if err := ioctlNoArg(s.fd, iocEnable); err != nil {
		return trace.Wrap(err, "enable perf event")
	}
	s.enabled = true
	return nil
}

// Close disables the event and releases the mapping and fd. Spec §4.7:
// "Drained exactly once at end-of-run, then the event is disabled and the
// mapping/fd released."
func (s *Sampler) Close() error {
	var firstErr error
	if s.enabled {
		if err := ioctlNoArg(s.fd, iocDisable); err != nil {
			firstErr = trace.Wrap(err, "disable perf event")
		}
	}
	if err := unix.Munmap(s.mapping); err != nil && firstErr == nil {
		firstErr = trace.Wrap(err, "munmap perf ring")
	}
	if err := unix.Close(s.fd); err != nil && firstErr == nil {
		firstErr = trace.Wrap(err, "close perf fd")
	}
	return firstErr
}

// perf_event_mmap_page field byte offsets (include/uapi/linux/perf_event.h):
// the kernel fixes data_head at byte 1024 of the header page by design, so
// the rest of the page can grow without shifting it.
const (
	offDataHead = 1024
	offDataTail = 1032
)

// Drain reads all samples currently available in the ring and returns them
// as StackSample events, clamping frame counts and dropping zero IPs per
// spec §4.7. It advances the ring's tail with a release store so the
// kernel may reclaim the space.
func (s *Sampler) Drain(procID int32) []events.Event {
	headPtr := (*uint64)(unsafe.Pointer(&s.mapping[offDataHead]))
	tailPtr := (*uint64)(unsafe.Pointer(&s.mapping[offDataTail]))

	head := atomic.LoadUint64(headPtr) // acquire
	tail := atomic.LoadUint64(tailPtr)
	if head == tail {
		return nil
	}

	dataOff := uint64(s.pageSize)
	dataSize := uint64(ringPages * s.pageSize)
	data := s.mapping[dataOff : dataOff+dataSize]

	var out []events.Event
	pos := tail
	for pos < head {
		idx := pos % dataSize
		hdr := readRecordHeader(data, idx, dataSize)
		recSize := uint64(hdr.size)
		if recSize < 8 || pos+recSize > head {
			// Corrupt or truncated record header: stop, leaving it for the
			// next drain once more bytes have landed (spec §7: sample
			// parse failure skips the record, advances past nothing here
			// since we can't trust size).
			break
		}

		if hdr.typ == recordSample {
			payload := readContiguous(data, idx, recSize, dataSize)
			if sample, ok := parseSample(payload[8:], procID, s.epochNs); ok {
				out = append(out, events.Event{StackSample: sample})
			}
		}

		pos += recSize
	}

	atomic.StoreUint64(tailPtr, pos) // release
	return out
}

type recordHeader struct {
	typ  uint32
	misc uint16
	size uint16
}

func readRecordHeader(data []byte, idx, size uint64) recordHeader {
	buf := readContiguous(data, idx, 8, size)
	return recordHeader{
		typ:  binary.LittleEndian.Uint32(buf[0:4]),
		misc: binary.LittleEndian.Uint16(buf[4:6]),
		size: binary.LittleEndian.Uint16(buf[6:8]),
	}
}

// readContiguous copies n bytes starting at ring-relative idx into a fresh
// contiguous buffer, handling wraparound at the ring boundary.
func readContiguous(data []byte, idx, n, size uint64) []byte {
	out := make([]byte, n)
	end := idx + n
	if end <= size {
		copy(out, data[idx:end])
		return out
	}
	first := size - idx
	copy(out, data[idx:size])
	copy(out[first:], data[0:n-first])
	return out
}

// maxFrames clamps stack depth to reject corrupt records (spec §4.7).
const maxFrames = 256

// parseSample decodes a PERF_RECORD_SAMPLE payload laid out per
// SampleType = TID | TIME | CALLCHAIN: {pid u32, tid u32, time u64, nr u64,
// ips[nr] u64}.
func parseSample(b []byte, procID int32, epochNs int64) (*events.StackSample, bool) {
	if len(b) < 8+8+8 {
		return nil, false
	}
	// pid/tid occupy b[0:8]; not re-derived here since the tracer already
	// knows which process this sampler is attached to.
	timeNs := binary.LittleEndian.Uint64(b[8:16])
	nr := binary.LittleEndian.Uint64(b[16:24])
	if nr > maxFrames {
		nr = maxFrames
	}
	need := 24 + int(nr)*8
	if len(b) < need {
		return nil, false
	}

	frames := make([]uint64, 0, nr)
	for i := uint64(0); i < nr; i++ {
		ip := binary.LittleEndian.Uint64(b[24+i*8:])
		if ip == 0 {
			continue
		}
		frames = append(frames, ip)
	}
	if len(frames) == 0 {
		return nil, false
	}

	return &events.StackSample{
		TS:     int64(timeNs) - epochNs,
		ProcID: procID,
		Frames: frames,
		Weight: 1,
	}, true
}
