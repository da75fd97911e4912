//go:build linux && amd64

package sampler

// eventAttr mirrors the kernel's struct perf_event_attr
// (include/uapi/linux/perf_event.h) out to sample_stack_user, which is all
// the stack sampler needs to configure software CPU-clock sampling with
// callchain/tid/time records. The layout (field order and sizes) must
// match the kernel ABI exactly; Go's natural alignment on amd64 already
// matches C's here, so no explicit padding beyond the trailing uint32 is
// required.
type eventAttr struct {
	Type               uint32
	Size               uint32
	Config             uint64
	SamplePeriodOrFreq uint64
	SampleType         uint64
	ReadFormat         uint64
	Flags              uint64
	WakeupEvents       uint32
	BPType             uint32
	BPAddrOrConfig1    uint64
	BPLenOrConfig2     uint64
	BranchSampleType   uint64
	SampleRegsUser     uint64
	SampleStackUser    uint32
	_                  uint32
}

const eventAttrSize = 96

// perf_type_id (include/uapi/linux/perf_event.h)
const (
	perfTypeSoftware = 1
)

// perf_sw_ids
const (
	perfCountSWCpuClock = 0
)

// perf_event_sample_format bits actually used here: TID | TIME | CALLCHAIN.
const (
	sampleFormatTID       = 1 << 1
	sampleFormatTime      = 1 << 2
	sampleFormatCallchain = 1 << 5
)

// Flags bitfield layout, low bits (include/uapi/linux/perf_event.h):
//
//	disabled:1 inherit:1 pinned:1 exclusive:1 exclude_user:1
//	exclude_kernel:1 exclude_hv:1 exclude_idle:1 mmap:1 comm:1 freq:1 ...
const (
	flagDisabled      = 1 << 0
	flagInherit       = 1 << 1
	flagExcludeKernel = 1 << 5
	flagExcludeHV     = 1 << 6
	flagFreq          = 1 << 10
)

// PERF_RECORD_* (include/uapi/linux/perf_event.h)
const (
	recordSample = 9
)

// PERF_EVENT_IOC_* (_IO('$', n); no direction bits since these ioctls pass
// no pointer argument).
const (
	iocEnable  = 0x2400
	iocDisable = 0x2401
)
