// Package events defines the entity and event types recorded during a
// capture (spec §3) and the Kind enumeration used to tag the generic event
// variant.
package events

import "time"

// Kind enumerates the generic event kinds recorded on the bus. File, net,
// stack-sample, and stdio events carry their own richer types (FileOp,
// NetOp, StackSample, StdioChunk) and are not wrapped as Generic; the store
// writes them to their own tables, so their Kind values do not appear in
// the events table's kind column or in the query surface's "kind" filter
// results.
type Kind string

const (
	KindProcessStart      Kind = "process_start"
	KindProcessExit       Kind = "process_exit"
	KindProcessExec       Kind = "process_exec"
	KindSyscallEntry      Kind = "syscall_entry"
	KindSyscallExit       Kind = "syscall_exit"
	KindSignal            Kind = "signal"
	KindFileOp            Kind = "file_op"
	KindNetOp             Kind = "net_op"
	KindStackSample       Kind = "stack_sample"
	KindStdout            Kind = "stdout"
	KindStderr            Kind = "stderr"
	KindNativeTraceEnter  Kind = "native_trace_enter"
	KindNativeTraceExit   Kind = "native_trace_exit"
	KindAdapterCall       Kind = "adapter_call"
	KindAdapterReturn     Kind = "adapter_return"
	KindAdapterException  Kind = "adapter_exception"
)

// TriggerReason names the condition that caused a pack to be written.
// Precedence, highest first: Always > Crash > Signal > NonZeroExit.
type TriggerReason string

const (
	TriggerNone        TriggerReason = ""
	TriggerAlways      TriggerReason = "always"
	TriggerCrash       TriggerReason = "crash"
	TriggerSignal      TriggerReason = "signal"
	TriggerNonZeroExit TriggerReason = "non_zero_exit"
)

// triggerRank orders TriggerReason by precedence; higher wins.
var triggerRank = map[TriggerReason]int{
	TriggerNone:        0,
	TriggerNonZeroExit: 1,
	TriggerSignal:      2,
	TriggerCrash:       3,
	TriggerAlways:      4,
}

// DecideTrigger applies the precedence in spec §4.6: Always > Crash >
// Signal > NonZeroExit > none.
func DecideTrigger(always bool, crashSignal bool, anySignal bool, exitCode int) TriggerReason {
	best := TriggerNone
	consider := func(t TriggerReason) {
		if triggerRank[t] > triggerRank[best] {
			best = t
		}
	}
	if always {
		consider(TriggerAlways)
	}
	if crashSignal {
		consider(TriggerCrash)
	}
	if anySignal {
		consider(TriggerSignal)
	}
	if exitCode != 0 {
		consider(TriggerNonZeroExit)
	}
	return best
}

// Run is one capture session; one run per pack.
type Run struct {
	RunID         string
	Command       []string
	WorkingDir    string
	EnvHash       string
	StartTime     time.Time
	GitSHA        string
	Hostname      string
	EndTime       *time.Time
	ExitCode      *int
	Signal        *int
	TriggerReason TriggerReason
}

// Process is a traced process/thread.
type Process struct {
	ProcID       int32
	ParentProcID *int32
	Argv         []string
	Cwd          string
	StartTS      int64
	EndTS        *int64
	ExitCode     *int
	Signal       *int
}

// Generic is the catch-all event variant: ts/proc_id/kind/detail.
type Generic struct {
	TS     int64
	ProcID int32
	Kind   Kind
	Detail string // typically JSON
}

// FileOp is a file-family syscall event.
type FileOp struct {
	TS     int64
	ProcID int32
	Op     string // open, close, read, write, rename, unlink, mkdir, stat, chmod, chown, link, symlink, readlink, truncate, access
	Path   string
	FD     *int32
	Bytes  *int64
	Flags  int64
	Result int64
}

// NetOp is a net-family syscall event.
type NetOp struct {
	TS     int64
	ProcID int32
	Op     string // socket, connect, bind, listen, accept, send, recv, shutdown, getsockname, getpeername
	Proto  string
	Src    string
	Dst    string
	Bytes  *int64
	FD     *int32
	Result int64
}

// StackSample is a sampled kernel call-chain.
type StackSample struct {
	TS     int64
	ProcID int32
	Frames []uint64 // innermost first
	Weight uint64
}

// StdioChunk is a chunk of raw bytes read from a child's stdio stream.
type StdioChunk struct {
	TS     int64
	ProcID int32
	Stream string // stdout, stderr
	Data   []byte
}

// Artifact is a named blob referenced from the store.
type Artifact struct {
	Name string
	Hash string
	Size int64
	Kind string
}

// Event is the tagged union delivered on the bus: exactly one of the
// pointer fields is non-nil.
type Event struct {
	Generic     *Generic
	Process     *Process
	FileOp      *FileOp
	NetOp       *NetOp
	StackSample *StackSample
	Stdio       *StdioChunk
}
