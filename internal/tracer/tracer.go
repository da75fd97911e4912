//go:build linux && amd64

// Package tracer implements the ptrace-based supervisor (spec §4.6): the
// central state machine that spawns the target, dispatches every wait
// status to the right handler, and decides the run's trigger reason.
package tracer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/jaso1024/poe/internal/bus"
	"github.com/jaso1024/poe/internal/events"
	"github.com/jaso1024/poe/internal/procfs"
	"github.com/jaso1024/poe/internal/syscalls"
)

// procMem adapts the package-level procfs functions to syscalls.MemReader.
type procMem struct{}

func (procMem) ReadCString(pid int, addr uint64, maxLen int) (string, error) {
	return procfs.ReadCString(pid, addr, maxLen)
}

func (procMem) ReadBytes(pid int, addr uint64, n int) ([]byte, error) {
	return procfs.ReadBytes(pid, addr, n)
}

// procState is the per-process record the tracer keeps in its owning map
// (spec §4.6: "{ pid, pending_syscall: Option, alive: bool }").
type procState struct {
	pid          int32
	parent       *int32
	pending      *syscalls.PendingSyscall // non-nil only when the pending entry was an interesting syscall
	awaitingExit bool                     // true between a syscall's entry-stop and its exit-stop
	alive        bool
	argv         []string
	cwd          string
	startTS      int64
}

// Options configures a capture run.
type Options struct {
	Command    []string
	Env        []string // full environment for the child, overrides already applied
	WorkingDir string
	// ExtraFiles are inherited by the child starting at fd 3 (Go's
	// exec.Cmd convention), used by adapters that need a sidecar pipe the
	// child shouldn't close-on-exec (spec §4.6: "optionally clears
	// close-on-exec on specified file descriptors").
	ExtraFiles []*os.File
	Stdout     *os.File
	Stderr     *os.File
	// OnStart, if set, is invoked once with the root pid right after the
	// child has been started and has reached its initial ptrace stop, but
	// before the event loop begins. Callers use this to close their own
	// copies of any pipe write-ends handed to the child (so EOF propagates
	// to a reader once the child's copy closes) and to attach subsystems
	// that need the root pid, such as the stack sampler (spec §4.7).
	OnStart func(rootPID int32)
}

// Result is what the tracer's event loop produced once every tracee has
// exited.
type Result struct {
	RootPID     int32
	ExitCode    *int
	Signal      *int
	AnySignal   bool
	CrashSignal bool
}

// Tracer owns the ptrace supervisor loop and the set of tracked processes.
type Tracer struct {
	log       *logrus.Entry
	producer  *bus.Producer
	decoder   *syscalls.Decoder
	mem       procMem
	procs     map[int32]*procState
	epochMono int64 // CLOCK_MONOTONIC ns at tracer start, subtracted from every event ts
}

// New constructs a Tracer. epochMono is the CLOCK_MONOTONIC origin every
// emitted timestamp is rebased against (spec §3: "all timestamps are
// monotonic nanoseconds relative to a per-run epoch").
func New(producer *bus.Producer, epochMono int64, log *logrus.Entry) *Tracer {
	return &Tracer{
		log:       log.WithField("component", "tracer"),
		producer:  producer,
		decoder:   syscalls.New(),
		procs:     make(map[int32]*procState),
		epochMono: epochMono,
	}
}

func nowMono() int64 {
	var ts unix.Timespec
	unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return ts.Sec*1_000_000_000 + ts.Nsec
}

func (t *Tracer) ts() int64 { return nowMono() - t.epochMono }

// Run spawns opts.Command under ptrace and drives the supervisor loop to
// completion. It must run on its own goroutine, which it locks to an OS
// thread for the lifetime of the call: every ptrace(2) call for a given
// tracee must originate from the thread that is its tracer (spec §4.6:
// "All ptrace operations MUST originate here").
func (t *Tracer) Run(ctx context.Context, opts Options) (*Result, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Env = opts.Env
	cmd.Dir = opts.WorkingDir
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	cmd.ExtraFiles = opts.ExtraFiles
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return nil, trace.Wrap(err, "start traced command")
	}
	rootPID := int32(cmd.Process.Pid)

	// The child stops with SIGTRAP immediately after its PTRACE_TRACEME
	// execve (spec §4.6: "The parent waits for the initial SIGSTOP" — in
	// practice this is the exec-induced trap, since TRACEME alone does not
	// stop the child).
	var status unix.WaitStatus
	if _, err := unix.Wait4(int(rootPID), &status, 0, nil); err != nil {
		return nil, trace.Wrap(err, "wait for initial stop of pid %d", rootPID)
	}
	if err := unix.PtraceSetOptions(int(rootPID), ptraceOptions); err != nil {
		return nil, trace.Wrap(err, "set ptrace options on pid %d", rootPID)
	}

	argv, _ := procfs.Cmdline(int(rootPID))
	cwd, _ := procfs.Cwd(int(rootPID))
	root := &procState{pid: rootPID, alive: true, argv: argv, cwd: cwd, startTS: t.ts()}
	t.procs[rootPID] = root
	t.emitProcessStart(root)

	if opts.OnStart != nil {
		opts.OnStart(rootPID)
	}

	if err := unix.PtraceSyscall(int(rootPID), 0); err != nil {
		return nil, trace.Wrap(err, "resume pid %d", rootPID)
	}

	result := &Result{RootPID: rootPID}

	for {
		if ctx.Err() != nil {
			break
		}
		if t.allDead() {
			break
		}

		pid, err := unix.Wait4(-1, &status, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ECHILD {
			break
		}
		if err != nil {
			return result, trace.Wrap(err, "wait4")
		}

		p := int32(pid)
		proc, known := t.procs[p]

		switch {
		case status.Exited():
			code := status.ExitStatus()
			t.handleExited(p, proc, code)
			if p == rootPID {
				result.ExitCode = &code
			}

		case status.Signaled():
			sig := status.Signal()
			t.handleSignaled(p, proc, sig)
			result.AnySignal = true
			if crashSignals[sig] {
				result.CrashSignal = true
			}
			if p == rootPID {
				n := int(sig)
				result.Signal = &n
			}

		case status.Stopped():
			stopSig := status.StopSignal()
			switch {
			case stopSig == syscallTrap:
				t.handleSyscallStop(p, proc)
				_ = unix.PtraceSyscall(pid, 0)

			case stopSig == unix.SIGTRAP && status.TrapCause() != 0:
				t.handlePtraceEvent(pid, proc, status.TrapCause())
				_ = unix.PtraceSyscall(pid, 0)

			case stopSig == unix.SIGSTOP && !known:
				// Newly attached child from fork/vfork/clone, stopped on
				// its own initial SIGSTOP before we've recorded it as a
				// PTRACE_EVENT_FORK child yet (race between the parent's
				// event and the child's own stop): register it here too,
				// idempotently.
				t.registerChild(p, nil)
				_ = unix.PtraceSyscall(pid, 0)

			default:
				// Plain signal-delivery-stop: record it and forward the
				// signal so the tracee observes it normally (spec §4.6).
				t.emitSignal(p, int(stopSig))
				_ = unix.PtraceSyscall(pid, int(stopSig))
			}
		}
	}

	return result, nil
}

func (t *Tracer) allDead() bool {
	if len(t.procs) == 0 {
		return false
	}
	for _, p := range t.procs {
		if p.alive {
			return false
		}
	}
	return true
}

func (t *Tracer) registerChild(pid int32, parent *int32) *procState {
	if existing, ok := t.procs[pid]; ok {
		return existing
	}
	argv, _ := procfs.Cmdline(int(pid))
	cwd, _ := procfs.Cwd(int(pid))
	proc := &procState{pid: pid, parent: parent, alive: true, argv: argv, cwd: cwd, startTS: t.ts()}
	t.procs[pid] = proc
	_ = unix.PtraceSetOptions(int(pid), ptraceOptions)
	t.emitProcessStart(proc)
	return proc
}

func (t *Tracer) handlePtraceEvent(pid int, proc *procState, cause int) {
	switch cause {
	case unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK, unix.PTRACE_EVENT_CLONE:
		newPid, err := unix.PtraceGetEventMsg(pid)
		if err != nil {
			t.log.WithError(err).Warn("get event msg for fork/vfork/clone failed")
			return
		}
		var ws unix.WaitStatus
		if _, err := unix.Wait4(int(newPid), &ws, 0, nil); err != nil {
			t.log.WithError(err).Warn("wait for new child's initial stop failed")
		}
		parent := int32(pid)
		t.registerChild(int32(newPid), &parent)
		_ = unix.PtraceSyscall(int(newPid), 0)

	case unix.PTRACE_EVENT_EXEC:
		if proc == nil {
			return
		}
		argv, _ := procfs.Cmdline(pid)
		cwd, _ := procfs.Cwd(pid)
		proc.argv = argv
		proc.cwd = cwd
		proc.pending = nil      // invalidate any pending syscall across exec (spec §3 invariant)
		proc.awaitingExit = false // PTRACE_O_TRACEEXEC's event-stop replaces the matching syscall-exit stop
		t.emit(events.Event{Generic: &events.Generic{
			TS:     t.ts(),
			ProcID: int32(pid),
			Kind:   events.KindProcessExec,
			Detail: argvDetail(argv, cwd),
		}})

	case unix.PTRACE_EVENT_EXIT:
		// Advisory notification only; the authoritative ProcessExit event
		// is emitted from the subsequent Exited()/Signaled() wait status
		// (spec §4.6: "Exit-event: record advisory exit info").
	}
}

func (t *Tracer) handleSyscallStop(pid int32, proc *procState) {
	if proc == nil {
		return
	}
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(int(pid), &regs); err != nil {
		t.log.WithError(err).Warn("ptrace getregs failed")
		return
	}

	if !proc.awaitingExit {
		proc.awaitingExit = true
		nr, args := syscallArgs(&regs)
		if !t.decoder.Interesting(nr) {
			return
		}
		pending, ok := t.decoder.Entry(int(pid), nr, args, t.ts(), t.mem)
		if ok {
			proc.pending = pending
		}
		return
	}

	proc.awaitingExit = false
	pending := proc.pending
	proc.pending = nil
	if pending == nil {
		return // matching entry was not an interesting syscall
	}
	ret := syscallReturn(&regs)
	if ev := t.decoder.Exit(pending, ret, t.ts(), pid); ev != nil {
		t.emit(*ev)
	}
}

func (t *Tracer) handleExited(pid int32, proc *procState, code int) {
	if proc != nil {
		proc.alive = false
		endTS := t.ts()
		proc.pending = nil
		t.emit(events.Event{Process: &events.Process{
			ProcID:   pid,
			EndTS:    &endTS,
			ExitCode: &code,
		}})
	}
}

func (t *Tracer) handleSignaled(pid int32, proc *procState, sig unix.Signal) {
	n := int(sig)
	endTS := t.ts()
	if proc != nil {
		proc.alive = false
		proc.pending = nil
	}
	t.emit(events.Event{Process: &events.Process{
		ProcID: pid,
		EndTS:  &endTS,
		Signal: &n,
	}})

	detail := jsonDetail(map[string]any{"signal": sig.String()})
	if crashSignals[sig] {
		mappings, _ := procfs.MappingCount(int(pid))
		addr := faultInfo(int(pid))
		var regs unix.PtraceRegs
		_ = unix.PtraceGetRegs(int(pid), &regs)
		detail = crashDetail(sig, &regs, addr, mappings)
	}
	t.emit(events.Event{Generic: &events.Generic{
		TS:     endTS,
		ProcID: pid,
		Kind:   events.KindSignal,
		Detail: detail,
	}})
}

func (t *Tracer) emitSignal(pid int32, sig int) {
	t.emit(events.Event{Generic: &events.Generic{
		TS:     t.ts(),
		ProcID: pid,
		Kind:   events.KindSignal,
		Detail: jsonDetail(map[string]any{"signal": sig}),
	}})
}

func (t *Tracer) emitProcessStart(p *procState) {
	t.emit(events.Event{Process: &events.Process{
		ProcID:       p.pid,
		ParentProcID: p.parent,
		Argv:         p.argv,
		Cwd:          p.cwd,
		StartTS:      p.startTS,
	}})
}

func (t *Tracer) emit(ev events.Event) {
	if t.producer != nil {
		t.producer.Send(ev)
	}
}

func argvDetail(argv []string, cwd string) string {
	return jsonDetail(map[string]any{"argv": argv, "cwd": cwd})
}

func crashDetail(sig unix.Signal, regs *unix.PtraceRegs, faultAddr uint64, mappings int) string {
	return jsonDetail(map[string]any{
		"signal":        sig.String(),
		"rip":           fmt.Sprintf("0x%x", regs.Rip),
		"rsp":           fmt.Sprintf("0x%x", regs.Rsp),
		"rax":           fmt.Sprintf("0x%x", regs.Rax),
		"fault_addr":    fmt.Sprintf("0x%x", faultAddr),
		"mapping_count": mappings,
	})
}

// jsonDetail renders a generic event's opaque detail field. Marshal errors
// can't occur for these map shapes, so they're swallowed into an empty
// object rather than threaded through every caller.
func jsonDetail(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
