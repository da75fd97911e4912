//go:build linux && amd64

package tracer

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// crashSignals is the set enriched with register/fault-address detail on
// termination (spec §4.6).
var crashSignals = map[unix.Signal]bool{
	unix.SIGSEGV: true,
	unix.SIGBUS:  true,
	unix.SIGILL:  true,
	unix.SIGFPE:  true,
	unix.SIGABRT: true,
}

// syscallArgs extracts the six raw argument registers and the syscall
// number from PtraceRegs using the x86_64 syscall calling convention
// (rdi, rsi, rdx, r10, r8, r9).
func syscallArgs(regs *unix.PtraceRegs) (nr int64, args [6]uint64) {
	nr = int64(regs.Orig_rax)
	args = [6]uint64{regs.Rdi, regs.Rsi, regs.Rdx, regs.R10, regs.R8, regs.R9}
	return nr, args
}

// syscallReturn extracts the return value register at syscall-exit.
func syscallReturn(regs *unix.PtraceRegs) int64 {
	return int64(regs.Rax)
}

// ptraceGetSigInfo is PTRACE_GETSIGINFO (unwrapped by x/sys/unix).
const ptraceGetSigInfo = 0x4202

// linuxSiginfo mirrors struct siginfo_t's common prefix plus the
// kill/fault union's first word, which is all crash enrichment needs: for
// SIGSEGV/SIGBUS/SIGILL/SIGFPE the union's first field at this offset is
// si_addr, the faulting address.
type linuxSiginfo struct {
	Signo int32
	Errno int32
	Code  int32
	_     int32
	Addr  uint64
}

// faultInfo reads the fault address for a crash-signal stop via
// PTRACE_GETSIGINFO. Returns 0 if unavailable (e.g. a non-fault crash
// signal such as SIGABRT, which carries no si_addr).
func faultInfo(pid int) uint64 {
	var info linuxSiginfo
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, ptraceGetSigInfo, uintptr(pid), 0, uintptr(unsafe.Pointer(&info)), 0, 0)
	if errno != 0 {
		return 0
	}
	return info.Addr
}

// ptraceOptions is the option set the tracer installs on every tracee
// (spec §4.6): follow fork/vfork/clone, trace exec and exit, disambiguate
// syscall-stops from other SIGTRAP stops, and kill tracees if the tracer
// dies.
const ptraceOptions = unix.PTRACE_O_TRACESYSGOOD |
	unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_TRACEEXEC |
	unix.PTRACE_O_TRACEEXIT |
	unix.PTRACE_O_EXITKILL

// syscallTrap is the stop signal reported for syscall-enter/exit stops once
// PTRACE_O_TRACESYSGOOD is set: plain SIGTRAP is reserved for ptrace
// events (fork/vfork/clone/exec/exit), so the kernel ORs in 0x80 for
// ordinary syscall stops.
const syscallTrap = unix.SIGTRAP | 0x80
