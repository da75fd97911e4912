//go:build linux && amd64

package sampler

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// sysPerfEventOpen is the x86_64 perf_event_open syscall number
// (arch/x86/entry/syscalls/syscall_64.tbl); golang.org/x/sys/unix does not
// expose a wrapper for it.
const sysPerfEventOpen = 298

// perfEventOpen wraps the raw syscall: open a perf event for pid on cpu,
// optionally grouped under groupFd, with flags.
func perfEventOpen(attr *eventAttr, pid, cpu, groupFd int, flags uintptr) (int, error) {
	r1, _, errno := unix.Syscall6(
		sysPerfEventOpen,
		uintptr(unsafe.Pointer(attr)),
		uintptr(pid),
		uintptr(cpu),
		uintptr(groupFd),
		flags,
		0,
	)
	if errno != 0 {
		return -1, errno
	}
	return int(r1), nil
}

// ioctlNoArg issues an ioctl that takes no pointer argument (the
// PERF_EVENT_IOC_ENABLE/DISABLE pair).
func ioctlNoArg(fd int, req uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
