//go:build linux

package adapter

import "golang.org/x/sys/unix"

const fdCloexec = unix.FD_CLOEXEC

func fcntlGetFd(fd int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
}

func fcntlSetFd(fd int, flags int) error {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags)
	return err
}
