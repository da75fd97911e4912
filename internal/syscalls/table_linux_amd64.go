//go:build linux && amd64

package syscalls

// Linux x86_64 syscall numbers for the syscalls the decoder materializes
// (spec §4.5). Only the "interesting" subset (file, net, process lifecycle)
// is listed; everything else is classified Uninteresting.
const (
	nrRead         = 0
	nrWrite        = 1
	nrOpen         = 2
	nrClose        = 3
	nrStat         = 4
	nrFstat        = 5
	nrLstat        = 6
	nrAccess       = 21
	nrSocket       = 41
	nrConnect      = 42
	nrAccept       = 43
	nrSendto       = 44
	nrRecvfrom     = 45
	nrSendmsg      = 46
	nrRecvmsg      = 47
	nrShutdown     = 48
	nrBind         = 49
	nrListen       = 50
	nrGetsockname  = 51
	nrGetpeername  = 52
	nrClone        = 56
	nrFork         = 57
	nrVfork        = 58
	nrExecve       = 59
	nrExit         = 60
	nrRename       = 82
	nrMkdir        = 83
	nrCreat        = 85
	nrLink         = 86
	nrUnlink       = 87
	nrSymlink      = 88
	nrReadlink     = 89
	nrChmod        = 90
	nrFchmod       = 91
	nrChown        = 92
	nrFchown       = 93
	nrLchown       = 94
	nrTruncate     = 76
	nrFtruncate    = 77
	nrExitGroup    = 231
	nrOpenat       = 257
	nrMkdirat      = 258
	nrFchownat     = 260
	nrNewfstatat   = 262
	nrUnlinkat     = 263
	nrRenameat     = 264
	nrLinkat       = 265
	nrSymlinkat    = 266
	nrReadlinkat   = 267
	nrFchmodat     = 268
	nrFaccessat    = 269
	nrAccept4      = 288
	nrRenameat2    = 316
	nrExecveat     = 322
)

// syscallNames maps a syscall number to its canonical name for the
// subset this package decodes.
var syscallNames = map[int64]string{
	nrRead:        "read",
	nrWrite:       "write",
	nrOpen:        "open",
	nrClose:       "close",
	nrStat:        "stat",
	nrFstat:       "fstat",
	nrLstat:       "lstat",
	nrAccess:      "access",
	nrSocket:      "socket",
	nrConnect:     "connect",
	nrAccept:      "accept",
	nrSendto:      "sendto",
	nrRecvfrom:    "recvfrom",
	nrSendmsg:     "sendmsg",
	nrRecvmsg:     "recvmsg",
	nrShutdown:    "shutdown",
	nrBind:        "bind",
	nrListen:      "listen",
	nrGetsockname: "getsockname",
	nrGetpeername: "getpeername",
	nrClone:       "clone",
	nrFork:        "fork",
	nrVfork:       "vfork",
	nrExecve:      "execve",
	nrExit:        "exit",
	nrRename:      "rename",
	nrMkdir:       "mkdir",
	nrCreat:       "creat",
	nrLink:        "link",
	nrUnlink:      "unlink",
	nrSymlink:     "symlink",
	nrReadlink:    "readlink",
	nrChmod:       "chmod",
	nrFchmod:      "fchmod",
	nrChown:       "chown",
	nrFchown:      "fchown",
	nrLchown:      "lchown",
	nrTruncate:    "truncate",
	nrFtruncate:   "ftruncate",
	nrExitGroup:   "exit_group",
	nrOpenat:      "openat",
	nrMkdirat:     "mkdirat",
	nrFchownat:    "fchownat",
	nrNewfstatat:  "newfstatat",
	nrUnlinkat:    "unlinkat",
	nrRenameat:    "renameat",
	nrLinkat:      "linkat",
	nrSymlinkat:   "symlinkat",
	nrReadlinkat:  "readlinkat",
	nrFchmodat:    "fchmodat",
	nrFaccessat:   "faccessat",
	nrAccept4:     "accept4",
	nrRenameat2:   "renameat2",
	nrExecveat:    "execveat",
}

// ENOSYS is the entry-stop sentinel the kernel places in the return-value
// register on x86_64 (spec §4.6, §9 open question).
const ENOSYS = -38
