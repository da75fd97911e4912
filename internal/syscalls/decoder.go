// Package syscalls decodes raw ptrace syscall-stop registers into the
// typed FileOp / NetOp events of spec §3, pairing each syscall's entry with
// its exit (spec §4.5). The decoder is a pure function surface: it never
// touches ptrace itself, only the syscall number, the six raw argument
// registers, and a MemReader for cross-process string/blob reads.
package syscalls

import (
	"encoding/binary"
	"fmt"

	"github.com/jaso1024/poe/internal/events"
)

// MemReader abstracts cross-process memory reads so the decoder stays a
// pure function of (nr, args, memory) and is independently testable. The
// tracer wires this to procfs.ReadCString/ReadBytes, which read
// /proc/<pid>/mem and fall back to word-granular ptrace PEEKDATA themselves
// when that file cannot be opened.
type MemReader interface {
	ReadCString(pid int, addr uint64, maxLen int) (string, error)
	ReadBytes(pid int, addr uint64, n int) ([]byte, error)
}

const (
	// MaxPathLen bounds path string reads (spec §4.5).
	MaxPathLen = 4096
	// MaxSockaddrLen bounds sockaddr blob reads (spec §4.5).
	MaxSockaddrLen = 128
)

// family classifies an interesting syscall for routing at exit time.
type family int

const (
	familyNone family = iota
	familyFile
	familyNet
	familyProcess
)

// entryInfo is the pre-decoded shape captured at syscall entry: op kind,
// any materialized path or sockaddr string, and initial fd/flags. The
// pinned entry timestamp is kept in PendingSyscall.TS.
type entryInfo struct {
	family family
	op     string
	path   string
	fd     int32
	hasFD  bool
	flags  int64
	sa     sockaddrArgPos // -1 if this syscall has no sockaddr argument
}

type sockaddrArgPos struct {
	argIndex int // index into args[], or -1
}

// PendingSyscall is produced on entry and must be consumed by exactly one
// exit on the same process, or discarded on exec/exit/signal-kill (spec
// §3 invariant).
type PendingSyscall struct {
	Nr    int64
	Args  [6]uint64
	Entry entryInfo
	TS    int64
}

// Decoder decodes syscall entry/exit pairs into FileOp/NetOp events. It
// holds no state; a single Decoder value may be shared across processes.
type Decoder struct{}

// New constructs a Decoder.
func New() *Decoder { return &Decoder{} }

// Interesting reports whether nr is a file, net, or process-lifecycle
// syscall the decoder materializes. Syscalls outside this set are ignored
// entirely, per spec §4.5.
func (d *Decoder) Interesting(nr int64) bool {
	_, ok := syscallNames[nr]
	return ok
}

// Entry decodes a syscall-entry stop into a PendingSyscall. mem is used to
// materialize path and sockaddr arguments eagerly, since the tracee's
// memory is only guaranteed valid while it is stopped at entry.
func (d *Decoder) Entry(pid int, nr int64, args [6]uint64, ts int64, mem MemReader) (*PendingSyscall, bool) {
	name, ok := syscallNames[nr]
	if !ok {
		return nil, false
	}

	info := entryInfo{op: name, sa: sockaddrArgPos{argIndex: -1}}

	switch name {
	case "open", "creat", "stat", "lstat", "unlink", "mkdir", "chmod", "chown",
		"lchown", "truncate", "access", "readlink", "symlink", "link", "rename":
		info.family = familyFile
		info.path, _ = mem.ReadCString(pid, args[0], MaxPathLen)
		if name == "open" || name == "creat" {
			info.flags = int64(args[1])
		}
	case "openat", "mkdirat", "unlinkat", "fchmodat", "fchownat", "newfstatat",
		"readlinkat", "symlinkat", "faccessat":
		info.family = familyFile
		pathArgIdx := 1
		info.path, _ = mem.ReadCString(pid, args[pathArgIdx], MaxPathLen)
		if name == "openat" {
			info.flags = int64(args[2])
		}
	case "renameat", "renameat2", "linkat":
		info.family = familyFile
		info.path, _ = mem.ReadCString(pid, args[1], MaxPathLen)
	case "close":
		info.family = familyFile
		info.fd, info.hasFD = int32(args[0]), true
	case "read", "write":
		info.family = familyFile
		info.fd, info.hasFD = int32(args[0]), true
	case "fstat", "fchmod", "fchown", "ftruncate":
		info.family = familyFile
		info.fd, info.hasFD = int32(args[0]), true
	case "socket":
		info.family = familyNet
	case "connect", "bind":
		info.family = familyNet
		info.fd, info.hasFD = int32(args[0]), true
		info.sa = sockaddrArgPos{argIndex: 1}
	case "accept", "accept4":
		info.family = familyNet
		info.fd, info.hasFD = int32(args[0]), true
		info.sa = sockaddrArgPos{argIndex: 1}
	case "listen", "shutdown":
		info.family = familyNet
		info.fd, info.hasFD = int32(args[0]), true
	case "sendto", "recvfrom":
		info.family = familyNet
		info.fd, info.hasFD = int32(args[0]), true
		info.sa = sockaddrArgPos{argIndex: 4}
	case "sendmsg", "recvmsg":
		info.family = familyNet
		info.fd, info.hasFD = int32(args[0]), true
	case "getsockname", "getpeername":
		info.family = familyNet
		info.fd, info.hasFD = int32(args[0]), true
		info.sa = sockaddrArgPos{argIndex: 1}
	case "execve", "execveat", "clone", "fork", "vfork", "exit", "exit_group":
		info.family = familyProcess
	}

	// Resolve the sockaddr argument, if any, while the tracee is still
	// stopped and its memory is guaranteed coherent.
	if info.sa.argIndex >= 0 {
		addr := args[info.sa.argIndex]
		if blob, err := mem.ReadBytes(pid, addr, MaxSockaddrLen); err == nil {
			info.path = decodeSockaddr(blob)
		}
	}

	return &PendingSyscall{Nr: nr, Args: args, Entry: info, TS: ts}, true
}

// Exit finalizes a PendingSyscall using the syscall's return value,
// producing a FileOp or NetOp event (spec §4.5). process-family syscalls
// (execve, clone, ...) return nil: they are handled by the tracer directly
// via ptrace events, not via syscall-exit decoding.
func (d *Decoder) Exit(p *PendingSyscall, ret int64, ts int64, procID int32) *events.Event {
	switch p.Entry.family {
	case familyFile:
		return d.exitFile(p, ret, ts, procID)
	case familyNet:
		return d.exitNet(p, ret, ts, procID)
	default:
		return nil
	}
}

func (d *Decoder) exitFile(p *PendingSyscall, ret, ts int64, procID int32) *events.Event {
	fop := &events.FileOp{
		TS:     ts,
		ProcID: procID,
		Op:     p.Entry.op,
		Path:   p.Entry.path,
		Flags:  p.Entry.flags,
		Result: ret,
	}
	if p.Entry.hasFD {
		fd := p.Entry.fd
		fop.FD = &fd
	}

	switch p.Entry.op {
	case "open", "openat", "creat":
		if ret >= 0 {
			fd := int32(ret)
			fop.FD = &fd
		}
	case "read", "write":
		if ret >= 0 {
			b := ret
			fop.Bytes = &b
		}
	}

	return &events.Event{FileOp: fop}
}

func (d *Decoder) exitNet(p *PendingSyscall, ret, ts int64, procID int32) *events.Event {
	nop := &events.NetOp{
		TS:     ts,
		ProcID: procID,
		Op:     p.Entry.op,
		Result: ret,
	}
	if p.Entry.hasFD {
		fd := p.Entry.fd
		nop.FD = &fd
	}
	if p.Entry.path != "" {
		switch p.Entry.op {
		case "connect", "sendto":
			nop.Dst = p.Entry.path
		default:
			nop.Src = p.Entry.path
		}
	}

	switch p.Entry.op {
	case "socket", "accept", "accept4":
		if ret >= 0 {
			fd := int32(ret)
			nop.FD = &fd
		}
	case "sendto", "sendmsg", "recvfrom", "recvmsg":
		if ret >= 0 {
			b := ret
			nop.Bytes = &b
		}
	}

	return &events.Event{NetOp: nop}
}

// decodeSockaddr renders a raw sockaddr blob per spec §4.5: AF_INET as
// ip:port, AF_INET6 as [ip]:port, AF_UNIX as a path (abstract namespace as
// @name), anything else as "family=N".
func decodeSockaddr(b []byte) string {
	if len(b) < 2 {
		return ""
	}
	family := binary.LittleEndian.Uint16(b[0:2])
	switch family {
	case 2: // AF_INET
		if len(b) < 8 {
			return fmt.Sprintf("family=%d", family)
		}
		port := binary.BigEndian.Uint16(b[2:4])
		ip := b[4:8]
		return fmt.Sprintf("%d.%d.%d.%d:%d", ip[0], ip[1], ip[2], ip[3], port)
	case 10: // AF_INET6
		if len(b) < 28 {
			return fmt.Sprintf("family=%d", family)
		}
		port := binary.BigEndian.Uint16(b[2:4])
		ip := b[8:24]
		return fmt.Sprintf("[%s]:%d", formatIPv6(ip), port)
	case 1: // AF_UNIX
		path := b[2:]
		if len(path) > 0 && path[0] == 0 {
			// Abstract namespace: rendered as @name.
			end := indexZero(path[1:])
			name := path[1 : 1+end]
			return "@" + string(name)
		}
		end := indexZero(path)
		return string(path[:end])
	default:
		return fmt.Sprintf("family=%d", family)
	}
}

func formatIPv6(b []byte) string {
	groups := make([]string, 8)
	for i := 0; i < 8; i++ {
		groups[i] = fmt.Sprintf("%x", binary.BigEndian.Uint16(b[i*2:i*2+2]))
	}
	out := groups[0]
	for _, g := range groups[1:] {
		out += ":" + g
	}
	return out
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return len(b)
}
