// Package procfs reads the read-only kernel surfaces (spec §5) the tracer
// and decoder need: cmdline, cwd, and memory-mapping counts via /proc, and
// cross-process memory reads via /proc/<pid>/mem or ptrace peek fallback.
package procfs

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/gravitational/trace"
	"golang.org/x/sys/unix"
)

// Cmdline reads /proc/<pid>/cmdline and splits it on its NUL separators,
// dropping the trailing empty element left by the final separator.
func Cmdline(pid int) ([]string, error) {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return nil, trace.Wrap(err, "read cmdline for pid %d", pid)
	}
	parts := strings.Split(strings.TrimRight(string(b), "\x00"), "\x00")
	if len(parts) == 1 && parts[0] == "" {
		return nil, nil
	}
	return parts, nil
}

// Cwd resolves the /proc/<pid>/cwd symlink.
func Cwd(pid int) (string, error) {
	cwd, err := os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid))
	if err != nil {
		return "", trace.Wrap(err, "readlink cwd for pid %d", pid)
	}
	return cwd, nil
}

// MappingCount counts the VMAs listed in /proc/<pid>/maps, used to enrich
// crash-signal events with a coarse measure of address-space complexity
// (spec §4.6).
func MappingCount(pid int) (int, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return 0, trace.Wrap(err, "open maps for pid %d", pid)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	if err := sc.Err(); err != nil {
		return n, trace.Wrap(err, "scan maps for pid %d", pid)
	}
	return n, nil
}

// ReadCString reads a NUL-terminated string from the remote process' memory
// at addr, via /proc/<pid>/mem, falling back to a word-granular ptrace peek
// when that file is unavailable (spec §4.5), bounded by maxLen bytes.
func ReadCString(pid int, addr uint64, maxLen int) (string, error) {
	if addr == 0 {
		return "", nil
	}
	f, openErr := os.Open(fmt.Sprintf("/proc/%d/mem", pid))
	if openErr != nil {
		return readCStringPeek(pid, addr, maxLen)
	}
	defer f.Close()

	buf := make([]byte, 256)
	var out []byte
	off := int64(addr)
	for len(out) < maxLen {
		n, err := f.ReadAt(buf, off)
		if n == 0 && err != nil {
			if len(out) > 0 {
				break
			}
			return "", trace.Wrap(err, "read mem for pid %d at %#x", pid, addr)
		}
		chunk := buf[:n]
		if idx := indexByte(chunk, 0); idx >= 0 {
			out = append(out, chunk[:idx]...)
			return string(out), nil
		}
		out = append(out, chunk...)
		off += int64(n)
	}
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return string(out), nil
}

// ReadBytes reads up to n bytes from the remote process' memory at addr
// via /proc/<pid>/mem, falling back to a word-granular ptrace peek when
// that file is unavailable (spec §4.5). The result is shorter than n when
// only part of the range could be read.
func ReadBytes(pid int, addr uint64, n int) ([]byte, error) {
	f, openErr := os.Open(fmt.Sprintf("/proc/%d/mem", pid))
	if openErr != nil {
		buf := make([]byte, n)
		got, err := unix.PtracePeekData(pid, uintptr(addr), buf)
		if err != nil {
			return nil, trace.Wrap(err, "ptrace peek mem for pid %d at %#x", pid, addr)
		}
		return buf[:got], nil
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := f.ReadAt(buf, int64(addr))
	if err != nil && read == 0 {
		return nil, trace.Wrap(err, "read mem for pid %d at %#x", pid, addr)
	}
	return buf[:read], nil
}

// readCStringPeek is the word-granular ptrace-peek fallback for ReadCString,
// used when /proc/<pid>/mem cannot be opened (spec §4.5).
func readCStringPeek(pid int, addr uint64, maxLen int) (string, error) {
	const wordSize = 8
	var out []byte
	off := addr
	for len(out) < maxLen {
		word := make([]byte, wordSize)
		n, err := unix.PtracePeekData(pid, uintptr(off), word)
		if n == 0 && err != nil {
			if len(out) > 0 {
				break
			}
			return "", trace.Wrap(err, "ptrace peek mem for pid %d at %#x", pid, addr)
		}
		chunk := word[:n]
		if idx := indexByte(chunk, 0); idx >= 0 {
			out = append(out, chunk[:idx]...)
			return string(out), nil
		}
		out = append(out, chunk...)
		off += uint64(n)
	}
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return string(out), nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
