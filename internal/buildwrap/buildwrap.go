// Package buildwrap implements `poe build`'s compiler interposition (spec
// §4.8): a PATH-prepended wrapper directory containing a shim for each of
// cc/gcc/g++/clang/clang++ that finds the real compiler, injects
// -finstrument-functions into every invocation, and on link steps also
// links -lpoe_rt and sets an rpath so the target calls into the runtime
// library's ring-buffer writer.
package buildwrap

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/gravitational/trace"
)

// wrappedCompilers is the fixed set of command names poe build interposes
// on (spec §4.8).
var wrappedCompilers = []string{"cc", "gcc", "g++", "clang", "clang++"}

// Prepare creates dir (if needed) and populates it with one shell wrapper
// per entry in wrappedCompilers found on PATH, plus the poe_rt runtime
// library's source, and makes a best-effort attempt to compile that source
// into the libpoe_rt.so shared library the wrappers link against.
// Callers prepend dir to PATH before invoking the user's build command.
func Prepare(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return trace.Wrap(err, "create wrapper dir %s", dir)
	}

	rtSrcPath := filepath.Join(dir, "poe_rt.c")
	if err := os.WriteFile(rtSrcPath, []byte(runtimeSource), 0o644); err != nil {
		return trace.Wrap(err, "write %s", rtSrcPath)
	}

	var firstReal string
	for _, name := range wrappedCompilers {
		real, err := realCompilerPath(name)
		if err != nil {
			// Not every toolchain is installed; skip wrappers for missing
			// compilers rather than fail the whole build phase.
			continue
		}
		if firstReal == "" {
			firstReal = real
		}
		wrapperPath := filepath.Join(dir, name)
		script := wrapperScript(real, dir)
		if err := os.WriteFile(wrapperPath, []byte(script), 0o755); err != nil {
			return trace.Wrap(err, "write wrapper %s", wrapperPath)
		}
	}

	if firstReal != "" {
		// Best-effort: build libpoe_rt.so with whichever real compiler was
		// found first, so the wrapper scripts' -lpoe_rt has something to
		// link against. A failure here (e.g. missing pthread headers on a
		// stripped-down host) is not fatal to `poe build` as a whole —
		// the wrappers still inject -finstrument-functions either way.
		_ = buildRuntimeLib(firstReal, dir, rtSrcPath)
	}
	return nil
}

// buildRuntimeLib compiles poe_rt.c into dir/libpoe_rt.so using the given
// real (unwrapped) compiler, matching the `-fPIC -shared -O2
// -fno-instrument-functions` flags spec §4.8 requires of the runtime
// library build.
func buildRuntimeLib(realCompiler, dir, rtSrcPath string) error {
	libPath := filepath.Join(dir, "libpoe_rt.so")
	cmd := exec.Command(realCompiler,
		"-fPIC", "-shared", "-O2", "-fno-instrument-functions",
		"-o", libPath, rtSrcPath, "-lpthread")
	cmd.Stdout = nil
	cmd.Stderr = nil
	return trace.Wrap(cmd.Run(), "compile libpoe_rt.so")
}

// realCompilerPath resolves name to the first match on PATH that is not
// already inside a poe wrapper directory, avoiding infinite self-recursion
// if poe build is invoked twice with the wrapper dir still prepended.
func realCompilerPath(name string) (string, error) {
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		// A directory holding poe_rt.c is a poe wrapper directory.
		if _, err := os.Stat(filepath.Join(dir, "poe_rt.c")); err != nil && filepath.IsAbs(dir) {
			if path, err := exec.LookPath(filepath.Join(dir, name)); err == nil {
				return path, nil
			}
		}
	}
	return "", trace.NotFound("locate real compiler %s", name)
}

// IsLinkStep heuristically reports whether an invocation of the wrapped
// compiler is a link step (as opposed to a compile-only -c invocation).
// It is the same -c/-E/-S test the generated wrapper scripts perform in
// shell to decide whether to append -lpoe_rt and an rpath.
func IsLinkStep(args []string) bool {
	for _, a := range args {
		if a == "-c" || a == "-E" || a == "-S" {
			return false
		}
	}
	return true
}

func wrapperScript(realCompiler, wrapperDir string) string {
	return fmt.Sprintf(`#!/bin/sh
# Generated by poe build: injects -finstrument-functions into every
# invocation of %s, and on link steps links -lpoe_rt with an rpath back to
# this wrapper directory, where libpoe_rt.so was built.
real=%q
args="-finstrument-functions"
is_link=1
for a in "$@"; do
	case "$a" in
		-c|-E|-S) is_link=0 ;;
	esac
done
if [ "$is_link" = "1" ]; then
	exec "$real" $args "$@" -L%q -lpoe_rt -Wl,-rpath,%q
fi
exec "$real" $args "$@"
`, realCompiler, realCompiler, wrapperDir, wrapperDir)
}

// runtimeSource is poe_rt.c: the plain-C runtime library compiled
// -fPIC -shared -O2 -fno-instrument-functions (spec §4.8) that every
// instrumented translation unit's -finstrument-functions callbacks invoke.
// It writes fixed-size enter/exit records into a memory-mapped ring file
// at /tmp/poe-rt-<pid>.bin (spec §4.8: on-disk ring format).
const runtimeSource = `/* poe_rt.c -- generated by poe build, compiled -fPIC -shared -O2 -fno-instrument-functions */
#include <stdint.h>
#include <stdio.h>
#include <stdlib.h>
#include <string.h>
#include <time.h>
#include <unistd.h>
#include <sys/mman.h>
#include <sys/stat.h>
#include <fcntl.h>
#include <pthread.h>

#define POE_RT_MAGIC 0x504F4552u
#define POE_RT_VERSION 1u
#define POE_RT_CAPACITY (1u << 16) /* 65536 entries */
#define POE_RT_HEADER_SIZE 64
#define POE_RT_ENTRY_SIZE 32

struct poe_rt_header {
	uint32_t magic;
	uint32_t version;
	uint32_t capacity;
	uint32_t reserved;
	uint64_t write_pos;
	uint64_t start_wall_ns;
	uint8_t pad[64 - 4 - 4 - 4 - 4 - 8 - 8];
};

struct poe_rt_entry {
	uint64_t ts_ns;
	uint64_t func_addr;
	uint64_t call_site;
	uint32_t tid;
	uint8_t event_type; /* 0 = enter, 1 = exit */
	uint8_t depth;
	uint8_t pad[2];
};

static struct poe_rt_header *poe_rt_hdr;
static unsigned char *poe_rt_body;
static pthread_mutex_t poe_rt_lock = PTHREAD_MUTEX_INITIALIZER;
static __thread uint8_t poe_rt_depth;

static uint64_t poe_rt_now_ns(void) {
	struct timespec ts;
	clock_gettime(CLOCK_MONOTONIC, &ts);
	return (uint64_t)ts.tv_sec * 1000000000ull + (uint64_t)ts.tv_nsec;
}

static void poe_rt_init(void) {
	char path[64];
	snprintf(path, sizeof(path), "/tmp/poe-rt-%d.bin", (int)getpid());

	size_t total = POE_RT_HEADER_SIZE + (size_t)POE_RT_CAPACITY * POE_RT_ENTRY_SIZE;
	int fd = open(path, O_RDWR | O_CREAT, 0600);
	if (fd < 0) return;
	if (ftruncate(fd, (off_t)total) != 0) { close(fd); return; }

	void *mapping = mmap(NULL, total, PROT_READ | PROT_WRITE, MAP_SHARED, fd, 0);
	close(fd);
	if (mapping == MAP_FAILED) return;

	poe_rt_hdr = (struct poe_rt_header *)mapping;
	poe_rt_body = (unsigned char *)mapping + POE_RT_HEADER_SIZE;
	poe_rt_hdr->magic = POE_RT_MAGIC;
	poe_rt_hdr->version = POE_RT_VERSION;
	poe_rt_hdr->capacity = POE_RT_CAPACITY;
	poe_rt_hdr->write_pos = 0;
	poe_rt_hdr->start_wall_ns = poe_rt_now_ns();
}

static void poe_rt_record(void *func, void *call_site, uint8_t event_type) {
	static pthread_once_t once = PTHREAD_ONCE_INIT;
	pthread_once(&once, poe_rt_init);
	if (!poe_rt_hdr) return;

	pthread_mutex_lock(&poe_rt_lock);
	uint64_t pos = poe_rt_hdr->write_pos;
	uint32_t slot = (uint32_t)(pos % poe_rt_hdr->capacity);
	struct poe_rt_entry *e = (struct poe_rt_entry *)(poe_rt_body + (size_t)slot * POE_RT_ENTRY_SIZE);
	e->ts_ns = poe_rt_now_ns();
	e->func_addr = (uint64_t)(uintptr_t)func;
	e->call_site = (uint64_t)(uintptr_t)call_site;
	e->tid = (uint32_t)pthread_self();
	e->event_type = event_type;
	e->depth = poe_rt_depth;
	poe_rt_hdr->write_pos = pos + 1;
	pthread_mutex_unlock(&poe_rt_lock);
}

/* GCC/Clang -finstrument-functions ABI. */
void __cyg_profile_func_enter(void *func, void *call_site) {
	poe_rt_record(func, call_site, 0);
	poe_rt_depth++;
}

void __cyg_profile_func_exit(void *func, void *call_site) {
	if (poe_rt_depth > 0) poe_rt_depth--;
	poe_rt_record(func, call_site, 1);
}
`
