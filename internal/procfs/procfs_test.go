package procfs

import (
	"os"
	"testing"
)

// These exercise procfs against the test process' own /proc entry, which
// needs no ptrace privilege, unlike the rest of the tracer test suite.

func TestCmdlineOfSelf(t *testing.T) {
	argv, err := Cmdline(os.Getpid())
	if err != nil {
		t.Fatalf("Cmdline: %v", err)
	}
	if len(argv) == 0 {
		t.Fatal("expected non-empty argv for self")
	}
}

func TestCwdOfSelf(t *testing.T) {
	cwd, err := Cwd(os.Getpid())
	if err != nil {
		t.Fatalf("Cwd: %v", err)
	}
	if cwd == "" {
		t.Fatal("expected non-empty cwd")
	}
}

func TestMappingCountOfSelfIsPositive(t *testing.T) {
	n, err := MappingCount(os.Getpid())
	if err != nil {
		t.Fatalf("MappingCount: %v", err)
	}
	if n == 0 {
		t.Fatal("expected at least one VMA for a running process")
	}
}

func TestReadCStringZeroAddrIsEmpty(t *testing.T) {
	s, err := ReadCString(os.Getpid(), 0, 64)
	if err != nil {
		t.Fatalf("ReadCString(0): %v", err)
	}
	if s != "" {
		t.Fatalf("ReadCString(0) = %q, want empty", s)
	}
}
