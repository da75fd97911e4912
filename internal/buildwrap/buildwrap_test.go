package buildwrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIsLinkStep(t *testing.T) {
	cases := []struct {
		args []string
		want bool
	}{
		{[]string{"main.c", "-o", "main"}, true},
		{[]string{"-c", "main.c"}, false},
		{[]string{"-E", "main.c"}, false},
		{[]string{"-S", "main.c"}, false},
	}
	for _, c := range cases {
		if got := IsLinkStep(c.args); got != c.want {
			t.Errorf("IsLinkStep(%v) = %v, want %v", c.args, got, c.want)
		}
	}
}

func TestPrepareWritesWrappersForAvailableCompilers(t *testing.T) {
	dir := t.TempDir()
	if err := Prepare(dir); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	rtSrc, err := os.ReadFile(filepath.Join(dir, "poe_rt.c"))
	if err != nil {
		t.Fatalf("expected poe_rt.c to be written: %v", err)
	}
	if !strings.Contains(string(rtSrc), "__cyg_profile_func_enter") {
		t.Fatal("poe_rt.c missing the -finstrument-functions entry hook")
	}

	foundAny := false
	for _, name := range wrappedCompilers {
		if fi, err := os.Stat(filepath.Join(dir, name)); err == nil {
			foundAny = true
			if fi.Mode()&0o111 == 0 {
				t.Errorf("wrapper %s is not executable", name)
			}
		}
	}
	if !foundAny {
		t.Skip("no supported compiler found on PATH to wrap")
	}
}
