package doctor

import "testing"

func TestParseKernelVersion(t *testing.T) {
	cases := []struct {
		release    string
		wantMajor  int
		wantMinor  int
		wantParsed bool
	}{
		{"6.8.0-45-generic", 6, 8, true},
		{"5.15.0", 5, 15, true},
		{"4.4.0+", 4, 4, true},
		{"garbage", 0, 0, false},
	}
	for _, c := range cases {
		major, minor, ok := parseKernelVersion(c.release)
		if ok != c.wantParsed {
			t.Fatalf("%q: ok=%v, want %v", c.release, ok, c.wantParsed)
		}
		if ok && (major != c.wantMajor || minor != c.wantMinor) {
			t.Fatalf("%q: got %d.%d, want %d.%d", c.release, major, minor, c.wantMajor, c.wantMinor)
		}
	}
}

func TestRunProducesFiveChecks(t *testing.T) {
	r := Run()
	if len(r.Checks) != 5 {
		t.Fatalf("expected 5 checks, got %d", len(r.Checks))
	}
	for _, c := range r.Checks {
		if c.Name == "" {
			t.Fatalf("check with empty name: %+v", c)
		}
		if c.Status != StatusOK && c.Remedy == "" {
			t.Fatalf("non-OK check %q missing remedy: %+v", c.Name, c)
		}
	}
}

func TestReportOKRequiresNoFailures(t *testing.T) {
	r := Report{Checks: []Check{{Status: StatusOK}, {Status: StatusWarn}}}
	if !r.OK() {
		t.Fatal("expected OK with only warn/ok checks")
	}
	r.Checks = append(r.Checks, Check{Status: StatusFail})
	if r.OK() {
		t.Fatal("expected not OK once a check fails")
	}
}
