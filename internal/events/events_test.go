package events

import "testing"

func TestDecideTriggerPrecedence(t *testing.T) {
	cases := []struct {
		name                   string
		always, crash, signal  bool
		exitCode               int
		want                   TriggerReason
	}{
		{"nothing", false, false, false, 0, TriggerNone},
		{"exit only", false, false, false, 1, TriggerNonZeroExit},
		{"signal beats exit", false, false, true, 1, TriggerSignal},
		{"crash beats signal", false, true, true, 1, TriggerCrash},
		{"always beats crash", true, true, true, 1, TriggerAlways},
		{"always alone with clean exit", true, false, false, 0, TriggerAlways},
		{"crash without exit code set", false, true, false, 0, TriggerCrash},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := DecideTrigger(c.always, c.crash, c.signal, c.exitCode); got != c.want {
				t.Errorf("DecideTrigger(%v,%v,%v,%d) = %q, want %q",
					c.always, c.crash, c.signal, c.exitCode, got, c.want)
			}
		})
	}
}
