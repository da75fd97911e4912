package config

import "testing"

func TestGetenvDefault(t *testing.T) {
	const key = "POE_CONFIG_TEST_STRING"
	t.Setenv(key, "")
	if got := GetenvDefault(key, "fallback"); got != "fallback" {
		t.Fatalf("GetenvDefault() = %q, want fallback when unset", got)
	}
	t.Setenv(key, "set-value")
	if got := GetenvDefault(key, "fallback"); got != "set-value" {
		t.Fatalf("GetenvDefault() = %q, want set-value", got)
	}
}

func TestGetenvDefaultInt(t *testing.T) {
	const key = "POE_CONFIG_TEST_INT"
	t.Setenv(key, "")
	if got := GetenvDefaultInt(key, 7); got != 7 {
		t.Fatalf("GetenvDefaultInt() = %d, want 7 when unset", got)
	}
	t.Setenv(key, "42")
	if got := GetenvDefaultInt(key, 7); got != 42 {
		t.Fatalf("GetenvDefaultInt() = %d, want 42", got)
	}
	t.Setenv(key, "not-a-number")
	if got := GetenvDefaultInt(key, 7); got != 7 {
		t.Fatalf("GetenvDefaultInt() = %d, want fallback 7 on parse error", got)
	}
}
