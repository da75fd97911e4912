package redact

import "testing"

func TestEnvironmentRedactsFixedKeys(t *testing.T) {
	env := map[string]string{"AWS_SECRET_ACCESS_KEY": "abc123"}
	got := Environment(env, nil)
	if got["AWS_SECRET_ACCESS_KEY"] != Placeholder {
		t.Fatalf("expected redaction, got %q", got["AWS_SECRET_ACCESS_KEY"])
	}
}

func TestEnvironmentRedactsFuzzyMatch(t *testing.T) {
	env := map[string]string{"MY_API_KEY": "xyz", "STRIPE_SECRET": "sk_live_x", "HOME": "/root"}
	got := Environment(env, nil)
	if got["MY_API_KEY"] != Placeholder {
		t.Fatalf("expected fuzzy redaction for MY_API_KEY, got %q", got["MY_API_KEY"])
	}
	if got["STRIPE_SECRET"] != Placeholder {
		t.Fatalf("expected fuzzy redaction for STRIPE_SECRET, got %q", got["STRIPE_SECRET"])
	}
	if got["HOME"] != "/root" {
		t.Fatalf("HOME should not be redacted, got %q", got["HOME"])
	}
}

func TestAllowlistOverridesRedaction(t *testing.T) {
	env := map[string]string{"API_KEY": "public-demo-key"}
	allow := map[string]struct{}{"API_KEY": {}}
	got := Environment(env, allow)
	if got["API_KEY"] != "public-demo-key" {
		t.Fatalf("allowlisted key should not be redacted, got %q", got["API_KEY"])
	}
}

func TestStringRewritesBearerToken(t *testing.T) {
	in := `curl -H "Authorization: Bearer abc.def-123" https://example.com`
	got := String(in)
	want := `curl -H "Authorization: Bearer [REDACTED]" https://example.com`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestStringRedactionIsIdempotent(t *testing.T) {
	in := "Authorization: Bearer supersecrettoken"
	once := String(in)
	twice := String(once)
	if once != twice {
		t.Fatalf("redaction not idempotent: %q vs %q", once, twice)
	}
}

func TestStringWithoutBearerUnchanged(t *testing.T) {
	in := "no tokens here"
	if got := String(in); got != in {
		t.Fatalf("expected unchanged string, got %q", got)
	}
}
