// Package redact scrubs sensitive values out of environment maps and
// arbitrary strings before they are written into a pack's metadata
// (spec §4.9). It is promoted to a first-class package here rather than a
// pack-writer implementation detail: §4.9's "Non-goals" only exclude an
// externally configurable redaction *policy*, not redaction itself.
package redact

import (
	"regexp"
	"strings"
)

// Placeholder replaces a redacted value.
const Placeholder = "[REDACTED]"

// sensitiveKeys is the fixed set of environment variable names always
// redacted regardless of content.
var sensitiveKeys = map[string]struct{}{
	"AWS_SECRET_ACCESS_KEY": {},
	"AWS_SESSION_TOKEN":     {},
	"GITHUB_TOKEN":          {},
	"NPM_TOKEN":             {},
	"DOCKER_PASSWORD":       {},
	"SSH_AUTH_SOCK":         {},
}

// fuzzyFragments mark an env-var key as sensitive when any of them occurs
// as a case-insensitive substring of the key name (spec §4.9).
var fuzzyFragments = []string{
	"secret",
	"password",
	"token",
	"api_key",
	"apikey",
	"credential",
	"auth",
}

// bearerPattern rewrites "Bearer <token>" substrings inside arbitrary
// string values (spec §4.9: "String redaction also rewrites Bearer <token>
// substrings").
var bearerPattern = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._~+/=-]+`)

// Environment redacts a snapshot of environment variables. allowlist
// overrides both the fixed set and the fuzzy rule: a key present in
// allowlist is never redacted (spec §4.9: "An explicit allowlist
// overrides").
func Environment(env map[string]string, allowlist map[string]struct{}) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		if _, allowed := allowlist[k]; allowed {
			out[k] = v
			continue
		}
		if isSensitiveKey(k) {
			out[k] = Placeholder
			continue
		}
		out[k] = String(v)
	}
	return out
}

func isSensitiveKey(key string) bool {
	if _, ok := sensitiveKeys[key]; ok {
		return true
	}
	lower := strings.ToLower(key)
	for _, frag := range fuzzyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// String rewrites Bearer-token substrings in s. It is idempotent: running
// it twice produces the same output as running it once, since the
// replacement no longer matches bearerPattern.
func String(s string) string {
	return bearerPattern.ReplaceAllString(s, "Bearer "+Placeholder)
}
