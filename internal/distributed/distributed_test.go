package distributed

import (
	"os"
	"strings"
	"testing"

	"github.com/jaso1024/poe/internal/config"
)

func TestFromParentEnvMintsTraceIDWhenAbsent(t *testing.T) {
	os.Unsetenv(config.EnvTraceID)
	ctx := FromParentEnv()
	if ctx.TraceID == "" {
		t.Fatal("expected a minted trace id")
	}
}

func TestFromParentEnvInheritsExistingTraceID(t *testing.T) {
	t.Setenv(config.EnvTraceID, "fixed-trace-id")
	ctx := FromParentEnv()
	if ctx.TraceID != "fixed-trace-id" {
		t.Fatalf("expected inherited trace id, got %q", ctx.TraceID)
	}
}

func TestFromParentEnvAlwaysMintsFreshSpanID(t *testing.T) {
	t.Setenv(config.EnvParentSpanID, "aaaaaaaaaaaaaaaa")
	ctx := FromParentEnv()
	if ctx.ParentSpanID == "aaaaaaaaaaaaaaaa" {
		t.Fatal("expected a freshly minted span id, not the inherited one")
	}
	if len(ctx.ParentSpanID) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", ctx.ParentSpanID)
	}
}

func TestFromParentEnvDefaultsOriginToHostname(t *testing.T) {
	os.Unsetenv(config.EnvTraceOrigin)
	ctx := FromParentEnv()
	hostname, err := os.Hostname()
	if err != nil {
		t.Fatalf("os.Hostname: %v", err)
	}
	if ctx.Origin != hostname {
		t.Fatalf("expected origin to default to hostname %q, got %q", hostname, ctx.Origin)
	}
}

func TestFromParentEnvInheritsExistingOrigin(t *testing.T) {
	t.Setenv(config.EnvTraceOrigin, "upstream-host")
	ctx := FromParentEnv()
	if ctx.Origin != "upstream-host" {
		t.Fatalf("expected inherited origin, got %q", ctx.Origin)
	}
}

func TestChildEnvContainsExpectedKeys(t *testing.T) {
	ctx := Context{TraceID: "t1", ParentSpanID: "s1", Origin: "o1"}
	env := ctx.ChildEnv()
	joined := strings.Join(env, " ")
	for _, want := range []string{"POE_TRACE_ID=t1", "POE_PARENT_SPAN_ID=s1", "POE_TRACE_ORIGIN=o1"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in child env, got %v", want, env)
		}
	}
}

func TestChildEnvOmitsOriginWhenEmpty(t *testing.T) {
	ctx := Context{TraceID: "t1", ParentSpanID: "s1"}
	env := ctx.ChildEnv()
	for _, kv := range env {
		if strings.HasPrefix(kv, "POE_TRACE_ORIGIN=") {
			t.Fatalf("did not expect origin key, got %v", env)
		}
	}
}
