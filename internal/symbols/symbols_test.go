package symbols

import "testing"

func newTestResolver() *Resolver {
	return &Resolver{
		syms: []symbolEntry{
			{name: "_start", addr: 0x1000},
			{name: "main", addr: 0x1200},
			{name: "helper", addr: 0x1300},
		},
	}
}

func TestResolveWithoutPivotReturnsHex(t *testing.T) {
	r := newTestResolver()
	got := r.Resolve(0x5000)
	if got != "0x5000" {
		t.Fatalf("expected raw hex before pivot, got %q", got)
	}
}

func TestResolveExactSymbolAddress(t *testing.T) {
	r := newTestResolver()
	r.Pivot(0x1200, 0x1200) // runtime == file, zero load offset
	if got := r.Resolve(0x1200); got != "main" {
		t.Fatalf("expected exact match \"main\", got %q", got)
	}
}

func TestResolveWithOffset(t *testing.T) {
	r := newTestResolver()
	r.Pivot(0x1200, 0x1200)
	if got := r.Resolve(0x1310); got != "helper+0x10" {
		t.Fatalf("expected helper+0x10, got %q", got)
	}
}

func TestResolveWithNonZeroLoadOffset(t *testing.T) {
	r := newTestResolver()
	// Runtime main observed at 0x555555555200, file main at 0x1200.
	r.Pivot(0x555555555200, 0x1200)
	if got := r.Resolve(0x555555555300); got != "helper" {
		t.Fatalf("expected helper after load-offset translation, got %q", got)
	}
}

func TestResolveBeforeFirstSymbolReturnsHex(t *testing.T) {
	r := newTestResolver()
	r.Pivot(0x1200, 0x1200)
	if got := r.Resolve(0x10); got != "0x10" {
		t.Fatalf("expected raw hex below first symbol, got %q", got)
	}
}
