package lim

import (
	"net/http/httptest"
	"testing"

	"github.com/axololly/paste/cfg"
)

func testLimits() cfg.RateLimitCfg {
	return cfg.RateLimitCfg{
		CreateRPM: 6,
		ReadRPM:   20,
		UpdateRPM: 3,
		DeleteRPM: 10,
		Burst:     2,
	}
}

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	l := New(testLimits(), nil)
	t.Cleanup(l.Stop)
	return l
}

func TestBurstThenThrottle(t *testing.T) {
	l := newTestLimiter(t)
	r := httptest.NewRequest("POST", "/pastes", nil)
	r.RemoteAddr = "203.0.113.1:5000"

	for i := 0; i < 2; i++ {
		res := l.CheckLimit(r, "create")
		if !res.Allowed {
			t.Fatalf("request %d within burst should pass", i+1)
		}
	}
	res := l.CheckLimit(r, "create")
	if res.Allowed {
		t.Error("burst exhausted, request should be throttled")
	}
	if res.Remaining != 0 {
		t.Errorf("throttled result should report 0 remaining, got %d", res.Remaining)
	}
	if res.Limit != 6 {
		t.Errorf("create limit should surface in the result, got %d", res.Limit)
	}
}

func TestEndpointsAreIndependent(t *testing.T) {
	l := newTestLimiter(t)
	r := httptest.NewRequest("GET", "/pastes/abc", nil)
	r.RemoteAddr = "203.0.113.1:5000"

	for i := 0; i < 2; i++ {
		l.CheckLimit(r, "create")
	}
	if res := l.CheckLimit(r, "create"); res.Allowed {
		t.Fatal("create budget should be spent")
	}
	if res := l.CheckLimit(r, "read"); !res.Allowed {
		t.Error("read budget is separate from create")
	}
}

func TestClientsAreIndependent(t *testing.T) {
	l := newTestLimiter(t)
	a := httptest.NewRequest("POST", "/pastes", nil)
	a.RemoteAddr = "203.0.113.1:5000"
	b := httptest.NewRequest("POST", "/pastes", nil)
	b.RemoteAddr = "203.0.113.2:5000"

	for i := 0; i < 2; i++ {
		l.CheckLimit(a, "create")
	}
	if res := l.CheckLimit(a, "create"); res.Allowed {
		t.Fatal("first client's budget should be spent")
	}
	if res := l.CheckLimit(b, "create"); !res.Allowed {
		t.Error("second client has its own budget")
	}
}

func TestUnknownEndpointGetsMinimalBudget(t *testing.T) {
	l := newTestLimiter(t)
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:5000"
	res := l.CheckLimit(r, "mystery")
	if res.Limit != 1 {
		t.Errorf("unknown endpoints fall back to the minimal limit, got %d", res.Limit)
	}
}

func TestClientIPParsing(t *testing.T) {
	cases := []struct {
		remoteAddr string
		want       string
	}{
		{"203.0.113.1:5000", "203.0.113.1"},
		{"[2001:db8::1]:5000", "2001:db8::1"},
		{"no-port-here", "no-port-here"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = tc.remoteAddr
		if got := clientIP(r); got != tc.want {
			t.Errorf("clientIP(%q) = %q, want %q", tc.remoteAddr, got, tc.want)
		}
	}
}
