package resilience

import (
	"testing"
	"time"
)

func TestKeyedLimiterPerKey(t *testing.T) {
	l := NewKeyedLimiter(LimiterOpts{Rate: 1, Burst: 2})
	now := time.Now()
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst should allow two calls")
	}
	if l.Allow("a") {
		t.Fatal("third call should be limited")
	}
	if !l.Allow("b") {
		t.Fatal("other keys have their own bucket")
	}

	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Fatal("token should refill after a second")
	}
}

func TestKeyedLimiterEvictsIdle(t *testing.T) {
	l := NewKeyedLimiter(LimiterOpts{Rate: 5, Burst: 1, IdleTTL: time.Minute})
	now := time.Now()
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	now = now.Add(2 * time.Minute)
	l.Allow("c")
	if l.Len() != 1 {
		t.Fatalf("expected idle keys evicted, got %d", l.Len())
	}
}

func TestKeyedLimiterDisabled(t *testing.T) {
	l := NewKeyedLimiter(LimiterOpts{})
	for i := 0; i < 100; i++ {
		if !l.Allow("x") {
			t.Fatal("zero rate should not limit")
		}
	}
}
