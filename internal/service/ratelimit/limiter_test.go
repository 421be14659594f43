package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterBurstThenRefill(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := New(2, 1).WithClock(func() time.Time { return now })

	if !l.Allow("AAPL") || !l.Allow("AAPL") {
		t.Fatalf("expected burst of 2 to pass")
	}
	if l.Allow("AAPL") {
		t.Fatalf("expected third call to be throttled")
	}
	if !l.Allow("MSFT") {
		t.Fatalf("keys must not share buckets")
	}

	now = now.Add(time.Second)
	if !l.Allow("AAPL") {
		t.Fatalf("expected a token after one second")
	}
	if l.Allow("AAPL") {
		t.Fatalf("expected only one refilled token")
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := New(1, 0)
	for i := 0; i < 10; i++ {
		if !l.Allow("X") {
			t.Fatalf("disabled limiter throttled call %d", i)
		}
	}
}
