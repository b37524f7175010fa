package risk

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, 5*time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if !b.ShouldAttempt() {
			t.Fatalf("breaker open after %d failures, threshold is 3", i+1)
		}
	}
	b.RecordFailure()
	if b.ShouldAttempt() {
		t.Fatal("breaker still permits attempts after threshold failures")
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want %s", b.State(), BreakerOpen)
	}
}

func TestBreakerHalfOpenProbeAfterTimeout(t *testing.T) {
	clock := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	b := NewBreaker(3, 5*time.Minute)
	b.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if b.ShouldAttempt() {
		t.Fatal("open breaker should block before the reset timeout")
	}

	clock = clock.Add(5*time.Minute + time.Second)
	if !b.ShouldAttempt() {
		t.Fatal("open breaker should permit a probe after the reset timeout")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want %s", b.State(), BreakerHalfOpen)
	}

	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Fatalf("state after probe success = %s, want %s", b.State(), BreakerClosed)
	}
	if b.Failures() != 0 {
		t.Fatalf("failure count after success = %d, want 0", b.Failures())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	b := NewBreaker(3, 5*time.Minute)
	b.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock = clock.Add(6 * time.Minute)
	if !b.ShouldAttempt() {
		t.Fatal("expected half-open probe")
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("state after probe failure = %s, want %s", b.State(), BreakerOpen)
	}
	if b.ShouldAttempt() {
		t.Fatal("reopened breaker must block again until the next timeout")
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(3, 5*time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != BreakerClosed {
		t.Fatalf("interleaved success should keep breaker closed, state = %s", b.State())
	}
}
