package snapshot

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := newBreaker(3, 100*time.Millisecond)
	errFail := errors.New("redis down")

	for i := 0; i < 3; i++ {
		if err := b.execute(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if b.currentState() != breakerOpen {
		t.Errorf("state = %v after 3 failures, want open", b.currentState())
	}

	// Calls are rejected without touching Redis while open.
	if err := b.execute(func() error { return nil }); err != ErrBreakerOpen {
		t.Errorf("expected ErrBreakerOpen, got %v", err)
	}
}

func TestBreaker_ProbeClosesAfterTimeout(t *testing.T) {
	b := newBreaker(2, 50*time.Millisecond)
	errFail := errors.New("redis down")

	for i := 0; i < 2; i++ {
		b.execute(func() error { return errFail })
	}
	if b.currentState() != breakerOpen {
		t.Fatal("expected open")
	}

	time.Sleep(60 * time.Millisecond)

	if err := b.execute(func() error { return nil }); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if b.currentState() != breakerClosed {
		t.Errorf("state = %v after successful probe, want closed", b.currentState())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := newBreaker(2, 50*time.Millisecond)
	errFail := errors.New("redis down")

	for i := 0; i < 2; i++ {
		b.execute(func() error { return errFail })
	}
	time.Sleep(60 * time.Millisecond)
	b.execute(func() error { return errFail })

	if b.currentState() != breakerOpen {
		t.Errorf("state = %v after failed probe, want open", b.currentState())
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newBreaker(3, 100*time.Millisecond)
	errFail := errors.New("redis down")

	b.execute(func() error { return errFail })
	b.execute(func() error { return errFail })
	b.execute(func() error { return nil })

	b.execute(func() error { return errFail })
	b.execute(func() error { return errFail })

	if b.currentState() != breakerClosed {
		t.Errorf("state = %v, want closed after counter reset", b.currentState())
	}
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []breakerState
	b := newBreaker(1, 50*time.Millisecond)
	b.onStateChange = func(from, to breakerState) {
		transitions = append(transitions, to)
	}

	b.execute(func() error { return errors.New("redis down") })
	time.Sleep(60 * time.Millisecond)
	b.execute(func() error { return nil })

	want := []breakerState{breakerOpen, breakerHalfOpen, breakerClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %v, want %v", i, transitions[i], want[i])
		}
	}
}
