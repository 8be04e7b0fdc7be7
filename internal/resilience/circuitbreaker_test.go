package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

func failing() error { return errBackend }
func succeeding() error { return nil }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "stt", MaxFailures: 3, ResetTimeout: time.Hour})

	for i := 0; i < 3; i++ {
		if err := cb.Execute(failing); !errors.Is(err, errBackend) {
			t.Fatalf("call %d = %v, want backend error", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	if err := cb.Execute(succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("open breaker = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour})

	cb.Execute(failing)
	cb.Execute(failing)
	cb.Execute(succeeding)
	cb.Execute(failing)
	cb.Execute(failing)

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed; non-consecutive failures must not open", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbeClosesBreaker(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 2})

	cb.Execute(failing)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after reset timeout", cb.State())
	}

	// Two successful probes close the breaker.
	if err := cb.Execute(succeeding); err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if err := cb.Execute(succeeding); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after successful probes", cb.State())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 2})

	cb.Execute(failing)
	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(failing); !errors.Is(err, errBackend) {
		t.Fatalf("probe = %v, want backend error", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open after failed probe", cb.State())
	}
	if err := cb.Execute(succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("call after failed probe = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_HalfOpenBudgetIsLimited(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 1})

	cb.Execute(failing)
	time.Sleep(20 * time.Millisecond)

	// One probe allowed; it closes the breaker immediately with HalfOpenMax 1.
	if err := cb.Execute(succeeding); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_DefaultsApplied(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{})
	if cb.maxFailures != 3 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 2 {
		t.Errorf("defaults = %d/%v/%d", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
}

func TestStateString(t *testing.T) {
	if StateClosed.String() != "closed" || StateOpen.String() != "open" || StateHalfOpen.String() != "half-open" {
		t.Error("state names wrong")
	}
}
