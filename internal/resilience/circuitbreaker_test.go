package resilience

import (
	"errors"
	"testing"
	"time"
)

var errUnreachable = errors.New("endpoint unreachable")

// testClock steps a breaker through time without sleeping.
type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *testClock) {
	cb := NewCircuitBreaker(cfg)
	clock := &testClock{t: time.Unix(1000, 0)}
	cb.now = clock.Now
	return cb, clock
}

func failTimes(cb *CircuitBreaker, n int) {
	for range n {
		cb.Execute(func() error { return errUnreachable })
	}
}

func TestBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "hypervisor"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestBreakerStaysClosedUnderThreshold(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "hypervisor", MaxFailures: 3})

	failTimes(cb, 2)
	if got := cb.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}

	// A success resets the consecutive counter; two more failures must not
	// open it.
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	failTimes(cb, 2)
	if got := cb.State(); got != StateClosed {
		t.Errorf("state after success + 2 failures = %v, want closed", got)
	}
}

func TestBreakerOpensAndRejects(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "hypervisor", MaxFailures: 3, ResetTimeout: time.Hour})

	failTimes(cb, 3)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while the breaker was open")
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{Name: "llm", MaxFailures: 1, ResetTimeout: time.Minute})

	failTimes(cb, 1)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	clock.Advance(61 * time.Second)
	if got := cb.State(); got != StateHalfOpen {
		t.Errorf("state after timeout = %v, want half-open", got)
	}
}

func TestBreakerClosesAfterSuccessfulProbes(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		Name: "llm", MaxFailures: 1, ResetTimeout: time.Minute, HalfOpenMax: 2,
	})

	failTimes(cb, 1)
	clock.Advance(61 * time.Second)

	for i := range 2 {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("state after probes = %v, want closed", got)
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		Name: "llm", MaxFailures: 1, ResetTimeout: time.Minute, HalfOpenMax: 3,
	})

	failTimes(cb, 1)
	clock.Advance(61 * time.Second)

	if err := cb.Execute(func() error { return errUnreachable }); !errors.Is(err, errUnreachable) {
		t.Fatalf("probe = %v, want errUnreachable", err)
	}
	if got := cb.State(); got != StateOpen {
		t.Errorf("state after failed probe = %v, want open", got)
	}

	// Still rejecting inside the new timeout window.
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerReset(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "hypervisor", MaxFailures: 1, ResetTimeout: time.Hour})

	failTimes(cb, 1)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	cb.Reset()
	if got := cb.State(); got != StateClosed {
		t.Errorf("state after Reset = %v, want closed", got)
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute after Reset: %v", err)
	}
}

func TestStateString(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
