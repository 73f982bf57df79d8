package resilience

import (
	"errors"
	"testing"
	"time"
)

func newStringGroup(cfg CircuitBreakerConfig) *FallbackGroup[string] {
	fg := NewFallbackGroup("piper", "piper", FallbackConfig{CircuitBreaker: cfg})
	fg.AddFallback("xtts", "xtts")
	return fg
}

func TestFallbackPrefersPrimary(t *testing.T) {
	fg := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	var called string
	err := fg.Execute(func(v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "piper" {
		t.Errorf("called = %q, want piper", called)
	}
}

func TestFallbackFailsOver(t *testing.T) {
	fg := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	var called string
	err := fg.Execute(func(v string) error {
		if v == "piper" {
			return errUnreachable
		}
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "xtts" {
		t.Errorf("called = %q, want xtts", called)
	}
}

func TestFallbackAllFail(t *testing.T) {
	fg := newStringGroup(CircuitBreakerConfig{MaxFailures: 3})

	err := fg.Execute(func(string) error { return errUnreachable })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackSkipsOpenBreaker(t *testing.T) {
	fg := newStringGroup(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	// Open the primary's breaker.
	for range 2 {
		fg.Execute(func(v string) error {
			if v == "piper" {
				return errUnreachable
			}
			return nil
		})
	}

	var primaryCalls int
	err := fg.Execute(func(v string) error {
		if v == "piper" {
			primaryCalls++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if primaryCalls != 0 {
		t.Error("primary called despite an open breaker")
	}
}

func TestExecuteWithResultReturnsValue(t *testing.T) {
	fg := NewFallbackGroup(8080, "local", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("remote", 9090)

	got, err := ExecuteWithResult(fg, func(port int) (string, error) {
		if port == 8080 {
			return "from-local", nil
		}
		return "from-remote", nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "from-local" {
		t.Errorf("result = %q, want from-local", got)
	}
}

func TestExecuteWithResultFailsOver(t *testing.T) {
	fg := NewFallbackGroup(8080, "local", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("remote", 9090)

	got, err := ExecuteWithResult(fg, func(port int) (string, error) {
		if port == 8080 {
			return "", errUnreachable
		}
		return "from-remote", nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "from-remote" {
		t.Errorf("result = %q, want from-remote", got)
	}
}

func TestExecuteWithResultAllFail(t *testing.T) {
	fg := NewFallbackGroup(8080, "local", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	_, err := ExecuteWithResult(fg, func(int) (string, error) {
		return "", errUnreachable
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
