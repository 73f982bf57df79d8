package monitor

import (
	"sync"
	"time"
)

const (
	// rateWindow is the sliding window over which remediation attempts for
	// one incident key are counted.
	rateWindow = time.Hour

	// rateLimit is the maximum attempts per incident key per window. The
	// attempt after the limit is blocked and escalated.
	rateLimit = 3

	// lockStaleAfter is the blast-radius safety net: a lock entry older
	// than this was left behind by a crashed remediation and is swept.
	lockStaleAfter = 10 * time.Minute
)

// rateLimiter counts remediation attempts per incident key over a sliding
// window. Entries are pruned on every read.
type rateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	attempts map[string][]time.Time
	now      func() time.Time
}

func newRateLimiter(window time.Duration) *rateLimiter {
	return &rateLimiter{
		window:   window,
		attempts: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Count returns the attempts recorded for key within the window.
func (l *rateLimiter) Count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(key))
}

// Record pushes an attempt timestamp for key and returns the new in-window
// count, which doubles as the attempt number.
func (l *rateLimiter) Record(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := append(l.prune(key), l.now())
	l.attempts[key] = kept
	return len(kept)
}

// prune drops expired timestamps for key. Caller holds l.mu.
func (l *rateLimiter) prune(key string) []time.Time {
	cutoff := l.now().Add(-l.window)
	kept := l.attempts[key][:0]
	for _, t := range l.attempts[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.attempts, key)
		return nil
	}
	l.attempts[key] = kept
	return kept
}

// remediationLock is the global blast-radius lock: at most one remediation
// in flight across the whole cluster. The staleness sweep runs inside the
// same critical section as the acquire check.
type remediationLock struct {
	mu         sync.Mutex
	target     string
	since      time.Time
	staleAfter time.Duration
	now        func() time.Time
}

func newRemediationLock(staleAfter time.Duration) *remediationLock {
	return &remediationLock{staleAfter: staleAfter, now: time.Now}
}

// TryAcquire marks a remediation active for target. Returns false when
// another remediation holds the lock, unless that entry has gone stale.
func (l *remediationLock) TryAcquire(target string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.target != "" && l.now().Sub(l.since) > l.staleAfter {
		l.target = ""
	}
	if l.target != "" {
		return false
	}
	l.target = target
	l.since = l.now()
	return true
}

// Release clears the lock. Safe to call when not held.
func (l *remediationLock) Release() {
	l.mu.Lock()
	l.target = ""
	l.mu.Unlock()
}

// Active returns the current lock holder, if any.
func (l *remediationLock) Active() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.target == "" || l.now().Sub(l.since) > l.staleAfter {
		return "", false
	}
	return l.target, true
}
