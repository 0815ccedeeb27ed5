package postchain

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// SignatureLimiter rate-limits failed request signatures per IP address.
type SignatureLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	max      int
	window   time.Duration
	clock    clock.Clock
	done     chan struct{}
	stopOnce sync.Once
}

// NewSignatureLimiter creates a SignatureLimiter that allows max failures per
// window. Call Stop to end the background cleanup.
func NewSignatureLimiter(max int, window time.Duration, clk clock.Clock) *SignatureLimiter {
	if clk == nil {
		clk = clock.New()
	}
	l := &SignatureLimiter{
		failures: make(map[string][]time.Time),
		max:      max,
		window:   window,
		clock:    clk,
		done:     make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *SignatureLimiter) cleanup() {
	ticker := l.clock.Ticker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		}
		cutoff := l.clock.Now().Add(-l.window)
		l.mu.Lock()
		for ip, hits := range l.failures {
			kept := prune(hits, cutoff)
			if len(kept) == 0 {
				delete(l.failures, ip)
			} else {
				l.failures[ip] = kept
			}
		}
		l.mu.Unlock()
	}
}

// Stop ends the cleanup goroutine.
func (l *SignatureLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Check returns true if the IP has not exceeded the limit. It does not
// record anything; call Record on failure.
func (l *SignatureLimiter) Check(ip string) bool {
	cutoff := l.clock.Now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := prune(l.failures[ip], cutoff)
	if len(kept) == 0 {
		delete(l.failures, ip)
	} else {
		l.failures[ip] = kept
	}
	return len(kept) < l.max
}

// Record registers a failed signature for the given IP.
func (l *SignatureLimiter) Record(ip string) {
	l.mu.Lock()
	l.failures[ip] = append(l.failures[ip], l.clock.Now())
	l.mu.Unlock()
}

func prune(hits []time.Time, cutoff time.Time) []time.Time {
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
