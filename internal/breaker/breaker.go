// SPDX-License-Identifier: Apache-2.0

package breaker

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultThreshold = 3
	DefaultCoolDown  = 30 * time.Second
)

// CircuitBreaker keeps failure state per tool name. A tool is skipped while
// it has at least threshold consecutive failures and the last one happened
// less than coolDown ago. Once coolDown has elapsed the next attempt is let
// through; a failure restarts the clock and a success clears the count.
type CircuitBreaker struct {
	threshold int
	coolDown  time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu                  sync.Mutex
	consecutiveFailures int
	lastFailure         time.Time
}

// State is a point-in-time copy of one tool's breaker.
type State struct {
	Tool                string    `json:"tool"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitzero"`
	Open                bool      `json:"open"`
}

type Option func(*CircuitBreaker)

func WithThreshold(n int) Option {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.threshold = n
		}
	}
}

func WithCoolDown(d time.Duration) Option {
	return func(cb *CircuitBreaker) {
		if d > 0 {
			cb.coolDown = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

func New(opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		threshold: DefaultThreshold,
		coolDown:  DefaultCoolDown,
		now:       time.Now,
		entries:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

func (cb *CircuitBreaker) Threshold() int          { return cb.threshold }
func (cb *CircuitBreaker) CoolDown() time.Duration { return cb.coolDown }

func (cb *CircuitBreaker) entry(tool string) *entry {
	cb.mu.RLock()
	e, ok := cb.entries[tool]
	cb.mu.RUnlock()
	if ok {
		return e
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if e, ok = cb.entries[tool]; ok {
		return e
	}
	e = &entry{}
	cb.entries[tool] = e
	return e
}

// Permits reports whether the tool may be attempted.
func (cb *CircuitBreaker) Permits(tool string) bool {
	e := cb.entry(tool)
	e.mu.Lock()
	defer e.mu.Unlock()
	return !cb.open(e, cb.now())
}

func (cb *CircuitBreaker) open(e *entry, now time.Time) bool {
	if e.consecutiveFailures < cb.threshold {
		return false
	}
	return now.Sub(e.lastFailure) < cb.coolDown
}

// RecordFailure counts one failed attempt and reports whether the breaker is
// open afterwards.
func (cb *CircuitBreaker) RecordFailure(tool string) bool {
	e := cb.entry(tool)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := cb.now()
	e.consecutiveFailures++
	e.lastFailure = now
	return cb.open(e, now)
}

func (cb *CircuitBreaker) RecordSuccess(tool string) {
	e := cb.entry(tool)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consecutiveFailures = 0
	e.lastFailure = time.Time{}
}

// Failures returns the current consecutive failure count for tool.
func (cb *CircuitBreaker) Failures(tool string) int {
	e := cb.entry(tool)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecutiveFailures
}

// Snapshot returns the state of every tool seen so far, sorted by name.
func (cb *CircuitBreaker) Snapshot() []State {
	cb.mu.RLock()
	names := make([]string, 0, len(cb.entries))
	for name := range cb.entries {
		names = append(names, name)
	}
	cb.mu.RUnlock()
	sort.Strings(names)

	now := cb.now()
	out := make([]State, 0, len(names))
	for _, name := range names {
		e := cb.entry(name)
		e.mu.Lock()
		out = append(out, State{
			Tool:                name,
			ConsecutiveFailures: e.consecutiveFailures,
			LastFailure:         e.lastFailure,
			Open:                cb.open(e, now),
		})
		e.mu.Unlock()
	}
	return out
}
