package core

import (
	"fmt"
	"sync"
)

// Limiter enforces a maximum number of model calls per invocation, bounding
// plan/act cycles that would otherwise run away.
type Limiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewLimiter creates a limiter allowing max calls; max == 0 means unlimited.
func NewLimiter(max int) *Limiter {
	return &Limiter{max: max}
}

// Increment counts one call and errors once the limit is exceeded.
func (l *Limiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count++
	if l.max > 0 && l.count > l.max {
		return fmt.Errorf("exceeded max model calls: %d", l.max)
	}
	return nil
}

// Count returns the number of calls made so far.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Remaining returns how many calls are left, -1 when unlimited.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.max == 0 {
		return -1
	}
	return l.max - l.count
}
