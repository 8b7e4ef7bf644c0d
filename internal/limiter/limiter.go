package limiter

import "sync"

// Limiter bounds the number of jobs running at once. TryAcquire never
// blocks or queues; a rejected submission is surfaced to the client as a
// busy condition and it is on the client to resubmit.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	running int
}

// New creates a limiter allowing up to limit concurrent jobs. A limit
// below one is coerced to one.
func New(limit int) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{limit: limit}
}

// TryAcquire reserves a slot if one is free. Every successful call must be
// paired with exactly one Release.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running >= l.limit {
		return false
	}
	l.running++
	return true
}

// Release frees a slot taken by TryAcquire. Extra calls are ignored
// rather than driving the count negative.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running > 0 {
		l.running--
	}
}

// Running returns the number of currently held slots.
func (l *Limiter) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Limit returns the configured ceiling.
func (l *Limiter) Limit() int {
	return l.limit
}
