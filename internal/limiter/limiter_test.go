package limiter

import (
	"sync"
	"testing"
)

func TestTryAcquireHonorsLimit(t *testing.T) {
	l := New(2)

	if !l.TryAcquire() {
		t.Fatal("first acquire failed")
	}
	if !l.TryAcquire() {
		t.Fatal("second acquire failed")
	}
	if l.TryAcquire() {
		t.Fatal("third acquire succeeded beyond limit 2")
	}

	l.Release()
	if !l.TryAcquire() {
		t.Fatal("acquire after release failed")
	}
}

func TestExactlyNConcurrentAcquiresSucceed(t *testing.T) {
	const limit = 4
	const attempts = 100
	l := New(limit)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != limit {
		t.Errorf("succeeded = %d, want %d", succeeded, limit)
	}
	if l.Running() != limit {
		t.Errorf("running = %d, want %d", l.Running(), limit)
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	l := New(1)
	l.Release()
	l.Release()

	if l.Running() != 0 {
		t.Errorf("running = %d, want 0", l.Running())
	}
	if !l.TryAcquire() {
		t.Error("acquire failed after spurious releases")
	}
	if l.TryAcquire() {
		t.Error("limit 1 allowed two holders after spurious releases")
	}
}

func TestLimitCoercedToAtLeastOne(t *testing.T) {
	l := New(0)
	if l.Limit() != 1 {
		t.Errorf("limit = %d, want 1", l.Limit())
	}
	if !l.TryAcquire() {
		t.Error("acquire failed with coerced limit")
	}
}
