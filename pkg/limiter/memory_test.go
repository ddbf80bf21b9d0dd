package limiter

import (
	"context"
	"sync"
	"testing"
	"time"
)

// mustAcquire takes n bytes that are known to be available.
func mustAcquire(t *testing.T, ml *Memory, n int64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if got, err := ml.Acquire(ctx, n); err != nil || got != n {
		t.Fatalf("Expected to acquire %d, got %d (%v)", n, got, err)
	}
}

func TestMemoryLimiter_Basics(t *testing.T) {
	limit := int64(100)
	ml := NewMemory(limit)

	// 1. Acquire valid amount
	mustAcquire(t, ml, 60)
	if got := ml.Available(); got != 40 {
		t.Errorf("Expected 40 available, got %d", got)
	}
	if got := ml.Capacity(); got != limit {
		t.Errorf("Expected capacity %d, got %d", limit, got)
	}

	// 2. Release and re-acquire
	ml.Release(60)
	if got := ml.Available(); got != 100 {
		t.Errorf("Expected 100 available after release, got %d", got)
	}
	mustAcquire(t, ml, 50)
}

func TestMemoryLimiter_ReleaseSanity(t *testing.T) {
	limit := int64(100)
	ml := NewMemory(limit)

	mustAcquire(t, ml, 50)

	// Accidental double release or logic bug in caller
	ml.Release(50)
	ml.Release(50)

	if got := ml.Available(); got != 100 {
		t.Errorf("Expected available to be capped at 100, got %d", got)
	}
}

func TestMemoryLimiter_AcquireBlocks(t *testing.T) {
	ml := NewMemory(100)
	mustAcquire(t, ml, 80)

	acquired := make(chan int64, 1)
	go func() {
		n, err := ml.Acquire(context.Background(), 50)
		if err != nil {
			t.Errorf("Acquire failed: %v", err)
		}
		acquired <- n
	}()

	select {
	case <-acquired:
		t.Fatal("Acquire returned while the budget was exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	ml.Release(80)
	select {
	case n := <-acquired:
		if n != 50 {
			t.Errorf("Expected 50 granted, got %d", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Acquire did not wake up after Release")
	}
}

func TestMemoryLimiter_AcquireClampsOversized(t *testing.T) {
	ml := NewMemory(100)
	n, err := ml.Acquire(context.Background(), 500)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if n != 100 || ml.Available() != 0 {
		t.Errorf("Expected the whole capacity to be granted, got %d (available %d)", n, ml.Available())
	}
	ml.Release(n)
	if got := ml.Available(); got != 100 {
		t.Errorf("Expected 100 available after release, got %d", got)
	}
}

func TestMemoryLimiter_AcquireCancelled(t *testing.T) {
	ml := NewMemory(100)
	mustAcquire(t, ml, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := ml.Acquire(ctx, 10); err != context.DeadlineExceeded {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
	if got := ml.Available(); got != 0 {
		t.Errorf("A cancelled Acquire must not take budget, got %d available", got)
	}
}

func TestMemoryLimiter_Concurrency(t *testing.T) {
	totalCapacity := int64(1000)
	ml := NewMemory(totalCapacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	inUse, peak := int64(0), int64(0)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := ml.Acquire(context.Background(), 300)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			inUse += n
			peak = max(peak, inUse)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inUse -= n
			mu.Unlock()
			ml.Release(n)
		}()
	}
	wg.Wait()

	if got := ml.Available(); got != totalCapacity {
		t.Errorf("Expected full capacity %d after concurrent usage, got %d", totalCapacity, got)
	}
	if peak > totalCapacity {
		t.Errorf("Budget exceeded: peak %d > %d", peak, totalCapacity)
	}
}
