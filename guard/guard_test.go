package guard

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestGuard_TryAcquireRelease(t *testing.T) {
	g := New()

	if !g.TryAcquire("1.2.3") {
		t.Fatal("TryAcquire on a free key should succeed")
	}
	if g.TryAcquire("1.2.3") {
		t.Error("TryAcquire on a held key should fail")
	}
	if !g.IsProcessing("1.2.3") {
		t.Error("IsProcessing should report the held key")
	}

	// Other keys are independent
	if !g.TryAcquire("4.5.6") {
		t.Error("TryAcquire on an unrelated key should succeed")
	}

	g.Release("1.2.3")
	if g.IsProcessing("1.2.3") {
		t.Error("IsProcessing should report false after Release")
	}
	if !g.TryAcquire("1.2.3") {
		t.Error("TryAcquire should succeed after Release")
	}
}

func TestGuard_ReleaseUnheldKey(t *testing.T) {
	g := New()
	// Must not panic or affect other keys
	g.Release("never-acquired")

	if g.IsProcessing("never-acquired") {
		t.Error("Unheld key reported as processing")
	}
}

func TestGuard_ConcurrentAcquire(t *testing.T) {
	g := New()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire("1.2.3") {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("TryAcquire won %d times concurrently, want exactly 1", wins)
	}
}
