package locking

import (
	"sync"
	"testing"
)

func TestLockSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	const iterations = 1000
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				unlock := km.Lock("customer-1")
				counter++
				unlock()
			}
		}()
	}
	wg.Wait()

	if counter != 8*iterations {
		t.Fatalf("counter = %d, want %d", counter, 8*iterations)
	}
}

func TestLockIndependentKeysDoNotBlock(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("customer-a")
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("customer-b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}

func TestLockEntriesAreReleased(t *testing.T) {
	km := NewKeyedMutex()
	for i := 0; i < 100; i++ {
		unlock := km.Lock("customer-1")
		unlock()
	}
	km.mu.Lock()
	defer km.mu.Unlock()
	if len(km.locks) != 0 {
		t.Fatalf("lock table holds %d stale entries", len(km.locks))
	}
}
