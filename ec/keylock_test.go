package ec

import (
	"sync"
	"testing"
	"time"
)

func TestKeyLockSerializesSameID(t *testing.T) {
	l := newKeyLock()
	unlock := l.Lock("a")

	acquired := make(chan struct{})
	go func() {
		release := l.Lock("a")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a locked id")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the id")
	}
}

func TestKeyLockIndependentIDs(t *testing.T) {
	l := newKeyLock()
	unlockA := l.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		l.Lock("b")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("locking b waited on a")
	}
}

func TestKeyLockDropsEntries(t *testing.T) {
	l := newKeyLock()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("shared")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Errorf("expected 50 increments, got %d", counter)
	}
	if n := l.size(); n != 0 {
		t.Errorf("expected no entries left, got %d", n)
	}
}
