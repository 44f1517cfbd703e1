package keymutex

import (
	"sync"
	"testing"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := New()
	const goroutines = 50

	counter := 0
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			km.Lock("user-1")
			defer km.Unlock("user-1")
			counter++
		}()
	}
	wg.Wait()

	if counter != goroutines {
		t.Errorf("expected %d increments, got %d", goroutines, counter)
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := New()

	km.Lock("a")
	done := make(chan struct{})
	go func() {
		// Must not block on a different key.
		km.Lock("b")
		km.Unlock("b")
		close(done)
	}()
	<-done
	km.Unlock("a")
}

func TestKeyedMutex_Reusable(t *testing.T) {
	km := New()
	for i := 0; i < 3; i++ {
		km.Lock("k")
		km.Unlock("k")
	}
}
