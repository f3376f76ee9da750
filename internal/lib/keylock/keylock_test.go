package keylock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocks_SerializesSameKey(t *testing.T) {
	locks := New()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("1:product:p-1")
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, locks.held())
}

func TestLocks_DifferentKeysDoNotBlock(t *testing.T) {
	locks := New()

	unlockA := locks.Lock("1:product:a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("1:product:b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestLocks_UnlockIsIdempotent(t *testing.T) {
	locks := New()

	unlock := locks.Lock("k")
	unlock()
	unlock()

	assert.Equal(t, 0, locks.held())

	again := locks.Lock("k")
	again()
}
