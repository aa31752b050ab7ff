package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyLockSerializesSameKey(t *testing.T) {
	kl := newKeyLock()
	var concurrent int32
	var maxConcurrent int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := kl.Lock("same")
			defer unlock()
			n := atomic.AddInt32(&concurrent, 1)
			for {
				cur := atomic.LoadInt32(&maxConcurrent)
				if n <= cur || atomic.CompareAndSwapInt32(&maxConcurrent, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxConcurrent)
}

func TestKeyLockDistinctKeysDontBlock(t *testing.T) {
	kl := newKeyLock()
	done := make(chan struct{})

	unlockA := kl.Lock("a")
	go func() {
		unlockB := kl.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("distinct keys should not block each other")
	}
	unlockA()
}

func TestKeyLockRemovesEntryAtZeroRefCount(t *testing.T) {
	kl := newKeyLock()
	unlock := kl.Lock("x")
	unlock()

	kl.mu.Lock()
	_, exists := kl.entries["x"]
	kl.mu.Unlock()
	require.False(t, exists)
}
