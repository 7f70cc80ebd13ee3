package runtime

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestPoolSubmitAndAwait(t *testing.T) {
	pool := NewPool(2)
	future := pool.Submit(func() (any, error) {
		return int64(21) * 2, nil
	})

	result, err := future.Await()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != int64(42) {
		t.Fatalf("got: %v, want: 42", result)
	}
}

func TestPoolPropagatesError(t *testing.T) {
	pool := NewPool(1)
	boom := errors.New("boom")
	future := pool.Submit(func() (any, error) {
		return nil, boom
	})

	if _, err := future.Await(); !errors.Is(err, boom) {
		t.Fatalf("got: %v, want: %v", err, boom)
	}
}

func TestPoolBoundedLimitsConcurrency(t *testing.T) {
	const size = 2
	pool := NewPool(size)

	var inFlight int64
	var maxSeen int64
	release := make(chan struct{})
	done := make(chan struct{})

	// Submit blocks once size tasks are in flight, so submit from a separate
	// goroutine and release the tasks once the pool is full.
	go func() {
		defer close(done)
		for i := 0; i < size*3; i++ {
			pool.Submit(func() (any, error) {
				current := atomic.AddInt64(&inFlight, 1)
				for {
					seen := atomic.LoadInt64(&maxSeen)
					if current <= seen || atomic.CompareAndSwapInt64(&maxSeen, seen, current) {
						break
					}
				}
				<-release
				atomic.AddInt64(&inFlight, -1)
				return nil, nil
			})
		}
	}()

	for atomic.LoadInt64(&inFlight) < size {
	}
	close(release)
	<-done
	pool.Wait()

	if atomic.LoadInt64(&maxSeen) > size {
		t.Fatalf("pool exceeded its bound - got: %d in flight, want at most: %d", maxSeen, size)
	}
}

func TestPoolUnboundedRunsImmediately(t *testing.T) {
	pool := NewPool(-1)
	const n = 8

	started := make(chan struct{}, n)
	release := make(chan struct{})
	for i := 0; i < n; i++ {
		pool.Submit(func() (any, error) {
			started <- struct{}{}
			<-release
			return nil, nil
		})
	}

	for i := 0; i < n; i++ {
		<-started
	}
	close(release)
	pool.Wait()
}
