package concurrency

import (
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueue_FullThenRecycle(t *testing.T) {
	const n = 5
	q := NewConcurrentCircularQueue[int](n)
	for i := 0; i < n; i++ {
		require.True(t, q.TryEnqueue(i), "enqueue %d", i)
	}
	require.False(t, q.TryEnqueue(99), "queue should be full")
	require.Equal(t, n, q.Count())

	v, ok := q.TryDequeue()
	require.True(t, ok)
	require.Equal(t, 0, v)
	require.True(t, q.TryEnqueue(5), "slot must be reusable after wraparound")
	require.False(t, q.TryEnqueue(6))

	for want := 1; want <= 5; want++ {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, ok = q.TryDequeue()
	require.False(t, ok)
	require.Equal(t, 0, q.Count())
}

func TestQueue_ManyLaps(t *testing.T) {
	q := NewConcurrentCircularQueue[int](3)
	for lap := 0; lap < 100; lap++ {
		require.True(t, q.TryEnqueue(lap))
		require.True(t, q.TryEnqueue(lap+1))
		a, _ := q.TryDequeue()
		b, _ := q.TryDequeue()
		require.Equal(t, lap, a)
		require.Equal(t, lap+1, b)
	}
}

func TestQueue_CapacityOne(t *testing.T) {
	q := NewConcurrentCircularQueue[string](1)
	require.Equal(t, 1, q.Capacity())
	for lap := 0; lap < 10; lap++ {
		require.True(t, q.TryEnqueue("a"))
		require.False(t, q.TryEnqueue("b"), "second item must not overwrite the first")
		require.Equal(t, 1, q.Count())

		got, ok := q.TryDequeue()
		require.True(t, ok)
		require.Equal(t, "a", got)
		_, ok = q.TryDequeue()
		require.False(t, ok)
	}
}

func TestQueue_BlockingWrappers(t *testing.T) {
	q := NewConcurrentCircularQueue[string](1)
	q.Enqueue("a")
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		q.Enqueue("b")
		close(done)
	}()
	<-started
	select {
	case <-done:
		t.Fatal("writer must block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}
	require.Equal(t, 1, q.Count())
	require.Equal(t, "a", q.Dequeue())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked writer never completed")
	}
	require.Equal(t, "b", q.Dequeue())
}

func TestQueue_ZeroCapacityPanics(t *testing.T) {
	require.Panics(t, func() { NewConcurrentCircularQueue[int](0) })
}

// TestQueue_CountInvariant performs random operations and checks the size model.
func TestQueue_CountInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	q := NewConcurrentCircularQueue[int](37)
	size := 0
	for i := 0; i < 5000; i++ {
		if rng.Intn(2) == 0 {
			if q.TryEnqueue(i) {
				size++
			}
		} else if _, ok := q.TryDequeue(); ok {
			size--
		}
		require.Equal(t, size, q.Count())
		require.LessOrEqual(t, q.Count(), q.Capacity())
	}
}

func TestQueue_MPMC(t *testing.T) {
	q := NewConcurrentCircularQueue[int](1000)
	producers := 8
	consumers := 8
	itemsPerProducer := 10000

	var wg sync.WaitGroup
	var sentSum int64
	var receivedSum int64
	var receivedCount int64
	totalItems := int64(producers * itemsPerProducer)

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				val := pid*itemsPerProducer + i + 1
				for !q.TryEnqueue(val) {
					runtime.Gosched()
				}
				atomic.AddInt64(&sentSum, int64(val))
			}
		}(p)
	}

	consumerWg := sync.WaitGroup{}
	for c := 0; c < consumers; c++ {
		consumerWg.Add(1)
		go func() {
			defer consumerWg.Done()
			for {
				if val, ok := q.TryDequeue(); ok {
					atomic.AddInt64(&receivedSum, int64(val))
					if atomic.AddInt64(&receivedCount, 1) == totalItems {
						return
					}
				} else {
					if atomic.LoadInt64(&receivedCount) >= totalItems {
						return
					}
					runtime.Gosched()
				}
			}
		}()
	}

	wg.Wait()

	done := make(chan struct{})
	go func() {
		consumerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		require.Equal(t, sentSum, receivedSum, "checksum mismatch")
	case <-time.After(10 * time.Second):
		t.Fatalf("timeout waiting for consumers, received %d/%d", atomic.LoadInt64(&receivedCount), totalItems)
	}
}
