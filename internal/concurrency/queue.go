// File: internal/concurrency/queue.go
// Package concurrency provides the bounded lock-free queue backing every pool.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ConcurrentCircularQueue is a bounded MPMC ring. Every slot carries a turn
// counter: a writer claiming position p needs turn == p and publishes p+1,
// a reader claiming p needs turn == p+1 and publishes p+N for the next lap.
// The ring keeps at least two physical slots: with one, "written" and
// "writable next lap" would share the same turn value.

package concurrency

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/momentics/hioload-rudp/api"
)

var _ api.Ring[any] = (*ConcurrentCircularQueue[any])(nil)

type slot[T any] struct {
	turn atomic.Uint64
	data T
}

// ConcurrentCircularQueue is a fixed-capacity queue safe for concurrent
// producers and consumers. Capacity is exact; it is not rounded.
type ConcurrentCircularQueue[T any] struct {
	head  atomic.Uint64
	_     cpu.CacheLinePad
	tail  atomic.Uint64
	_     cpu.CacheLinePad
	size  uint64 // physical slots
	limit uint64 // logical capacity
	slots []slot[T]
}

// NewConcurrentCircularQueue creates a queue holding at most capacity items.
func NewConcurrentCircularQueue[T any](capacity int) *ConcurrentCircularQueue[T] {
	if capacity < 1 {
		panic(api.NewMemoryError(api.ErrNegativeCapacity, "ConcurrentCircularQueue"))
	}
	physical := max(capacity, 2)
	q := &ConcurrentCircularQueue[T]{
		size:  uint64(physical),
		limit: uint64(capacity),
		slots: make([]slot[T], physical),
	}
	for i := range q.slots {
		q.slots[i].turn.Store(uint64(i))
	}
	return q
}

// TryEnqueue adds val; returns false if the queue is full.
func (q *ConcurrentCircularQueue[T]) TryEnqueue(val T) bool {
	for {
		tail := q.tail.Load()
		if tail-q.head.Load() >= q.limit {
			return false
		}
		s := &q.slots[tail%q.size]
		dif := int64(s.turn.Load()) - int64(tail)

		switch {
		case dif == 0:
			if q.tail.CompareAndSwap(tail, tail+1) {
				s.data = val
				s.turn.Store(tail + 1)
				return true
			}
		case dif < 0:
			return false
		}
		// another writer claimed tail, retry
	}
}

// TryDequeue removes the oldest item; ok is false if the queue is empty.
func (q *ConcurrentCircularQueue[T]) TryDequeue() (item T, ok bool) {
	for {
		head := q.head.Load()
		s := &q.slots[head%q.size]
		dif := int64(s.turn.Load()) - int64(head+1)

		switch {
		case dif == 0:
			if q.head.CompareAndSwap(head, head+1) {
				item = s.data
				var zero T
				s.data = zero
				s.turn.Store(head + q.size)
				return item, true
			}
		case dif < 0:
			return item, false
		}
	}
}

// Enqueue spins until val is stored.
func (q *ConcurrentCircularQueue[T]) Enqueue(val T) {
	for !q.TryEnqueue(val) {
		runtime.Gosched()
	}
}

// Dequeue spins until an item is available.
func (q *ConcurrentCircularQueue[T]) Dequeue() T {
	for {
		if item, ok := q.TryDequeue(); ok {
			return item
		}
		runtime.Gosched()
	}
}

// Count returns the number of claimed positions (writeHead - readHead).
func (q *ConcurrentCircularQueue[T]) Count() int {
	head := q.head.Load()
	tail := q.tail.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Capacity returns the fixed capacity.
func (q *ConcurrentCircularQueue[T]) Capacity() int {
	return int(q.limit)
}
