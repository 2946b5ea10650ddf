// Package api
// Author: momentics@gmail.com
//
// Bounded lock-free ring used to hand pooled objects between goroutines.

package api

// Ring is a bounded, non-blocking multi-producer/multi-consumer queue.
type Ring[T any] interface {
	// TryEnqueue adds an item, returns false if full.
	TryEnqueue(item T) bool
	// TryDequeue removes the oldest item, returns false if empty.
	TryDequeue() (T, bool)
	// Count returns the current number of items.
	Count() int
	// Capacity returns the fixed capacity.
	Capacity() int
}
