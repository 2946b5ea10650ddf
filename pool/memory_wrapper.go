// File: pool/memory_wrapper.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync/atomic"

	"github.com/momentics/hioload-rudp/api"
)

// MemoryWrapper holds either an owned HeapMemory or a borrowed segment of a
// receive buffer. Borrowed segments are only valid until the receive buffer
// is reused, so the consumer copies them before that.
type MemoryWrapper struct {
	allocated    *HeapMemory
	direct       []byte
	hasDirect    bool
	dead         atomic.Bool
	releasedToGC bool
	allocStack   string
}

func (w *MemoryWrapper) ensureAlive() {
	if w.dead.Load() {
		panic(api.NewMemoryError(api.ErrMemoryDead, "MemoryWrapper"))
	}
}

// AllocatedMemory returns the owned memory, or nil for a direct wrapper.
func (w *MemoryWrapper) AllocatedMemory() *HeapMemory {
	w.ensureAlive()
	return w.allocated
}

// DirectMemory returns the borrowed segment, or nil for an allocated wrapper.
func (w *MemoryWrapper) DirectMemory() []byte {
	w.ensureAlive()
	return w.direct
}

// HasAllocated reports whether the wrapper owns a HeapMemory.
func (w *MemoryWrapper) HasAllocated() bool {
	w.ensureAlive()
	return w.allocated != nil
}

// HasDirect reports whether the wrapper borrows a segment.
func (w *MemoryWrapper) HasDirect() bool {
	w.ensureAlive()
	return w.hasDirect
}

// SetAllocatedMemory makes the wrapper own mem.
func (w *MemoryWrapper) SetAllocatedMemory(mem *HeapMemory) {
	w.ensureAlive()
	w.allocated = mem
	w.direct = nil
	w.hasDirect = false
}

// SetDirectMemory makes the wrapper borrow segment.
func (w *MemoryWrapper) SetDirectMemory(segment []byte) {
	w.ensureAlive()
	w.allocated = nil
	w.direct = segment
	w.hasDirect = true
}

// IsDead reports whether the wrapper has been deallocated.
func (w *MemoryWrapper) IsDead() bool {
	return w.dead.Load()
}

// ReleasedToGC reports whether the wrapper was dropped instead of pooled.
func (w *MemoryWrapper) ReleasedToGC() bool {
	return w.releasedToGC
}
