// File: pool/heap_memory.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HeapMemory is a pooled byte buffer with a virtual window that may be
// smaller than its physical capacity.

package pool

import (
	"sync/atomic"

	"github.com/momentics/hioload-rudp/api"
)

// HeapMemory is owned by exactly one component between AllocHeapMemory and
// DeAllocHeapMemory. Any access after deallocation panics.
type HeapMemory struct {
	buffer        []byte
	virtualOffset int
	virtualCount  int
	dead          atomic.Bool
	releasedToGC  bool
	allocStack    string
}

func (m *HeapMemory) ensureAlive() {
	if m.dead.Load() {
		panic(api.NewMemoryError(api.ErrMemoryDead, "HeapMemory"))
	}
}

// Buffer returns the whole physical buffer.
func (m *HeapMemory) Buffer() []byte {
	m.ensureAlive()
	return m.buffer
}

// Bytes returns the virtual window.
func (m *HeapMemory) Bytes() []byte {
	m.ensureAlive()
	return m.buffer[m.virtualOffset : m.virtualOffset+m.virtualCount]
}

// VirtualOffset returns the start of the virtual window.
func (m *HeapMemory) VirtualOffset() int {
	m.ensureAlive()
	return m.virtualOffset
}

// VirtualCount returns the length of the virtual window.
func (m *HeapMemory) VirtualCount() int {
	m.ensureAlive()
	return m.virtualCount
}

// SetVirtual moves the virtual window, growing the buffer if needed.
func (m *HeapMemory) SetVirtual(offset, count int) {
	m.ensureAlive()
	if offset < 0 || count < 0 {
		panic(api.NewMemoryError(api.ErrNegativeCapacity, "HeapMemory"))
	}
	m.grow(offset + count)
	m.virtualOffset = offset
	m.virtualCount = count
}

// Capacity returns the physical size.
func (m *HeapMemory) Capacity() int {
	return len(m.buffer)
}

// EnsureSize grows the physical buffer to at least size, keeping its
// contents. It never shrinks.
func (m *HeapMemory) EnsureSize(size int) {
	m.ensureAlive()
	m.grow(size)
}

func (m *HeapMemory) grow(size int) {
	if size <= len(m.buffer) {
		return
	}
	grown := make([]byte, size)
	copy(grown, m.buffer)
	m.buffer = grown
}

// IsDead reports whether the memory has been deallocated.
func (m *HeapMemory) IsDead() bool {
	return m.dead.Load()
}

// ReleasedToGC reports whether the memory was dropped instead of pooled.
func (m *HeapMemory) ReleasedToGC() bool {
	return m.releasedToGC
}

// HeapPointers is a pooled array of opaque references, used to hand a batch
// of messages out of one channel call.
type HeapPointers struct {
	pointers      []any
	virtualOffset int
	virtualCount  int
	dead          atomic.Bool
	releasedToGC  bool
	allocStack    string
}

func (p *HeapPointers) ensureAlive() {
	if p.dead.Load() {
		panic(api.NewMemoryError(api.ErrMemoryDead, "HeapPointers"))
	}
}

// Pointers returns the whole physical array.
func (p *HeapPointers) Pointers() []any {
	p.ensureAlive()
	return p.pointers
}

// Items returns the virtual window.
func (p *HeapPointers) Items() []any {
	p.ensureAlive()
	return p.pointers[p.virtualOffset : p.virtualOffset+p.virtualCount]
}

// VirtualOffset returns the start of the virtual window.
func (p *HeapPointers) VirtualOffset() int {
	p.ensureAlive()
	return p.virtualOffset
}

// VirtualCount returns the length of the virtual window.
func (p *HeapPointers) VirtualCount() int {
	p.ensureAlive()
	return p.virtualCount
}

// SetVirtual moves the virtual window, growing the array if needed.
func (p *HeapPointers) SetVirtual(offset, count int) {
	p.ensureAlive()
	if offset < 0 || count < 0 {
		panic(api.NewMemoryError(api.ErrNegativeCapacity, "HeapPointers"))
	}
	p.grow(offset + count)
	p.virtualOffset = offset
	p.virtualCount = count
}

// EnsureSize grows the physical array to at least size.
func (p *HeapPointers) EnsureSize(size int) {
	p.ensureAlive()
	p.grow(size)
}

func (p *HeapPointers) grow(size int) {
	if size <= len(p.pointers) {
		return
	}
	grown := make([]any, size)
	copy(grown, p.pointers)
	p.pointers = grown
}

// Capacity returns the physical size.
func (p *HeapPointers) Capacity() int {
	return len(p.pointers)
}

// IsDead reports whether the array has been deallocated.
func (p *HeapPointers) IsDead() bool {
	return p.dead.Load()
}

// ReleasedToGC reports whether the array was dropped instead of pooled.
func (p *HeapPointers) ReleasedToGC() bool {
	return p.releasedToGC
}
