// File: pool/manager.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// MemoryManager recycles HeapMemory, HeapPointers and MemoryWrapper objects
// through three lock-free rings. Once warm, steady-state traffic allocates
// nothing on the Go heap.

package pool

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-rudp/api"
	"github.com/momentics/hioload-rudp/config"
	"github.com/momentics/hioload-rudp/internal/concurrency"
)

const (
	minHeapMemorySize        = 64
	heapMemorySizeMultiple   = 64
	minPointerArraySize      = 64
	pointerArraySizeMultiple = 64

	// leakWarningThreshold is the number of fresh objects of one kind after
	// which a missing DeAlloc is suspected.
	leakWarningThreshold = 1024
)

// Kind names used in logs and stats.
const (
	KindHeapMemory    = "heap_memory"
	KindHeapPointers  = "heap_pointers"
	KindMemoryWrapper = "memory_wrapper"
)

// KindStats aggregates the counters of one object kind.
type KindStats struct {
	Created int64 `cbor:"created"`
	Pooled  int64 `cbor:"pooled"`
	Live    int64 `cbor:"live"`
}

// Stats exposes accounting for all three kinds.
type Stats struct {
	HeapMemory     KindStats `cbor:"heap_memory"`
	HeapPointers   KindStats `cbor:"heap_pointers"`
	MemoryWrappers KindStats `cbor:"memory_wrappers"`
}

// Leak describes an object that was still alive when it was inspected.
type Leak struct {
	Kind  string
	Stack string
}

type kindCounters struct {
	created atomic.Int64
	live    atomic.Int64
	warned  atomic.Bool
}

// MemoryManager is safe for concurrent use.
type MemoryManager struct {
	log *zap.Logger

	heapMemory   *concurrency.ConcurrentCircularQueue[*HeapMemory]
	heapPointers *concurrency.ConcurrentCircularQueue[*HeapPointers]
	wrappers     *concurrency.ConcurrentCircularQueue[*MemoryWrapper]

	memoryStats   kindCounters
	pointersStats kindCounters
	wrapperStats  kindCounters

	trackAllocations bool
	registry         sync.Map // live object -> Leak
}

// NewMemoryManager builds pools sized from cfg. A pool size of zero
// disables pooling for that kind.
func NewMemoryManager(cfg *config.SocketConfig, log *zap.Logger) *MemoryManager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &MemoryManager{
		log:              log.Named("memory"),
		trackAllocations: cfg.MemoryLeakDetection,
	}
	if cfg.HeapMemoryPoolSize > 0 {
		m.heapMemory = concurrency.NewConcurrentCircularQueue[*HeapMemory](cfg.HeapMemoryPoolSize)
	}
	if cfg.HeapPointersPoolSize > 0 {
		m.heapPointers = concurrency.NewConcurrentCircularQueue[*HeapPointers](cfg.HeapPointersPoolSize)
	}
	if cfg.MemoryWrapperPoolSize > 0 {
		m.wrappers = concurrency.NewConcurrentCircularQueue[*MemoryWrapper](cfg.MemoryWrapperPoolSize)
	}
	return m
}

// roundSize rounds size up to a multiple of multiple, never below minimum.
func roundSize(size, minimum, multiple int) int {
	if size <= minimum {
		return minimum
	}
	return ((size + multiple - 1) / multiple) * multiple
}

func tryDequeue[T any](q *concurrency.ConcurrentCircularQueue[T]) (T, bool) {
	if q == nil {
		var zero T
		return zero, false
	}
	return q.TryDequeue()
}

func tryEnqueue[T any](q *concurrency.ConcurrentCircularQueue[T], v T) bool {
	return q != nil && q.TryEnqueue(v)
}

func (m *MemoryManager) created(kind string, c *kindCounters) {
	if c.created.Add(1) > leakWarningThreshold && c.warned.CompareAndSwap(false, true) {
		m.log.Warn("memory leak suspected: pooled objects are created but not returned",
			zap.String("kind", kind),
			zap.Int64("created", c.created.Load()),
			zap.Int("threshold", leakWarningThreshold))
	}
}

func (m *MemoryManager) track(obj any, kind string) string {
	if !m.trackAllocations {
		return ""
	}
	stack := string(debug.Stack())
	m.registry.Store(obj, Leak{Kind: kind, Stack: stack})
	return stack
}

func (m *MemoryManager) untrack(obj any) {
	if m.trackAllocations {
		m.registry.Delete(obj)
	}
}

// AllocHeapMemory returns live memory whose virtual window is [0, size).
func (m *MemoryManager) AllocHeapMemory(size int) *HeapMemory {
	if size < 0 {
		panic(api.NewMemoryError(api.ErrNegativeCapacity, "HeapMemory"))
	}
	physical := roundSize(size, minHeapMemorySize, heapMemorySizeMultiple)
	mem, ok := tryDequeue(m.heapMemory)
	if ok {
		clear(mem.buffer)
		mem.grow(physical)
	} else {
		mem = &HeapMemory{buffer: make([]byte, physical)}
		m.created(KindHeapMemory, &m.memoryStats)
	}
	mem.releasedToGC = false
	mem.virtualOffset = 0
	mem.virtualCount = size
	mem.allocStack = m.track(mem, KindHeapMemory)
	mem.dead.Store(false)
	m.memoryStats.live.Add(1)
	return mem
}

// DeAllocHeapMemory returns mem to its pool. A second call panics.
func (m *MemoryManager) DeAllocHeapMemory(mem *HeapMemory) {
	if !mem.dead.CompareAndSwap(false, true) {
		panic(api.NewMemoryError(api.ErrDoubleDeAlloc, "HeapMemory"))
	}
	mem.virtualOffset = 0
	mem.virtualCount = 0
	mem.allocStack = ""
	m.untrack(mem)
	m.memoryStats.live.Add(-1)
	if !tryEnqueue(m.heapMemory, mem) {
		mem.releasedToGC = true
	}
}

// AllocHeapPointers returns a live pointer array whose virtual window is [0, size).
func (m *MemoryManager) AllocHeapPointers(size int) *HeapPointers {
	if size < 0 {
		panic(api.NewMemoryError(api.ErrNegativeCapacity, "HeapPointers"))
	}
	physical := roundSize(size, minPointerArraySize, pointerArraySizeMultiple)
	ptrs, ok := tryDequeue(m.heapPointers)
	if ok {
		clear(ptrs.pointers)
		ptrs.grow(physical)
	} else {
		ptrs = &HeapPointers{pointers: make([]any, physical)}
		m.created(KindHeapPointers, &m.pointersStats)
	}
	ptrs.releasedToGC = false
	ptrs.virtualOffset = 0
	ptrs.virtualCount = size
	ptrs.allocStack = m.track(ptrs, KindHeapPointers)
	ptrs.dead.Store(false)
	m.pointersStats.live.Add(1)
	return ptrs
}

// DeAllocHeapPointers returns ptrs to its pool. The referenced objects are
// not touched. A second call panics.
func (m *MemoryManager) DeAllocHeapPointers(ptrs *HeapPointers) {
	if !ptrs.dead.CompareAndSwap(false, true) {
		panic(api.NewMemoryError(api.ErrDoubleDeAlloc, "HeapPointers"))
	}
	clear(ptrs.pointers)
	ptrs.virtualOffset = 0
	ptrs.virtualCount = 0
	ptrs.allocStack = ""
	m.untrack(ptrs)
	m.pointersStats.live.Add(-1)
	if !tryEnqueue(m.heapPointers, ptrs) {
		ptrs.releasedToGC = true
	}
}

func (m *MemoryManager) allocWrapper() *MemoryWrapper {
	w, ok := tryDequeue(m.wrappers)
	if !ok {
		w = &MemoryWrapper{}
		m.created(KindMemoryWrapper, &m.wrapperStats)
	}
	w.releasedToGC = false
	w.allocStack = m.track(w, KindMemoryWrapper)
	w.dead.Store(false)
	m.wrapperStats.live.Add(1)
	return w
}

// AllocMemoryWrapper wraps memory owned by the caller.
func (m *MemoryManager) AllocMemoryWrapper(mem *HeapMemory) *MemoryWrapper {
	w := m.allocWrapper()
	w.SetAllocatedMemory(mem)
	return w
}

// AllocDirectMemoryWrapper wraps a borrowed segment.
func (m *MemoryManager) AllocDirectMemoryWrapper(segment []byte) *MemoryWrapper {
	w := m.allocWrapper()
	w.SetDirectMemory(segment)
	return w
}

// DeAllocMemoryWrapper returns w to its pool. Owned memory is not
// deallocated; the caller has taken it over. A second call panics.
func (m *MemoryManager) DeAllocMemoryWrapper(w *MemoryWrapper) {
	if !w.dead.CompareAndSwap(false, true) {
		panic(api.NewMemoryError(api.ErrDoubleDeAlloc, "MemoryWrapper"))
	}
	w.allocated = nil
	w.direct = nil
	w.hasDirect = false
	w.allocStack = ""
	m.untrack(w)
	m.wrapperStats.live.Add(-1)
	if !tryEnqueue(m.wrappers, w) {
		w.releasedToGC = true
	}
}

// Leaks lists objects allocated but not yet deallocated. It is empty unless
// MemoryLeakDetection is enabled.
func (m *MemoryManager) Leaks() []Leak {
	var out []Leak
	m.registry.Range(func(_, v any) bool {
		out = append(out, v.(Leak))
		return true
	})
	return out
}

// Release drains every pool and hands the pooled objects to the garbage
// collector. Live objects are reported when leak detection is on.
func (m *MemoryManager) Release() {
	for {
		mem, ok := tryDequeue(m.heapMemory)
		if !ok {
			break
		}
		mem.releasedToGC = true
	}
	for {
		ptrs, ok := tryDequeue(m.heapPointers)
		if !ok {
			break
		}
		ptrs.releasedToGC = true
	}
	for {
		w, ok := tryDequeue(m.wrappers)
		if !ok {
			break
		}
		w.releasedToGC = true
	}
	for _, leak := range m.Leaks() {
		m.log.Warn("pooled object was never deallocated",
			zap.String("kind", leak.Kind),
			zap.String("alloc_stack", leak.Stack))
	}
}

// Stats returns current counters.
func (m *MemoryManager) Stats() Stats {
	s := Stats{
		HeapMemory:     KindStats{Created: m.memoryStats.created.Load(), Live: m.memoryStats.live.Load()},
		HeapPointers:   KindStats{Created: m.pointersStats.created.Load(), Live: m.pointersStats.live.Load()},
		MemoryWrappers: KindStats{Created: m.wrapperStats.created.Load(), Live: m.wrapperStats.live.Load()},
	}
	if m.heapMemory != nil {
		s.HeapMemory.Pooled = int64(m.heapMemory.Count())
	}
	if m.heapPointers != nil {
		s.HeapPointers.Pooled = int64(m.heapPointers.Count())
	}
	if m.wrappers != nil {
		s.MemoryWrappers.Pooled = int64(m.wrappers.Count())
	}
	return s
}
