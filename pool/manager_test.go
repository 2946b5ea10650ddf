package pool_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/hioload-rudp/api"
	"github.com/momentics/hioload-rudp/config"
	"github.com/momentics/hioload-rudp/pool"
)

func newManager(t *testing.T, mutate func(*config.SocketConfig)) (*pool.MemoryManager, *observer.ObservedLogs) {
	t.Helper()
	cfg := config.DefaultSocketConfig()
	if mutate != nil {
		mutate(cfg)
	}
	core, logs := observer.New(zapcore.WarnLevel)
	return pool.NewMemoryManager(cfg, zap.New(core)), logs
}

// requireMemoryPanic asserts fn panics with a lifecycle fault of kind.
func requireMemoryPanic(t *testing.T, kind error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		var memErr *api.MemoryError
		require.True(t, errors.As(err, &memErr))
		require.Equal(t, api.ErrCodeMemory, memErr.Code)
		require.ErrorIs(t, err, kind)
	}()
	fn()
}

func TestAllocReusesPooledMemory(t *testing.T) {
	mm, _ := newManager(t, nil)
	first := mm.AllocHeapMemory(100)
	require.Equal(t, 100, first.VirtualCount())
	require.Equal(t, 128, first.Capacity(), "size rounds up to the next multiple")
	mm.DeAllocHeapMemory(first)

	created := mm.Stats().HeapMemory.Created
	second := mm.AllocHeapMemory(100)
	require.Equal(t, created, mm.Stats().HeapMemory.Created, "second allocation must come from the pool")
	require.Same(t, first, second)
	require.False(t, second.IsDead())
}

func TestRecycledMemoryIsZeroedAndGrown(t *testing.T) {
	mm, _ := newManager(t, nil)
	mem := mm.AllocHeapMemory(10)
	copy(mem.Buffer(), []byte{1, 2, 3})
	mm.DeAllocHeapMemory(mem)

	again := mm.AllocHeapMemory(500)
	require.GreaterOrEqual(t, again.Capacity(), 500)
	require.Equal(t, 500, len(again.Bytes()))
	for _, b := range again.Buffer() {
		require.Zero(t, b)
	}
}

func TestEnsureSizeKeepsContent(t *testing.T) {
	mm, _ := newManager(t, nil)
	mem := mm.AllocHeapMemory(4)
	copy(mem.Buffer(), []byte{9, 8, 7, 6})
	mem.EnsureSize(1000)
	require.GreaterOrEqual(t, mem.Capacity(), 1000)
	require.Equal(t, []byte{9, 8, 7, 6}, mem.Buffer()[:4])
	mem.EnsureSize(1)
	require.GreaterOrEqual(t, mem.Capacity(), 1000, "never shrinks")

	mem.SetVirtual(2, 2)
	require.Equal(t, []byte{7, 6}, mem.Bytes())
}

func TestDeadAccessPanics(t *testing.T) {
	mm, _ := newManager(t, nil)

	mem := mm.AllocHeapMemory(8)
	mm.DeAllocHeapMemory(mem)
	requireMemoryPanic(t, api.ErrMemoryDead, func() { _ = mem.Buffer() })
	requireMemoryPanic(t, api.ErrMemoryDead, func() { _ = mem.Bytes() })

	ptrs := mm.AllocHeapPointers(2)
	mm.DeAllocHeapPointers(ptrs)
	requireMemoryPanic(t, api.ErrMemoryDead, func() { _ = ptrs.Pointers() })

	owned := mm.AllocHeapMemory(1)
	w := mm.AllocMemoryWrapper(owned)
	mm.DeAllocMemoryWrapper(w)
	requireMemoryPanic(t, api.ErrMemoryDead, func() { _ = w.AllocatedMemory() })
	requireMemoryPanic(t, api.ErrMemoryDead, func() { _ = w.DirectMemory() })
	requireMemoryPanic(t, api.ErrMemoryDead, func() { w.SetDirectMemory([]byte{1}) })
	require.False(t, owned.IsDead(), "wrapper release leaves owned memory alone")
}

func TestDoubleDeAllocPanics(t *testing.T) {
	mm, _ := newManager(t, nil)
	mem := mm.AllocHeapMemory(8)
	mm.DeAllocHeapMemory(mem)
	requireMemoryPanic(t, api.ErrDoubleDeAlloc, func() { mm.DeAllocHeapMemory(mem) })

	ptrs := mm.AllocHeapPointers(1)
	mm.DeAllocHeapPointers(ptrs)
	requireMemoryPanic(t, api.ErrDoubleDeAlloc, func() { mm.DeAllocHeapPointers(ptrs) })

	w := mm.AllocDirectMemoryWrapper([]byte{1})
	mm.DeAllocMemoryWrapper(w)
	requireMemoryPanic(t, api.ErrDoubleDeAlloc, func() { mm.DeAllocMemoryWrapper(w) })
}

func TestFullPoolReleasesToGC(t *testing.T) {
	mm, _ := newManager(t, func(c *config.SocketConfig) { c.HeapMemoryPoolSize = 1 })
	a := mm.AllocHeapMemory(1)
	b := mm.AllocHeapMemory(1)
	mm.DeAllocHeapMemory(a)
	mm.DeAllocHeapMemory(b)
	require.False(t, a.ReleasedToGC())
	require.True(t, b.ReleasedToGC())
	require.Equal(t, int64(1), mm.Stats().HeapMemory.Pooled)

	again := mm.AllocHeapMemory(1)
	require.Same(t, a, again)
	require.Equal(t, int64(0), mm.Stats().HeapMemory.Pooled)
}

func TestPoolingDisabled(t *testing.T) {
	mm, _ := newManager(t, func(c *config.SocketConfig) { c.MemoryWrapperPoolSize = 0 })
	w := mm.AllocDirectMemoryWrapper([]byte{1, 2})
	require.True(t, w.HasDirect())
	mm.DeAllocMemoryWrapper(w)
	require.True(t, w.ReleasedToGC())
	mm.AllocDirectMemoryWrapper(nil)
	require.Equal(t, int64(2), mm.Stats().MemoryWrappers.Created)
}

func TestHeapPointersWindow(t *testing.T) {
	mm, _ := newManager(t, nil)
	ptrs := mm.AllocHeapPointers(3)
	require.Len(t, ptrs.Items(), 3)
	require.Equal(t, 64, len(ptrs.Pointers()))
	ptrs.Pointers()[0] = "x"
	ptrs.SetVirtual(0, 100)
	require.Len(t, ptrs.Items(), 100)
	require.Equal(t, "x", ptrs.Items()[0])
	mm.DeAllocHeapPointers(ptrs)

	again := mm.AllocHeapPointers(1)
	require.Nil(t, again.Items()[0], "recycled pointers are cleared")
}

func TestLeakWarningOnce(t *testing.T) {
	mm, logs := newManager(t, nil)
	for i := 0; i < 1100; i++ {
		mm.AllocHeapPointers(1)
	}
	require.Equal(t, 1, logs.FilterMessageSnippet("memory leak suspected").Len())
}

func TestLeakRegistry(t *testing.T) {
	mm, logs := newManager(t, func(c *config.SocketConfig) { c.MemoryLeakDetection = true })
	kept := mm.AllocHeapMemory(16)
	freed := mm.AllocHeapMemory(16)
	mm.DeAllocHeapMemory(freed)

	leaks := mm.Leaks()
	require.Len(t, leaks, 1)
	require.Equal(t, pool.KindHeapMemory, leaks[0].Kind)
	require.Contains(t, leaks[0].Stack, "TestLeakRegistry")

	mm.Release()
	require.Equal(t, 1, logs.FilterMessage("pooled object was never deallocated").Len())
	require.True(t, freed.ReleasedToGC(), "drained pool objects are handed to the GC")
	require.False(t, kept.IsDead())
}
