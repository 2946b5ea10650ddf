// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lock-free primitives shared by the pool and socket packages.
// ConcurrentCircularQueue is the only cross-goroutine hand-off used for
// pooled objects and queued network events.
package concurrency
