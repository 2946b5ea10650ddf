// Package pool
// Author: momentics <momentics@gmail.com>
//
// Pooled memory for the datagram engine.
// HeapMemory, HeapPointers and MemoryWrapper are recycled through
// MemoryManager, which rounds sizes, tracks creation counts and flags
// lifecycle misuse by panicking with *api.MemoryError.
// See manager.go for allocation and recycling rules.
package pool
