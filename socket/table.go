// File: socket/table.go
// Package socket
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe connection table keyed by remote endpoint.

package socket

import (
	"hash/fnv"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-rudp/api"
)

type connectionTable struct {
	shards []*tableShard
	mask   uint32
	count  atomic.Int64
	limit  int64
}

type tableShard struct {
	mu    sync.RWMutex
	conns map[netip.AddrPort]*Connection
}

// newConnectionTable constructs a table with shardCount shards that holds
// at most limit connections.
func newConnectionTable(shardCount, limit int) *connectionTable {
	if shardCount <= 0 {
		shardCount = 16
	}
	// find power-of-two shards for bitmasking
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*tableShard, m)
	for i := range shards {
		shards[i] = &tableShard{conns: make(map[netip.AddrPort]*Connection)}
	}
	return &connectionTable{shards: shards, mask: m - 1, limit: int64(limit)}
}

func (t *connectionTable) shard(addr netip.AddrPort) *tableShard {
	return t.shards[hashAddr(addr)&t.mask]
}

// getOrCreate returns the connection for addr, calling create when there
// is none. created is false when the connection already existed.
func (t *connectionTable) getOrCreate(addr netip.AddrPort, create func() *Connection) (c *Connection, created bool, err error) {
	sh := t.shard(addr)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if c, ok := sh.conns[addr]; ok {
		return c, false, nil
	}
	if t.count.Add(1) > t.limit {
		t.count.Add(-1)
		return nil, false, api.WrapError(api.ErrCodeResourceExhausted, api.ErrResourceExhausted, "connection table full").
			WithContext("limit", t.limit)
	}
	c = create()
	sh.conns[addr] = c
	return c, true, nil
}

func (t *connectionTable) get(addr netip.AddrPort) (*Connection, bool) {
	sh := t.shard(addr)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	c, ok := sh.conns[addr]
	return c, ok
}

// remove deletes c if it is still the entry for its endpoint.
func (t *connectionTable) remove(c *Connection) bool {
	sh := t.shard(c.addr)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur, ok := sh.conns[c.addr]; ok && cur == c {
		delete(sh.conns, c.addr)
		t.count.Add(-1)
		return true
	}
	return false
}

func (t *connectionTable) len() int {
	return int(t.count.Load())
}

// collect appends the connections of every step-th shard starting at from.
// Callers work on the copy so no shard lock is held while connections run.
func (t *connectionTable) collect(from, step int, out []*Connection) []*Connection {
	if step < 1 {
		step = 1
	}
	for i := from; i < len(t.shards); i += step {
		sh := t.shards[i]
		sh.mu.RLock()
		for _, c := range sh.conns {
			out = append(out, c)
		}
		sh.mu.RUnlock()
	}
	return out
}

func hashAddr(addr netip.AddrPort) uint32 {
	h := fnv.New32a()
	b := addr.Addr().As16()
	h.Write(b[:])
	h.Write([]byte{byte(addr.Port() >> 8), byte(addr.Port())})
	return h.Sum32()
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
