// File: socket/simulator.go
// Package socket
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lossy, delayed outgoing path used when UseSimulator is set.

package socket

import (
	"math/rand"
	"net/netip"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-rudp/config"
	"github.com/momentics/hioload-rudp/core/nettime"
	"github.com/momentics/hioload-rudp/pool"
)

type delayedDatagram struct {
	due  nettime.NetTime
	addr netip.AddrPort
	mem  *pool.HeapMemory
}

type simulator struct {
	mu      sync.Mutex
	cfg     config.SimulatorConfig
	rng     *rand.Rand
	mm      *pool.MemoryManager
	pending *queue.Queue
	send    func(addr netip.AddrPort, payload []byte)
}

func newSimulator(cfg config.SimulatorConfig, mm *pool.MemoryManager, seed int64, send func(netip.AddrPort, []byte)) *simulator {
	return &simulator{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		mm:      mm,
		pending: queue.New(),
		send:    send,
	}
}

// add schedules payload for later delivery. It reports false when the
// datagram was dropped.
func (s *simulator) add(addr netip.AddrPort, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng.Float64() < s.cfg.DropPercentage {
		return false
	}
	delay := s.cfg.MinLatency
	if spread := s.cfg.MaxLatency - s.cfg.MinLatency; spread > 0 {
		delay += time.Duration(s.rng.Int63n(int64(spread)))
	}
	mem := s.mm.AllocHeapMemory(len(payload))
	copy(mem.Bytes(), payload)
	s.pending.Add(&delayedDatagram{due: nettime.Now().Add(delay), addr: addr, mem: mem})
	return true
}

// flush sends every datagram that is due.
func (s *simulator) flush() {
	now := nettime.Now()
	var due []*delayedDatagram
	s.mu.Lock()
	for n := s.pending.Length(); n > 0; n-- {
		d := s.pending.Remove().(*delayedDatagram)
		if d.due.After(now) {
			s.pending.Add(d)
			continue
		}
		due = append(due, d)
	}
	s.mu.Unlock()
	for _, d := range due {
		s.send(d.addr, d.mem.Bytes())
		s.mm.DeAllocHeapMemory(d.mem)
	}
}

func (s *simulator) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending.Length() > 0 {
		s.mm.DeAllocHeapMemory(s.pending.Remove().(*delayedDatagram).mem)
	}
}
