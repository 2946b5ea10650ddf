// File: channel/reliable.go
// Package channel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reliable variants share one sender (resend until acked) and differ in
// how arriving messages are released to the application.

package channel

import (
	"encoding/binary"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-rudp/api"
	"github.com/momentics/hioload-rudp/config"
	"github.com/momentics/hioload-rudp/core/protocol"
	"github.com/momentics/hioload-rudp/pool"
)

type reliableChannel struct {
	binding
	mode       deliveryMode
	fragmented bool

	out sender

	recvWindow int
	unique     *seqWindow
	newest     newestTracker
	expected   uint16
	held       []*pool.HeapMemory
	assemblies []*assembly
}

// assembly collects the fragments of one message.
type assembly struct {
	seq      uint16
	received int
	size     int
	parts    []*pool.HeapMemory
}

func newReliableChannel(t api.ChannelType, mode deliveryMode, fragmented bool, log *zap.Logger) *reliableChannel {
	c := &reliableChannel{mode: mode, fragmented: fragmented}
	c.kind = t
	c.log = log
	c.out.backlog = queue.New()
	return c
}

func (c *reliableChannel) Assign(channelID byte, conn api.Connection, cfg *config.SocketConfig, mm *pool.MemoryManager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bind(channelID, conn, cfg, mm)

	if slots := windowSlots(cfg.ReliabilityWindowSize); len(c.out.window) != slots {
		c.out.window = make([]*outgoingMessage, slots)
	}
	c.out.windowSize = cfg.ReliabilityWindowSize

	c.recvWindow = cfg.ReliableAckFlowWindowSize
	slots := windowSlots(c.recvWindow)
	if c.mode == deliverUnique && (c.unique == nil || len(c.unique.seqs) != slots) {
		c.unique = newSeqWindow(c.recvWindow)
	}
	if c.mode == deliverInOrder && len(c.held) != slots {
		c.held = make([]*pool.HeapMemory, slots)
	}
	if c.fragmented && len(c.assemblies) != slots {
		c.assemblies = make([]*assembly, slots)
	}
}

func (c *reliableChannel) recvSlot(seq uint16) int {
	return int(seq) & (windowSlots(c.recvWindow) - 1)
}

func (c *reliableChannel) HandleIncomingMessage(payload []byte) *pool.HeapPointers {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.assigned {
		return nil
	}
	hs := c.dataHeaderSize()
	if len(payload) < hs {
		c.log.Warn("truncated reliable message", zap.Int("size", len(payload)))
		return nil
	}
	seq := binary.LittleEndian.Uint16(payload)
	body := payload[hs:]

	if c.fragmented {
		index := binary.LittleEndian.Uint16(payload[2:])
		count := binary.LittleEndian.Uint16(payload[4:])
		return c.receiveFragment(seq, index, count, body)
	}

	switch c.mode {
	case deliverUnique:
		switch c.unique.observe(seq) {
		case seqStale:
			// Unacked; delivery can no longer be decided.
			c.log.Warn("reliable message behind receive window", zap.Uint16("seq", seq))
			return nil
		case seqDuplicate:
			c.sendAck(seq, 0)
			return nil
		}
		c.sendAck(seq, 0)
		return c.single(c.mm.AllocDirectMemoryWrapper(body))
	case deliverNewest:
		c.sendAck(seq, 0)
		if !c.newest.accept(seq) {
			return nil
		}
		return c.single(c.mm.AllocDirectMemoryWrapper(body))
	default:
		d := protocol.Distance16(seq, c.expected)
		if d >= c.recvWindow {
			// Unacked; the sender retries once the window moves.
			return nil
		}
		c.sendAck(seq, 0)
		if d < 0 {
			return nil
		}
		if d > 0 {
			slot := c.recvSlot(seq)
			if c.held[slot] == nil {
				c.held[slot] = c.copyOf(body)
			}
			return nil
		}
		ptrs := c.single(c.mm.AllocDirectMemoryWrapper(body))
		c.expected++
		c.collectHeld(ptrs)
		return ptrs
	}
}

func (c *reliableChannel) copyOf(body []byte) *pool.HeapMemory {
	mem := c.mm.AllocHeapMemory(len(body))
	copy(mem.Bytes(), body)
	return mem
}

// collectHeld appends every withheld message that is now next in order.
func (c *reliableChannel) collectHeld(ptrs *pool.HeapPointers) {
	for {
		slot := c.recvSlot(c.expected)
		mem := c.held[slot]
		if mem == nil {
			return
		}
		c.held[slot] = nil
		n := ptrs.VirtualCount()
		ptrs.SetVirtual(0, n+1)
		ptrs.Pointers()[n] = c.mm.AllocMemoryWrapper(mem)
		c.expected++
	}
}

// base is the lowest sequence still awaited by a fragmented receiver.
func (c *reliableChannel) base() uint16 {
	if c.mode == deliverInOrder {
		return c.expected
	}
	if c.newest.started {
		return c.newest.last + 1
	}
	return 0
}

func (c *reliableChannel) receiveFragment(seq, index, count uint16, body []byte) *pool.HeapPointers {
	if count == 0 || int(count) > c.cfg.MaxFragments || index >= count {
		c.log.Warn("invalid fragment header",
			zap.Uint16("seq", seq), zap.Uint16("index", index), zap.Uint16("count", count))
		return nil
	}
	d := protocol.Distance16(seq, c.base())
	if d >= c.recvWindow {
		return nil
	}
	if d < 0 {
		c.sendAck(seq, index)
		return nil
	}

	slot := c.recvSlot(seq)
	if d > 0 && c.mode == deliverInOrder && c.held[slot] != nil {
		c.sendAck(seq, index)
		return nil
	}
	a := c.assemblies[slot]
	if a != nil && a.seq != seq {
		c.freeAssembly(a)
		a = nil
	}
	if a == nil {
		a = &assembly{seq: seq, parts: make([]*pool.HeapMemory, count)}
		c.assemblies[slot] = a
	}
	if len(a.parts) != int(count) {
		c.log.Warn("fragment count mismatch",
			zap.Uint16("seq", seq), zap.Int("expected", len(a.parts)), zap.Uint16("count", count))
		return nil
	}
	c.sendAck(seq, index)
	if a.parts[index] != nil {
		return nil
	}
	a.parts[index] = c.copyOf(body)
	a.received++
	a.size += len(body)
	if a.received < len(a.parts) {
		return nil
	}

	c.assemblies[slot] = nil
	mem := c.mm.AllocHeapMemory(a.size)
	buf := mem.Bytes()
	off := 0
	for _, part := range a.parts {
		off += copy(buf[off:], part.Bytes())
		c.mm.DeAllocHeapMemory(part)
	}

	if c.mode == deliverNewest {
		if !c.newest.accept(seq) {
			c.mm.DeAllocHeapMemory(mem)
			return nil
		}
		return c.single(c.mm.AllocMemoryWrapper(mem))
	}
	if d > 0 {
		if slot := c.recvSlot(seq); c.held[slot] == nil {
			c.held[slot] = mem
		} else {
			c.mm.DeAllocHeapMemory(mem)
		}
		return nil
	}
	ptrs := c.single(c.mm.AllocMemoryWrapper(mem))
	c.expected++
	c.collectHeld(ptrs)
	return ptrs
}

func (c *reliableChannel) freeAssembly(a *assembly) {
	for _, part := range a.parts {
		if part != nil {
			c.mm.DeAllocHeapMemory(part)
		}
	}
}

func (c *reliableChannel) sendAck(seq, index uint16) {
	n := sequenceSize
	if c.fragmented {
		n += 2
	}
	mem := c.frame(protocol.MessageAck, n)
	buf := mem.Bytes()
	binary.LittleEndian.PutUint16(buf[DataHeaderSize:], seq)
	if c.fragmented {
		binary.LittleEndian.PutUint16(buf[DataHeaderSize+2:], index)
	}
	c.conn.SendRaw(buf, false)
	c.mm.DeAllocHeapMemory(mem)
}

func (c *reliableChannel) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.assigned {
		c.releaseSender()
		for i, mem := range c.held {
			if mem != nil {
				c.mm.DeAllocHeapMemory(mem)
				c.held[i] = nil
			}
		}
		for i, a := range c.assemblies {
			if a != nil {
				c.freeAssembly(a)
				c.assemblies[i] = nil
			}
		}
	}
	if c.unique != nil {
		c.unique.reset()
	}
	c.newest.reset()
	c.expected = 0
	c.unbind()
}
