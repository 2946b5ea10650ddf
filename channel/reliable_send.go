// File: channel/reliable_send.go
// Package channel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"encoding/binary"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-rudp/core/nettime"
	"github.com/momentics/hioload-rudp/core/protocol"
	"github.com/momentics/hioload-rudp/pool"
)

type outgoingFragment struct {
	mem      *pool.HeapMemory
	lastSent nettime.NetTime
	attempts int
	acked    bool
}

type outgoingMessage struct {
	seq       uint16
	noMerge   bool
	key       uint64
	remaining int
	fragments []outgoingFragment
}

// queuedMessage waits in the backlog for room in the send window.
type queuedMessage struct {
	payload *pool.HeapMemory
	noMerge bool
	key     uint64
}

// sender state of a reliable channel. Guarded by binding.mu.
type sender struct {
	window     []*outgoingMessage
	windowSize int
	next       uint16
	oldest     uint16
	backlog    *queue.Queue
}

func (s *sender) inFlight() int {
	return protocol.Distance16(s.next, s.oldest)
}

func (s *sender) slot(seq uint16) int {
	return int(seq) & (len(s.window) - 1)
}

func (c *reliableChannel) dataHeaderSize() int {
	if c.fragmented {
		return fragmentSize
	}
	return sequenceSize
}

// fits reports whether payload can be framed at the current MTU.
func (c *reliableChannel) fits(n int) bool {
	return n <= MaxPayloadSize(c.kind, c.conn.MTU(), c.cfg.MaxFragments)
}

func (c *reliableChannel) CreateOutgoingMessage(payload []byte, noMerge bool, notificationKey uint64) (*pool.HeapPointers, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.assigned {
		return nil, false
	}
	if !c.fits(len(payload)) {
		c.log.Warn("dropping oversized reliable message",
			zap.Int("size", len(payload)), zap.Int("mtu", c.conn.MTU()))
		return nil, false
	}
	if c.out.backlog.Length() > 0 || c.out.inFlight() >= c.out.windowSize {
		mem := c.mm.AllocHeapMemory(len(payload))
		copy(mem.Bytes(), payload)
		c.out.backlog.Add(&queuedMessage{payload: mem, noMerge: noMerge, key: notificationKey})
		return nil, false
	}
	// The window keeps the datagrams for resending.
	return c.transmit(payload, noMerge, notificationKey), false
}

// transmit assigns the next sequence to payload and records it in the window.
func (c *reliableChannel) transmit(payload []byte, noMerge bool, key uint64) *pool.HeapPointers {
	hs := c.dataHeaderSize()
	parts, chunk := 1, len(payload)
	if c.fragmented {
		chunk = c.conn.MTU() - DataHeaderSize - hs
		parts = (len(payload) + chunk - 1) / chunk
		if parts == 0 {
			parts = 1
		}
	}

	seq := c.out.next
	msg := &outgoingMessage{
		seq:       seq,
		noMerge:   noMerge,
		key:       key,
		remaining: parts,
		fragments: make([]outgoingFragment, parts),
	}
	ptrs := c.mm.AllocHeapPointers(parts)
	now := nettime.Now()
	for i := 0; i < parts; i++ {
		lo := i * chunk
		hi := min(lo+chunk, len(payload))
		body := payload[lo:hi]

		mem := c.frame(protocol.MessageData, hs+len(body))
		buf := mem.Bytes()
		binary.LittleEndian.PutUint16(buf[DataHeaderSize:], seq)
		if c.fragmented {
			binary.LittleEndian.PutUint16(buf[DataHeaderSize+2:], uint16(i))
			binary.LittleEndian.PutUint16(buf[DataHeaderSize+4:], uint16(parts))
		}
		copy(buf[DataHeaderSize+hs:], body)

		msg.fragments[i] = outgoingFragment{mem: mem, lastSent: now, attempts: 1}
		ptrs.Pointers()[i] = mem
	}
	c.out.window[c.out.slot(seq)] = msg
	c.out.next++
	return ptrs
}

func (c *reliableChannel) HandleAck(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.assigned {
		return
	}
	need := sequenceSize
	if c.fragmented {
		need += 2
	}
	if len(payload) < need {
		c.log.Warn("truncated ack", zap.Int("size", len(payload)))
		return
	}
	seq := binary.LittleEndian.Uint16(payload)
	var index uint16
	if c.fragmented {
		index = binary.LittleEndian.Uint16(payload[2:])
	}

	d := protocol.Distance16(seq, c.out.oldest)
	if d < 0 || d >= c.out.inFlight() {
		return
	}
	slot := c.out.slot(seq)
	msg := c.out.window[slot]
	if msg == nil || msg.seq != seq || int(index) >= len(msg.fragments) {
		return
	}
	f := &msg.fragments[index]
	if f.acked {
		return
	}
	f.acked = true
	if f.attempts == 1 {
		c.conn.AddRoundtripSample(nettime.Since(f.lastSent))
	}
	c.mm.DeAllocHeapMemory(f.mem)
	f.mem = nil

	msg.remaining--
	if msg.remaining == 0 {
		c.out.window[slot] = nil
		if msg.key != 0 {
			c.conn.NotifyAck(c.channelID, msg.key)
		}
	}
	for c.out.oldest != c.out.next && c.out.window[c.out.slot(c.out.oldest)] == nil {
		c.out.oldest++
	}
	c.drainBacklog()
}

// drainBacklog moves queued messages into the window while there is room
// and sends them right away.
func (c *reliableChannel) drainBacklog() {
	for c.out.backlog.Length() > 0 && c.out.inFlight() < c.out.windowSize {
		q := c.out.backlog.Remove().(*queuedMessage)
		ptrs := c.transmit(q.payload.Bytes(), q.noMerge, q.key)
		c.mm.DeAllocHeapMemory(q.payload)
		for _, item := range ptrs.Items() {
			c.conn.SendRaw(item.(*pool.HeapMemory).Bytes(), q.noMerge)
		}
		c.mm.DeAllocHeapPointers(ptrs)
	}
}

func (c *reliableChannel) resendDelay() time.Duration {
	delay := time.Duration(float64(c.conn.Roundtrip()) * c.cfg.ReliabilityResendRoundtripMultiplier)
	return max(delay, c.cfg.ReliabilityMinPacketResendDelay)
}

func (c *reliableChannel) InternalUpdate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.assigned {
		return false
	}
	now := nettime.Now()
	delay := c.resendDelay()
	for seq := c.out.oldest; seq != c.out.next; seq++ {
		msg := c.out.window[c.out.slot(seq)]
		if msg == nil {
			continue
		}
		for i := range msg.fragments {
			f := &msg.fragments[i]
			if f.acked || now.Sub(f.lastSent) < delay {
				continue
			}
			if f.attempts > c.cfg.ReliabilityMaxResendAttempts {
				c.log.Debug("reliable message exhausted resends",
					zap.Uint16("seq", seq), zap.Int("attempts", f.attempts))
				return true
			}
			c.conn.SendRaw(f.mem.Bytes(), msg.noMerge)
			f.lastSent = now
			f.attempts++
		}
	}
	c.drainBacklog()
	return false
}

func (c *reliableChannel) releaseSender() {
	for i, msg := range c.out.window {
		if msg == nil {
			continue
		}
		for _, f := range msg.fragments {
			if f.mem != nil {
				c.mm.DeAllocHeapMemory(f.mem)
			}
		}
		c.out.window[i] = nil
	}
	for c.out.backlog.Length() > 0 {
		c.mm.DeAllocHeapMemory(c.out.backlog.Remove().(*queuedMessage).payload)
	}
	c.out.next = 0
	c.out.oldest = 0
}
