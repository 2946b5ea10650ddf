// File: channel/unreliable.go
// Package channel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unreliable variants. Nothing is resent and no acks are produced; the
// variants differ only in how they filter what arrives.

package channel

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/momentics/hioload-rudp/api"
	"github.com/momentics/hioload-rudp/config"
	"github.com/momentics/hioload-rudp/core/protocol"
	"github.com/momentics/hioload-rudp/pool"
)

type unreliableChannel struct {
	binding
	mode     deliveryMode
	sequence uint16
	unique   *seqWindow
	newest   newestTracker
}

func newUnreliableChannel(t api.ChannelType, mode deliveryMode, log *zap.Logger) *unreliableChannel {
	c := &unreliableChannel{mode: mode}
	c.kind = t
	c.log = log
	return c
}

func (c *unreliableChannel) Assign(channelID byte, conn api.Connection, cfg *config.SocketConfig, mm *pool.MemoryManager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bind(channelID, conn, cfg, mm)
	if c.mode == deliverUnique && (c.unique == nil || len(c.unique.seqs) != windowSlots(cfg.ReliableAckFlowWindowSize)) {
		c.unique = newSeqWindow(cfg.ReliableAckFlowWindowSize)
	}
}

func (c *unreliableChannel) headerSize() int {
	if c.mode == deliverAll {
		return 0
	}
	return sequenceSize
}

func (c *unreliableChannel) CreateOutgoingMessage(payload []byte, _ bool, _ uint64) (*pool.HeapPointers, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.assigned {
		return nil, false
	}
	hs := c.headerSize()
	if limit := c.conn.MTU() - DataHeaderSize - hs; len(payload) > limit {
		c.log.Warn("dropping oversized unreliable message",
			zap.Int("size", len(payload)), zap.Int("limit", limit))
		return nil, false
	}
	mem := c.frame(protocol.MessageData, hs+len(payload))
	buf := mem.Bytes()
	if hs > 0 {
		binary.LittleEndian.PutUint16(buf[DataHeaderSize:], c.sequence)
		c.sequence++
	}
	copy(buf[DataHeaderSize+hs:], payload)
	return c.single(mem), true
}

func (c *unreliableChannel) HandleIncomingMessage(payload []byte) *pool.HeapPointers {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.assigned {
		return nil
	}
	hs := c.headerSize()
	if len(payload) < hs {
		c.log.Warn("truncated unreliable message", zap.Int("size", len(payload)))
		return nil
	}
	if hs > 0 {
		seq := binary.LittleEndian.Uint16(payload)
		switch c.mode {
		case deliverUnique:
			if c.unique.observe(seq) != seqFresh {
				return nil
			}
		case deliverNewest:
			if !c.newest.accept(seq) {
				return nil
			}
		}
	}
	return c.single(c.mm.AllocDirectMemoryWrapper(payload[hs:]))
}

func (c *unreliableChannel) HandleAck([]byte) {}

func (c *unreliableChannel) InternalUpdate() bool { return false }

func (c *unreliableChannel) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unbind()
	c.sequence = 0
	if c.unique != nil {
		c.unique.reset()
	}
	c.newest.reset()
}
