// File: socket/router.go
// Package socket
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ChannelRouter moves datagrams between a connection and its channels.

package socket

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-rudp/api"
	"github.com/momentics/hioload-rudp/channel"
	"github.com/momentics/hioload-rudp/core/nettime"
	"github.com/momentics/hioload-rudp/pool"
)

// ChannelRouter is stateless apart from its collaborators and safe for
// concurrent use.
type ChannelRouter struct {
	mm   *pool.MemoryManager
	sink EventSink
	log  *zap.Logger
}

// NewChannelRouter wires a router to the memory manager and event sink.
func NewChannelRouter(mm *pool.MemoryManager, sink EventSink, log *zap.Logger) *ChannelRouter {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChannelRouter{mm: mm, sink: sink, log: log.Named("router")}
}

// HandleIncomingMessage dispatches a data datagram. payload starts at the
// channel id byte.
func (r *ChannelRouter) HandleIncomingMessage(conn *Connection, payload []byte, receiveTime nettime.NetTime) {
	if len(payload) < 1 {
		r.log.Warn("data message without channel id", zap.Uint64("conn", conn.ID()))
		return
	}
	id := payload[0]
	conn.inflight.RLock()
	defer conn.inflight.RUnlock()
	ch := conn.channelAt(id)
	if ch == nil {
		r.log.Warn("data for unknown channel", zap.Uint64("conn", conn.ID()), zap.Uint8("channel", id))
		return
	}
	ptrs := ch.HandleIncomingMessage(payload[1:])
	if ptrs == nil {
		return
	}
	for _, item := range ptrs.Items() {
		w := item.(*pool.MemoryWrapper)
		var mem *pool.HeapMemory
		if w.HasAllocated() {
			mem = w.AllocatedMemory()
		} else {
			seg := w.DirectMemory()
			mem = r.mm.AllocHeapMemory(len(seg))
			copy(mem.Bytes(), seg)
		}
		r.mm.DeAllocMemoryWrapper(w)
		r.sink.PublishEvent(NetworkEvent{
			Type:        EventData,
			Connection:  conn,
			EndPoint:    conn.addr,
			ChannelID:   id,
			ReceiveTime: receiveTime,
			Data:        mem,
			mm:          r.mm,
		})
	}
	r.mm.DeAllocHeapPointers(ptrs)
}

// HandleIncomingAck dispatches an ack datagram. payload starts at the
// channel id byte.
func (r *ChannelRouter) HandleIncomingAck(conn *Connection, payload []byte) {
	if len(payload) < 1 {
		r.log.Warn("ack without channel id", zap.Uint64("conn", conn.ID()))
		return
	}
	conn.inflight.RLock()
	defer conn.inflight.RUnlock()
	ch := conn.channelAt(payload[0])
	if ch == nil {
		r.log.Warn("ack for unknown channel", zap.Uint64("conn", conn.ID()), zap.Uint8("channel", payload[0]))
		return
	}
	ch.HandleAck(payload[1:])
}

// CreateOutgoingMessage frames payload on channel channelID of conn.
func (r *ChannelRouter) CreateOutgoingMessage(conn *Connection, channelID byte, payload []byte, noMerge bool, notificationKey uint64) (*pool.HeapPointers, bool, error) {
	conn.inflight.RLock()
	defer conn.inflight.RUnlock()
	return r.createOutgoing(conn, channelID, payload, noMerge, notificationKey)
}

func (r *ChannelRouter) createOutgoing(conn *Connection, channelID byte, payload []byte, noMerge bool, notificationKey uint64) (*pool.HeapPointers, bool, error) {
	ch := conn.channelAt(channelID)
	if ch == nil {
		return nil, false, api.ErrInvalidChannel
	}
	if len(payload) > channel.MaxPayloadSize(ch.Type(), conn.MTU(), conn.socket.cfg.MaxFragments) {
		return nil, false, api.ErrPayloadTooLarge
	}
	ptrs, dealloc := ch.CreateOutgoingMessage(payload, noMerge, notificationKey)
	return ptrs, dealloc, nil
}

// SendMessage frames payload and hands every datagram to conn.
func (r *ChannelRouter) SendMessage(conn *Connection, channelID byte, payload []byte, noMerge bool, notificationKey uint64) error {
	conn.inflight.RLock()
	defer conn.inflight.RUnlock()
	ptrs, dealloc, err := r.createOutgoing(conn, channelID, payload, noMerge, notificationKey)
	if err != nil || ptrs == nil {
		return err
	}
	for _, item := range ptrs.Items() {
		mem := item.(*pool.HeapMemory)
		conn.SendRaw(mem.Bytes(), noMerge)
		if dealloc {
			r.mm.DeAllocHeapMemory(mem)
		}
	}
	r.mm.DeAllocHeapPointers(ptrs)
	return nil
}

// Update drives every channel of conn and reports whether one timed out.
func (r *ChannelRouter) Update(conn *Connection) (timedOut bool) {
	conn.inflight.RLock()
	defer conn.inflight.RUnlock()
	for _, ch := range conn.channelList() {
		if ch.InternalUpdate() {
			return true
		}
	}
	return false
}
