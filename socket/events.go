// File: socket/events.go
// Package socket
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import (
	"net/netip"

	"github.com/momentics/hioload-rudp/core/nettime"
	"github.com/momentics/hioload-rudp/pool"
)

// EventType tags a NetworkEvent.
type EventType uint8

const (
	EventNothing EventType = iota
	EventConnect
	EventDisconnect
	EventTimeout
	EventData
	EventUnconnectedData
	EventBroadcastData
	EventAckNotification
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventTimeout:
		return "timeout"
	case EventData:
		return "data"
	case EventUnconnectedData:
		return "unconnected_data"
	case EventBroadcastData:
		return "broadcast_data"
	case EventAckNotification:
		return "ack_notification"
	default:
		return "nothing"
	}
}

// NetworkEvent is what Poll hands to the application. Events that carry
// Data must be recycled once the payload has been consumed.
type NetworkEvent struct {
	Type            EventType
	Connection      *Connection
	EndPoint        netip.AddrPort
	ChannelID       byte
	NotificationKey uint64
	ReceiveTime     nettime.NetTime
	Data            *pool.HeapMemory

	mm *pool.MemoryManager
}

// Payload returns the event data, or nil.
func (e *NetworkEvent) Payload() []byte {
	if e.Data == nil {
		return nil
	}
	return e.Data.Bytes()
}

// Recycle returns the payload memory to its pool.
func (e *NetworkEvent) Recycle() {
	if e.Data != nil && e.mm != nil {
		e.mm.DeAllocHeapMemory(e.Data)
	}
	e.Data = nil
}

// EventSink receives events produced by the router and connections.
type EventSink interface {
	PublishEvent(ev NetworkEvent)
}
