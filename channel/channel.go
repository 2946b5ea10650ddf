// File: channel/channel.go
// Package channel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel is the contract every delivery variant implements. A connection
// owns one Channel per configured channel id; the socket feeds it decoded
// datagrams, acks and periodic updates.

package channel

import (
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-rudp/api"
	"github.com/momentics/hioload-rudp/config"
	"github.com/momentics/hioload-rudp/core/protocol"
	"github.com/momentics/hioload-rudp/pool"
)

// Channel is implemented by all eight variants.
type Channel interface {
	// CreateOutgoingMessage frames payload into zero or more datagrams. The
	// returned array holds *pool.HeapMemory entries; dealloc tells the
	// caller to deallocate each one after sending. A nil array means the
	// message was queued or dropped.
	CreateOutgoingMessage(payload []byte, noMerge bool, notificationKey uint64) (ptrs *pool.HeapPointers, dealloc bool)

	// HandleIncomingMessage consumes a datagram body (after the channel id)
	// and returns the messages that became deliverable as *pool.MemoryWrapper
	// entries, or nil.
	HandleIncomingMessage(payload []byte) *pool.HeapPointers

	// HandleAck consumes an ack body (after the channel id).
	HandleAck(payload []byte)

	// InternalUpdate drives resends. timedOut asks for the connection to
	// be torn down.
	InternalUpdate() (timedOut bool)

	// Assign binds an unassigned channel to a connection.
	Assign(channelID byte, conn api.Connection, cfg *config.SocketConfig, mm *pool.MemoryManager)

	// Release clears all state so the channel can be pooled.
	Release()

	// Type returns the variant.
	Type() api.ChannelType
}

// Framing sizes.
const (
	// DataHeaderSize is the message type byte plus the channel id byte.
	DataHeaderSize = 2
	sequenceSize   = 2
	fragmentSize   = 6 // seq, index, count
)

// New constructs an unassigned channel of type t.
func New(t api.ChannelType, log *zap.Logger) (Channel, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.Stringer("channel_type", t))
	switch t {
	case api.ChannelUnreliableRaw:
		return newUnreliableChannel(t, deliverAll, log), nil
	case api.ChannelUnreliable:
		return newUnreliableChannel(t, deliverUnique, log), nil
	case api.ChannelUnreliableOrdered:
		return newUnreliableChannel(t, deliverNewest, log), nil
	case api.ChannelReliable:
		return newReliableChannel(t, deliverUnique, false, log), nil
	case api.ChannelReliableSequenced:
		return newReliableChannel(t, deliverNewest, false, log), nil
	case api.ChannelReliableOrdered:
		return newReliableChannel(t, deliverInOrder, false, log), nil
	case api.ChannelReliableFragmented:
		return newReliableChannel(t, deliverInOrder, true, log), nil
	case api.ChannelReliableSequencedFragmented:
		return newReliableChannel(t, deliverNewest, true, log), nil
	default:
		return nil, api.WrapError(api.ErrCodeInvalidArgument, api.ErrInvalidChannel, "unknown channel type").
			WithContext("channel_type", uint8(t))
	}
}

// MaxPayloadSize returns the largest payload a channel of type t accepts
// on a connection with the given MTU.
func MaxPayloadSize(t api.ChannelType, mtu, maxFragments int) int {
	switch t {
	case api.ChannelUnreliableRaw:
		return mtu - DataHeaderSize
	case api.ChannelReliableFragmented, api.ChannelReliableSequencedFragmented:
		return (mtu - DataHeaderSize - fragmentSize) * maxFragments
	default:
		return mtu - DataHeaderSize - sequenceSize
	}
}

// deliveryMode is the receive policy of a variant.
type deliveryMode uint8

const (
	deliverAll     deliveryMode = iota // no filtering
	deliverUnique                      // drop duplicates, any order
	deliverNewest                      // drop anything not newer than the last delivered
	deliverInOrder                     // withhold until every earlier message arrived
)

// binding is the per-assignment state shared by every variant.
type binding struct {
	mu        sync.Mutex
	kind      api.ChannelType
	log       *zap.Logger
	assigned  bool
	channelID byte
	conn      api.Connection
	cfg       *config.SocketConfig
	mm        *pool.MemoryManager
}

func (b *binding) Type() api.ChannelType { return b.kind }

func (b *binding) bind(channelID byte, conn api.Connection, cfg *config.SocketConfig, mm *pool.MemoryManager) {
	if b.assigned {
		panic(api.NewMemoryError(api.ErrChannelAssigned, "Channel"))
	}
	b.assigned = true
	b.channelID = channelID
	b.conn = conn
	b.cfg = cfg
	b.mm = mm
}

func (b *binding) unbind() {
	b.assigned = false
	b.channelID = 0
	b.conn = nil
	b.cfg = nil
	b.mm = nil
}

// frame allocates a datagram with the data header written and the virtual
// window covering header plus bodyLen bytes.
func (b *binding) frame(t protocol.MessageType, bodyLen int) *pool.HeapMemory {
	mem := b.mm.AllocHeapMemory(DataHeaderSize + bodyLen)
	buf := mem.Buffer()
	buf[0] = protocol.PackHeader(t)
	buf[1] = b.channelID
	return mem
}

// single wraps one message in a one-entry pointer array.
func (b *binding) single(entry any) *pool.HeapPointers {
	ptrs := b.mm.AllocHeapPointers(1)
	ptrs.Pointers()[0] = entry
	return ptrs
}
