// File: socket/connection.go
// Package socket
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-rudp/api"
	"github.com/momentics/hioload-rudp/channel"
	"github.com/momentics/hioload-rudp/core/nettime"
	"github.com/momentics/hioload-rudp/core/protocol"
	"github.com/momentics/hioload-rudp/pool"
)

// ConnectionState is the lifecycle stage of a Connection.
type ConnectionState uint8

const (
	// StateRequesting: we sent ConnectionRequest and wait for Hail.
	StateRequesting ConnectionState = iota
	// StateSoliciting: we answered with Hail and wait for HailConfirmed.
	StateSoliciting
	StateConnected
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateRequesting:
		return "requesting"
	case StateSoliciting:
		return "soliciting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Connection is one peer of a Socket.
type Connection struct {
	id     uint64
	addr   netip.AddrPort
	socket *Socket
	log    *zap.Logger

	// mu guards the handshake, discovery and timer fields. It is never held
	// while channels run.
	mu                sync.Mutex
	state             ConnectionState
	types             []api.ChannelType
	handshakeStarted  nettime.NetTime
	handshakeLastSent nettime.NetTime
	handshakeResends  int
	mtuTarget         int
	mtuAttempts       int
	mtuLastAttempt    nettime.NetTime
	mtuDone           bool
	lastUpdate        nettime.NetTime

	// inflight is held shared while a channel of this connection is in use
	// and exclusively while channels are swapped out, so a channel is never
	// driven after it went back to the pool.
	inflight sync.RWMutex
	channels atomic.Pointer[[]channel.Channel]

	merger    *protocol.MessageMerger
	flushMu   sync.Mutex
	scratch   *pool.HeapMemory
	bandwidth api.BandwidthTracker

	mtu          atomic.Int32
	rtt          atomic.Int64
	lastSent     atomic.Int64
	lastReceived atomic.Int64
}

var _ api.Connection = (*Connection)(nil)

func newConnection(s *Socket, id uint64, addr netip.AddrPort, state ConnectionState) *Connection {
	cfg := s.cfg
	now := nettime.Now()
	c := &Connection{
		id:               id,
		addr:             addr,
		socket:           s,
		log:              s.log.With(zap.Uint64("conn", id), zap.Stringer("remote", addr)),
		state:            state,
		handshakeStarted: now,
		lastUpdate:       now,
	}
	c.mtu.Store(int32(cfg.MinimumMTU))
	c.rtt.Store(int64(cfg.InitialRoundtrip))
	c.lastSent.Store(int64(now))
	c.lastReceived.Store(int64(now))
	if cfg.EnablePacketMerging {
		size := min(cfg.MaxMergeMessageSize, cfg.MinimumMTU)
		c.merger = protocol.NewMessageMerger(size, cfg.MaxMergeDelay)
		c.scratch = s.mm.AllocHeapMemory(cfg.MaxMergeMessageSize)
	}
	if cfg.EnableBandwidthTracking && cfg.CreateBandwidthTracker != nil {
		c.bandwidth = cfg.CreateBandwidthTracker()
	}
	return c
}

// ID implements api.Connection.
func (c *Connection) ID() uint64 { return c.id }

// RemoteAddr returns the peer endpoint.
func (c *Connection) RemoteAddr() netip.AddrPort { return c.addr }

// MTU implements api.Connection.
func (c *Connection) MTU() int { return int(c.mtu.Load()) }

// Roundtrip implements api.Connection.
func (c *Connection) Roundtrip() time.Duration { return time.Duration(c.rtt.Load()) }

// AddRoundtripSample folds rtt into an exponential moving average.
func (c *Connection) AddRoundtripSample(rtt time.Duration) {
	for {
		old := c.rtt.Load()
		next := old + (int64(rtt)-old)/8
		if c.rtt.CompareAndSwap(old, next) {
			return
		}
	}
}

// State returns the lifecycle stage.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ChannelTypes returns the negotiated channel layout.
func (c *Connection) ChannelTypes() []api.ChannelType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]api.ChannelType(nil), c.types...)
}

// swapChannels installs chs once no goroutine is using the current set.
func (c *Connection) swapChannels(chs *[]channel.Channel) *[]channel.Channel {
	c.inflight.Lock()
	defer c.inflight.Unlock()
	return c.channels.Swap(chs)
}

// channelAt returns channel id. Callers hold inflight for reading.
func (c *Connection) channelAt(id byte) channel.Channel {
	chs := c.channels.Load()
	if chs == nil || int(id) >= len(*chs) {
		return nil
	}
	return (*chs)[id]
}

func (c *Connection) channelList() []channel.Channel {
	if chs := c.channels.Load(); chs != nil {
		return *chs
	}
	return nil
}

// SendRaw implements api.Connection.
func (c *Connection) SendRaw(payload []byte, noMerge bool) {
	if c.merger != nil && !noMerge && len(payload)+3 <= c.merger.Size() {
		if c.merger.TryWrite(payload) {
			return
		}
		c.flushMerged(true)
		if c.merger.TryWrite(payload) {
			return
		}
	}
	c.socket.sendDatagram(c, payload)
}

// NotifyAck implements api.Connection.
func (c *Connection) NotifyAck(channelID byte, key uint64) {
	c.socket.PublishEvent(NetworkEvent{
		Type:            EventAckNotification,
		Connection:      c,
		EndPoint:        c.addr,
		ChannelID:       channelID,
		NotificationKey: key,
		ReceiveTime:     nettime.Now(),
	})
}

// flushMerged sends the pending merge datagram, if any.
func (c *Connection) flushMerged(force bool) {
	if c.merger == nil {
		return
	}
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	if c.scratch == nil {
		return
	}
	if out, ok := c.merger.TryFlush(force, c.scratch.Buffer()[:0]); ok {
		c.socket.sendDatagram(c, out)
	}
}

// raiseMTU applies a confirmed path MTU.
func (c *Connection) raiseMTU(size int) {
	if size <= c.MTU() {
		return
	}
	c.mtu.Store(int32(size))
	if c.merger != nil {
		if target := min(c.socket.cfg.MaxMergeMessageSize, size); target > c.merger.Size() {
			c.merger.ExpandToSize(target)
		}
	}
	c.log.Debug("path mtu raised", zap.Int("mtu", size))
}

func (c *Connection) touchReceived() {
	c.lastReceived.Store(int64(nettime.Now()))
}

// releaseResources returns channels and scratch memory to their pools.
func (c *Connection) releaseResources() {
	if chs := c.swapChannels(nil); chs != nil {
		for _, ch := range *chs {
			c.socket.channels.Return(ch)
		}
	}
	if c.merger != nil {
		c.merger.Clear()
	}
	c.flushMu.Lock()
	if c.scratch != nil {
		c.socket.mm.DeAllocHeapMemory(c.scratch)
		c.scratch = nil
	}
	c.flushMu.Unlock()
}
