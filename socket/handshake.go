// File: socket/handshake.go
// Package socket
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Datagram dispatch, connection handshake and per-connection timers.
//
// Handshake:
//
//	client                         server
//	ConnectionRequest (padded) ->
//	                            <- Hail [count][types...]
//	HailConfirmed              ->
//
// The server treats any Data or Heartbeat from a soliciting peer as an
// implicit HailConfirmed.

package socket

import (
	"encoding/binary"
	"net/netip"

	"go.uber.org/zap"

	"github.com/momentics/hioload-rudp/api"
	"github.com/momentics/hioload-rudp/channel"
	"github.com/momentics/hioload-rudp/core/nettime"
	"github.com/momentics/hioload-rudp/core/protocol"
)

// handleDatagram processes one received datagram. data is only valid for
// the duration of the call.
func (s *Socket) handleDatagram(addr netip.AddrPort, data []byte, now nettime.NetTime) {
	if len(data) == 0 {
		return
	}
	typ := protocol.UnpackHeader(data[0])
	switch typ {
	case protocol.MessageUnknown:
		s.stats.droppedIncoming.Add(1)
		s.log.Warn("unknown message type", zap.Stringer("remote", addr), zap.Uint8("header", data[0]))
	case protocol.MessageConnectionRequest:
		s.handleConnectionRequest(addr, data, now)
	case protocol.MessageChallengeRequest, protocol.MessageChallengeResponse:
		s.stats.droppedIncoming.Add(1)
		s.log.Warn("challenge handshake is not supported", zap.Stringer("remote", addr), zap.Stringer("type", typ))
	case protocol.MessageUnconnectedData:
		s.publishUnconnected(EventUnconnectedData, s.cfg.AllowUnconnectedMessages, addr, data[1:], now)
	case protocol.MessageBroadcast:
		s.publishUnconnected(EventBroadcastData, s.cfg.AllowBroadcasts, addr, data[1:], now)
	default:
		c, ok := s.conns.get(addr)
		if !ok {
			s.stats.droppedIncoming.Add(1)
			s.log.Debug("message from unknown peer", zap.Stringer("remote", addr), zap.Stringer("type", typ))
			return
		}
		s.handleConnectionMessage(c, typ, data, now, true)
	}
}

func (s *Socket) publishUnconnected(t EventType, allowed bool, addr netip.AddrPort, payload []byte, now nettime.NetTime) {
	if !allowed {
		s.stats.droppedIncoming.Add(1)
		return
	}
	mem := s.mm.AllocHeapMemory(len(payload))
	copy(mem.Bytes(), payload)
	s.PublishEvent(NetworkEvent{Type: t, EndPoint: addr, ReceiveTime: now, Data: mem, mm: s.mm})
}

func (s *Socket) handleConnectionMessage(c *Connection, typ protocol.MessageType, data []byte, now nettime.NetTime, outer bool) {
	c.touchReceived()
	switch typ {
	case protocol.MessageHail:
		s.handleHail(c, data)
	case protocol.MessageHailConfirmed, protocol.MessageHeartbeat:
		s.markConnected(c)
	case protocol.MessageData:
		s.markConnected(c)
		if c.State() == StateConnected {
			s.router.HandleIncomingMessage(c, data[1:], now)
		}
	case protocol.MessageAck:
		if c.State() == StateConnected {
			s.router.HandleIncomingAck(c, data[1:])
		}
	case protocol.MessageMerge:
		if !outer {
			return
		}
		var scratch [32][]byte
		parts, err := protocol.UnpackMerged(data[1:], scratch[:0])
		if err != nil {
			s.log.Warn("malformed merge datagram", zap.Stringer("remote", c.addr), zap.Error(err))
		}
		for _, part := range parts {
			s.handleConnectionMessage(c, protocol.UnpackHeader(part[0]), part, now, false)
		}
	case protocol.MessageDisconnect:
		s.dropConnection(c, EventDisconnect, false)
	case protocol.MessageMTURequest:
		if c.State() == StateConnected {
			s.sendMTUResponse(c, len(data))
		}
	case protocol.MessageMTUResponse:
		if len(data) < 3 {
			s.log.Warn("truncated mtu response", zap.Stringer("remote", c.addr))
			return
		}
		s.handleMTUResponse(c, int(binary.LittleEndian.Uint16(data[1:])))
	default:
		s.log.Debug("unexpected message on connection", zap.Stringer("remote", c.addr), zap.Stringer("type", typ))
	}
}

func (s *Socket) handleConnectionRequest(addr netip.AddrPort, data []byte, now nettime.NetTime) {
	if len(data) < s.cfg.AmplificationPreventionHandshakePadding {
		s.stats.droppedIncoming.Add(1)
		s.log.Warn("connection request below padding", zap.Stringer("remote", addr), zap.Int("size", len(data)))
		return
	}
	c, created, err := s.conns.getOrCreate(addr, func() *Connection {
		return newConnection(s, s.nextID.Add(1), addr, StateSoliciting)
	})
	if err != nil {
		s.stats.droppedIncoming.Add(1)
		s.log.Warn("rejecting connection", zap.Stringer("remote", addr), zap.Error(err))
		return
	}
	if created {
		if err := s.setupChannels(c, s.cfg.ChannelTypes); err != nil {
			s.log.Warn("channel setup failed", zap.Stringer("remote", addr), zap.Error(err))
			s.dropConnection(c, EventNothing, false)
			return
		}
		s.log.Debug("connection requested", zap.Stringer("remote", addr))
	}
	c.mu.Lock()
	soliciting := c.state == StateSoliciting
	if soliciting {
		c.handshakeLastSent = now
	}
	c.mu.Unlock()
	c.touchReceived()
	if soliciting {
		s.sendHail(c)
	}
}

func (s *Socket) handleHail(c *Connection, data []byte) {
	if len(data) < 2 || int(data[1]) == 0 || len(data) < 2+int(data[1]) {
		s.log.Warn("malformed hail", zap.Stringer("remote", c.addr))
		return
	}
	types := make([]api.ChannelType, data[1])
	for i := range types {
		types[i] = api.ChannelType(data[2+i])
		if !types[i].IsValid() {
			s.log.Warn("hail with unknown channel type", zap.Stringer("remote", c.addr), zap.Uint8("type", data[2+i]))
			return
		}
	}

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	switch state {
	case StateConnected:
		s.sendSimple(c, protocol.MessageHailConfirmed)
		return
	case StateRequesting:
	default:
		return
	}
	if err := s.setupChannels(c, types); err != nil {
		s.log.Warn("channel setup failed", zap.Stringer("remote", c.addr), zap.Error(err))
		return
	}
	c.mu.Lock()
	if c.state != StateRequesting {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.mu.Unlock()
	s.sendSimple(c, protocol.MessageHailConfirmed)
	s.log.Debug("connected", zap.Stringer("remote", c.addr), zap.Int("channels", len(types)))
	s.PublishEvent(NetworkEvent{Type: EventConnect, Connection: c, EndPoint: c.addr, ReceiveTime: nettime.Now()})
}

func (s *Socket) markConnected(c *Connection) {
	c.mu.Lock()
	if c.state != StateSoliciting {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.mu.Unlock()
	s.log.Debug("connected", zap.Stringer("remote", c.addr))
	s.PublishEvent(NetworkEvent{Type: EventConnect, Connection: c, EndPoint: c.addr, ReceiveTime: nettime.Now()})
}

// setupChannels assigns one channel per entry of types to c.
func (s *Socket) setupChannels(c *Connection, types []api.ChannelType) error {
	chs := make([]channel.Channel, 0, len(types))
	for i, t := range types {
		ch, err := s.channels.GetChannel(t, byte(i), c, s.cfg, s.mm)
		if err != nil {
			for _, assigned := range chs {
				s.channels.Return(assigned)
			}
			return err
		}
		chs = append(chs, ch)
	}
	c.mu.Lock()
	c.types = append([]api.ChannelType(nil), types...)
	c.mu.Unlock()
	if old := c.swapChannels(&chs); old != nil {
		for _, ch := range *old {
			s.channels.Return(ch)
		}
	}
	return nil
}

// dropConnection tears c down once. Connect attempts that time out and
// connections the application has seen produce an event of type t.
func (s *Socket) dropConnection(c *Connection, t EventType, sendDisconnect bool) {
	c.mu.Lock()
	state := c.state
	if state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	if sendDisconnect && state == StateConnected {
		c.flushMerged(true)
		s.sendSimple(c, protocol.MessageDisconnect)
	}
	s.conns.remove(c)
	c.releaseResources()

	notify := state == StateConnected || (state == StateRequesting && t == EventTimeout)
	s.log.Debug("connection dropped",
		zap.Stringer("remote", c.addr), zap.Stringer("state", state), zap.Stringer("reason", t))
	if notify && t != EventNothing {
		s.PublishEvent(NetworkEvent{Type: t, Connection: c, EndPoint: c.addr, ReceiveTime: nettime.Now()})
	}
}

// updateConnection runs the timers of c.
func (s *Socket) updateConnection(c *Connection, now nettime.NetTime) {
	cfg := s.cfg
	c.mu.Lock()
	elapsed := now.Sub(c.lastUpdate)
	c.lastUpdate = now

	switch c.state {
	case StateRequesting, StateSoliciting:
		requesting := c.state == StateRequesting
		timeout, resendDelay, maxResends := cfg.HandshakeTimeout, cfg.HandshakeMinResendDelay, cfg.MaxHandshakeResends
		if requesting {
			timeout, resendDelay, maxResends = cfg.ConnectionRequestTimeout, cfg.ConnectionRequestMinResendDelay, cfg.MaxConnectionRequestResends
		}
		timedOut := now.Sub(c.handshakeStarted) > timeout
		resend := false
		if !timedOut && now.Sub(c.handshakeLastSent) >= resendDelay {
			if c.handshakeResends >= maxResends {
				timedOut = true
			} else {
				c.handshakeResends++
				c.handshakeLastSent = now
				resend = true
			}
		}
		c.mu.Unlock()

		switch {
		case timedOut:
			s.dropConnection(c, EventTimeout, false)
		case resend && requesting:
			s.sendConnectionRequest(c)
		case resend:
			s.sendHail(c)
		}
		return

	case StateConnected:
		probe := c.nextMTUProbe(now)
		c.mu.Unlock()

		if cfg.EnableTimeouts && now.Sub(nettime.NetTime(c.lastReceived.Load())) > cfg.ConnectionTimeout {
			s.dropConnection(c, EventTimeout, false)
			return
		}
		if c.bandwidth != nil {
			c.bandwidth.Update(elapsed)
		}
		if s.router.Update(c) {
			s.dropConnection(c, EventTimeout, false)
			return
		}
		if probe > 0 {
			s.sendMTURequest(c, probe)
		}
		c.flushMerged(false)
		if cfg.EnableHeartbeats && now.Sub(nettime.NetTime(c.lastSent.Load())) >= cfg.HeartbeatDelay {
			s.sendSimple(c, protocol.MessageHeartbeat)
		}

	default:
		c.mu.Unlock()
	}
}

// nextMTUProbe returns the datagram size to probe now, or 0. c.mu is held.
func (c *Connection) nextMTUProbe(now nettime.NetTime) int {
	cfg := c.socket.cfg
	if !cfg.EnablePathMTU || c.mtuDone || now.Sub(c.mtuLastAttempt) < cfg.MTUAttemptDelay {
		return 0
	}
	current := c.MTU()
	if current >= cfg.MaximumMTU {
		c.mtuDone = true
		return 0
	}
	if c.mtuTarget <= current {
		c.mtuTarget = min(cfg.MaximumMTU, max(current+1, int(float64(current)*cfg.MTUGrowthFactor)))
		c.mtuAttempts = 0
	}
	if c.mtuAttempts >= cfg.MaxMTUAttempts {
		c.mtuDone = true
		c.log.Debug("path mtu discovery finished", zap.Int("mtu", current))
		return 0
	}
	c.mtuAttempts++
	c.mtuLastAttempt = now
	return c.mtuTarget
}

func (s *Socket) handleMTUResponse(c *Connection, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || size != c.mtuTarget || size > s.cfg.MaximumMTU {
		return
	}
	c.raiseMTU(size)
	c.mtuAttempts = 0
	c.mtuLastAttempt = 0
}

func (s *Socket) sendSimple(c *Connection, t protocol.MessageType) {
	buf := [1]byte{protocol.PackHeader(t)}
	s.sendDatagram(c, buf[:])
}

func (s *Socket) sendConnectionRequest(c *Connection) {
	mem := s.mm.AllocHeapMemory(max(1, s.cfg.AmplificationPreventionHandshakePadding))
	buf := mem.Bytes()
	buf[0] = protocol.PackHeader(protocol.MessageConnectionRequest)
	s.sendDatagram(c, buf)
	s.mm.DeAllocHeapMemory(mem)
}

func (s *Socket) sendHail(c *Connection) {
	types := c.ChannelTypes()
	mem := s.mm.AllocHeapMemory(2 + len(types))
	buf := mem.Bytes()
	buf[0] = protocol.PackHeader(protocol.MessageHail)
	buf[1] = byte(len(types))
	for i, t := range types {
		buf[2+i] = byte(t)
	}
	s.sendDatagram(c, buf)
	s.mm.DeAllocHeapMemory(mem)
}

func (s *Socket) sendMTURequest(c *Connection, size int) {
	mem := s.mm.AllocHeapMemory(size)
	buf := mem.Bytes()
	buf[0] = protocol.PackHeader(protocol.MessageMTURequest)
	s.sendDatagram(c, buf)
	s.mm.DeAllocHeapMemory(mem)
}

func (s *Socket) sendMTUResponse(c *Connection, size int) {
	var buf [3]byte
	buf[0] = protocol.PackHeader(protocol.MessageMTUResponse)
	binary.LittleEndian.PutUint16(buf[1:], uint16(size))
	c.SendRaw(buf[:], false)
}
