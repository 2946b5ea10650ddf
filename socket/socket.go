// File: socket/socket.go
// Package socket
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket owns the UDP endpoint, the connection table and the goroutines
// that receive datagrams and drive connection timers.

package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-rudp/api"
	"github.com/momentics/hioload-rudp/channel"
	"github.com/momentics/hioload-rudp/config"
	"github.com/momentics/hioload-rudp/control"
	"github.com/momentics/hioload-rudp/core/nettime"
	"github.com/momentics/hioload-rudp/core/protocol"
	"github.com/momentics/hioload-rudp/internal/concurrency"
	"github.com/momentics/hioload-rudp/pool"
)

// Stats is a point-in-time view of socket counters.
type Stats struct {
	Connections     int        `cbor:"connections"`
	PacketsSent     uint64     `cbor:"packets_sent"`
	PacketsReceived uint64     `cbor:"packets_received"`
	BytesSent       uint64     `cbor:"bytes_sent"`
	BytesReceived   uint64     `cbor:"bytes_received"`
	DroppedIncoming uint64     `cbor:"dropped_incoming"`
	DroppedOutgoing uint64     `cbor:"dropped_outgoing"`
	EventsDropped   uint64     `cbor:"events_dropped"`
	EventsQueued    int        `cbor:"events_queued"`
	Memory          pool.Stats `cbor:"memory"`
}

type counters struct {
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	droppedIncoming atomic.Uint64
	droppedOutgoing atomic.Uint64
	eventsDropped   atomic.Uint64
}

// inboundDatagram is a received datagram waiting for a processing goroutine.
type inboundDatagram struct {
	addr netip.AddrPort
	mem  *pool.HeapMemory
	at   nettime.NetTime
}

// Socket is the transport endpoint.
type Socket struct {
	cfg      *config.SocketConfig
	log      *zap.Logger
	mm       *pool.MemoryManager
	channels *channel.ChannelPool
	router   *ChannelRouter
	conns    *connectionTable
	events   *concurrency.ConcurrentCircularQueue[NetworkEvent]
	inbound  *concurrency.ConcurrentCircularQueue[inboundDatagram]
	wake     chan struct{}
	sim      *simulator
	metrics  *control.MetricsRegistry
	probes   *control.DebugProbes
	stats    counters
	nextID   atomic.Uint64

	udp     atomic.Pointer[net.UDPConn]
	running atomic.Bool

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewSocket validates cfg and builds an idle socket. cfg is copied.
func NewSocket(cfg *config.SocketConfig, log *zap.Logger) (*Socket, error) {
	if cfg == nil {
		cfg = config.DefaultSocketConfig()
	}
	if problems := cfg.GetInvalidConfiguration(); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", api.ErrInvalidConfiguration, strings.Join(problems, "; "))
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.Clone()
	log = log.Named("socket")

	s := &Socket{
		cfg:     cfg,
		log:     log,
		mm:      pool.NewMemoryManager(cfg, log),
		conns:   newConnectionTable(64, cfg.MaxConnections),
		events:  concurrency.NewConcurrentCircularQueue[NetworkEvent](cfg.EventQueueSize),
		wake:    make(chan struct{}, 1),
		metrics: control.NewMetricsRegistry(),
		probes:  control.NewDebugProbes(),
	}
	s.channels = channel.NewChannelPool(cfg, log)
	s.router = NewChannelRouter(s.mm, s, log)
	if cfg.ProcessingThreads > 0 {
		s.inbound = concurrency.NewConcurrentCircularQueue[inboundDatagram](cfg.ProcessingQueueSize)
	}
	if cfg.UseSimulator {
		s.sim = newSimulator(cfg.SimulatorConfig, s.mm, time.Now().UnixNano(), s.writeDirect)
	}
	control.RegisterPlatformProbes(s.probes)
	s.probes.RegisterProbe("socket.connections", func() any { return s.conns.len() })
	s.probes.RegisterProbe("socket.memory", func() any { return s.mm.Stats() })
	s.probes.RegisterProbe("socket.peers", s.peerStates)
	return s, nil
}

// Config returns the socket's private copy of its configuration.
func (s *Socket) Config() *config.SocketConfig { return s.cfg }

// MemoryManager exposes the pools backing event payloads.
func (s *Socket) MemoryManager() *pool.MemoryManager { return s.mm }

// LocalAddr returns the bound endpoint, or the zero value before Start.
func (s *Socket) LocalAddr() netip.AddrPort {
	if conn := s.udp.Load(); conn != nil {
		return normalize(conn.LocalAddr().(*net.UDPAddr).AddrPort())
	}
	return netip.AddrPort{}
}

// Start binds the socket and launches its goroutines.
func (s *Socket) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return api.ErrSocketClosed
	}
	if s.running.Load() {
		return api.ErrSocketRunning
	}

	conn, err := s.listen(ctx)
	if err != nil {
		return err
	}
	s.udp.Store(conn)
	s.running.Store(true)

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	s.cancel = cancel
	s.group = g

	for i := 0; i < s.cfg.SocketThreads; i++ {
		g.Go(func() error { return s.receiveLoop(gctx, conn) })
	}
	for i := 0; i < s.cfg.ProcessingThreads; i++ {
		g.Go(func() error { return s.processLoop(gctx) })
	}
	for i := 0; i < s.cfg.LogicThreads; i++ {
		i := i
		g.Go(func() error { return s.logicLoop(gctx, i, s.cfg.LogicThreads) })
	}
	g.Go(func() error {
		<-gctx.Done()
		// Unblocks pending reads.
		return conn.SetReadDeadline(time.Now())
	})

	s.log.Info("socket started",
		zap.Stringer("addr", s.LocalAddr()),
		zap.Int("socket_threads", s.cfg.SocketThreads),
		zap.Int("logic_threads", s.cfg.LogicThreads),
		zap.Int("processing_threads", s.cfg.ProcessingThreads))
	return nil
}

func (s *Socket) listen(ctx context.Context) (*net.UDPConn, error) {
	network, host := "udp4", s.cfg.IPv4ListenAddress
	if s.cfg.UseIPv6Dual {
		network, host = "udp", s.cfg.IPv6ListenAddress
	}
	address := net.JoinHostPort(host, strconv.Itoa(s.cfg.DualListenPort))
	lc := net.ListenConfig{Control: socketControl(s.cfg, s.log)}
	pc, err := lc.ListenPacket(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, address, err)
	}
	conn := pc.(*net.UDPConn)
	applyPortableOptions(conn, s.cfg, s.log)
	return conn, nil
}

// Stop disconnects every peer, stops the goroutines and releases pooled
// memory. Events not yet polled are discarded.
func (s *Socket) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return api.ErrSocketClosed
	}
	s.closed = true
	wasRunning := s.running.Swap(false)
	cancel, g := s.cancel, s.group
	s.mu.Unlock()

	for _, c := range s.conns.collect(0, 1, nil) {
		s.dropConnection(c, EventDisconnect, true)
	}

	var err error
	if wasRunning {
		cancel()
		err = g.Wait()
		if cerr := s.udp.Swap(nil).Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	s.drainInbound()
	for {
		ev, ok := s.events.TryDequeue()
		if !ok {
			break
		}
		ev.Recycle()
	}
	if s.sim != nil {
		s.sim.release()
	}
	s.channels.Release()
	s.mm.Release()
	s.log.Info("socket stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Connect starts a handshake with addr.
func (s *Socket) Connect(addr netip.AddrPort) (*Connection, error) {
	if !addr.IsValid() || addr.Port() == 0 {
		return nil, api.WrapError(api.ErrCodeInvalidArgument, api.ErrInvalidArgument, "invalid remote endpoint").
			WithContext("addr", addr.String())
	}
	if !s.running.Load() {
		return nil, api.ErrSocketClosed
	}
	addr = normalize(addr)
	c, created, err := s.conns.getOrCreate(addr, func() *Connection {
		return newConnection(s, s.nextID.Add(1), addr, StateRequesting)
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	if created {
		c.mu.Lock()
		c.handshakeLastSent = nettime.Now()
		c.mu.Unlock()
		s.sendConnectionRequest(c)
	}
	return c, nil
}

// Send queues payload on channel channelID of conn.
func (s *Socket) Send(conn *Connection, channelID byte, payload []byte, noMerge bool, notificationKey uint64) error {
	if !s.running.Load() {
		return api.ErrSocketClosed
	}
	if conn == nil || conn.State() != StateConnected {
		return api.ErrNotConnected
	}
	return s.router.SendMessage(conn, channelID, payload, noMerge, notificationKey)
}

// SendUnconnected sends payload to addr outside of any connection.
func (s *Socket) SendUnconnected(addr netip.AddrPort, payload []byte) error {
	if !s.cfg.AllowUnconnectedMessages {
		return api.ErrUnconnectedNotAllowed
	}
	return s.sendTagged(protocol.MessageUnconnectedData, normalize(addr), payload)
}

// SendBroadcast sends payload to the IPv4 limited broadcast address.
func (s *Socket) SendBroadcast(port uint16, payload []byte) error {
	if !s.cfg.AllowBroadcasts {
		return api.ErrBroadcastNotAllowed
	}
	addr := netip.AddrPortFrom(netip.AddrFrom4([4]byte{255, 255, 255, 255}), port)
	return s.sendTagged(protocol.MessageBroadcast, addr, payload)
}

func (s *Socket) sendTagged(t protocol.MessageType, addr netip.AddrPort, payload []byte) error {
	if !s.running.Load() {
		return api.ErrSocketClosed
	}
	if 1+len(payload) > s.cfg.MinimumMTU {
		return api.ErrPayloadTooLarge
	}
	mem := s.mm.AllocHeapMemory(1 + len(payload))
	buf := mem.Bytes()
	buf[0] = protocol.PackHeader(t)
	copy(buf[1:], payload)
	s.writeTo(addr, buf)
	s.mm.DeAllocHeapMemory(mem)
	return nil
}

// Disconnect tears conn down, optionally telling the peer.
func (s *Socket) Disconnect(conn *Connection, sendMessage bool) {
	if conn == nil {
		return
	}
	s.dropConnection(conn, EventDisconnect, sendMessage)
}

// Poll returns the next pending event.
func (s *Socket) Poll() (NetworkEvent, bool) {
	return s.events.TryDequeue()
}

// PublishEvent implements EventSink. Events that do not fit are dropped.
func (s *Socket) PublishEvent(ev NetworkEvent) {
	s.metrics.Add("events."+ev.Type.String(), 1)
	if s.events.TryEnqueue(ev) {
		return
	}
	s.stats.eventsDropped.Add(1)
	s.log.Warn("event queue full, dropping event", zap.Stringer("type", ev.Type))
	ev.Recycle()
}

// RunInternalLoop runs one logic tick over every connection. It is meant
// for sockets configured with LogicThreads == 0.
func (s *Socket) RunInternalLoop() {
	s.runLogic(0, 1)
}

// Stats returns the current counters.
func (s *Socket) Stats() Stats {
	return Stats{
		Connections:     s.conns.len(),
		PacketsSent:     s.stats.packetsSent.Load(),
		PacketsReceived: s.stats.packetsReceived.Load(),
		BytesSent:       s.stats.bytesSent.Load(),
		BytesReceived:   s.stats.bytesReceived.Load(),
		DroppedIncoming: s.stats.droppedIncoming.Load(),
		DroppedOutgoing: s.stats.droppedOutgoing.Load(),
		EventsDropped:   s.stats.eventsDropped.Load(),
		EventsQueued:    s.events.Count(),
		Memory:          s.mm.Stats(),
	}
}

// Metrics refreshes and returns the socket's metrics registry.
func (s *Socket) Metrics() *control.MetricsRegistry {
	st := s.Stats()
	s.metrics.SetAll(map[string]any{
		"socket.connections":      st.Connections,
		"socket.packets_sent":     st.PacketsSent,
		"socket.packets_received": st.PacketsReceived,
		"socket.bytes_sent":       st.BytesSent,
		"socket.bytes_received":   st.BytesReceived,
		"socket.dropped_incoming": st.DroppedIncoming,
		"socket.dropped_outgoing": st.DroppedOutgoing,
		"socket.events_dropped":   st.EventsDropped,
		"socket.events_queued":    st.EventsQueued,
		"memory.heap_memory_live": st.Memory.HeapMemory.Live,
		"memory.wrappers_live":    st.Memory.MemoryWrappers.Live,
	})
	return s.metrics
}

// Probes returns the debug probe registry.
func (s *Socket) Probes() *control.DebugProbes { return s.probes }

// peerStates summarises every connection for the debug probes.
func (s *Socket) peerStates() any {
	out := make(map[string]string)
	for _, c := range s.conns.collect(0, 1, nil) {
		out[c.addr.String()] = fmt.Sprintf("%s mtu=%d rtt=%s", c.State(), c.MTU(), c.Roundtrip())
	}
	return out
}

// Snapshot encodes the current metrics and probe output as CBOR.
func (s *Socket) Snapshot() ([]byte, error) {
	return control.EncodeSnapshot(control.TakeSnapshot(s.Metrics(), s.probes))
}

func (s *Socket) receiveLoop(ctx context.Context, conn *net.UDPConn) error {
	buf := s.mm.AllocHeapMemory(s.cfg.MaxBufferSize)
	defer s.mm.DeAllocHeapMemory(buf)
	data := buf.Bytes()
	for {
		n, addr, err := conn.ReadFromUDPAddrPort(data)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Debug("receive failed", zap.Error(err))
			continue
		}
		now := nettime.Now()
		s.stats.packetsReceived.Add(1)
		s.stats.bytesReceived.Add(uint64(n))
		addr = normalize(addr)

		if s.inbound == nil {
			s.handleDatagram(addr, data[:n], now)
			continue
		}
		mem := s.mm.AllocHeapMemory(n)
		copy(mem.Bytes(), data[:n])
		if !s.inbound.TryEnqueue(inboundDatagram{addr: addr, mem: mem, at: now}) {
			s.stats.droppedIncoming.Add(1)
			s.mm.DeAllocHeapMemory(mem)
			continue
		}
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (s *Socket) processLoop(ctx context.Context) error {
	for {
		d, ok := s.inbound.TryDequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-s.wake:
			case <-time.After(s.tickInterval()):
			}
			continue
		}
		s.handleDatagram(d.addr, d.mem.Bytes(), d.at)
		s.mm.DeAllocHeapMemory(d.mem)
	}
}

func (s *Socket) drainInbound() {
	if s.inbound == nil {
		return
	}
	for {
		d, ok := s.inbound.TryDequeue()
		if !ok {
			return
		}
		s.mm.DeAllocHeapMemory(d.mem)
	}
}

func (s *Socket) logicLoop(ctx context.Context, index, step int) error {
	ticker := time.NewTicker(s.tickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runLogic(index, step)
		}
	}
}

func (s *Socket) tickInterval() time.Duration {
	if s.cfg.LogicDelay <= 0 {
		return time.Millisecond
	}
	return s.cfg.LogicDelay
}

// runLogic updates the connections of every step-th table shard starting
// at index.
func (s *Socket) runLogic(index, step int) {
	if s.sim != nil && index == 0 {
		s.sim.flush()
	}
	now := nettime.Now()
	for _, c := range s.conns.collect(index, step, nil) {
		s.updateConnection(c, now)
	}
}

// sendDatagram sends payload to the peer of c, subject to its bandwidth
// budget.
func (s *Socket) sendDatagram(c *Connection, payload []byte) {
	if c.bandwidth != nil && !c.bandwidth.TrySend(len(payload)) {
		s.stats.droppedOutgoing.Add(1)
		return
	}
	c.lastSent.Store(int64(nettime.Now()))
	s.writeTo(c.addr, payload)
}

func (s *Socket) writeTo(addr netip.AddrPort, payload []byte) {
	if s.sim != nil {
		if !s.sim.add(addr, payload) {
			s.stats.droppedOutgoing.Add(1)
		}
		return
	}
	s.writeDirect(addr, payload)
}

func (s *Socket) writeDirect(addr netip.AddrPort, payload []byte) {
	conn := s.udp.Load()
	if conn == nil {
		return
	}
	n, err := conn.WriteToUDPAddrPort(payload, addr)
	if err != nil {
		s.stats.droppedOutgoing.Add(1)
		s.log.Debug("send failed", zap.Stringer("remote", addr), zap.Error(err))
		return
	}
	s.stats.packetsSent.Add(1)
	s.stats.bytesSent.Add(uint64(n))
}

// normalize maps IPv4-in-IPv6 endpoints to plain IPv4 so that both socket
// families key the table identically.
func normalize(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}
