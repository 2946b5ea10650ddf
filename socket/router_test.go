package socket

import (
	"bytes"
	"net/netip"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/hioload-rudp/api"
	"github.com/momentics/hioload-rudp/config"
	"github.com/momentics/hioload-rudp/core/nettime"
	"github.com/momentics/hioload-rudp/core/protocol"
	"github.com/momentics/hioload-rudp/pool"
)

type recorder struct {
	mu     sync.Mutex
	events []NetworkEvent
}

func (r *recorder) PublishEvent(ev NetworkEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func newIdleSocket(t *testing.T, mutate func(*config.SocketConfig)) *Socket {
	t.Helper()
	cfg := config.DefaultSocketConfig()
	cfg.MemoryLeakDetection = true
	if mutate != nil {
		mutate(cfg)
	}
	s, err := NewSocket(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func connectedPeer(t *testing.T, s *Socket, port uint16, types ...api.ChannelType) *Connection {
	t.Helper()
	addr := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port)
	c := newConnection(s, uint64(port), addr, StateConnected)
	require.NoError(t, s.setupChannels(c, types))
	return c
}

func TestRouterDeliversToPeer(t *testing.T) {
	s := newIdleSocket(t, nil)
	a := connectedPeer(t, s, 1000, api.ChannelUnreliable, api.ChannelReliable)
	b := connectedPeer(t, s, 2000, api.ChannelUnreliable, api.ChannelReliable)
	sink := &recorder{}
	ra := NewChannelRouter(s.mm, sink, nil)
	rb := NewChannelRouter(s.mm, sink, nil)

	payload := []byte("0123456789")
	ptrs, dealloc, err := ra.CreateOutgoingMessage(a, 1, payload, false, 0)
	require.NoError(t, err)
	require.False(t, dealloc, "reliable datagrams stay in the send window")
	require.Len(t, ptrs.Items(), 1)
	datagram := bytes.Clone(ptrs.Items()[0].(*pool.HeapMemory).Bytes())
	s.mm.DeAllocHeapPointers(ptrs)

	require.Equal(t, protocol.MessageData, protocol.UnpackHeader(datagram[0]))
	rb.HandleIncomingMessage(b, datagram[1:], nettime.Now())

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	require.Equal(t, EventData, ev.Type)
	require.Same(t, b, ev.Connection)
	require.Equal(t, byte(1), ev.ChannelID)
	require.Equal(t, payload, ev.Payload())
	ev.Recycle()

	a.releaseResources()
	b.releaseResources()
	require.Empty(t, s.mm.Leaks())
	require.NoError(t, s.Stop())
}

func TestRouterRejectsUnknownChannel(t *testing.T) {
	s := newIdleSocket(t, nil)
	c := connectedPeer(t, s, 1000, api.ChannelReliable)
	core, logs := observer.New(zapcore.WarnLevel)
	sink := &recorder{}
	r := NewChannelRouter(s.mm, sink, zap.New(core))

	r.HandleIncomingMessage(c, []byte{5, 0, 0, 'x'}, nettime.Now())
	r.HandleIncomingAck(c, []byte{5, 0, 0})
	r.HandleIncomingMessage(c, nil, nettime.Now())
	require.Empty(t, sink.events)
	require.Equal(t, 3, logs.Len())

	require.ErrorIs(t, r.SendMessage(c, 3, []byte("x"), false, 0), api.ErrInvalidChannel)
	require.ErrorIs(t, r.SendMessage(c, 0, make([]byte, 4096), false, 0), api.ErrPayloadTooLarge)

	c.releaseResources()
	require.NoError(t, s.Stop())
}

func TestRouterUpdateReportsTimeout(t *testing.T) {
	s := newIdleSocket(t, func(c *config.SocketConfig) {
		c.ReliabilityMaxResendAttempts = 0
		c.ReliabilityMinPacketResendDelay = 0
		c.ReliabilityResendRoundtripMultiplier = 0
	})
	c := connectedPeer(t, s, 1000, api.ChannelUnreliable, api.ChannelReliableOrdered)
	r := NewChannelRouter(s.mm, &recorder{}, nil)
	require.False(t, r.Update(c))
	require.NoError(t, r.SendMessage(c, 1, []byte("x"), true, 0))
	require.True(t, r.Update(c))
	c.releaseResources()
	require.NoError(t, s.Stop())
}

// lateSink counts events published after the connection was released.
type lateSink struct {
	released atomic.Bool
	late     atomic.Int64
	total    atomic.Int64
}

func (l *lateSink) PublishEvent(ev NetworkEvent) {
	if l.released.Load() {
		l.late.Add(1)
	}
	l.total.Add(1)
	ev.Recycle()
}

func rawDatagram(t *testing.T, s *Socket, from *Connection, payload []byte) []byte {
	t.Helper()
	ptrs, dealloc, err := NewChannelRouter(s.mm, &recorder{}, nil).CreateOutgoingMessage(from, 0, payload, true, 0)
	require.NoError(t, err)
	require.True(t, dealloc)
	mem := ptrs.Items()[0].(*pool.HeapMemory)
	datagram := bytes.Clone(mem.Bytes())
	s.mm.DeAllocHeapMemory(mem)
	s.mm.DeAllocHeapPointers(ptrs)
	return datagram
}

func TestRouterStopsUsingReleasedChannels(t *testing.T) {
	s := newIdleSocket(t, nil)
	sender := connectedPeer(t, s, 1000, api.ChannelUnreliableRaw)
	old := connectedPeer(t, s, 2000, api.ChannelUnreliableRaw)
	datagram := rawDatagram(t, s, sender, []byte("stale"))

	sink := &lateSink{}
	r := NewChannelRouter(s.mm, sink, nil)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				r.HandleIncomingMessage(old, datagram[1:], nettime.Now())
			}
		}
	}()
	for sink.total.Load() == 0 {
		runtime.Gosched()
	}
	old.releaseResources()
	sink.released.Store(true)

	// The pooled channel is handed to a new peer while the old one still
	// receives traffic.
	fresh := connectedPeer(t, s, 3000, api.ChannelUnreliableRaw)
	for i := 0; i < 100; i++ {
		r.HandleIncomingMessage(old, datagram[1:], nettime.Now())
	}
	close(stop)
	<-done
	require.Zero(t, sink.late.Load(), "released connection delivered data")

	before := sink.total.Load()
	r.HandleIncomingMessage(fresh, datagram[1:], nettime.Now())
	require.Equal(t, before+1, sink.total.Load(), "the new peer owns the channel")

	sender.releaseResources()
	fresh.releaseResources()
	require.Empty(t, s.mm.Leaks())
	require.NoError(t, s.Stop())
}
