package socket

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rudp/api"
	"github.com/momentics/hioload-rudp/config"
	"github.com/momentics/hioload-rudp/pool"
)

var loopback = netip.MustParseAddr("127.0.0.1")

func TestConnectionTableLimit(t *testing.T) {
	tbl := newConnectionTable(4, 2)
	mk := func(port uint16) *Connection {
		return &Connection{addr: netip.AddrPortFrom(loopback, port)}
	}
	a, created, err := tbl.getOrCreate(netip.AddrPortFrom(loopback, 1), func() *Connection { return mk(1) })
	require.NoError(t, err)
	require.True(t, created)
	again, created, err := tbl.getOrCreate(netip.AddrPortFrom(loopback, 1), func() *Connection { return mk(1) })
	require.NoError(t, err)
	require.False(t, created)
	require.Same(t, a, again)

	_, _, err = tbl.getOrCreate(netip.AddrPortFrom(loopback, 2), func() *Connection { return mk(2) })
	require.NoError(t, err)
	_, _, err = tbl.getOrCreate(netip.AddrPortFrom(loopback, 3), func() *Connection { return mk(3) })
	require.ErrorIs(t, err, api.ErrResourceExhausted)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, api.ErrCodeResourceExhausted, apiErr.Code)
	require.Equal(t, 2, tbl.len())

	require.True(t, tbl.remove(a))
	require.False(t, tbl.remove(a))
	require.Len(t, tbl.collect(0, 1, nil), 1)

	var striped int
	for i := 0; i < 3; i++ {
		striped += len(tbl.collect(i, 3, nil))
	}
	require.Equal(t, 1, striped)
}

func TestConnectionTableConcurrent(t *testing.T) {
	tbl := newConnectionTable(16, 10000)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for port := uint16(1); port <= 500; port++ {
				addr := netip.AddrPortFrom(loopback, port)
				if _, _, err := tbl.getOrCreate(addr, func() *Connection { return &Connection{addr: addr} }); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 500, tbl.len())
	require.Len(t, tbl.collect(0, 1, nil), 500)
}

func TestNormalizeUnmapsIPv4(t *testing.T) {
	mapped := netip.AddrPortFrom(netip.MustParseAddr("::ffff:10.0.0.1"), 9)
	require.Equal(t, netip.MustParseAddrPort("10.0.0.1:9"), normalize(mapped))
	require.Equal(t, hashAddr(normalize(mapped)), hashAddr(netip.MustParseAddrPort("10.0.0.1:9")))
}

func TestTokenBucket(t *testing.T) {
	b := NewTokenBucket(1000, 100)
	require.True(t, b.TrySend(60))
	require.False(t, b.TrySend(60))
	b.Update(20 * time.Millisecond)
	require.Equal(t, 60, b.Available())
	require.True(t, b.TrySend(60))
	b.Update(time.Hour)
	require.Equal(t, 100, b.Available(), "refill is capped at burst")
	require.False(t, b.TrySend(101), "a datagram larger than the burst never fits")
	require.Equal(t, 100, b.Available())
}

func TestSimulator(t *testing.T) {
	cfg := config.DefaultSocketConfig()
	cfg.MemoryLeakDetection = true
	mm := pool.NewMemoryManager(cfg, nil)
	addr := netip.AddrPortFrom(loopback, 5)

	var got [][]byte
	send := func(_ netip.AddrPort, p []byte) { got = append(got, append([]byte(nil), p...)) }

	lossy := newSimulator(config.SimulatorConfig{DropPercentage: 1}, mm, 1, send)
	require.False(t, lossy.add(addr, []byte("x")))

	delayed := newSimulator(config.SimulatorConfig{MinLatency: 20 * time.Millisecond, MaxLatency: 30 * time.Millisecond}, mm, 1, send)
	require.True(t, delayed.add(addr, []byte("late")))
	delayed.flush()
	require.Empty(t, got)
	require.Eventually(t, func() bool {
		delayed.flush()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []byte("late"), got[0])

	require.True(t, delayed.add(addr, []byte("pending")))
	delayed.release()
	require.Empty(t, mm.Leaks())
}

func TestBandwidthLimitDropsDatagrams(t *testing.T) {
	s := newIdleSocket(t, func(c *config.SocketConfig) {
		c.EnableBandwidthTracking = true
		c.EnablePacketMerging = false
		c.CreateBandwidthTracker = func() api.BandwidthTracker { return NewTokenBucket(0, 10) }
	})
	c := connectedPeer(t, s, 1000, api.ChannelUnreliableRaw)
	require.NoError(t, s.router.SendMessage(c, 0, []byte("12345678"), false, 0))
	require.NoError(t, s.router.SendMessage(c, 0, []byte("12345678"), false, 0))
	require.Equal(t, uint64(1), s.Stats().DroppedOutgoing)
	c.releaseResources()
	require.NoError(t, s.Stop())
}
