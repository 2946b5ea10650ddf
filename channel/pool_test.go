package channel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rudp/api"
	"github.com/momentics/hioload-rudp/channel"
	"github.com/momentics/hioload-rudp/config"
	"github.com/momentics/hioload-rudp/pool"
)

func TestChannelPoolReuse(t *testing.T) {
	cfg := config.DefaultSocketConfig()
	mm := pool.NewMemoryManager(cfg, nil)
	p := channel.NewChannelPool(cfg, nil)
	conn := &fakeConn{mtu: 512, rtt: time.Millisecond}

	ch, err := p.GetChannel(api.ChannelReliableOrdered, 3, conn, cfg, mm)
	require.NoError(t, err)
	require.Equal(t, api.ChannelReliableOrdered, ch.Type())
	p.Return(ch)
	require.Equal(t, 1, p.Pooled(api.ChannelReliableOrdered))

	again, err := p.GetChannel(api.ChannelReliableOrdered, 4, conn, cfg, mm)
	require.NoError(t, err)
	require.Same(t, ch, again)
	require.Zero(t, p.Pooled(api.ChannelReliableOrdered))

	p.Return(again)
	p.Release()
	require.Zero(t, p.Pooled(api.ChannelReliableOrdered))
}

func TestChannelPoolUnpooledType(t *testing.T) {
	cfg := config.DefaultSocketConfig()
	cfg.PooledChannels = api.ChannelReliable.Flag()
	mm := pool.NewMemoryManager(cfg, nil)
	p := channel.NewChannelPool(cfg, nil)
	conn := &fakeConn{mtu: 512}

	ch, err := p.GetChannel(api.ChannelUnreliable, 0, conn, cfg, mm)
	require.NoError(t, err)
	p.Return(ch)
	require.Zero(t, p.Pooled(api.ChannelUnreliable))

	_, err = p.GetChannel(api.ChannelType(200), 0, conn, cfg, mm)
	require.ErrorIs(t, err, api.ErrInvalidChannel)
}
