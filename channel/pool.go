// File: channel/pool.go
// Package channel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-rudp/api"
	"github.com/momentics/hioload-rudp/config"
	"github.com/momentics/hioload-rudp/internal/concurrency"
	"github.com/momentics/hioload-rudp/pool"
)

// ChannelPool recycles unassigned channels per type.
type ChannelPool struct {
	log   *zap.Logger
	pools [api.ChannelTypeCount]*concurrency.ConcurrentCircularQueue[Channel]
}

// NewChannelPool creates a queue of cfg.ChannelPoolSize for each type in
// cfg.PooledChannels. Types without a queue are always constructed fresh.
func NewChannelPool(cfg *config.SocketConfig, log *zap.Logger) *ChannelPool {
	if log == nil {
		log = zap.NewNop()
	}
	p := &ChannelPool{log: log.Named("channels")}
	if cfg.ChannelPoolSize < 1 {
		return p
	}
	for _, t := range api.AllChannelTypes {
		if cfg.PooledChannels.Has(t) {
			p.pools[t] = concurrency.NewConcurrentCircularQueue[Channel](cfg.ChannelPoolSize)
		}
	}
	return p
}

// GetChannel returns a channel of type t assigned to conn.
func (p *ChannelPool) GetChannel(t api.ChannelType, channelID byte, conn api.Connection, cfg *config.SocketConfig, mm *pool.MemoryManager) (Channel, error) {
	if !t.IsValid() {
		return nil, api.WrapError(api.ErrCodeInvalidArgument, api.ErrInvalidChannel, "unknown channel type").
			WithContext("channel_type", uint8(t))
	}
	var ch Channel
	if q := p.pools[t]; q != nil {
		ch, _ = q.TryDequeue()
	}
	if ch == nil {
		var err error
		if ch, err = New(t, p.log); err != nil {
			return nil, err
		}
	}
	ch.Assign(channelID, conn, cfg, mm)
	return ch, nil
}

// Return releases ch and keeps it for reuse when its queue has room.
func (p *ChannelPool) Return(ch Channel) {
	if ch == nil {
		return
	}
	ch.Release()
	if q := p.pools[ch.Type()]; q != nil {
		q.TryEnqueue(ch)
	}
}

// Release drops every pooled channel.
func (p *ChannelPool) Release() {
	for _, q := range p.pools {
		if q == nil {
			continue
		}
		for {
			if _, ok := q.TryDequeue(); !ok {
				break
			}
		}
	}
}

// Pooled returns how many unassigned channels of type t are waiting.
func (p *ChannelPool) Pooled(t api.ChannelType) int {
	if !t.IsValid() || p.pools[t] == nil {
		return 0
	}
	return p.pools[t].Count()
}
