// File: socket/bandwidth.go
// Package socket
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import (
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/momentics/hioload-rudp/api"
)

// bucketEpoch anchors the virtual clock of every TokenBucket.
var bucketEpoch = time.Unix(0, 0)

// TokenBucket is a byte budget refilled at a fixed rate. Time only moves
// when Update is called, so the logic tick decides the refill.
type TokenBucket struct {
	limiter *rate.Limiter
	clock   atomic.Int64 // nanoseconds since bucketEpoch
}

var _ api.BandwidthTracker = (*TokenBucket)(nil)

// NewTokenBucket allows bytesPerSecond on average with bursts up to burst
// bytes. The bucket starts full.
func NewTokenBucket(bytesPerSecond, burst int) *TokenBucket {
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst)}
}

func (b *TokenBucket) now() time.Time {
	return bucketEpoch.Add(time.Duration(b.clock.Load()))
}

// TrySend implements api.BandwidthTracker.
func (b *TokenBucket) TrySend(n int) bool {
	return b.limiter.AllowN(b.now(), n)
}

// Update implements api.BandwidthTracker.
func (b *TokenBucket) Update(elapsed time.Duration) {
	if elapsed > 0 {
		b.clock.Add(int64(elapsed))
	}
}

// Available returns the current budget in bytes.
func (b *TokenBucket) Available() int {
	return int(math.Floor(b.limiter.TokensAt(b.now()) + 1e-9))
}
