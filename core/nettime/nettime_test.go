package nettime_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rudp/core/nettime"
)

func TestNowIsMonotonic(t *testing.T) {
	a := nettime.Now()
	require.False(t, a.IsZero())
	time.Sleep(2 * time.Millisecond)
	b := nettime.Now()
	require.True(t, b.After(a))
	require.True(t, a.Before(b))
	require.GreaterOrEqual(t, b.Sub(a), 2*time.Millisecond)
}

func TestAddAndSince(t *testing.T) {
	now := nettime.Now()
	later := now.Add(50 * time.Millisecond)
	require.Equal(t, 50*time.Millisecond, later.Sub(now))
	require.Less(t, nettime.Since(later), time.Duration(0))
	require.Equal(t, int64(0), nettime.NetTime(999_999).Milliseconds())
	require.Equal(t, int64(3), nettime.NetTime(3*time.Millisecond).Milliseconds())
}
