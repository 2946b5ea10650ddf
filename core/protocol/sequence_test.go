package protocol_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rudp/core/protocol"
)

func TestDistance_AntisymmetricAndAdjacent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, width := range []int{1, 2, 4} {
		mask := uint64(1)<<(uint(width)*8) - 1
		half := (mask + 1) / 2
		for i := 0; i < 2000; i++ {
			a := rng.Uint64() & mask
			b := rng.Uint64() & mask
			if (a-b)&mask == half {
				continue
			}
			require.Equal(t, protocol.Distance(a, b, width), -protocol.Distance(b, a, width),
				"width=%d a=%d b=%d", width, a, b)

			next := (a + 1) & mask
			require.Equal(t, int64(-1), protocol.Distance(a, next, width), "width=%d a=%d", width, a)
		}
	}
}

func TestDistance_HalfRange(t *testing.T) {
	require.Equal(t, int64(-128), protocol.Distance(108, 236, 1))
	require.Equal(t, int64(-128), protocol.Distance(236, 108, 1))
	require.Equal(t, int64(-32768), protocol.Distance(0, 32768, 2))
}

func TestDistance_Wraparound(t *testing.T) {
	require.Equal(t, int64(1), protocol.Distance(0, 255, 1))
	require.Equal(t, int64(-1), protocol.Distance(255, 0, 1))
	require.Equal(t, int64(2), protocol.Distance(1, 65535, 2))
	require.Equal(t, int64(-10), protocol.Distance(0xFFFFFFFA, 4, 4))
	require.Equal(t, int64(5), protocol.Distance(5, 0, 8))
}

func TestDistance16Helpers(t *testing.T) {
	require.Equal(t, 1, protocol.Distance16(0, 65535))
	require.True(t, protocol.IsNewer16(3, 65534))
	require.False(t, protocol.IsNewer16(65534, 3))
	require.False(t, protocol.IsNewer16(7, 7))
}
