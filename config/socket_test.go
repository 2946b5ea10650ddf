package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rudp/api"
	"github.com/momentics/hioload-rudp/config"
)

func containsField(messages []string, field string) bool {
	for _, m := range messages {
		if strings.Contains(m, field) {
			return true
		}
	}
	return false
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.Empty(t, config.DefaultSocketConfig().GetInvalidConfiguration())
}

func TestCrossConstrainedPairs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *config.SocketConfig)
		field  string
	}{
		{"mtu order", func(c *config.SocketConfig) { c.MaximumMTU = c.MinimumMTU - 1 }, "MaximumMTU"},
		{"mtu floor", func(c *config.SocketConfig) { c.MinimumMTU = 500 }, "MinimumMTU"},
		{"buffer below mtu", func(c *config.SocketConfig) { c.MaxBufferSize = c.MaximumMTU - 1 }, "MaxBufferSize"},
		{"merge above mtu", func(c *config.SocketConfig) { c.MaxMergeMessageSize = c.MaximumMTU + 1 }, "MaxMergeMessageSize"},
		{"padding above mtu", func(c *config.SocketConfig) { c.AmplificationPreventionHandshakePadding = c.MaximumMTU + 1 }, "AmplificationPreventionHandshakePadding"},
		{"latency order", func(c *config.SocketConfig) { c.SimulatorConfig.MaxLatency = c.SimulatorConfig.MinLatency - time.Millisecond }, "MaxLatency"},
		{"drop percentage", func(c *config.SocketConfig) { c.SimulatorConfig.DropPercentage = 1.5 }, "DropPercentage"},
		{"socket threads", func(c *config.SocketConfig) { c.SocketThreads = 0 }, "SocketThreads"},
		{"negative timeout", func(c *config.SocketConfig) { c.ConnectionTimeout = -time.Second }, "ConnectionTimeout"},
		{"negative resends", func(c *config.SocketConfig) { c.MaxHandshakeResends = -1 }, "MaxHandshakeResends"},
		{"negative pool", func(c *config.SocketConfig) { c.HeapMemoryPoolSize = -1 }, "HeapMemoryPoolSize"},
		{"unknown channel", func(c *config.SocketConfig) { c.ChannelTypes = append(c.ChannelTypes, api.ChannelType(42)) }, "ChannelTypes[2]"},
		{"too many channels", func(c *config.SocketConfig) { c.ChannelTypes = make([]api.ChannelType, 256) }, "ChannelTypes"},
		{"receive window below send window", func(c *config.SocketConfig) { c.ReliableAckFlowWindowSize = c.ReliabilityWindowSize - 1 }, "ReliableAckFlowWindowSize"},
		{"tracker missing", func(c *config.SocketConfig) { c.EnableBandwidthTracking = true }, "CreateBandwidthTracker"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := config.DefaultSocketConfig()
			tc.mutate(c)
			msgs := c.GetInvalidConfiguration()
			require.NotEmpty(t, msgs)
			require.True(t, containsField(msgs, tc.field), "messages %v do not mention %s", msgs, tc.field)
		})
	}
}

func TestAllViolationsReportedAtOnce(t *testing.T) {
	c := config.DefaultSocketConfig()
	c.SocketThreads = 0
	c.MaximumMTU = 100
	c.EventQueueSize = 0
	msgs := c.GetInvalidConfiguration()
	require.True(t, containsField(msgs, "SocketThreads"))
	require.True(t, containsField(msgs, "MaximumMTU"))
	require.True(t, containsField(msgs, "EventQueueSize"))
	require.GreaterOrEqual(t, len(msgs), 3)
}

func TestCloneDoesNotShareChannels(t *testing.T) {
	c := config.DefaultSocketConfig()
	d := c.Clone()
	d.ChannelTypes[0] = api.ChannelUnreliableRaw
	require.Equal(t, api.ChannelReliable, c.ChannelTypes[0])
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rudp.yaml")
	yaml := `
socket:
  maximum_mtu: 2048
  max_merge_delay: 30ms
  channel_types:
    - reliable_ordered
    - unreliable_raw
    - reliable_sequenced_fragmented
  simulator:
    drop_percentage: 0.25
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("RUDP_SOCKET_MINIMUM_MTU", "600")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 2048, cfg.Socket.MaximumMTU)
	require.Equal(t, 600, cfg.Socket.MinimumMTU)
	require.Equal(t, 30*time.Millisecond, cfg.Socket.MaxMergeDelay)
	require.Equal(t, []api.ChannelType{
		api.ChannelReliableOrdered,
		api.ChannelUnreliableRaw,
		api.ChannelReliableSequencedFragmented,
	}, cfg.Socket.ChannelTypes)
	require.InDelta(t, 0.25, cfg.Socket.SimulatorConfig.DropPercentage, 1e-9)
	require.Equal(t, "debug", cfg.Log.Level)
	// untouched keys keep their defaults
	require.Equal(t, config.DefaultSocketConfig().ReliabilityWindowSize, cfg.Socket.ReliabilityWindowSize)
	require.Empty(t, cfg.Socket.GetInvalidConfiguration())
}

func TestLoadRejectsUnknownChannelName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("socket:\n  channel_types: [teleport]\n"), 0o644))
	_, err := config.Load(path)
	require.Error(t, err)
}
