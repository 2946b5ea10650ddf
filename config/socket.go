// File: config/socket.go
// Package config
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SocketConfig is the single configuration snapshot of a socket. It is a
// plain value: nothing is checked when fields are set, GetInvalidConfiguration
// reports every problem at once before the socket starts.

package config

import (
	"time"

	"github.com/momentics/hioload-rudp/api"
)

// ProtocolMinimumMTU is the smallest datagram size the protocol relies on.
const ProtocolMinimumMTU = 512

// MaxChannels bounds ChannelTypes; ids are encoded in one byte.
const MaxChannels = 255

// SimulatorConfig shapes outgoing traffic for testing.
type SimulatorConfig struct {
	DropPercentage float64       `mapstructure:"drop_percentage"`
	MinLatency     time.Duration `mapstructure:"min_latency"`
	MaxLatency     time.Duration `mapstructure:"max_latency"`
}

// SocketConfig holds every tunable of a socket.
type SocketConfig struct {
	// Socket
	IPv4ListenAddress        string `mapstructure:"ipv4_listen_address"`
	IPv6ListenAddress        string `mapstructure:"ipv6_listen_address"`
	DualListenPort           int    `mapstructure:"dual_listen_port"`
	UseIPv6Dual              bool   `mapstructure:"use_ipv6_dual"`
	ReceiveBufferSize        int    `mapstructure:"receive_buffer_size"` // SO_RCVBUF, 0 keeps the OS default
	SendBufferSize           int    `mapstructure:"send_buffer_size"`    // SO_SNDBUF, 0 keeps the OS default
	MaxBufferSize            int    `mapstructure:"max_buffer_size"`
	AllowUnconnectedMessages bool   `mapstructure:"allow_unconnected_messages"`
	AllowBroadcasts          bool   `mapstructure:"allow_broadcasts"`
	MaxConnections           int    `mapstructure:"max_connections"` // 0 means unlimited

	// Threading
	SocketThreads       int           `mapstructure:"socket_threads"`
	LogicThreads        int           `mapstructure:"logic_threads"` // 0: caller drives RunInternalLoop
	ProcessingThreads   int           `mapstructure:"processing_threads"`
	ProcessingQueueSize int           `mapstructure:"processing_queue_size"`
	EventQueueSize      int           `mapstructure:"event_queue_size"`
	LogicDelay          time.Duration `mapstructure:"logic_delay"`

	// Memory
	HeapMemoryPoolSize    int                  `mapstructure:"heap_memory_pool_size"`
	HeapPointersPoolSize  int                  `mapstructure:"heap_pointers_pool_size"`
	MemoryWrapperPoolSize int                  `mapstructure:"memory_wrapper_pool_size"`
	ChannelPoolSize       int                  `mapstructure:"channel_pool_size"`
	PooledChannels        api.ChannelTypeFlags `mapstructure:"pooled_channels"`
	MemoryLeakDetection   bool                 `mapstructure:"memory_leak_detection"`

	// Connection lifecycle
	ConnectionRequestMinResendDelay time.Duration `mapstructure:"connection_request_min_resend_delay"`
	MaxConnectionRequestResends     int           `mapstructure:"max_connection_request_resends"`
	ConnectionRequestTimeout        time.Duration `mapstructure:"connection_request_timeout"`
	HandshakeMinResendDelay         time.Duration `mapstructure:"handshake_min_resend_delay"`
	MaxHandshakeResends             int           `mapstructure:"max_handshake_resends"`
	HandshakeTimeout                time.Duration `mapstructure:"handshake_timeout"`
	ConnectionTimeout               time.Duration `mapstructure:"connection_timeout"`
	HeartbeatDelay                  time.Duration `mapstructure:"heartbeat_delay"`
	EnableTimeouts                  bool          `mapstructure:"enable_timeouts"`
	EnableHeartbeats                bool          `mapstructure:"enable_heartbeats"`

	// Security
	AmplificationPreventionHandshakePadding int `mapstructure:"amplification_prevention_handshake_padding"`

	// Channels
	ChannelTypes []api.ChannelType `mapstructure:"channel_types"`

	// Reliability
	ReliabilityWindowSize                int           `mapstructure:"reliability_window_size"`
	ReliableAckFlowWindowSize            int           `mapstructure:"reliable_ack_flow_window_size"`
	ReliabilityMaxResendAttempts         int           `mapstructure:"reliability_max_resend_attempts"`
	ReliabilityResendRoundtripMultiplier float64       `mapstructure:"reliability_resend_roundtrip_multiplier"`
	ReliabilityMinPacketResendDelay      time.Duration `mapstructure:"reliability_min_packet_resend_delay"`
	InitialRoundtrip                     time.Duration `mapstructure:"initial_roundtrip"`
	MaxFragments                         int           `mapstructure:"max_fragments"`

	// MTU
	EnablePathMTU   bool          `mapstructure:"enable_path_mtu"`
	MinimumMTU      int           `mapstructure:"minimum_mtu"`
	MaximumMTU      int           `mapstructure:"maximum_mtu"`
	MaxMTUAttempts  int           `mapstructure:"max_mtu_attempts"`
	MTUAttemptDelay time.Duration `mapstructure:"mtu_attempt_delay"`
	MTUGrowthFactor float64       `mapstructure:"mtu_growth_factor"`

	// Merging
	EnablePacketMerging bool          `mapstructure:"enable_packet_merging"`
	MaxMergeMessageSize int           `mapstructure:"max_merge_message_size"`
	MaxMergeDelay       time.Duration `mapstructure:"max_merge_delay"`

	// Simulator
	UseSimulator    bool            `mapstructure:"use_simulator"`
	SimulatorConfig SimulatorConfig `mapstructure:"simulator"`

	// Bandwidth
	EnableBandwidthTracking bool                         `mapstructure:"enable_bandwidth_tracking"`
	CreateBandwidthTracker  func() api.BandwidthTracker `mapstructure:"-"`
}

// DefaultSocketConfig returns the documented defaults. The result passes
// GetInvalidConfiguration.
func DefaultSocketConfig() *SocketConfig {
	return &SocketConfig{
		IPv4ListenAddress:        "0.0.0.0",
		IPv6ListenAddress:        "::",
		DualListenPort:           0,
		UseIPv6Dual:              false,
		MaxBufferSize:            1024 * 5,
		AllowUnconnectedMessages: false,
		AllowBroadcasts:          false,
		MaxConnections:           1024,

		SocketThreads:       1,
		LogicThreads:        1,
		ProcessingThreads:   0,
		ProcessingQueueSize: 1024,
		EventQueueSize:      1024 * 8,
		LogicDelay:          5 * time.Millisecond,

		HeapMemoryPoolSize:    1024,
		HeapPointersPoolSize:  1024,
		MemoryWrapperPoolSize: 1024,
		ChannelPoolSize:       1024,
		PooledChannels:        api.AllChannelTypeFlags,
		MemoryLeakDetection:   false,

		ConnectionRequestMinResendDelay: 500 * time.Millisecond,
		MaxConnectionRequestResends:     5,
		ConnectionRequestTimeout:        5 * time.Second,
		HandshakeMinResendDelay:         500 * time.Millisecond,
		MaxHandshakeResends:             20,
		HandshakeTimeout:                30 * time.Second,
		ConnectionTimeout:               30 * time.Second,
		HeartbeatDelay:                  20 * time.Second,
		EnableTimeouts:                  true,
		EnableHeartbeats:                true,

		AmplificationPreventionHandshakePadding: 512,

		ChannelTypes: []api.ChannelType{api.ChannelReliable, api.ChannelUnreliable},

		ReliabilityWindowSize:                512,
		ReliableAckFlowWindowSize:            1024,
		ReliabilityMaxResendAttempts:         30,
		ReliabilityResendRoundtripMultiplier: 1.2,
		ReliabilityMinPacketResendDelay:      100 * time.Millisecond,
		InitialRoundtrip:                     100 * time.Millisecond,
		MaxFragments:                         512,

		EnablePathMTU:   true,
		MinimumMTU:      ProtocolMinimumMTU,
		MaximumMTU:      4096,
		MaxMTUAttempts:  8,
		MTUAttemptDelay: time.Second,
		MTUGrowthFactor: 1.25,

		EnablePacketMerging: true,
		MaxMergeMessageSize: 1450,
		MaxMergeDelay:       15 * time.Millisecond,

		UseSimulator: false,
		SimulatorConfig: SimulatorConfig{
			DropPercentage: 0.1,
			MinLatency:     100 * time.Millisecond,
			MaxLatency:     200 * time.Millisecond,
		},

		EnableBandwidthTracking: false,
	}
}

// Clone returns a copy that does not share the ChannelTypes slice.
func (c *SocketConfig) Clone() *SocketConfig {
	out := *c
	out.ChannelTypes = append([]api.ChannelType(nil), c.ChannelTypes...)
	return &out
}
