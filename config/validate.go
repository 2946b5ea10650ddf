// File: config/validate.go
// Package config
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package config

import (
	"fmt"
	"net"
	"time"
)

// GetInvalidConfiguration checks every field and cross-field rule and
// returns one message per violation. An empty result means the
// configuration is usable. It has no side effects.
func (c *SocketConfig) GetInvalidConfiguration() []string {
	var messages []string
	report := func(format string, args ...any) {
		messages = append(messages, fmt.Sprintf(format, args...))
	}
	nonNegative := func(name string, v int) {
		if v < 0 {
			report("%s cannot be negative, got %d", name, v)
		}
	}
	nonNegativeDuration := func(name string, d time.Duration) {
		if d < 0 {
			report("%s cannot be negative, got %s", name, d)
		}
	}

	// Socket
	if c.IPv4ListenAddress != "" && net.ParseIP(c.IPv4ListenAddress).To4() == nil {
		report("IPv4ListenAddress %q is not a valid IPv4 address", c.IPv4ListenAddress)
	}
	if c.UseIPv6Dual && net.ParseIP(c.IPv6ListenAddress) == nil {
		report("IPv6ListenAddress %q is not a valid IP address", c.IPv6ListenAddress)
	}
	if c.DualListenPort < 0 || c.DualListenPort > 65535 {
		report("DualListenPort must be within [0, 65535], got %d", c.DualListenPort)
	}
	nonNegative("ReceiveBufferSize", c.ReceiveBufferSize)
	nonNegative("SendBufferSize", c.SendBufferSize)
	nonNegative("MaxConnections", c.MaxConnections)

	// Threading
	if c.SocketThreads < 1 {
		report("SocketThreads must be at least 1, got %d", c.SocketThreads)
	}
	nonNegative("LogicThreads", c.LogicThreads)
	nonNegative("ProcessingThreads", c.ProcessingThreads)
	if c.ProcessingThreads > 0 && c.ProcessingQueueSize < 1 {
		report("ProcessingQueueSize must be at least 1 when ProcessingThreads is set, got %d", c.ProcessingQueueSize)
	}
	if c.EventQueueSize < 1 {
		report("EventQueueSize must be at least 1, got %d", c.EventQueueSize)
	}
	nonNegativeDuration("LogicDelay", c.LogicDelay)

	// Memory
	nonNegative("HeapMemoryPoolSize", c.HeapMemoryPoolSize)
	nonNegative("HeapPointersPoolSize", c.HeapPointersPoolSize)
	nonNegative("MemoryWrapperPoolSize", c.MemoryWrapperPoolSize)
	nonNegative("ChannelPoolSize", c.ChannelPoolSize)

	// Connection lifecycle
	nonNegativeDuration("ConnectionRequestMinResendDelay", c.ConnectionRequestMinResendDelay)
	nonNegative("MaxConnectionRequestResends", c.MaxConnectionRequestResends)
	nonNegativeDuration("ConnectionRequestTimeout", c.ConnectionRequestTimeout)
	nonNegativeDuration("HandshakeMinResendDelay", c.HandshakeMinResendDelay)
	nonNegative("MaxHandshakeResends", c.MaxHandshakeResends)
	nonNegativeDuration("HandshakeTimeout", c.HandshakeTimeout)
	nonNegativeDuration("ConnectionTimeout", c.ConnectionTimeout)
	nonNegativeDuration("HeartbeatDelay", c.HeartbeatDelay)
	if c.EnableTimeouts && c.EnableHeartbeats && c.HeartbeatDelay >= c.ConnectionTimeout {
		report("HeartbeatDelay (%s) must be lower than ConnectionTimeout (%s)", c.HeartbeatDelay, c.ConnectionTimeout)
	}

	// Channels
	if len(c.ChannelTypes) > MaxChannels {
		report("ChannelTypes cannot contain more than %d channels, got %d", MaxChannels, len(c.ChannelTypes))
	}
	for i, t := range c.ChannelTypes {
		if !t.IsValid() {
			report("ChannelTypes[%d] has unknown channel type %d", i, t)
		}
	}

	// Reliability
	if c.ReliabilityWindowSize < 1 {
		report("ReliabilityWindowSize must be at least 1, got %d", c.ReliabilityWindowSize)
	}
	if c.ReliabilityWindowSize > 1<<15 {
		report("ReliabilityWindowSize cannot exceed %d, got %d", 1<<15, c.ReliabilityWindowSize)
	}
	if c.ReliableAckFlowWindowSize < 1 {
		report("ReliableAckFlowWindowSize must be at least 1, got %d", c.ReliableAckFlowWindowSize)
	}
	if c.ReliableAckFlowWindowSize > 1<<15 {
		report("ReliableAckFlowWindowSize cannot exceed %d, got %d", 1<<15, c.ReliableAckFlowWindowSize)
	}
	if c.ReliabilityWindowSize > c.ReliableAckFlowWindowSize {
		report("ReliableAckFlowWindowSize (%d) must be at least ReliabilityWindowSize (%d)", c.ReliableAckFlowWindowSize, c.ReliabilityWindowSize)
	}
	nonNegative("ReliabilityMaxResendAttempts", c.ReliabilityMaxResendAttempts)
	if c.ReliabilityResendRoundtripMultiplier < 0 {
		report("ReliabilityResendRoundtripMultiplier cannot be negative, got %g", c.ReliabilityResendRoundtripMultiplier)
	}
	nonNegativeDuration("ReliabilityMinPacketResendDelay", c.ReliabilityMinPacketResendDelay)
	nonNegativeDuration("InitialRoundtrip", c.InitialRoundtrip)
	if c.MaxFragments < 1 || c.MaxFragments > 0xFFFF {
		report("MaxFragments must be within [1, 65535], got %d", c.MaxFragments)
	}

	// MTU
	if c.MinimumMTU < ProtocolMinimumMTU {
		report("MinimumMTU cannot be lower than %d, got %d", ProtocolMinimumMTU, c.MinimumMTU)
	}
	if c.MaximumMTU < c.MinimumMTU {
		report("MaximumMTU (%d) cannot be lower than MinimumMTU (%d)", c.MaximumMTU, c.MinimumMTU)
	}
	if c.MaxBufferSize < c.MaximumMTU {
		report("MaxBufferSize (%d) cannot be lower than MaximumMTU (%d)", c.MaxBufferSize, c.MaximumMTU)
	}
	nonNegative("MaxMTUAttempts", c.MaxMTUAttempts)
	nonNegativeDuration("MTUAttemptDelay", c.MTUAttemptDelay)
	if c.EnablePathMTU && c.MTUGrowthFactor <= 1 {
		report("MTUGrowthFactor must be greater than 1 when EnablePathMTU is set, got %g", c.MTUGrowthFactor)
	}

	// Merging
	if c.MaxMergeMessageSize > c.MaximumMTU {
		report("MaxMergeMessageSize (%d) cannot be greater than MaximumMTU (%d)", c.MaxMergeMessageSize, c.MaximumMTU)
	}
	if c.EnablePacketMerging && c.MaxMergeMessageSize < 4 {
		report("MaxMergeMessageSize must be at least 4 when EnablePacketMerging is set, got %d", c.MaxMergeMessageSize)
	}
	nonNegativeDuration("MaxMergeDelay", c.MaxMergeDelay)

	// Security
	nonNegative("AmplificationPreventionHandshakePadding", c.AmplificationPreventionHandshakePadding)
	if c.AmplificationPreventionHandshakePadding > c.MaximumMTU {
		report("AmplificationPreventionHandshakePadding (%d) cannot be greater than MaximumMTU (%d)",
			c.AmplificationPreventionHandshakePadding, c.MaximumMTU)
	}

	// Simulator
	if c.SimulatorConfig.DropPercentage < 0 || c.SimulatorConfig.DropPercentage > 1 {
		report("SimulatorConfig.DropPercentage must be within [0, 1], got %g", c.SimulatorConfig.DropPercentage)
	}
	nonNegativeDuration("SimulatorConfig.MinLatency", c.SimulatorConfig.MinLatency)
	if c.SimulatorConfig.MaxLatency < c.SimulatorConfig.MinLatency {
		report("SimulatorConfig.MaxLatency (%s) cannot be lower than SimulatorConfig.MinLatency (%s)",
			c.SimulatorConfig.MaxLatency, c.SimulatorConfig.MinLatency)
	}

	// Bandwidth
	if c.EnableBandwidthTracking && c.CreateBandwidthTracker == nil {
		report("CreateBandwidthTracker must be set when EnableBandwidthTracking is enabled")
	}

	return messages
}
