//go:build !linux
// +build !linux

// File: socket/sockopt_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import (
	"net"
	"syscall"

	"go.uber.org/zap"

	"github.com/momentics/hioload-rudp/config"
)

func socketControl(*config.SocketConfig, *zap.Logger) func(network, address string, c syscall.RawConn) error {
	return nil
}

// applyPortableOptions sets what the net package exposes. Broadcast sends
// rely on the platform default.
func applyPortableOptions(conn *net.UDPConn, cfg *config.SocketConfig, log *zap.Logger) {
	if cfg.ReceiveBufferSize > 0 {
		if err := conn.SetReadBuffer(cfg.ReceiveBufferSize); err != nil {
			log.Warn("set read buffer", zap.Error(err))
		}
	}
	if cfg.SendBufferSize > 0 {
		if err := conn.SetWriteBuffer(cfg.SendBufferSize); err != nil {
			log.Warn("set write buffer", zap.Error(err))
		}
	}
	if cfg.AllowBroadcasts {
		log.Debug("SO_BROADCAST is only set on linux")
	}
}
