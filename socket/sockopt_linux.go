//go:build linux
// +build linux

// File: socket/sockopt_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package socket

import (
	"net"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-rudp/config"
)

// socketControl sets buffer sizes and SO_BROADCAST before bind.
func socketControl(cfg *config.SocketConfig, log *zap.Logger) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			if cfg.ReceiveBufferSize > 0 {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.ReceiveBufferSize); err != nil {
					log.Warn("SO_RCVBUF", zap.Error(err))
				}
			}
			if cfg.SendBufferSize > 0 {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBufferSize); err != nil {
					log.Warn("SO_SNDBUF", zap.Error(err))
				}
			}
			if cfg.AllowBroadcasts {
				opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			}
		})
		if err != nil {
			return err
		}
		return opErr
	}
}

func applyPortableOptions(*net.UDPConn, *config.SocketConfig, *zap.Logger) {}
