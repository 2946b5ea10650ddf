// File: api/connection.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection is the view of a peer connection that channels are allowed to use.

package api

import "time"

// Connection is implemented by the socket layer and handed to channels on Assign.
type Connection interface {
	// ID is the socket-local identifier of the connection.
	ID() uint64

	// MTU is the current maximum datagram size for this peer.
	MTU() int

	// Roundtrip returns the smoothed round trip time.
	Roundtrip() time.Duration

	// AddRoundtripSample feeds one measured round trip.
	AddRoundtripSample(rtt time.Duration)

	// SendRaw hands a fully framed datagram to the send path.
	// The payload may be merged unless noMerge is set. SendRaw does not
	// retain payload after it returns.
	SendRaw(payload []byte, noMerge bool)

	// NotifyAck reports that the message sent with key has been acknowledged.
	NotifyAck(channelID byte, key uint64)
}
