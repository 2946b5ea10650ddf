// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wire-level building blocks of the hioload-rudp engine:
//   - datagram header packing with an explicit message type allow-list
//   - wraparound-safe sequence distance for 8/16/32/64-bit spaces
//   - MessageMerger, which coalesces small datagrams behind one merge header
//
// Nothing here performs I/O; the socket package drives these primitives.
package protocol
