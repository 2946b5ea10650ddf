// File: core/protocol/merger.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// MessageMerger coalesces small outgoing datagrams of one connection into a
// single merge datagram: [merge header]{[len u16 LE][message]}...

package protocol

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/momentics/hioload-rudp/api"
	"github.com/momentics/hioload-rudp/core/nettime"
)

// Merge unpack outcomes. Both are input errors; entries decoded before the
// problem are still returned.
var (
	ErrNestedMerge    = errors.New("nested merge entry dropped")
	ErrMergeTruncated = errors.New("merge entry truncated")
)

const mergeLengthPrefix = 2

// MessageMerger is safe for concurrent use.
type MessageMerger struct {
	mu         sync.Mutex
	buffer     []byte
	position   int
	size       int
	flushDelay time.Duration
	lastFlush  nettime.NetTime
}

// NewMessageMerger creates a merger whose flushed datagrams never exceed maxSize.
func NewMessageMerger(maxSize int, flushDelay time.Duration) *MessageMerger {
	if maxSize < 1+mergeLengthPrefix {
		maxSize = 1 + mergeLengthPrefix
	}
	m := &MessageMerger{
		buffer:     make([]byte, maxSize),
		size:       maxSize,
		flushDelay: flushDelay,
	}
	m.buffer[0] = PackHeader(MessageMerge)
	m.position = 1
	m.lastFlush = nettime.Now()
	return m
}

// TryWrite appends payload. It returns false when payload does not fit and
// must be sent on its own.
func (m *MessageMerger) TryWrite(payload []byte) bool {
	if len(payload) == 0 || len(payload) > 0xFFFF {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.position+mergeLengthPrefix+len(payload) > m.size {
		return false
	}
	binary.LittleEndian.PutUint16(m.buffer[m.position:], uint16(len(payload)))
	m.position += mergeLengthPrefix
	m.position += copy(m.buffer[m.position:], payload)
	return true
}

// TryFlush copies the pending merge datagram into dst[:0] and resets the
// merger when force is set or the flush delay has elapsed. ok is false when
// there is nothing to flush.
func (m *MessageMerger) TryFlush(force bool, dst []byte) (out []byte, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.position <= 1 {
		return nil, false
	}
	now := nettime.Now()
	if !force && now.Sub(m.lastFlush) < m.flushDelay {
		return nil, false
	}
	out = append(dst[:0], m.buffer[:m.position]...)
	m.position = 1
	m.lastFlush = now
	return out, true
}

// Pending reports whether unflushed entries exist.
func (m *MessageMerger) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position > 1
}

// Size returns the effective maximum merged datagram size.
func (m *MessageMerger) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// ExpandToSize raises the effective size. Shrinking could cut pending
// entries and panics.
func (m *MessageMerger) ExpandToSize(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size < m.size {
		panic(api.NewMemoryError(api.ErrMergeShrink, "MessageMerger"))
	}
	if size > len(m.buffer) {
		grown := make([]byte, size)
		copy(grown, m.buffer[:m.position])
		m.buffer = grown
	}
	m.size = size
}

// Clear drops pending entries.
func (m *MessageMerger) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = 1
	m.lastFlush = nettime.Now()
}

// UnpackMerged splits the body of a merge datagram (everything after the
// merge header byte) into its inner messages, appending them to out. The
// returned slices alias payload. Inner messages that are merges themselves
// are skipped, and a truncated entry ends the walk.
func UnpackMerged(payload []byte, out [][]byte) ([][]byte, error) {
	var nested bool
	pos := 0
	for pos < len(payload) {
		if len(payload)-pos < mergeLengthPrefix {
			return out, errors.Join(nestedErr(nested), ErrMergeTruncated)
		}
		n := int(binary.LittleEndian.Uint16(payload[pos:]))
		pos += mergeLengthPrefix
		if n > len(payload)-pos {
			return out, errors.Join(nestedErr(nested), ErrMergeTruncated)
		}
		entry := payload[pos : pos+n]
		pos += n
		if n == 0 {
			continue
		}
		if UnpackHeader(entry[0]) == MessageMerge {
			nested = true
			continue
		}
		out = append(out, entry)
	}
	return out, nestedErr(nested)
}

func nestedErr(nested bool) error {
	if nested {
		return ErrNestedMerge
	}
	return nil
}
