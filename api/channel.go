// File: api/channel.go
// Package api defines channel delivery types shared by config, channel and socket.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "strings"

// ChannelType selects the delivery guarantee of a channel.
type ChannelType uint8

const (
	ChannelReliable ChannelType = iota
	ChannelReliableOrdered
	ChannelReliableSequenced
	ChannelReliableFragmented
	ChannelReliableSequencedFragmented
	ChannelUnreliable
	ChannelUnreliableOrdered
	ChannelUnreliableRaw
)

// ChannelTypeCount is the number of known channel variants.
const ChannelTypeCount = 8

// AllChannelTypes lists every known variant in declaration order.
var AllChannelTypes = [ChannelTypeCount]ChannelType{
	ChannelReliable,
	ChannelReliableOrdered,
	ChannelReliableSequenced,
	ChannelReliableFragmented,
	ChannelReliableSequencedFragmented,
	ChannelUnreliable,
	ChannelUnreliableOrdered,
	ChannelUnreliableRaw,
}

// IsValid reports whether t is one of the known variants.
func (t ChannelType) IsValid() bool {
	return t < ChannelTypeCount
}

// IsReliable reports whether messages on t are resent until acknowledged.
func (t ChannelType) IsReliable() bool {
	return t <= ChannelReliableSequencedFragmented
}

// Flag returns the bit of t inside a ChannelTypeFlags set.
func (t ChannelType) Flag() ChannelTypeFlags {
	if !t.IsValid() {
		return 0
	}
	return 1 << t
}

func (t ChannelType) String() string {
	switch t {
	case ChannelReliable:
		return "reliable"
	case ChannelReliableOrdered:
		return "reliable_ordered"
	case ChannelReliableSequenced:
		return "reliable_sequenced"
	case ChannelReliableFragmented:
		return "reliable_fragmented"
	case ChannelReliableSequencedFragmented:
		return "reliable_sequenced_fragmented"
	case ChannelUnreliable:
		return "unreliable"
	case ChannelUnreliableOrdered:
		return "unreliable_ordered"
	case ChannelUnreliableRaw:
		return "unreliable_raw"
	default:
		return "unknown"
	}
}

// ParseChannelType maps a name produced by String back to its type.
func ParseChannelType(s string) (ChannelType, bool) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, t := range AllChannelTypes {
		if t.String() == name {
			return t, true
		}
	}
	return 0, false
}

// ChannelTypeFlags is a bit set of channel types.
type ChannelTypeFlags uint16

// AllChannelTypeFlags has every variant enabled.
const AllChannelTypeFlags ChannelTypeFlags = 1<<ChannelTypeCount - 1

// Has reports whether t is in the set.
func (f ChannelTypeFlags) Has(t ChannelType) bool {
	return t.IsValid() && f&t.Flag() != 0
}
