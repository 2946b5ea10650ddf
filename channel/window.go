// File: channel/window.go
// Package channel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import "github.com/momentics/hioload-rudp/core/protocol"

// windowSlots rounds n up to a power of two so that seq%slots stays
// consistent across the 16-bit wrap.
func windowSlots(n int) int {
	slots := 1
	for slots < n && slots < 1<<15 {
		slots <<= 1
	}
	return slots
}

// seqWindow remembers which of the most recent sequences were seen.
// Anything size or more behind the newest seen sequence is stale: the
// window can no longer tell whether it was delivered.
type seqWindow struct {
	seqs    []uint16
	seen    []bool
	newest  uint16
	started bool
}

type seqVerdict uint8

const (
	seqFresh seqVerdict = iota
	seqDuplicate
	seqStale
)

func newSeqWindow(size int) *seqWindow {
	size = windowSlots(size)
	return &seqWindow{seqs: make([]uint16, size), seen: make([]bool, size)}
}

// observe records seq if it is fresh.
func (w *seqWindow) observe(seq uint16) seqVerdict {
	size := len(w.seqs)
	if w.started && protocol.Distance16(seq, w.newest) <= -size {
		return seqStale
	}
	idx := int(seq) % size
	if w.seen[idx] && w.seqs[idx] == seq {
		return seqDuplicate
	}
	w.seqs[idx] = seq
	w.seen[idx] = true
	if !w.started || protocol.IsNewer16(seq, w.newest) {
		w.newest = seq
		w.started = true
	}
	return seqFresh
}

func (w *seqWindow) reset() {
	clear(w.seqs)
	clear(w.seen)
	w.newest = 0
	w.started = false
}

// newestTracker accepts only sequences strictly ahead of the last accepted.
type newestTracker struct {
	last    uint16
	started bool
}

func (n *newestTracker) accept(seq uint16) bool {
	if n.started && !protocol.IsNewer16(seq, n.last) {
		return false
	}
	n.last = seq
	n.started = true
	return true
}

func (n *newestTracker) reset() { *n = newestTracker{} }
