// control/snapshot.go
// Author: momentics <momentics@gmail.com>
//
// Deterministic CBOR export of metrics and probe output.

package control

import (
	"fmt"
	"time"

	cbor "github.com/fxamacker/cbor/v2"
)

// Snapshot is the exported form of a registry and its probes.
type Snapshot struct {
	Taken   time.Time      `cbor:"taken"`
	Metrics map[string]any `cbor:"metrics"`
	Probes  map[string]any `cbor:"probes,omitempty"`
}

var (
	snapshotEnc cbor.EncMode
	snapshotDec cbor.DecMode
)

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	snapshotEnc, snapshotDec = em, dm
}

// TakeSnapshot captures metrics and, when probes is non-nil, probe output.
func TakeSnapshot(mr *MetricsRegistry, probes *DebugProbes) Snapshot {
	s := Snapshot{Taken: time.Now().UTC(), Metrics: mr.GetSnapshot()}
	if probes != nil {
		s.Probes = probes.DumpState()
	}
	return s
}

// EncodeSnapshot serialises a snapshot in canonical CBOR.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	data, err := snapshotEnc.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses data produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := snapshotDec.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}
