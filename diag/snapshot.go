// Package diag captures point-in-time snapshots of a tether runtime for
// postmortem diagnostics. Snapshots are encoded as canonical CBOR so dumps
// taken on different machines compare byte-for-byte.
package diag

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/tether"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("diag: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// FrameInfo describes one live frame, top first.
type FrameInfo struct {
	Used     int `cbor:"1,keyasint"`
	Capacity int `cbor:"2,keyasint"`
}

// PoolInfo describes one dispatch pool's queue.
type PoolInfo struct {
	Affinity      string `cbor:"1,keyasint"`
	QueueLength   int    `cbor:"2,keyasint"`
	QueueCapacity int    `cbor:"3,keyasint"`
}

// Snapshot is a point-in-time description of a runtime.
type Snapshot struct {
	TakenAt       time.Time   `cbor:"1,keyasint"`
	StackDepth    int         `cbor:"2,keyasint"`
	Slabs         int         `cbor:"3,keyasint"`
	Frames        []FrameInfo `cbor:"4,keyasint,omitempty"`
	LedgerEntries int         `cbor:"5,keyasint"`
	Pools         []PoolInfo  `cbor:"6,keyasint,omitempty"`
}

// Capture snapshots the runtime. Must be called from the context that owns
// the main frame stack.
func Capture(rt *tether.Runtime) *Snapshot {
	stack := rt.MainStack().Stats()
	s := &Snapshot{
		TakenAt:       time.Now().UTC().Truncate(time.Second),
		StackDepth:    stack.Depth,
		Slabs:         stack.Slabs,
		LedgerEntries: rt.Ledger().Len(),
	}
	for _, f := range stack.Frames {
		s.Frames = append(s.Frames, FrameInfo{Used: f.Used, Capacity: f.Capacity})
	}
	for _, p := range rt.Dispatcher().Stats() {
		s.Pools = append(s.Pools, PoolInfo{
			Affinity:      p.Affinity.String(),
			QueueLength:   p.QueueLength,
			QueueCapacity: p.QueueCapacity,
		})
	}
	return s
}

// Marshal serializes a snapshot to canonical CBOR bytes.
func Marshal(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// Unmarshal deserializes a snapshot from CBOR bytes.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("diag: unmarshal snapshot: %w", err)
	}
	return &s, nil
}
