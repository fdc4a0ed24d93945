package checkout

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// StorageKey is the key prefix of persisted checkout snapshots.
const StorageKey = "wufi-checkout-store-phase3"

// SnapshotKey returns the storage key of the snapshot for cartID.
func SnapshotKey(cartID string) string {
	return StorageKey + ":" + cartID
}

// Snapshot is the persisted subset of the checkout state. Errors, loading,
// connectivity, pending operations and optimistic updates never persist.
type Snapshot struct {
	FormData        FormData        `json:"formData"`
	CustomerType    CustomerType    `json:"customerType"`
	CurrentStep     StepID          `json:"currentStep"`
	AutoAdvancement AutoAdvancement `json:"autoAdvancement"`
}

// EncodeSnapshot serializes s.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	b, err := sonic.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode checkout snapshot: %w", err)
	}
	return b, nil
}

// DecodeSnapshot parses a snapshot. Unknown steps fall back to the first
// step, a missing form map becomes empty and auto-advancement fields the
// snapshot lacks keep their defaults.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	s := Snapshot{AutoAdvancement: DefaultAutoAdvancement()}
	if err := sonic.Unmarshal(b, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode checkout snapshot: %w", err)
	}
	if !s.CurrentStep.Valid() {
		s.CurrentStep = Steps[0]
	}
	if s.FormData == nil {
		s.FormData = FormData{}
	}
	return s, nil
}

// Persister receives a snapshot after every change to a persisted field.
type Persister interface {
	Persist(Snapshot)
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(Snapshot)

func (f PersisterFunc) Persist(s Snapshot) { f(s) }
