package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wufi/storefront-checkout/internal/checkout"
)

const writeTimeout = 2 * time.Second

// SnapshotPersister writes checkout snapshots of one cart to a Store.
// Write failures are logged; the in-memory session stays authoritative.
type SnapshotPersister struct {
	store  Store
	key    string
	logger *zap.Logger
}

func NewSnapshotPersister(s Store, cartID string, logger *zap.Logger) *SnapshotPersister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotPersister{
		store:  s,
		key:    checkout.SnapshotKey(cartID),
		logger: logger,
	}
}

func (p *SnapshotPersister) Persist(snap checkout.Snapshot) {
	b, err := checkout.EncodeSnapshot(snap)
	if err != nil {
		p.logger.Error("encode snapshot", zap.String("key", p.key), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := p.store.Set(ctx, p.key, b); err != nil {
		p.logger.Error("persist snapshot", zap.String("key", p.key), zap.Error(err))
	}
}

// LoadSnapshot reads the snapshot of cartID. ok is false when none exists.
func LoadSnapshot(ctx context.Context, s Store, cartID string) (snap checkout.Snapshot, ok bool, err error) {
	b, ok, err := s.Get(ctx, checkout.SnapshotKey(cartID))
	if err != nil || !ok {
		return checkout.Snapshot{}, false, err
	}
	snap, err = checkout.DecodeSnapshot(b)
	if err != nil {
		return checkout.Snapshot{}, false, err
	}
	return snap, true, nil
}

// DeleteSnapshot removes the snapshot of cartID.
func DeleteSnapshot(ctx context.Context, s Store, cartID string) error {
	return s.Delete(ctx, checkout.SnapshotKey(cartID))
}
