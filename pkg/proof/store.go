package proof

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/0xredeth/Quittance/pkg/store"
)

// ErrNotFound is wrapped by Store.Get when no entity exists for an ID.
var ErrNotFound = errors.New("api call not found")

// Store is the persistence contract the pipeline writes through. Upsert
// must be replay-safe: a second write for an existing ID is a silent
// no-op. Get wraps ErrNotFound for unknown IDs. Implementations must
// serialize concurrent upserts to the same ID. Any other failure, such as
// an unreachable backend, propagates to the caller untouched; retry
// policy belongs to the caller.
type Store interface {
	Upsert(ctx context.Context, call *store.ApiCall) error
	Get(ctx context.Context, id string) (*store.ApiCall, error)
	Count(ctx context.Context) (int64, error)
}

// GormStore is the PostgreSQL-backed Store. The handle may be a plain
// connection or an open transaction; inside the engine it is the block
// transaction, so a failed write rolls back with the rest of the block.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a gorm handle as a Store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Upsert creates the api call unless a row with its ID already exists.
func (s *GormStore) Upsert(ctx context.Context, call *store.ApiCall) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(call).Error
	if err != nil {
		return fmt.Errorf("upserting api call %s: %w", call.ID, err)
	}
	return nil
}

// Get returns the api call stored under id.
func (s *GormStore) Get(ctx context.Context, id string) (*store.ApiCall, error) {
	var call store.ApiCall
	err := s.db.WithContext(ctx).First(&call, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting api call %s: %w", id, err)
	}
	return &call, nil
}

// Count returns the number of stored api calls.
func (s *GormStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&store.ApiCall{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting api calls: %w", err)
	}
	return n, nil
}
