package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ApiCallQuery filters and pages the api_calls table.
type ApiCallQuery struct {
	Emitter   *string
	CallID    *string
	FromBlock *uint64
	ToBlock   *uint64
	FromTime  *uint64
	ToTime    *uint64
	OrderBy   string // timestamp, block_number or id (default id)
	OrderDir  string // ASC (default) or DESC
	Limit     int
	Skip      int
	AfterID   *string // cursor: rows strictly beyond this id
}

// EventQuery filters and pages the raw events table.
type EventQuery struct {
	ContractName *string
	EventName    *string
	FromBlock    *uint64
	ToBlock      *uint64
	FromTime     *time.Time
	ToTime       *time.Time
	OrderBy      string // timestamp, block_number or id (default id)
	OrderDir     string // ASC (default) or DESC
	Limit        int
	Skip         int
	AfterID      *uint64
}

var orderColumns = map[string]string{
	"timestamp":    "timestamp",
	"block_number": "block_number",
	"id":           "id",
}

// orderClause builds a deterministic ORDER BY from the whitelisted column
// and direction, tie-breaking on id.
func orderClause(orderBy, orderDir string) string {
	col, ok := orderColumns[orderBy]
	if !ok {
		col = "id"
	}
	dir := "ASC"
	if orderDir == "DESC" || orderDir == "desc" {
		dir = "DESC"
	}
	if col == "id" {
		return fmt.Sprintf("id %s", dir)
	}
	return fmt.Sprintf("%s %s, id %s", col, dir, dir)
}

// QueryApiCalls returns matching api calls and the filtered total. The total
// ignores limit, skip and cursor.
func (s *Store) QueryApiCalls(ctx context.Context, q ApiCallQuery) ([]ApiCall, int64, error) {
	base := s.db.WithContext(ctx).Model(&ApiCall{})

	if q.Emitter != nil {
		base = base.Where("emitter = ?", *q.Emitter)
	}
	if q.CallID != nil {
		base = base.Where("call_id = ?", *q.CallID)
	}
	if q.FromBlock != nil {
		base = base.Where("block_number >= ?", *q.FromBlock)
	}
	if q.ToBlock != nil {
		base = base.Where("block_number <= ?", *q.ToBlock)
	}
	if q.FromTime != nil {
		base = base.Where("timestamp >= ?", *q.FromTime)
	}
	if q.ToTime != nil {
		base = base.Where("timestamp <= ?", *q.ToTime)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting api calls: %w", err)
	}

	res := base.Session(&gorm.Session{})
	if q.AfterID != nil {
		if q.OrderDir == "DESC" || q.OrderDir == "desc" {
			res = res.Where("id < ?", *q.AfterID)
		} else {
			res = res.Where("id > ?", *q.AfterID)
		}
	}
	res = res.Order(orderClause(q.OrderBy, q.OrderDir))
	if q.Skip > 0 {
		res = res.Offset(q.Skip)
	}
	if q.Limit > 0 {
		res = res.Limit(q.Limit)
	}

	var calls []ApiCall
	if err := res.Find(&calls).Error; err != nil {
		return nil, 0, fmt.Errorf("querying api calls: %w", err)
	}
	return calls, total, nil
}

// GetApiCallByID returns the api call with the given id, or nil when absent.
func (s *Store) GetApiCallByID(ctx context.Context, id string) (*ApiCall, error) {
	var call ApiCall
	err := s.db.WithContext(ctx).First(&call, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting api call %s: %w", id, err)
	}
	return &call, nil
}

// GetApiCallsByTxHash returns all api calls in a transaction, ordered by
// log index.
func (s *Store) GetApiCallsByTxHash(ctx context.Context, txHash string) ([]ApiCall, error) {
	var calls []ApiCall
	err := s.db.WithContext(ctx).
		Where("tx_hash = ?", txHash).
		Order("log_index ASC").
		Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("querying api calls by tx hash: %w", err)
	}
	return calls, nil
}

// GetApiCallCount returns the number of indexed api calls.
func (s *Store) GetApiCallCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ApiCall{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting api calls: %w", err)
	}
	return count, nil
}

// UpsertApiCall inserts the call, silently keeping the existing row when the
// id is already present. Replays of the same log are no-ops.
func (s *Store) UpsertApiCall(ctx context.Context, call *ApiCall) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(call).Error
	if err != nil {
		return fmt.Errorf("upserting api call %s: %w", call.ID, err)
	}
	return nil
}

// QueryEvents returns matching raw events and the filtered total. The total
// ignores limit, skip and cursor.
func (s *Store) QueryEvents(ctx context.Context, q EventQuery) ([]Event, int64, error) {
	base := s.db.WithContext(ctx).Model(&Event{})

	if q.ContractName != nil {
		base = base.Where("contract_name = ?", *q.ContractName)
	}
	if q.EventName != nil {
		base = base.Where("event_name = ?", *q.EventName)
	}
	if q.FromBlock != nil {
		base = base.Where("block_number >= ?", *q.FromBlock)
	}
	if q.ToBlock != nil {
		base = base.Where("block_number <= ?", *q.ToBlock)
	}
	if q.FromTime != nil {
		base = base.Where("timestamp >= ?", *q.FromTime)
	}
	if q.ToTime != nil {
		base = base.Where("timestamp <= ?", *q.ToTime)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting events: %w", err)
	}

	res := base.Session(&gorm.Session{})
	if q.AfterID != nil {
		if q.OrderDir == "DESC" || q.OrderDir == "desc" {
			res = res.Where("id < ?", *q.AfterID)
		} else {
			res = res.Where("id > ?", *q.AfterID)
		}
	}
	res = res.Order(orderClause(q.OrderBy, q.OrderDir))
	if q.Skip > 0 {
		res = res.Offset(q.Skip)
	}
	if q.Limit > 0 {
		res = res.Limit(q.Limit)
	}

	var events []Event
	if err := res.Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("querying events: %w", err)
	}
	return events, total, nil
}

// GetEventByID returns the raw event with the given id, or nil when absent.
func (s *Store) GetEventByID(ctx context.Context, id uint64) (*Event, error) {
	var event Event
	err := s.db.WithContext(ctx).First(&event, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting event %d: %w", id, err)
	}
	return &event, nil
}

// GetSyncStatus returns the checkpoint for a contract, or nil when the
// contract has never been indexed.
func (s *Store) GetSyncStatus(ctx context.Context, contract string) (*SyncStatus, error) {
	var status SyncStatus
	err := s.db.WithContext(ctx).First(&status, "contract = ?", contract).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting sync status for %s: %w", contract, err)
	}
	return &status, nil
}

// UpsertSyncStatus writes the checkpoint for a contract.
func (s *Store) UpsertSyncStatus(ctx context.Context, status *SyncStatus) error {
	return UpsertSyncStatusTx(s.db.WithContext(ctx), status)
}

// UpsertSyncStatusTx is UpsertSyncStatus against an existing transaction
// handle, so the checkpoint can commit atomically with the block it covers.
func UpsertSyncStatusTx(tx *gorm.DB, status *SyncStatus) error {
	err := tx.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "contract"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_block_number", "last_block_hash", "updated_at"}),
		}).
		Create(status).Error
	if err != nil {
		return fmt.Errorf("upserting sync status for %s: %w", status.Contract, err)
	}
	return nil
}

// ListSyncStatuses returns every contract checkpoint.
func (s *Store) ListSyncStatuses(ctx context.Context) ([]SyncStatus, error) {
	var statuses []SyncStatus
	if err := s.db.WithContext(ctx).Order("contract ASC").Find(&statuses).Error; err != nil {
		return nil, fmt.Errorf("listing sync statuses: %w", err)
	}
	return statuses, nil
}
