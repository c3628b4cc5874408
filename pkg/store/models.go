package store

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BaseEvent contains common fields for all event models.
// Embed this in your event structs for consistent indexing.
type BaseEvent struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	BlockNumber uint64    `gorm:"index;not null"`
	TxHash      string    `gorm:"type:varchar(66);index;not null"`
	TxIndex     uint      `gorm:"not null"`
	LogIndex    uint      `gorm:"not null"`
	Timestamp   time.Time `gorm:"index;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// BeforeCreate sets the timestamp if not already set.
func (b *BaseEvent) BeforeCreate(tx *gorm.DB) error {
	if b.Timestamp.IsZero() {
		b.Timestamp = time.Now()
	}
	return nil
}

// SyncStatus represents the synchronization status for the indexer.
type SyncStatus struct {
	Contract        string    `gorm:"primaryKey;type:varchar(100)"`
	LastBlockNumber uint64    `gorm:"not null"`
	LastBlockHash   string    `gorm:"type:varchar(66)"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

// IndexerMeta stores metadata about the indexer instance.
type IndexerMeta struct {
	Key       string    `gorm:"primaryKey;type:varchar(100)"`
	Value     string    `gorm:"type:text"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Event is the raw decoded-event audit row. Every log the indexer decodes is
// recorded here alongside any typed entity a handler materializes from it.
type Event struct {
	BaseEvent
	ContractName string         `gorm:"type:varchar(100);index;not null"`
	ContractAddr string         `gorm:"type:varchar(42);not null"`
	EventName    string         `gorm:"type:varchar(100);index;not null"`
	EventSig     string         `gorm:"type:varchar(66);not null"`
	Data         datatypes.JSON `gorm:"not null"`
}

// TableName returns the table name for Event.
func (Event) TableName() string {
	return "events"
}

// ApiCall represents one proved API call, materialized from an ApiCallProved
// event. The primary key is derived from the emitting log's transaction hash
// and log index, so replaying the same log can never create a second row.
type ApiCall struct {
	// ID is "0x" + hex(txHash ++ bigEndian32(logIndex)): 74 characters.
	ID           string    `gorm:"primaryKey;type:varchar(74)"`
	CallID       string    `gorm:"type:text;index;not null"`
	RequestHash  string    `gorm:"type:varchar(66);not null"`
	ResponseHash string    `gorm:"type:varchar(66);not null"`
	Emitter      string    `gorm:"type:varchar(42);index;not null"`
	TxHash       string    `gorm:"type:varchar(66);index;not null"`
	LogIndex     uint      `gorm:"not null"`
	BlockNumber  uint64    `gorm:"index;not null"`
	Timestamp    uint64    `gorm:"index;not null"` // unix seconds of the containing block
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for ApiCall.
func (ApiCall) TableName() string {
	return "api_calls"
}
