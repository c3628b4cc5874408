// Package store provides PostgreSQL persistence for Quittance.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// MetaKeyInstanceID is the IndexerMeta key holding the instance UUID.
const MetaKeyInstanceID = "instance_id"

// Config holds database connection configuration.
type Config struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime.
	ConnMaxLifetime time.Duration

	// LogLevel is the gorm logger level.
	LogLevel logger.LogLevel
}

// DefaultConfig returns the default database configuration.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		LogLevel:        logger.Warn,
	}
}

// TimescaleConfig holds TimescaleDB hypertable settings for the events table.
type TimescaleConfig struct {
	// ChunkInterval is the hypertable chunk interval.
	ChunkInterval string

	// CompressAfter enables compression for chunks older than this interval.
	CompressAfter string

	// RetainFor drops chunks older than this interval. Empty keeps everything.
	RetainFor string
}

// DefaultTimescaleConfig returns one-day chunks, compression after seven
// days, and no retention policy.
func DefaultTimescaleConfig() TimescaleConfig {
	return TimescaleConfig{
		ChunkInterval: "1 day",
		CompressAfter: "7 days",
	}
}

// Store wraps the gorm database handle.
type Store struct {
	db *gorm.DB
}

// New opens a PostgreSQL connection, configures the pool, and verifies the
// database is reachable.
func New(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Store{db: db}, nil
}

// DB returns the underlying gorm handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Migrate runs auto-migration for the given models.
func (s *Store) Migrate(models ...interface{}) error {
	if err := s.db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("migrating models: %w", err)
	}
	return nil
}

// Transaction runs fn inside a database transaction, committing when fn
// returns nil and rolling back otherwise.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// CreateInBatches inserts the given slice in batches of batchSize rows.
func (s *Store) CreateInBatches(ctx context.Context, value interface{}, batchSize int) error {
	return s.db.WithContext(ctx).CreateInBatches(value, batchSize).Error
}

// GetMaxBlockNumber returns the highest block_number in the given table,
// or 0 when the table is empty.
func (s *Store) GetMaxBlockNumber(ctx context.Context, table string) (uint64, error) {
	var maxBlock uint64
	err := s.db.WithContext(ctx).
		Table(table).
		Select("COALESCE(MAX(block_number), 0)").
		Scan(&maxBlock).Error
	if err != nil {
		return 0, fmt.Errorf("querying max block number: %w", err)
	}
	return maxBlock, nil
}

// EnableTimescale converts table into a TimescaleDB hypertable partitioned on
// timestamp and applies the configured compression and retention policies.
// Hypertables require the partition column in every unique index, so the
// surrogate primary key is extended to (id, timestamp) first. Requires the
// timescaledb extension on the server.
func (s *Store) EnableTimescale(ctx context.Context, table string, cfg TimescaleConfig) error {
	db := s.db.WithContext(ctx)

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS timescaledb").Error; err != nil {
		return fmt.Errorf("creating timescaledb extension: %w", err)
	}

	if err := db.Exec(fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s_pkey", table, table)).Error; err != nil {
		return fmt.Errorf("dropping primary key on %s: %w", table, err)
	}
	if err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (id, timestamp)", table)).Error; err != nil {
		return fmt.Errorf("extending primary key on %s: %w", table, err)
	}

	err := db.Exec(
		"SELECT create_hypertable(?, 'timestamp', chunk_time_interval => ?::interval, if_not_exists => TRUE, migrate_data => TRUE)",
		table, cfg.ChunkInterval,
	).Error
	if err != nil {
		return fmt.Errorf("creating hypertable %s: %w", table, err)
	}

	if cfg.CompressAfter != "" {
		if err := db.Exec(fmt.Sprintf("ALTER TABLE %s SET (timescaledb.compress)", table)).Error; err != nil {
			return fmt.Errorf("enabling compression on %s: %w", table, err)
		}
		if err := db.Exec("SELECT add_compression_policy(?, ?::interval, if_not_exists => TRUE)", table, cfg.CompressAfter).Error; err != nil {
			return fmt.Errorf("adding compression policy on %s: %w", table, err)
		}
	}

	if cfg.RetainFor != "" {
		if err := db.Exec("SELECT add_retention_policy(?, ?::interval, if_not_exists => TRUE)", table, cfg.RetainFor).Error; err != nil {
			return fmt.Errorf("adding retention policy on %s: %w", table, err)
		}
	}

	log.Info().Str("table", table).Str("chunk", cfg.ChunkInterval).Msg("timescale hypertable enabled")
	return nil
}

// InstanceID returns this indexer's stable instance UUID, generating and
// persisting one on first call.
func (s *Store) InstanceID(ctx context.Context) (string, error) {
	var meta IndexerMeta
	err := s.db.WithContext(ctx).First(&meta, "key = ?", MetaKeyInstanceID).Error
	if err == nil {
		return meta.Value, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("reading instance id: %w", err)
	}

	meta = IndexerMeta{Key: MetaKeyInstanceID, Value: uuid.NewString()}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
		Create(&meta).Error
	if err != nil {
		return "", fmt.Errorf("persisting instance id: %w", err)
	}

	// A concurrent boot may have won the insert; read back the winner.
	if err := s.db.WithContext(ctx).First(&meta, "key = ?", MetaKeyInstanceID).Error; err != nil {
		return "", fmt.Errorf("reading instance id: %w", err)
	}
	return meta.Value, nil
}
