// Package engine drives the indexing loop. It polls the chain head, fetches
// logs for all registered contracts in confirmed batches, and applies event
// handlers block by block, each block inside its own database transaction.
package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/0xredeth/Quittance/internal/pubsub"
	"github.com/0xredeth/Quittance/internal/rpc"
	"github.com/0xredeth/Quittance/pkg/config"
	"github.com/0xredeth/Quittance/pkg/decoder"
	"github.com/0xredeth/Quittance/pkg/handler"
	"github.com/0xredeth/Quittance/pkg/proof"
	"github.com/0xredeth/Quittance/pkg/store"
)

// startupTimeout bounds connection and migration work in New.
const startupTimeout = 30 * time.Second

// Engine coordinates the RPC client, decoder, store, and handler registry.
type Engine struct {
	cfg         *config.Config
	rpc         *rpc.Client
	store       *store.Store
	decoder     *decoder.Decoder
	handlers    *handler.Registry
	broadcaster *pubsub.Broadcaster
	lastBlock   uint64

	// mu serializes sync iterations against Reload.
	mu sync.Mutex
}

// New connects to the RPC endpoint and the database, runs migrations, loads
// contract ABIs, and returns an Engine ready to Start. The broadcaster may
// be nil when no live subscribers are wanted.
func New(cfg *config.Config, broadcaster *pubsub.Broadcaster) (*Engine, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	rpcCfg := rpc.DefaultConfig()
	rpcCfg.URL = cfg.RPCURL
	if cfg.Sync.MaxRetries > 0 {
		rpcCfg.MaxRetries = cfg.Sync.MaxRetries
	}

	client, err := rpc.New(ctx, rpcCfg)
	if err != nil {
		return nil, fmt.Errorf("creating RPC client: %w", err)
	}

	if cfg.ChainID != 0 && client.ChainID().Uint64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("chain ID mismatch: config expects %d, node reports %s",
			cfg.ChainID, client.ChainID())
	}

	storeCfg := store.DefaultConfig()
	storeCfg.DSN = cfg.Database
	st, err := store.New(storeCfg)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := st.Migrate(&store.Event{}, &store.ApiCall{}, &store.SyncStatus{}, &store.IndexerMeta{}); err != nil {
		client.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	d := decoder.New()
	if err := registerContracts(cfg, d); err != nil {
		client.Close()
		return nil, err
	}

	return &Engine{
		cfg:         cfg,
		rpc:         client,
		store:       st,
		decoder:     d,
		handlers:    handler.Global(),
		broadcaster: broadcaster,
	}, nil
}

// registerContracts loads each contract's ABI from disk and registers it
// with the decoder.
func registerContracts(cfg *config.Config, d *decoder.Decoder) error {
	for name, contract := range cfg.Contracts {
		raw, err := os.ReadFile(contract.ABI)
		if err != nil {
			return fmt.Errorf("reading ABI for %s: %w", name, err)
		}
		if err := d.RegisterContract(name, common.HexToAddress(contract.Address), string(raw), contract.Events); err != nil {
			return fmt.Errorf("registering contract %s: %w", name, err)
		}
		log.Info().
			Str("contract", name).
			Str("address", contract.Address).
			Strs("events", contract.Events).
			Msg("contract registered")
	}
	return nil
}

// Store returns the engine's database handle for sharing with the API layer.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Start runs the polling loop until ctx is canceled. When the indexer is
// behind it processes batches back to back; once caught up it waits for the
// poll interval between iterations.
func (e *Engine) Start(ctx context.Context) error {
	startBlock, err := e.determineStartBlock(ctx)
	if err != nil {
		return fmt.Errorf("determining start block: %w", err)
	}
	e.lastBlock = startBlock

	interval := e.pollInterval()
	log.Info().
		Uint64("start_block", startBlock).
		Uint64("chain_id", e.cfg.ChainID).
		Dur("poll_interval", interval).
		Msg("engine started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		caughtUp, err := e.syncOnce(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			log.Error().Err(err).Msg("sync iteration failed")
		case !caughtUp:
			continue
		}

		if next := e.pollInterval(); next != interval {
			interval = next
			ticker.Reset(interval)
			log.Info().Dur("poll_interval", interval).Msg("poll interval updated")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// pollInterval reads the configured interval under the reload lock.
func (e *Engine) pollInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.PollInterval
}

// determineStartBlock picks where indexing resumes: the persisted checkpoint
// first, then the newest block in the events table, then the configured
// contract start blocks.
func (e *Engine) determineStartBlock(ctx context.Context) (uint64, error) {
	statuses, err := e.store.ListSyncStatuses(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading sync status: %w", err)
	}

	var maxIndexed uint64
	for _, s := range statuses {
		if s.LastBlockNumber > maxIndexed {
			maxIndexed = s.LastBlockNumber
		}
	}

	if maxIndexed == 0 {
		maxIndexed, err = e.store.GetMaxBlockNumber(ctx, store.Event{}.TableName())
		if err != nil {
			return 0, fmt.Errorf("querying max indexed block: %w", err)
		}
	}

	if maxIndexed > 0 {
		return maxIndexed, nil
	}

	var start uint64
	first := true
	for _, contract := range e.cfg.Contracts {
		if first || contract.StartBlock < start {
			start = contract.StartBlock
			first = false
		}
	}
	return start, nil
}

// syncOnce processes at most one batch of blocks. It returns true when the
// indexer has caught up with the confirmed head and the caller should wait
// for the next poll tick.
func (e *Engine) syncOnce(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	head, err := e.rpc.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("fetching chain head: %w", err)
	}
	if head < e.cfg.Sync.Confirmations {
		return true, nil
	}
	safeHead := head - e.cfg.Sync.Confirmations

	lag := int64(safeHead) - int64(e.lastBlock)
	if lag < 0 {
		lag = 0
	}
	syncLag.Set(float64(lag))

	if e.lastBlock >= safeHead {
		return true, nil
	}

	fromBlock := e.lastBlock + 1
	toBlock := fromBlock + e.cfg.Sync.BatchSize - 1
	if toBlock > safeHead {
		toBlock = safeHead
	}

	logs, err := e.rpc.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: e.decoder.GetAddresses(),
		Topics:    [][]common.Hash{e.decoder.GetEventSignatures()},
	})
	if err != nil {
		return false, fmt.Errorf("fetching logs %d-%d: %w", fromBlock, toBlock, err)
	}

	byBlock := make(map[uint64][]types.Log, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		byBlock[lg.BlockNumber] = append(byBlock[lg.BlockNumber], lg)
	}

	var checkpointed uint64
	for block := fromBlock; block <= toBlock; block++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		if blockLogs, ok := byBlock[block]; ok {
			if err := e.processBlock(ctx, block, blockLogs); err != nil {
				return false, fmt.Errorf("processing block %d: %w", block, err)
			}
			checkpointed = block
		}
		e.lastBlock = block
		blocksIndexed.Add(1)
		currentBlock.Set(float64(block))
	}

	// Blocks past the last one carrying logs never reached processBlock, so
	// the durable checkpoint needs a final push to the end of the batch.
	if checkpointed < toBlock {
		header, err := e.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(toBlock))
		if err != nil {
			return false, fmt.Errorf("fetching header %d: %w", toBlock, err)
		}
		if err := e.checkpoint(ctx, toBlock, header.Hash().Hex()); err != nil {
			return false, fmt.Errorf("saving checkpoint: %w", err)
		}
	}

	log.Info().
		Uint64("from", fromBlock).
		Uint64("to", toBlock).
		Uint64("head", head).
		Int("logs", len(logs)).
		Msg("batch indexed")

	return toBlock >= safeHead, nil
}

// processBlock writes every decoded log of one block, the entities its
// handlers derive from them, and the sync checkpoint in a single
// transaction. A malformed event is logged and dropped; any other handler
// or store error rolls the whole block back.
func (e *Engine) processBlock(ctx context.Context, blockNumber uint64, logs []types.Log) error {
	header, err := e.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return fmt.Errorf("fetching header: %w", err)
	}

	block := handler.BlockInfo{
		Number:     blockNumber,
		Hash:       header.Hash().Hex(),
		Time:       time.Unix(int64(header.Time), 0),
		ParentHash: header.ParentHash.Hex(),
	}

	var published []pubsub.Message
	err = e.store.Transaction(ctx, func(tx *gorm.DB) error {
		for _, lg := range logs {
			decoded, err := e.decoder.Decode(lg)
			if err != nil {
				log.Warn().Err(err).
					Str("tx", lg.TxHash.Hex()).
					Uint("log_index", lg.Index).
					Msg("skipping undecodable log")
				continue
			}

			data := convertEventData(decoded.Data)
			raw, err := json.Marshal(data)
			if err != nil {
				return fmt.Errorf("encoding event data: %w", err)
			}

			row := &store.Event{
				BaseEvent: store.BaseEvent{
					BlockNumber: blockNumber,
					TxHash:      lg.TxHash.Hex(),
					TxIndex:     lg.TxIndex,
					LogIndex:    lg.Index,
					Timestamp:   block.Time,
				},
				ContractName: decoded.ContractName,
				ContractAddr: lg.Address.Hex(),
				EventName:    decoded.EventName,
				EventSig:     lg.Topics[0].Hex(),
				Data:         datatypes.JSON(raw),
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("storing raw event: %w", err)
			}
			eventsDecoded.WithLabelValues(decoded.EventID).Inc()

			if err := e.handlers.Handle(&handler.Context{
				DB:    tx,
				Block: block,
				Log:   lg,
				Event: decoded,
			}); err != nil {
				if errors.Is(err, proof.ErrMalformedEvent) {
					malformedEvents.Inc()
					log.Warn().Err(err).
						Str("event", decoded.EventID).
						Str("tx", lg.TxHash.Hex()).
						Uint("log_index", lg.Index).
						Msg("dropping malformed event")
					continue
				}
				return err
			}

			published = append(published, pubsub.Message{
				ContractName: decoded.ContractName,
				EventName:    decoded.EventName,
				EventID:      decoded.EventID,
				BlockNumber:  blockNumber,
				TxHash:       lg.TxHash.Hex(),
				LogIndex:     lg.Index,
				Timestamp:    header.Time,
				Data:         data,
			})
		}

		for name := range e.cfg.Contracts {
			status := &store.SyncStatus{
				Contract:        name,
				LastBlockNumber: blockNumber,
				LastBlockHash:   block.Hash,
			}
			if err := store.UpsertSyncStatusTx(tx, status); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if e.broadcaster != nil {
		for _, msg := range published {
			e.broadcaster.Publish(msg)
		}
	}
	return nil
}

// checkpoint advances every contract's durable cursor outside a block
// transaction.
func (e *Engine) checkpoint(ctx context.Context, block uint64, blockHash string) error {
	for name := range e.cfg.Contracts {
		status := &store.SyncStatus{
			Contract:        name,
			LastBlockNumber: block,
			LastBlockHash:   blockHash,
		}
		if err := e.store.UpsertSyncStatus(ctx, status); err != nil {
			return err
		}
	}
	return nil
}

// Reload applies a new configuration to a running engine. Contract
// registrations are rebuilt, and the batch size and poll interval take
// effect on the next iteration. RPC and database connections are kept, so
// a changed endpoint or DSN still needs a restart.
func (e *Engine) Reload(cfg *config.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.decoder.Clear()
	if err := registerContracts(cfg, e.decoder); err != nil {
		return err
	}
	e.cfg = cfg

	log.Info().Int("contracts", len(cfg.Contracts)).Msg("engine configuration reloaded")
	return nil
}

// Close releases the RPC and database connections.
func (e *Engine) Close() error {
	e.rpc.Close()
	return e.store.Close()
}

// convertEventData flattens decoded ABI values into JSON-friendly types.
// Addresses keep their EIP-55 checksum form and big integers become decimal
// strings so precision survives the round trip through JSON.
func convertEventData(data map[string]interface{}) map[string]any {
	converted := make(map[string]any, len(data))
	for key, value := range data {
		switch v := value.(type) {
		case common.Address:
			converted[key] = v.Hex()
		case common.Hash:
			converted[key] = v.Hex()
		case *big.Int:
			if v == nil {
				converted[key] = "0"
			} else {
				converted[key] = v.String()
			}
		case []byte:
			converted[key] = hex.EncodeToString(v)
		default:
			converted[key] = v
		}
	}
	return converted
}
