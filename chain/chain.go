// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package chain follows the binary market contracts on an EVM chain. It polls
// eth_getLogs for the watched contracts, orders and decodes the logs, and
// applies them to the ledger one at a time.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/luxfi/binaryindexer/decoder"
	"github.com/luxfi/binaryindexer/entity"
	"github.com/luxfi/binaryindexer/event"
	"github.com/luxfi/binaryindexer/observability"
	"github.com/luxfi/binaryindexer/storage"
)

// cursorID is the meta key of the persisted follower position
const cursorID = "cursor"

// Client is the subset of ethclient.Client used by the follower
type Client interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionSender(ctx context.Context, tx *types.Transaction, block common.Hash, index uint) (common.Address, error)
}

// Applier consumes decoded events in chain order
type Applier interface {
	Apply(ctx context.Context, ev event.Event) error
}

// Config for the follower
type Config struct {
	MarketManager *common.Address
	VaultManager  *common.Address
	OracleManager *common.Address
	StartBlock    uint64
	BatchSize     uint64
	PollInterval  time.Duration
	Confirmations uint64
}

// Cursor is the position of the last applied log. Scanned is the last block
// whose logs have all been applied.
type Cursor struct {
	Block    uint64 `json:"block"`
	LogIndex uint   `json:"logIndex"`
	Applied  bool   `json:"applied"`
	Scanned  uint64 `json:"scanned"`
}

// after reports whether lg comes strictly after the cursor
func (c Cursor) after(lg *types.Log) bool {
	if !c.Applied {
		return true
	}
	if lg.BlockNumber != c.Block {
		return lg.BlockNumber > c.Block
	}
	return lg.Index > c.LogIndex
}

// Follower polls logs and feeds the ledger
type Follower struct {
	cfg     Config
	client  Client
	decoder *decoder.Decoder
	applier Applier
	repo    storage.Repository
	log     zerolog.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	watch  map[common.Address]decoder.Role
	cursor Cursor

	timestamps map[uint64]uint64
}

// NewFollower creates a follower. The watch set starts with the configured
// managers; Restore adds the contracts already known to the store.
func NewFollower(cfg Config, client Client, dec *decoder.Decoder, applier Applier, repo storage.Repository, log zerolog.Logger, metrics *observability.Metrics) *Follower {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	f := &Follower{
		cfg:        cfg,
		client:     client,
		decoder:    dec,
		applier:    applier,
		repo:       repo,
		log:        log,
		metrics:    metrics,
		watch:      make(map[common.Address]decoder.Role),
		timestamps: make(map[uint64]uint64),
	}
	if cfg.MarketManager != nil {
		f.watch[*cfg.MarketManager] = decoder.RoleMarketManager
	}
	if cfg.VaultManager != nil {
		f.watch[*cfg.VaultManager] = decoder.RoleVaultManager
	}
	if cfg.OracleManager != nil {
		f.watch[*cfg.OracleManager] = decoder.RoleOracleManager
	}
	return f
}

// Restore loads the cursor and re-registers every market, vault and oracle
// already in the store.
func (f *Follower) Restore(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.repo.Get(ctx, storage.KindMeta, cursorID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if f.cfg.StartBlock > 0 {
			f.cursor = Cursor{Scanned: f.cfg.StartBlock - 1}
		}
	case err != nil:
		return fmt.Errorf("load cursor: %w", err)
	default:
		if err := json.Unmarshal(data, &f.cursor); err != nil {
			return fmt.Errorf("decode cursor: %w", err)
		}
	}

	for kind, role := range map[storage.Kind]decoder.Role{
		entity.KindMarket: decoder.RoleMarket,
		entity.KindVault:  decoder.RoleVault,
		entity.KindOracle: decoder.RoleOracle,
	} {
		kvs, err := f.repo.List(ctx, kind, "", 0)
		if err != nil {
			return fmt.Errorf("list %s: %w", kind, err)
		}
		for _, kv := range kvs {
			if common.IsHexAddress(kv.Key) {
				f.watch[common.HexToAddress(kv.Key)] = role
			}
		}
	}

	f.log.Info().
		Uint64("scanned", f.cursor.Scanned).
		Int("watched", len(f.watch)).
		Msg("follower restored")
	if f.metrics != nil {
		f.metrics.WatchedAddrs.Set(float64(len(f.watch)))
		f.metrics.CursorBlock.Set(float64(f.cursor.Scanned))
	}
	return nil
}

// Cursor returns the current follower position
func (f *Follower) Cursor() Cursor {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cursor
}

// Watched returns the role of addr if it is being followed
func (f *Follower) Watched(addr common.Address) (decoder.Role, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	role, ok := f.watch[addr]
	return role, ok
}

// Run polls until ctx is done. Errors are logged and retried on the next tick.
func (f *Follower) Run(ctx context.Context) error {
	if err := f.Restore(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := f.Sync(ctx); err != nil && ctx.Err() == nil {
			f.log.Error().Err(err).Msg("sync failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sync processes every confirmed block after the cursor
func (f *Follower) Sync(ctx context.Context) error {
	head, err := f.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}
	if f.metrics != nil {
		f.metrics.HeadBlock.Set(float64(head))
	}
	if head < f.cfg.Confirmations {
		return nil
	}
	safe := head - f.cfg.Confirmations

	for {
		from := f.Cursor().Scanned + 1
		if from > safe {
			return nil
		}
		to := from + f.cfg.BatchSize - 1
		if to > safe {
			to = safe
		}
		if err := f.processRange(ctx, from, to); err != nil {
			return err
		}
	}
}

// processRange applies the logs of [from, to]. When a new contract is added
// mid-window the window is queried again so its logs in the same range are
// not missed.
func (f *Follower) processRange(ctx context.Context, from, to uint64) error {
	defer func() { f.timestamps = make(map[uint64]uint64) }()

	for {
		logs, err := f.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: f.addresses(),
		})
		if err != nil {
			return fmt.Errorf("filter logs %d-%d: %w", from, to, err)
		}
		if f.metrics != nil {
			f.metrics.LogsFetched.Add(float64(len(logs)))
		}
		sortLogs(logs)

		rescan, err := f.applyLogs(ctx, logs)
		if err != nil {
			return err
		}
		if !rescan {
			break
		}
		f.log.Debug().Uint64("from", from).Uint64("to", to).Msg("watch set grew, rescanning window")
	}

	f.mu.Lock()
	f.cursor.Scanned = to
	cur := f.cursor
	f.mu.Unlock()
	if err := f.saveCursor(ctx, cur); err != nil {
		return err
	}
	if f.metrics != nil {
		f.metrics.CursorBlock.Set(float64(to))
	}
	return nil
}

// applyLogs applies logs after the cursor and reports whether the watch set grew
func (f *Follower) applyLogs(ctx context.Context, logs []types.Log) (bool, error) {
	for i := range logs {
		lg := &logs[i]
		if lg.Removed || !f.Cursor().after(lg) {
			continue
		}
		role, ok := f.Watched(lg.Address)
		if !ok {
			continue
		}

		ev, err := f.decoder.Decode(role, *lg)
		if err != nil {
			if f.metrics != nil {
				f.metrics.DecodeFailures.WithLabelValues(role.String()).Inc()
			}
			if errors.Is(err, decoder.ErrUnknownEvent) {
				f.log.Debug().Err(err).Uint64("block", lg.BlockNumber).Msg("ignoring log")
			} else {
				f.log.Warn().Err(err).Uint64("block", lg.BlockNumber).Uint("logIndex", lg.Index).Msg("undecodable log")
			}
			if err := f.advance(ctx, lg); err != nil {
				return false, err
			}
			continue
		}

		if err := f.fillMeta(ctx, role, lg, ev.Base()); err != nil {
			return false, err
		}
		if err := f.applier.Apply(ctx, ev); err != nil {
			return false, err
		}
		if err := f.advance(ctx, lg); err != nil {
			return false, err
		}

		grew, err := f.track(ctx, ev)
		if err != nil {
			return false, err
		}
		if grew {
			return true, nil
		}
	}
	return false, nil
}

// fillMeta sets the block timestamp and, for vault logs, the transaction sender
func (f *Follower) fillMeta(ctx context.Context, role decoder.Role, lg *types.Log, meta *event.Meta) error {
	ts, ok := f.timestamps[lg.BlockNumber]
	if !ok {
		header, err := f.client.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
		if err != nil {
			return fmt.Errorf("header %d: %w", lg.BlockNumber, err)
		}
		ts = header.Time
		f.timestamps[lg.BlockNumber] = ts
	}
	meta.Timestamp = ts

	if role != decoder.RoleVault && role != decoder.RoleVaultManager {
		return nil
	}
	tx, _, err := f.client.TransactionByHash(ctx, lg.TxHash)
	if err != nil {
		return fmt.Errorf("transaction %s: %w", lg.TxHash.Hex(), err)
	}
	from, err := f.client.TransactionSender(ctx, tx, lg.BlockHash, lg.TxIndex)
	if err != nil {
		return fmt.Errorf("sender of %s: %w", lg.TxHash.Hex(), err)
	}
	meta.TxFrom = from
	return nil
}

// track adds contracts announced by ev to the watch set once the ledger has
// accepted them.
func (f *Follower) track(ctx context.Context, ev event.Event) (bool, error) {
	var (
		addr common.Address
		kind storage.Kind
		role decoder.Role
	)
	switch ev := ev.(type) {
	case *event.MarketAdded:
		addr, kind, role = ev.Market, entity.KindMarket, decoder.RoleMarket
	case *event.VaultAdded:
		addr, kind, role = ev.Vault, entity.KindVault, decoder.RoleVault
	case *event.OracleAdded:
		addr, kind, role = ev.Oracle, entity.KindOracle, decoder.RoleOracle
	default:
		return false, nil
	}
	if _, ok := f.Watched(addr); ok {
		return false, nil
	}

	// Blacklisted contracts are never stored.
	if _, err := f.repo.Get(ctx, kind, entity.AddressID(addr)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	f.mu.Lock()
	f.watch[addr] = role
	n := len(f.watch)
	f.mu.Unlock()

	f.log.Info().Str("address", entity.AddressID(addr)).Str("role", role.String()).Msg("watching contract")
	if f.metrics != nil {
		f.metrics.WatchedAddrs.Set(float64(n))
	}
	return true, nil
}

func (f *Follower) advance(ctx context.Context, lg *types.Log) error {
	f.mu.Lock()
	f.cursor.Block = lg.BlockNumber
	f.cursor.LogIndex = lg.Index
	f.cursor.Applied = true
	cur := f.cursor
	f.mu.Unlock()
	return f.saveCursor(ctx, cur)
}

func (f *Follower) saveCursor(ctx context.Context, cur Cursor) error {
	if err := storage.Save(ctx, f.repo, storage.KindMeta, cursorID, cur); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func (f *Follower) addresses() []common.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]common.Address, 0, len(f.watch))
	for addr := range f.watch {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// sortLogs orders logs by block, transaction index and log index
func sortLogs(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		a, b := logs[i], logs[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.TxIndex != b.TxIndex {
			return a.TxIndex < b.TxIndex
		}
		return a.Index < b.Index
	})
}
