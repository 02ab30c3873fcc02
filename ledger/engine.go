// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package ledger maintains the derived aggregates of the binary market and
// vault contracts. Events are applied one at a time in chain order; every
// handler loads the aggregates it touches, mutates them and writes them back
// in a single batch.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/luxfi/binaryindexer/contracts"
	"github.com/luxfi/binaryindexer/entity"
	"github.com/luxfi/binaryindexer/event"
	"github.com/luxfi/binaryindexer/observability"
	"github.com/luxfi/binaryindexer/storage"
)

// DefaultTimeframes maps timeframe ids to round durations in seconds
var DefaultTimeframes = map[uint8]uint64{
	0: 60,
	1: 300,
	2: 900,
}

// MissingReferenceError reports an aggregate that an event expected to exist.
// The event is skipped without side effects.
type MissingReferenceError struct {
	Kind storage.Kind
	ID   string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("missing %s %s", e.Kind, e.ID)
}

func missing(kind storage.Kind, id string) error {
	return &MissingReferenceError{Kind: kind, ID: id}
}

// Option configures an Engine
type Option func(*Engine)

// WithTimeframes sets the round duration per timeframe id
func WithTimeframes(durations map[uint8]uint64) Option {
	return func(e *Engine) {
		e.timeframes = make(map[uint8]uint64, len(durations))
		for id, d := range durations {
			e.timeframes[id] = d
		}
	}
}

// WithBlacklist ignores MarketAdded and VaultAdded for the given addresses
func WithBlacklist(markets, vaults []common.Address) Option {
	return func(e *Engine) {
		for _, m := range markets {
			e.blockedMarkets[entity.AddressID(m)] = struct{}{}
		}
		for _, v := range vaults {
			e.blockedVaults[entity.AddressID(v)] = struct{}{}
		}
	}
}

// WithZeroAddress overrides the mint/burn sentinel address
func WithZeroAddress(addr common.Address) Option {
	return func(e *Engine) { e.zero = addr }
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNotifier registers fn to be called after each committed event
func WithNotifier(fn func(event.Event)) Option {
	return func(e *Engine) { e.notify = fn }
}

// Engine applies events to the aggregate store. It is not safe for
// concurrent use; the caller serializes events.
type Engine struct {
	repo   storage.Repository
	reader contracts.Reader

	timeframes     map[uint8]uint64
	blockedMarkets map[string]struct{}
	blockedVaults  map[string]struct{}
	zero           common.Address

	log     zerolog.Logger
	metrics *observability.Metrics
	notify  func(event.Event)
}

// New creates an engine over repo. reader serves the contract reads some
// handlers need.
func New(repo storage.Repository, reader contracts.Reader, opts ...Option) *Engine {
	e := &Engine{
		repo:           repo,
		reader:         reader,
		timeframes:     DefaultTimeframes,
		blockedMarkets: make(map[string]struct{}),
		blockedVaults:  make(map[string]struct{}),
		log:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply routes ev to its handler and commits the handler's writes. A
// MissingReferenceError is logged and swallowed; any other error is an
// infrastructure failure and nothing is written.
func (e *Engine) Apply(ctx context.Context, ev event.Event) error {
	start := time.Now()
	kind := ev.Kind().String()
	meta := ev.Base()

	tx := newTxn(ctx, e.repo)
	err := e.dispatch(tx, ev)

	var ref *MissingReferenceError
	if errors.As(err, &ref) {
		e.log.Warn().
			Str("event", kind).
			Str("contract", entity.AddressID(meta.Address)).
			Uint64("block", meta.BlockNumber).
			Uint("logIndex", meta.LogIndex).
			Str("missing", string(ref.Kind)).
			Str("id", ref.ID).
			Msg("skipping event")
		if e.metrics != nil {
			e.metrics.EventsSkipped.WithLabelValues(kind, string(ref.Kind)).Inc()
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply %s at block %d log %d: %w", kind, meta.BlockNumber, meta.LogIndex, err)
	}
	if err := tx.commit(); err != nil {
		return fmt.Errorf("commit %s at block %d log %d: %w", kind, meta.BlockNumber, meta.LogIndex, err)
	}

	if e.metrics != nil {
		e.metrics.EventsApplied.WithLabelValues(kind).Inc()
		e.metrics.EventDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
	if e.notify != nil {
		e.notify(ev)
	}
	return nil
}

func (e *Engine) dispatch(tx *txn, ev event.Event) error {
	switch ev := ev.(type) {
	case *event.MarketAdded:
		return e.onMarketAdded(tx, ev)
	case *event.VaultAdded:
		return e.onVaultAdded(tx, ev)
	case *event.OracleAdded:
		return e.onOracleAdded(tx, ev)
	case *event.RoundStarted:
		return e.onRoundStarted(tx, ev)
	case *event.RoundLocked:
		return e.onRoundLocked(tx, ev)
	case *event.RoundEnded:
		return e.onRoundEnded(tx, ev)
	case *event.PositionOpened:
		return e.onPositionOpened(tx, ev)
	case *event.PositionOpenedCredit:
		return e.onPositionOpenedCredit(tx, ev)
	case *event.Claimed:
		return e.onClaimed(tx, ev)
	case *event.BetReverted:
		return e.onBetReverted(tx, ev)
	case *event.MarketPaused:
		return e.setPaused(tx, &ev.Meta, true)
	case *event.MarketUnpaused:
		return e.setPaused(tx, &ev.Meta, false)
	case *event.MarketNameChanged:
		return e.onMarketNameChanged(tx, ev)
	case *event.GenesisStartTimeSet:
		return e.onGenesisStartTimeSet(tx, ev)
	case *event.MarketOracleChanged:
		return e.acknowledgeMarket(tx, ev)
	case *event.MarketAdminChanged:
		return e.acknowledgeMarket(tx, ev)
	case *event.MarketOperatorChanged:
		return e.acknowledgeMarket(tx, ev)
	case *event.LiquidityAdded:
		return e.onLiquidityAdded(tx, ev)
	case *event.LiquidityRemoved:
		return e.onLiquidityRemoved(tx, ev)
	case *event.PositionMerged:
		return e.onPositionMerged(tx, ev)
	case *event.PositionTransferred:
		return e.onPositionTransferred(tx, ev)
	case *event.WithdrawalRequested:
		return e.onWithdrawalRequested(tx, ev)
	case *event.WithdrawalRequestCanceled:
		return e.onWithdrawalRequestCanceled(tx, ev)
	case *event.VaultChangedFromMarket:
		return e.onVaultChangedFromMarket(tx, ev)
	case *event.ManagementFeeWithdrawed:
		return e.onManagementFeeWithdrawed(tx, ev)
	case *event.VaultConfigChanged:
		return e.onVaultConfigChanged(tx, ev)
	case *event.VaultOwnerChanged:
		return e.onVaultOwnerChanged(tx, ev)
	case *event.OracleWriterUpdated:
		return e.onOracleWriterUpdated(tx, ev)
	case *event.OraclePriceWritten:
		return e.onOraclePriceWritten(tx, ev)
	default:
		return fmt.Errorf("unhandled event %T", ev)
	}
}

// duration returns the round length of a timeframe, 0 if unconfigured
func (e *Engine) duration(timeframe uint8) uint64 {
	d, ok := e.timeframes[timeframe]
	if !ok {
		e.log.Debug().Uint8("timeframe", timeframe).Msg("no duration configured")
	}
	return d
}

func (e *Engine) marketBlocked(addr common.Address) bool {
	_, ok := e.blockedMarkets[entity.AddressID(addr)]
	return ok
}

func (e *Engine) vaultBlocked(addr common.Address) bool {
	_, ok := e.blockedVaults[entity.AddressID(addr)]
	return ok
}

func hashID(h common.Hash) string {
	return strings.ToLower(h.Hex())
}
