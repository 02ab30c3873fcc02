// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/luxfi/binaryindexer/entity"
	"github.com/luxfi/binaryindexer/event"
)

func (e *Engine) onMarketAdded(tx *txn, ev *event.MarketAdded) error {
	if e.marketBlocked(ev.Market) {
		e.log.Info().Str("market", entity.AddressID(ev.Market)).Msg("ignoring blacklisted market")
		return nil
	}

	id := entity.AddressID(ev.Market)
	m, err := load[entity.Market](tx, entity.KindMarket, id)
	if err != nil {
		return err
	}
	if m != nil {
		e.log.Debug().Str("market", id).Msg("market already indexed")
		return nil
	}
	m = entity.NewMarket(id)
	m.Name = ev.Name
	m.PairName = ev.PairName

	vaultAddr, err := e.reader.MarketVault(tx.ctx, ev.Market, ev.BlockNumber)
	if err != nil {
		return fmt.Errorf("read vault of market %s: %w", id, err)
	}
	v, err := load[entity.Vault](tx, entity.KindVault, entity.AddressID(vaultAddr))
	if err != nil {
		return err
	}
	if v != nil {
		m.Decimals = v.Decimals
		m.Symbol = v.Symbol
	}
	return tx.save(entity.KindMarket, id, m)
}

// loadMarket returns the market that emitted meta, or a MissingReferenceError
func loadMarket(tx *txn, meta *event.Meta) (*entity.Market, error) {
	id := entity.AddressID(meta.Address)
	m, err := load[entity.Market](tx, entity.KindMarket, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, missing(entity.KindMarket, id)
	}
	return m, nil
}

// loadOrCreateRound returns the round, creating it with estimated times
// derived from the market's genesis start time when absent.
func (e *Engine) loadOrCreateRound(tx *txn, m *entity.Market, market common.Address, timeframe uint8, epoch uint64) (*entity.Round, error) {
	id := entity.RoundID(market, timeframe, epoch)
	r, err := load[entity.Round](tx, entity.KindRound, id)
	if err != nil || r != nil {
		return r, err
	}

	r = &entity.Round{
		ID:          id,
		Market:      m.ID,
		TimeframeID: timeframe,
		Epoch:       epoch,
		TotalAmount: decimal.Zero,
		BullAmount:  decimal.Zero,
		BearAmount:  decimal.Zero,
	}
	if epoch > 0 {
		prev := entity.RoundID(market, timeframe, epoch-1)
		r.Previous = &prev
	}

	d := e.duration(timeframe)
	r.EstimatedStartTime = m.GenesisStartTime + d*epoch
	r.EstimatedLockTime = r.EstimatedStartTime + d
	r.EstimatedEndTime = r.EstimatedLockTime + d
	return r, nil
}

func (e *Engine) onRoundStarted(tx *txn, ev *event.RoundStarted) error {
	id := entity.AddressID(ev.Address)
	m, err := load[entity.Market](tx, entity.KindMarket, id)
	if err != nil {
		return err
	}
	if m == nil {
		m = entity.NewMarket(id)
	}

	if ev.TimeframeID == 0 && ev.Epoch == 0 && m.GenesisStartTime == 0 {
		m.GenesisStartTime = ev.StartTime
	}
	m.Epoch = ev.Epoch

	r, err := e.loadOrCreateRound(tx, m, ev.Address, ev.TimeframeID, ev.Epoch)
	if err != nil {
		return err
	}
	ts, block, hash := ev.Timestamp, ev.BlockNumber, hashID(ev.TxHash)
	r.StartAt = &ts
	r.StartBlock = &block
	r.StartHash = &hash

	if err := tx.save(entity.KindMarket, m.ID, m); err != nil {
		return err
	}
	return tx.save(entity.KindRound, r.ID, r)
}

func loadRound(tx *txn, market common.Address, timeframe uint8, epoch uint64) (*entity.Round, error) {
	id := entity.RoundID(market, timeframe, epoch)
	r, err := load[entity.Round](tx, entity.KindRound, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, missing(entity.KindRound, id)
	}
	return r, nil
}

func (e *Engine) onRoundLocked(tx *txn, ev *event.RoundLocked) error {
	r, err := loadRound(tx, ev.Address, ev.TimeframeID, ev.Epoch)
	if err != nil {
		return err
	}

	ts, block, hash := ev.Timestamp, ev.BlockNumber, hashID(ev.TxHash)
	price := entity.NormalizePrice(ev.Price)
	r.LockAt = &ts
	r.LockBlock = &block
	r.LockHash = &hash
	r.LockPrice = &price
	return tx.save(entity.KindRound, r.ID, r)
}

func (e *Engine) onRoundEnded(tx *txn, ev *event.RoundEnded) error {
	r, err := loadRound(tx, ev.Address, ev.TimeframeID, ev.Epoch)
	if err != nil {
		return err
	}

	ts, block, hash := ev.Timestamp, ev.BlockNumber, hashID(ev.TxHash)
	price := entity.NormalizePrice(ev.Price)
	r.EndAt = &ts
	r.EndBlock = &block
	r.EndHash = &hash
	r.ClosePrice = &price

	if r.LockPrice == nil {
		e.log.Warn().Str("round", r.ID).Msg("round ended without lock price, not resolving")
		return tx.save(entity.KindRound, r.ID, r)
	}

	pos := resolve(*r.LockPrice, *r.ClosePrice)
	failed := false
	r.Position = &pos
	r.Failed = &failed
	if err := tx.save(entity.KindRound, r.ID, r); err != nil {
		return err
	}
	return e.settle(tx, r, entity.RoundBetPrefix(ev.Address, ev.TimeframeID, ev.Epoch))
}

// resolve compares close against lock; equal prices go to the house
func resolve(lock, close decimal.Decimal) entity.Position {
	switch close.Cmp(lock) {
	case 0:
		return entity.House
	case 1:
		return entity.Bull
	default:
		return entity.Bear
	}
}

func (e *Engine) setPaused(tx *txn, meta *event.Meta, paused bool) error {
	m, err := loadMarket(tx, meta)
	if err != nil {
		return err
	}
	m.Paused = paused
	return tx.save(entity.KindMarket, m.ID, m)
}

func (e *Engine) onMarketNameChanged(tx *txn, ev *event.MarketNameChanged) error {
	m, err := loadMarket(tx, &ev.Meta)
	if err != nil {
		return err
	}
	m.Name = ev.NewName
	return tx.save(entity.KindMarket, m.ID, m)
}

func (e *Engine) onGenesisStartTimeSet(tx *txn, ev *event.GenesisStartTimeSet) error {
	m, err := loadMarket(tx, &ev.Meta)
	if err != nil {
		return err
	}
	m.GenesisStartTime = ev.NewTime
	return tx.save(entity.KindMarket, m.ID, m)
}

// acknowledgeMarket handles market role changes, which carry no aggregate state
func (e *Engine) acknowledgeMarket(tx *txn, ev event.Event) error {
	m, err := loadMarket(tx, ev.Base())
	if err != nil {
		return err
	}
	e.log.Debug().Str("market", m.ID).Str("event", ev.Kind().String()).Msg("market role changed")
	return nil
}
