// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/luxfi/binaryindexer/entity"
	"github.com/luxfi/binaryindexer/event"
)

// onBetReverted undoes the bets of a cancelled round. Unknown users are
// skipped. The round is corrected with the side of the first reverted bet.
func (e *Engine) onBetReverted(tx *txn, ev *event.BetReverted) error {
	var (
		side  entity.Position
		total = decimal.Zero
		count int64
	)

	for _, user := range ev.Users {
		id := entity.BetID(ev.Address, ev.TimeframeID, ev.Epoch, user)
		bet, err := load[entity.Bet](tx, entity.KindBet, id)
		if err != nil {
			return err
		}
		if bet == nil {
			e.log.Warn().Str("bet", id).Msg("reverted bet not found")
			continue
		}

		bet.IsReverted = true
		bet.UpdatedAt = ev.Timestamp
		if err := tx.save(entity.KindBet, bet.ID, bet); err != nil {
			return err
		}
		if err := e.revertUserBet(tx, ev.Address, ev.TimeframeID, user, bet.Amount); err != nil {
			return err
		}

		if count == 0 {
			side = bet.Position
		}
		total = total.Add(bet.Amount)
		count++
	}

	if count == 0 {
		return nil
	}
	if e.metrics != nil {
		e.metrics.ReversedBets.Add(float64(count))
	}
	return e.revertRoundBets(tx, ev.Address, ev.TimeframeID, ev.Epoch, side, total, count)
}

func (e *Engine) revertUserBet(tx *txn, market common.Address, timeframe uint8, user common.Address, amount decimal.Decimal) error {
	id := entity.TotalBetID(market, timeframe, user)
	tb, err := load[entity.TotalBet](tx, entity.KindTotalBet, id)
	if err != nil {
		return err
	}
	if tb == nil {
		e.log.Warn().Str("totalBet", id).Msg("total bet not found")
		return nil
	}
	tb.Count--
	tb.Amount = tb.Amount.Sub(amount)
	return tx.save(entity.KindTotalBet, tb.ID, tb)
}

// revertRoundBets subtracts count bets worth amount on side from the round
// and from its market. A missing round or market is logged, not fatal.
func (e *Engine) revertRoundBets(tx *txn, market common.Address, timeframe uint8, epoch uint64, side entity.Position, amount decimal.Decimal, count int64) error {
	roundID := entity.RoundID(market, timeframe, epoch)
	r, err := load[entity.Round](tx, entity.KindRound, roundID)
	if err != nil {
		return err
	}
	if r == nil {
		e.log.Warn().Str("round", roundID).Msg("round not found for reverted bets")
	} else {
		r.TotalBets -= count
		r.TotalAmount = r.TotalAmount.Sub(amount)
		if side == entity.Bull {
			r.BullBets -= count
			r.BullAmount = r.BullAmount.Sub(amount)
		} else {
			r.BearBets -= count
			r.BearAmount = r.BearAmount.Sub(amount)
		}
		if err := tx.save(entity.KindRound, r.ID, r); err != nil {
			return err
		}
	}

	marketID := entity.AddressID(market)
	m, err := load[entity.Market](tx, entity.KindMarket, marketID)
	if err != nil {
		return err
	}
	if m == nil {
		e.log.Warn().Str("market", marketID).Msg("market not found for reverted bets")
		return nil
	}
	m.TotalBets -= count
	m.TotalAmount = m.TotalAmount.Sub(amount)
	if side == entity.Bull {
		m.TotalBetsBull -= count
		m.TotalBullAmount = m.TotalBullAmount.Sub(amount)
	} else {
		m.TotalBetsBear -= count
		m.TotalBearAmount = m.TotalBearAmount.Sub(amount)
	}
	return tx.save(entity.KindMarket, m.ID, m)
}
