// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/luxfi/binaryindexer/entity"
	"github.com/luxfi/binaryindexer/event"
)

var (
	payoutNumerator   = decimal.NewFromInt(9)
	payoutDenominator = decimal.NewFromInt(10)
)

func (e *Engine) onPositionOpened(tx *txn, ev *event.PositionOpened) error {
	m, err := loadMarket(tx, &ev.Meta)
	if err != nil {
		return err
	}

	amount := entity.Normalize(ev.Amount, m.Decimals)
	side := entity.SideOf(ev.Position)

	m.TotalBets++
	m.TotalAmount = m.TotalAmount.Add(amount)
	if side == entity.Bull {
		m.TotalBetsBull++
		m.TotalBullAmount = m.TotalBullAmount.Add(amount)
	} else {
		m.TotalBetsBear++
		m.TotalBearAmount = m.TotalBearAmount.Add(amount)
	}

	// The round may not have started yet.
	r, err := e.loadOrCreateRound(tx, m, ev.Address, ev.TimeframeID, ev.RoundEpoch)
	if err != nil {
		return err
	}
	r.TotalBets++
	r.TotalAmount = r.TotalAmount.Add(amount)
	if side == entity.Bull {
		r.BullBets++
		r.BullAmount = r.BullAmount.Add(amount)
	} else {
		r.BearBets++
		r.BearAmount = r.BearAmount.Add(amount)
	}

	userID := entity.AddressID(ev.User)
	u, err := load[entity.User](tx, entity.KindUser, userID)
	if err != nil {
		return err
	}
	if u == nil {
		u = entity.NewUser(userID, ev.Timestamp, ev.BlockNumber)
		m.TotalUsers++
	} else {
		u.UpdatedAt = ev.Timestamp
		u.Block = ev.BlockNumber
	}

	tbID := entity.TotalBetID(ev.Address, ev.TimeframeID, ev.User)
	tb, err := load[entity.TotalBet](tx, entity.KindTotalBet, tbID)
	if err != nil {
		return err
	}
	if tb == nil {
		tb = &entity.TotalBet{ID: tbID, User: userID, Market: m.ID, TimeframeID: ev.TimeframeID, Amount: decimal.Zero}
	}
	tb.Count++
	tb.Amount = tb.Amount.Add(amount)

	bet := &entity.Bet{
		ID:          entity.BetID(ev.Address, ev.TimeframeID, ev.RoundEpoch, ev.User),
		Market:      m.ID,
		Round:       r.ID,
		User:        userID,
		TimeframeID: ev.TimeframeID,
		Hash:        hashID(ev.TxHash),
		Amount:      amount,
		Position:    side,
		CreatedAt:   ev.Timestamp,
		UpdatedAt:   ev.Timestamp,
		Block:       ev.BlockNumber,
	}

	if err := tx.save(entity.KindMarket, m.ID, m); err != nil {
		return err
	}
	if err := tx.save(entity.KindRound, r.ID, r); err != nil {
		return err
	}
	if err := tx.save(entity.KindUser, u.ID, u); err != nil {
		return err
	}
	if err := tx.save(entity.KindTotalBet, tb.ID, tb); err != nil {
		return err
	}
	return tx.save(entity.KindBet, bet.ID, bet)
}

func (e *Engine) onPositionOpenedCredit(tx *txn, ev *event.PositionOpenedCredit) error {
	base := ev.Canonical()
	if err := e.onPositionOpened(tx, base); err != nil {
		return err
	}

	id := entity.BetID(base.Address, base.TimeframeID, base.RoundEpoch, base.User)
	bet, err := load[entity.Bet](tx, entity.KindBet, id)
	if err != nil || bet == nil {
		return err
	}
	bet.CreditUsed = ev.CreditUsed
	return tx.save(entity.KindBet, id, bet)
}

func (e *Engine) onClaimed(tx *txn, ev *event.Claimed) error {
	betID := entity.BetID(ev.Address, ev.TimeframeID, ev.RoundEpoch, ev.User)
	bet, err := load[entity.Bet](tx, entity.KindBet, betID)
	if err != nil {
		return err
	}
	if bet == nil {
		return missing(entity.KindBet, betID)
	}
	m, err := loadMarket(tx, &ev.Meta)
	if err != nil {
		return err
	}

	amount := entity.Normalize(ev.Amount, m.Decimals)
	hash := hashID(ev.TxHash)
	bet.Claimed = true
	bet.ClaimedAmount = &amount
	bet.ClaimedHash = &hash
	bet.UpdatedAt = ev.Timestamp

	// Reverted bets only record claim metadata.
	if bet.IsReverted {
		return tx.save(entity.KindBet, bet.ID, bet)
	}
	bet.IsReverted = ev.IsRefund
	if err := tx.save(entity.KindBet, bet.ID, bet); err != nil {
		return err
	}

	if ev.IsRefund {
		if err := e.revertUserBet(tx, ev.Address, ev.TimeframeID, ev.User, bet.Amount); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.ReversedBets.Inc()
		}
		return e.revertRoundBets(tx, ev.Address, ev.TimeframeID, ev.RoundEpoch, bet.Position, bet.Amount, 1)
	}

	userID := entity.AddressID(ev.User)
	payoutID := entity.MarketUserID(ev.Address, ev.User)
	payout, err := load[entity.Payout](tx, entity.KindPayout, payoutID)
	if err != nil {
		return err
	}
	if payout == nil {
		payout = &entity.Payout{ID: payoutID, User: userID, Market: m.ID, Amount: decimal.Zero}
	}
	payout.Amount = payout.Amount.Add(amount)

	win, err := load[entity.WinBet](tx, entity.KindWinBet, payoutID)
	if err != nil {
		return err
	}
	if win == nil {
		win = &entity.WinBet{ID: payoutID, User: userID, Market: m.ID, Amount: decimal.Zero}
	}
	win.Count++
	win.Amount = win.Amount.Add(amount)

	u, err := load[entity.User](tx, entity.KindUser, userID)
	if err != nil {
		return err
	}
	if u == nil {
		u = entity.NewUser(userID, ev.Timestamp, ev.BlockNumber)
	}
	u.UpdatedAt = ev.Timestamp

	if err := tx.save(entity.KindPayout, payout.ID, payout); err != nil {
		return err
	}
	if err := tx.save(entity.KindWinBet, win.ID, win); err != nil {
		return err
	}
	return tx.save(entity.KindUser, u.ID, u)
}

// settle replays every live bet of a resolved round into its user's running
// ledger. Bets are visited in id order. Running it twice for the same round
// counts the bets twice.
func (e *Engine) settle(tx *txn, r *entity.Round, betPrefix string) error {
	bets, err := loadAll[entity.Bet](tx, entity.KindBet, betPrefix)
	if err != nil {
		return err
	}

	settled := 0
	for _, bet := range bets {
		if bet.IsReverted {
			continue
		}
		u, err := load[entity.User](tx, entity.KindUser, bet.User)
		if err != nil {
			return err
		}
		if u == nil {
			continue
		}

		applySettlement(u, bet.Amount, bet.Position == *r.Position)
		if err := tx.save(entity.KindUser, u.ID, u); err != nil {
			return err
		}
		settled++
	}

	if e.metrics != nil {
		e.metrics.SettledBets.Add(float64(settled))
	}
	e.log.Debug().Str("round", r.ID).Str("position", string(*r.Position)).Int("bets", settled).Msg("round settled")
	return nil
}

// applySettlement folds one settled bet into a user's invest and balance.
// A winning bet returns 90% profit; a losing one forfeits the stake.
func applySettlement(u *entity.User, amount decimal.Decimal, won bool) {
	var pl decimal.Decimal
	if won {
		pl = amount.Mul(payoutNumerator).Div(payoutDenominator)
	} else {
		pl = amount.Neg()
	}

	if u.WholeBetAmount.IsZero() {
		u.Invest = amount
		u.Balance = amount.Add(pl)
	} else {
		prevInvest := u.Invest
		if u.Balance.LessThan(amount) {
			u.Invest = u.Invest.Add(amount.Sub(u.Balance))
		}
		u.Balance = u.Balance.Add(pl).Add(u.Invest).Sub(prevInvest)
	}

	if won {
		u.WholePayoutAmount = u.WholePayoutAmount.Add(pl).Add(amount)
	}
	u.WholeBetAmount = u.WholeBetAmount.Add(amount)
	u.ProfitLose = u.WholePayoutAmount.Sub(u.WholeBetAmount)
	if u.Invest.IsPositive() {
		u.ROI = u.ProfitLose.Div(u.Invest)
	}
}
