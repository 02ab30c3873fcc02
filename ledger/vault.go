// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/luxfi/binaryindexer/entity"
	"github.com/luxfi/binaryindexer/event"
)

func (e *Engine) onVaultAdded(tx *txn, ev *event.VaultAdded) error {
	if e.vaultBlocked(ev.Vault) {
		e.log.Info().Str("vault", entity.AddressID(ev.Vault)).Msg("ignoring blacklisted vault")
		return nil
	}

	id := entity.AddressID(ev.Vault)
	v, err := load[entity.Vault](tx, entity.KindVault, id)
	if err != nil {
		return err
	}
	if v == nil {
		v = entity.NewVault(id, entity.AddressID(ev.TxFrom))
	}

	// Vaults created implicitly by an earlier vault event have no token yet.
	if v.UnderlyingToken == "" {
		md, err := e.reader.TokenMetadata(tx.ctx, ev.UnderlyingToken, ev.BlockNumber)
		if err != nil {
			return fmt.Errorf("read token %s of vault %s: %w", entity.AddressID(ev.UnderlyingToken), id, err)
		}
		v.UnderlyingToken = entity.AddressID(ev.UnderlyingToken)
		v.Decimals = md.Decimals
		v.Symbol = md.Symbol
		v.Name = md.Name
	}
	return tx.save(entity.KindVault, id, v)
}

func loadOrCreateVault(tx *txn, meta *event.Meta) (*entity.Vault, error) {
	id := entity.AddressID(meta.Address)
	v, err := load[entity.Vault](tx, entity.KindVault, id)
	if err != nil || v != nil {
		return v, err
	}
	return entity.NewVault(id, entity.AddressID(meta.TxFrom)), nil
}

func loadVault(tx *txn, meta *event.Meta) (*entity.Vault, error) {
	id := entity.AddressID(meta.Address)
	v, err := load[entity.Vault](tx, entity.KindVault, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, missing(entity.KindVault, id)
	}
	return v, nil
}

func loadPosition(tx *txn, vault common.Address, tokenID *big.Int) (*entity.VaultPosition, error) {
	return load[entity.VaultPosition](tx, entity.KindVaultPosition, entity.PositionID(vault, tokenID))
}

// snapshot records the vault's totals as of meta's block
func snapshot(tx *txn, v *entity.Vault, meta *event.Meta, fee *decimal.Decimal) error {
	s := &entity.VaultSnapshot{
		ID:                  entity.EventID(meta.Address, meta.Timestamp, meta.BlockHash, meta.LogIndex),
		Vault:               v.ID,
		Timestamp:           meta.Timestamp,
		TotalStakedAmount:   v.TotalStakedAmount,
		TotalInvestedAmount: v.TotalInvestedAmount,
		TotalShares:         v.TotalShares,
		ManagementFee:       fee,
	}
	return tx.save(entity.KindVaultSnapshot, s.ID, s)
}

func activity(tx *txn, v *entity.Vault, meta *event.Meta, account common.Address, amount decimal.Decimal, typ entity.ActivityType) error {
	a := &entity.VaultActivity{
		ID:        entity.EventID(meta.Address, meta.Timestamp, meta.BlockHash, meta.LogIndex),
		Vault:     v.ID,
		Account:   entity.AddressID(account),
		Amount:    amount,
		Type:      typ,
		Timestamp: meta.Timestamp,
	}
	return tx.save(entity.KindVaultActivity, a.ID, a)
}

// onLiquidityAdded mints a position, or tops up an existing one by moving it
// to a new token id.
func (e *Engine) onLiquidityAdded(tx *txn, ev *event.LiquidityAdded) error {
	v, err := loadOrCreateVault(tx, &ev.Meta)
	if err != nil {
		return err
	}

	amount := entity.Normalize(ev.Amount, v.Decimals)
	shares := entity.Normalize(ev.NewShareAmount, v.Decimals)

	newID := entity.PositionID(ev.Address, ev.NewTokenID)
	pos := &entity.VaultPosition{
		ID:           newID,
		Vault:        v.ID,
		TokenID:      entity.TokenKey(ev.NewTokenID),
		InvestAmount: amount,
		ShareAmount:  shares,
		Owner:        entity.AddressID(ev.User),
		Timestamp:    ev.Timestamp,
	}

	if ev.OldTokenID.Cmp(ev.NewTokenID) != 0 {
		old, err := loadPosition(tx, ev.Address, ev.OldTokenID)
		if err != nil {
			return err
		}
		if old == nil {
			return missing(entity.KindVaultPosition, entity.PositionID(ev.Address, ev.OldTokenID))
		}
		pos.InvestAmount = pos.InvestAmount.Add(old.InvestAmount)
		pos.ShareAmount = pos.ShareAmount.Add(old.ShareAmount)
		v.TokenIDs.Remove(ev.OldTokenID)
		tx.remove(entity.KindVaultPosition, old.ID)
	}
	v.TokenIDs.Insert(ev.NewTokenID)

	v.TotalShares = v.TotalShares.Add(shares)
	v.TotalStakedAmount = v.TotalStakedAmount.Add(amount)
	v.TotalInvestedAmount = v.TotalInvestedAmount.Add(amount)

	if err := tx.save(entity.KindVaultPosition, pos.ID, pos); err != nil {
		return err
	}
	if err := tx.save(entity.KindVault, v.ID, v); err != nil {
		return err
	}
	if err := snapshot(tx, v, &ev.Meta, nil); err != nil {
		return err
	}
	return activity(tx, v, &ev.Meta, ev.User, amount, entity.Deposit)
}

// onLiquidityRemoved burns a position. When shares remain they move to a new
// token id carrying a proportional share of the original investment.
func (e *Engine) onLiquidityRemoved(tx *txn, ev *event.LiquidityRemoved) error {
	v, err := loadOrCreateVault(tx, &ev.Meta)
	if err != nil {
		return err
	}
	old, err := loadPosition(tx, ev.Address, ev.TokenID)
	if err != nil {
		return err
	}
	if old == nil {
		return missing(entity.KindVaultPosition, entity.PositionID(ev.Address, ev.TokenID))
	}

	amount := entity.Normalize(ev.Amount, v.Decimals)
	fee := entity.Normalize(ev.Fee, v.Decimals)
	shareAmount := entity.Normalize(ev.ShareAmount, v.Decimals)
	newShares := entity.Normalize(ev.NewShares, v.Decimals)

	v.TotalShares = v.TotalShares.Sub(shareAmount)
	v.TotalStakedAmount = v.TotalStakedAmount.Sub(amount.Add(fee))
	v.FeeAccrued = v.FeeAccrued.Add(fee)

	// The old position goes first: the new token id may equal the old one.
	v.TokenIDs.Remove(ev.TokenID)
	tx.remove(entity.KindVaultPosition, old.ID)

	withdrawn := old.InvestAmount
	if newShares.IsPositive() {
		residual := old.InvestAmount
		if !old.ShareAmount.IsZero() {
			residual = old.InvestAmount.Mul(newShares).Div(old.ShareAmount)
		}
		withdrawn = old.InvestAmount.Sub(residual)

		pos := &entity.VaultPosition{
			ID:           entity.PositionID(ev.Address, ev.NewTokenID),
			Vault:        v.ID,
			TokenID:      entity.TokenKey(ev.NewTokenID),
			InvestAmount: residual,
			ShareAmount:  newShares,
			Owner:        entity.AddressID(ev.User),
			Timestamp:    ev.Timestamp,
		}
		v.TokenIDs.Insert(ev.NewTokenID)
		if err := tx.save(entity.KindVaultPosition, pos.ID, pos); err != nil {
			return err
		}
	}
	v.TotalInvestedAmount = v.TotalInvestedAmount.Sub(withdrawn)

	wid := old.ID
	w, err := load[entity.Withdrawal](tx, entity.KindWithdrawal, wid)
	if err != nil {
		return err
	}
	if w != nil {
		tx.remove(entity.KindWithdrawal, wid)
	} else {
		e.log.Error().Str("withdrawal", wid).Msg("liquidity removed without pending withdrawal")
	}

	if err := tx.save(entity.KindVault, v.ID, v); err != nil {
		return err
	}
	if err := snapshot(tx, v, &ev.Meta, &fee); err != nil {
		return err
	}
	return activity(tx, v, &ev.Meta, ev.User, amount, entity.Withdraw)
}

func (e *Engine) onPositionMerged(tx *txn, ev *event.PositionMerged) error {
	v, err := loadVault(tx, &ev.Meta)
	if err != nil {
		return err
	}

	invest, shares := decimal.Zero, decimal.Zero
	for _, tokenID := range ev.TokenIDs {
		p, err := loadPosition(tx, ev.Address, tokenID)
		if err != nil {
			return err
		}
		if p == nil {
			e.log.Warn().Str("position", entity.PositionID(ev.Address, tokenID)).Msg("merged position not found")
			continue
		}
		invest = invest.Add(p.InvestAmount)
		shares = shares.Add(p.ShareAmount)
		v.TokenIDs.Remove(tokenID)
		tx.remove(entity.KindVaultPosition, p.ID)
	}

	pos := &entity.VaultPosition{
		ID:           entity.PositionID(ev.Address, ev.NewTokenID),
		Vault:        v.ID,
		TokenID:      entity.TokenKey(ev.NewTokenID),
		InvestAmount: invest,
		ShareAmount:  shares,
		Owner:        entity.AddressID(ev.User),
		Timestamp:    ev.Timestamp,
	}
	v.TokenIDs.Insert(ev.NewTokenID)

	if err := tx.save(entity.KindVaultPosition, pos.ID, pos); err != nil {
		return err
	}
	return tx.save(entity.KindVault, v.ID, v)
}

// onPositionTransferred reassigns ownership. Mints and burns are covered by
// the liquidity events.
func (e *Engine) onPositionTransferred(tx *txn, ev *event.PositionTransferred) error {
	if ev.From == e.zero || ev.To == e.zero {
		return nil
	}
	id := entity.PositionID(ev.Address, ev.TokenID)
	p, err := load[entity.VaultPosition](tx, entity.KindVaultPosition, id)
	if err != nil {
		return err
	}
	if p == nil {
		return missing(entity.KindVaultPosition, id)
	}
	p.Owner = entity.AddressID(ev.To)
	return tx.save(entity.KindVaultPosition, id, p)
}

// onWithdrawalRequested records a pending request. A later request for the
// same token replaces the earlier one.
func (e *Engine) onWithdrawalRequested(tx *txn, ev *event.WithdrawalRequested) error {
	v, err := loadOrCreateVault(tx, &ev.Meta)
	if err != nil {
		return err
	}
	rawFee, err := e.reader.WithdrawalFee(tx.ctx, ev.Address, ev.TokenID, ev.BlockNumber)
	if err != nil {
		return fmt.Errorf("read withdrawal fee of %s: %w", entity.PositionID(ev.Address, ev.TokenID), err)
	}

	id := entity.PositionID(ev.Address, ev.TokenID)
	w, err := load[entity.Withdrawal](tx, entity.KindWithdrawal, id)
	if err != nil {
		return err
	}
	if w == nil {
		w = &entity.Withdrawal{ID: id, Vault: v.ID, TokenID: entity.TokenKey(ev.TokenID)}
	}
	w.ShareAmount = entity.Normalize(ev.ShareAmount, v.Decimals)
	w.FeeAmount = entity.Normalize(rawFee, v.Decimals)
	w.StartTime = ev.Timestamp
	w.State = entity.Pending
	if err := tx.save(entity.KindWithdrawal, id, w); err != nil {
		return err
	}

	p, err := load[entity.VaultPosition](tx, entity.KindVaultPosition, id)
	if err != nil {
		return err
	}
	if p == nil {
		e.log.Warn().Str("position", id).Msg("withdrawal requested for unknown position")
		return nil
	}
	p.Withdrawal = &w.ID
	return tx.save(entity.KindVaultPosition, id, p)
}

// onWithdrawalRequestCanceled drops the request; the position keeps its link.
func (e *Engine) onWithdrawalRequestCanceled(tx *txn, ev *event.WithdrawalRequestCanceled) error {
	id := entity.PositionID(ev.Address, ev.TokenID)
	w, err := load[entity.Withdrawal](tx, entity.KindWithdrawal, id)
	if err != nil {
		return err
	}
	if w == nil {
		e.log.Error().
			Str("withdrawal", id).
			Uint64("block", ev.BlockNumber).
			Msg("canceled withdrawal not found")
		return nil
	}
	tx.remove(entity.KindWithdrawal, id)
	return nil
}

func (e *Engine) onVaultChangedFromMarket(tx *txn, ev *event.VaultChangedFromMarket) error {
	v, err := loadVault(tx, &ev.Meta)
	if err != nil {
		return err
	}
	v.TotalStakedAmount = entity.Normalize(ev.TotalDepositedAmount, v.Decimals)
	if err := tx.save(entity.KindVault, v.ID, v); err != nil {
		return err
	}
	return snapshot(tx, v, &ev.Meta, nil)
}

func (e *Engine) onManagementFeeWithdrawed(tx *txn, ev *event.ManagementFeeWithdrawed) error {
	v, err := loadVault(tx, &ev.Meta)
	if err != nil {
		return err
	}
	totals, err := e.reader.VaultTotals(tx.ctx, ev.Address, ev.BlockNumber)
	if err != nil {
		return fmt.Errorf("read totals of vault %s: %w", v.ID, err)
	}
	v.TotalShares = entity.Normalize(totals.TotalShareSupply, v.Decimals)
	v.TotalStakedAmount = entity.Normalize(totals.TotalDepositedAmount, v.Decimals)
	v.FeeAccrued = decimal.Zero
	if err := tx.save(entity.KindVault, v.ID, v); err != nil {
		return err
	}
	return snapshot(tx, v, &ev.Meta, nil)
}

func (e *Engine) onVaultConfigChanged(tx *txn, ev *event.VaultConfigChanged) error {
	v, err := loadOrCreateVault(tx, &ev.Meta)
	if err != nil {
		return err
	}
	v.Config = entity.AddressID(ev.Config)
	return tx.save(entity.KindVault, v.ID, v)
}

func (e *Engine) onVaultOwnerChanged(tx *txn, ev *event.VaultOwnerChanged) error {
	v, err := loadOrCreateVault(tx, &ev.Meta)
	if err != nil {
		return err
	}
	v.Admin = entity.AddressID(ev.NewOwner)
	return tx.save(entity.KindVault, v.ID, v)
}
