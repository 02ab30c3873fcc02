// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"github.com/luxfi/binaryindexer/entity"
	"github.com/luxfi/binaryindexer/event"
)

func loadOrCreateOracle(tx *txn, id string) (*entity.Oracle, bool, error) {
	o, err := load[entity.Oracle](tx, entity.KindOracle, id)
	if err != nil || o != nil {
		return o, false, err
	}
	return &entity.Oracle{ID: id}, true, nil
}

func (e *Engine) onOracleAdded(tx *txn, ev *event.OracleAdded) error {
	o, _, err := loadOrCreateOracle(tx, entity.AddressID(ev.Oracle))
	if err != nil {
		return err
	}
	return tx.save(entity.KindOracle, o.ID, o)
}

func (e *Engine) onOracleWriterUpdated(tx *txn, ev *event.OracleWriterUpdated) error {
	o, _, err := loadOrCreateOracle(tx, entity.AddressID(ev.Address))
	if err != nil {
		return err
	}
	// Disabling a writer leaves the last enabled one in place.
	if ev.Enabled {
		w := entity.AddressID(ev.Writer)
		o.Writer = &w
	}
	return tx.save(entity.KindOracle, o.ID, o)
}

func (e *Engine) onOraclePriceWritten(tx *txn, ev *event.OraclePriceWritten) error {
	o, created, err := loadOrCreateOracle(tx, entity.AddressID(ev.Address))
	if err != nil {
		return err
	}
	if created {
		if err := tx.save(entity.KindOracle, o.ID, o); err != nil {
			return err
		}
	}

	p := &entity.Price{
		ID:        entity.PriceID(ev.Address, ev.TxHash, ev.LogIndex),
		Oracle:    o.ID,
		Timestamp: ev.Timestamp,
		Price:     entity.NormalizePrice(ev.Price),
		Writer:    entity.AddressID(ev.Writer),
	}
	return tx.save(entity.KindPrice, p.ID, p)
}
