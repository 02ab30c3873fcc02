// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package entity

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Composite identifiers are joined with '-'. Addresses are lowercase hex so
// that identifiers are stable regardless of checksum casing.

// AddressID returns the identifier of an address-keyed aggregate
func AddressID(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// RoundID returns the identifier of a round
func RoundID(market common.Address, timeframe uint8, epoch uint64) string {
	return fmt.Sprintf("%s-%d-%d", AddressID(market), timeframe, epoch)
}

// RoundBetPrefix returns the key prefix shared by all bets of a round
func RoundBetPrefix(market common.Address, timeframe uint8, epoch uint64) string {
	return RoundID(market, timeframe, epoch) + "-"
}

// BetID returns the identifier of a user's bet in a round
func BetID(market common.Address, timeframe uint8, epoch uint64, user common.Address) string {
	return RoundBetPrefix(market, timeframe, epoch) + AddressID(user)
}

// TotalBetID returns the identifier of a user's running totals in a market timeframe
func TotalBetID(market common.Address, timeframe uint8, user common.Address) string {
	return fmt.Sprintf("%s-%d-%s", AddressID(market), timeframe, AddressID(user))
}

// MarketUserID keys per-user aggregates scoped to a market (Payout, WinBet)
func MarketUserID(market, user common.Address) string {
	return AddressID(market) + "-" + AddressID(user)
}

// PositionID returns the identifier of a vault position (and of its withdrawal)
func PositionID(vault common.Address, tokenID *big.Int) string {
	return AddressID(vault) + "-" + TokenKey(tokenID)
}

// PositionPrefix returns the key prefix shared by all positions of a vault
func PositionPrefix(vault common.Address) string {
	return AddressID(vault) + "-"
}

// EventID keys per-event vault records so that several events in the same
// block remain distinct.
func EventID(vault common.Address, timestamp uint64, blockHash common.Hash, logIndex uint) string {
	return fmt.Sprintf("%s-%d-%s-%d", AddressID(vault), timestamp, strings.ToLower(blockHash.Hex()), logIndex)
}

// PriceID keys an oracle observation by its originating log
func PriceID(oracle common.Address, txHash common.Hash, logIndex uint) string {
	return fmt.Sprintf("%s-%s-%d", AddressID(oracle), strings.ToLower(txHash.Hex()), logIndex)
}

// TokenKey renders a token id in decimal
func TokenKey(tokenID *big.Int) string {
	if tokenID == nil {
		return "0"
	}
	return tokenID.String()
}
