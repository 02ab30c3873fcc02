// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package entity

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// DefaultDecimals is used for unsupported token decimals
	DefaultDecimals uint8 = 6
	// DefaultSymbol is assigned to markets before their vault is known
	DefaultSymbol = "USDC"
	// PriceDecimals is the fixed scale of oracle and round prices
	PriceDecimals = 8
)

// Scale returns the exponent used to normalize raw amounts of a token with
// the given decimals. Only 6 and 18 are supported; anything else uses 6.
func Scale(decimals uint8) int32 {
	switch decimals {
	case 6, 18:
		return int32(decimals)
	default:
		return int32(DefaultDecimals)
	}
}

// Normalize converts a raw integer amount into a decimal using the token's decimals.
func Normalize(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -Scale(decimals))
}

// NormalizePrice converts a raw 8-decimal price
func NormalizePrice(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -PriceDecimals)
}
