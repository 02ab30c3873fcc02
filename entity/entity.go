// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package entity holds the derived aggregates maintained by the ledger:
// markets, rounds, bets and their per-user accumulators, vault positions,
// withdrawals and oracle prices. All amounts are normalized decimals.
package entity

import (
	"github.com/shopspring/decimal"

	"github.com/luxfi/binaryindexer/storage"
)

// Entity kinds, one per aggregate type. Each kind is an independent keyspace.
const (
	KindMarket        storage.Kind = "market"
	KindRound         storage.Kind = "round"
	KindBet           storage.Kind = "bet"
	KindTotalBet      storage.Kind = "total_bet"
	KindPayout        storage.Kind = "payout"
	KindWinBet        storage.Kind = "win_bet"
	KindUser          storage.Kind = "user"
	KindVault         storage.Kind = "vault"
	KindVaultPosition storage.Kind = "vault_position"
	KindVaultSnapshot storage.Kind = "vault_snapshot"
	KindVaultActivity storage.Kind = "vault_activity"
	KindWithdrawal    storage.Kind = "withdrawal"
	KindOracle        storage.Kind = "oracle"
	KindPrice         storage.Kind = "price"
)

// Kinds lists every aggregate kind
var Kinds = []storage.Kind{
	KindMarket, KindRound, KindBet, KindTotalBet, KindPayout, KindWinBet, KindUser,
	KindVault, KindVaultPosition, KindVaultSnapshot, KindVaultActivity, KindWithdrawal,
	KindOracle, KindPrice,
}

// Position is the side of a bet or the resolution of a round
type Position string

const (
	Bull  Position = "Bull"
	Bear  Position = "Bear"
	House Position = "House"
)

// SideOf maps the on-chain side flag: 0 is bull, anything else bear.
func SideOf(flag uint8) Position {
	if flag == 0 {
		return Bull
	}
	return Bear
}

// Market is one prediction market contract
type Market struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	PairName         string          `json:"pairName"`
	Paused           bool            `json:"paused"`
	Epoch            uint64          `json:"epoch"`
	GenesisStartTime uint64          `json:"genesisStartTime"`
	TotalUsers       int64           `json:"totalUsers"`
	TotalBets        int64           `json:"totalBets"`
	TotalBetsBull    int64           `json:"totalBetsBull"`
	TotalBetsBear    int64           `json:"totalBetsBear"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	TotalBullAmount  decimal.Decimal `json:"totalBullAmount"`
	TotalBearAmount  decimal.Decimal `json:"totalBearAmount"`
	Decimals         uint8           `json:"decimals"`
	Symbol           string          `json:"symbol"`
}

// NewMarket returns a market with zeroed counters
func NewMarket(id string) *Market {
	return &Market{
		ID:              id,
		TotalAmount:     decimal.Zero,
		TotalBullAmount: decimal.Zero,
		TotalBearAmount: decimal.Zero,
		Decimals:        DefaultDecimals,
		Symbol:          DefaultSymbol,
	}
}

// Round is one betting epoch within a market and timeframe
type Round struct {
	ID          string  `json:"id"`
	Market      string  `json:"market"`
	TimeframeID uint8   `json:"timeframeId"`
	Epoch       uint64  `json:"epoch"`
	Previous    *string `json:"previous,omitempty"`

	StartAt    *uint64 `json:"startAt,omitempty"`
	StartBlock *uint64 `json:"startBlock,omitempty"`
	StartHash  *string `json:"startHash,omitempty"`

	LockAt    *uint64          `json:"lockAt,omitempty"`
	LockBlock *uint64          `json:"lockBlock,omitempty"`
	LockHash  *string          `json:"lockHash,omitempty"`
	LockPrice *decimal.Decimal `json:"lockPrice,omitempty"`

	EndAt      *uint64          `json:"endAt,omitempty"`
	EndBlock   *uint64          `json:"endBlock,omitempty"`
	EndHash    *string          `json:"endHash,omitempty"`
	ClosePrice *decimal.Decimal `json:"closePrice,omitempty"`

	Position *Position `json:"position,omitempty"`
	Failed   *bool     `json:"failed,omitempty"`

	TotalBets   int64           `json:"totalBets"`
	BullBets    int64           `json:"bullBets"`
	BearBets    int64           `json:"bearBets"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	BullAmount  decimal.Decimal `json:"bullAmount"`
	BearAmount  decimal.Decimal `json:"bearAmount"`

	EstimatedStartTime uint64 `json:"estimatedStartTime"`
	EstimatedLockTime  uint64 `json:"estimatedLockTime"`
	EstimatedEndTime   uint64 `json:"estimatedEndTime"`
}

// Bet is one user's stake in one round
type Bet struct {
	ID            string           `json:"id"`
	Market        string           `json:"market"`
	Round         string           `json:"round"`
	User          string           `json:"user"`
	TimeframeID   uint8            `json:"timeframeId"`
	Hash          string           `json:"hash"`
	Amount        decimal.Decimal  `json:"amount"`
	Position      Position         `json:"position"`
	Claimed       bool             `json:"claimed"`
	ClaimedAmount *decimal.Decimal `json:"claimedAmount,omitempty"`
	ClaimedHash   *string          `json:"claimedHash,omitempty"`
	IsReverted    bool             `json:"isReverted"`
	CreditUsed    bool             `json:"creditUsed"`
	CreatedAt     uint64           `json:"createdAt"`
	UpdatedAt     uint64           `json:"updatedAt"`
	Block         uint64           `json:"block"`
}

// TotalBet is the per user, market and timeframe running total
type TotalBet struct {
	ID          string          `json:"id"`
	User        string          `json:"user"`
	Market      string          `json:"market"`
	TimeframeID uint8           `json:"timeframeId"`
	Count       int64           `json:"count"`
	Amount      decimal.Decimal `json:"amount"`
}

// Payout accumulates claimed amounts per user and market
type Payout struct {
	ID     string          `json:"id"`
	User   string          `json:"user"`
	Market string          `json:"market"`
	Amount decimal.Decimal `json:"amount"`
}

// WinBet accumulates winning claims per user and market
type WinBet struct {
	ID     string          `json:"id"`
	User   string          `json:"user"`
	Market string          `json:"market"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// User is a participant with a running settlement ledger.
// Invest is capital at risk; Balance is re-based against it on shortfalls.
type User struct {
	ID                string          `json:"id"`
	CreatedAt         uint64          `json:"createdAt"`
	UpdatedAt         uint64          `json:"updatedAt"`
	Block             uint64          `json:"block"`
	WholeBetAmount    decimal.Decimal `json:"wholeBetAmount"`
	WholePayoutAmount decimal.Decimal `json:"wholePayoutAmount"`
	Invest            decimal.Decimal `json:"invest"`
	Balance           decimal.Decimal `json:"balance"`
	ProfitLose        decimal.Decimal `json:"profitLose"`
	ROI               decimal.Decimal `json:"roi"`
}

// NewUser returns a user with zeroed accounting fields
func NewUser(id string, timestamp, block uint64) *User {
	return &User{
		ID:                id,
		CreatedAt:         timestamp,
		UpdatedAt:         timestamp,
		Block:             block,
		WholeBetAmount:    decimal.Zero,
		WholePayoutAmount: decimal.Zero,
		Invest:            decimal.Zero,
		Balance:           decimal.Zero,
		ProfitLose:        decimal.Zero,
		ROI:               decimal.Zero,
	}
}

// Vault is one yield vault contract
type Vault struct {
	ID                  string          `json:"id"`
	UnderlyingToken     string          `json:"underlyingToken"`
	Decimals            uint8           `json:"decimals"`
	Symbol              string          `json:"symbol"`
	Name                string          `json:"name"`
	TotalStakedAmount   decimal.Decimal `json:"totalStakedAmount"`
	TotalInvestedAmount decimal.Decimal `json:"totalInvestedAmount"`
	TotalShares         decimal.Decimal `json:"totalShares"`
	FeeAccrued          decimal.Decimal `json:"feeAccrued"`
	TokenIDs            TokenIDSet      `json:"tokenIds"`
	Admin               string          `json:"admin"`
	Config              string          `json:"config,omitempty"`
}

// NewVault returns a vault with zeroed totals and an empty token-id set
func NewVault(id, admin string) *Vault {
	return &Vault{
		ID:                  id,
		Decimals:            DefaultDecimals,
		TotalStakedAmount:   decimal.Zero,
		TotalInvestedAmount: decimal.Zero,
		TotalShares:         decimal.Zero,
		FeeAccrued:          decimal.Zero,
		Admin:               admin,
	}
}

// VaultPosition is one live NFT-style liquidity position
type VaultPosition struct {
	ID           string          `json:"id"`
	Vault        string          `json:"vault"`
	TokenID      string          `json:"tokenId"`
	InvestAmount decimal.Decimal `json:"investAmount"`
	ShareAmount  decimal.Decimal `json:"shareAmount"`
	Owner        string          `json:"owner"`
	Withdrawal   *string         `json:"withdrawal,omitempty"`
	Timestamp    uint64          `json:"timestamp"`
}

// VaultSnapshot records vault totals after a mutating event
type VaultSnapshot struct {
	ID                  string           `json:"id"`
	Vault               string           `json:"vault"`
	Timestamp           uint64           `json:"timestamp"`
	TotalStakedAmount   decimal.Decimal  `json:"totalStakedAmount"`
	TotalInvestedAmount decimal.Decimal  `json:"totalInvestedAmount"`
	TotalShares         decimal.Decimal  `json:"totalShares"`
	ManagementFee       *decimal.Decimal `json:"managementFee,omitempty"`
}

// ActivityType is the direction of a vault activity
type ActivityType string

const (
	Deposit  ActivityType = "Deposit"
	Withdraw ActivityType = "Withdraw"
)

// VaultActivity is a deposit or withdraw record
type VaultActivity struct {
	ID        string          `json:"id"`
	Vault     string          `json:"vault"`
	Account   string          `json:"account"`
	Amount    decimal.Decimal `json:"amount"`
	Type      ActivityType    `json:"type"`
	Timestamp uint64          `json:"timestamp"`
}

// WithdrawalState only has a pending value; completion deletes the record.
type WithdrawalState string

const Pending WithdrawalState = "PENDING"

// Withdrawal is a pending withdrawal request against a position
type Withdrawal struct {
	ID          string          `json:"id"`
	Vault       string          `json:"vault"`
	TokenID     string          `json:"tokenId"`
	ShareAmount decimal.Decimal `json:"shareAmount"`
	FeeAmount   decimal.Decimal `json:"feeAmount"`
	StartTime   uint64          `json:"startTime"`
	State       WithdrawalState `json:"state"`
}

// Oracle is a price oracle contract
type Oracle struct {
	ID     string  `json:"id"`
	Writer *string `json:"writer,omitempty"`
}

// Price is one oracle observation
type Price struct {
	ID        string          `json:"id"`
	Oracle    string          `json:"oracle"`
	Timestamp uint64          `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Writer    string          `json:"writer"`
}
