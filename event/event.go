// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package event defines the closed set of contract events consumed by the
// binary market and vault indexer. Every event carries a Meta describing the
// log it was decoded from; dispatch happens on the concrete type.
package event

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind identifies an event type
type Kind uint8

const (
	KindUnknown Kind = iota
	KindMarketAdded
	KindVaultAdded
	KindOracleAdded
	KindRoundStarted
	KindRoundLocked
	KindRoundEnded
	KindPositionOpened
	KindPositionOpenedCredit
	KindClaimed
	KindBetReverted
	KindMarketPaused
	KindMarketUnpaused
	KindMarketNameChanged
	KindGenesisStartTimeSet
	KindMarketOracleChanged
	KindMarketAdminChanged
	KindMarketOperatorChanged
	KindLiquidityAdded
	KindLiquidityRemoved
	KindPositionMerged
	KindPositionTransferred
	KindWithdrawalRequested
	KindWithdrawalRequestCanceled
	KindVaultChangedFromMarket
	KindManagementFeeWithdrawed
	KindVaultConfigChanged
	KindVaultOwnerChanged
	KindOracleWriterUpdated
	KindOraclePriceWritten
)

var kindNames = map[Kind]string{
	KindMarketAdded:               "MarketAdded",
	KindVaultAdded:                "VaultAdded",
	KindOracleAdded:               "OracleAdded",
	KindRoundStarted:              "RoundStarted",
	KindRoundLocked:               "RoundLocked",
	KindRoundEnded:                "RoundEnded",
	KindPositionOpened:            "PositionOpened",
	KindPositionOpenedCredit:      "PositionOpenedCredit",
	KindClaimed:                   "Claimed",
	KindBetReverted:               "BetReverted",
	KindMarketPaused:              "MarketPaused",
	KindMarketUnpaused:            "MarketUnpaused",
	KindMarketNameChanged:         "MarketNameChanged",
	KindGenesisStartTimeSet:       "GenesisStartTimeSet",
	KindMarketOracleChanged:       "MarketOracleChanged",
	KindMarketAdminChanged:        "MarketAdminChanged",
	KindMarketOperatorChanged:     "MarketOperatorChanged",
	KindLiquidityAdded:            "LiquidityAdded",
	KindLiquidityRemoved:          "LiquidityRemoved",
	KindPositionMerged:            "PositionMerged",
	KindPositionTransferred:       "PositionTransferred",
	KindWithdrawalRequested:       "WithdrawalRequested",
	KindWithdrawalRequestCanceled: "WithdrawalRequestCanceled",
	KindVaultChangedFromMarket:    "VaultChangedFromMarket",
	KindManagementFeeWithdrawed:   "ManagementFeeWithdrawed",
	KindVaultConfigChanged:        "VaultConfigChanged",
	KindVaultOwnerChanged:         "VaultOwnerChanged",
	KindOracleWriterUpdated:       "OracleWriterUpdated",
	KindOraclePriceWritten:        "OraclePriceWritten",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint8(k))
}

// Meta is the log envelope shared by every event
type Meta struct {
	Address     common.Address `json:"address"`
	BlockNumber uint64         `json:"blockNumber"`
	BlockHash   common.Hash    `json:"blockHash"`
	Timestamp   uint64         `json:"timestamp"` // block timestamp, unix seconds
	TxHash      common.Hash    `json:"txHash"`
	TxIndex     uint           `json:"txIndex"`
	TxFrom      common.Address `json:"txFrom"`
	LogIndex    uint           `json:"logIndex"`
}

// Base returns the envelope of the event
func (m *Meta) Base() *Meta { return m }

func (m *Meta) sealed() {}

// Event is implemented only by the types in this package
type Event interface {
	Kind() Kind
	Base() *Meta
	sealed()
}

// Market manager events

type MarketAdded struct {
	Meta
	Market   common.Address `json:"market"`
	Name     string         `json:"name"`
	PairName string         `json:"pairName"`
}

type VaultAdded struct {
	Meta
	Vault           common.Address `json:"vault"`
	UnderlyingToken common.Address `json:"underlyingToken"`
}

type OracleAdded struct {
	Meta
	Oracle common.Address `json:"oracle"`
}

// Market events

type RoundStarted struct {
	Meta
	TimeframeID uint8  `json:"timeframeId"`
	Epoch       uint64 `json:"epoch"`
	StartTime   uint64 `json:"startTime"`
}

type RoundLocked struct {
	Meta
	TimeframeID uint8    `json:"timeframeId"`
	Epoch       uint64   `json:"epoch"`
	Price       *big.Int `json:"price"`
}

type RoundEnded struct {
	Meta
	TimeframeID uint8    `json:"timeframeId"`
	Epoch       uint64   `json:"epoch"`
	Price       *big.Int `json:"price"`
}

// PositionOpened is a bet placed on a round. Position 0 is bull, anything
// else bear.
type PositionOpened struct {
	Meta
	TimeframeID uint8          `json:"timeframeId"`
	RoundEpoch  uint64         `json:"roundEpoch"`
	User        common.Address `json:"user"`
	Amount      *big.Int       `json:"amount"`
	Position    uint8          `json:"position"`
}

// PositionOpenedCredit is the credit-enabled variant of PositionOpened
type PositionOpenedCredit struct {
	PositionOpened
	CreditUsed bool `json:"creditUsed"`
}

// Canonical maps the credit variant onto the base bet event.
func (e *PositionOpenedCredit) Canonical() *PositionOpened {
	base := e.PositionOpened
	return &base
}

type Claimed struct {
	Meta
	TimeframeID uint8          `json:"timeframeId"`
	RoundEpoch  uint64         `json:"roundEpoch"`
	User        common.Address `json:"user"`
	Amount      *big.Int       `json:"amount"`
	IsRefund    bool           `json:"isRefund"`
}

type BetReverted struct {
	Meta
	TimeframeID uint8            `json:"timeframeId"`
	Epoch       uint64           `json:"epoch"`
	Users       []common.Address `json:"users"`
}

type MarketPaused struct {
	Meta
	Account common.Address `json:"account"`
}

type MarketUnpaused struct {
	Meta
	Account common.Address `json:"account"`
}

type MarketNameChanged struct {
	Meta
	NewName string `json:"newName"`
}

type GenesisStartTimeSet struct {
	Meta
	NewTime uint64 `json:"newTime"`
}

type MarketOracleChanged struct {
	Meta
	NewOracle common.Address `json:"newOracle"`
}

type MarketAdminChanged struct {
	Meta
	NewAdmin common.Address `json:"newAdmin"`
}

type MarketOperatorChanged struct {
	Meta
	NewOperator common.Address `json:"newOperator"`
}

// Vault events

type LiquidityAdded struct {
	Meta
	User           common.Address `json:"user"`
	Amount         *big.Int       `json:"amount"`
	NewShareAmount *big.Int       `json:"newShareAmount"`
	OldTokenID     *big.Int       `json:"oldTokenId"`
	NewTokenID     *big.Int       `json:"newTokenId"`
}

type LiquidityRemoved struct {
	Meta
	User        common.Address `json:"user"`
	Amount      *big.Int       `json:"amount"`
	Fee         *big.Int       `json:"fee"`
	ShareAmount *big.Int       `json:"shareAmount"`
	TokenID     *big.Int       `json:"tokenId"`
	NewTokenID  *big.Int       `json:"newTokenId"`
	NewShares   *big.Int       `json:"newShares"`
}

type PositionMerged struct {
	Meta
	User       common.Address `json:"user"`
	TokenIDs   []*big.Int     `json:"tokenIds"`
	NewTokenID *big.Int       `json:"newTokenId"`
}

type PositionTransferred struct {
	Meta
	TokenID *big.Int       `json:"tokenId"`
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
}

type WithdrawalRequested struct {
	Meta
	TokenID     *big.Int `json:"tokenId"`
	ShareAmount *big.Int `json:"shareAmount"`
}

type WithdrawalRequestCanceled struct {
	Meta
	TokenID *big.Int `json:"tokenId"`
}

type VaultChangedFromMarket struct {
	Meta
	TotalDepositedAmount *big.Int `json:"totalDepositedAmount"`
}

// ManagementFeeWithdrawed carries no payload; totals are re-read from the vault.
type ManagementFeeWithdrawed struct {
	Meta
}

type VaultConfigChanged struct {
	Meta
	Config common.Address `json:"config"`
}

type VaultOwnerChanged struct {
	Meta
	NewOwner common.Address `json:"newOwner"`
}

// Oracle events

type OracleWriterUpdated struct {
	Meta
	Writer  common.Address `json:"writer"`
	Enabled bool           `json:"enabled"`
}

type OraclePriceWritten struct {
	Meta
	Price     *big.Int       `json:"price"`
	Timestamp uint64         `json:"priceTimestamp"`
	Writer    common.Address `json:"writer"`
}

func (*MarketAdded) Kind() Kind               { return KindMarketAdded }
func (*VaultAdded) Kind() Kind                { return KindVaultAdded }
func (*OracleAdded) Kind() Kind               { return KindOracleAdded }
func (*RoundStarted) Kind() Kind              { return KindRoundStarted }
func (*RoundLocked) Kind() Kind               { return KindRoundLocked }
func (*RoundEnded) Kind() Kind                { return KindRoundEnded }
func (*PositionOpened) Kind() Kind            { return KindPositionOpened }
func (*PositionOpenedCredit) Kind() Kind      { return KindPositionOpenedCredit }
func (*Claimed) Kind() Kind                   { return KindClaimed }
func (*BetReverted) Kind() Kind               { return KindBetReverted }
func (*MarketPaused) Kind() Kind              { return KindMarketPaused }
func (*MarketUnpaused) Kind() Kind            { return KindMarketUnpaused }
func (*MarketNameChanged) Kind() Kind         { return KindMarketNameChanged }
func (*GenesisStartTimeSet) Kind() Kind       { return KindGenesisStartTimeSet }
func (*MarketOracleChanged) Kind() Kind       { return KindMarketOracleChanged }
func (*MarketAdminChanged) Kind() Kind        { return KindMarketAdminChanged }
func (*MarketOperatorChanged) Kind() Kind     { return KindMarketOperatorChanged }
func (*LiquidityAdded) Kind() Kind            { return KindLiquidityAdded }
func (*LiquidityRemoved) Kind() Kind          { return KindLiquidityRemoved }
func (*PositionMerged) Kind() Kind            { return KindPositionMerged }
func (*PositionTransferred) Kind() Kind       { return KindPositionTransferred }
func (*WithdrawalRequested) Kind() Kind       { return KindWithdrawalRequested }
func (*WithdrawalRequestCanceled) Kind() Kind { return KindWithdrawalRequestCanceled }
func (*VaultChangedFromMarket) Kind() Kind    { return KindVaultChangedFromMarket }
func (*ManagementFeeWithdrawed) Kind() Kind   { return KindManagementFeeWithdrawed }
func (*VaultConfigChanged) Kind() Kind        { return KindVaultConfigChanged }
func (*VaultOwnerChanged) Kind() Kind         { return KindVaultOwnerChanged }
func (*OracleWriterUpdated) Kind() Kind       { return KindOracleWriterUpdated }
func (*OraclePriceWritten) Kind() Kind        { return KindOraclePriceWritten }

// Position returns the (block, tx index, log index) ordering key of an event.
func Position(e Event) (block uint64, tx uint, log uint) {
	m := e.Base()
	return m.BlockNumber, m.TxIndex, m.LogIndex
}

// Less reports whether a precedes b in chain order.
func Less(a, b Event) bool {
	ab, at, al := Position(a)
	bb, bt, bl := Position(b)
	if ab != bb {
		return ab < bb
	}
	if at != bt {
		return at < bt
	}
	return al < bl
}
