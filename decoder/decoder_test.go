// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package decoder

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/luxfi/binaryindexer/event"
)

func newDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func TestTopic(t *testing.T) {
	// ERC20/721 Transfer
	want := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	if got := Topic("Transfer(address,address,uint256)"); got != want {
		t.Errorf("Topic() = %v, want %v", got.Hex(), want.Hex())
	}
}

func TestSignaturesPerRole(t *testing.T) {
	d := newDecoder(t)
	tests := []struct {
		role Role
		want int
	}{
		{RoleMarketManager, 1},
		{RoleVaultManager, 1},
		{RoleOracleManager, 1},
		{RoleMarket, 14},
		{RoleVault, 10},
		{RoleOracle, 2},
	}
	for _, tt := range tests {
		t.Run(tt.role.String(), func(t *testing.T) {
			if got := len(d.Signatures(tt.role)); got != tt.want {
				t.Errorf("len(Signatures()) = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	d := newDecoder(t)
	market := common.HexToAddress("0x1000000000000000000000000000000000000001")
	user := common.HexToAddress("0x2000000000000000000000000000000000000002")

	tests := []struct {
		name  string
		role  Role
		sig   string
		args  []interface{}
		check func(t *testing.T, ev event.Event)
	}{
		{
			name: "start round",
			role: RoleMarket,
			sig:  "StartRound(uint8,uint256,uint256)",
			args: []interface{}{uint8(1), big.NewInt(42), big.NewInt(1000)},
			check: func(t *testing.T, ev event.Event) {
				e := ev.(*event.RoundStarted)
				if e.TimeframeID != 1 || e.Epoch != 42 || e.StartTime != 1000 {
					t.Errorf("got %+v", e)
				}
			},
		},
		{
			name: "position opened",
			role: RoleMarket,
			sig:  "PositionOpened(address,uint8,uint256,uint256,uint8)",
			args: []interface{}{user, uint8(0), big.NewInt(3), big.NewInt(100_000_000), uint8(1)},
			check: func(t *testing.T, ev event.Event) {
				e := ev.(*event.PositionOpened)
				if e.User != user || e.RoundEpoch != 3 || e.Amount.Int64() != 100_000_000 || e.Position != 1 {
					t.Errorf("got %+v", e)
				}
			},
		},
		{
			name: "position opened with credit",
			role: RoleMarket,
			sig:  "PositionOpened(address,uint8,uint256,uint256,uint8,bool)",
			args: []interface{}{user, uint8(2), big.NewInt(5), big.NewInt(7), uint8(0), true},
			check: func(t *testing.T, ev event.Event) {
				e := ev.(*event.PositionOpenedCredit)
				if !e.CreditUsed || e.TimeframeID != 2 || e.Canonical().RoundEpoch != 5 {
					t.Errorf("got %+v", e)
				}
			},
		},
		{
			name: "bet reverted",
			role: RoleMarket,
			sig:  "BetReverted(uint8,uint256,address[])",
			args: []interface{}{uint8(0), big.NewInt(9), []common.Address{user, market}},
			check: func(t *testing.T, ev event.Event) {
				e := ev.(*event.BetReverted)
				if len(e.Users) != 2 || e.Users[1] != market {
					t.Errorf("got %+v", e)
				}
			},
		},
		{
			name: "position merged",
			role: RoleVault,
			sig:  "PositionMerged(address,uint256[],uint256)",
			args: []interface{}{user, []*big.Int{big.NewInt(1), big.NewInt(2)}, big.NewInt(3)},
			check: func(t *testing.T, ev event.Event) {
				e := ev.(*event.PositionMerged)
				if len(e.TokenIDs) != 2 || e.NewTokenID.Int64() != 3 {
					t.Errorf("got %+v", e)
				}
			},
		},
		{
			name: "transfer",
			role: RoleVault,
			sig:  "Transfer(address,address,uint256)",
			args: []interface{}{common.Address{}, user, big.NewInt(11)},
			check: func(t *testing.T, ev event.Event) {
				e := ev.(*event.PositionTransferred)
				if e.From != (common.Address{}) || e.To != user || e.TokenID.Int64() != 11 {
					t.Errorf("got %+v", e)
				}
			},
		},
		{
			name: "management fee withdrawed",
			role: RoleVault,
			sig:  "ManagementFeeWithdrawed()",
			check: func(t *testing.T, ev event.Event) {
				if ev.Kind() != event.KindManagementFeeWithdrawed {
					t.Errorf("Kind() = %v", ev.Kind())
				}
			},
		},
		{
			name: "wrote price",
			role: RoleOracle,
			sig:  "WrotePrice(address,uint256,uint256,uint256)",
			args: []interface{}{user, big.NewInt(1), big.NewInt(250_000_000), big.NewInt(1700)},
			check: func(t *testing.T, ev event.Event) {
				e := ev.(*event.OraclePriceWritten)
				if e.Writer != user || e.Price.Int64() != 250_000_000 || e.Timestamp != 1700 {
					t.Errorf("got %+v", e)
				}
			},
		},
		{
			name: "market added",
			role: RoleMarketManager,
			sig:  "MarketAdded(address,string,string)",
			args: []interface{}{market, "BTC 1m", "BTC/USD"},
			check: func(t *testing.T, ev event.Event) {
				e := ev.(*event.MarketAdded)
				if e.Market != market || e.Name != "BTC 1m" || e.PairName != "BTC/USD" {
					t.Errorf("got %+v", e)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := d.Encode(market, tt.sig, tt.args...)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			log.BlockNumber = 77
			log.Index = 4
			log.TxIndex = 2

			ev, err := d.Decode(tt.role, log)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			m := ev.Base()
			if m.Address != market || m.BlockNumber != 77 || m.LogIndex != 4 || m.TxIndex != 2 {
				t.Errorf("meta = %+v", m)
			}
			tt.check(t, ev)
		})
	}
}

func TestDecodeUnknown(t *testing.T) {
	d := newDecoder(t)

	log, err := d.Encode(common.Address{}, "Transfer(address,address,uint256)", common.Address{}, common.Address{}, big.NewInt(1))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		role Role
		log  types.Log
	}{
		{"wrong role", RoleMarket, log},
		{"no topics", RoleVault, types.Log{}},
		{"unknown topic", RoleVault, types.Log{Topics: []common.Hash{Topic("Approval(address,address,uint256)")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode(tt.role, tt.log)
			if !errors.Is(err, ErrUnknownEvent) {
				t.Errorf("Decode() error = %v, want ErrUnknownEvent", err)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	d := newDecoder(t)
	log, err := d.Encode(common.Address{}, "StartRound(uint8,uint256,uint256)", uint8(0), big.NewInt(1), big.NewInt(2))
	if err != nil {
		t.Fatal(err)
	}
	log.Data = log.Data[:10]

	if _, err := d.Decode(RoleMarket, log); !errors.Is(err, ErrMalformed) {
		t.Errorf("Decode() error = %v, want ErrMalformed", err)
	}
}
