// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package decoder turns raw EVM logs from the binary market, vault and oracle
// contracts into typed events.
package decoder

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/crypto/sha3"

	"github.com/luxfi/binaryindexer/event"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMalformed    = errors.New("malformed event")
)

// Topic returns the keccak256 topic of an event signature
func Topic(sig string) common.Hash {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(sig))
	return common.BytesToHash(hasher.Sum(nil))
}

type builder func(m event.Meta, a *args) event.Event

type binding struct {
	event abi.Event
	build builder
}

// Decoder maps (role, topic0) to an event builder
type Decoder struct {
	roles map[Role]map[common.Hash]*binding
	sigs  map[string]*binding
}

// New parses the contract ABIs and binds every event to its builder
func New() (*Decoder, error) {
	d := &Decoder{
		roles: make(map[Role]map[common.Hash]*binding),
		sigs:  make(map[string]*binding),
	}
	for role, def := range roleABIs {
		parsed, err := abi.JSON(strings.NewReader(def))
		if err != nil {
			return nil, fmt.Errorf("parse %s abi: %w", role, err)
		}
		table := make(map[common.Hash]*binding, len(parsed.Events))
		for _, ev := range parsed.Events {
			build, ok := builders[ev.Sig]
			if !ok {
				return nil, fmt.Errorf("no builder for %s", ev.Sig)
			}
			topic := Topic(ev.Sig)
			if topic != ev.ID {
				return nil, fmt.Errorf("topic mismatch for %s", ev.Sig)
			}
			b := &binding{event: ev, build: build}
			table[topic] = b
			d.sigs[ev.Sig] = b
		}
		d.roles[role] = table
	}
	return d, nil
}

// Signatures returns the canonical signatures known for role
func (d *Decoder) Signatures(role Role) []string {
	var out []string
	for _, b := range d.roles[role] {
		out = append(out, b.event.Sig)
	}
	return out
}

// Decode converts a log emitted by a contract with the given role. The
// returned event carries the log position; Timestamp and TxFrom are left for
// the caller to fill.
func (d *Decoder) Decode(role Role, log types.Log) (event.Event, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("%w: anonymous log", ErrUnknownEvent)
	}
	b, ok := d.roles[role][log.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("%w: %s topic %s", ErrUnknownEvent, role, log.Topics[0].Hex())
	}

	values := make(map[string]interface{})
	if err := b.event.Inputs.NonIndexed().UnpackIntoMap(values, log.Data); err != nil {
		return nil, fmt.Errorf("%w: %s data: %v", ErrMalformed, b.event.Sig, err)
	}
	var indexed abi.Arguments
	for _, arg := range b.event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(log.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("%w: %s has %d topics, want %d", ErrMalformed, b.event.Sig, len(log.Topics)-1, len(indexed))
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("%w: %s topics: %v", ErrMalformed, b.event.Sig, err)
	}

	meta := event.Meta{
		Address:     log.Address,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		TxIndex:     log.TxIndex,
		LogIndex:    log.Index,
	}
	a := &args{sig: b.event.Sig, values: values}
	ev := b.build(meta, a)
	if a.err != nil {
		return nil, a.err
	}
	return ev, nil
}

// Encode builds a log for sig with args in declaration order. It is the
// inverse of Decode and is used to replay fixtures.
func (d *Decoder) Encode(address common.Address, sig string, values ...interface{}) (types.Log, error) {
	b, ok := d.sigs[sig]
	if !ok {
		return types.Log{}, fmt.Errorf("%w: %s", ErrUnknownEvent, sig)
	}
	if len(values) != len(b.event.Inputs) {
		return types.Log{}, fmt.Errorf("%s takes %d arguments, got %d", sig, len(b.event.Inputs), len(values))
	}

	topics := []common.Hash{b.event.ID}
	var data []interface{}
	for i, arg := range b.event.Inputs {
		if !arg.Indexed {
			data = append(data, values[i])
			continue
		}
		t, err := abi.MakeTopics([]interface{}{values[i]})
		if err != nil {
			return types.Log{}, fmt.Errorf("topic %s: %w", arg.Name, err)
		}
		topics = append(topics, t[0][0])
	}
	packed, err := b.event.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return types.Log{}, fmt.Errorf("pack %s: %w", sig, err)
	}
	return types.Log{Address: address, Topics: topics, Data: packed}, nil
}

// args reads typed values out of an unpacked log, keeping the first error
type args struct {
	sig    string
	values map[string]interface{}
	err    error
}

func (a *args) fail(name string, v interface{}) {
	if a.err == nil {
		a.err = fmt.Errorf("%w: %s field %s has type %T", ErrMalformed, a.sig, name, v)
	}
}

func (a *args) bigInt(name string) *big.Int {
	v, ok := a.values[name].(*big.Int)
	if !ok {
		a.fail(name, a.values[name])
		return new(big.Int)
	}
	return v
}

func (a *args) u64(name string) uint64 {
	v := a.bigInt(name)
	if !v.IsUint64() {
		a.fail(name, v)
		return 0
	}
	return v.Uint64()
}

func (a *args) u8(name string) uint8 {
	v, ok := a.values[name].(uint8)
	if !ok {
		a.fail(name, a.values[name])
	}
	return v
}

func (a *args) flag(name string) bool {
	v, ok := a.values[name].(bool)
	if !ok {
		a.fail(name, a.values[name])
	}
	return v
}

func (a *args) str(name string) string {
	v, ok := a.values[name].(string)
	if !ok {
		a.fail(name, a.values[name])
	}
	return v
}

func (a *args) addr(name string) common.Address {
	v, ok := a.values[name].(common.Address)
	if !ok {
		a.fail(name, a.values[name])
	}
	return v
}

func (a *args) addrs(name string) []common.Address {
	v, ok := a.values[name].([]common.Address)
	if !ok {
		a.fail(name, a.values[name])
	}
	return v
}

func (a *args) bigInts(name string) []*big.Int {
	v, ok := a.values[name].([]*big.Int)
	if !ok {
		a.fail(name, a.values[name])
	}
	return v
}

func positionOpened(m event.Meta, a *args) event.PositionOpened {
	return event.PositionOpened{
		Meta:        m,
		TimeframeID: a.u8("timeframeId"),
		RoundEpoch:  a.u64("roundId"),
		User:        a.addr("user"),
		Amount:      a.bigInt("amount"),
		Position:    a.u8("position"),
	}
}

var builders = map[string]builder{
	"MarketAdded(address,string,string)": func(m event.Meta, a *args) event.Event {
		return &event.MarketAdded{Meta: m, Market: a.addr("market"), Name: a.str("marketName"), PairName: a.str("pairName")}
	},
	"VaultAdded(address,address)": func(m event.Meta, a *args) event.Event {
		return &event.VaultAdded{Meta: m, Vault: a.addr("vault"), UnderlyingToken: a.addr("underlyingToken")}
	},
	"OracleAdded(address)": func(m event.Meta, a *args) event.Event {
		return &event.OracleAdded{Meta: m, Oracle: a.addr("oracle")}
	},

	"StartRound(uint8,uint256,uint256)": func(m event.Meta, a *args) event.Event {
		return &event.RoundStarted{Meta: m, TimeframeID: a.u8("timeframeId"), Epoch: a.u64("epoch"), StartTime: a.u64("startTime")}
	},
	"LockRound(uint8,uint256,uint256)": func(m event.Meta, a *args) event.Event {
		return &event.RoundLocked{Meta: m, TimeframeID: a.u8("timeframeId"), Epoch: a.u64("epoch"), Price: a.bigInt("price")}
	},
	"EndRound(uint8,uint256,uint256)": func(m event.Meta, a *args) event.Event {
		return &event.RoundEnded{Meta: m, TimeframeID: a.u8("timeframeId"), Epoch: a.u64("epoch"), Price: a.bigInt("price")}
	},
	"PositionOpened(address,uint8,uint256,uint256,uint8)": func(m event.Meta, a *args) event.Event {
		ev := positionOpened(m, a)
		return &ev
	},
	"PositionOpened(address,uint8,uint256,uint256,uint8,bool)": func(m event.Meta, a *args) event.Event {
		return &event.PositionOpenedCredit{PositionOpened: positionOpened(m, a), CreditUsed: a.flag("creditUsed")}
	},
	"Claimed(address,uint8,uint256,uint256,bool)": func(m event.Meta, a *args) event.Event {
		return &event.Claimed{
			Meta:        m,
			TimeframeID: a.u8("timeframeId"),
			RoundEpoch:  a.u64("roundId"),
			User:        a.addr("user"),
			Amount:      a.bigInt("amount"),
			IsRefund:    a.flag("isRefund"),
		}
	},
	"BetReverted(uint8,uint256,address[])": func(m event.Meta, a *args) event.Event {
		return &event.BetReverted{Meta: m, TimeframeID: a.u8("timeframeId"), Epoch: a.u64("epoch"), Users: a.addrs("users")}
	},
	"Paused(address)": func(m event.Meta, a *args) event.Event {
		return &event.MarketPaused{Meta: m, Account: a.addr("account")}
	},
	"Unpaused(address)": func(m event.Meta, a *args) event.Event {
		return &event.MarketUnpaused{Meta: m, Account: a.addr("account")}
	},
	"MarketNameChanged(string)": func(m event.Meta, a *args) event.Event {
		return &event.MarketNameChanged{Meta: m, NewName: a.str("newName")}
	},
	"GenesisStartTimeSet(uint256)": func(m event.Meta, a *args) event.Event {
		return &event.GenesisStartTimeSet{Meta: m, NewTime: a.u64("newTime")}
	},
	"OracleChanged(address)": func(m event.Meta, a *args) event.Event {
		return &event.MarketOracleChanged{Meta: m, NewOracle: a.addr("newOracle")}
	},
	"AdminChanged(address)": func(m event.Meta, a *args) event.Event {
		return &event.MarketAdminChanged{Meta: m, NewAdmin: a.addr("newAdmin")}
	},
	"OperatorChanged(address)": func(m event.Meta, a *args) event.Event {
		return &event.MarketOperatorChanged{Meta: m, NewOperator: a.addr("newOperator")}
	},

	"LiquidityAdded(address,uint256,uint256,uint256,uint256)": func(m event.Meta, a *args) event.Event {
		return &event.LiquidityAdded{
			Meta:           m,
			User:           a.addr("user"),
			Amount:         a.bigInt("amount"),
			NewShareAmount: a.bigInt("newShareAmount"),
			OldTokenID:     a.bigInt("oldTokenId"),
			NewTokenID:     a.bigInt("newTokenId"),
		}
	},
	"LiquidityRemoved(address,uint256,uint256,uint256,uint256,uint256,uint256)": func(m event.Meta, a *args) event.Event {
		return &event.LiquidityRemoved{
			Meta:        m,
			User:        a.addr("user"),
			Amount:      a.bigInt("amount"),
			Fee:         a.bigInt("fee"),
			ShareAmount: a.bigInt("shareAmount"),
			TokenID:     a.bigInt("tokenId"),
			NewTokenID:  a.bigInt("newTokenId"),
			NewShares:   a.bigInt("newShares"),
		}
	},
	"PositionMerged(address,uint256[],uint256)": func(m event.Meta, a *args) event.Event {
		return &event.PositionMerged{Meta: m, User: a.addr("user"), TokenIDs: a.bigInts("tokenIds"), NewTokenID: a.bigInt("newTokenId")}
	},
	"Transfer(address,address,uint256)": func(m event.Meta, a *args) event.Event {
		return &event.PositionTransferred{Meta: m, TokenID: a.bigInt("tokenId"), From: a.addr("from"), To: a.addr("to")}
	},
	"WithdrawalRequested(address,uint256,uint256)": func(m event.Meta, a *args) event.Event {
		return &event.WithdrawalRequested{Meta: m, TokenID: a.bigInt("tokenId"), ShareAmount: a.bigInt("shareAmount")}
	},
	"WithdrawalRequestCanceled(address,uint256)": func(m event.Meta, a *args) event.Event {
		return &event.WithdrawalRequestCanceled{Meta: m, TokenID: a.bigInt("tokenId")}
	},
	"VaultChangedFromMarket(uint256,uint256)": func(m event.Meta, a *args) event.Event {
		return &event.VaultChangedFromMarket{Meta: m, TotalDepositedAmount: a.bigInt("totalDepositedAmount")}
	},
	"ManagementFeeWithdrawed()": func(m event.Meta, a *args) event.Event {
		return &event.ManagementFeeWithdrawed{Meta: m}
	},
	"ConfigChanged(address)": func(m event.Meta, a *args) event.Event {
		return &event.VaultConfigChanged{Meta: m, Config: a.addr("config")}
	},
	"OwnershipTransferred(address,address)": func(m event.Meta, a *args) event.Event {
		return &event.VaultOwnerChanged{Meta: m, NewOwner: a.addr("newOwner")}
	},

	"WriterUpdated(address,bool)": func(m event.Meta, a *args) event.Event {
		return &event.OracleWriterUpdated{Meta: m, Writer: a.addr("writer"), Enabled: a.flag("enabled")}
	},
	"WrotePrice(address,uint256,uint256,uint256)": func(m event.Meta, a *args) event.Event {
		return &event.OraclePriceWritten{Meta: m, Writer: a.addr("writer"), Price: a.bigInt("price"), Timestamp: a.u64("timestamp")}
	},
}
