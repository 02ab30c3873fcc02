// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package contracts reads auxiliary on-chain state needed while indexing:
// token metadata, a market's vault, pending withdrawal fees and vault totals.
package contracts

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// TokenMetadata is the ERC20 metadata of a vault's underlying token
type TokenMetadata struct {
	Decimals uint8
	Symbol   string
	Name     string
}

// VaultTotals are the share supply and deposits reported by a vault
type VaultTotals struct {
	TotalShareSupply     *big.Int
	TotalDepositedAmount *big.Int
}

// Reader is the read-only view of contract state used by the ledger.
// Calls are evaluated at the given block.
type Reader interface {
	TokenMetadata(ctx context.Context, token common.Address, block uint64) (TokenMetadata, error)
	MarketVault(ctx context.Context, market common.Address, block uint64) (common.Address, error)
	WithdrawalFee(ctx context.Context, vault common.Address, tokenID *big.Int, block uint64) (*big.Int, error)
	VaultTotals(ctx context.Context, vault common.Address, block uint64) (VaultTotals, error)
}

const erc20ABI = `[
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

const marketABI = `[
	{"type":"function","name":"vault","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const vaultABI = `[
	{"type":"function","name":"withdrawalRequests","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],
	 "outputs":[
		{"name":"tokenId","type":"uint256"},
		{"name":"shareAmount","type":"uint256"},
		{"name":"underlyingTokenAmount","type":"uint256"},
		{"name":"timestamp","type":"uint256"},
		{"name":"user","type":"address"},
		{"name":"fee","type":"uint256"}
	 ]},
	{"type":"function","name":"totalShareSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalDepositedAmount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	ERC20ABI  = mustParse(erc20ABI)
	MarketABI = mustParse(marketABI)
	VaultABI  = mustParse(vaultABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("contracts: invalid abi: %v", err))
	}
	return parsed
}

// ChainReader implements Reader with eth_call through any ContractCaller,
// such as *ethclient.Client.
type ChainReader struct {
	caller ethereum.ContractCaller
}

var _ Reader = (*ChainReader)(nil)

// NewChainReader creates a reader over caller
func NewChainReader(caller ethereum.ContractCaller) *ChainReader {
	return &ChainReader{caller: caller}
}

func (r *ChainReader) call(ctx context.Context, contract abi.ABI, to common.Address, block uint64, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	var number *big.Int
	if block > 0 {
		number = new(big.Int).SetUint64(block)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, number)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (r *ChainReader) TokenMetadata(ctx context.Context, token common.Address, block uint64) (TokenMetadata, error) {
	var md TokenMetadata

	out, err := r.call(ctx, ERC20ABI, token, block, "decimals")
	if err != nil {
		return md, err
	}
	md.Decimals = *abi.ConvertType(out[0], new(uint8)).(*uint8)

	out, err = r.call(ctx, ERC20ABI, token, block, "symbol")
	if err != nil {
		return md, err
	}
	md.Symbol = *abi.ConvertType(out[0], new(string)).(*string)

	out, err = r.call(ctx, ERC20ABI, token, block, "name")
	if err != nil {
		return md, err
	}
	md.Name = *abi.ConvertType(out[0], new(string)).(*string)

	return md, nil
}

func (r *ChainReader) MarketVault(ctx context.Context, market common.Address, block uint64) (common.Address, error) {
	out, err := r.call(ctx, MarketABI, market, block, "vault")
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (r *ChainReader) WithdrawalFee(ctx context.Context, vault common.Address, tokenID *big.Int, block uint64) (*big.Int, error) {
	out, err := r.call(ctx, VaultABI, vault, block, "withdrawalRequests", tokenID)
	if err != nil {
		return nil, err
	}
	// fee is the last output
	return *abi.ConvertType(out[len(out)-1], new(*big.Int)).(**big.Int), nil
}

func (r *ChainReader) VaultTotals(ctx context.Context, vault common.Address, block uint64) (VaultTotals, error) {
	var totals VaultTotals

	out, err := r.call(ctx, VaultABI, vault, block, "totalShareSupply")
	if err != nil {
		return totals, err
	}
	totals.TotalShareSupply = *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)

	out, err = r.call(ctx, VaultABI, vault, block, "totalDepositedAmount")
	if err != nil {
		return totals, err
	}
	totals.TotalDepositedAmount = *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)

	return totals, nil
}
