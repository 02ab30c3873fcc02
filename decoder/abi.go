// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package decoder

// Role identifies which contract emitted a log. Topics are only unique
// within a role, so the follower tags every watched address with one.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleMarketManager
	RoleVaultManager
	RoleOracleManager
	RoleMarket
	RoleVault
	RoleOracle
)

func (r Role) String() string {
	switch r {
	case RoleMarketManager:
		return "market_manager"
	case RoleVaultManager:
		return "vault_manager"
	case RoleOracleManager:
		return "oracle_manager"
	case RoleMarket:
		return "market"
	case RoleVault:
		return "vault"
	case RoleOracle:
		return "oracle"
	default:
		return "unknown"
	}
}

const marketManagerABI = `[
	{"type":"event","name":"MarketAdded","anonymous":false,"inputs":[
		{"name":"market","type":"address","indexed":true},
		{"name":"marketName","type":"string","indexed":false},
		{"name":"pairName","type":"string","indexed":false}]}
]`

const vaultManagerABI = `[
	{"type":"event","name":"VaultAdded","anonymous":false,"inputs":[
		{"name":"vault","type":"address","indexed":true},
		{"name":"underlyingToken","type":"address","indexed":true}]}
]`

const oracleManagerABI = `[
	{"type":"event","name":"OracleAdded","anonymous":false,"inputs":[
		{"name":"oracle","type":"address","indexed":true}]}
]`

const marketABI = `[
	{"type":"event","name":"StartRound","anonymous":false,"inputs":[
		{"name":"timeframeId","type":"uint8","indexed":true},
		{"name":"epoch","type":"uint256","indexed":true},
		{"name":"startTime","type":"uint256","indexed":false}]},
	{"type":"event","name":"LockRound","anonymous":false,"inputs":[
		{"name":"timeframeId","type":"uint8","indexed":true},
		{"name":"epoch","type":"uint256","indexed":true},
		{"name":"price","type":"uint256","indexed":false}]},
	{"type":"event","name":"EndRound","anonymous":false,"inputs":[
		{"name":"timeframeId","type":"uint8","indexed":true},
		{"name":"epoch","type":"uint256","indexed":true},
		{"name":"price","type":"uint256","indexed":false}]},
	{"type":"event","name":"PositionOpened","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"timeframeId","type":"uint8","indexed":false},
		{"name":"roundId","type":"uint256","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"position","type":"uint8","indexed":false}]},
	{"type":"event","name":"PositionOpened","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"timeframeId","type":"uint8","indexed":false},
		{"name":"roundId","type":"uint256","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"position","type":"uint8","indexed":false},
		{"name":"creditUsed","type":"bool","indexed":false}]},
	{"type":"event","name":"Claimed","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"timeframeId","type":"uint8","indexed":false},
		{"name":"roundId","type":"uint256","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"isRefund","type":"bool","indexed":false}]},
	{"type":"event","name":"BetReverted","anonymous":false,"inputs":[
		{"name":"timeframeId","type":"uint8","indexed":false},
		{"name":"epoch","type":"uint256","indexed":false},
		{"name":"users","type":"address[]","indexed":false}]},
	{"type":"event","name":"Paused","anonymous":false,"inputs":[
		{"name":"account","type":"address","indexed":false}]},
	{"type":"event","name":"Unpaused","anonymous":false,"inputs":[
		{"name":"account","type":"address","indexed":false}]},
	{"type":"event","name":"MarketNameChanged","anonymous":false,"inputs":[
		{"name":"newName","type":"string","indexed":false}]},
	{"type":"event","name":"GenesisStartTimeSet","anonymous":false,"inputs":[
		{"name":"newTime","type":"uint256","indexed":false}]},
	{"type":"event","name":"OracleChanged","anonymous":false,"inputs":[
		{"name":"newOracle","type":"address","indexed":true}]},
	{"type":"event","name":"AdminChanged","anonymous":false,"inputs":[
		{"name":"newAdmin","type":"address","indexed":true}]},
	{"type":"event","name":"OperatorChanged","anonymous":false,"inputs":[
		{"name":"newOperator","type":"address","indexed":true}]}
]`

const vaultABI = `[
	{"type":"event","name":"LiquidityAdded","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"oldTokenId","type":"uint256","indexed":false},
		{"name":"newTokenId","type":"uint256","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"newShareAmount","type":"uint256","indexed":false}]},
	{"type":"event","name":"LiquidityRemoved","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"tokenId","type":"uint256","indexed":false},
		{"name":"newTokenId","type":"uint256","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"shareAmount","type":"uint256","indexed":false},
		{"name":"newShares","type":"uint256","indexed":false},
		{"name":"fee","type":"uint256","indexed":false}]},
	{"type":"event","name":"PositionMerged","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"tokenIds","type":"uint256[]","indexed":false},
		{"name":"newTokenId","type":"uint256","indexed":false}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"tokenId","type":"uint256","indexed":true}]},
	{"type":"event","name":"WithdrawalRequested","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"shareAmount","type":"uint256","indexed":false},
		{"name":"tokenId","type":"uint256","indexed":false}]},
	{"type":"event","name":"WithdrawalRequestCanceled","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"tokenId","type":"uint256","indexed":false}]},
	{"type":"event","name":"VaultChangedFromMarket","anonymous":false,"inputs":[
		{"name":"prevTvl","type":"uint256","indexed":false},
		{"name":"totalDepositedAmount","type":"uint256","indexed":false}]},
	{"type":"event","name":"ManagementFeeWithdrawed","anonymous":false,"inputs":[]},
	{"type":"event","name":"ConfigChanged","anonymous":false,"inputs":[
		{"name":"config","type":"address","indexed":true}]},
	{"type":"event","name":"OwnershipTransferred","anonymous":false,"inputs":[
		{"name":"previousOwner","type":"address","indexed":true},
		{"name":"newOwner","type":"address","indexed":true}]}
]`

const oracleABI = `[
	{"type":"event","name":"WriterUpdated","anonymous":false,"inputs":[
		{"name":"writer","type":"address","indexed":true},
		{"name":"enabled","type":"bool","indexed":false}]},
	{"type":"event","name":"WrotePrice","anonymous":false,"inputs":[
		{"name":"writer","type":"address","indexed":true},
		{"name":"roundId","type":"uint256","indexed":true},
		{"name":"price","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]}
]`

var roleABIs = map[Role]string{
	RoleMarketManager: marketManagerABI,
	RoleVaultManager:  vaultManagerABI,
	RoleOracleManager: oracleManagerABI,
	RoleMarket:        marketABI,
	RoleVault:         vaultABI,
	RoleOracle:        oracleABI,
}
