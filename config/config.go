// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package config loads the indexer configuration from YAML with environment
// expansion. A .env file in the working directory is loaded first if present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/luxfi/binaryindexer/storage"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid config")

// Config is the full indexer configuration
type Config struct {
	RPC       string          `yaml:"rpc"`
	Contracts ContractsConfig `yaml:"contracts"`
	Follower  FollowerConfig  `yaml:"follower"`
	Storage   StorageConfig   `yaml:"storage"`
	HTTPPort  int             `yaml:"http_port"`
	LogLevel  string          `yaml:"log_level"`

	// Timeframes maps timeframe ids to round durations in seconds
	Timeframes map[uint8]uint64 `yaml:"timeframes"`
	Blacklist  BlacklistConfig  `yaml:"blacklist"`
}

// ContractsConfig holds the manager contracts that announce markets, vaults
// and oracles.
type ContractsConfig struct {
	MarketManager string `yaml:"market_manager"`
	VaultManager  string `yaml:"vault_manager"`
	OracleManager string `yaml:"oracle_manager"`
}

type FollowerConfig struct {
	StartBlock    uint64        `yaml:"start_block"`
	BatchSize     uint64        `yaml:"batch_size"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	Confirmations uint64        `yaml:"confirmations"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	URL     string `yaml:"url,omitempty"`
	DataDir string `yaml:"data_dir,omitempty"`
}

type BlacklistConfig struct {
	Markets []string `yaml:"markets"`
	Vaults  []string `yaml:"vaults"`
}

// Defaults returns a config usable against a local node with in-memory storage
func Defaults() *Config {
	return &Config{
		RPC: "http://localhost:8545",
		Follower: FollowerConfig{
			BatchSize:     1000,
			PollInterval:  5 * time.Second,
			Confirmations: 0,
		},
		Storage: StorageConfig{
			Backend: string(storage.BackendMemory),
			DataDir: "./data",
		},
		HTTPPort: 4000,
		LogLevel: "info",
		Timeframes: map[uint8]uint64{
			0: 60,
			1: 300,
			2: 900,
		},
	}
}

// Load reads path over Defaults. Environment variables are expanded in the
// file, then BINDEX_* variables override individual fields.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.RPC, "BINDEX_RPC")
	setStr(&cfg.Contracts.MarketManager, "BINDEX_MARKET_MANAGER")
	setStr(&cfg.Contracts.VaultManager, "BINDEX_VAULT_MANAGER")
	setStr(&cfg.Contracts.OracleManager, "BINDEX_ORACLE_MANAGER")
	setUint(&cfg.Follower.StartBlock, "BINDEX_START_BLOCK")
	setStr(&cfg.Storage.Backend, "BINDEX_STORAGE_BACKEND")
	setStr(&cfg.Storage.URL, "BINDEX_DATABASE_URL")
	setStr(&cfg.Storage.DataDir, "BINDEX_DATA_DIR")
	setStr(&cfg.LogLevel, "BINDEX_LOG_LEVEL")
	if v := os.Getenv("BINDEX_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTPPort = n
		}
	}
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setUint(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

// Validate checks the config for values the indexer cannot run with
func (c *Config) Validate() error {
	if c.RPC == "" {
		return fmt.Errorf("%w: rpc is required", ErrInvalid)
	}
	for name, addr := range map[string]string{
		"contracts.market_manager": c.Contracts.MarketManager,
		"contracts.vault_manager":  c.Contracts.VaultManager,
		"contracts.oracle_manager": c.Contracts.OracleManager,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: %s is not an address: %q", ErrInvalid, name, addr)
		}
	}
	if c.Contracts.MarketManager == "" && c.Contracts.VaultManager == "" && c.Contracts.OracleManager == "" {
		return fmt.Errorf("%w: at least one manager contract is required", ErrInvalid)
	}
	if c.Follower.BatchSize == 0 {
		return fmt.Errorf("%w: follower.batch_size must be positive", ErrInvalid)
	}
	if c.Follower.PollInterval <= 0 {
		return fmt.Errorf("%w: follower.poll_interval must be positive", ErrInvalid)
	}

	backend, err := storage.ParseBackend(c.Storage.Backend)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch backend {
	case storage.BackendPostgres:
		if c.Storage.URL == "" {
			return fmt.Errorf("%w: storage.url is required for postgres", ErrInvalid)
		}
	case storage.BackendBadger, storage.BackendSQLite:
		if c.Storage.URL == "" && c.Storage.DataDir == "" {
			return fmt.Errorf("%w: storage.data_dir is required for %s", ErrInvalid, backend)
		}
	}

	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("%w: http_port out of range: %d", ErrInvalid, c.HTTPPort)
	}
	for id, d := range c.Timeframes {
		if d == 0 {
			return fmt.Errorf("%w: timeframe %d has zero duration", ErrInvalid, id)
		}
	}
	for _, addr := range append(append([]string{}, c.Blacklist.Markets...), c.Blacklist.Vaults...) {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: blacklist entry is not an address: %q", ErrInvalid, addr)
		}
	}
	return nil
}

// StorageConfig converts the storage section for storage backends
func (c *Config) StorageConfig() (storage.Config, error) {
	backend, err := storage.ParseBackend(c.Storage.Backend)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Backend: backend,
		URL:     c.Storage.URL,
		DataDir: c.Storage.DataDir,
	}, nil
}

// Managers returns the configured manager addresses, skipping empty ones
func (c *Config) Managers() (market, vault, oracle *common.Address) {
	parse := func(s string) *common.Address {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		a := common.HexToAddress(s)
		return &a
	}
	return parse(c.Contracts.MarketManager), parse(c.Contracts.VaultManager), parse(c.Contracts.OracleManager)
}

// BlacklistedMarkets returns the blacklisted market addresses
func (c *Config) BlacklistedMarkets() []common.Address {
	return toAddresses(c.Blacklist.Markets)
}

// BlacklistedVaults returns the blacklisted vault addresses
func (c *Config) BlacklistedVaults() []common.Address {
	return toAddresses(c.Blacklist.Vaults)
}

func toAddresses(ss []string) []common.Address {
	out := make([]common.Address, 0, len(ss))
	for _, s := range ss {
		out = append(out, common.HexToAddress(s))
	}
	return out
}
