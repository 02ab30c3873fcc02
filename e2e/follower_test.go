// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package e2e

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/luxfi/binaryindexer/chain"
	"github.com/luxfi/binaryindexer/contracts"
	"github.com/luxfi/binaryindexer/decoder"
	"github.com/luxfi/binaryindexer/entity"
	"github.com/luxfi/binaryindexer/ledger"
	"github.com/luxfi/binaryindexer/observability"
	"github.com/luxfi/binaryindexer/storage"
	"github.com/luxfi/binaryindexer/storage/kv"
)

var _ = Describe("Follower", func() {
	var (
		cfg    *NodeConfig
		client *ethclient.Client
		repo   *kv.Store
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		cfg = loadNodeConfig()
		if cfg.RPCURL == "" {
			Skip("BINDEX_E2E_RPC not set")
		}
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Minute)

		var err error
		client, err = ethclient.DialContext(ctx, cfg.RPCURL)
		Expect(err).NotTo(HaveOccurred())
		repo = kv.NewMemory()
	})

	AfterEach(func() {
		if cancel == nil {
			return
		}
		cancel()
		client.Close()
		repo.Close()
	})

	newFollower := func(start uint64) *chain.Follower {
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		dec, err := decoder.New()
		Expect(err).NotTo(HaveOccurred())
		engine := ledger.New(repo, contracts.NewChainReader(client),
			ledger.WithLogger(zerolog.New(GinkgoWriter)),
			ledger.WithMetrics(metrics),
		)
		return chain.NewFollower(chain.Config{
			MarketManager: cfg.MarketManager,
			VaultManager:  cfg.VaultManager,
			OracleManager: cfg.OracleManager,
			StartBlock:    start,
			BatchSize:     500,
			PollInterval:  time.Second,
		}, client, dec, engine, repo, zerolog.New(GinkgoWriter), metrics)
	}

	It("scans a window of confirmed blocks and persists the cursor", func() {
		head, err := client.BlockNumber(ctx)
		Expect(err).NotTo(HaveOccurred())

		start := cfg.StartBlock
		if start == 0 && head > cfg.Blocks {
			start = head - cfg.Blocks
		}
		f := newFollower(start)
		Expect(f.Restore(ctx)).To(Succeed())
		Expect(f.Sync(ctx)).To(Succeed())
		Expect(f.Cursor().Scanned).To(BeNumerically(">=", head))

		// A second follower resumes where the first stopped.
		g := newFollower(start)
		Expect(g.Restore(ctx)).To(Succeed())
		Expect(g.Cursor()).To(Equal(f.Cursor()))
	})

	It("watches every indexed market it reconciled", func() {
		if cfg.MarketManager == nil {
			Skip("BINDEX_E2E_MARKET_MANAGER not set")
		}
		f := newFollower(cfg.StartBlock)
		Expect(f.Restore(ctx)).To(Succeed())
		Expect(f.Sync(ctx)).To(Succeed())

		markets, err := storage.LoadAll[entity.Market](ctx, repo, entity.KindMarket, "", 0)
		Expect(err).NotTo(HaveOccurred())
		GinkgoWriter.Printf("indexed %d markets\n", len(markets))
		for _, m := range markets {
			role, ok := f.Watched(common.HexToAddress(m.ID))
			Expect(ok).To(BeTrue(), m.ID)
			Expect(role).To(Equal(decoder.RoleMarket))
		}
	})
})
