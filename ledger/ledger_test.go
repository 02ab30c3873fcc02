// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"bytes"
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/luxfi/binaryindexer/contracts"
	"github.com/luxfi/binaryindexer/entity"
	"github.com/luxfi/binaryindexer/event"
	"github.com/luxfi/binaryindexer/observability"
	"github.com/luxfi/binaryindexer/storage"
	"github.com/luxfi/binaryindexer/storage/kv"
)

var _ = Describe("Engine", func() {
	var (
		ctx      context.Context
		repo     *kv.Store
		reader   *fakeReader
		metrics  *observability.Metrics
		engine   *Engine
		c        *chain
		notified []event.Event
	)

	apply := func(ev event.Event) {
		GinkgoHelper()
		Expect(engine.Apply(ctx, ev)).To(Succeed())
	}

	addMarket := func() {
		GinkgoHelper()
		apply(&event.MarketAdded{Meta: c.meta(managerEOA), Market: marketAddr, Name: "BTC", PairName: "BTC/USD"})
	}

	startRound := func(tf uint8, epoch, start uint64) {
		GinkgoHelper()
		apply(&event.RoundStarted{Meta: c.meta(marketAddr), TimeframeID: tf, Epoch: epoch, StartTime: start})
	}

	bet := func(user common.Address, tf uint8, epoch uint64, amount int64, side uint8) {
		GinkgoHelper()
		apply(&event.PositionOpened{Meta: c.meta(marketAddr), TimeframeID: tf, RoundEpoch: epoch, User: user, Amount: usdc(amount), Position: side})
	}

	lock := func(tf uint8, epoch uint64, p int64) {
		GinkgoHelper()
		apply(&event.RoundLocked{Meta: c.meta(marketAddr), TimeframeID: tf, Epoch: epoch, Price: price(p)})
	}

	end := func(tf uint8, epoch uint64, p int64) {
		GinkgoHelper()
		apply(&event.RoundEnded{Meta: c.meta(marketAddr), TimeframeID: tf, Epoch: epoch, Price: price(p)})
	}

	BeforeEach(func() {
		ctx = context.Background()
		repo = kv.NewMemory()
		reader = &fakeReader{
			token:       contracts.TokenMetadata{Decimals: 6, Symbol: "USDC", Name: "USD Coin"},
			marketVault: vaultAddr,
		}
		metrics = observability.NewMetrics(prometheus.NewRegistry())
		notified = nil
		engine = New(repo, reader,
			WithMetrics(metrics),
			WithNotifier(func(ev event.Event) { notified = append(notified, ev) }),
		)
		c = &chain{block: 100}
	})

	AfterEach(func() {
		Expect(repo.Close()).To(Succeed())
	})

	Describe("markets", func() {
		It("creates a market with default denomination", func() {
			addMarket()

			m := mustLoad[entity.Market](repo, entity.KindMarket, entity.AddressID(marketAddr))
			Expect(m.Name).To(Equal("BTC"))
			Expect(m.PairName).To(Equal("BTC/USD"))
			Expect(m.Decimals).To(BeEquivalentTo(6))
			Expect(m.Symbol).To(Equal("USDC"))
			Expect(notified).To(HaveLen(1))
		})

		It("copies denomination from a known vault", func() {
			reader.token = contracts.TokenMetadata{Decimals: 18, Symbol: "WETH"}
			apply(&event.VaultAdded{Meta: c.meta(managerEOA), Vault: vaultAddr, UnderlyingToken: tokenAddr})
			addMarket()

			m := mustLoad[entity.Market](repo, entity.KindMarket, entity.AddressID(marketAddr))
			Expect(m.Decimals).To(BeEquivalentTo(18))
			Expect(m.Symbol).To(Equal("WETH"))
		})

		It("leaves an indexed market alone when it is added again", func() {
			addMarket()
			reader.token = contracts.TokenMetadata{Decimals: 18, Symbol: "WETH"}
			apply(&event.VaultAdded{Meta: c.meta(managerEOA), Vault: vaultAddr, UnderlyingToken: tokenAddr})
			before := mustLoad[entity.Market](repo, entity.KindMarket, entity.AddressID(marketAddr))

			reader.err = errRPC
			apply(&event.MarketAdded{Meta: c.meta(managerEOA), Market: marketAddr, Name: "ETH", PairName: "ETH/USD"})

			m := mustLoad[entity.Market](repo, entity.KindMarket, entity.AddressID(marketAddr))
			Expect(m).To(Equal(before))
			Expect(m.Name).To(Equal("BTC"))
			Expect(m.Decimals).To(BeEquivalentTo(6))
			Expect(m.Symbol).To(Equal("USDC"))
		})

		It("ignores blacklisted markets", func() {
			engine = New(repo, reader, WithBlacklist([]common.Address{marketAddr}, nil))
			addMarket()
			Expect(absent(repo, entity.KindMarket, entity.AddressID(marketAddr))).To(BeTrue())
		})

		It("surfaces reader failures without writing", func() {
			reader.err = errRPC
			err := engine.Apply(ctx, &event.MarketAdded{Meta: c.meta(managerEOA), Market: marketAddr})
			Expect(err).To(MatchError(errRPC))
			Expect(dump(repo)).To(BeEmpty())
		})

		It("anchors genesis on the first round of timeframe zero", func() {
			addMarket()
			startRound(0, 0, 5000)
			startRound(1, 2, 9999)

			m := mustLoad[entity.Market](repo, entity.KindMarket, entity.AddressID(marketAddr))
			Expect(m.GenesisStartTime).To(BeEquivalentTo(5000))
			Expect(m.Epoch).To(BeEquivalentTo(2))

			r := mustLoad[entity.Round](repo, entity.KindRound, entity.RoundID(marketAddr, 1, 2))
			Expect(r.EstimatedStartTime).To(BeEquivalentTo(5600))
			Expect(r.EstimatedLockTime).To(BeEquivalentTo(5900))
			Expect(r.EstimatedEndTime).To(BeEquivalentTo(6200))
			Expect(r.Previous).To(HaveValue(Equal(entity.RoundID(marketAddr, 1, 1))))
			Expect(r.StartAt).NotTo(BeNil())
		})

		It("tracks pause and name changes", func() {
			addMarket()
			apply(&event.MarketPaused{Meta: c.meta(marketAddr), Account: managerEOA})
			Expect(mustLoad[entity.Market](repo, entity.KindMarket, entity.AddressID(marketAddr)).Paused).To(BeTrue())

			apply(&event.MarketUnpaused{Meta: c.meta(marketAddr), Account: managerEOA})
			apply(&event.MarketNameChanged{Meta: c.meta(marketAddr), NewName: "BTC fast"})
			m := mustLoad[entity.Market](repo, entity.KindMarket, entity.AddressID(marketAddr))
			Expect(m.Paused).To(BeFalse())
			Expect(m.Name).To(Equal("BTC fast"))
		})

		It("skips events for unknown markets", func() {
			apply(&event.MarketPaused{Meta: c.meta(marketAddr)})
			Expect(dump(repo)).To(BeEmpty())
			Expect(testutil.ToFloat64(metrics.EventsSkipped.WithLabelValues("MarketPaused", "market"))).To(Equal(1.0))
			Expect(notified).To(BeEmpty())
		})
	})

	Describe("settlement", func() {
		BeforeEach(func() {
			addMarket()
			startRound(0, 0, 1000)
		})

		It("credits a winning bull bet", func() {
			bet(alice, 0, 0, 100, 0)
			lock(0, 0, 100)
			end(0, 0, 110)

			r := mustLoad[entity.Round](repo, entity.KindRound, entity.RoundID(marketAddr, 0, 0))
			Expect(r.Position).To(HaveValue(Equal(entity.Bull)))
			Expect(r.Failed).To(HaveValue(BeFalse()))

			u := mustLoad[entity.User](repo, entity.KindUser, entity.AddressID(alice))
			Expect(u.Invest).To(equalDecimal("100"))
			Expect(u.Balance).To(equalDecimal("190"))
			Expect(u.WholeBetAmount).To(equalDecimal("100"))
			Expect(u.WholePayoutAmount).To(equalDecimal("190"))
			Expect(u.ProfitLose).To(equalDecimal("90"))
			Expect(u.ROI).To(equalDecimal("0.9"))
			Expect(testutil.ToFloat64(metrics.SettledBets)).To(Equal(1.0))
		})

		It("resolves equal prices to the house", func() {
			bet(alice, 0, 0, 100, 0)
			lock(0, 0, 100)
			end(0, 0, 100)

			r := mustLoad[entity.Round](repo, entity.KindRound, entity.RoundID(marketAddr, 0, 0))
			Expect(r.Position).To(HaveValue(Equal(entity.House)))

			u := mustLoad[entity.User](repo, entity.KindUser, entity.AddressID(alice))
			Expect(u.Balance).To(equalDecimal("0"))
			Expect(u.ProfitLose).To(equalDecimal("-100"))
			Expect(u.ROI).To(equalDecimal("-1"))
		})

		It("tops up invest when the balance cannot cover the next bet", func() {
			bet(alice, 0, 0, 100, 1)
			lock(0, 0, 100)
			end(0, 0, 110)

			startRound(0, 1, 1060)
			bet(alice, 0, 1, 50, 0)
			lock(0, 1, 110)
			end(0, 1, 120)

			u := mustLoad[entity.User](repo, entity.KindUser, entity.AddressID(alice))
			Expect(u.Invest).To(equalDecimal("150"))
			Expect(u.Balance).To(equalDecimal("95"))
			Expect(u.WholeBetAmount).To(equalDecimal("150"))
			Expect(u.ProfitLose).To(equalDecimal("-55"))
		})

		It("keeps side counters consistent", func() {
			bet(alice, 0, 0, 100, 0)
			bet(bob, 0, 0, 40, 1)

			r := mustLoad[entity.Round](repo, entity.KindRound, entity.RoundID(marketAddr, 0, 0))
			Expect(r.TotalBets).To(Equal(r.BullBets + r.BearBets))
			Expect(r.TotalAmount).To(equalDecimal(r.BullAmount.Add(r.BearAmount).String()))

			m := mustLoad[entity.Market](repo, entity.KindMarket, entity.AddressID(marketAddr))
			Expect(m.TotalUsers).To(BeEquivalentTo(2))
			Expect(m.TotalBets).To(Equal(m.TotalBetsBull + m.TotalBetsBear))
			Expect(m.TotalAmount).To(equalDecimal("140"))
		})

		It("settles again when a round ends twice", func() {
			bet(alice, 0, 0, 100, 0)
			lock(0, 0, 100)
			end(0, 0, 110)
			end(0, 0, 110)

			u := mustLoad[entity.User](repo, entity.KindUser, entity.AddressID(alice))
			Expect(u.WholeBetAmount).To(equalDecimal("200"))
		})

		It("records the end without resolving when no lock price is known", func() {
			bet(alice, 0, 0, 100, 0)
			end(0, 0, 110)

			r := mustLoad[entity.Round](repo, entity.KindRound, entity.RoundID(marketAddr, 0, 0))
			Expect(r.ClosePrice).NotTo(BeNil())
			Expect(r.Position).To(BeNil())
			Expect(mustLoad[entity.User](repo, entity.KindUser, entity.AddressID(alice)).WholeBetAmount.IsZero()).To(BeTrue())
		})

		It("estimates times for a bet placed ahead of its round", func() {
			engine = New(repo, reader, WithTimeframes(map[uint8]uint64{0: 60}), WithMetrics(metrics))
			bet(bob, 0, 3, 10, 1)

			id := entity.RoundID(marketAddr, 0, 3)
			r := mustLoad[entity.Round](repo, entity.KindRound, id)
			Expect(r.StartAt).To(BeNil())
			Expect(r.EstimatedStartTime).To(BeEquivalentTo(1180))
			Expect(r.EstimatedLockTime).To(BeEquivalentTo(1240))
			Expect(r.EstimatedEndTime).To(BeEquivalentTo(1300))
			Expect(r.TotalBets).To(BeEquivalentTo(1))

			startRound(0, 3, 1185)

			r = mustLoad[entity.Round](repo, entity.KindRound, id)
			Expect(r.StartAt).NotTo(BeNil())
			Expect(r.StartBlock).NotTo(BeNil())
			Expect(r.StartHash).NotTo(BeNil())
			Expect(r.LockAt).To(BeNil())
			Expect(r.EndAt).To(BeNil())
			Expect(r.TotalBets).To(BeEquivalentTo(1))
			Expect(r.BearBets).To(BeEquivalentTo(1))
			Expect(r.BearAmount).To(equalDecimal("10"))
			Expect(r.TotalAmount).To(equalDecimal("10"))
			Expect(r.EstimatedStartTime).To(BeEquivalentTo(1180))
			Expect(mustLoad[entity.Market](repo, entity.KindMarket, entity.AddressID(marketAddr)).Epoch).To(BeEquivalentTo(3))
		})

		It("marks credit bets", func() {
			apply(&event.PositionOpenedCredit{
				PositionOpened: event.PositionOpened{Meta: c.meta(marketAddr), RoundEpoch: 0, User: alice, Amount: usdc(10)},
				CreditUsed:     true,
			})
			b := mustLoad[entity.Bet](repo, entity.KindBet, entity.BetID(marketAddr, 0, 0, alice))
			Expect(b.CreditUsed).To(BeTrue())
			Expect(b.Position).To(Equal(entity.Bull))
		})
	})

	Describe("claims and reversals", func() {
		BeforeEach(func() {
			addMarket()
			startRound(0, 0, 1000)
		})

		It("accumulates payouts for winning claims", func() {
			bet(alice, 0, 0, 100, 0)
			apply(&event.Claimed{Meta: c.meta(marketAddr), RoundEpoch: 0, User: alice, Amount: usdc(190)})

			b := mustLoad[entity.Bet](repo, entity.KindBet, entity.BetID(marketAddr, 0, 0, alice))
			Expect(b.Claimed).To(BeTrue())
			Expect(*b.ClaimedAmount).To(equalDecimal("190"))
			Expect(b.IsReverted).To(BeFalse())

			p := mustLoad[entity.Payout](repo, entity.KindPayout, entity.MarketUserID(marketAddr, alice))
			Expect(p.Amount).To(equalDecimal("190"))
			w := mustLoad[entity.WinBet](repo, entity.KindWinBet, entity.MarketUserID(marketAddr, alice))
			Expect(w.Count).To(BeEquivalentTo(1))
		})

		It("undoes a refunded bet", func() {
			bet(alice, 0, 0, 100, 1)
			apply(&event.Claimed{Meta: c.meta(marketAddr), RoundEpoch: 0, User: alice, Amount: usdc(100), IsRefund: true})

			r := mustLoad[entity.Round](repo, entity.KindRound, entity.RoundID(marketAddr, 0, 0))
			Expect(r.TotalBets).To(BeZero())
			Expect(r.BearAmount).To(equalDecimal("0"))
			Expect(absent(repo, entity.KindPayout, entity.MarketUserID(marketAddr, alice))).To(BeTrue())

			tb := mustLoad[entity.TotalBet](repo, entity.KindTotalBet, entity.TotalBetID(marketAddr, 0, alice))
			Expect(tb.Count).To(BeZero())
		})

		It("only stamps a claim on an already reverted bet", func() {
			bet(alice, 0, 0, 100, 0)
			apply(&event.BetReverted{Meta: c.meta(marketAddr), Epoch: 0, Users: []common.Address{alice}})
			apply(&event.Claimed{Meta: c.meta(marketAddr), RoundEpoch: 0, User: alice, Amount: usdc(100), IsRefund: true})

			r := mustLoad[entity.Round](repo, entity.KindRound, entity.RoundID(marketAddr, 0, 0))
			Expect(r.TotalBets).To(BeZero())
			Expect(r.BullBets).To(BeZero())
			Expect(mustLoad[entity.Bet](repo, entity.KindBet, entity.BetID(marketAddr, 0, 0, alice)).Claimed).To(BeTrue())
		})

		It("reverses a batch of bets back to the prior totals", func() {
			r0 := mustLoad[entity.Round](repo, entity.KindRound, entity.RoundID(marketAddr, 0, 0))
			m0 := mustLoad[entity.Market](repo, entity.KindMarket, entity.AddressID(marketAddr))

			bet(alice, 0, 0, 100, 0)
			bet(bob, 0, 0, 30, 0)
			apply(&event.BetReverted{Meta: c.meta(marketAddr), Epoch: 0, Users: []common.Address{alice, bob, managerEOA}})

			r := mustLoad[entity.Round](repo, entity.KindRound, entity.RoundID(marketAddr, 0, 0))
			Expect(r.TotalBets).To(Equal(r0.TotalBets))
			Expect(r.BullBets).To(Equal(r0.BullBets))
			Expect(r.TotalAmount).To(equalDecimal(r0.TotalAmount.String()))
			Expect(r.BullAmount).To(equalDecimal(r0.BullAmount.String()))

			m := mustLoad[entity.Market](repo, entity.KindMarket, entity.AddressID(marketAddr))
			Expect(m.TotalBets).To(Equal(m0.TotalBets))
			Expect(m.TotalAmount).To(equalDecimal(m0.TotalAmount.String()))
			Expect(testutil.ToFloat64(metrics.ReversedBets)).To(Equal(2.0))

			lock(0, 0, 100)
			end(0, 0, 120)
			u := mustLoad[entity.User](repo, entity.KindUser, entity.AddressID(alice))
			Expect(u.WholeBetAmount.IsZero()).To(BeTrue())
		})

		It("debits a mixed batch on the side of its first bet", func() {
			bet(alice, 0, 0, 100, 0)
			bet(bob, 0, 0, 30, 1)
			apply(&event.BetReverted{Meta: c.meta(marketAddr), Epoch: 0, Users: []common.Address{alice, bob}})

			r := mustLoad[entity.Round](repo, entity.KindRound, entity.RoundID(marketAddr, 0, 0))
			Expect(r.TotalBets).To(BeZero())
			Expect(r.TotalAmount).To(equalDecimal("0"))
			Expect(r.BullBets).To(BeEquivalentTo(-1))
			Expect(r.BullAmount).To(equalDecimal("-30"))
			Expect(r.BearBets).To(BeEquivalentTo(1))
			Expect(r.BearAmount).To(equalDecimal("30"))

			m := mustLoad[entity.Market](repo, entity.KindMarket, entity.AddressID(marketAddr))
			Expect(m.TotalBets).To(BeZero())
			Expect(m.TotalBetsBull).To(BeEquivalentTo(-1))
			Expect(m.TotalBullAmount).To(equalDecimal("-30"))
			Expect(m.TotalBetsBear).To(BeEquivalentTo(1))
			Expect(m.TotalBearAmount).To(equalDecimal("30"))

			for _, user := range []common.Address{alice, bob} {
				tb := mustLoad[entity.TotalBet](repo, entity.KindTotalBet, entity.TotalBetID(marketAddr, 0, user))
				Expect(tb.Count).To(BeZero())
			}
		})

		It("skips claims for unknown bets", func() {
			before := dump(repo)
			apply(&event.Claimed{Meta: c.meta(marketAddr), RoundEpoch: 0, User: alice, Amount: usdc(1)})
			Expect(dump(repo)).To(Equal(before))
		})
	})

	Describe("vaults", func() {
		BeforeEach(func() {
			apply(&event.VaultAdded{Meta: c.meta(managerEOA), Vault: vaultAddr, UnderlyingToken: tokenAddr})
		})

		deposit := func(oldID, newID int64, amount int64) {
			GinkgoHelper()
			apply(&event.LiquidityAdded{
				Meta: c.meta(vaultAddr), User: alice,
				Amount: usdc(amount), NewShareAmount: usdc(amount),
				OldTokenID: big.NewInt(oldID), NewTokenID: big.NewInt(newID),
			})
		}

		vault := func() *entity.Vault {
			GinkgoHelper()
			return mustLoad[entity.Vault](repo, entity.KindVault, entity.AddressID(vaultAddr))
		}

		It("reads token metadata when the vault is added", func() {
			v := vault()
			Expect(v.UnderlyingToken).To(Equal(entity.AddressID(tokenAddr)))
			Expect(v.Symbol).To(Equal("USDC"))
			Expect(v.Admin).To(Equal(entity.AddressID(managerEOA)))
			Expect(v.TokenIDs.Len()).To(BeZero())
		})

		It("mints and partially withdraws a position", func() {
			deposit(7, 7, 50)
			v := vault()
			Expect(v.TotalShares).To(equalDecimal("50"))
			Expect(v.TokenIDs.Values()).To(Equal([]string{"7"}))

			apply(&event.LiquidityRemoved{
				Meta: c.meta(vaultAddr), User: alice,
				Amount: usdc(20), Fee: big.NewInt(0), ShareAmount: usdc(20),
				TokenID: big.NewInt(7), NewTokenID: big.NewInt(9), NewShares: usdc(30),
			})

			v = vault()
			Expect(v.TokenIDs.Values()).To(Equal([]string{"9"}))
			Expect(v.TotalShares).To(equalDecimal("30"))
			Expect(v.TotalStakedAmount).To(equalDecimal("30"))
			Expect(v.TotalInvestedAmount).To(equalDecimal("30"))

			p := mustLoad[entity.VaultPosition](repo, entity.KindVaultPosition, entity.PositionID(vaultAddr, big.NewInt(9)))
			Expect(p.InvestAmount).To(equalDecimal("30"))
			Expect(p.ShareAmount).To(equalDecimal("30"))
			Expect(absent(repo, entity.KindVaultPosition, entity.PositionID(vaultAddr, big.NewInt(7)))).To(BeTrue())

			acts, err := storage.LoadAll[entity.VaultActivity](ctx, repo, entity.KindVaultActivity, "", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(acts).To(HaveLen(2))
		})

		It("burns a position fully and clears its withdrawal", func() {
			deposit(3, 3, 10)
			apply(&event.WithdrawalRequested{Meta: c.meta(vaultAddr), TokenID: big.NewInt(3), ShareAmount: usdc(10)})
			apply(&event.LiquidityRemoved{
				Meta: c.meta(vaultAddr), User: alice,
				Amount: usdc(9), Fee: usdc(1), ShareAmount: usdc(10),
				TokenID: big.NewInt(3), NewTokenID: big.NewInt(0), NewShares: big.NewInt(0),
			})

			v := vault()
			Expect(v.TokenIDs.Len()).To(BeZero())
			Expect(v.TotalInvestedAmount).To(equalDecimal("0"))
			Expect(v.FeeAccrued).To(equalDecimal("1"))
			Expect(absent(repo, entity.KindWithdrawal, entity.PositionID(vaultAddr, big.NewInt(3)))).To(BeTrue())

			snaps, err := storage.LoadAll[entity.VaultSnapshot](ctx, repo, entity.KindVaultSnapshot, "", 0)
			Expect(err).NotTo(HaveOccurred())
			var fees int
			for _, s := range snaps {
				if s.ManagementFee != nil {
					fees++
					Expect(*s.ManagementFee).To(equalDecimal("1"))
				}
			}
			Expect(fees).To(Equal(1))
		})

		It("logs an error for a withdrawal that was never requested", func() {
			var logs bytes.Buffer
			engine = New(repo, reader, WithLogger(zerolog.New(&logs)), WithMetrics(metrics))
			deposit(4, 4, 10)

			before := dump(repo)
			apply(&event.WithdrawalRequestCanceled{Meta: c.meta(vaultAddr), TokenID: big.NewInt(4)})
			Expect(dump(repo)).To(Equal(before))
			Expect(logs.String()).To(ContainSubstring(`"level":"error"`))
			Expect(logs.String()).To(ContainSubstring("canceled withdrawal not found"))

			logs.Reset()
			apply(&event.LiquidityRemoved{
				Meta: c.meta(vaultAddr), User: alice,
				Amount: usdc(10), Fee: big.NewInt(0), ShareAmount: usdc(10),
				TokenID: big.NewInt(4), NewTokenID: big.NewInt(0), NewShares: big.NewInt(0),
			})
			Expect(vault().TokenIDs.Len()).To(BeZero())
			Expect(logs.String()).To(ContainSubstring(`"level":"error"`))
			Expect(logs.String()).To(ContainSubstring("liquidity removed without pending withdrawal"))
		})

		It("tops up an existing position under a new id", func() {
			deposit(5, 5, 10)
			deposit(5, 6, 15)

			p := mustLoad[entity.VaultPosition](repo, entity.KindVaultPosition, entity.PositionID(vaultAddr, big.NewInt(6)))
			Expect(p.InvestAmount).To(equalDecimal("25"))
			Expect(vault().TokenIDs.Values()).To(Equal([]string{"6"}))
		})

		It("skips a top-up of an unknown position", func() {
			before := dump(repo)
			deposit(5, 6, 15)
			Expect(dump(repo)).To(Equal(before))
		})

		It("merges positions", func() {
			deposit(1, 1, 10)
			deposit(2, 2, 20)
			deposit(3, 3, 30)
			Expect(vault().TokenIDs.Len()).To(Equal(3))

			apply(&event.PositionMerged{
				Meta: c.meta(vaultAddr), User: bob,
				TokenIDs:   []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)},
				NewTokenID: big.NewInt(4),
			})

			Expect(vault().TokenIDs.Values()).To(Equal([]string{"4"}))
			p := mustLoad[entity.VaultPosition](repo, entity.KindVaultPosition, entity.PositionID(vaultAddr, big.NewInt(4)))
			Expect(p.InvestAmount).To(equalDecimal("60"))
			Expect(p.Owner).To(Equal(entity.AddressID(bob)))
		})

		It("transfers ownership but ignores mints and burns", func() {
			deposit(8, 8, 10)
			apply(&event.PositionTransferred{Meta: c.meta(vaultAddr), TokenID: big.NewInt(8), From: common.Address{}, To: bob})
			p := mustLoad[entity.VaultPosition](repo, entity.KindVaultPosition, entity.PositionID(vaultAddr, big.NewInt(8)))
			Expect(p.Owner).To(Equal(entity.AddressID(alice)))

			apply(&event.PositionTransferred{Meta: c.meta(vaultAddr), TokenID: big.NewInt(8), From: alice, To: bob})
			p = mustLoad[entity.VaultPosition](repo, entity.KindVaultPosition, entity.PositionID(vaultAddr, big.NewInt(8)))
			Expect(p.Owner).To(Equal(entity.AddressID(bob)))
		})

		It("keeps a single withdrawal per position", func() {
			deposit(2, 2, 10)
			reader.fee = usdc(1)
			apply(&event.WithdrawalRequested{Meta: c.meta(vaultAddr), TokenID: big.NewInt(2), ShareAmount: usdc(4)})
			apply(&event.WithdrawalRequested{Meta: c.meta(vaultAddr), TokenID: big.NewInt(2), ShareAmount: usdc(6)})

			ws, err := storage.LoadAll[entity.Withdrawal](ctx, repo, entity.KindWithdrawal, "", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ws).To(HaveLen(1))
			Expect(ws[0].ShareAmount).To(equalDecimal("6"))
			Expect(ws[0].FeeAmount).To(equalDecimal("1"))
			Expect(ws[0].State).To(Equal(entity.Pending))

			p := mustLoad[entity.VaultPosition](repo, entity.KindVaultPosition, entity.PositionID(vaultAddr, big.NewInt(2)))
			Expect(p.Withdrawal).To(HaveValue(Equal(ws[0].ID)))

			apply(&event.WithdrawalRequestCanceled{Meta: c.meta(vaultAddr), TokenID: big.NewInt(2)})
			Expect(absent(repo, entity.KindWithdrawal, ws[0].ID)).To(BeTrue())
		})

		It("reloads totals after a management fee withdrawal", func() {
			deposit(1, 1, 10)
			reader.totals = contracts.VaultTotals{TotalShareSupply: usdc(9), TotalDepositedAmount: usdc(8)}
			apply(&event.ManagementFeeWithdrawed{Meta: c.meta(vaultAddr)})

			v := vault()
			Expect(v.TotalShares).To(equalDecimal("9"))
			Expect(v.TotalStakedAmount).To(equalDecimal("8"))
			Expect(v.FeeAccrued.IsZero()).To(BeTrue())
		})

		It("overwrites staked amount from the market", func() {
			apply(&event.VaultChangedFromMarket{Meta: c.meta(vaultAddr), TotalDepositedAmount: usdc(77)})
			Expect(vault().TotalStakedAmount).To(equalDecimal("77"))
		})

		It("tracks owner and config changes", func() {
			cfg := common.HexToAddress("0x00000000000000000000000000000000000000c0")
			apply(&event.VaultConfigChanged{Meta: c.meta(vaultAddr), Config: cfg})
			apply(&event.VaultOwnerChanged{Meta: c.meta(vaultAddr), NewOwner: bob})
			v := vault()
			Expect(v.Config).To(Equal(entity.AddressID(cfg)))
			Expect(v.Admin).To(Equal(entity.AddressID(bob)))
		})
	})

	Describe("oracles", func() {
		It("records writers and prices", func() {
			apply(&event.OracleAdded{Meta: c.meta(managerEOA), Oracle: oracleAddr})
			apply(&event.OracleWriterUpdated{Meta: c.meta(oracleAddr), Writer: alice, Enabled: true})
			apply(&event.OracleWriterUpdated{Meta: c.meta(oracleAddr), Writer: bob, Enabled: false})

			o := mustLoad[entity.Oracle](repo, entity.KindOracle, entity.AddressID(oracleAddr))
			Expect(o.Writer).To(HaveValue(Equal(entity.AddressID(alice))))

			m := c.meta(oracleAddr)
			apply(&event.OraclePriceWritten{Meta: m, Price: price(42), Timestamp: 1234, Writer: alice})
			p := mustLoad[entity.Price](repo, entity.KindPrice, entity.PriceID(oracleAddr, m.TxHash, m.LogIndex))
			Expect(p.Price).To(equalDecimal("42"))
			Expect(p.Timestamp).To(BeEquivalentTo(1234))
		})

		It("creates unknown oracles on first price", func() {
			other := common.HexToAddress("0x00000000000000000000000000000000000000ee")
			apply(&event.OraclePriceWritten{Meta: c.meta(other), Price: price(1), Writer: alice})
			Expect(absent(repo, entity.KindOracle, entity.AddressID(other))).To(BeFalse())
		})
	})
})

var _ = Describe("applySettlement", func() {
	It("leaves ROI untouched while nothing is invested", func() {
		u := entity.NewUser("u", 0, 0)
		u.ROI = dec("0.5")
		applySettlement(u, dec("0"), false)
		Expect(u.Invest.IsZero()).To(BeTrue())
		Expect(u.ROI).To(equalDecimal("0.5"))
	})

	DescribeTable("resolve",
		func(lock, close string, want entity.Position) {
			Expect(resolve(dec(lock), dec(close))).To(Equal(want))
		},
		Entry("higher close", "100", "101", entity.Bull),
		Entry("lower close", "100", "99.5", entity.Bear),
		Entry("equal close", "100", "100.00", entity.House),
	)
})
