// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the indexer.
type Metrics struct {
	// Ledger
	EventsApplied *prometheus.CounterVec
	EventsSkipped *prometheus.CounterVec
	EventDuration *prometheus.HistogramVec
	SettledBets   prometheus.Counter
	ReversedBets  prometheus.Counter

	// Follower
	HeadBlock      prometheus.Gauge
	CursorBlock    prometheus.Gauge
	LogsFetched    prometheus.Counter
	DecodeFailures *prometheus.CounterVec
	WatchedAddrs   prometheus.Gauge

	// Query API
	QueryRequests *prometheus.CounterVec
}

// NewMetrics registers the indexer metrics with reg. Pass a fresh registry
// in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bindex_events_applied_total",
			Help: "Events applied to the ledger by kind",
		}, []string{"kind"}),
		EventsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bindex_events_skipped_total",
			Help: "Events skipped because a referenced aggregate was missing",
		}, []string{"kind", "missing"}),
		EventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bindex_event_duration_seconds",
			Help:    "Time spent applying one event",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"kind"}),
		SettledBets: f.NewCounter(prometheus.CounterOpts{
			Name: "bindex_settled_bets_total",
			Help: "Bets processed by round settlement",
		}),
		ReversedBets: f.NewCounter(prometheus.CounterOpts{
			Name: "bindex_reversed_bets_total",
			Help: "Bets reverted by refunds or bulk reversals",
		}),
		HeadBlock: f.NewGauge(prometheus.GaugeOpts{
			Name: "bindex_follower_head_block",
			Help: "Latest chain head seen by the follower",
		}),
		CursorBlock: f.NewGauge(prometheus.GaugeOpts{
			Name: "bindex_follower_cursor_block",
			Help: "Block of the last applied log",
		}),
		LogsFetched: f.NewCounter(prometheus.CounterOpts{
			Name: "bindex_follower_logs_fetched_total",
			Help: "Logs returned by eth_getLogs",
		}),
		DecodeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bindex_follower_decode_failures_total",
			Help: "Logs that could not be decoded by contract role",
		}, []string{"role"}),
		WatchedAddrs: f.NewGauge(prometheus.GaugeOpts{
			Name: "bindex_follower_watched_addresses",
			Help: "Contract addresses in the follower filter",
		}),
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bindex_api_requests_total",
			Help: "Query API requests by route and status",
		}, []string{"route", "status"}),
	}
}
