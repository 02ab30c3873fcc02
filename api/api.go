// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package api serves the derived aggregates over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/luxfi/binaryindexer/entity"
	"github.com/luxfi/binaryindexer/observability"
	"github.com/luxfi/binaryindexer/storage"
)

const maxPrices = 1000

// Config for the query server
type Config struct {
	Port int
	// Stream upgrades /api/v1/stream to a websocket, nil disables it
	Stream http.HandlerFunc
	// Status reports follower progress in /health, may be nil
	Status   func() interface{}
	Gatherer prometheus.Gatherer
}

// Server is the read-only query API
type Server struct {
	cfg     Config
	repo    storage.Repository
	log     zerolog.Logger
	metrics *observability.Metrics
	router  *mux.Router
}

func New(cfg Config, repo storage.Repository, log zerolog.Logger, metrics *observability.Metrics) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{cfg: cfg, repo: repo, log: log, metrics: metrics}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/markets/{address}", s.handleMarket).Methods("GET")
	api.HandleFunc("/markets/{address}/rounds/{timeframe:[0-9]+}/{epoch:[0-9]+}", s.handleRound).Methods("GET")
	api.HandleFunc("/users/{address}", s.handleUser).Methods("GET")
	api.HandleFunc("/vaults/{address}", s.handleVault).Methods("GET")
	api.HandleFunc("/vaults/{address}/positions", s.handlePositions).Methods("GET")
	api.HandleFunc("/oracles/{address}/prices", s.handlePrices).Methods("GET")
	if s.cfg.Stream != nil {
		api.HandleFunc("/stream", s.cfg.Stream)
	}
	return r
}

// Handler returns the API with CORS headers applied
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(s.router)
}

// Run serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info().Int("port", s.cfg.Port).Msg("query API listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The websocket handler hijacks the connection.
		if s.metrics == nil || r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.QueryRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// address parses the {address} route variable into an aggregate id
func address(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if s.cfg.Status != nil {
		resp["follower"] = s.cfg.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// getOne writes the aggregate (kind, id) or a 404
func getOne[T any](s *Server, w http.ResponseWriter, r *http.Request, kind storage.Kind, id string) {
	v, err := storage.Load[T](r.Context(), s.repo, kind, id)
	if err != nil {
		s.log.Error().Err(err).Str("kind", string(kind)).Str("id", id).Msg("query failed")
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	getOne[entity.Market](s, w, r, entity.KindMarket, entity.AddressID(addr))
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	getOne[entity.User](s, w, r, entity.KindUser, entity.AddressID(addr))
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	getOne[entity.Vault](s, w, r, entity.KindVault, entity.AddressID(addr))
}

type roundResponse struct {
	*entity.Round
	Bets []*entity.Bet `json:"bets"`
}

func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	tf, err := strconv.ParseUint(vars["timeframe"], 10, 8)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid timeframe")
		return
	}
	epoch, err := strconv.ParseUint(vars["epoch"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid epoch")
		return
	}

	round, err := storage.Load[entity.Round](r.Context(), s.repo, entity.KindRound, entity.RoundID(addr, uint8(tf), epoch))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if round == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	bets, err := storage.LoadAll[entity.Bet](r.Context(), s.repo, entity.KindBet, entity.RoundBetPrefix(addr, uint8(tf), epoch), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, roundResponse{Round: round, Bets: bets})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	positions, err := storage.LoadAll[entity.VaultPosition](r.Context(), s.repo, entity.KindVaultPosition, entity.PositionPrefix(addr), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": positions})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	addr, ok := address(w, r)
	if !ok {
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxPrices)
	}
	prices, err := storage.LoadAll[entity.Price](r.Context(), s.repo, entity.KindPrice, entity.AddressID(addr)+"-", limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": prices})
}
