// Package api exposes the REST surface over the repositories and the rate
// synchronizer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pesowatch/internal/config"
	"pesowatch/internal/forex"
	"pesowatch/internal/storage"
	ratesync "pesowatch/internal/sync"
)

type ctxKey int

const ownerKey ctxKey = iota

// Server serves the REST API.
type Server struct {
	rates      storage.RateStore
	txs        storage.TransactionStore
	alerts     storage.AlertStore
	syncer     *ratesync.Synchronizer
	logger     zerolog.Logger
	tokens     map[string]string
	httpServer *http.Server
}

// NewServer wires the repositories and synchronizer into an http.Server.
func NewServer(cfg config.ServerConfig, rates storage.RateStore, txs storage.TransactionStore, alerts storage.AlertStore, syncer *ratesync.Synchronizer, logger zerolog.Logger) *Server {
	s := &Server{
		rates:  rates,
		txs:    txs,
		alerts: alerts,
		syncer: syncer,
		logger: logger.With().Str("component", "api").Logger(),
		tokens: cfg.Tokens,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Rate routes
	mux.HandleFunc("GET /v1/rates/latest", s.handleLatestRate)
	mux.HandleFunc("GET /v1/rates/history", s.handleRateHistory)
	mux.HandleFunc("GET /v1/rates/stats", s.handleRateStats)

	// Sync routes
	mux.HandleFunc("POST /v1/sync", s.handleSyncLatest)
	mux.HandleFunc("POST /v1/sync/range", s.handleSyncRange)
	mux.HandleFunc("GET /v1/sync/status", s.handleSyncStatus)

	// Transaction routes
	mux.HandleFunc("GET /v1/transactions", s.handleListTransactions)
	mux.HandleFunc("POST /v1/transactions", s.handleAddTransaction)
	mux.HandleFunc("DELETE /v1/transactions/{id}", s.handleDeleteTransaction)

	// Analytics routes
	mux.HandleFunc("GET /v1/analytics/summary", s.handleSummary)
	mux.HandleFunc("GET /v1/analytics/monthly-volume", s.handleMonthlyVolume)

	// Alert routes
	mux.HandleFunc("GET /v1/alerts", s.handleListAlerts)
	mux.HandleFunc("POST /v1/alerts", s.handleAddAlert)
	mux.HandleFunc("PATCH /v1/alerts/{id}", s.handleToggleAlert)
	mux.HandleFunc("DELETE /v1/alerts/{id}", s.handleDeleteAlert)

	handler := s.authMiddleware(corsMiddleware(mux, cfg.CORSOrigin))

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	return s
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("REST API listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the configured handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// --- middleware ---

// authMiddleware resolves the bearer token to an owner id and stashes it in
// the request context. Requests without a token pass through anonymously;
// owner-scoped handlers reject them. A token that resolves to nothing is an
// immediate 401.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth {
			writeError(w, http.StatusUnauthorized, "malformed Authorization header")
			return
		}

		owner, ok := s.tokens[token]
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey, owner)))
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func owner(r *http.Request) string {
	if v, ok := r.Context().Value(ownerKey).(string); ok {
		return v
	}
	return ""
}

// --- shared handlers & helpers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the error taxonomy onto HTTP statuses: auth -> 401,
// missing rows -> 404, upstream payload problems -> 502, everything else
// (store failures included) -> 500.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var upstream *forex.UpstreamError
	switch {
	case errors.Is(err, storage.ErrAuthRequired):
		writeError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ratesync.ErrLockHeld):
		writeError(w, http.StatusConflict, "sync already running")
	case errors.As(err, &upstream):
		writeError(w, http.StatusBadGateway, upstream.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseDay(v string) (time.Time, error) {
	return time.Parse(storage.DateLayout, v)
}
