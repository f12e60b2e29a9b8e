// Package admin exposes the manual trigger surface and operational endpoints
// over HTTP.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/apperr"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/dispatch"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/health"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/monitor"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/store"
)

const (
	maxRequestBodyBytes = 1 << 20 // 1 MB
	defaultListLimit    = 50
	maxListLimit        = 500
)

// Monitor is satisfied by *monitor.Orchestrator.
type Monitor interface {
	MonitorSingle(ctx context.Context, address, ownerName string) (monitor.Result, error)
	MonitorAll(ctx context.Context) (monitor.BatchResult, error)
}

// Dispatcher is satisfied by *dispatch.Dispatcher.
type Dispatcher interface {
	DispatchPending(ctx context.Context, limit int) (dispatch.Summary, error)
	CircuitStates() map[string]string
}

// HealthProvider is satisfied by *health.Reporter.
type HealthProvider interface {
	Snapshots() []health.Snapshot
	Latest(ctx context.Context, limit int) ([]model.MonitoringHealth, error)
}

type Server struct {
	monitor    Monitor
	dispatcher Dispatcher
	health     HealthProvider
	repos      store.Repos
	limiter    *RateLimiter
	validate   *validator.Validate
	logger     *slog.Logger
}

func NewServer(
	m Monitor,
	d Dispatcher,
	hp HealthProvider,
	repos store.Repos,
	limiter *RateLimiter,
	logger *slog.Logger,
) *Server {
	return &Server{
		monitor:    m,
		dispatcher: d,
		health:     hp,
		repos:      repos,
		limiter:    limiter,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger.With("component", "api"),
	}
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuditMiddleware(s.logger))

		r.With(s.limited((*RateLimiter).Batch)).Post("/monitor", s.handleMonitorAll)
		r.With(s.limited((*RateLimiter).WalletScan)).Post("/monitor/{address}", s.handleMonitorSingle)
		r.With(s.limited((*RateLimiter).Writes)).Post("/dispatch", s.handleDispatch)

		r.Get("/wallets", s.handleListWallets)
		r.With(s.limited((*RateLimiter).Writes)).Patch("/wallets/{address}", s.handlePatchWallet)
		r.Get("/wallets/{address}/transactions", s.handleListTransactions)
		r.Get("/alerts", s.handleListAlerts)
		r.Get("/health", s.handleHealth)

		r.With(s.limited((*RateLimiter).Writes)).Post("/subscriptions", s.handleSubscribe)
		r.With(s.limited((*RateLimiter).Writes)).Delete("/subscriptions", s.handleUnsubscribe)
	})
	return r
}

// limited resolves a limiter middleware, or passes through when rate limiting is off.
func (s *Server) limited(mw func(*RateLimiter, http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if s.limiter == nil {
			return next
		}
		return mw(s.limiter, next)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Address string `json:"address,omitempty"`
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, address string) {
	writeJSON(w, status, errorResponse{Error: msg, Address: address})
}

// decodeJSONBody reads, decodes and validates a JSON request body into v.
// Returns false (and writes an error response) on failure.
func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return false
	}
	return true
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

// ---------- triggers ----------

type monitorSingleRequest struct {
	OwnerName string `json:"owner_name" validate:"omitempty,max=200"`
}

type addressParam struct {
	Address string `validate:"required,startswith=r,min=25,max=35,alphanum"`
}

func (s *Server) handleMonitorSingle(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if err := s.validate.Struct(addressParam{Address: address}); err != nil {
		writeError(w, http.StatusBadRequest, "invalid XRPL address", address)
		return
	}

	var req monitorSingleRequest
	if r.ContentLength != 0 {
		if !s.decodeJSONBody(w, r, &req) {
			return
		}
	}

	res, err := s.monitor.MonitorSingle(r.Context(), address, req.OwnerName)
	if err != nil {
		s.logger.Warn("manual scan failed", "wallet", address, "error", err)
		writeError(w, apperr.HTTPStatus(err), err.Error(), address)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMonitorAll(w http.ResponseWriter, r *http.Request) {
	batch, err := s.monitor.MonitorAll(r.Context())
	if err != nil {
		s.logger.Error("manual batch failed", "error", err)
		writeError(w, systemicStatus(err), err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// systemicStatus maps whole-batch failures to 5xx.
func systemicStatus(err error) int {
	if errors.Is(err, apperr.ErrStoreUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	summary, err := s.dispatcher.DispatchPending(r.Context(), queryLimit(r))
	if err != nil {
		s.logger.Error("manual dispatch failed", "error", err)
		writeError(w, systemicStatus(err), err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ---------- wallets & alerts ----------

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.repos.Wallets.List(r.Context())
	if err != nil {
		s.logger.Error("list wallets failed", "error", err)
		writeError(w, systemicStatus(err), "internal server error", "")
		return
	}
	if wallets == nil {
		wallets = []model.MonitoredWallet{}
	}
	writeJSON(w, http.StatusOK, wallets)
}

type patchWalletRequest struct {
	IsActive       *bool            `json:"is_active"`
	AlertThreshold *decimal.Decimal `json:"alert_threshold"`
	ClearThreshold bool             `json:"clear_threshold"`
}

func (s *Server) handlePatchWallet(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	var req patchWalletRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	if req.IsActive == nil && req.AlertThreshold == nil && !req.ClearThreshold {
		writeError(w, http.StatusBadRequest, "is_active, alert_threshold or clear_threshold is required", address)
		return
	}
	if req.AlertThreshold != nil && !req.AlertThreshold.IsPositive() {
		writeError(w, http.StatusBadRequest, "alert_threshold must be positive", address)
		return
	}

	if req.ClearThreshold && req.AlertThreshold != nil {
		writeError(w, http.StatusBadRequest, "alert_threshold and clear_threshold are mutually exclusive", address)
		return
	}

	patch := store.WalletPatch{IsActive: req.IsActive}
	switch {
	case req.ClearThreshold:
		patch.AlertThreshold = &decimal.NullDecimal{}
	case req.AlertThreshold != nil:
		threshold := decimal.NewNullDecimal(*req.AlertThreshold)
		patch.AlertThreshold = &threshold
	}

	ctx := r.Context()
	if err := s.repos.Wallets.Update(ctx, address, patch); err != nil {
		writeError(w, apperr.HTTPStatus(err), err.Error(), address)
		return
	}

	wallet, err := s.repos.Wallets.Get(ctx, address)
	if err != nil {
		writeError(w, apperr.HTTPStatus(err), err.Error(), address)
		return
	}
	if wallet == nil {
		writeError(w, http.StatusNotFound, apperr.ErrWalletNotFound.Error(), address)
		return
	}
	s.logger.Info("wallet updated", "wallet", address, "is_active", wallet.IsActive)
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	ctx := r.Context()

	wallet, err := s.repos.Wallets.Get(ctx, address)
	if err != nil {
		writeError(w, apperr.HTTPStatus(err), err.Error(), address)
		return
	}
	if wallet == nil {
		writeError(w, http.StatusNotFound, apperr.ErrWalletNotFound.Error(), address)
		return
	}

	txs, err := s.repos.Transactions.ListByWallet(ctx, address, queryLimit(r))
	if err != nil {
		s.logger.Error("list transactions failed", "wallet", address, "error", err)
		writeError(w, systemicStatus(err), "internal server error", address)
		return
	}
	if txs == nil {
		txs = []model.NormalizedTransaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryLimit(r)

	var (
		alerts []model.WhaleAlert
		err    error
	)
	switch r.URL.Query().Get("status") {
	case "pending":
		alerts, err = s.repos.Alerts.ListPending(ctx, store.PendingQuery{Limit: limit})
	case "", "all":
		alerts, err = s.repos.Alerts.ListRecent(ctx, limit)
	default:
		writeError(w, http.StatusBadRequest, "status must be pending or all", "")
		return
	}
	if err != nil {
		s.logger.Error("list alerts failed", "error", err)
		writeError(w, systemicStatus(err), "internal server error", "")
		return
	}
	if alerts == nil {
		alerts = []model.WhaleAlert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

type healthResponse struct {
	Services []health.Snapshot        `json:"services"`
	Circuits map[string]string        `json:"circuits"`
	Recent   []model.MonitoringHealth `json:"recent"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Services: s.health.Snapshots(),
		Circuits: s.dispatcher.CircuitStates(),
	}
	recent, err := s.health.Latest(r.Context(), queryLimit(r))
	if err != nil {
		s.logger.Warn("read health log failed", "error", err)
	}
	resp.Recent = recent
	if resp.Recent == nil {
		resp.Recent = []model.MonitoringHealth{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------- subscriptions ----------

type subscribeRequest struct {
	UserID           string `json:"user_id" validate:"required,max=128"`
	ChatID           int64  `json:"chat_id" validate:"required"`
	SubscriptionType string `json:"subscription_type" validate:"required,oneof=whale_movements exchange_deposits critical_whales system_alerts"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}

	sub := &model.TelegramSubscription{
		UserID:           req.UserID,
		ChatID:           req.ChatID,
		SubscriptionType: model.AlertTier(req.SubscriptionType),
		IsActive:         true,
	}
	if err := s.repos.Subscriptions.Upsert(r.Context(), sub); err != nil {
		s.logger.Error("subscribe failed", "user_id", req.UserID, "error", err)
		writeError(w, systemicStatus(err), "internal server error", "")
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

type unsubscribeRequest struct {
	UserID           string `json:"user_id" validate:"required,max=128"`
	SubscriptionType string `json:"subscription_type" validate:"required,oneof=whale_movements exchange_deposits critical_whales system_alerts"`
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}

	ok, err := s.repos.Subscriptions.Deactivate(r.Context(), req.UserID, model.AlertTier(req.SubscriptionType))
	if err != nil {
		s.logger.Error("unsubscribe failed", "user_id", req.UserID, "error", err)
		writeError(w, systemicStatus(err), "internal server error", "")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no active subscription", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": req.UserID, "subscription_type": req.SubscriptionType, "is_active": false})
}
