// Package api exposes stored feature records and on-demand feature
// evaluation over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"lending-risk-lab/internal/domain"
	"lending-risk-lab/internal/features"
	"lending-risk-lab/internal/observability"
	"lending-risk-lab/internal/storage"
	"lending-risk-lab/internal/verification"
)

// Options configures the router.
type Options struct {
	// Records serves /accounts/{account}/features and /runs/{runID}/records.
	Records storage.FeatureRecordStore

	// Events serves /accounts/{account}/events and /accounts/{account}/evaluate.
	// Those routes answer 503 when nil.
	Events storage.EventStore

	// Health reports backend reachability; nil means always healthy.
	Health func(ctx context.Context) error

	// Status returns a JSON-encodable snapshot for /status; the route is not
	// registered when nil.
	Status func() any

	Logger *zap.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &handlers{records: opts.Records, events: opts.Events, health: opts.Health, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", observability.Handler())
	if opts.Status != nil {
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, opts.Status())
		})
	}

	r.Route("/accounts/{account}", func(ar chi.Router) {
		ar.Get("/features", h.handleAccountFeatures)
		ar.Get("/events", h.handleAccountEvents)
		ar.Get("/evaluate", h.handleEvaluate)
	})
	r.Get("/runs/{runID}/records", h.handleRunRecords)
	r.Get("/runs/{runID}/verify", h.handleVerifyRun)

	return r
}

type handlers struct {
	records storage.FeatureRecordStore
	events  storage.EventStore
	health  func(ctx context.Context) error
	logger  *zap.Logger
}

// recordResponse is one feature record as returned by the API.
type recordResponse struct {
	RecordID        string             `json:"record_id"`
	RunID           string             `json:"run_id"`
	Account         string             `json:"account_id"`
	AnchorTimestamp int64              `json:"anchor_timestamp"`
	AnchorTxID      string             `json:"anchor_txn_id"`
	Columns         map[string]float64 `json:"columns"`
}

func toRecordResponses(records []*domain.FeatureRecord) []recordResponse {
	out := make([]recordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, recordResponse{
			RecordID:        r.RecordID,
			RunID:           r.RunID,
			Account:         r.Account,
			AnchorTimestamp: r.AnchorTimestamp,
			AnchorTxID:      r.AnchorTxID,
			Columns:         r.ColumnMap(),
		})
	}
	return out
}

// evaluateResponse is a feature snapshot computed on request.
type evaluateResponse struct {
	Account   string             `json:"account_id"`
	Anchor    int64              `json:"anchor_timestamp"`
	Events    int                `json:"events"`
	Columns   map[string]float64 `json:"columns"`
	Evaluated time.Time          `json:"evaluated_at"`
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) handleAccountFeatures(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		http.Error(w, "feature store not configured", http.StatusServiceUnavailable)
		return
	}
	account, ok := accountParam(w, r)
	if !ok {
		return
	}

	records, err := h.records.GetByAccount(r.Context(), account)
	if err != nil {
		h.internalError(w, "get records by account", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponses(records))
}

func (h *handlers) handleRunRecords(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		http.Error(w, "feature store not configured", http.StatusServiceUnavailable)
		return
	}
	records, err := h.records.GetByRunID(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.internalError(w, "get records by run", err)
		return
	}
	if len(records) == 0 {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponses(records))
}

// verifyResponse summarizes a run verification.
type verifyResponse struct {
	RunID      string           `json:"run_id"`
	Total      int              `json:"total"`
	Matched    int              `json:"matched"`
	Divergent  int              `json:"divergent"`
	Failed     int              `json:"failed"`
	Mismatches []mismatchResult `json:"mismatches"`
}

type mismatchResult struct {
	RecordID    string                          `json:"record_id"`
	Account     string                          `json:"account_id"`
	Anchor      int64                           `json:"anchor_timestamp"`
	Divergences []verification.ColumnDivergence `json:"divergences,omitempty"`
	Error       string                          `json:"error,omitempty"`
}

// handleVerifyRun recomputes every record of a run from the event store.
func (h *handlers) handleVerifyRun(w http.ResponseWriter, r *http.Request) {
	if h.records == nil || h.events == nil {
		http.Error(w, "feature and event stores are required", http.StatusServiceUnavailable)
		return
	}

	report, err := verification.NewVerifier(h.records, h.events).VerifyRun(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, verification.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.internalError(w, "verify run", err)
		return
	}

	resp := verifyResponse{
		RunID:      report.RunID,
		Total:      report.Total,
		Matched:    report.Matched,
		Divergent:  report.Divergent,
		Failed:     report.Failed,
		Mismatches: make([]mismatchResult, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		m := mismatchResult{RecordID: res.RecordID, Account: res.Account, Anchor: res.Anchor, Divergences: res.Divergences}
		if res.Err != nil {
			m.Error = res.Err.Error()
		}
		resp.Mismatches = append(resp.Mismatches, m)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleAccountEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.Error(w, "event store not configured", http.StatusServiceUnavailable)
		return
	}
	account, ok := accountParam(w, r)
	if !ok {
		return
	}

	events, err := h.events.GetByAccount(r.Context(), account)
	if err != nil {
		h.internalError(w, "get events by account", err)
		return
	}
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, e.Fields())
	}
	writeJSON(w, http.StatusOK, out)
}

// handleEvaluate computes features and label for ?at=<unix seconds>, or for
// the current time when at is omitted.
func (h *handlers) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.Error(w, "event store not configured", http.StatusServiceUnavailable)
		return
	}
	account, ok := accountParam(w, r)
	if !ok {
		return
	}

	anchor := time.Now().Unix()
	if raw := r.URL.Query().Get("at"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			http.Error(w, "at must be a positive unix timestamp", http.StatusBadRequest)
			return
		}
		anchor = v
	}

	// Only the two windows around the anchor matter.
	events, err := h.events.GetByTimeRange(r.Context(), account,
		anchor-features.HistoryHorizon, anchor+features.LabelHorizon)
	if err != nil {
		h.internalError(w, "get events by time range", err)
		return
	}
	if len(events) == 0 {
		http.Error(w, "no events for account", http.StatusNotFound)
		return
	}

	fv, label, err := features.Evaluate(events, anchor)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedEvent) || errors.Is(err, features.ErrRateEncoding) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.internalError(w, "evaluate", err)
		return
	}

	rec := &domain.FeatureRecord{Account: account, AnchorTimestamp: anchor, Label: label, Features: fv}
	writeJSON(w, http.StatusOK, evaluateResponse{
		Account:   account,
		Anchor:    anchor,
		Events:    len(events),
		Columns:   rec.ColumnMap(),
		Evaluated: time.Now().UTC(),
	})
}

func accountParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	account, err := domain.NormalizeAccount(chi.URLParam(r, "account"))
	if err != nil {
		http.Error(w, "invalid account address", http.StatusBadRequest)
		return "", false
	}
	return account, true
}

func (h *handlers) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
