package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hostalerts/internal/dispatch"
	"hostalerts/internal/metrics"
	"hostalerts/internal/outbox"
	"hostalerts/internal/rules"
	"hostalerts/internal/sweep"
)

type Sweeper interface {
	Run(ctx context.Context) (sweep.Summary, error)
}

type Dispatcher interface {
	Run(ctx context.Context) (dispatch.Summary, error)
}

type Requeuer interface {
	Run(ctx context.Context) (dispatch.RequeueSummary, error)
}

type OutboxReader interface {
	Get(ctx context.Context, id string) (outbox.Entry, error)
	List(ctx context.Context, f outbox.Filter) ([]outbox.Entry, error)
}

type RuleSource interface {
	EnabledRules(ctx context.Context) ([]rules.AlertRule, error)
	GetRule(ctx context.Context, id string) (rules.AlertRule, error)
}

// Handler serves the admin surface: health, metrics, manual runs and
// read-only views of rules and the outbox.
type Handler struct {
	Sweep    Sweeper
	Dispatch Dispatcher
	Requeue  Requeuer
	Outbox   OutboxReader
	Rules    RuleSource
	// Health checks backing stores. Nil means always healthy.
	Health func(ctx context.Context) error
	// Timeout bounds read requests. Manual runs use RunTimeout.
	Timeout    time.Duration
	RunTimeout time.Duration
}

type errorResponse struct {
	Ok      bool                `json:"ok"`
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details []rules.ErrorDetail `json:"details,omitempty"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Use(countRequests)
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Post("/sweep", h.handleSweep)
		r.Post("/dispatch", h.handleDispatch)
		r.Post("/requeue", h.handleRequeue)
		r.Get("/rules", h.handleRulesList)
		r.Get("/rules/{id}", h.handleRuleGet)
		r.Post("/rules/validate", h.handleRulesValidate)
		r.Get("/outbox", h.handleOutboxList)
		r.Get("/outbox/{id}", h.handleOutboxGet)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		defer cancel()
		if err := h.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.runTimeout())
	defer cancel()
	summary, err := h.Sweep.Run(ctx)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.runTimeout())
	defer cancel()
	summary, err := h.Dispatch.Run(ctx)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleRequeue(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.runTimeout())
	defer cancel()
	summary, err := h.Requeue.Run(ctx)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleRulesList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()
	list, err := h.Rules.EnabledRules(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "RULES_UNAVAILABLE", "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleRuleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()
	rule, err := h.Rules.GetRule(ctx, id)
	if errors.Is(err, rules.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "rule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "RULES_UNAVAILABLE", "failed to load rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) handleRulesValidate(w http.ResponseWriter, r *http.Request) {
	var rule rules.AlertRule
	if err := decodeJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if verr := rules.Validate(rule); verr != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Ok: false, Code: verr.Code, Message: verr.Message, Details: verr.Details})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleOutboxList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := outbox.Filter{
		Status:   outbox.Status(q.Get("status")),
		TenantID: q.Get("tenantId"),
		RuleID:   q.Get("ruleId"),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown status "+string(f.Status))
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "limit must be a non-negative integer")
			return
		}
		f.Limit = limit
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()
	entries, err := h.Outbox.List(ctx, f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "OUTBOX_UNAVAILABLE", "failed to list outbox")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleOutboxGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()
	entry, err := h.Outbox.Get(ctx, id)
	if errors.Is(err, outbox.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "outbox entry not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "OUTBOX_UNAVAILABLE", "failed to load outbox entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 5 * time.Second
	}
	return h.Timeout
}

func (h *Handler) runTimeout() time.Duration {
	if h.RunTimeout <= 0 {
		return 5 * time.Minute
	}
	return h.RunTimeout
}

func writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, sweep.ErrBusy) || errors.Is(err, dispatch.ErrBusy) {
		writeError(w, http.StatusConflict, "BUSY", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "RUN_FAILED", err.Error())
}

// countRequests records every request by its route pattern.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Ok: false, Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
