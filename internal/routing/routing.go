// Package routing wires the read-only ops HTTP surface.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"strikekeeper/internal/metrics"
	"strikekeeper/internal/middleware"
	"strikekeeper/internal/strikes"

	"github.com/disgoorg/snowflake/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// Config holds the configuration needed for setting up routes
type Config struct {
	Engine     *strikes.Engine
	Summarizer *strikes.Summarizer
	Store      strikes.Store
	Logger     zerolog.Logger

	// TracerProvider overrides the global provider for request spans.
	TracerProvider trace.TracerProvider
}

// SetupRouter creates the ops router with all routes and middleware
func SetupRouter(cfg Config) http.Handler {
	h := &opsHandler{engine: cfg.Engine, summarizer: cfg.Summarizer, store: cfg.Store}
	mux := http.NewServeMux()

	route := func(pattern string, handler http.Handler) {
		mux.Handle(pattern, spanNamedByPattern(handler))
	}

	route("GET /metrics", promhttp.Handler())
	route("GET /healthz", http.HandlerFunc(h.handleHealth))

	route("GET /api/summary", http.HandlerFunc(h.handleSummary))
	route("GET /api/users/{id}", http.HandlerFunc(h.handleUser))
	route("GET /api/audit", http.HandlerFunc(h.handleAudit))
	route("GET /api/table", http.HandlerFunc(h.handleTable))

	otelOpts := []otelhttp.Option{
		// Span names never carry raw ids; matched routes are renamed to
		// their pattern once the mux has picked one.
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + metrics.NormalizePath(r.URL.Path)
		}),
	}
	if cfg.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}

	// Middleware, innermost first
	var handler http.Handler = mux
	handler = otelhttp.NewHandler(handler, "ops", otelOpts...)
	handler = middleware.Logging(cfg.Logger)(handler)

	return handler
}

// spanNamedByPattern renames the request span to the mux pattern that matched,
// e.g. "GET /api/users/{id}".
func spanNamedByPattern(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Pattern != "" {
			trace.SpanFromContext(r.Context()).SetName(r.Pattern)
		}
		next.ServeHTTP(w, r)
	})
}

type opsHandler struct {
	engine     *strikes.Engine
	summarizer *strikes.Summarizer
	store      strikes.Store
}

// UserResponse is the JSON shape of /api/users/{id}.
type UserResponse struct {
	UserID         snowflake.ID `json:"user_id"`
	ActiveStrikes  int          `json:"active_strikes"`
	Threshold      int          `json:"threshold"`
	ViolationCount int          `json:"violation_count"`
	NextReset      *time.Time   `json:"next_reset,omitempty"`
	NearThreshold  bool         `json:"near_threshold"`
}

type tierResponse struct {
	Violation       int `json:"violation"`
	DurationMinutes int `json:"duration_minutes"`
}

func (h *opsHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.store.Stats(ctx); err != nil {
		log.Warn().Err(err).Msg("ops: health check failed")
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

func (h *opsHandler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.summarizer.Build(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, summary, "summary")
}

func (h *opsHandler) handleUser(w http.ResponseWriter, r *http.Request) {
	id, err := snowflake.Parse(r.PathValue("id"))
	if err != nil || id == 0 {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	info, err := h.engine.GetUserStrikeInfo(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, UserResponse{
		UserID:         id,
		ActiveStrikes:  info.ActiveCount,
		Threshold:      strikes.EscalationThreshold,
		ViolationCount: info.ViolationCount,
		NextReset:      info.NextReset,
		NearThreshold:  info.NearThreshold(),
	}, "user")
}

func (h *opsHandler) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxAuditLimit)
	}

	entries, err := h.engine.AuditLog(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []strikes.AuditEntry{}
	}
	writeJSON(w, entries, "audit")
}

func (h *opsHandler) handleTable(w http.ResponseWriter, r *http.Request) {
	table := strikes.PunishmentTable()
	tiers := make([]tierResponse, 0, len(table))
	for _, p := range table {
		tiers = append(tiers, tierResponse{Violation: p.Violation, DurationMinutes: int(p.Duration.Minutes())})
	}
	writeJSON(w, tiers, "table")
}

// writeJSON encodes and writes a JSON response
func writeJSON(w http.ResponseWriter, v any, name string) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("ops: failed to encode " + name + " response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, strikes.ErrStore) {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	log.Error().Err(err).Msg("ops: request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}
