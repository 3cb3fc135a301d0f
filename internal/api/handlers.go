// Package api exposes the collector's HTTP endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"example.com/carwash/activity/internal/auth"
	"example.com/carwash/activity/internal/domain"
	"example.com/carwash/activity/internal/observability"
	"example.com/carwash/activity/internal/persistence"
	httptransport "example.com/carwash/activity/internal/transport/http"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxBodyBytes     = 1 << 20
	maxReportDays    = 366
	dayLayout        = "2006-01-02"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{service: service, logger: logger.With("component", "api"), now: time.Now}
}

// RouterConfig carries the cross-cutting settings of the collector router.
type RouterConfig struct {
	Auth       auth.Middleware
	Logger     *slog.Logger
	CORSOrigin string
}

// NewRouter mounts the collector routes behind request ids, logging, CORS, bearer auth and
// tracing.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(httptransport.LoggingMiddleware(logger))
	if cfg.CORSOrigin != "" {
		r.Use(httptransport.CORS(cfg.CORSOrigin))
	}

	r.Get("/healthz", healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth.Wrap)
		r.With(auth.RequireScope(auth.ScopeActivityWrite)).Post("/v1/activities/batch", h.ingestBatch)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeActivityRead))
			r.Get("/v1/activities", h.listActivities)
			r.Get("/v1/sessions/{sessionID}/summary", h.sessionSummary)
			r.Get("/v1/reports/screen-time", h.screenTimeReport)
		})
	})

	return otelhttp.NewHandler(r, "activity-collector")
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())

	var batch domain.Batch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&batch); err != nil {
		observability.RecordBatchRejected("decode")
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	accepted, err := h.service.IngestBatch(r.Context(), domain.IngestInput{
		TenantID:   claims.TenantID,
		UserID:     claims.Subject,
		UserAgent:  r.UserAgent(),
		Activities: batch.Activities,
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			observability.RecordBatchRejected("validation")
		} else {
			observability.RecordBatchRejected("storage")
		}
		h.fail(w, r, err)
		return
	}

	types := make([]string, 0, len(batch.Activities))
	for _, activity := range batch.Activities {
		types = append(types, string(activity.ActivityType))
	}
	observability.RecordBatchIngested(types)
	writeJSON(w, http.StatusAccepted, IngestResponse{Accepted: accepted})
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	query := r.URL.Query()

	limit := defaultListLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxListLimit)
	}

	cursor, err := persistence.DecodeCursor(query.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	filter := domain.ListFilter{
		TenantID:  claims.TenantID,
		SessionID: strings.TrimSpace(query.Get("session_id")),
		UserID:    strings.TrimSpace(query.Get("user_id")),
		Type:      domain.ActivityType(strings.TrimSpace(query.Get("type"))),
	}
	records, next, err := h.service.ListActivities(r.Context(), filter, cursor, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	items := make([]ActivityView, 0, len(records))
	for _, record := range records {
		items = append(items, toActivityView(record))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) sessionSummary(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())

	summary, err := h.service.SessionSummary(r.Context(), claims.TenantID, chi.URLParam(r, "sessionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionSummaryView(*summary))
}

func (h *Handler) screenTimeReport(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	query := r.URL.Query()

	to := h.now().UTC()
	if raw := query.Get("to"); raw != "" {
		parsed, err := time.Parse(dayLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "to must be YYYY-MM-DD")
			return
		}
		to = parsed
	}
	from := to.AddDate(0, 0, -6)
	if raw := query.Get("from"); raw != "" {
		parsed, err := time.Parse(dayLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "from must be YYYY-MM-DD")
			return
		}
		from = parsed
	}
	if to.Sub(from) > maxReportDays*24*time.Hour {
		writeError(w, http.StatusBadRequest, "validation_failed", "range exceeds 366 days")
		return
	}

	rows, err := h.service.ScreenTimeReport(r.Context(), claims.TenantID, from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	pages := make([]PageScreenTimeView, 0, len(rows))
	for _, row := range rows {
		pages = append(pages, PageScreenTimeView{Path: row.Path, Views: row.Views, ScreenTimeMs: row.ScreenTimeMs})
	}
	writeJSON(w, http.StatusOK, ScreenTimeReportResponse{
		From:  from.Format(dayLayout),
		To:    to.Format(dayLayout),
		Pages: pages,
	})
}

// fail maps service errors to problem responses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			"request_id", middleware.GetReqID(r.Context()), "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
