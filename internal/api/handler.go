// Package api exposes the HTTP surface: ingestion, log and alert
// queries, analyst feedback, SOAR dispatch, and dashboard stats.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"argus-siem/internal/archive"
	siemerrors "argus-siem/internal/errors"
	"argus-siem/internal/feedback"
	"argus-siem/internal/normalize"
	"argus-siem/internal/pipeline"
	"argus-siem/internal/query"
	"argus-siem/internal/schema"
	"argus-siem/internal/soar"
	"argus-siem/internal/store"
	"argus-siem/internal/suppress"
)

// Handler handles the HTTP API.
type Handler struct {
	pipeline   *pipeline.Pipeline
	query      *query.Service
	feedback   *feedback.Tracker
	dispatcher *soar.Dispatcher
	suppress   *suppress.Engine
	archiver   *archive.Archiver
	logger     *slog.Logger

	maxPayload int
	maxBatch   int
	startTime  time.Time
}

// NewHandler creates the API handler.
func NewHandler(
	p *pipeline.Pipeline,
	q *query.Service,
	fb *feedback.Tracker,
	d *soar.Dispatcher,
	sup *suppress.Engine,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pipeline:   p,
		query:      q,
		feedback:   fb,
		dispatcher: d,
		suppress:   sup,
		logger:     logger,
		maxPayload: 10 * 1024 * 1024, // 10MB default
		maxBatch:   1000,
		startTime:  time.Now(),
	}
}

// WithMaxPayload sets the maximum payload size.
func (h *Handler) WithMaxPayload(size int) *Handler {
	h.maxPayload = size
	return h
}

// WithArchiver enables raw payload archival on ingest.
func (h *Handler) WithArchiver(a *archive.Archiver) *Handler {
	h.archiver = a
	return h
}

// Router returns the route table.
func (h *Handler) Router() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/logs/ingest", h.HandleIngest)
	mux.HandleFunc("POST /api/logs/upload", h.HandleUpload)
	mux.HandleFunc("GET /api/logs", h.HandleListLogs)
	mux.HandleFunc("GET /api/logs/{id}", h.HandleGetLog)
	mux.HandleFunc("GET /api/alerts", h.HandleListAlerts)
	mux.HandleFunc("GET /api/alerts/{id}", h.HandleGetAlert)
	mux.HandleFunc("POST /api/alerts/{id}/feedback", h.HandleFeedback)
	mux.HandleFunc("GET /api/dashboard/stats", h.HandleDashboard)
	mux.HandleFunc("POST /api/soar/execute", h.HandleSOARExecute)
	mux.HandleFunc("GET /api/soar/actions", h.HandleSOARActions)
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /metrics", h.Metrics)

	return mux
}

// IngestResponse is the response for payload ingestion.
type IngestResponse struct {
	Success   bool                    `json:"success"`
	Format    string                  `json:"format,omitempty"`
	Accepted  int                     `json:"accepted"`
	Rejected  int                     `json:"rejected"`
	Errors    []normalize.RecordError `json:"errors,omitempty"`
	RequestID string                  `json:"request_id"`
}

// HandleIngest handles POST /api/logs/ingest. The body is the raw
// payload; the format query parameter selects the parser, defaulting
// to auto-detection.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxPayload))
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "payload too large", requestID)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read request body", requestID)
		return
	}

	format := normalize.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = normalize.FormatAuto
	}
	if !format.IsValid() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown format: %s", format), requestID)
		return
	}

	h.archiveRaw(payload, string(format))
	h.ingestPayload(w, r, payload, format, "", requestID)
}

// HandleUpload handles POST /api/logs/upload, accepting a multipart
// file whose extension hints the format.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxPayload))
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file field", requestID)
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read file", requestID)
		return
	}

	h.archiveRaw(payload, "upload")
	h.ingestPayload(w, r, payload, normalize.FormatAuto, header.Filename, requestID)
}

func (h *Handler) ingestPayload(w http.ResponseWriter, r *http.Request, payload []byte, format normalize.Format, filename, requestID string) {
	result, err := h.pipeline.IngestBatch(r.Context(), payload, format, filename)
	if err != nil {
		var partial *pipeline.PartialBatchError
		switch {
		case errors.As(err, &partial):
			respondJSON(w, http.StatusMultiStatus, IngestResponse{
				Success:   false,
				Format:    string(result.Format),
				Accepted:  len(result.Accepted),
				Rejected:  len(result.Errors),
				Errors:    result.Errors,
				RequestID: requestID,
			})
		case errors.Is(err, pipeline.ErrFatalParse):
			respondError(w, http.StatusBadRequest, siemerrors.SafeMessage(err), requestID)
		case errors.Is(err, pipeline.ErrValidation):
			respondError(w, http.StatusBadRequest, siemerrors.SafeMessage(err), requestID)
		default:
			h.logger.Error("ingest failed", "error", err, "request_id", requestID)
			respondError(w, http.StatusInternalServerError, "ingest failed", requestID)
		}
		return
	}

	respondJSON(w, http.StatusOK, IngestResponse{
		Success:   true,
		Format:    string(result.Format),
		Accepted:  len(result.Accepted),
		RequestID: requestID,
	})
}

// archiveRaw stores the raw payload when archival is configured.
// Failures are logged; ingestion proceeds regardless.
func (h *Handler) archiveRaw(payload []byte, format string) {
	if h.archiver == nil || !h.archiver.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := h.archiver.Store(ctx, payload, format); err != nil {
			h.logger.Warn("raw payload archival failed", "error", err)
		}
	}()
}

// HandleListLogs handles GET /api/logs.
func (h *Handler) HandleListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EventFilter{
		EventType: q.Get("event_type"),
		SourceIP:  q.Get("source_ip"),
		Username:  q.Get("username"),
		Skip:      parseIntParam(q.Get("skip"), 0),
		Limit:     parseIntParam(q.Get("limit"), 0),
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid since timestamp", "")
			return
		}
		filter.Since = ts
	}
	if until := q.Get("until"); until != "" {
		ts, err := time.Parse(time.RFC3339, until)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid until timestamp", "")
			return
		}
		filter.Until = ts
	}

	events, err := h.query.ListLogs(r.Context(), filter)
	if err != nil {
		h.logger.Error("list logs failed", "error", err)
		respondError(w, http.StatusInternalServerError, "query failed", "")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"logs": events, "count": len(events)})
}

// HandleGetLog handles GET /api/logs/{id}.
func (h *Handler) HandleGetLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid log id", "")
		return
	}

	event, err := h.query.GetLog(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "log not found", "")
			return
		}
		respondError(w, http.StatusInternalServerError, "query failed", "")
		return
	}

	respondJSON(w, http.StatusOK, event)
}

// HandleListAlerts handles GET /api/alerts.
func (h *Handler) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AlertFilter{
		EventType: q.Get("event_type"),
		SourceIP:  q.Get("source_ip"),
		Username:  q.Get("username"),
		Skip:      parseIntParam(q.Get("skip"), 0),
		Limit:     parseIntParam(q.Get("limit"), 0),
	}
	if sev := q.Get("severity"); sev != "" {
		severity := schema.Severity(sev)
		if !severity.IsValid() {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid severity: %s", sev), "")
			return
		}
		filter.Severity = severity
	}
	if sup := q.Get("suppressed"); sup != "" {
		val, err := strconv.ParseBool(sup)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid suppressed flag", "")
			return
		}
		filter.Suppressed = &val
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid since timestamp", "")
			return
		}
		filter.Since = ts
	}
	if until := q.Get("until"); until != "" {
		ts, err := time.Parse(time.RFC3339, until)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid until timestamp", "")
			return
		}
		filter.Until = ts
	}

	alerts, err := h.query.ListAlerts(r.Context(), filter)
	if err != nil {
		h.logger.Error("list alerts failed", "error", err)
		respondError(w, http.StatusInternalServerError, "query failed", "")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// HandleGetAlert handles GET /api/alerts/{id}.
func (h *Handler) HandleGetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid alert id", "")
		return
	}

	alert, err := h.query.GetAlert(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "alert not found", "")
			return
		}
		respondError(w, http.StatusInternalServerError, "query failed", "")
		return
	}

	respondJSON(w, http.StatusOK, alert)
}

// FeedbackRequest is the body for analyst verdicts.
type FeedbackRequest struct {
	Verdict schema.Verdict `json:"verdict"`
}

// HandleFeedback handles POST /api/alerts/{id}/feedback.
func (h *Handler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid alert id", "")
		return
	}

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}

	alert, err := h.feedback.Submit(r.Context(), id, req.Verdict)
	if err != nil {
		switch {
		case errors.Is(err, feedback.ErrInvalidVerdict):
			respondError(w, http.StatusBadRequest, siemerrors.SafeMessage(err), "")
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "alert not found", "")
		case errors.Is(err, store.ErrFeedbackRecorded):
			respondError(w, http.StatusConflict, "feedback already recorded", "")
		default:
			h.logger.Error("feedback failed", "error", err, "alert_id", id)
			respondError(w, http.StatusInternalServerError, "feedback failed", "")
		}
		return
	}

	respondJSON(w, http.StatusOK, alert)
}

// HandleDashboard handles GET /api/dashboard/stats.
func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.query.Dashboard(r.Context())
	if err != nil {
		h.logger.Error("dashboard stats failed", "error", err)
		respondError(w, http.StatusInternalServerError, "query failed", "")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// SOARExecuteRequest is the body for dispatching a response action.
type SOARExecuteRequest struct {
	ActionType schema.ActionType `json:"action_type"`
	Target     string            `json:"target"`
	Reason     string            `json:"reason,omitempty"`
}

// HandleSOARExecute handles POST /api/soar/execute.
func (h *Handler) HandleSOARExecute(w http.ResponseWriter, r *http.Request) {
	var req SOARExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}

	action, err := h.dispatcher.Execute(r.Context(), req.ActionType, req.Target, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, soar.ErrInvalidAction), errors.Is(err, soar.ErrInvalidTarget):
			respondError(w, http.StatusBadRequest, siemerrors.SafeMessage(err), "")
		default:
			h.logger.Error("soar dispatch failed", "error", err)
			respondError(w, http.StatusInternalServerError, "dispatch failed", "")
		}
		return
	}

	respondJSON(w, http.StatusOK, action)
}

// HandleSOARActions handles GET /api/soar/actions.
func (h *Handler) HandleSOARActions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r.URL.Query().Get("limit"), 50)

	actions, err := h.query.RecentActions(r.Context(), limit)
	if err != nil {
		h.logger.Error("list actions failed", "error", err)
		respondError(w, http.StatusInternalServerError, "query failed", "")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"actions": actions, "count": len(actions)})
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
		"pipeline":       h.pipeline.Metrics(),
	}
	respondJSON(w, http.StatusOK, resp)
}

// Metrics handles GET /metrics (Prometheus format).
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	pm := h.pipeline.Metrics()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP siem_events_ingested_total Total log events accepted\n")
	fmt.Fprintf(w, "# TYPE siem_events_ingested_total counter\n")
	fmt.Fprintf(w, "siem_events_ingested_total %d\n\n", pm["ingested"])

	fmt.Fprintf(w, "# HELP siem_events_rejected_total Total records rejected\n")
	fmt.Fprintf(w, "# TYPE siem_events_rejected_total counter\n")
	fmt.Fprintf(w, "siem_events_rejected_total %d\n\n", pm["rejected"])

	fmt.Fprintf(w, "# HELP siem_alerts_total Total alerts raised\n")
	fmt.Fprintf(w, "# TYPE siem_alerts_total counter\n")
	fmt.Fprintf(w, "siem_alerts_total %d\n\n", pm["alerts"])

	fmt.Fprintf(w, "# HELP siem_alerts_suppressed_total Total alerts suppressed\n")
	fmt.Fprintf(w, "# TYPE siem_alerts_suppressed_total counter\n")
	fmt.Fprintf(w, "siem_alerts_suppressed_total %d\n\n", pm["suppressed"])

	if h.suppress != nil {
		ss := h.suppress.Stats()
		fmt.Fprintf(w, "# HELP siem_suppress_duplicates_total Alerts suppressed as duplicates\n")
		fmt.Fprintf(w, "# TYPE siem_suppress_duplicates_total counter\n")
		fmt.Fprintf(w, "siem_suppress_duplicates_total %d\n\n", ss.Duplicates)

		fmt.Fprintf(w, "# HELP siem_suppress_below_threshold_total Alerts suppressed below adaptive thresholds\n")
		fmt.Fprintf(w, "# TYPE siem_suppress_below_threshold_total counter\n")
		fmt.Fprintf(w, "siem_suppress_below_threshold_total %d\n\n", ss.BelowThreshold)
	}

	fmt.Fprintf(w, "# HELP siem_uptime_seconds Uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE siem_uptime_seconds gauge\n")
	fmt.Fprintf(w, "siem_uptime_seconds %d\n", int(time.Since(h.startTime).Seconds()))
}

func parseIntParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, message, requestID string) {
	resp := map[string]any{
		"success": false,
		"error":   message,
	}
	if requestID != "" {
		resp["request_id"] = requestID
	}
	respondJSON(w, status, resp)
}
