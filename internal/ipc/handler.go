// Package ipc provides the HTTP API for the newsletter engine.
package ipc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/classletter/newsletter-engine/internal/domain"
	"github.com/classletter/newsletter-engine/internal/monitor"
	"github.com/classletter/newsletter-engine/internal/quality"
	"github.com/classletter/newsletter-engine/internal/recovery"
	"github.com/classletter/newsletter-engine/internal/sanitize"
	"github.com/classletter/newsletter-engine/internal/store"
	"github.com/classletter/newsletter-engine/internal/workflow"
)

// maxDocumentBytes caps request bodies for sanitize and score.
const maxDocumentBytes = 4 << 20

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Engine           *workflow.Engine
	DB               *sql.DB
	EventRepo        *store.EventRepo
	NotificationRepo *store.NotificationRepo
	Monitor          *monitor.Monitor
	Stats            *recovery.Stats
	Sanitizer        sanitize.Policy
	Logger           *slog.Logger
	Version          string
	// PollInterval is how often the event stream checks for new events.
	PollInterval time.Duration

	// runCtx outlives requests so started runs keep going after the 202.
	runCtx    context.Context
	cancelRun context.CancelFunc
	running   sync.WaitGroup
}

// NewHandler wires a handler around an engine sharing its database.
func NewHandler(eng *workflow.Engine, stats *recovery.Stats) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		Engine:           eng,
		DB:               eng.DB,
		EventRepo:        eng.EventRepo,
		NotificationRepo: &store.NotificationRepo{},
		Monitor:          eng.Monitor,
		Stats:            stats,
		Sanitizer:        sanitize.DefaultPolicy(),
		PollInterval:     time.Second,
		runCtx:           ctx,
		cancelRun:        cancel,
	}
}

// StartRunRequest is the body for POST /api/v1/runs.
type StartRunRequest struct {
	RunID      string          `json:"run_id"`
	Transcript string          `json:"transcript"`
	Config     json.RawMessage `json:"config,omitempty"`
	UserID     string          `json:"user_id"`
	SessionID  string          `json:"session_id"`
}

// DocumentRequest is the body for the sanitize and score endpoints.
type DocumentRequest struct {
	HTML string `json:"html"`
}

// MetricsResponse is the body of GET /api/v1/metrics.
type MetricsResponse struct {
	Entries []monitor.Entry        `json:"entries"`
	Summary []monitor.LabelSummary `json:"summary"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.Version})
}

// StartRun handles POST /api/v1/runs. The run is created synchronously and
// executed in the background; the response is 202 with the new run, or 200
// when the id names a run that already finished.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}

	run, err := h.Engine.Start(r.Context(), workflow.RunRequest{
		RunID:      req.RunID,
		Transcript: req.Transcript,
		Config:     req.Config,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if run.Phase.IsTerminal() {
		writeJSON(w, http.StatusOK, run)
		return
	}

	h.running.Add(1)
	go func(id string) {
		defer h.running.Done()
		if _, err := h.Engine.Execute(h.runCtx, id); err != nil {
			h.logger().Warn("run ended with error", "run_id", id, "error", err)
		}
	}(run.ID)

	writeJSON(w, http.StatusAccepted, run)
}

// GetRun handles GET /api/v1/runs/{runID}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Engine.Get(r.Context(), r.PathValue("runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListEvents handles GET /api/v1/runs/{runID}/events?since_seq=N.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	sinceSeq := int64(0)
	if s := r.URL.Query().Get("since_seq"); s != "" {
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			sinceSeq = parsed
		}
	}

	events, err := h.EventRepo.ListByRun(r.Context(), h.DB, runID, sinceSeq)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.RunEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListNotifications handles GET /api/v1/runs/{runID}/notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	notes, err := h.NotificationRepo.ListByRun(r.Context(), h.DB, r.PathValue("runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if notes == nil {
		notes = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, notes)
}

// GetReport handles GET /api/v1/runs/{runID}/report.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Engine.ReportRepo.GetLatest(r.Context(), h.DB, r.PathValue("runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep.Report)
}

// GetArtifact handles GET /api/v1/runs/{runID}/artifacts/{name}.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	data, err := h.Engine.Artifacts.Read(r.Context(), r.PathValue("runID"), name)
	if err != nil {
		writeError(w, err)
		return
	}
	switch {
	case strings.HasSuffix(name, ".html"):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	case strings.HasSuffix(name, ".json"):
		w.Header().Set("Content-Type", "application/json")
	case strings.HasSuffix(name, ".md"):
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// StreamEvents handles GET /api/v1/runs/{runID}/events/stream (SSE).
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	lastSeq := int64(0)
	send := func() bool {
		events, err := h.EventRepo.ListByRun(ctx, h.DB, runID, lastSeq)
		if err != nil {
			if ctx.Err() == nil {
				writeSSEError(w, flusher, err)
			}
			return false
		}
		for _, ev := range events {
			writeSSEEvent(w, flusher, ev)
			lastSeq = ev.SeqNo
		}
		return true
	}
	if !send() {
		return
	}

	interval := h.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

// Sanitize handles POST /api/v1/sanitize.
func (h *Handler) Sanitize(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	res, _ := monitor.Measure(h.Monitor, "ipc.sanitize", func() (domain.SanitizeResult, error) {
		return sanitize.Sanitize(req.HTML, h.Sanitizer), nil
	})
	if res.Issues == nil {
		res.Issues = []domain.SanitizeIssue{}
	}
	writeJSON(w, http.StatusOK, res)
}

// Score handles POST /api/v1/score.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	rep, _ := monitor.Measure(h.Monitor, "ipc.score", func() (domain.QualityReport, error) {
		return quality.Score(req.HTML), nil
	})
	writeJSON(w, http.StatusOK, rep)
}

// Metrics handles GET /api/v1/metrics.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	resp := MetricsResponse{Entries: []monitor.Entry{}, Summary: []monitor.LabelSummary{}}
	if h.Monitor != nil {
		resp.Entries = h.Monitor.Snapshot()
		resp.Summary = h.Monitor.Summary()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ErrorStats handles GET /api/v1/errors/stats.
func (h *Handler) ErrorStats(w http.ResponseWriter, r *http.Request) {
	stats := h.Stats
	if stats == nil {
		stats = recovery.ProcessStats()
	}
	writeJSON(w, http.StatusOK, stats.Snapshot())
}

// Close cancels background runs and waits for them to return.
func (h *Handler) Close() {
	if h.cancelRun != nil {
		h.cancelRun()
	}
	h.running.Wait()
}

// wait blocks until background runs finish without cancelling them.
func (h *Handler) wait() {
	h.running.Wait()
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func decodeDocument(w http.ResponseWriter, r *http.Request) (DocumentRequest, bool) {
	var req DocumentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDocumentBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		status := http.StatusInternalServerError
		switch engErr.Code {
		case domain.ErrRunNotFound.Code, domain.ErrReportNotFound.Code, domain.ErrArtifactNotFound.Code:
			status = http.StatusNotFound
		case domain.ErrDuplicateRun.Code, domain.ErrRunAlreadyDone.Code, domain.ErrRunFailed.Code, domain.ErrOptimisticLock.Code:
			status = http.StatusConflict
		case domain.ErrEmptyTranscript.Code, domain.ErrInvalidArtifact.Code:
			status = http.StatusBadRequest
		case domain.ErrInvalidTransition.Code, domain.ErrMissingArtifact.Code:
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	var agentErr *domain.AgentError
	if errors.As(err, &agentErr) {
		writeJSON(w, http.StatusBadGateway, APIError{Code: -1, Message: agentErr.Message, Kind: string(agentErr.Kind)})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, ev domain.RunEvent) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.SeqNo, ev.Type, data)
	f.Flush()
}

func writeSSEError(w http.ResponseWriter, f http.Flusher, err error) {
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
	f.Flush()
}
