package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/classletter/newsletter-engine/internal/artifact"
	"github.com/classletter/newsletter-engine/internal/domain"
	"github.com/classletter/newsletter-engine/internal/notify"
	"github.com/classletter/newsletter-engine/internal/recovery"
	"github.com/classletter/newsletter-engine/internal/store"
	"github.com/classletter/newsletter-engine/internal/workflow"
)

const pageHTML = `<!DOCTYPE html><html lang="ja"><head><meta charset="utf-8"><title>学級通信 十月号</title></head><body><h1>学級通信</h1><p>運動会</p></body></html>`

type stubPlanner struct{ store artifact.Store }

func (p stubPlanner) Plan(ctx context.Context, rc domain.RunContext, _ workflow.PlanInput) (domain.ArtifactRef, error) {
	return domain.ArtifactRef{}, p.store.Write(ctx, rc.RunID, domain.ArtifactOutline, []byte(`{"title":"学級通信","sections":[{"title":"a","content":"b"}]}`))
}

type stubGenerator struct{ store artifact.Store }

func (g stubGenerator) Generate(ctx context.Context, rc domain.RunContext, _ []byte) (domain.ArtifactRef, error) {
	return domain.ArtifactRef{}, g.store.Write(ctx, rc.RunID, domain.ArtifactHTML, []byte(pageHTML))
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	dir := t.TempDir()
	db, err := store.NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create db: %v", err)
	}

	fs, err := artifact.NewFileStore(filepath.Join(dir, "artifacts"))
	if err != nil {
		t.Fatalf("create artifact store: %v", err)
	}

	stats := recovery.NewStats()
	sink := notify.NewStoreSink(db)
	eng := workflow.NewEngine(db, fs, stubPlanner{fs}, stubGenerator{fs})
	eng.Sink = sink
	eng.Policy = &recovery.Policy{Artifacts: fs, Sink: sink, Stats: stats}

	h := NewHandler(eng, stats)
	h.Version = "test"
	h.PollInterval = 10 * time.Millisecond
	t.Cleanup(func() {
		h.Close()
		db.Close()
	})
	return h
}

func startRun(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.StartRun(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)
	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if w.Code != http.StatusOK || body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("health = %d %v", w.Code, body)
	}
}

func TestStartRun_Accepted(t *testing.T) {
	h := newTestHandler(t)
	w := startRun(t, h, `{"run_id":"r1","transcript":"今日は運動会でした","user_id":"u1"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var run domain.WorkflowRun
	json.NewDecoder(w.Body).Decode(&run)
	if run.ID != "r1" || run.Phase != domain.PhasePlanning {
		t.Errorf("run = %+v", run)
	}

	h.wait()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/r1", nil)
	req.SetPathValue("runID", "r1")
	w = httptest.NewRecorder()
	h.GetRun(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var done domain.WorkflowRun
	json.NewDecoder(w.Body).Decode(&done)
	if done.Phase != domain.PhaseComplete || done.Report == nil || len(done.Events) != 7 {
		t.Errorf("run = phase %s report %v events %d", done.Phase, done.Report != nil, len(done.Events))
	}

	// Starting a finished run returns it as is.
	w = startRun(t, h, `{"run_id":"r1","transcript":"x"}`)
	if w.Code != http.StatusOK {
		t.Errorf("restart finished run: expected 200, got %d", w.Code)
	}
}

func TestStartRun_BadRequests(t *testing.T) {
	h := newTestHandler(t)
	if w := startRun(t, h, "not json"); w.Code != http.StatusBadRequest {
		t.Errorf("invalid body: expected 400, got %d", w.Code)
	}
	w := startRun(t, h, `{"run_id":"r1","transcript":"  "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty transcript: expected 400, got %d", w.Code)
	}
	var apiErr APIError
	json.NewDecoder(w.Body).Decode(&apiErr)
	if apiErr.Code != domain.ErrEmptyTranscript.Code {
		t.Errorf("code = %d", apiErr.Code)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/nope", nil)
	req.SetPathValue("runID", "nope")
	w := httptest.NewRecorder()
	h.GetRun(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestListEvents_SinceSeq(t *testing.T) {
	h := newTestHandler(t)
	startRun(t, h, `{"run_id":"r1","transcript":"x"}`)
	h.wait()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/r1/events?since_seq=5", nil)
	req.SetPathValue("runID", "r1")
	w := httptest.NewRecorder()
	h.ListEvents(w, req)

	var events []domain.RunEvent
	json.NewDecoder(w.Body).Decode(&events)
	if len(events) != 2 || events[0].SeqNo != 6 {
		t.Errorf("events = %+v", events)
	}
}

func TestListEvents_Empty(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/none/events", nil)
	req.SetPathValue("runID", "none")
	w := httptest.NewRecorder()
	h.ListEvents(w, req)

	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", w.Body.String())
	}
}

func TestListNotifications(t *testing.T) {
	h := newTestHandler(t)
	startRun(t, h, `{"run_id":"r1","transcript":"x"}`)
	h.wait()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/r1/notifications", nil)
	req.SetPathValue("runID", "r1")
	w := httptest.NewRecorder()
	h.ListNotifications(w, req)

	var notes []domain.Notification
	json.NewDecoder(w.Body).Decode(&notes)
	if len(notes) != 7 || notes[0].Type != domain.NotificationType(domain.EventRunStarted) {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestGetReportAndArtifact(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/r1/report", nil)
	req.SetPathValue("runID", "r1")
	w := httptest.NewRecorder()
	h.GetReport(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("report before run: expected 404, got %d", w.Code)
	}

	startRun(t, h, `{"run_id":"r1","transcript":"x"}`)
	h.wait()

	w = httptest.NewRecorder()
	h.GetReport(w, req)
	var rep domain.QualityReport
	json.NewDecoder(w.Body).Decode(&rep)
	if w.Code != http.StatusOK || rep.OverallScore <= 0 {
		t.Errorf("report = %d %+v", w.Code, rep)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/r1/artifacts/newsletter.html", nil)
	req.SetPathValue("runID", "r1")
	req.SetPathValue("name", "newsletter.html")
	w = httptest.NewRecorder()
	h.GetArtifact(w, req)
	if w.Code != http.StatusOK || w.Body.String() != pageHTML {
		t.Errorf("artifact = %d %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %s", ct)
	}

	req.SetPathValue("name", "../secret")
	w = httptest.NewRecorder()
	h.GetArtifact(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("traversal: expected 400, got %d", w.Code)
	}
}

func TestStreamEvents_SSE_FirstBatch(t *testing.T) {
	h := newTestHandler(t)
	startRun(t, h, `{"run_id":"r1","transcript":"x"}`)
	h.wait()

	// Use a cancellable context so the SSE handler returns.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/r1/events/stream", nil).WithContext(ctx)
	req.SetPathValue("runID", "r1")
	w := httptest.NewRecorder()

	h.StreamEvents(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %s", ct)
	}
	body := w.Body.String()
	if strings.Count(body, "data: ") != 7 {
		t.Errorf("expected 7 events, got body %q", body)
	}
	if !strings.Contains(body, "event: phase_complete") {
		t.Error("events should be typed")
	}
}

func TestSanitize(t *testing.T) {
	h := newTestHandler(t)
	body := `{"html":"<p onclick=\"x()\">hi</p><script>alert(1)</script>"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sanitize", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.Sanitize(w, req)

	var res domain.SanitizeResult
	json.NewDecoder(w.Body).Decode(&res)
	if w.Code != http.StatusOK || res.CleanedHTML != "<p>hi</p>" || len(res.Issues) != 2 {
		t.Errorf("sanitize = %d %+v", w.Code, res)
	}
	if len(h.Monitor.Snapshot()) != 1 {
		t.Error("sanitize should be measured")
	}
}

func TestScore(t *testing.T) {
	h := newTestHandler(t)
	body, _ := json.Marshal(DocumentRequest{HTML: pageHTML})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/score", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Score(w, req)

	var rep domain.QualityReport
	json.NewDecoder(w.Body).Decode(&rep)
	if w.Code != http.StatusOK || !rep.Structure.Valid {
		t.Errorf("score = %d %+v", w.Code, rep)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/score", bytes.NewBufferString("{"))
	w = httptest.NewRecorder()
	h.Score(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad body: expected 400, got %d", w.Code)
	}
}

func TestMetricsAndErrorStats(t *testing.T) {
	h := newTestHandler(t)
	startRun(t, h, `{"run_id":"r1","transcript":"x"}`)
	h.wait()

	w := httptest.NewRecorder()
	h.Metrics(w, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	var m MetricsResponse
	json.NewDecoder(w.Body).Decode(&m)
	if len(m.Entries) == 0 || len(m.Summary) == 0 {
		t.Errorf("metrics = %+v", m)
	}

	w = httptest.NewRecorder()
	h.ErrorStats(w, httptest.NewRequest(http.MethodGet, "/api/v1/errors/stats", nil))
	var s recovery.StatsSnapshot
	json.NewDecoder(w.Body).Decode(&s)
	if w.Code != http.StatusOK || s.Total != 0 {
		t.Errorf("stats = %d %+v", w.Code, s)
	}
}

func TestCORSHeaders(t *testing.T) {
	h := newTestHandler(t)
	srv := NewServer(h, ":0")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/runs/r1", nil)
	w := httptest.NewRecorder()

	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS origin *")
	}
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", w.Code)
	}
}

func TestServerRouting(t *testing.T) {
	h := newTestHandler(t)
	srv := NewServer(h, ":0")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 from routed GetRun, got %d", w.Code)
	}
}
