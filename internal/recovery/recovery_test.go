package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/classletter/newsletter-engine/internal/artifact"
	"github.com/classletter/newsletter-engine/internal/domain"
	"github.com/classletter/newsletter-engine/internal/notify"
)

func TestClassify_KeywordOrder(t *testing.T) {
	tests := []struct {
		msg  string
		want domain.ErrorKind
	}{
		{"request timeout while calling model", domain.KindTimeout},
		{"Network unreachable", domain.KindNetwork},
		{"connection reset by peer", domain.KindNetwork},
		{"invalid JSON in planner output", domain.KindJSONParsingFailed},
		{"failed to parse outline", domain.KindJSONParsingFailed},
		{"auth token expired", domain.KindAuthentication},
		{"permission denied", domain.KindAuthentication},
		{"transfer to generator failed", domain.KindTransferFailed},
		{"agent crashed", domain.KindTransferFailed},
		{"html is malformed", domain.KindHTMLValidationFailed},
		{"validation failed", domain.KindHTMLValidationFailed},
		{"disk on fire", domain.KindUnknown},
		// First match wins.
		{"connection timeout", domain.KindTimeout},
		{"json validation error", domain.KindJSONParsingFailed},
		{"agent permission error", domain.KindAuthentication},
	}
	for _, tt := range tests {
		ae := Classify(errors.New(tt.msg))
		if ae.Kind != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.msg, ae.Kind, tt.want)
		}
		if ae.Message != tt.msg {
			t.Errorf("Message = %q, want %q", ae.Message, tt.msg)
		}
	}
}

func TestClassify_PassesThroughAgentError(t *testing.T) {
	orig := domain.NewAgentError(domain.KindLLMGenerationFailed, domain.SeverityCritical, "empty", true, nil, nil)
	wrapped := fmt.Errorf("generate: %w", orig)

	if got := Classify(wrapped); got != orig {
		t.Errorf("Classify returned %+v, want original", got)
	}
}

func TestClassify_DeadlineIsTimeout(t *testing.T) {
	ae := Classify(fmt.Errorf("plan: %w", context.DeadlineExceeded))
	if ae.Kind != domain.KindTimeout {
		t.Errorf("Kind = %s, want timeout", ae.Kind)
	}
	if !errors.Is(ae, context.DeadlineExceeded) {
		t.Error("cause should stay in the chain")
	}
}

func TestClassify_Defaults(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
	auth := Classify(errors.New("auth failed"))
	if auth.Recoverable || auth.Severity != domain.SeverityCritical {
		t.Errorf("auth = %+v, want critical and not recoverable", auth)
	}
	unknown := Classify(errors.New("???"))
	if unknown.Recoverable {
		t.Error("unknown errors must not be recoverable")
	}
}

func newPolicy(t *testing.T) (*Policy, *notify.ChannelSink, *artifact.FileStore) {
	t.Helper()
	fs, err := artifact.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sink := notify.NewChannelSink(16)
	p := &Policy{
		Artifacts: fs,
		Sink:      sink,
		Stats:     NewStats(),
		Now:       func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) },
	}
	return p, sink, fs
}

func drain(s *notify.ChannelSink) []domain.Notification {
	var out []domain.Notification
	for {
		select {
		case n := <-s.C():
			out = append(out, n)
		default:
			return out
		}
	}
}

func TestRecover_Outcomes(t *testing.T) {
	tests := []struct {
		kind      domain.ErrorKind
		recovered bool
		degraded  bool
		action    string
	}{
		{domain.KindTransferFailed, true, false, ActionRetry},
		{domain.KindTimeout, true, false, ActionRetry},
		{domain.KindLLMGenerationFailed, true, true, ActionDegraded},
		{domain.KindJSONParsingFailed, true, false, ActionDefaultOutline},
		{domain.KindHTMLValidationFailed, false, false, ActionManual},
		{domain.KindNetwork, false, false, ActionManual},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			p, sink, _ := newPolicy(t)
			rc := domain.RunContext{RunID: "run-1"}

			out := p.Recover(context.Background(), rc, New(tt.kind, "boom", nil, nil))
			if !out.Attempted || out.Recovered != tt.recovered || out.Degraded != tt.degraded || out.Action != tt.action {
				t.Errorf("Outcome = %+v", out)
			}

			notes := drain(sink)
			if len(notes) != 2 {
				t.Fatalf("notifications = %d, want 2", len(notes))
			}
			if notes[0].Type != domain.NotifyError || notes[0].RunID != "run-1" {
				t.Errorf("first notification = %+v", notes[0])
			}
			if len(notes[0].Suggestions) > 2 {
				t.Errorf("suggestions = %v, want at most 2", notes[0].Suggestions)
			}
			wantType := domain.NotifyRecoveryFailed
			if tt.recovered {
				wantType = domain.NotifyRecoverySucceeded
			}
			if notes[1].Type != wantType {
				t.Errorf("second notification type = %s, want %s", notes[1].Type, wantType)
			}
		})
	}
}

func TestRecover_NotRecoverableIsNotAttempted(t *testing.T) {
	for _, kind := range []domain.ErrorKind{domain.KindAuthentication, domain.KindResourceExhausted, domain.KindUnknown, domain.KindArtifactProcessingFailed} {
		p, sink, _ := newPolicy(t)
		out := p.Recover(context.Background(), domain.RunContext{RunID: "r"}, New(kind, "x", nil, nil))
		if out.Attempted || out.Recovered {
			t.Errorf("%s: Outcome = %+v, want not attempted", kind, out)
		}
		if notes := drain(sink); len(notes) != 1 || notes[0].Type != domain.NotifyError {
			t.Errorf("%s: notifications = %+v, want exactly one error", kind, notes)
		}
	}
}

func TestRecover_RecoverableFlagOverridesKind(t *testing.T) {
	p, _, _ := newPolicy(t)
	ae := domain.NewAgentError(domain.KindTimeout, domain.SeverityWarning, "t", false, nil, nil)
	if p.AttemptRecovery(context.Background(), domain.RunContext{RunID: "r"}, ae) {
		t.Error("a non-recoverable error must report failure")
	}
}

func TestRecover_DefaultOutline(t *testing.T) {
	p, _, fs := newPolicy(t)
	ctx := context.Background()

	if !p.AttemptRecovery(ctx, domain.RunContext{RunID: "run-json"}, New(domain.KindJSONParsingFailed, "bad json", nil, nil)) {
		t.Fatal("expected JSON recovery to succeed")
	}

	data, err := fs.Read(ctx, "run-json", domain.ArtifactOutline)
	if err != nil {
		t.Fatalf("Read outline: %v", err)
	}
	var outline domain.Outline
	if err := json.Unmarshal(data, &outline); err != nil {
		t.Fatalf("outline is not valid JSON: %v", err)
	}
	if outline.Title != "学級通信" {
		t.Errorf("Title = %q", outline.Title)
	}
	if len(outline.Sections) != 2 || outline.Sections[0].Title != "今日の活動" || outline.Sections[1].Title != "お知らせ" {
		t.Errorf("Sections = %+v", outline.Sections)
	}
	if outline.Date != "2026-10-16" {
		t.Errorf("Date = %q, want 2026-10-16", outline.Date)
	}
}

type panickingStore struct{ artifact.Store }

func (panickingStore) Write(context.Context, string, string, []byte) error {
	panic("disk exploded")
}

func TestRecover_PanicIsContained(t *testing.T) {
	p, sink, _ := newPolicy(t)
	p.Artifacts = panickingStore{}

	out := p.Recover(context.Background(), domain.RunContext{RunID: "r"}, New(domain.KindJSONParsingFailed, "bad", nil, nil))
	if !out.Attempted || out.Recovered {
		t.Errorf("Outcome = %+v, want attempted and failed", out)
	}
	notes := drain(sink)
	if len(notes) != 2 || notes[1].Type != domain.NotifyRecoveryFailed {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestStats(t *testing.T) {
	p, _, _ := newPolicy(t)
	ctx := context.Background()
	rc := domain.RunContext{RunID: "r"}

	p.Recover(ctx, rc, New(domain.KindTimeout, "t", nil, nil))
	p.Recover(ctx, rc, New(domain.KindTimeout, "t", nil, nil))
	p.Recover(ctx, rc, New(domain.KindNetwork, "n", nil, nil))
	p.Recover(ctx, rc, New(domain.KindAuthentication, "a", nil, nil))

	s := p.Stats.Snapshot()
	if s.Total != 4 || s.ByKind[domain.KindTimeout] != 2 {
		t.Errorf("Snapshot = %+v", s)
	}
	if s.Attempted != 3 || s.Recovered != 2 {
		t.Errorf("Attempted/Recovered = %d/%d, want 3/2", s.Attempted, s.Recovered)
	}
}

func TestMessageFor_EveryKind(t *testing.T) {
	for _, kind := range domain.AllErrorKinds {
		text, suggestions := MessageFor(kind)
		if text == "" {
			t.Errorf("%s has no message", kind)
		}
		if len(suggestions) > 2 {
			t.Errorf("%s has %d suggestions", kind, len(suggestions))
		}
	}
}
