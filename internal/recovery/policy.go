package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/classletter/newsletter-engine/internal/artifact"
	"github.com/classletter/newsletter-engine/internal/domain"
	"github.com/classletter/newsletter-engine/internal/notify"
)

// Recovery actions reported in Outcome.Action.
const (
	ActionNone           = "none"
	ActionRetry          = "retry"
	ActionDegraded       = "continue_degraded"
	ActionDefaultOutline = "default_outline"
	ActionManual         = "manual_intervention"
)

var processStats = NewStats()

// ProcessStats returns the counters shared by every Policy that was not
// given its own.
func ProcessStats() *Stats {
	return processStats
}

// Outcome describes what a recovery attempt did.
type Outcome struct {
	Attempted bool   `json:"attempted"`
	Recovered bool   `json:"recovered"`
	Degraded  bool   `json:"degraded"`
	Action    string `json:"action"`
}

// Policy notifies about classified errors and runs at most one recovery
// action per call.
type Policy struct {
	Artifacts artifact.Store
	Sink      notify.Sink
	Stats     *Stats
	Logger    *slog.Logger
	Now       func() time.Time
}

// Recover emits one error notification for ae, then attempts the recovery
// action for its kind if ae is recoverable. An attempted recovery is
// followed by a recovery_succeeded or recovery_failed notification. Recover
// never panics.
func (p *Policy) Recover(ctx context.Context, rc domain.RunContext, ae *domain.AgentError) Outcome {
	if ae == nil {
		return Outcome{Action: ActionNone}
	}
	p.Report(ctx, rc, ae)

	if !ae.Recoverable {
		return Outcome{Action: ActionNone}
	}

	out := p.run(ctx, rc, ae)
	out.Attempted = true
	p.stats().recordOutcome(out.Recovered)

	n := domain.Notification{
		Type:      domain.NotifyRecoveryFailed,
		RunID:     rc.RunID,
		Message:   msgRecoveryFailed,
		Severity:  domain.SeverityError,
		Timestamp: p.now().Unix(),
	}
	if out.Recovered {
		n.Type = domain.NotifyRecoverySucceeded
		n.Message = msgRecoverySucceeded
		n.Severity = domain.SeverityInfo
	}
	p.notify(ctx, n)

	p.logger().Info("recovery attempted",
		"run_id", rc.RunID,
		"kind", string(ae.Kind),
		"action", out.Action,
		"recovered", out.Recovered,
	)
	return out
}

// Report counts ae and emits its error notification without attempting
// recovery.
func (p *Policy) Report(ctx context.Context, rc domain.RunContext, ae *domain.AgentError) {
	if ae == nil {
		return
	}
	p.stats().recordError(ae.Kind)

	text, suggestions := MessageFor(ae.Kind)
	p.notify(ctx, domain.Notification{
		Type:        domain.NotifyError,
		RunID:       rc.RunID,
		Message:     text,
		Severity:    ae.Severity,
		Suggestions: suggestions,
		Timestamp:   p.now().Unix(),
	})
}

// AttemptRecovery reports only whether recovery succeeded.
func (p *Policy) AttemptRecovery(ctx context.Context, rc domain.RunContext, ae *domain.AgentError) bool {
	return p.Recover(ctx, rc, ae).Recovered
}

// run executes the kind's action, converting a panic into a failed outcome.
func (p *Policy) run(ctx context.Context, rc domain.RunContext, ae *domain.AgentError) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger().Error("recovery action panicked", "run_id", rc.RunID, "kind", string(ae.Kind), "panic", fmt.Sprint(r))
			out = Outcome{Recovered: false, Action: out.Action}
		}
	}()

	switch ae.Kind {
	case domain.KindTransferFailed, domain.KindTimeout:
		return Outcome{Recovered: true, Action: ActionRetry}
	case domain.KindLLMGenerationFailed:
		return Outcome{Recovered: true, Degraded: true, Action: ActionDegraded}
	case domain.KindJSONParsingFailed:
		out.Action = ActionDefaultOutline
		if err := p.writeDefaultOutline(ctx, rc); err != nil {
			p.logger().Warn("default outline write failed", "run_id", rc.RunID, "error", err)
			return Outcome{Recovered: false, Action: ActionDefaultOutline}
		}
		return Outcome{Recovered: true, Action: ActionDefaultOutline}
	case domain.KindHTMLValidationFailed, domain.KindNetwork:
		return Outcome{Recovered: false, Action: ActionManual}
	}
	return Outcome{Recovered: false, Action: ActionNone}
}

func (p *Policy) writeDefaultOutline(ctx context.Context, rc domain.RunContext) error {
	if p.Artifacts == nil {
		return domain.ErrCollaboratorMissing
	}
	data, err := json.Marshal(DefaultOutline(p.now()))
	if err != nil {
		return fmt.Errorf("marshal default outline: %w", err)
	}
	return p.Artifacts.Write(ctx, rc.RunID, domain.ArtifactOutline, data)
}

// DefaultOutline is the placeholder plan written when the planner's output
// cannot be parsed.
func DefaultOutline(now time.Time) domain.Outline {
	return domain.Outline{
		Title: "学級通信",
		Date:  now.Format("2006-01-02"),
		Sections: []domain.OutlineSection{
			{Title: "今日の活動", Content: "今日の活動の様子をお伝えします。"},
			{Title: "お知らせ", Content: "ご家庭へのお知らせです。"},
		},
	}
}

func (p *Policy) notify(ctx context.Context, n domain.Notification) {
	if p.Sink == nil {
		return
	}
	if err := p.Sink.Notify(ctx, n); err != nil {
		p.logger().Warn("notification delivery failed", "run_id", n.RunID, "type", string(n.Type), "error", err)
	}
}

func (p *Policy) stats() *Stats {
	if p.Stats != nil {
		return p.Stats
	}
	return processStats
}

func (p *Policy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
