package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/classletter/newsletter-engine/internal/artifact"
	"github.com/classletter/newsletter-engine/internal/domain"
	"github.com/classletter/newsletter-engine/internal/monitor"
	"github.com/classletter/newsletter-engine/internal/notify"
	"github.com/classletter/newsletter-engine/internal/quality"
	"github.com/classletter/newsletter-engine/internal/recovery"
	"github.com/classletter/newsletter-engine/internal/store"
)

// validTransitions defines the legal phase transitions.
// Each key is a source phase, and the value is the set of valid target phases.
var validTransitions = map[domain.Phase]map[domain.Phase]bool{
	domain.PhasePlanning:   {domain.PhaseGeneration: true, domain.PhaseFailed: true},
	domain.PhaseGeneration: {domain.PhaseValidation: true, domain.PhaseFailed: true},
	domain.PhaseValidation: {domain.PhaseComplete: true, domain.PhaseFailed: true},
}

// IsValidTransition checks if a phase transition is legal.
func IsValidTransition(from, to domain.Phase) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// nextPhase returns the phase that follows a successful from.
func nextPhase(from domain.Phase) domain.Phase {
	switch from {
	case domain.PhasePlanning:
		return domain.PhaseGeneration
	case domain.PhaseGeneration:
		return domain.PhaseValidation
	case domain.PhaseValidation:
		return domain.PhaseComplete
	}
	return ""
}

// PlanInput is what the planner receives.
type PlanInput struct {
	Transcript string
	Config     json.RawMessage
}

// Planner produces the outline artifact for a run.
type Planner interface {
	Plan(ctx context.Context, rc domain.RunContext, in PlanInput) (domain.ArtifactRef, error)
}

// Generator renders and sanitizes the HTML artifact from an outline.
type Generator interface {
	Generate(ctx context.Context, rc domain.RunContext, outline []byte) (domain.ArtifactRef, error)
}

// RunRequest starts or resumes a run.
type RunRequest struct {
	RunID      string
	Transcript string
	Config     json.RawMessage
	UserID     string
	SessionID  string
}

// Engine is the FSM that moves a run through its phases.
type Engine struct {
	DB         *sql.DB
	RunRepo    *store.RunRepo
	EventRepo  *store.EventRepo
	ReportRepo *store.ReportRepo
	Artifacts  artifact.Store
	Planner    Planner
	Generator  Generator
	Gates      *PhaseGateRegistry
	Policy     *recovery.Policy
	Monitor    *monitor.Monitor
	Sink       notify.Sink
	Scorer     func(string) domain.QualityReport
	Logger     *slog.Logger
	Now        func() time.Time
}

// NewEngine creates an engine with default gates, scorer and a recovery
// policy that shares the engine's artifact store. Sink, Monitor and Logger
// may be replaced before the first run; Policy.Sink should follow Sink.
func NewEngine(db *sql.DB, artifacts artifact.Store, planner Planner, generator Generator) *Engine {
	return &Engine{
		DB:         db,
		RunRepo:    &store.RunRepo{},
		EventRepo:  &store.EventRepo{},
		ReportRepo: &store.ReportRepo{},
		Artifacts:  artifacts,
		Planner:    planner,
		Generator:  generator,
		Gates:      NewPhaseGateRegistry(artifacts),
		Policy:     &recovery.Policy{Artifacts: artifacts, Sink: notify.Nop{}},
		Monitor:    monitor.New(0, monitor.Thresholds{}, nil),
		Sink:       notify.Nop{},
		Scorer:     quality.Score,
	}
}

// Run starts the run if needed and executes it to a terminal phase.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*domain.WorkflowRun, error) {
	run, err := e.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, run.ID)
}

// Start creates a run in the planning phase. An existing run with the same
// id is returned unchanged, which makes Start safe to repeat on resume.
func (e *Engine) Start(ctx context.Context, req RunRequest) (*domain.WorkflowRun, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	} else {
		existing, err := e.RunRepo.GetByID(ctx, e.DB, req.RunID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrRunNotFound) {
			return nil, err
		}
	}
	if strings.TrimSpace(req.Transcript) == "" {
		return nil, domain.ErrEmptyTranscript
	}

	now := e.now().Unix()
	run := domain.WorkflowRun{
		ID:            req.RunID,
		Phase:         domain.PhasePlanning,
		StateVersion:  1,
		Transcript:    req.Transcript,
		Config:        req.Config,
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		LastEventSeq:  1, // The run_started event uses seq 1.
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := e.RunRepo.CreateTx(ctx, tx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	event := domain.RunEvent{
		RunID:     run.ID,
		SeqNo:     1,
		Phase:     domain.PhasePlanning,
		Type:      domain.EventRunStarted,
		Message:   "run started",
		CreatedAt: now,
	}
	if err := e.EventRepo.AppendTx(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("append start event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit start: %w", err)
	}

	e.forward(ctx, event)
	e.logger().Info("run started", "run_id", run.ID, "user_id", run.UserID)
	return &run, nil
}

// Execute drives a stored run from its current phase to complete or failed.
// If ctx ends between phases the run keeps its phase and artifacts and
// ctx.Err() is returned; a later Execute resumes it.
func (e *Engine) Execute(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	run, err := e.RunRepo.GetByID(ctx, e.DB, runID)
	if err != nil {
		return nil, err
	}
	switch run.Phase {
	case domain.PhaseComplete:
		return run, domain.ErrRunAlreadyDone
	case domain.PhaseFailed:
		return run, domain.ErrRunFailed
	}
	if e.Planner == nil || e.Generator == nil || e.Artifacts == nil {
		return run, domain.ErrCollaboratorMissing
	}

	rc := domain.RunContext{RunID: run.ID, UserID: run.UserID, SessionID: run.SessionID}
	for !run.Phase.IsTerminal() {
		if err := ctx.Err(); err != nil {
			e.logger().Info("run paused", "run_id", run.ID, "phase", string(run.Phase))
			return run, err
		}
		if err := e.runPhase(ctx, run, rc); err != nil {
			return run, err
		}
	}
	return run, nil
}

// Get loads a run with its event log, artifacts and latest report.
func (e *Engine) Get(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	run, err := e.RunRepo.GetByID(ctx, e.DB, runID)
	if err != nil {
		return nil, err
	}
	if run.Events, err = e.EventRepo.ListByRun(ctx, e.DB, runID, 0); err != nil {
		return nil, err
	}
	rep, err := e.ReportRepo.GetLatest(ctx, e.DB, runID)
	switch {
	case err == nil:
		run.Report = &rep.Report
	case !errors.Is(err, domain.ErrReportNotFound):
		return nil, err
	}
	if e.Artifacts != nil {
		if data, err := e.Artifacts.Read(ctx, runID, domain.ArtifactOutline); err == nil {
			run.Outline = data
		}
		if data, err := e.Artifacts.Read(ctx, runID, domain.ArtifactHTML); err == nil {
			run.HTML = string(data)
		}
	}
	return run, nil
}

// runPhase executes the current phase once, with at most one recovery, and
// records its outcome as a transition.
func (e *Engine) runPhase(ctx context.Context, run *domain.WorkflowRun, rc domain.RunContext) error {
	phase := run.Phase
	if err := e.record(ctx, run, phase, domain.EventPhaseStart, "phase started", nil); err != nil {
		return err
	}

	var (
		skipped bool
		report  domain.QualityReport
	)
	body := func(ctx context.Context) error {
		skipped = false
		switch phase {
		case domain.PhasePlanning:
			s, err := e.plan(ctx, *run, rc)
			skipped = s
			return err
		case domain.PhaseGeneration:
			return e.generate(ctx, *run, rc)
		case domain.PhaseValidation:
			r, err := e.validate(ctx, *run)
			report = r
			return err
		}
		return domain.NewEngineError(domain.ErrInvalidPhase.Code, fmt.Sprintf("no work defined for phase %s", phase))
	}

	onRecovered := func(ctx context.Context, out recovery.Outcome) error {
		if out.Degraded {
			run.Degraded = true
		}
		return e.record(ctx, run, phase, domain.EventRecoveryAttempt, "recovered via "+out.Action, nil)
	}

	step := WithErrorHandling(e.policy(), rc, WithPerfMonitoring(e.Monitor, "workflow."+string(phase), body), onRecovered)
	if err := step(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return e.fail(ctx, run, phase, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	next := nextPhase(phase)
	if !IsValidTransition(phase, next) {
		return domain.NewEngineError(domain.ErrInvalidTransition.Code, fmt.Sprintf("illegal transition %s -> %s", phase, next))
	}

	if skipped {
		return e.record(ctx, run, next, domain.EventPhaseSkip, domain.ArtifactOutline+" already exists", nil)
	}

	var saveReport func(*sql.Tx) error
	if phase == domain.PhaseValidation {
		saveReport = func(tx *sql.Tx) error {
			return e.ReportRepo.SaveTx(ctx, tx, run.ID, report, e.now().Unix())
		}
	}
	if err := e.record(ctx, run, next, domain.EventPhaseComplete, "phase complete", saveReport); err != nil {
		return err
	}
	if phase == domain.PhaseValidation {
		run.Report = &report
		e.logger().Info("run complete", "run_id", run.ID, "overall_score", report.OverallScore, "degraded", run.Degraded)
	}
	return nil
}

// plan reports skipped when the outline is already present.
func (e *Engine) plan(ctx context.Context, run domain.WorkflowRun, rc domain.RunContext) (bool, error) {
	exists, err := e.Artifacts.Exists(ctx, run.ID, domain.ArtifactOutline)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}

	if _, err := e.Planner.Plan(ctx, rc, PlanInput{Transcript: run.Transcript, Config: run.Config}); err != nil {
		return false, err
	}
	if err := e.checkGate(ctx, run, domain.PhasePlanning); err != nil {
		return false, domain.NewAgentError(domain.KindJSONParsingFailed, domain.SeverityError,
			"planner reported success without writing "+domain.ArtifactOutline, false,
			map[string]string{"run_id": run.ID}, err)
	}
	return false, nil
}

func (e *Engine) generate(ctx context.Context, run domain.WorkflowRun, rc domain.RunContext) error {
	if err := e.checkGate(ctx, run, domain.PhasePlanning); err != nil {
		return domain.NewAgentError(domain.KindArtifactProcessingFailed, domain.SeverityError,
			"generation cannot start without "+domain.ArtifactOutline, false,
			map[string]string{"run_id": run.ID}, err)
	}
	outline, err := e.Artifacts.Read(ctx, run.ID, domain.ArtifactOutline)
	if err != nil {
		return fmt.Errorf("read outline: %w", err)
	}

	if _, err := e.Generator.Generate(ctx, rc, outline); err != nil {
		return err
	}
	if err := e.checkGate(ctx, run, domain.PhaseGeneration); err != nil {
		return domain.NewAgentError(domain.KindArtifactProcessingFailed, domain.SeverityError,
			"generator reported success without writing "+domain.ArtifactHTML, false,
			map[string]string{"run_id": run.ID}, err)
	}
	return nil
}

func (e *Engine) validate(ctx context.Context, run domain.WorkflowRun) (domain.QualityReport, error) {
	html, err := e.Artifacts.Read(ctx, run.ID, domain.ArtifactHTML)
	if err != nil {
		return domain.QualityReport{}, fmt.Errorf("read html: %w", err)
	}
	return monitor.Measure(e.Monitor, "quality.score", func() (domain.QualityReport, error) {
		return e.Scorer(string(html)), nil
	})
}

// checkGate returns a wrapped ErrMissingArtifact when the phase's gate blocks.
func (e *Engine) checkGate(ctx context.Context, run domain.WorkflowRun, phase domain.Phase) error {
	gate, err := e.Gates.Get(phase)
	if err != nil {
		return err
	}
	decision, err := gate.Evaluate(ctx, run)
	if err != nil {
		return fmt.Errorf("evaluate gate %s: %w", gate.Name(), err)
	}
	if !decision.Allow {
		return domain.NewEngineError(domain.ErrMissingArtifact.Code, fmt.Sprintf("gate %s blocked: %v", gate.Name(), decision.Blockers))
	}
	return nil
}

// fail moves the run to failed and returns cause.
func (e *Engine) fail(ctx context.Context, run *domain.WorkflowRun, phase domain.Phase, cause error) error {
	run.LastError = cause.Error()
	if err := e.record(ctx, run, domain.PhaseFailed, domain.EventPhaseFailed, cause.Error(), nil); err != nil {
		e.logger().Error("record failure", "run_id", run.ID, "error", err)
	}
	e.logger().Warn("run failed", "run_id", run.ID, "phase", string(phase), "error", cause)
	return cause
}

// record appends an event and saves the run, moving it to phase, in one
// transaction with optimistic locking. The event is forwarded to the sink
// after commit.
func (e *Engine) record(ctx context.Context, run *domain.WorkflowRun, phase domain.Phase, typ domain.EventType, msg string, extra func(*sql.Tx) error) error {
	if phase != run.Phase && !IsValidTransition(run.Phase, phase) {
		return domain.NewEngineError(domain.ErrInvalidTransition.Code, fmt.Sprintf("illegal transition %s -> %s", run.Phase, phase))
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := e.now().Unix()
	// The event carries the phase it describes, not the one the run enters.
	event := domain.RunEvent{
		RunID:     run.ID,
		SeqNo:     run.LastEventSeq + 1,
		Phase:     run.Phase,
		Type:      typ,
		Message:   msg,
		CreatedAt: now,
	}
	if err := e.EventRepo.AppendTx(ctx, tx, event); err != nil {
		return fmt.Errorf("append %s event: %w", typ, err)
	}
	if extra != nil {
		if err := extra(tx); err != nil {
			return err
		}
	}

	updated := *run
	updated.Phase = phase
	updated.LastEventSeq = event.SeqNo
	updated.UpdatedAtUnix = now
	if err := e.RunRepo.UpdateStateTx(ctx, tx, updated); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", typ, err)
	}

	updated.StateVersion++
	*run = updated
	e.forward(ctx, event)
	return nil
}

func (e *Engine) forward(ctx context.Context, ev domain.RunEvent) {
	if e.Sink == nil {
		return
	}
	sev := domain.SeverityInfo
	if ev.Type == domain.EventPhaseFailed {
		sev = domain.SeverityError
	}
	n := domain.Notification{
		Type:      domain.NotificationType(ev.Type),
		RunID:     ev.RunID,
		Message:   fmt.Sprintf("%s: %s", ev.Phase, ev.Message),
		Severity:  sev,
		Timestamp: ev.CreatedAt,
	}
	if err := e.Sink.Notify(ctx, n); err != nil {
		e.logger().Warn("event delivery failed", "run_id", ev.RunID, "type", string(ev.Type), "error", err)
	}
}

func (e *Engine) policy() *recovery.Policy {
	if e.Policy != nil {
		return e.Policy
	}
	return &recovery.Policy{Artifacts: e.Artifacts, Sink: e.Sink, Logger: e.Logger, Now: e.Now}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
