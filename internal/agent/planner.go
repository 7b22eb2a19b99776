package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pemistahl/lingua-go"

	"github.com/classletter/newsletter-engine/internal/artifact"
	"github.com/classletter/newsletter-engine/internal/config"
	"github.com/classletter/newsletter-engine/internal/domain"
	"github.com/classletter/newsletter-engine/internal/workflow"
)

// transcriptLanguages are the languages the detector chooses between.
var transcriptLanguages = []lingua.Language{
	lingua.Japanese,
	lingua.English,
	lingua.Chinese,
	lingua.Korean,
	lingua.Portuguese,
	lingua.Spanish,
}

// NewLanguageDetector builds the detector used for transcripts.
func NewLanguageDetector() lingua.LanguageDetector {
	return lingua.NewLanguageDetectorBuilder().
		FromLanguages(transcriptLanguages...).
		Build()
}

// LLMPlanner turns a transcript into outline.json.
type LLMPlanner struct {
	Completer Completer
	Store     artifact.Store
	Model     config.ModelConfig
	Detector  lingua.LanguageDetector
	// DefaultLanguage is used when detection is disabled or inconclusive.
	DefaultLanguage string
	Logger          *slog.Logger
	Now             func() time.Time
}

var _ workflow.Planner = (*LLMPlanner)(nil)

// Plan asks the model for an outline, validates it and writes it.
func (p *LLMPlanner) Plan(ctx context.Context, rc domain.RunContext, in workflow.PlanInput) (domain.ArtifactRef, error) {
	lang := p.detect(in.Transcript)

	system, err := fill(defaultPlannerSystemPrompt, map[string]string{"language": lang})
	if err != nil {
		return domain.ArtifactRef{}, err
	}
	cfg := "{}"
	if len(in.Config) > 0 {
		cfg = string(in.Config)
	}
	user, err := fill(defaultPlannerUserPrompt, map[string]string{"config": cfg, "transcript": in.Transcript})
	if err != nil {
		return domain.ArtifactRef{}, err
	}

	p.logger().Info("planning", "run_id", rc.RunID, "language", lang, "model", p.Model.Model)
	text, err := p.Completer.Complete(ctx, Request{System: system, User: user, Schema: defaultPlannerSchema, Model: p.Model})
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("planner: %w", err)
	}

	outline, err := parseOutline(text)
	if err != nil {
		return domain.ArtifactRef{}, domain.NewAgentError(domain.KindJSONParsingFailed, domain.SeverityWarning,
			"planner returned an unusable outline", true, map[string]string{"run_id": rc.RunID}, err)
	}
	outline.Language = lang
	if outline.Date == "" {
		outline.Date = p.now().Format("2006-01-02")
	}

	data, err := json.MarshalIndent(outline, "", "  ")
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("marshal outline: %w", err)
	}
	if err := p.Store.Write(ctx, rc.RunID, domain.ArtifactOutline, data); err != nil {
		return domain.ArtifactRef{}, domain.NewAgentError(domain.KindArtifactProcessingFailed, domain.SeverityError,
			"could not store outline", false, map[string]string{"run_id": rc.RunID}, err)
	}

	p.logger().Info("planned", "run_id", rc.RunID, "title", outline.Title, "sections", len(outline.Sections))
	return domain.ArtifactRef{RunID: rc.RunID, Name: domain.ArtifactOutline, Size: int64(len(data))}, nil
}

// parseOutline decodes and checks a model answer.
func parseOutline(text string) (domain.Outline, error) {
	var outline domain.Outline
	if err := json.Unmarshal([]byte(stripFences(text)), &outline); err != nil {
		return outline, fmt.Errorf("parse outline json: %w", err)
	}
	if strings.TrimSpace(outline.Title) == "" {
		return outline, fmt.Errorf("outline has no title")
	}
	if len(outline.Sections) == 0 {
		return outline, fmt.Errorf("outline has no sections")
	}
	for i, s := range outline.Sections {
		if strings.TrimSpace(s.Title) == "" {
			return outline, fmt.Errorf("outline section %d has no title", i)
		}
	}
	return outline, nil
}

func (p *LLMPlanner) detect(text string) string {
	fallback := p.DefaultLanguage
	if fallback == "" {
		fallback = "ja"
	}
	if p.Detector == nil {
		return fallback
	}
	lang, ok := p.Detector.DetectLanguageOf(text)
	if !ok {
		return fallback
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}

func (p *LLMPlanner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *LLMPlanner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
