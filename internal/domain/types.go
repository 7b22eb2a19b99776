// Package domain defines the core types for the newsletter generation engine.
package domain

import "encoding/json"

// Phase represents a step of a generation run.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseGeneration Phase = "generation"
	PhaseValidation Phase = "validation"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
)

// IsTerminal reports whether no further transition can leave p.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// Artifact names shared by the workflow and its collaborators.
const (
	ArtifactOutline  = "outline.json"
	ArtifactHTML     = "newsletter.html"
	ArtifactMarkdown = "newsletter.md"
)

// WorkflowRun holds the persisted state of one newsletter generation.
type WorkflowRun struct {
	ID            string          `json:"id"`
	Phase         Phase           `json:"phase"`
	StateVersion  int64           `json:"state_version"`
	Degraded      bool            `json:"degraded"`
	Transcript    string          `json:"transcript,omitempty"`
	Config        json.RawMessage `json:"config,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Outline       json.RawMessage `json:"outline,omitempty"`
	HTML          string          `json:"html,omitempty"`
	Report        *QualityReport  `json:"report,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	LastEventSeq  int64           `json:"last_event_seq"`
	Events        []RunEvent      `json:"events,omitempty"`
	CreatedAtUnix int64           `json:"created_at"`
	UpdatedAtUnix int64           `json:"updated_at"`
}

// RunContext identifies the run, user and session a collaborator call
// belongs to.
type RunContext struct {
	RunID     string `json:"run_id"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// EventType classifies entries of a run's event log.
type EventType string

const (
	EventRunStarted      EventType = "run_started"
	EventPhaseStart      EventType = "phase_start"
	EventPhaseComplete   EventType = "phase_complete"
	EventPhaseSkip       EventType = "phase_skip"
	EventPhaseFailed     EventType = "phase_failed"
	EventRecoveryAttempt EventType = "recovery_attempt"
)

// RunEvent is one entry in a run's append-only event log.
type RunEvent struct {
	ID        int64     `json:"id,omitempty"`
	RunID     string    `json:"run_id"`
	SeqNo     int64     `json:"seq_no"`
	Phase     Phase     `json:"phase"`
	Type      EventType `json:"type"`
	Message   string    `json:"message,omitempty"`
	CreatedAt int64     `json:"created_at"`
}

// ArtifactRef points to an artifact produced by a collaborator.
type ArtifactRef struct {
	RunID string `json:"run_id"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
}

// Outline is the structure plan written before HTML rendering.
type Outline struct {
	Title    string           `json:"title"`
	Date     string           `json:"date,omitempty"`
	Language string           `json:"language,omitempty"`
	Sections []OutlineSection `json:"sections"`
}

// OutlineSection is one titled block of the newsletter.
type OutlineSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// IssueKind classifies a sanitizer mutation.
type IssueKind string

const (
	IssueParseError         IssueKind = "PARSE_ERROR"
	IssueForbiddenTag       IssueKind = "FORBIDDEN_TAG_REMOVED"
	IssueDisallowedTag      IssueKind = "DISALLOWED_TAG_REMOVED"
	IssueForbiddenAttribute IssueKind = "FORBIDDEN_ATTRIBUTE_REMOVED"
)

// SanitizeIssue records one mutation performed by the sanitizer.
type SanitizeIssue struct {
	Kind        IssueKind `json:"kind"`
	Target      string    `json:"target,omitempty"`
	Description string    `json:"description"`
}

// SanitizeResult is the cleaned fragment plus every mutation applied to it.
type SanitizeResult struct {
	CleanedHTML string          `json:"cleaned_html"`
	Issues      []SanitizeIssue `json:"issues"`
}

// Category names a quality scoring dimension.
type Category string

const (
	CategoryStructure     Category = "structure"
	CategoryAccessibility Category = "accessibility"
	CategoryPerformance   Category = "performance"
	CategorySEO           Category = "seo"
	CategoryPrinting      Category = "printing"
)

// AllCategories lists the scoring dimensions in report order.
var AllCategories = []Category{
	CategoryStructure,
	CategoryAccessibility,
	CategoryPerformance,
	CategorySEO,
	CategoryPrinting,
}

// StructureResult reports document skeleton checks.
type StructureResult struct {
	Score    int      `json:"score"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// AccessibilityResult reports accessibility checks.
type AccessibilityResult struct {
	Score  int      `json:"score"`
	Issues []string `json:"issues"`
	Images int      `json:"images"`
	Links  int      `json:"links"`
	Tables int      `json:"tables"`
}

// PerformanceResult reports size and markup-weight checks.
type PerformanceResult struct {
	Score            int      `json:"score"`
	Issues           []string `json:"issues"`
	SizeBytes        int      `json:"size_bytes"`
	StyleChars       int      `json:"style_chars"`
	InlineStyleCount int      `json:"inline_style_count"`
	MaxDepth         int      `json:"max_depth"`
}

// SEOResult reports title, description and heading checks.
type SEOResult struct {
	Score             int      `json:"score"`
	Issues            []string `json:"issues"`
	TitleLength       int      `json:"title_length"`
	DescriptionLength int      `json:"description_length"`
	H1Count           int      `json:"h1_count"`
}

// PrintingResult reports print-readiness checks.
type PrintingResult struct {
	Score            int      `json:"score"`
	Issues           []string `json:"issues"`
	HasPrintStyles   bool     `json:"has_print_styles"`
	MediaElements    int      `json:"media_elements"`
	InlineColorCount int      `json:"inline_color_count"`
}

// QualityReport is the composite result of scoring one HTML document.
type QualityReport struct {
	OverallScore    int                 `json:"overall_score"`
	Structure       StructureResult     `json:"structure"`
	Accessibility   AccessibilityResult `json:"accessibility"`
	Performance     PerformanceResult   `json:"performance"`
	SEO             SEOResult           `json:"seo"`
	Printing        PrintingResult      `json:"printing"`
	Recommendations []string            `json:"recommendations"`
	PriorityActions []string            `json:"priority_actions"`
}

// CategoryScore returns the score of the named category.
func (r QualityReport) CategoryScore(c Category) int {
	switch c {
	case CategoryStructure:
		return r.Structure.Score
	case CategoryAccessibility:
		return r.Accessibility.Score
	case CategoryPerformance:
		return r.Performance.Score
	case CategorySEO:
		return r.SEO.Score
	case CategoryPrinting:
		return r.Printing.Score
	}
	return 0
}

// NotificationType classifies user-facing notifications. Phase transitions
// are forwarded with their EventType as the notification type.
type NotificationType string

const (
	NotifyError             NotificationType = "error"
	NotifyRecoverySucceeded NotificationType = "recovery_succeeded"
	NotifyRecoveryFailed    NotificationType = "recovery_failed"
)

// Notification is a user-facing message emitted during a run.
type Notification struct {
	Type        NotificationType `json:"type"`
	RunID       string           `json:"run_id,omitempty"`
	Message     string           `json:"message"`
	Severity    Severity         `json:"severity"`
	Suggestions []string         `json:"suggestions,omitempty"`
	Timestamp   int64            `json:"timestamp"`
}

// StoredReport is a quality report persisted for a run.
type StoredReport struct {
	ID           int64
	RunID        string
	OverallScore int
	Report       QualityReport
	CreatedAt    int64
}
