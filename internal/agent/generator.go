package agent

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/classletter/newsletter-engine/internal/artifact"
	"github.com/classletter/newsletter-engine/internal/config"
	"github.com/classletter/newsletter-engine/internal/domain"
	"github.com/classletter/newsletter-engine/internal/sanitize"
	"github.com/classletter/newsletter-engine/internal/workflow"
)

//go:embed prompts/newsletter.html.tmpl
var documentTemplate string

var documentTmpl = template.Must(template.New("newsletter").Parse(documentTemplate))

// descriptionRunes caps the meta description length.
const descriptionRunes = 150

type documentData struct {
	Title       string
	Date        string
	Language    string
	Description string
	Body        template.HTML
}

// LLMGenerator renders newsletter.html and newsletter.md from an outline.
type LLMGenerator struct {
	Completer Completer
	Store     artifact.Store
	Model     config.ModelConfig
	Policy    sanitize.Policy
	Converter *md.Converter
	Logger    *slog.Logger
}

var _ workflow.Generator = (*LLMGenerator)(nil)

// NewLLMGenerator returns a generator using the default sanitizer policy.
func NewLLMGenerator(c Completer, store artifact.Store, model config.ModelConfig) *LLMGenerator {
	return &LLMGenerator{
		Completer: c,
		Store:     store,
		Model:     model,
		Policy:    sanitize.DefaultPolicy(),
		Converter: md.NewConverter("", true, nil),
	}
}

// Generate asks the model for the body, sanitizes it, wraps it in the
// print-ready document and writes both artifacts.
func (g *LLMGenerator) Generate(ctx context.Context, rc domain.RunContext, outline []byte) (domain.ArtifactRef, error) {
	var o domain.Outline
	if err := json.Unmarshal(outline, &o); err != nil {
		return domain.ArtifactRef{}, domain.NewAgentError(domain.KindJSONParsingFailed, domain.SeverityWarning,
			"stored outline is not valid JSON", true, map[string]string{"run_id": rc.RunID}, err)
	}
	lang := o.Language
	if lang == "" {
		lang = "ja"
	}

	system, err := fill(defaultGeneratorSystemPrompt, map[string]string{"language": lang})
	if err != nil {
		return domain.ArtifactRef{}, err
	}
	user, err := fill(defaultGeneratorUserPrompt, map[string]string{"outline": string(outline)})
	if err != nil {
		return domain.ArtifactRef{}, err
	}

	text, err := g.Completer.Complete(ctx, Request{System: system, User: user, Model: g.Model})
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("generator: %w", err)
	}
	body := stripFences(text)
	if body == "" {
		return domain.ArtifactRef{}, domain.NewAgentError(domain.KindLLMGenerationFailed, domain.SeverityError,
			"model returned no HTML", true, map[string]string{"run_id": rc.RunID}, domain.ErrEmptyCompletion)
	}

	res := sanitize.Sanitize(body, g.Policy)
	if len(res.Issues) > 0 {
		g.logger().Info("sanitized generator output", "run_id", rc.RunID, "issues", len(res.Issues))
	}

	var doc bytes.Buffer
	err = documentTmpl.Execute(&doc, documentData{
		Title:       o.Title,
		Date:        o.Date,
		Language:    lang,
		Description: describe(o),
		Body:        template.HTML(res.CleanedHTML),
	})
	if err != nil {
		return domain.ArtifactRef{}, domain.NewAgentError(domain.KindHTMLValidationFailed, domain.SeverityError,
			"could not render newsletter document", true, map[string]string{"run_id": rc.RunID}, err)
	}

	if err := g.Store.Write(ctx, rc.RunID, domain.ArtifactHTML, doc.Bytes()); err != nil {
		return domain.ArtifactRef{}, domain.NewAgentError(domain.KindArtifactProcessingFailed, domain.SeverityError,
			"could not store newsletter html", false, map[string]string{"run_id": rc.RunID}, err)
	}

	// The Markdown copy is a convenience; its failure does not fail the run.
	if g.Converter != nil {
		if err := g.writeMarkdown(ctx, rc.RunID, o.Title, res.CleanedHTML); err != nil {
			g.logger().Warn("markdown preview failed", "run_id", rc.RunID, "error", err)
		}
	}

	return domain.ArtifactRef{RunID: rc.RunID, Name: domain.ArtifactHTML, Size: int64(doc.Len())}, nil
}

func (g *LLMGenerator) writeMarkdown(ctx context.Context, runID, title, body string) error {
	text, err := g.Converter.ConvertString(body)
	if err != nil {
		return fmt.Errorf("convert to markdown: %w", err)
	}
	out := "# " + title + "\n\n" + strings.TrimSpace(text) + "\n"
	return g.Store.Write(ctx, runID, domain.ArtifactMarkdown, []byte(out))
}

// describe builds the meta description from the first sections' content.
func describe(o domain.Outline) string {
	var parts []string
	for _, s := range o.Sections {
		if c := strings.TrimSpace(s.Content); c != "" {
			parts = append(parts, c)
		}
	}
	d := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	if utf8.RuneCountInString(d) <= descriptionRunes {
		return d
	}
	return string([]rune(d)[:descriptionRunes])
}

func (g *LLMGenerator) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}
