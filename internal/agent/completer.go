// Package agent implements the model-backed planner and generator used by
// the workflow.
package agent

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"

	"github.com/classletter/newsletter-engine/internal/config"
	"github.com/classletter/newsletter-engine/internal/domain"
)

//go:embed prompts/planner-system-prompt.md
var defaultPlannerSystemPrompt string

//go:embed prompts/planner-user-prompt.md
var defaultPlannerUserPrompt string

//go:embed prompts/planner-output-schema.json
var defaultPlannerSchema string

//go:embed prompts/generator-system-prompt.md
var defaultGeneratorSystemPrompt string

//go:embed prompts/generator-user-prompt.md
var defaultGeneratorUserPrompt string

// Request is one prompt sent to a model.
type Request struct {
	System string
	User   string
	// Schema, when set, asks for structured JSON output.
	Schema string
	Model  config.ModelConfig
}

// Completer returns the text of a model's answer.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// AnthropicCompleter calls the Anthropic Messages API through llmkit.
type AnthropicCompleter struct {
	APIKey string
}

// NewAnthropicCompleter returns a completer for apiKey.
func NewAnthropicCompleter(apiKey string) (*AnthropicCompleter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, domain.NewEngineError(domain.ErrConfigInvalid.Code, "anthropic api key is empty")
	}
	return &AnthropicCompleter{APIKey: apiKey}, nil
}

// Complete sends req and returns the first content block. llmkit calls are
// not cancellable, so a done ctx abandons the call and returns ctx.Err().
func (c *AnthropicCompleter) Complete(ctx context.Context, req Request) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		settings := types.RequestSettings{
			Model:       req.Model.Model,
			MaxTokens:   req.Model.MaxTokens,
			Temperature: req.Model.Temperature,
		}
		resp, err := anthropic.PromptWithSettings(req.System, req.User, req.Schema, c.APIKey, settings)
		if err != nil {
			done <- result{err: fmt.Errorf("anthropic request: %w", err)}
			return
		}
		if len(resp.Content) == 0 {
			done <- result{}
			return
		}
		done <- result{text: resp.Content[0].Text}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}

// fill replaces {{.key}} placeholders, failing if any is absent from tmpl.
func fill(tmpl string, vars map[string]string) (string, error) {
	for key, val := range vars {
		ph := "{{." + key + "}}"
		if !strings.Contains(tmpl, ph) {
			return "", fmt.Errorf("prompt template must contain %s", ph)
		}
		tmpl = strings.ReplaceAll(tmpl, ph, val)
	}
	return tmpl, nil
}

var fenceRE = regexp.MustCompile("(?s)^\\s*```[a-zA-Z]*\\s*\\n(.*?)\\n?```\\s*$")

// stripFences removes a Markdown code fence wrapping the whole answer.
func stripFences(s string) string {
	if m := fenceRE.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return strings.TrimSpace(s)
}
