// Package recovery classifies collaborator failures and applies the single
// deterministic recovery action each error kind allows.
package recovery

import (
	"context"
	"errors"
	"strings"

	"github.com/classletter/newsletter-engine/internal/domain"
)

type keywordRule struct {
	keywords []string
	kind     domain.ErrorKind
}

// classificationRules are checked in order; the first match wins.
var classificationRules = []keywordRule{
	{[]string{"timeout"}, domain.KindTimeout},
	{[]string{"network", "connection"}, domain.KindNetwork},
	{[]string{"json", "parse"}, domain.KindJSONParsingFailed},
	{[]string{"auth", "permission"}, domain.KindAuthentication},
	{[]string{"transfer", "agent"}, domain.KindTransferFailed},
	{[]string{"html", "validation"}, domain.KindHTMLValidationFailed},
}

type kindDefaults struct {
	severity    domain.Severity
	recoverable bool
}

var defaultsByKind = map[domain.ErrorKind]kindDefaults{
	domain.KindTransferFailed:           {domain.SeverityError, true},
	domain.KindArtifactProcessingFailed: {domain.SeverityError, false},
	domain.KindLLMGenerationFailed:      {domain.SeverityError, true},
	domain.KindJSONParsingFailed:        {domain.SeverityError, true},
	domain.KindHTMLValidationFailed:     {domain.SeverityWarning, true},
	domain.KindTimeout:                  {domain.SeverityWarning, true},
	domain.KindNetwork:                  {domain.SeverityWarning, true},
	domain.KindAuthentication:           {domain.SeverityCritical, false},
	domain.KindResourceExhausted:        {domain.SeverityError, false},
	domain.KindUnknown:                  {domain.SeverityError, false},
}

// Classify maps err to an AgentError. An AgentError already in err's chain
// is returned unchanged. A context deadline is a Timeout. Anything else is
// matched by keyword against the lower-cased message.
func Classify(err error) *domain.AgentError {
	if err == nil {
		return nil
	}
	var ae *domain.AgentError
	if errors.As(err, &ae) {
		return ae
	}

	kind := domain.KindTimeout
	if !errors.Is(err, context.DeadlineExceeded) {
		kind = classifyMessage(err.Error())
	}
	return New(kind, err.Error(), nil, err)
}

func classifyMessage(msg string) domain.ErrorKind {
	lower := strings.ToLower(msg)
	for _, rule := range classificationRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.kind
			}
		}
	}
	return domain.KindUnknown
}

// New builds an AgentError with the default severity and recoverability of
// kind.
func New(kind domain.ErrorKind, msg string, ctx map[string]string, cause error) *domain.AgentError {
	d, ok := defaultsByKind[kind]
	if !ok {
		d = defaultsByKind[domain.KindUnknown]
	}
	return domain.NewAgentError(kind, d.severity, msg, d.recoverable, ctx, cause)
}
