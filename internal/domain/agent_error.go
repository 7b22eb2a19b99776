package domain

import (
	"fmt"
	"time"
)

// ErrorKind is the closed set of failure classes a collaborator error maps to.
type ErrorKind string

const (
	KindTransferFailed           ErrorKind = "transfer_failed"
	KindArtifactProcessingFailed ErrorKind = "artifact_processing_failed"
	KindLLMGenerationFailed      ErrorKind = "llm_generation_failed"
	KindJSONParsingFailed        ErrorKind = "json_parsing_failed"
	KindHTMLValidationFailed     ErrorKind = "html_validation_failed"
	KindTimeout                  ErrorKind = "timeout"
	KindNetwork                  ErrorKind = "network"
	KindAuthentication           ErrorKind = "authentication"
	KindResourceExhausted        ErrorKind = "resource_exhausted"
	KindUnknown                  ErrorKind = "unknown"
)

// AllErrorKinds lists every kind in declaration order.
var AllErrorKinds = []ErrorKind{
	KindTransferFailed,
	KindArtifactProcessingFailed,
	KindLLMGenerationFailed,
	KindJSONParsingFailed,
	KindHTMLValidationFailed,
	KindTimeout,
	KindNetwork,
	KindAuthentication,
	KindResourceExhausted,
	KindUnknown,
}

// Severity is chosen by the raising site, independent of kind.
// SeverityCritical is reserved for errors that should page a human.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// AgentError is a classified collaborator failure. It is created at the
// point of failure and never mutated afterwards.
type AgentError struct {
	Kind        ErrorKind         `json:"kind"`
	Severity    Severity          `json:"severity"`
	Message     string            `json:"message"`
	Recoverable bool              `json:"recoverable"`
	Context     map[string]string `json:"context,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Cause       error             `json:"-"`
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Severity, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *AgentError) Unwrap() error {
	return e.Cause
}

// NewAgentError builds an AgentError stamped with the current time.
// ctx may be nil.
func NewAgentError(kind ErrorKind, sev Severity, msg string, recoverable bool, ctx map[string]string, cause error) *AgentError {
	return &AgentError{
		Kind:        kind,
		Severity:    sev,
		Message:     msg,
		Recoverable: recoverable,
		Context:     ctx,
		Timestamp:   time.Now().UTC(),
		Cause:       cause,
	}
}
