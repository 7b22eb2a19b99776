package domain

import "fmt"

// EngineError is the unified error type for engine-level failures.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Is reports whether target carries the same code, so wrapped or re-messaged
// copies of a sentinel still match with errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Workflow errors (-32010 to -32039) ----

var (
	ErrInvalidTransition = &EngineError{Code: -32010, Message: "invalid phase transition"}
	ErrRunNotFound       = &EngineError{Code: -32012, Message: "workflow run not found"}
	ErrRunAlreadyDone    = &EngineError{Code: -32013, Message: "workflow run already completed"}
	ErrRunFailed         = &EngineError{Code: -32014, Message: "workflow run is in failed state"}
	ErrOptimisticLock    = &EngineError{Code: -32015, Message: "optimistic lock conflict: run was modified concurrently"}
	ErrInvalidPhase      = &EngineError{Code: -32016, Message: "invalid phase value"}
	ErrMissingArtifact   = &EngineError{Code: -32017, Message: "required artifact is missing"}
	ErrArtifactNotFound  = &EngineError{Code: -32018, Message: "artifact not found"}
	ErrInvalidArtifact   = &EngineError{Code: -32021, Message: "invalid artifact address"}
	ErrDuplicateRun      = &EngineError{Code: -32019, Message: "run already exists"}
	ErrEmptyTranscript   = &EngineError{Code: -32020, Message: "transcript must not be empty"}
)

// ---- Collaborator errors (-32070 to -32099) ----

var (
	ErrCollaboratorMissing = &EngineError{Code: -32070, Message: "workflow collaborator not configured"}
	ErrEmptyCompletion     = &EngineError{Code: -32072, Message: "model returned an empty completion"}
)

// ---- Store / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit       = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery      = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite      = &EngineError{Code: -32132, Message: "store write failed"}
	ErrSchemaMigration = &EngineError{Code: -32133, Message: "schema migration failed"}
	ErrConfigInvalid   = &EngineError{Code: -32136, Message: "invalid configuration"}
	ErrDuplicateEvent  = &EngineError{Code: -32137, Message: "duplicate event sequence number"}
	ErrReportNotFound  = &EngineError{Code: -32138, Message: "quality report not found"}
)
