package errors

import "fmt"

/*
EngineError represents a typed failure raised by the pipeline engine.
The code ranges are split per subsystem so a caller can route on them
without string matching.
*/
type EngineError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

/*
Error implements the error interface for EngineError.
*/
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Is matches on the code, so copies carrying a custom message or data
// still compare equal to their sentinel under errors.Is.
func (e *EngineError) Is(target error) bool {
	other, ok := target.(*EngineError)
	return ok && other.Code == e.Code
}

// Configuration errors (-31000 .. -31099) are rejected before any side
// effect occurs and are never retried.
var (
	ErrPipelineInvalid = &EngineError{Code: -31000, Message: "Pipeline definition is invalid"}
	ErrGraphCycle      = &EngineError{Code: -31001, Message: "Pipeline graph contains a cycle"}
	ErrDanglingEdge    = &EngineError{Code: -31002, Message: "Edge references an unknown node"}
	ErrStepConfig      = &EngineError{Code: -31003, Message: "Step configuration is incomplete"}

	// Run-level errors (-31100 .. -31199)
	ErrRunCancelled  = &EngineError{Code: -31100, Message: "Run was cancelled"}
	ErrRewriteFailed = &EngineError{Code: -31101, Message: "Query rewrite failed"}
	ErrRunFailed     = &EngineError{Code: -31102, Message: "Run failed"}

	// Orchestrator errors (-31200 .. -31299)
	ErrAttemptsExhausted = &EngineError{Code: -31200, Message: "All provider attempts failed"}
	ErrUnknownProvider   = &EngineError{Code: -31201, Message: "Provider is not configured"}

	// Memory errors (-31300 .. -31399)
	ErrMemoryNotFound = &EngineError{Code: -31300, Message: "Memory entry not found"}
	ErrMemoryInvalid  = &EngineError{Code: -31301, Message: "Memory entry failed validation"}
)

// WithMessagef creates a *copy* of an EngineError with a formatted message.
// It does not modify the original error variable.
func (e *EngineError) WithMessagef(format string, args ...any) *EngineError {
	newErr := *e
	newErr.Message = fmt.Sprintf(format, args...)
	return &newErr
}

// WithData creates a copy carrying structured detail for the caller.
func (e *EngineError) WithData(data any) *EngineError {
	newErr := *e
	newErr.Data = data
	return &newErr
}
