package errors

import "fmt"

/*
FailureKind classifies a provider failure so the orchestrator can decide
whether moving on to the next attempt makes sense.
*/
type FailureKind string

const (
	KindInvalidRequest FailureKind = "invalid_request"
	KindAuth           FailureKind = "auth"
	KindRateLimit      FailureKind = "rate_limit"
	KindTransient      FailureKind = "transient"
	KindSafety         FailureKind = "safety"
)

/*
ProviderError wraps a vendor SDK error with the provider name and a
normalized failure kind.
*/
type ProviderError struct {
	Provider string
	Kind     FailureKind
	Err      error
}

func NewProviderError(provider string, kind FailureKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a subsequent attempt could plausibly succeed.
// A safety block is final: retrying will not change the verdict.
func (e *ProviderError) Retryable() bool {
	return e.Kind != KindSafety
}

// KindFromStatus maps an HTTP status code from a vendor API onto a
// failure kind. Unknown statuses are treated as transient.
func KindFromStatus(status int) FailureKind {
	switch {
	case status == 400 || status == 404 || status == 422:
		return KindInvalidRequest
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimit
	default:
		return KindTransient
	}
}
