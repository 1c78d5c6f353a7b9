package resilientop

import "fmt"

// Kind classifies a resilientop.Error along the error taxonomy in
// spec.md §7. Callers should branch on Kind, never on Error.Error()'s
// string form.
type Kind string

const (
	KindInputTooLarge        Kind = "input_too_large"
	KindAuthMissing          Kind = "auth_missing"
	KindInvalidProvider      Kind = "invalid_provider"
	KindCancelled            Kind = "cancelled"
	KindTimeout              Kind = "timeout"
	KindCircuitOpen          Kind = "circuit_open"
	KindRateLimited          Kind = "rate_limited"
	KindOverloaded           Kind = "overloaded"
	KindTransient            Kind = "transient"
	KindHard                 Kind = "hard"
	KindConcurrencyExceeded  Kind = "concurrency_exceeded"
	KindNoAlternativeProvider Kind = "no_alternative_provider"
)

// Error is the taxonomy-carrying error type returned by the Resilient
// Operation engine and the LLM Facade.
type Error struct {
	Kind       Kind
	Message    string
	Provider   string
	StatusCode int
	RetryAfter int64 // milliseconds, when derived from a Retry-After header
	Cause      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("resilient-llm: %s: %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("resilient-llm: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("resilient-llm: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, &Error{Kind: KindX}) to match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}
