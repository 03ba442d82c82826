package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an engine error for retry and propagation decisions.
type Kind string

const (
	// KindAuthExpired means the platform rejected the session credentials.
	// Fatal for the run, never retried.
	KindAuthExpired Kind = "auth_expired"
	// KindRateLimited means the platform asked us to slow down. Retried
	// after the server-supplied wait when present.
	KindRateLimited Kind = "rate_limited"
	// KindTransient covers network hiccups and 5xx responses. Retried with
	// bounded backoff.
	KindTransient Kind = "transient"
	// KindPermanent covers content that is gone or forbidden. Recorded as
	// failed, never retried.
	KindPermanent Kind = "permanent"
	// KindRulesUnavailable means no signing rule source could be reached.
	// Independent of credential validity, so treated as transient.
	KindRulesUnavailable Kind = "rules_unavailable"
	// KindIncompleteStream means a segmented download could not be fully
	// assembled. Permanent for this run; the whole item is retried from
	// scratch on a future run.
	KindIncompleteStream Kind = "incomplete_stream"
)

// Error is the typed error used across the acquisition engine.
type Error struct {
	Kind       Kind
	Message    string
	Code       int           // HTTP status when applicable, 0 otherwise
	RetryAfter time.Duration // server wait hint for rate-limited errors
	Err        error         // wrapped cause
}

func (e *Error) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AuthExpired builds a fatal credential error.
func AuthExpired(message string, code int) *Error {
	return &Error{Kind: KindAuthExpired, Message: message, Code: code}
}

// RateLimited builds a rate-limit error carrying the server wait hint.
// A zero retryAfter means the platform supplied no hint.
func RateLimited(code int, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    "rate limit exceeded",
		Code:       code,
		RetryAfter: retryAfter,
	}
}

// Transient builds a retryable error from a network failure or 5xx status.
func Transient(message string, code int, cause error) *Error {
	return &Error{Kind: KindTransient, Message: message, Code: code, Err: cause}
}

// Permanent builds a terminal error (content gone, forbidden).
func Permanent(message string, code int) *Error {
	return &Error{Kind: KindPermanent, Message: message, Code: code}
}

// RulesUnavailable builds the error raised when every signing rule source
// is unreachable.
func RulesUnavailable(cause error) *Error {
	return &Error{
		Kind:    KindRulesUnavailable,
		Message: "no signing rule source reachable",
		Err:     cause,
	}
}

// IncompleteStream builds the error raised when a stream assembly is
// discarded because a segment exhausted its retry budget.
func IncompleteStream(message string, cause error) *Error {
	return &Error{Kind: KindIncompleteStream, Message: message, Err: cause}
}

// KindOf extracts the Kind from an error chain. Unclassified errors are
// treated as transient so unknown failures stay retryable, matching how
// network-layer errors surface without a status code.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// RetryAfterHint returns the server wait hint from an error chain, or zero.
func RetryAfterHint(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// IsRetryable reports whether an error of the given kind may be retried.
func IsRetryable(k Kind) bool {
	switch k {
	case KindRateLimited, KindTransient, KindRulesUnavailable:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the error must abort the whole run.
func IsFatal(err error) bool {
	return KindOf(err) == KindAuthExpired
}

// FromStatusCode maps an HTTP status to the engine taxonomy. Callers handle
// 429 separately so the Retry-After header can be attached.
func FromStatusCode(code int, message string) *Error {
	switch {
	case code == 401:
		return AuthExpired(message, code)
	case code == 403 || code == 404 || code == 410:
		return Permanent(message, code)
	case code == 429:
		return RateLimited(code, 0)
	case code >= 500:
		return Transient(message, code, nil)
	default:
		return Permanent(message, code)
	}
}
