package authflow

import "fmt"

// Kind identifies the exact failure inside the callback flow. Kinds are for
// internal diagnostics; the message exposed upstream comes from Public so
// verification failures never reveal which specific check failed.
type Kind int

const (
	// Client-input failures (400-class, no retry).
	KindMalformedState Kind = iota
	KindStateNotFound
	KindStateMismatch
	KindStateExpired

	// Provider-integration failures.
	KindTokenExchange
	KindUserFetch
	KindKeySetUnavailable

	// Verification failures, all surfaced as one generic message.
	KindIdentityInvalid
	KindUserIDMismatch

	// Integrity failures, fatal and unexpected.
	KindTokensNotFound

	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindMalformedState:
		return "malformed state"
	case KindStateNotFound:
		return "state not found"
	case KindStateMismatch:
		return "state mismatch"
	case KindStateExpired:
		return "state expired"
	case KindTokenExchange:
		return "token exchange failed"
	case KindUserFetch:
		return "user resource fetch failed"
	case KindKeySetUnavailable:
		return "key set unavailable"
	case KindIdentityInvalid:
		return "identity invalid"
	case KindUserIDMismatch:
		return "user id mismatch"
	case KindTokensNotFound:
		return "stored tokens not found"
	case KindInternal:
		return "internal error"
	default:
		return "unknown"
	}
}

// Category groups kinds for upstream response mapping.
type Category int

const (
	CategoryClientInput Category = iota
	CategoryProvider
	CategoryVerification
	CategoryIntegrity
)

// FlowError is the per-operation error union for the authorization flow.
type FlowError struct {
	Kind Kind
	Err  error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authorization flow failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("authorization flow failed (%s)", e.Kind)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Category returns the response class for this failure.
func (e *FlowError) Category() Category {
	switch e.Kind {
	case KindMalformedState, KindStateNotFound, KindStateMismatch, KindStateExpired:
		return CategoryClientInput
	case KindTokenExchange, KindUserFetch, KindKeySetUnavailable:
		return CategoryProvider
	case KindIdentityInvalid, KindUserIDMismatch:
		return CategoryVerification
	default:
		return CategoryIntegrity
	}
}

// Public returns the message safe to show the caller. Verification failures
// collapse to one generic message to avoid acting as a verification oracle.
func (e *FlowError) Public() string {
	switch e.Category() {
	case CategoryClientInput:
		return "invalid or expired login attempt"
	case CategoryProvider:
		return "login provider request failed"
	case CategoryVerification:
		return "invalid identity"
	default:
		return "internal error"
	}
}

func flowErr(kind Kind, err error) *FlowError {
	return &FlowError{Kind: kind, Err: err}
}
