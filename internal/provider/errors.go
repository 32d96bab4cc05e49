package provider

import "fmt"

// ErrorKind distinguishes the provider-level failures a CreateCompletion
// call can surface, per spec.md §7.
type ErrorKind string

const (
	ErrAuth                   ErrorKind = "auth"
	ErrRateLimited            ErrorKind = "rate_limited"
	ErrInvalidRequest         ErrorKind = "invalid_request"
	ErrContextLengthExceeded  ErrorKind = "context_length_exceeded"
	ErrAPI                    ErrorKind = "api"
	ErrNetwork                ErrorKind = "network"
)

// Error is the typed provider-level error every Provider implementation
// should map transport and API failures into before returning, so callers
// (internal/session's runner) can branch on Kind instead of string-matching
// messages.
type Error struct {
	Kind ErrorKind
	// RetryAfterSeconds is set for ErrRateLimited when the provider
	// advertised a retry-after hint.
	RetryAfterSeconds int
	// Length and MaxLength are set for ErrContextLengthExceeded.
	Length    int
	MaxLength int
	// StatusCode is set for ErrAPI.
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrRateLimited:
		if e.RetryAfterSeconds > 0 {
			return fmt.Sprintf("rate limited, retry after %ds: %s", e.RetryAfterSeconds, e.Message)
		}
		return fmt.Sprintf("rate limited: %s", e.Message)
	case ErrContextLengthExceeded:
		return fmt.Sprintf("context length exceeded: %d tokens exceeds max %d", e.Length, e.MaxLength)
	case ErrAPI:
		return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewAuthError wraps an authentication failure (bad/missing API key).
func NewAuthError(message string, cause error) *Error {
	return &Error{Kind: ErrAuth, Message: message, Cause: cause}
}

// NewRateLimitedError wraps a rate-limit response, optionally carrying the
// provider's retry-after hint in seconds (0 if none was given).
func NewRateLimitedError(message string, retryAfterSeconds int, cause error) *Error {
	return &Error{Kind: ErrRateLimited, Message: message, RetryAfterSeconds: retryAfterSeconds, Cause: cause}
}

// NewInvalidRequestError wraps a 4xx-style request validation failure.
func NewInvalidRequestError(message string, cause error) *Error {
	return &Error{Kind: ErrInvalidRequest, Message: message, Cause: cause}
}

// NewContextLengthExceededError wraps a context-window overflow.
func NewContextLengthExceededError(length, maxLength int) *Error {
	return &Error{Kind: ErrContextLengthExceeded, Length: length, MaxLength: maxLength}
}

// NewAPIError wraps a generic non-2xx API response.
func NewAPIError(statusCode int, message string, cause error) *Error {
	return &Error{Kind: ErrAPI, StatusCode: statusCode, Message: message, Cause: cause}
}

// NewNetworkError wraps a transport-level failure (DNS, TLS, connection
// reset, timeout).
func NewNetworkError(message string, cause error) *Error {
	return &Error{Kind: ErrNetwork, Message: message, Cause: cause}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	pe, ok := err.(*Error)
	return ok && pe.Kind == kind
}
