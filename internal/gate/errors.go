package gate

import (
	"fmt"
	"net/http"
)

// Error codes surfaced by the synchronous gate checks. These are stable
// machine-readable identifiers; messages are free to change.
const (
	CodeKeyInvalid        = "KEY_INVALID"
	CodeProjectSuspended  = "PROJECT_SUSPENDED"
	CodeProjectArchived   = "PROJECT_ARCHIVED"
	CodeProjectDeleted    = "PROJECT_DELETED"
	CodeNotFound          = "NOT_FOUND"
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeInternalError     = "INTERNAL_ERROR"
)

// Error is a caller-visible gate denial. Details carries enough context
// for the caller to self-correct, such as the token tier an operation
// requires.
type Error struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus maps the error code to its response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeKeyInvalid:
		return http.StatusUnauthorized
	case CodeProjectSuspended, CodeProjectArchived, CodeProjectDeleted, CodePermissionDenied:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func keyInvalid() *Error {
	// One message for missing, revoked, expired, and malformed keys so
	// the response does not reveal which credential attribute failed.
	return &Error{Code: CodeKeyInvalid, Message: "Invalid API key"}
}

func internalError(msg string) *Error {
	return &Error{Code: CodeInternalError, Message: msg}
}
