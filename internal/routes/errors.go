package routes

import (
	"errors"
	"net/http"

	"lockd/internal/auth"
	"lockd/internal/crypto"
	"lockd/internal/lock"
	"lockd/internal/protocol"
)

// HTTPError represents an error with an associated HTTP status code and user message
type HTTPError struct {
	Err        error    // The underlying error
	StatusCode int      // HTTP status code
	Message    string   // User-friendly message
	StopCodes  []string // Optional stop codes for client-side handling
	Internal   bool     // Whether this is an internal error (hide details from user)
}

// ErrorInfo contains error metadata for user-facing errors
type ErrorInfo struct {
	Message   string   // User-friendly message
	StopCodes []string // Optional stop codes for client-side application
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// NewHTTPError creates a new HTTPError
func NewHTTPError(statusCode int, err error, message string, stopCodes ...string) *HTTPError {
	return &HTTPError{
		Err:        err,
		StatusCode: statusCode,
		Message:    message,
		StopCodes:  stopCodes,
		Internal:   statusCode >= 500,
	}
}

// Routes-specific errors (that don't conflict with other packages)
var (
	// Validation errors
	ErrInvalidRequest   = errors.New("invalid request")
	ErrMissingParameter = errors.New("missing required parameter")
	ErrInvalidParameter = errors.New("invalid parameter")

	// Internal errors
	ErrInternalServer     = errors.New("internal server error")
	ErrDatabaseError      = errors.New("database error")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// errorStatusMap maps errors to HTTP status codes
var errorStatusMap = map[error]int{
	// 400 Bad Request
	ErrInvalidRequest:         http.StatusBadRequest,
	ErrMissingParameter:       http.StatusBadRequest,
	ErrInvalidParameter:       http.StatusBadRequest,
	auth.ErrMalformedHeader:   http.StatusBadRequest,
	lock.ErrOwnerNotGrantable: http.StatusBadRequest,

	// 401 Unauthorized
	auth.ErrInvalidSignature:   http.StatusUnauthorized,
	auth.ErrExpired:            http.StatusUnauthorized,
	auth.ErrReplayed:           http.StatusUnauthorized,
	lock.ErrKeyNotFound:        http.StatusUnauthorized,
	lock.ErrSecretNotFound:     http.StatusUnauthorized,
	crypto.ErrDecryptionFailed: http.StatusUnauthorized,

	// 403 Forbidden
	protocol.ErrPermissionDenied:  http.StatusForbidden,
	protocol.ErrOwnerNotRemovable: http.StatusForbidden,

	// 404 Not Found
	protocol.ErrUnknownOrExpiredInvitation: http.StatusNotFound,

	// 409 Conflict
	protocol.ErrKeyAlreadyExists: http.StatusConflict,
	lock.ErrStaleSnapshot:        http.StatusConflict,

	// 500 Internal Server Error
	ErrInternalServer: http.StatusInternalServerError,
	ErrDatabaseError:  http.StatusInternalServerError,

	// 503 Service Unavailable
	ErrServiceUnavailable: http.StatusServiceUnavailable,
}

// errorInfoMap maps errors to user-friendly messages and optional stop codes
var errorInfoMap = map[error]ErrorInfo{
	// Authorization header failures
	auth.ErrMalformedHeader: {
		Message:   "Malformed authorization header",
		StopCodes: []string{"AUTH_MALFORMED"},
	},
	auth.ErrInvalidSignature: {
		Message:   "Invalid authorization signature",
		StopCodes: []string{"AUTH_INVALID_SIGNATURE"},
	},
	auth.ErrExpired: {
		Message:   "Authorization timestamp outside the freshness window",
		StopCodes: []string{"AUTH_EXPIRED"},
	},
	auth.ErrReplayed: {
		Message:   "Authorization header already used",
		StopCodes: []string{"AUTH_REPLAYED"},
	},
	lock.ErrKeyNotFound: {
		Message:   "Unknown key",
		StopCodes: []string{"KEY_UNKNOWN"},
	},
	lock.ErrSecretNotFound: {
		Message:   "Unknown key",
		StopCodes: []string{"KEY_UNKNOWN"},
	},
	crypto.ErrDecryptionFailed: {
		Message:   "Payload could not be decrypted",
		StopCodes: []string{"ENVELOPE_INVALID"},
	},

	// Permission failures
	protocol.ErrPermissionDenied: {
		Message:   "You don't have permission to perform this action",
		StopCodes: []string{"PERMISSION_DENIED"},
	},
	protocol.ErrOwnerNotRemovable: {
		Message:   "The owner key cannot be removed",
		StopCodes: []string{"OWNER_NOT_REMOVABLE"},
	},
	lock.ErrOwnerNotGrantable: {
		Message:   "Owner permission cannot be granted",
		StopCodes: []string{"OWNER_NOT_GRANTABLE"},
	},

	// Invitation lifecycle
	protocol.ErrUnknownOrExpiredInvitation: {
		Message:   "Invitation is unknown or has expired",
		StopCodes: []string{"INVITATION_UNKNOWN"},
	},
	protocol.ErrKeyAlreadyExists: {
		Message:   "A key with this identifier already exists",
		StopCodes: []string{"KEY_EXISTS"},
	},
	lock.ErrStaleSnapshot: {
		Message:   "State changed concurrently, retry",
		StopCodes: []string{"STALE_SNAPSHOT"},
	},

	// Validation
	ErrInvalidRequest: {
		Message:   "Invalid request format",
		StopCodes: []string{"INVALID_REQUEST"},
	},
	ErrMissingParameter: {
		Message:   "Required parameter is missing",
		StopCodes: []string{"MISSING_PARAMETER"},
	},
	ErrInvalidParameter: {
		Message:   "Invalid parameter value",
		StopCodes: []string{"INVALID_PARAMETER"},
	},

	// Internal (no stop codes for internal errors)
	ErrInternalServer: {
		Message: "An internal error occurred",
	},
	ErrDatabaseError: {
		Message: "Database operation failed",
	},
	ErrServiceUnavailable: {
		Message: "Service is temporarily unavailable",
	},
}

// GetErrorStatus returns the HTTP status code for an error
func GetErrorStatus(err error) int {
	// Check if it's already an HTTPError
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}

	// Check direct match
	if status, ok := errorStatusMap[err]; ok {
		return status
	}

	// Check if error wraps a known error
	for knownErr, status := range errorStatusMap {
		if errors.Is(err, knownErr) {
			return status
		}
	}

	// Default to 500 Internal Server Error
	return http.StatusInternalServerError
}

// GetErrorInfo returns error information including message and stop codes
func GetErrorInfo(err error) ErrorInfo {
	// Check if it's an HTTPError with custom info
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return ErrorInfo{
			Message:   httpErr.Message,
			StopCodes: httpErr.StopCodes,
		}
	}

	// Check direct match
	if info, ok := errorInfoMap[err]; ok {
		return info
	}

	// Check if error wraps a known error
	for knownErr, info := range errorInfoMap {
		if errors.Is(err, knownErr) {
			return info
		}
	}

	// For unknown errors, return a generic message for 5xx, specific for others
	status := GetErrorStatus(err)
	if status >= 500 {
		return ErrorInfo{Message: "An internal error occurred"}
	}
	return ErrorInfo{Message: err.Error()}
}

// GetErrorMessage returns a user-friendly message for an error
func GetErrorMessage(err error) string {
	return GetErrorInfo(err).Message
}

// GetErrorStopCodes returns stop codes for an error
func GetErrorStopCodes(err error) []string {
	return GetErrorInfo(err).StopCodes
}
