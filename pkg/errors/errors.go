package errors

import "fmt"

// ErrorType represents the different failure classes in the pipeline
type ErrorType string

const (
	ErrorTypeEnumeration        ErrorType = "enumeration"
	ErrorTypeClassification     ErrorType = "classification"
	ErrorTypeMetadata           ErrorType = "metadata"
	ErrorTypeStorage            ErrorType = "storage"
	ErrorTypeCorruptState       ErrorType = "corrupt_state"
	ErrorTypeIncompatibleResume ErrorType = "incompatible_resume"
	ErrorTypeRunAlreadyActive   ErrorType = "run_already_active"
	ErrorTypeRunNotActive       ErrorType = "run_not_active"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeAuth               ErrorType = "auth"
	ErrorTypeNetwork            ErrorType = "network"
	ErrorTypeRateLimit          ErrorType = "rate_limit"
	ErrorTypeServerError        ErrorType = "server_error"
	ErrorTypeUnknown            ErrorType = "unknown"
)

// Error carries the failure class alongside the message so callers can
// dispatch on Type without string matching.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a typed error without an underlying cause.
func New(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg}
}

// Newf creates a typed error with a formatted message.
func Newf(t ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a failure class to an underlying error.
func Wrap(t ErrorType, msg string, cause error) *Error {
	return &Error{Type: t, Message: msg, Cause: cause}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	case ErrorTypeAuth, ErrorTypeNotFound, ErrorTypeCorruptState,
		ErrorTypeIncompatibleResume, ErrorTypeRunAlreadyActive:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code from the inference
// backend indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 400, 401, 403, 404, 422: // Client errors that won't change
		return false
	default:
		return statusCode >= 500 // Retry all 5xx errors
	}
}
