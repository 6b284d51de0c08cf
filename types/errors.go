package types

// ErrorCode identifies a failure class for programmatic handling.
type ErrorCode string

// Common error codes
const (
	ErrCodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	ErrCodeUnsupportedToken     ErrorCode = "UNSUPPORTED_TOKEN"
	ErrCodeTransferFailed       ErrorCode = "TRANSFER_FAILED"
	ErrCodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
	ErrCodeInvalidPayment       ErrorCode = "INVALID_PAYMENT"
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeNotInitialized       ErrorCode = "NOT_INITIALIZED"
	ErrCodeAlreadyInitialized   ErrorCode = "ALREADY_INITIALIZED"
	ErrCodeStorage              ErrorCode = "STORAGE_ERROR"
)

// MsgNotOperator is the rejection message for callers missing the operator
// role. Integrations assert on this exact text.
const MsgNotOperator = "Access denied: Caller is not a protocol operator"

// Sentinel errors, one per code. Match with errors.Is.
var (
	ErrUnauthorized         = &PaycoreError{Code: ErrCodeUnauthorized, Message: MsgNotOperator}
	ErrUnsupportedToken     = &PaycoreError{Code: ErrCodeUnsupportedToken, Message: "token is not supported"}
	ErrTransferFailed       = &PaycoreError{Code: ErrCodeTransferFailed, Message: "transfer failed"}
	ErrInvalidConfiguration = &PaycoreError{Code: ErrCodeInvalidConfiguration, Message: "invalid configuration"}
	ErrInvalidPayment       = &PaycoreError{Code: ErrCodeInvalidPayment, Message: "invalid payment"}
	ErrNotFound             = &PaycoreError{Code: ErrCodeNotFound, Message: "not found"}
	ErrNotInitialized       = &PaycoreError{Code: ErrCodeNotInitialized, Message: "engine is not initialized"}
	ErrAlreadyInitialized   = &PaycoreError{Code: ErrCodeAlreadyInitialized, Message: "engine is already initialized"}
	ErrStorage              = &PaycoreError{Code: ErrCodeStorage, Message: "storage error"}
)

// PaycoreError provides structured error information.
type PaycoreError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

// NewError creates a PaycoreError with the given code and message.
func NewError(code ErrorCode, message string, err error) *PaycoreError {
	return &PaycoreError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func (e *PaycoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PaycoreError) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same code, so any PaycoreError
// matches the sentinel of its class.
func (e *PaycoreError) Is(target error) bool {
	t, ok := target.(*PaycoreError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails adds additional context to the error.
func (e *PaycoreError) WithDetails(key string, value any) *PaycoreError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of err, or "" if err is not a PaycoreError.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if pe, ok := err.(*PaycoreError); ok {
			return pe.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
