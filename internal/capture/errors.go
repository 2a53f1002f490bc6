package capture

import (
	"errors"
	"fmt"
)

const (
	CodeValidation     = "VALIDATION"
	CodeNotFound       = "NOT_FOUND"
	CodeCDPUnavailable = "CDP_UNAVAILABLE"
	CodeCaptureFailed  = "CAPTURE_FAILED"
	CodeTimeout        = "TIMEOUT"
	CodeStorage        = "STORAGE"
	CodeBusy           = "BUSY"
)

// ErrTimeout marks a wait that ran out of time. Callers treat it as a soft
// failure and may still extract whatever was buffered.
var ErrTimeout = errors.New("capture: timed out")

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a CodedError.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// ErrorCode returns the code of the first CodedError in err's chain, or "".
func ErrorCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
