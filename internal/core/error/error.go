package errx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// LLMErrorMessage describes a failed text-completion call.
	LLMErrorMessage = "llm call failed"
	// SandboxErrorMessage describes a failed sandbox execution.
	SandboxErrorMessage = "sandbox execution failed"
	// ComputeFailedMessage is the result text of a code-generation run that gave up.
	ComputeFailedMessage = "Fetching Data Failed"
)

var (
	// ErrUnavailable marks data that is confirmed unavailable ("NOT POSSIBLE" on the wire).
	ErrUnavailable = errors.New("not possible")
	// ErrMalformedOutput marks model output that failed JSON parsing or schema validation.
	ErrMalformedOutput = errors.New("malformed model output")
	// ErrComputeFailed marks a code-generation run that never produced output.
	ErrComputeFailed = errors.New("fetching data failed")
	// ErrNotFound marks a missing registry entry, function or stored session.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument marks caller input that can never succeed on retry.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDuplicateFunction marks a function identifier registered by two databases.
	ErrDuplicateFunction = errors.New("duplicate function identifier")
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}

// UnavailableError carries the reason a request cannot be served by the available data.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string {
	if e.Reason == "" {
		return ErrUnavailable.Error()
	}
	return fmt.Sprintf("%s: %s", ErrUnavailable, e.Reason)
}

// Is lets errors.Is(err, ErrUnavailable) match any UnavailableError.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// Unavailable returns an UnavailableError with the given reason.
func Unavailable(reason string) error {
	return &UnavailableError{Reason: reason}
}

// UnavailableReason extracts the reason from an UnavailableError chain.
func UnavailableReason(err error) (string, bool) {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue.Reason, true
	}
	return "", false
}

// Malformed wraps a parse or schema problem so it classifies as ErrMalformedOutput.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedOutput, fmt.Sprintf(format, args...))
}

// WrapLLM wraps a text-completion failure with a consistent status code and message.
func WrapLLM(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, LLMErrorMessage)
}

// WrapSandbox wraps a sandbox failure with a consistent status code and message.
func WrapSandbox(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusInternalServerError, SandboxErrorMessage)
}

// Retryable classifies an error for the retry combinator. Unavailability, invalid
// arguments and context cancellation are final; everything else is transient.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
