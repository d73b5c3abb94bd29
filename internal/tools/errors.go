package tools

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for tool execution.
var (
	// ErrToolNotFound indicates a requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution.
	ErrToolPanic = errors.New("tool panicked")
)

// ErrorType categorizes tool execution errors for retry policy.
type ErrorType string

const (
	ErrorNotFound     ErrorType = "not_found"
	ErrorInvalidInput ErrorType = "invalid_input"
	ErrorTimeout      ErrorType = "timeout"
	ErrorExecution    ErrorType = "execution"
	ErrorPanic        ErrorType = "panic"
)

// IsRetryable reports whether retrying this error class may succeed.
// Only timeouts are retried; invalid input and panics never are.
func (t ErrorType) IsRetryable() bool {
	return t == ErrorTimeout
}

// Error is a categorized tool execution error. It carries the tool name
// and call id so failures can be correlated with specific calls.
type Error struct {
	Type       ErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
	Attempts   int
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[tool:%s]", e.Type)}
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a categorized error, classifying from the cause.
func NewError(toolName string, cause error) *Error {
	e := &Error{
		ToolName: toolName,
		Cause:    cause,
		Type:     ErrorExecution,
		Attempts: 1,
	}
	if cause != nil {
		e.Message = cause.Error()
		e.Type = classify(cause)
	}
	return e
}

// WithType overrides the classified error type.
func (e *Error) WithType(t ErrorType) *Error {
	e.Type = t
	return e
}

// WithCallID records the failing tool call id.
func (e *Error) WithCallID(id string) *Error {
	e.ToolCallID = id
	return e
}

// WithMessage overrides the message.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func classify(err error) ErrorType {
	switch {
	case errors.Is(err, ErrToolNotFound):
		return ErrorNotFound
	case errors.Is(err, ErrToolTimeout):
		return ErrorTimeout
	case errors.Is(err, ErrToolPanic):
		return ErrorPanic
	}

	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return ErrorTimeout
	case strings.Contains(s, "invalid"), strings.Contains(s, "validation"),
		strings.Contains(s, "required"), strings.Contains(s, "missing"):
		return ErrorInvalidInput
	default:
		return ErrorExecution
	}
}

// AsError extracts a tool Error from an error chain.
func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsRetryable reports whether an error should be retried.
func IsRetryable(err error) bool {
	if te, ok := AsError(err); ok {
		return te.Type.IsRetryable()
	}
	return classify(err).IsRetryable()
}
