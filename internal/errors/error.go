package errors

import (
	"errors"
	"fmt"
)

// Category represents the subsystem an error belongs to.
type Category string

const (
	CategoryConfig   Category = "config"
	CategoryStorage  Category = "storage"
	CategoryRegistry Category = "registry"
	CategoryRouting  Category = "routing"
	CategoryAssets   Category = "assets"
	CategoryRuntime  Category = "runtime"
)

// Severity decides whether an issue blocks startup.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// String returns the label used in formatted output.
func (s Severity) String() string {
	if s == SeverityError {
		return "ERROR"
	}
	return "WARNING"
}

// Error is a structured diagnostic with a stable code.
type Error struct {
	// Code is a unique identifier (e.g., "C001").
	Code string

	// Category is the subsystem that produced the error.
	Category Category

	// Severity is copied from the template and may be overridden.
	Severity Severity

	// Message is a short description of the problem.
	Message string

	// Detail is the instance-specific explanation.
	Detail string

	// Suggestion is a hint on how to fix the problem.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// WithDetail adds an instance-specific explanation.
func (e *Error) WithDetail(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithSeverity overrides the template severity.
func (e *Error) WithSeverity(s Severity) *Error {
	e.Severity = s
	return e
}

// Wrap wraps another error.
func (e *Error) Wrap(err error) *Error {
	e.Wrapped = err
	return e
}

// IsError reports whether the diagnostic blocks startup.
func (e *Error) IsError() bool {
	return e.Severity == SeverityError
}

// New creates an Error from a registered code.
func New(code string) *Error {
	template, ok := registry[code]
	if !ok {
		return &Error{
			Code:     code,
			Severity: SeverityError,
			Message:  "Unknown error",
		}
	}
	return &Error{
		Code:     code,
		Category: template.Category,
		Severity: template.Severity,
		Message:  template.Message,
	}
}

// FromError wraps a standard error in an Error with the given code.
// An error that already is an *Error is returned unchanged.
func FromError(err error, code string) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return New(code).Wrap(err).WithDetail("%v", err)
}

// HasErrors reports whether any issue in the list blocks startup.
func HasErrors(issues []*Error) bool {
	for _, issue := range issues {
		if issue.IsError() {
			return true
		}
	}
	return false
}
