package layout

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Render and Deliver after Close.
	ErrClosed = errors.New("layout: closed")

	// ErrHookOrder is raised when hooks are called in a different order
	// than on the previous render of the same component.
	ErrHookOrder = errors.New("layout: hook order changed")
)

// RenderError describes a failed render of one component.
type RenderError struct {
	Component string
	Err       error
	Stack     []byte
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("layout: render %s: %v", e.Component, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// panicError converts a recovered value to an error, keeping wrapped errors
// visible to errors.Is.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
