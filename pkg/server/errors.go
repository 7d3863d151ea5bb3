package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for consumer outcomes.
var (
	// ErrNotRegistered is returned when the component id is not in the
	// registry.
	ErrNotRegistered = errors.New("server: component not registered")

	// ErrSessionExpired is returned when the component session is missing
	// or older than RECONNECT_MAX.
	ErrSessionExpired = errors.New("server: component session expired")

	// ErrConstruction wraps failures of a component constructor.
	ErrConstruction = errors.New("server: component construction failed")

	// ErrDispatch wraps failures of the serve loop.
	ErrDispatch = errors.New("server: dispatch failed")

	// ErrConnectionClosed is returned when writing to a closed connection.
	ErrConnectionClosed = errors.New("server: connection closed")
)

// ConsumerError wraps an error with the component it happened in.
type ConsumerError struct {
	ComponentID string
	Op          string // construct, dispatch, ...
	Err         error
}

// Error returns the error message with consumer context.
func (e *ConsumerError) Error() string {
	if e.ComponentID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: component %s: %s: %v", e.ComponentID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConsumerError) Unwrap() error {
	return e.Err
}

// newConsumerError wraps err under the sentinel kind.
func newConsumerError(componentID, op string, kind, err error) *ConsumerError {
	return &ConsumerError{
		ComponentID: componentID,
		Op:          op,
		Err:         fmt.Errorf("%w: %w", kind, err),
	}
}
