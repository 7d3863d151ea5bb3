package server

import (
	"errors"
	"strings"
	"testing"
)

func TestConsumerErrorWrapping(t *testing.T) {
	cause := errors.New("boom")
	err := error(newConsumerError("app.Widget", "construct", ErrConstruction, cause))

	if !errors.Is(err, ErrConstruction) {
		t.Error("errors.Is(ErrConstruction) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("cause lost")
	}
	var ce *ConsumerError
	if !errors.As(err, &ce) || ce.ComponentID != "app.Widget" || ce.Op != "construct" {
		t.Errorf("errors.As = %+v", ce)
	}
	if msg := err.Error(); !strings.Contains(msg, "app.Widget") || !strings.Contains(msg, "boom") {
		t.Errorf("message = %q", msg)
	}
}
