package vdom

import (
	"context"
	"fmt"
)

// HandlerFunc receives the event payload sent by the client.
type HandlerFunc func(ctx context.Context, data []any) error

// EventHandler binds a client event to server code.
type EventHandler struct {
	Event           string // "onclick", "oninput", etc.
	Func            HandlerFunc
	PreventDefault  bool
	StopPropagation bool
}

// WithPreventDefault asks the client to call preventDefault before sending.
func (h *EventHandler) WithPreventDefault() *EventHandler {
	h.PreventDefault = true
	return h
}

// WithStopPropagation asks the client to stop propagation before sending.
func (h *EventHandler) WithStopPropagation() *EventHandler {
	h.StopPropagation = true
	return h
}

// On creates an EventHandler for the named event ("click", "submit", ...).
//
// handler may be any of:
//
//	func()
//	func() error
//	func([]any)
//	func(context.Context, []any) error
//	HandlerFunc
//
// Any other type panics.
func On(name string, handler any) *EventHandler {
	return &EventHandler{Event: "on" + name, Func: adapt(handler)}
}

func adapt(handler any) HandlerFunc {
	switch h := handler.(type) {
	case HandlerFunc:
		return h
	case func(context.Context, []any) error:
		return h
	case func():
		return func(context.Context, []any) error { h(); return nil }
	case func() error:
		return func(context.Context, []any) error { return h() }
	case func([]any):
		return func(_ context.Context, data []any) error { h(data); return nil }
	case nil:
		return func(context.Context, []any) error { return nil }
	default:
		panic(fmt.Sprintf("vdom: unsupported event handler type %T", handler))
	}
}

// OnClick handles click events.
func OnClick(handler any) *EventHandler { return On("click", handler) }

// OnDblClick handles double-click events.
func OnDblClick(handler any) *EventHandler { return On("dblclick", handler) }

// OnInput handles input events.
func OnInput(handler any) *EventHandler { return On("input", handler) }

// OnChange handles change events.
func OnChange(handler any) *EventHandler { return On("change", handler) }

// OnSubmit handles form submit events.
func OnSubmit(handler any) *EventHandler { return On("submit", handler).WithPreventDefault() }

// OnKeyDown handles keydown events.
func OnKeyDown(handler any) *EventHandler { return On("keydown", handler) }

// OnFocus handles focus events.
func OnFocus(handler any) *EventHandler { return On("focus", handler) }

// OnBlur handles blur events.
func OnBlur(handler any) *EventHandler { return On("blur", handler) }

// OnLoad handles load events.
func OnLoad(handler any) *EventHandler { return On("load", handler) }
