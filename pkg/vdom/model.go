package vdom

// Model is the JSON representation of a rendered node. Children are either
// *Model values or strings for text.
type Model struct {
	TagName       string                 `json:"tagName"`
	Key           string                 `json:"key,omitempty"`
	Attributes    map[string]any         `json:"attributes,omitempty"`
	Children      []any                  `json:"children,omitempty"`
	EventHandlers map[string]EventTarget `json:"eventHandlers,omitempty"`
}

// EventTarget is the client-visible description of a handler.
type EventTarget struct {
	Target          string `json:"target"`
	PreventDefault  bool   `json:"preventDefault"`
	StopPropagation bool   `json:"stopPropagation"`
}

// Empty returns the model of an empty fragment.
func Empty() *Model {
	return &Model{}
}

// Child returns the i-th child as a model, or nil if it is text or absent.
func (m *Model) Child(i int) *Model {
	if m == nil || i < 0 || i >= len(m.Children) {
		return nil
	}
	child, _ := m.Children[i].(*Model)
	return child
}

// Find returns the first model in depth-first order for which match returns
// true.
func (m *Model) Find(match func(*Model) bool) *Model {
	if m == nil {
		return nil
	}
	if match(m) {
		return m
	}
	for _, c := range m.Children {
		if child, ok := c.(*Model); ok {
			if found := child.Find(match); found != nil {
				return found
			}
		}
	}
	return nil
}

// TextContent concatenates all text beneath m.
func (m *Model) TextContent() string {
	if m == nil {
		return ""
	}
	var out string
	for _, c := range m.Children {
		switch v := c.(type) {
		case string:
			out += v
		case *Model:
			out += v.TextContent()
		}
	}
	return out
}
