package vdom

// VKind is the node type discriminator.
type VKind uint8

const (
	KindElement   VKind = iota // <div>, <button>, etc.
	KindText                   // Plain text node
	KindFragment               // Grouping without wrapper
	KindComponent              // Nested component
)

// String returns the string representation of the VKind.
func (k VKind) String() string {
	switch k {
	case KindElement:
		return "Element"
	case KindText:
		return "Text"
	case KindFragment:
		return "Fragment"
	case KindComponent:
		return "Component"
	default:
		return "Unknown"
	}
}

// VNode is the virtual DOM node.
type VNode struct {
	Kind     VKind                    // Node type
	Tag      string                   // Element tag name (e.g., "div")
	Attrs    map[string]any           // Attributes
	Handlers map[string]*EventHandler // Event handlers by "on" name
	Children []*VNode                 // Child nodes
	Key      string                   // Reconciliation key
	Text     string                   // For KindText
	Comp     Component                // For KindComponent
}

// IsInteractive returns true if this node has event handlers.
func (v *VNode) IsInteractive() bool {
	return v != nil && v.Kind == KindElement && len(v.Handlers) > 0
}

// Attr represents a single attribute.
type Attr struct {
	Key   string
	Value any
}

// IsEmpty returns true if this is an empty/nil attribute.
func (a Attr) IsEmpty() bool {
	return a.Key == ""
}

// Component is a nested component placed in a tree. The layout engine owns
// the concrete type; vdom only needs its identity for reconciliation.
type Component interface {
	ComponentName() string
	ComponentKey() string
}

// Mount wraps a component as a child node.
func Mount(c Component) *VNode {
	if c == nil {
		return nil
	}
	return &VNode{Kind: KindComponent, Comp: c, Key: c.ComponentKey()}
}
