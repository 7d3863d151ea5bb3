package layout

import "github.com/vango-dev/conduit/pkg/vdom"

// RenderFunc renders a component. It is called on every render pass and may
// call hooks on s.
type RenderFunc func(s *Scope) *vdom.VNode

// Component is a named render function. Components with the same Name at
// the same position in the tree (or with the same Key) keep their state
// across parent renders.
type Component struct {
	Name   string
	Key    string
	Render RenderFunc
}

// New creates a component.
func New(name string, render RenderFunc) *Component {
	return &Component{Name: name, Render: render}
}

// WithKey returns a copy of c with the reconciliation key set.
func (c *Component) WithKey(key string) *Component {
	cp := *c
	cp.Key = key
	return &cp
}

// ComponentName implements vdom.Component.
func (c *Component) ComponentName() string {
	return c.Name
}

// ComponentKey implements vdom.Component.
func (c *Component) ComponentKey() string {
	return c.Key
}
