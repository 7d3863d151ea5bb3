package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vango-dev/conduit/pkg/layout"
)

// ErrComponentParamMismatch is returned when arguments do not fit a
// constructor's parameter list.
var ErrComponentParamMismatch = errors.New("registry: component parameters do not match")

// Param describes one constructor parameter.
type Param struct {
	Name     string
	Required bool
	Default  any
}

// Bound holds arguments bound to parameter names.
type Bound map[string]any

// String returns the named argument as a string, or "".
func (b Bound) String(name string) string {
	s, _ := b[name].(string)
	return s
}

// Int returns the named argument as an int. JSON numbers decoded as
// float64 are truncated.
func (b Bound) Int(name string) int {
	switch v := b[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Constructor builds a component from persisted arguments.
type Constructor struct {
	// Name is the qualified name used in logs.
	Name string

	// Params is the declared signature. A constructor without parameters
	// never needs a stored component session.
	Params []Param

	build func(Bound) (layout.RenderFunc, error)
}

// Static returns a constructor for a component that takes no arguments.
func Static(name string, render layout.RenderFunc) *Constructor {
	return &Constructor{
		Name:  name,
		build: func(Bound) (layout.RenderFunc, error) { return render, nil },
	}
}

// WithParams returns a constructor whose render function is built from
// bound arguments.
func WithParams(name string, params []Param, fn func(Bound) (layout.RenderFunc, error)) *Constructor {
	return &Constructor{Name: name, Params: params, build: fn}
}

// HasParams reports whether the constructor declares parameters.
func (c *Constructor) HasParams() bool {
	return len(c.Params) > 0
}

// Bind checks args and kwargs against the signature and returns them bound
// by name, with defaults applied.
func (c *Constructor) Bind(args []any, kwargs map[string]any) (Bound, error) {
	if len(args) > len(c.Params) {
		return nil, fmt.Errorf("%w: %s takes %d positional arguments but %d were given",
			ErrComponentParamMismatch, c.Name, len(c.Params), len(args))
	}
	bound := make(Bound, len(c.Params))
	index := make(map[string]bool, len(c.Params))
	for i, p := range c.Params {
		index[p.Name] = true
		if i < len(args) {
			bound[p.Name] = args[i]
		}
	}

	var unknown []string
	for k, v := range kwargs {
		if !index[k] {
			unknown = append(unknown, k)
			continue
		}
		if _, dup := bound[k]; dup {
			return nil, fmt.Errorf("%w: %s got multiple values for argument %q",
				ErrComponentParamMismatch, c.Name, k)
		}
		bound[k] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s got unexpected keyword arguments %s",
			ErrComponentParamMismatch, c.Name, strings.Join(unknown, ", "))
	}

	for _, p := range c.Params {
		if _, ok := bound[p.Name]; ok {
			continue
		}
		if p.Required {
			return nil, fmt.Errorf("%w: %s missing required argument %q",
				ErrComponentParamMismatch, c.Name, p.Name)
		}
		bound[p.Name] = p.Default
	}
	return bound, nil
}

// New binds the arguments and builds the component.
func (c *Constructor) New(args []any, kwargs map[string]any) (*layout.Component, error) {
	bound, err := c.Bind(args, kwargs)
	if err != nil {
		return nil, err
	}
	render, err := c.build(bound)
	if err != nil {
		return nil, err
	}
	if render == nil {
		return nil, fmt.Errorf("%s returned no render function", c.Name)
	}
	return layout.New(c.Name, render), nil
}
