package layout

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"

	"github.com/vango-dev/conduit/pkg/vdom"
)

// instance is one mounted component.
type instance struct {
	id     uint64
	comp   *Component
	parent *instance
	depth  int

	// path is the JSON pointer of this instance's model in the root model.
	path string

	ctx    context.Context
	cancel context.CancelFunc

	hooks    []*hookSlot
	hookIdx  int
	rendered bool

	children map[string]*instance
	handlers map[string]*vdom.EventHandler
	model    *vdom.Model

	// unmounted is guarded by Layout.qmu.
	unmounted bool
}

func (l *Layout) mount(c *Component, parent *instance, path string) *instance {
	l.nextID++
	inst := &instance{
		id:       l.nextID,
		comp:     c,
		parent:   parent,
		path:     path,
		children: make(map[string]*instance),
	}
	base := l.ctx
	if parent != nil {
		inst.depth = parent.depth + 1
		base = parent.ctx
	}
	inst.ctx, inst.cancel = context.WithCancel(base)
	return inst
}

// renderInstance renders inst and its children and returns its wrapper
// model. Must hold l.mu.
func (l *Layout) renderInstance(inst *instance) *vdom.Model {
	l.qmu.Lock()
	delete(l.dirty, inst)
	l.qmu.Unlock()

	prev := inst.handlers
	for target := range prev {
		delete(l.handlers, target)
	}
	inst.handlers = make(map[string]*vdom.EventHandler)

	node, err := l.safeRender(inst)
	if err != nil {
		l.reportError(err)
		if inst.model == nil {
			inst.model = &vdom.Model{Key: inst.comp.Key}
		}
		// The previous model and its handlers stay live.
		inst.handlers = prev
		for target, h := range prev {
			l.handlers[target] = h
		}
		return inst.model
	}

	b := &builder{l: l, inst: inst, seen: make(map[string]bool), ordinals: make(map[string]int)}
	wrapper := &vdom.Model{Key: inst.comp.Key}
	if child := b.build(node, inst.path+"/children/0"); child != nil {
		wrapper.Children = []any{child}
	}
	for key, child := range inst.children {
		if !b.seen[key] {
			l.unmount(child)
			delete(inst.children, key)
		}
	}

	inst.model = wrapper
	inst.rendered = true
	l.runEffects(inst)
	return wrapper
}

func (l *Layout) safeRender(inst *instance) (node *vdom.VNode, rerr *RenderError) {
	s := &Scope{l: l, inst: inst}
	inst.hookIdx = 0
	defer func() {
		if r := recover(); r != nil {
			rerr = &RenderError{Component: inst.comp.Name, Err: panicError(r), Stack: debug.Stack()}
		}
	}()
	node = inst.comp.Render(s)
	if inst.rendered && inst.hookIdx != len(inst.hooks) {
		return nil, &RenderError{
			Component: inst.comp.Name,
			Err:       fmt.Errorf("%w: expected %d hooks, got %d", ErrHookOrder, len(inst.hooks), inst.hookIdx),
		}
	}
	return node, nil
}

func (l *Layout) safeHandle(ctx context.Context, h *vdom.EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			l.reportError(&RenderError{Component: "handler " + ev.Target, Err: panicError(r), Stack: debug.Stack()})
		}
	}()
	if h.Func == nil {
		return
	}
	if err := h.Func(ctx, ev.Data); err != nil {
		l.reportError(&RenderError{Component: "handler " + ev.Target, Err: err})
	}
}

// unmount tears down inst and its children, children first. Must hold l.mu.
func (l *Layout) unmount(inst *instance) {
	for key, child := range inst.children {
		l.unmount(child)
		delete(inst.children, key)
	}
	for _, slot := range inst.hooks {
		if slot.cleanup != nil {
			l.safeCleanup(inst, slot)
		}
	}
	for target := range inst.handlers {
		delete(l.handlers, target)
	}
	inst.handlers = nil
	inst.cancel()

	l.qmu.Lock()
	inst.unmounted = true
	delete(l.dirty, inst)
	l.qmu.Unlock()
}

// builder converts one component's VNode output into models.
type builder struct {
	l        *Layout
	inst     *instance
	seen     map[string]bool
	ordinals map[string]int
	handlers int
}

func (b *builder) build(node *vdom.VNode, path string) any {
	if node == nil {
		return nil
	}
	switch node.Kind {
	case vdom.KindText:
		return node.Text

	case vdom.KindComponent:
		c, ok := node.Comp.(*Component)
		if !ok || c == nil {
			return nil
		}
		return b.child(c, path)

	case vdom.KindElement, vdom.KindFragment:
		m := &vdom.Model{Key: node.Key}
		if node.Kind == vdom.KindElement {
			m.TagName = node.Tag
		}
		if len(node.Attrs) > 0 {
			m.Attributes = make(map[string]any, len(node.Attrs))
			for k, v := range node.Attrs {
				m.Attributes[k] = v
			}
		}
		for name, h := range node.Handlers {
			if m.EventHandlers == nil {
				m.EventHandlers = make(map[string]vdom.EventTarget, len(node.Handlers))
			}
			target := b.register(h)
			m.EventHandlers[name] = vdom.EventTarget{
				Target:          target,
				PreventDefault:  h.PreventDefault,
				StopPropagation: h.StopPropagation,
			}
		}
		for _, child := range node.Children {
			childPath := path + "/children/" + strconv.Itoa(len(m.Children))
			if cm := b.build(child, childPath); cm != nil {
				m.Children = append(m.Children, cm)
			}
		}
		return m
	}
	return nil
}

// register assigns a target address to h. Addresses are stable across
// renders of the same component as long as handler order is unchanged.
func (b *builder) register(h *vdom.EventHandler) string {
	target := strconv.FormatUint(b.inst.id, 10) + "." + strconv.Itoa(b.handlers)
	b.handlers++
	b.l.handlers[target] = h
	b.inst.handlers[target] = h
	return target
}

// child reconciles a nested component against the previous render.
func (b *builder) child(c *Component, path string) any {
	key := c.Key
	if key == "" {
		n := b.ordinals[c.Name]
		b.ordinals[c.Name] = n + 1
		key = c.Name + "#" + strconv.Itoa(n)
	} else {
		key = "key:" + key
	}
	for b.seen[key] {
		key += "'"
	}
	b.seen[key] = true

	inst, ok := b.inst.children[key]
	if ok && inst.comp.Name != c.Name {
		b.l.unmount(inst)
		ok = false
	}
	if !ok {
		inst = b.l.mount(c, b.inst, path)
		b.inst.children[key] = inst
	}
	inst.comp = c
	inst.path = path
	return b.l.renderInstance(inst)
}
