package layout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vango-dev/conduit/pkg/vdom"
)

// Update replaces the sub-tree at Path in the client's model.
type Update struct {
	Type  string      `json:"type"`
	Path  string      `json:"path"`
	Model *vdom.Model `json:"model"`
}

// Event is an inbound client event.
type Event struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Data   []any  `json:"data"`
}

// Message types.
const (
	TypeLayoutUpdate = "layout-update"
	TypeLayoutEvent  = "layout-event"
)

// Option configures a Layout.
type Option func(*Layout)

// WithLogger sets the layout logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Layout) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithValue makes v available to hooks through Scope.Value(key).
func WithValue(key, v any) Option {
	return func(l *Layout) {
		l.values[key] = v
	}
}

// OnRenderError registers a callback for failed renders and handlers. The
// error is logged either way.
func OnRenderError(fn func(*RenderError)) Option {
	return func(l *Layout) {
		l.onError = fn
	}
}

// Layout renders one component tree for one connection.
type Layout struct {
	root    *Component
	values  map[any]any
	logger  *slog.Logger
	onError func(*RenderError)

	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes render and deliver.
	mu       sync.Mutex
	rootInst *instance
	handlers map[string]*vdom.EventHandler
	nextID   uint64
	closed   bool

	// qmu guards state hook values and the dirty set.
	qmu    sync.Mutex
	dirty  map[*instance]struct{}
	notify chan struct{}
}

// NewLayout creates a layout for root. Nothing is rendered until the first
// call to Render.
func NewLayout(root *Component, opts ...Option) *Layout {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Layout{
		root:     root,
		values:   make(map[any]any),
		logger:   slog.Default().With("component", "layout"),
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]*vdom.EventHandler),
		dirty:    make(map[*instance]struct{}),
		notify:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Root returns the root component.
func (l *Layout) Root() *Component {
	return l.root
}

// Value returns a value installed with WithValue.
func (l *Layout) Value(key any) any {
	return l.values[key]
}

// Logger returns the layout logger.
func (l *Layout) Logger() *slog.Logger {
	return l.logger
}

// Render returns the next update. The first call renders the whole tree at
// path "". Later calls block until a component is marked dirty, then render
// the shallowest dirty component.
func (l *Layout) Render(ctx context.Context) (Update, error) {
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return Update{}, ErrClosed
		}
		if l.rootInst == nil {
			l.rootInst = l.mount(l.root, nil, "")
			model := l.renderInstance(l.rootInst)
			l.mu.Unlock()
			return Update{Type: TypeLayoutUpdate, Path: "", Model: model}, nil
		}
		if inst := l.popDirty(); inst != nil {
			model := l.renderInstance(inst)
			path := inst.path
			l.mu.Unlock()
			return Update{Type: TypeLayoutUpdate, Path: path, Model: model}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return Update{}, ctx.Err()
		case <-l.ctx.Done():
			return Update{}, ErrClosed
		case <-l.notify:
		}
	}
}

// Deliver routes an event to its handler. Unknown targets are ignored;
// handler errors and panics are logged and do not stop the layout.
func (l *Layout) Deliver(ctx context.Context, ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	h, ok := l.handlers[ev.Target]
	if !ok {
		l.logger.Debug("ignored event, handler does not exist or its component unmounted",
			"target", ev.Target)
		return nil
	}
	l.safeHandle(ctx, h, ev)
	return nil
}

// Close unmounts the tree and wakes any blocked Render.
func (l *Layout) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.rootInst != nil {
		l.unmount(l.rootInst)
		l.rootInst = nil
	}
	l.cancel()
	return nil
}

// Done is closed when the layout closes.
func (l *Layout) Done() <-chan struct{} {
	return l.ctx.Done()
}

// markDirty schedules inst for re-rendering. Safe from any goroutine.
func (l *Layout) markDirty(inst *instance) {
	l.qmu.Lock()
	if !inst.unmounted {
		l.dirty[inst] = struct{}{}
	}
	l.qmu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// popDirty removes and returns the shallowest dirty instance.
func (l *Layout) popDirty() *instance {
	l.qmu.Lock()
	defer l.qmu.Unlock()

	var best *instance
	for inst := range l.dirty {
		if inst.unmounted {
			delete(l.dirty, inst)
			continue
		}
		if best == nil || inst.depth < best.depth || (inst.depth == best.depth && inst.id < best.id) {
			best = inst
		}
	}
	if best != nil {
		delete(l.dirty, best)
	}
	return best
}

func (l *Layout) reportError(err *RenderError) {
	l.logger.Error("component failed",
		"name", err.Component,
		"error", err.Err,
		"stack", string(err.Stack))
	if l.onError != nil {
		l.onError(err)
	}
}
