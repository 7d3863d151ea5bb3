package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/vango-dev/conduit/pkg/layout"
)

// QueryFunc loads data for a query. ctx is cancelled when the component
// unmounts.
type QueryFunc[T any] func(ctx context.Context, kwargs map[string]any) (T, error)

// Query is a named query function. The *Query value is its identity:
// create it once, at package level or in a constructor, and pass the same
// pointer on every render.
type Query[T any] struct {
	name string
	fn   QueryFunc[T]
}

// NewQuery wraps fn.
func NewQuery[T any](name string, fn QueryFunc[T]) *Query[T] {
	return &Query[T]{name: name, fn: fn}
}

// QueryName implements Refetchable.
func (q *Query[T]) QueryName() string {
	return q.name
}

func (q *Query[T]) refetchable() {}

// QueryOption configures UseQuery.
type QueryOption func(*queryOptions)

type queryOptions struct {
	mode          Mode
	postprocessor Postprocessor
	setPost       bool
}

// WithPostprocessor applies fn to every result, replacing the runtime
// default.
func WithPostprocessor(fn Postprocessor) QueryOption {
	return func(o *queryOptions) {
		o.postprocessor = fn
		o.setPost = true
	}
}

// NoPostprocessor disables the runtime default postprocessor.
func NoPostprocessor() QueryOption {
	return WithPostprocessor(nil)
}

// ThreadSensitive routes the query to the serialized worker.
func ThreadSensitive(on bool) QueryOption {
	return func(o *queryOptions) {
		if on {
			o.mode = ModeThreadSensitive
		} else if o.mode == ModeThreadSensitive {
			o.mode = ModePool
		}
	}
}

// Async runs the query on its own goroutine instead of the worker pool.
func Async() QueryOption {
	return func(o *queryOptions) {
		o.mode = ModeAsync
	}
}

// QueryState is what UseQuery returns.
type QueryState[T any] struct {
	Data    T
	Loading bool
	Err     error

	// Refetch runs the query again. Calls made while a fetch is in flight
	// collapse into one follow-up fetch.
	Refetch func()
}

type queryResult[T any] struct {
	data    T
	loading bool
	err     error
}

type queryMount[T any] struct {
	q     *Query[T]
	rt    *Runtime
	state layout.State[queryResult[T]]
	ctx   context.Context

	mu      sync.Mutex
	opts    queryOptions
	kwargs  map[string]any
	running bool
	pending bool
}

// UseQuery runs q once per mount in the background and again on Refetch.
// Errors from the query or its postprocessor end up in Err with Data
// cleared. Passing a different q to the same mount panics with
// ErrQueryFunctionChanged.
func UseQuery[T any](s *layout.Scope, q *Query[T], kwargs map[string]any, opts ...QueryOption) QueryState[T] {
	rt := RuntimeFrom(s)
	o := queryOptions{mode: ModePool, postprocessor: rt.DefaultPostprocessor}
	for _, opt := range opts {
		opt(&o)
	}

	state := layout.UseState(s, queryResult[T]{loading: true})
	ref := layout.UseRef[*queryMount[T]](s, nil)
	if ref.Current == nil {
		ref.Current = &queryMount[T]{
			q:     q,
			rt:    rt,
			state: state,
			ctx:   withEnv(s.Context(), s, rt),
		}
	}
	m := ref.Current
	if m.q != q {
		panic(fmt.Errorf("%w: %q became %q", ErrQueryFunctionChanged, m.q.name, q.name))
	}
	m.mu.Lock()
	m.opts = o
	m.kwargs = kwargs
	m.mu.Unlock()

	layout.UseEffect(s, func() func() {
		remove := rt.Refetch.Add(q, m.refetch)
		m.refetch()
		return remove
	})

	r := state.Get()
	return QueryState[T]{Data: r.data, Loading: r.loading, Err: r.err, Refetch: m.refetch}
}

func (m *queryMount[T]) refetch() {
	m.mu.Lock()
	if m.running {
		m.pending = true
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()
	m.start()
}

func (m *queryMount[T]) start() {
	if m.ctx.Err() != nil {
		m.mu.Lock()
		m.running, m.pending = false, false
		m.mu.Unlock()
		return
	}
	if !m.state.Get().loading {
		m.state.Update(func(r queryResult[T]) queryResult[T] {
			r.loading = true
			return r
		})
	}

	m.mu.Lock()
	opts, kwargs := m.opts, m.kwargs
	m.mu.Unlock()

	m.rt.Executor.Go(opts.mode, func() {
		data, err := safeCall(func() (T, error) { return m.fetch(opts, kwargs) })
		m.finish(data, err)
	})
}

func (m *queryMount[T]) fetch(opts queryOptions, kwargs map[string]any) (T, error) {
	data, err := m.q.fn(m.ctx, kwargs)
	if err != nil || opts.postprocessor == nil {
		return data, err
	}
	out, err := opts.postprocessor(m.ctx, data)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("postprocessor: %w", err)
	}
	if out == nil {
		var zero T
		return zero, nil
	}
	typed, ok := out.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("postprocessor returned %T, want %T", out, zero)
	}
	return typed, nil
}

func (m *queryMount[T]) finish(data T, err error) {
	m.mu.Lock()
	again := m.pending
	m.pending = false
	m.running = again
	m.mu.Unlock()

	if m.ctx.Err() != nil {
		return
	}
	if err != nil {
		m.rt.Logger.Error("query failed", "query", m.q.name, "error", err)
		var zero T
		m.state.Set(queryResult[T]{data: zero, err: err})
	} else {
		m.state.Set(queryResult[T]{data: data})
	}
	if again {
		m.start()
	}
}
