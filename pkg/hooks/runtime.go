package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/vango-dev/conduit/pkg/channels"
	"github.com/vango-dev/conduit/pkg/connection"
	"github.com/vango-dev/conduit/pkg/layout"
	"github.com/vango-dev/conduit/pkg/store"
)

// Postprocessor transforms a query result before it is stored in state.
type Postprocessor func(ctx context.Context, data any) (any, error)

// Postprocessor names accepted by the configuration.
const (
	PostprocessorNone          = ""
	PostprocessorJSONNormalize = "json-normalize"
)

var (
	postprocessorsMu sync.RWMutex
	postprocessors   = map[string]Postprocessor{
		PostprocessorJSONNormalize: NormalizeJSON,
	}
)

// RegisterPostprocessor makes fn selectable by name as the default query
// postprocessor.
func RegisterPostprocessor(name string, fn Postprocessor) {
	postprocessorsMu.Lock()
	postprocessors[name] = fn
	postprocessorsMu.Unlock()
}

// LookupPostprocessor returns the named postprocessor. The empty name and
// "none" resolve to nil.
func LookupPostprocessor(name string) (Postprocessor, bool) {
	if name == PostprocessorNone || name == "none" {
		return nil, true
	}
	postprocessorsMu.RLock()
	defer postprocessorsMu.RUnlock()
	fn, ok := postprocessors[name]
	return fn, ok
}

// PostprocessorNames returns the registered names, sorted.
func PostprocessorNames() []string {
	postprocessorsMu.RLock()
	defer postprocessorsMu.RUnlock()
	names := make([]string, 0, len(postprocessors))
	for name := range postprocessors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizeJSON round-trips data through JSON into a fresh value of the
// same type, detaching it from anything the query function still holds.
func NormalizeJSON(_ context.Context, data any) (any, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("normalizing query result: %w", err)
	}
	ptr := reflect.New(reflect.TypeOf(data))
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("normalizing query result: %w", err)
	}
	return ptr.Elem().Interface(), nil
}

// Runtime is the state hooks share across the layouts of one server.
type Runtime struct {
	Executor             *Executor
	Refetch              *RefetchRegistry
	Layers               *channels.Layers
	Store                store.Store
	DefaultPostprocessor Postprocessor
	Logger               *slog.Logger
}

// NewRuntime returns a runtime with a fresh executor, refetch registry and
// channel layers. Store and DefaultPostprocessor are left for the caller.
func NewRuntime(workers int) *Runtime {
	return &Runtime{
		Executor: NewExecutor(workers),
		Refetch:  NewRefetchRegistry(),
		Layers:   channels.NewLayers(),
		Logger:   slog.Default().With("component", "hooks"),
	}
}

// Close stops the executor.
func (rt *Runtime) Close() error {
	return rt.Executor.Close()
}

type runtimeKey struct{}

// Install makes rt available to the hooks of a layout.
func Install(rt *Runtime) layout.Option {
	return layout.WithValue(runtimeKey{}, rt)
}

var (
	fallbackOnce sync.Once
	fallback     *Runtime
)

// RuntimeFrom returns the runtime installed in the scope's layout, or a
// process-wide fallback with an in-memory store.
func RuntimeFrom(s *layout.Scope) *Runtime {
	if rt, ok := s.Value(runtimeKey{}).(*Runtime); ok && rt != nil {
		return rt
	}
	fallbackOnce.Do(func() {
		fallback = NewRuntime(0)
		fallback.Store = store.NewMemoryStore()
	})
	return fallback
}

// env is what hook-launched work can see of its component.
type env struct {
	rt   *Runtime
	conn *connection.Connection
}

type envKey struct{}

func withEnv(ctx context.Context, s *layout.Scope, rt *Runtime) context.Context {
	return context.WithValue(ctx, envKey{}, &env{rt: rt, conn: connection.FromScope(s)})
}

// ConnectionFromContext returns the connection of the component whose
// query or mutation is running.
func ConnectionFromContext(ctx context.Context) *connection.Connection {
	if e, ok := ctx.Value(envKey{}).(*env); ok {
		return e.conn
	}
	return nil
}

func envFrom(ctx context.Context) *env {
	e, _ := ctx.Value(envKey{}).(*env)
	return e
}
