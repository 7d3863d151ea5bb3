package hooks

import (
	"context"
	"errors"

	"github.com/vango-dev/conduit/pkg/layout"
)

// MutationFunc performs a write. Returning ErrSkipRefetch reports success
// without refetching.
type MutationFunc[A any] func(ctx context.Context, arg A) error

// Mutation is a named write operation.
type Mutation[A any] struct {
	name string
	fn   MutationFunc[A]
}

// NewMutation wraps fn.
func NewMutation[A any](name string, fn MutationFunc[A]) *Mutation[A] {
	return &Mutation[A]{name: name, fn: fn}
}

// Name returns the mutation name.
func (m *Mutation[A]) Name() string {
	return m.name
}

// MutationOption configures UseMutation.
type MutationOption func(*mutationOptions)

type mutationOptions struct {
	mode    Mode
	refetch []Refetchable
}

// Refetch lists the queries refetched after a successful mutation.
func Refetch(queries ...Refetchable) MutationOption {
	return func(o *mutationOptions) {
		o.refetch = append(o.refetch, queries...)
	}
}

// MutationThreadSensitive routes the mutation to the serialized worker.
func MutationThreadSensitive(on bool) MutationOption {
	return func(o *mutationOptions) {
		if on {
			o.mode = ModeThreadSensitive
		} else if o.mode == ModeThreadSensitive {
			o.mode = ModePool
		}
	}
}

// MutationAsync runs the mutation on its own goroutine.
func MutationAsync() MutationOption {
	return func(o *mutationOptions) {
		o.mode = ModeAsync
	}
}

// MutationState is what UseMutation returns.
type MutationState[A any] struct {
	// Execute runs the mutation in the background.
	Execute func(arg A)
	Loading bool
	Err     error

	// Reset clears Loading and Err.
	Reset func()
}

type mutationResult struct {
	loading bool
	err     error
}

// UseMutation returns a handle that runs m in the background. On success,
// every live mount of each query named by Refetch is refetched once.
func UseMutation[A any](s *layout.Scope, m *Mutation[A], opts ...MutationOption) MutationState[A] {
	rt := RuntimeFrom(s)
	o := mutationOptions{mode: ModePool}
	for _, opt := range opts {
		opt(&o)
	}

	state := layout.UseState(s, mutationResult{})
	ctx := layout.UseMemo(s, func() context.Context { return withEnv(s.Context(), s, rt) })
	latest := layout.UseRef(s, m)
	latest.Current = m

	execute := func(arg A) {
		mut := latest.Current
		state.Set(mutationResult{loading: true})
		rt.Executor.Go(o.mode, func() {
			_, err := safeCall(func() (struct{}, error) { return struct{}{}, mut.fn(ctx, arg) })
			skip := errors.Is(err, ErrSkipRefetch)
			if skip {
				err = nil
			}
			if err != nil {
				rt.Logger.Error("mutation failed", "mutation", mut.name, "error", err)
			}
			if ctx.Err() == nil {
				state.Set(mutationResult{err: err})
			}
			if err == nil && !skip && len(o.refetch) > 0 {
				rt.Refetch.Trigger(o.refetch...)
			}
		})
	}

	r := state.Get()
	return MutationState[A]{
		Execute: execute,
		Loading: r.loading,
		Err:     r.err,
		Reset:   func() { state.Set(mutationResult{}) },
	}
}
