package layout

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"strconv"
)

// hookKind identifies the type of hook call for order validation.
type hookKind uint8

const (
	hookState hookKind = iota + 1
	hookRef
	hookEffect
	hookMemo
)

func (k hookKind) String() string {
	switch k {
	case hookState:
		return "State"
	case hookRef:
		return "Ref"
	case hookEffect:
		return "Effect"
	case hookMemo:
		return "Memo"
	default:
		return "Unknown"
	}
}

type hookSlot struct {
	kind  hookKind
	value any
	deps  []any

	// Effect slots only.
	effect  func() func()
	pending bool
	cleanup func()
}

// Scope is passed to a component's render function.
type Scope struct {
	l    *Layout
	inst *instance
}

// Context is cancelled when the component unmounts or the layout closes.
func (s *Scope) Context() context.Context {
	return s.inst.ctx
}

// Value returns a layout value installed with WithValue.
func (s *Scope) Value(key any) any {
	return s.l.values[key]
}

// Logger returns the layout logger annotated with the component name.
func (s *Scope) Logger() *slog.Logger {
	return s.l.logger.With("name", s.inst.comp.Name)
}

// ID identifies the mounted component within its layout.
func (s *Scope) ID() string {
	return strconv.FormatUint(s.inst.id, 10)
}

// Name returns the component name.
func (s *Scope) Name() string {
	return s.inst.comp.Name
}

// Rerender schedules another render of this component. Safe from any
// goroutine.
func (s *Scope) Rerender() {
	s.l.markDirty(s.inst)
}

// OnUnmount registers fn to run when the component unmounts.
func (s *Scope) OnUnmount(fn func()) {
	UseEffect(s, func() func() { return fn })
}

func (s *Scope) slot(kind hookKind, init func() *hookSlot) *hookSlot {
	inst := s.inst
	i := inst.hookIdx
	inst.hookIdx++

	if i < len(inst.hooks) {
		slot := inst.hooks[i]
		if slot.kind != kind {
			panic(fmt.Errorf("%w at index %d: expected %s, got %s", ErrHookOrder, i, slot.kind, kind))
		}
		return slot
	}
	if inst.rendered {
		panic(fmt.Errorf("%w: extra %s hook at index %d", ErrHookOrder, kind, i))
	}
	slot := init()
	slot.kind = kind
	inst.hooks = append(inst.hooks, slot)
	return slot
}

// State is a component-local value that triggers a re-render when set.
type State[T any] struct {
	l    *Layout
	inst *instance
	slot *hookSlot
}

// UseState returns the state hook at this position, created with initial
// on the first render.
func UseState[T any](s *Scope, initial T) State[T] {
	slot := s.slot(hookState, func() *hookSlot { return &hookSlot{value: initial} })
	return State[T]{l: s.l, inst: s.inst, slot: slot}
}

// Get returns the current value.
func (st State[T]) Get() T {
	st.l.qmu.Lock()
	v, _ := st.slot.value.(T)
	st.l.qmu.Unlock()
	return v
}

// Set replaces the value and schedules a render. Safe from any goroutine.
func (st State[T]) Set(v T) {
	st.l.qmu.Lock()
	st.slot.value = v
	st.l.qmu.Unlock()
	st.l.markDirty(st.inst)
}

// Update applies fn to the current value atomically. fn must not call back
// into the layout.
func (st State[T]) Update(fn func(T) T) {
	st.l.qmu.Lock()
	cur, _ := st.slot.value.(T)
	st.slot.value = fn(cur)
	st.l.qmu.Unlock()
	st.l.markDirty(st.inst)
}

// Ref is a mutable box that survives renders without triggering them.
type Ref[T any] struct {
	Current T
}

// UseRef returns the ref at this position.
func UseRef[T any](s *Scope, initial T) *Ref[T] {
	slot := s.slot(hookRef, func() *hookSlot { return &hookSlot{value: &Ref[T]{Current: initial}} })
	return slot.value.(*Ref[T])
}

// UseRefFunc is UseRef with a lazily computed initial value.
func UseRefFunc[T any](s *Scope, init func() T) *Ref[T] {
	slot := s.slot(hookRef, func() *hookSlot { return &hookSlot{value: &Ref[T]{Current: init()}} })
	return slot.value.(*Ref[T])
}

// UseMemo returns fn's result, recomputed when deps change. Without deps
// it is computed once per mount.
func UseMemo[T any](s *Scope, fn func() T, deps ...any) T {
	slot := s.slot(hookMemo, func() *hookSlot { return &hookSlot{value: fn(), deps: deps} })
	if len(deps) > 0 && !depsEqual(slot.deps, deps) {
		slot.value = fn()
		slot.deps = deps
	}
	v, _ := slot.value.(T)
	return v
}

// UseEffect runs fn after the render completes. Without deps fn runs once
// per mount; with deps it runs again whenever they change. The function fn
// returns, if any, runs before the next run and at unmount.
func UseEffect(s *Scope, fn func() func(), deps ...any) {
	slot := s.slot(hookEffect, func() *hookSlot { return &hookSlot{pending: true, deps: deps} })
	slot.effect = fn
	if len(deps) > 0 && !depsEqual(slot.deps, deps) {
		slot.deps = deps
		slot.pending = true
	}
}

func (l *Layout) runEffects(inst *instance) {
	for _, slot := range inst.hooks {
		if slot.kind != hookEffect || !slot.pending {
			continue
		}
		slot.pending = false
		if slot.cleanup != nil {
			l.safeCleanup(inst, slot)
		}
		l.safeEffect(inst, slot)
	}
}

func (l *Layout) safeEffect(inst *instance, slot *hookSlot) {
	defer func() {
		if r := recover(); r != nil {
			l.reportError(&RenderError{Component: inst.comp.Name, Err: panicError(r), Stack: debug.Stack()})
		}
	}()
	if slot.effect != nil {
		slot.cleanup = slot.effect()
	}
}

func (l *Layout) safeCleanup(inst *instance, slot *hookSlot) {
	fn := slot.cleanup
	slot.cleanup = nil
	defer func() {
		if r := recover(); r != nil {
			l.reportError(&RenderError{Component: inst.comp.Name, Err: panicError(r), Stack: debug.Stack()})
		}
	}()
	fn()
}

func depsEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !valueEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = reflect.DeepEqual(a, b)
		}
	}()
	return a == b
}
