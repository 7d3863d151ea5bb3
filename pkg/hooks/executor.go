package hooks

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/conduit/internal/queue"
)

// Mode selects where blocking hook work runs.
type Mode uint8

const (
	// ModePool runs work on the bounded worker pool.
	ModePool Mode = iota

	// ModeThreadSensitive runs work on the single serialized worker, one
	// task at a time in submission order.
	ModeThreadSensitive

	// ModeAsync runs work on its own goroutine, bypassing the pool.
	ModeAsync
)

func (m Mode) String() string {
	switch m {
	case ModePool:
		return "pool"
	case ModeThreadSensitive:
		return "thread-sensitive"
	case ModeAsync:
		return "async"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// Executor runs blocking work submitted by hooks.
type Executor struct {
	pool    errgroup.Group
	serial  *queue.Queue[func()]
	pending sync.WaitGroup
	closed  atomic.Bool
}

// DefaultWorkers is the pool size used when none is configured.
func DefaultWorkers() int {
	return min(32, runtime.NumCPU()+4)
}

// NewExecutor starts an executor with the given pool size. Zero or less
// uses DefaultWorkers.
func NewExecutor(workers int) *Executor {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	e := &Executor{serial: queue.New[func()]()}
	e.pool.SetLimit(workers)
	e.pending.Add(1)
	go e.serialLoop()
	return e
}

// Go submits fn. It never blocks the caller. After Close, work runs on
// its own goroutine.
func (e *Executor) Go(mode Mode, fn func()) {
	if e.closed.Load() {
		go fn()
		return
	}
	switch mode {
	case ModeThreadSensitive:
		if err := e.serial.Push(fn); err == nil {
			return
		}
		fallthrough
	case ModeAsync:
		e.pending.Add(1)
		go func() {
			defer e.pending.Done()
			fn()
		}()
	default:
		e.pending.Add(1)
		go func() {
			defer e.pending.Done()
			e.pool.Go(func() error {
				fn()
				return nil
			})
		}()
	}
}

func (e *Executor) serialLoop() {
	defer e.pending.Done()
	for {
		fn, err := e.serial.Pop(context.Background())
		if err != nil {
			return
		}
		fn()
	}
}

// Close stops accepting serialized work and waits for submitted work to
// finish.
func (e *Executor) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.serial.Close()
	e.pending.Wait()
	return e.pool.Wait()
}

// safeCall runs fn, converting a panic into an error.
func safeCall[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
