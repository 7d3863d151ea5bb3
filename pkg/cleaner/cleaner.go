// Package cleaner removes expired component sessions and orphaned user
// data.
//
// A pass runs at startup, lazily from the session consumer at most once
// per clean interval, and on demand from the command line. The time of the
// last pass is kept in the datastore, so the interval holds across
// processes sharing it.
package cleaner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vango-dev/conduit/pkg/middleware"
	"github.com/vango-dev/conduit/pkg/store"
)

// Task names, used in logs and metrics.
const (
	TaskSessions = "component sessions"
	TaskUserData = "user data"
)

// Tasks selects what a pass cleans.
type Tasks struct {
	Sessions bool
	UserData bool
}

// All selects every task.
func All() Tasks {
	return Tasks{Sessions: true, UserData: true}
}

// Result reports a pass.
type Result struct {
	Sessions int
	UserData int
	Duration time.Duration
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithUsers sets the directory used to find orphaned user data. Without
// one, user data is left alone.
func WithUsers(dir store.UserDirectory) Option {
	return func(c *Cleaner) {
		c.users = dir
	}
}

// WithSessionMaxAge sets how long an untouched component session lives.
func WithSessionMaxAge(d time.Duration) Option {
	return func(c *Cleaner) {
		c.sessionMaxAge = d
	}
}

// WithInterval sets the minimum spacing of lazy passes. Zero disables
// them.
func WithInterval(d time.Duration) Option {
	return func(c *Cleaner) {
		c.interval = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cleaner) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cleaner) {
		c.logger = l.With("component", "cleaner")
	}
}

// WithMetrics records deletions and pass durations.
func WithMetrics(m *middleware.Metrics) Option {
	return func(c *Cleaner) {
		c.metrics = m
	}
}

// WithTracer traces each pass.
func WithTracer(t *middleware.Tracer) Option {
	return func(c *Cleaner) {
		c.tracer = t
	}
}

// WithSlowThreshold sets how long a task may take before a warning is
// logged. Default: one second.
func WithSlowThreshold(d time.Duration) Option {
	return func(c *Cleaner) {
		c.slow = d
	}
}

// Cleaner runs cleanup passes against a store.
type Cleaner struct {
	store         store.Store
	users         store.UserDirectory
	sessionMaxAge time.Duration
	interval      time.Duration
	slow          time.Duration
	now           func() time.Time
	logger        *slog.Logger
	metrics       *middleware.Metrics
	tracer        *middleware.Tracer

	// mu collapses concurrent lazy passes into one.
	mu sync.Mutex
}

// New creates a cleaner for s.
func New(s store.Store, opts ...Option) *Cleaner {
	c := &Cleaner{
		store:         s,
		sessionMaxAge: 259200 * time.Second,
		slow:          time.Second,
		now:           time.Now,
		logger:        slog.Default().With("component", "cleaner"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Interval returns the lazy clean interval.
func (c *Cleaner) Interval() time.Duration {
	return c.interval
}

// Due reports whether a lazy pass is needed.
func (c *Cleaner) Due(ctx context.Context) (bool, error) {
	if c.interval <= 0 {
		return false, nil
	}
	last, err := c.store.CleanedAt(ctx)
	if err != nil {
		return false, fmt.Errorf("reading last clean time: %w", err)
	}
	return !c.now().Before(last.Add(c.interval)), nil
}

// CleanIfDue runs a full pass when the interval has elapsed since the last
// one. Callers arriving while a pass is in progress return immediately
// without running another.
func (c *Cleaner) CleanIfDue(ctx context.Context) (bool, Result, error) {
	if c.interval <= 0 {
		return false, Result{}, nil
	}
	if !c.mu.TryLock() {
		return false, Result{}, nil
	}
	defer c.mu.Unlock()

	due, err := c.Due(ctx)
	if err != nil || !due {
		return false, Result{}, err
	}
	res, err := c.clean(ctx, All())
	return true, res, err
}

// Clean runs a pass now, regardless of the interval.
func (c *Cleaner) Clean(ctx context.Context, tasks Tasks) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clean(ctx, tasks)
}

func (c *Cleaner) clean(ctx context.Context, tasks Tasks) (res Result, err error) {
	ctx, span := c.tracer.Start(ctx, "conduit.clean",
		attribute.Bool("conduit.clean.sessions", tasks.Sessions),
		attribute.Bool("conduit.clean.user_data", tasks.UserData))
	defer func() { middleware.End(span, err) }()

	start := c.now()
	if err := c.store.SetCleanedAt(ctx, start); err != nil {
		return res, fmt.Errorf("recording clean time: %w", err)
	}

	if tasks.Sessions {
		res.Sessions, err = c.cleanSessions(ctx)
		if err != nil {
			return res, err
		}
	}
	if tasks.UserData {
		res.UserData, err = c.cleanUserData(ctx)
		if err != nil {
			return res, err
		}
	}

	res.Duration = c.now().Sub(start)
	c.metrics.CleanerPass(res.Duration)
	span.SetAttributes(
		attribute.Int("conduit.clean.sessions_deleted", res.Sessions),
		attribute.Int("conduit.clean.user_data_deleted", res.UserData))
	c.logger.Info("clean finished",
		"sessions_deleted", res.Sessions,
		"user_data_deleted", res.UserData,
		"duration", res.Duration)
	return res, nil
}

func (c *Cleaner) cleanSessions(ctx context.Context) (int, error) {
	start := c.now()
	n, err := c.store.DeleteExpired(ctx, c.sessionMaxAge)
	if err != nil {
		return 0, fmt.Errorf("cleaning %s: %w", TaskSessions, err)
	}
	c.metrics.Cleaned("sessions", n)
	c.inspectDuration(start, TaskSessions)
	return n, nil
}

func (c *Cleaner) cleanUserData(ctx context.Context) (int, error) {
	if c.users == nil {
		c.logger.Debug("no user directory, skipping user data")
		return 0, nil
	}
	start := c.now()
	pks, err := c.users.UserPKs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing users: %w", err)
	}
	n, err := c.store.DeleteOrphanUserData(ctx, pks)
	if err != nil {
		return 0, fmt.Errorf("cleaning %s: %w", TaskUserData, err)
	}
	c.metrics.Cleaned("user_data", n)
	c.inspectDuration(start, TaskUserData)
	return n, nil
}

func (c *Cleaner) inspectDuration(start time.Time, task string) {
	d := c.now().Sub(start)
	if d > c.slow {
		c.logger.Warn("clean task is slow, consider reducing the clean interval or increasing the session max age",
			"task", task,
			"duration", d)
	}
}

// OnUserDeleted removes a deleted user's data immediately.
func (c *Cleaner) OnUserDeleted(ctx context.Context, userPK string) error {
	if err := c.store.DeleteUserData(ctx, userPK); err != nil {
		return fmt.Errorf("deleting user data for %s: %w", userPK, err)
	}
	c.metrics.Cleaned("user_data", 1)
	return nil
}
