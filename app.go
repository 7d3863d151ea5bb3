package conduit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/conduit/internal/config"
	cerrors "github.com/vango-dev/conduit/internal/errors"
	"github.com/vango-dev/conduit/pkg/auth"
	"github.com/vango-dev/conduit/pkg/cache"
	"github.com/vango-dev/conduit/pkg/cleaner"
	"github.com/vango-dev/conduit/pkg/hooks"
	"github.com/vango-dev/conduit/pkg/middleware"
	"github.com/vango-dev/conduit/pkg/registry"
	"github.com/vango-dev/conduit/pkg/server"
	"github.com/vango-dev/conduit/pkg/store"
	"github.com/vango-dev/conduit/pkg/views"
	"github.com/vango-dev/conduit/pkg/webmodule"
)

// =============================================================================
// App Type
// =============================================================================

// App wires every runtime collaborator from one Config and serves them as a
// single http.Handler. Requests outside the runtime's paths go to the host
// handler set with WithHandler.
type App struct {
	config *config.Config

	server   *server.Server
	registry *registry.Registry
	store    store.Store
	cleaner  *cleaner.Cleaner
	runtime  *hooks.Runtime
	caches   *cache.Caches
	views    *views.Registry
	modules  webmodule.Source

	metrics *middleware.Metrics
	gather  prometheus.Gatherer

	handler http.Handler
	mux     http.Handler
	logger  *slog.Logger
}

// Option configures an App.
type Option func(*options)

type options struct {
	registry *registry.Registry
	logger   *slog.Logger
	handler  http.Handler
	prom     *prometheus.Registry
	tracing  trace.TracerProvider
	s3       webmodule.ObjectGetter
	users    []string
	views    *views.Registry
}

// WithRegistry sets the component registry. Default: registry.Default().
func WithRegistry(r *registry.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHandler serves every request the runtime does not own.
func WithHandler(h http.Handler) Option {
	return func(o *options) { o.handler = h }
}

// WithPrometheus registers runtime collectors on reg instead of a private
// registry.
func WithPrometheus(reg *prometheus.Registry) Option {
	return func(o *options) { o.prom = reg }
}

// WithTracerProvider traces connections, cleaner passes and endpoints.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracing = tp }
}

// WithS3Client sets the client web modules are read with when
// web_modules.s3_bucket is configured. Default: a client configured from
// the AWS_* environment.
func WithS3Client(c webmodule.ObjectGetter) Option {
	return func(o *options) { o.s3 = c }
}

// WithUsers fixes the user primary keys orphan cleanup compares against.
func WithUsers(pks []string) Option {
	return func(o *options) { o.users = pks }
}

// WithViews sets the iframe view registry.
func WithViews(v *views.Registry) Option {
	return func(o *options) { o.views = v }
}

// New opens the datastore and builds the runtime described by cfg.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.New()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = registry.Default()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.prom == nil {
		o.prom = prometheus.NewRegistry()
		o.prom.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	logger := o.logger
	o.registry.SetLogger(logger.With("component", "registry"))

	a := &App{
		config:   cfg,
		registry: o.registry,
		handler:  o.handler,
		gather:   o.prom,
		logger:   logger.With("component", "app"),
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening datastore: %w", err)
	}
	a.store = st

	a.metrics = middleware.NewMetrics(middleware.WithRegistry(o.prom))
	var tracer *middleware.Tracer
	if o.tracing != nil {
		tracer = middleware.NewTracer(middleware.WithTracerProvider(o.tracing))
	}

	a.cleaner = cleaner.New(st,
		cleaner.WithUsers(store.OpenUserDirectory(st, cfg.Database, o.users)),
		cleaner.WithSessionMaxAge(cfg.SessionMaxAgeDuration()),
		cleaner.WithInterval(cfg.CleanIntervalDuration()),
		cleaner.WithLogger(logger.With("component", "cleaner")),
		cleaner.WithMetrics(a.metrics),
		cleaner.WithTracer(tracer))

	a.runtime = hooks.NewRuntime(cfg.Workers)
	a.runtime.Store = st
	a.runtime.Logger = logger.With("component", "hooks")
	if pp, ok := hooks.LookupPostprocessor(cfg.DefaultQueryPostprocessor); ok {
		a.runtime.DefaultPostprocessor = pp
	}

	a.caches = cache.NewCaches()
	c, ok := a.caches.Get(cfg.Cache)
	if !ok {
		a.logger.Warn("unknown cache, using default", "cache", cfg.Cache)
		c, _ = a.caches.Get(cache.DefaultName)
	}

	backend, err := auth.NewBackend(cfg.AuthBackend, auth.BackendOptions{
		Secret: []byte(cfg.AuthSecret),
		Header: cfg.AuthHeader,
	})
	if err != nil {
		// Reported as C006 by Check.
		a.logger.Warn("auth backend unavailable, continuing without one", "backend", cfg.AuthBackend, "error", err)
		backend = auth.NoneBackend{}
	}
	var issuer auth.Issuer
	if i, ok := backend.(auth.Issuer); ok {
		issuer = i
	}
	bridge := auth.NewBridge(c,
		auth.WithTimeout(cfg.AuthTimeoutDuration()),
		auth.WithBasePath(cfg.BasePath),
		auth.WithIssuer(issuer),
		auth.WithBridgeLogger(logger.With("component", "auth")))

	a.views = o.views
	if a.views == nil {
		a.views = views.NewRegistry(
			views.WithBasePath(cfg.BasePath),
			views.WithLogger(logger.With("component", "views")))
	}

	srvOpts := []server.Option{
		server.WithRegistry(a.registry),
		server.WithStore(st),
		server.WithCleaner(a.cleaner),
		server.WithRuntime(a.runtime),
		server.WithBackend(backend),
		server.WithBridge(bridge),
		server.WithViews(a.views),
		server.WithMetrics(a.metrics),
		server.WithTracer(tracer),
		server.WithLogger(logger),
		server.WithAppConfig(cfg),
	}
	if src := a.moduleSource(o.s3); src != nil {
		a.modules = src
		modules := webmodule.NewHandler(src,
			webmodule.WithCache(c),
			webmodule.WithLogger(logger.With("component", "webmodule")))
		srvOpts = append(srvOpts, server.WithWebModules(modules))
	}
	a.server = server.New(server.FromConfig(cfg), srvOpts...)
	a.mux = a.server.Handler()
	return a, nil
}

// moduleSource picks the web module source: S3 when a bucket is set, then
// a directory, else none.
func (a *App) moduleSource(client webmodule.ObjectGetter) webmodule.Source {
	wm := a.config.WebModules
	switch {
	case wm.S3Bucket != "":
		if client == nil {
			client = envS3Client()
		}
		return webmodule.NewS3Source(client, wm.S3Bucket, wm.S3Prefix)
	case wm.Dir != "":
		return webmodule.NewDirSource(wm.Dir)
	}
	return nil
}

// envS3Client builds an S3 client from AWS_REGION, AWS_ENDPOINT_URL_S3 and
// the static AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY pair.
func envS3Client() *s3.Client {
	opts := s3.Options{
		Region: os.Getenv("AWS_REGION"),
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
				SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
				Source:          "environment",
			}, nil
		}),
	}
	if endpoint := os.Getenv("AWS_ENDPOINT_URL_S3"); endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// =============================================================================
// http.Handler Implementation
// =============================================================================

// ServeHTTP routes runtime paths to the server and everything else to the
// host handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.owns(r.URL.Path) || a.handler == nil {
		a.mux.ServeHTTP(w, r)
		return
	}
	a.handler.ServeHTTP(w, r)
}

func (a *App) owns(path string) bool {
	if strings.HasPrefix(path, a.server.Config().BasePath) {
		return true
	}
	ws := a.config.WebsocketPattern()
	return ws == "/" || path == ws || strings.HasPrefix(path, ws+"/")
}

// MetricsHandler serves the runtime collectors in the Prometheus text
// format.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.gather, promhttp.HandlerOpts{})
}

// =============================================================================
// Lifecycle
// =============================================================================

// Discover scans the configured template directories and registers every
// component found.
func (a *App) Discover() (found, failed []string, err error) {
	return a.registry.Discover(a.config.TemplateDirs, a.config.TemplateExts)
}

// Check runs the startup checks.
func (a *App) Check() []*cerrors.Error {
	return a.server.Check()
}

// CleanIfDue runs a full cleaner pass when clean_interval has elapsed.
func (a *App) CleanIfDue(ctx context.Context) (bool, cleaner.Result, error) {
	return a.cleaner.CleanIfDue(ctx)
}

// StartupClean runs a full cleaner pass regardless of clean_interval. It is
// the process-start trigger; clean_interval only gates the lazy one.
func (a *App) StartupClean(ctx context.Context) (cleaner.Result, error) {
	return a.cleaner.Clean(ctx, cleaner.All())
}

// Clean runs a cleaner pass now.
func (a *App) Clean(ctx context.Context, tasks cleaner.Tasks) (cleaner.Result, error) {
	return a.cleaner.Clean(ctx, tasks)
}

// ListenAndServe serves on the configured address until ctx is done.
func (a *App) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.server.Config().Address,
		Handler:           a,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "address", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.server.Config().ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("closing connections", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}

// Close stops the executor and releases the caches, the web module
// directory and the datastore.
func (a *App) Close() error {
	_ = a.runtime.Close()
	_ = a.caches.Close()
	if c, ok := a.modules.(io.Closer); ok {
		_ = c.Close()
	}
	return a.store.Close()
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config { return a.config }

// Server returns the runtime server.
func (a *App) Server() *server.Server { return a.server }

// Registry returns the component registry.
func (a *App) Registry() *registry.Registry { return a.registry }

// Store returns the datastore.
func (a *App) Store() store.Store { return a.store }

// Views returns the iframe view registry.
func (a *App) Views() *views.Registry { return a.views }
