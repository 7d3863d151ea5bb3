package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/conduit/internal/config"
	"github.com/vango-dev/conduit/pkg/auth"
	"github.com/vango-dev/conduit/pkg/cache"
	"github.com/vango-dev/conduit/pkg/cleaner"
	"github.com/vango-dev/conduit/pkg/hooks"
	"github.com/vango-dev/conduit/pkg/middleware"
	"github.com/vango-dev/conduit/pkg/registry"
	"github.com/vango-dev/conduit/pkg/store"
	"github.com/vango-dev/conduit/pkg/views"
)

// Server owns the collaborators every consumer needs and serves their
// routes.
type Server struct {
	config    *ServerConfig
	appConfig *config.Config

	registry *registry.Registry
	store    store.Store
	cleaner  *cleaner.Cleaner
	runtime  *hooks.Runtime
	backend  auth.Backend
	bridge   *auth.Bridge
	views    *views.Registry
	modules  http.Handler

	metrics *middleware.Metrics
	tracer  *middleware.Tracer

	upgrader websocket.Upgrader
	base     *slog.Logger
	logger   *slog.Logger

	mounted atomic.Bool
	client  clientAsset

	// consumers tracks live connections for shutdown.
	mu        sync.Mutex
	consumers map[*consumer]struct{}
	closing   bool
	wg        sync.WaitGroup

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry sets the component registry. Default: registry.Default().
func WithRegistry(r *registry.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithStore sets the parameter store. Default: an in-memory store.
func WithStore(st store.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithCleaner enables lazy cleaning on connect.
func WithCleaner(c *cleaner.Cleaner) Option {
	return func(s *Server) { s.cleaner = c }
}

// WithRuntime sets the hook runtime. Its Store defaults to the server's.
func WithRuntime(rt *hooks.Runtime) Option {
	return func(s *Server) { s.runtime = rt }
}

// WithBackend sets the auth backend. Default: auth.NoneBackend.
func WithBackend(b auth.Backend) Option {
	return func(s *Server) { s.backend = b }
}

// WithBridge sets the auth bridge. Default: a bridge over a private cache.
func WithBridge(b *auth.Bridge) Option {
	return func(s *Server) { s.bridge = b }
}

// WithViews sets the iframe view registry.
func WithViews(v *views.Registry) Option {
	return func(s *Server) { s.views = v }
}

// WithWebModules sets the web_module handler. Without one the endpoint is
// not mounted.
func WithWebModules(h http.Handler) Option {
	return func(s *Server) { s.modules = h }
}

// WithMetrics records connection and endpoint metrics.
func WithMetrics(m *middleware.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracer traces connections and endpoints.
func WithTracer(t *middleware.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAppConfig keeps the loaded configuration for Check.
func WithAppConfig(cfg *config.Config) Option {
	return func(s *Server) { s.appConfig = cfg }
}

// New creates a Server. A nil cfg uses DefaultServerConfig.
func New(cfg *ServerConfig, opts ...Option) *Server {
	if cfg == nil {
		cfg = DefaultServerConfig()
	} else {
		cfg = cfg.Clone()
	}
	cfg.fill()

	s := &Server{
		config:    cfg,
		logger:    slog.Default(),
		consumers: make(map[*consumer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.base = s.logger
	s.logger = s.base.With("component", "server")

	if s.registry == nil {
		s.registry = registry.Default()
	}
	if s.store == nil {
		s.store = store.NewMemoryStore()
	}
	if s.runtime == nil {
		s.runtime = hooks.NewRuntime(0)
	}
	if s.runtime.Store == nil {
		s.runtime.Store = s.store
	}
	if s.backend == nil {
		s.backend = auth.NoneBackend{}
	}
	if s.bridge == nil {
		var issuer auth.Issuer
		if i, ok := s.backend.(auth.Issuer); ok {
			issuer = i
		}
		s.bridge = auth.NewBridge(cache.NewMemory(),
			auth.WithBasePath(cfg.BasePath),
			auth.WithIssuer(issuer),
			auth.WithBridgeLogger(s.logger))
	}
	if s.views == nil {
		s.views = views.NewRegistry(views.WithBasePath(cfg.BasePath), views.WithLogger(s.logger))
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     cfg.CheckOrigin,
	}
	return s
}

// =============================================================================
// HTTP Handler
// =============================================================================

// Handler returns the router serving consumer routes and the HTTP
// endpoints. Mount it at the site root.
//
//	r := chi.NewRouter()
//	r.Mount("/", srv.Handler())
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	consumerRoute := s.config.websocketPrefix() + "/{component_id}/{uuid:[0-9a-f]{32}}/"
	r.Get(consumerRoute, s.handleConsumer)

	base := s.config.BasePath
	if s.modules != nil {
		r.Mount(base+"web_module", s.instrument("web_module", s.modules))
	}
	r.Mount(base+"iframe", s.instrument("iframe", s.views.Handler()))
	r.Mount(base+"auth", s.instrument("auth", s.bridge.Handler()))
	if s.config.ClientAsset != "" {
		r.Get(base+"client.js", s.serveClient)
	}

	s.mounted.Store(true)
	return r
}

func (s *Server) instrument(endpoint string, h http.Handler) http.Handler {
	return middleware.Instrument(endpoint, s.metrics, s.tracer)(h)
}

// ConnectPath returns the path a client opens for a prepared component.
func (s *Server) ConnectPath(componentID, sessionID string) string {
	return s.config.websocketPrefix() + "/" + componentID + "/" + sessionID + "/"
}

// PrepareComponent registers id, validates the arguments and, when the
// constructor declares parameters, stores them under a new session uuid.
// The uuid is returned either way so the client URL has one.
func (s *Server) PrepareComponent(ctx context.Context, id string, args []any, kwargs map[string]any) (componentID, sessionID string, err error) {
	c, err := s.registry.Register(id)
	if err != nil {
		return "", "", err
	}
	if _, err := c.Bind(args, kwargs); err != nil {
		return "", "", fmt.Errorf("%s: %w", id, err)
	}

	sessionID = store.NewID()
	if c.HasParams() {
		if err := store.PutParams(ctx, s.store, sessionID, store.Params{Args: args, Kwargs: kwargs}); err != nil {
			return "", "", fmt.Errorf("storing parameters of %s: %w", id, err)
		}
	}
	return id, sessionID, nil
}

// ListenAndServe serves on the configured address until ctx is done, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.config.Address)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown closes every live connection and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	s.closing = true
	live := make([]*consumer, 0, len(s.consumers))
	for c := range s.consumers {
		live = append(live, c)
	}
	s.mu.Unlock()
	for _, c := range live {
		_ = c.Disconnect(websocket.CloseGoingAway)
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Wait blocks until every consumer and background cleaner pass has
// finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// track adds c to the live set. It fails once shutdown has begun.
func (s *Server) track(c *consumer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.consumers[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *consumer) {
	s.mu.Lock()
	delete(s.consumers, c)
	s.mu.Unlock()
	s.wg.Done()
}

// ActiveConnections returns the number of live consumers.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumers)
}

// Registry returns the component registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Store returns the parameter store.
func (s *Server) Store() store.Store {
	return s.store
}

// Runtime returns the hook runtime.
func (s *Server) Runtime() *hooks.Runtime {
	return s.runtime
}

// Bridge returns the auth bridge.
func (s *Server) Bridge() *auth.Bridge {
	return s.bridge
}

// Views returns the iframe view registry.
func (s *Server) Views() *views.Registry {
	return s.views
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}
