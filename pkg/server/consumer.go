package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/conduit/internal/queue"
	"github.com/vango-dev/conduit/pkg/auth"
	"github.com/vango-dev/conduit/pkg/connection"
	"github.com/vango-dev/conduit/pkg/hooks"
	"github.com/vango-dev/conduit/pkg/layout"
	"github.com/vango-dev/conduit/pkg/middleware"
	"github.com/vango-dev/conduit/pkg/registry"
	"github.com/vango-dev/conduit/pkg/store"
)

// consumer serves one connection. It is the connection's Carrier.
type consumer struct {
	srv         *Server
	ws          *websocket.Conn
	componentID string
	sessionID   string
	user        connection.User
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// writeMu serializes data frames; control frames may interleave.
	writeMu sync.Mutex

	// out feeds the backhaul writer; nil when writes are inline.
	out *queue.Queue[[]byte]

	closeOnce sync.Once
	closing   atomic.Bool
	failure   atomic.Pointer[error]
	readDone  chan struct{}
}

var _ connection.Carrier = (*consumer)(nil)

// handleConsumer is the http.HandlerFunc of the consumer route.
func (s *Server) handleConsumer(w http.ResponseWriter, r *http.Request) {
	componentID := chi.URLParam(r, "component_id")
	sessionID := chi.URLParam(r, "uuid")
	logger := s.base.With("component", "consumer", "component_id", componentID)

	// Authenticating: derived from the upgrade request so that a freshly
	// minted session key can ride on the 101 response.
	principal, err := s.backend.Authenticate(r)
	if err != nil {
		logger.Warn("authentication failed, continuing as anonymous", "error", err)
		principal = auth.Anonymous
	}
	header := http.Header{}
	sessionKey := ""
	if ck, err := r.Cookie(s.bridge.SessionCookie()); err == nil && ck.Value != "" {
		sessionKey = ck.Value
	} else {
		sessionKey = auth.NewSessionKey()
		header.Add("Set-Cookie", (&http.Cookie{
			Name:     s.bridge.SessionCookie(),
			Value:    sessionKey,
			Path:     "/",
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		}).String())
	}

	ws, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &consumer{
		srv:         s,
		ws:          ws,
		componentID: componentID,
		sessionID:   sessionID,
		user:        principal,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		readDone:    make(chan struct{}),
	}
	if !s.track(c) {
		_ = c.Disconnect(websocket.CloseGoingAway)
		return
	}
	defer s.untrack(c)

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()
	s.cleanLazily()

	spanCtx, span := s.tracer.Start(ctx, "conduit.connection",
		middleware.ConnectionAttrs(componentID, sessionID)...)
	outcome, err := c.run(spanCtx, r, principal, sessionKey)
	middleware.End(span, err)
	s.metrics.ConnectionFinished(outcome)
}

// run drives the consumer from Resolving to Closed.
func (c *consumer) run(ctx context.Context, r *http.Request, principal auth.Principal, sessionKey string) (string, error) {
	defer c.cancel()
	s := c.srv

	// Resolving
	ctor, ok := s.registry.Lookup(c.componentID)
	if !ok {
		c.logger.Warn("component not registered")
		_ = c.Disconnect(websocket.ClosePolicyViolation)
		return middleware.OutcomeNotRegistered, ErrNotRegistered
	}

	// Constructing
	var params store.Params
	if ctor.HasParams() {
		p, err := store.ResumeParams(ctx, s.store, c.sessionID, s.config.ReconnectMax)
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("component session expired beyond RECONNECT_MAX or not found",
				"session_id", c.sessionID)
			_ = c.Disconnect(websocket.ClosePolicyViolation)
			return middleware.OutcomeExpired, ErrSessionExpired
		}
		if err != nil {
			cerr := newConsumerError(c.componentID, "resume", ErrConstruction, err)
			c.logger.Error("reading component session failed", "error", err)
			_ = c.Disconnect(websocket.CloseInternalServerErr)
			return middleware.OutcomeConstructionError, cerr
		}
		params = p
	}
	root, err := construct(ctor, params)
	if err != nil {
		cerr := newConsumerError(c.componentID, "construct", ErrConstruction, err)
		c.logger.Error("failed to construct component",
			"constructor", ctor.Name,
			"args", params.Args,
			"kwargs", params.Kwargs,
			"error", err)
		_ = c.Disconnect(websocket.CloseInternalServerErr)
		return middleware.OutcomeConstructionError, cerr
	}

	// Serving
	conn := &connection.Connection{
		Scope:    connection.NewScope(scopeOf(r, principal, sessionKey, c.sessionID)),
		Location: locationOf(r),
		Carrier:  c,
	}
	l := layout.NewLayout(root,
		layout.WithLogger(c.logger),
		hooks.Install(s.runtime),
		connection.Install(conn),
		auth.Install(s.bridge))
	defer l.Close()

	events := queue.New[layout.Event]()
	go c.readLoop(events)
	go c.heartbeat(ctx)

	var writerDone chan struct{}
	if s.config.BackhaulThread {
		c.out = queue.New[[]byte]()
		writerDone = make(chan struct{})
		go c.writeLoop(ctx, writerDone)
	}

	err = layout.Serve(ctx, l, c.send, c.recv(events))

	failure := c.failed()
	if failure == nil && c.closing.Load() {
		_ = c.shutdown(websocket.CloseNormalClosure)
		c.wait(writerDone)
		return middleware.OutcomeServed, nil
	}
	if failure == nil {
		failure = err
	}
	derr := newConsumerError(c.componentID, "dispatch", ErrDispatch, failure)
	c.logger.Error("dispatch error", "error", failure)
	_ = c.shutdown(websocket.CloseInternalServerErr)
	c.wait(writerDone)
	return middleware.OutcomeDispatchError, derr
}

func (c *consumer) wait(writerDone chan struct{}) {
	<-c.readDone
	if c.out != nil {
		c.out.Close()
		<-writerDone
	}
}

// construct runs the constructor, converting panics to errors.
func construct(ctor *registry.Constructor, p store.Params) (root *layout.Component, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return ctor.New(p.Args, p.Kwargs)
}

func scopeOf(r *http.Request, principal auth.Principal, sessionKey, sessionID string) map[string]any {
	origin := r.Header.Get("Origin")
	if origin == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		origin = scheme + "://" + r.Host
	}
	return map[string]any{
		"type":                "websocket",
		"path":                r.URL.Path,
		"query_string":        r.URL.RawQuery,
		"headers":             r.Header.Clone(),
		"client":              r.RemoteAddr,
		"origin":              origin,
		"user":                principal,
		auth.ScopeSessionKey:  sessionKey,
		connection.PrivateKey: connection.NewPrivate(sessionID),
	}
}

// locationOf prefers the page location the client passes as http_pathname
// and http_search over the socket URL itself.
func locationOf(r *http.Request) connection.Location {
	q := r.URL.Query()
	if p := q.Get("http_pathname"); p != "" {
		return connection.NewLocation(p, strings.TrimPrefix(q.Get("http_search"), "?"))
	}
	return connection.NewLocation(r.URL.Path, r.URL.RawQuery)
}

// =============================================================================
// Transport loops
// =============================================================================

// readLoop decodes inbound frames onto events until the socket fails.
func (c *consumer) readLoop(events *queue.Queue[layout.Event]) {
	defer close(c.readDone)
	defer c.cancel()
	defer events.Close()

	cfg := c.srv.config
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closing.Load() && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				c.logger.Debug("read error", "error", err)
			}
			c.closing.Store(true)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))

		var ev layout.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			c.logger.Warn("discarding malformed message", "error", err)
			continue
		}
		if ev.Type != layout.TypeLayoutEvent {
			c.logger.Debug("ignoring message", "type", ev.Type)
			continue
		}
		c.srv.metrics.EventReceived()
		if err := events.Push(ev); err != nil {
			return
		}
	}
}

// recv pops the next event. The time between pops is the previous
// event's delivery time.
func (c *consumer) recv(events *queue.Queue[layout.Event]) layout.RecvFunc {
	var popped time.Time
	return func(ctx context.Context) (layout.Event, error) {
		if !popped.IsZero() {
			c.srv.metrics.EventDelivered(time.Since(popped))
		}
		ev, err := events.Pop(ctx)
		popped = time.Now()
		return ev, err
	}
}

// send encodes u and writes it, or hands it to the backhaul writer.
func (c *consumer) send(_ context.Context, u layout.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}
	if c.out != nil {
		if err := c.out.Push(data); err != nil {
			return ErrConnectionClosed
		}
		return nil
	}
	return c.write(data)
}

func (c *consumer) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.srv.config.WriteTimeout)); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		if c.closing.Load() {
			return ErrConnectionClosed
		}
		return err
	}
	c.srv.metrics.UpdateSent()
	return nil
}

// writeLoop is the backhaul writer. A failed write ends the serve loop.
func (c *consumer) writeLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		data, err := c.out.Pop(ctx)
		if err != nil {
			return
		}
		if err := c.write(data); err != nil {
			if !c.closing.Load() {
				c.fail(err)
			}
			c.cancel()
			return
		}
	}
}

// heartbeat pings until ctx is done.
func (c *consumer) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.srv.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.srv.config.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *consumer) fail(err error) {
	c.failure.CompareAndSwap(nil, &err)
}

func (c *consumer) failed() error {
	if p := c.failure.Load(); p != nil {
		return *p
	}
	return nil
}

// shutdown sends a close frame with code and closes the socket once.
func (c *consumer) shutdown(code int) error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		msg := websocket.FormatCloseMessage(code, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.srv.config.WriteTimeout))
		err = c.ws.Close()
		c.cancel()
	})
	return err
}

// =============================================================================
// Carrier
// =============================================================================

// Close implements connection.Carrier.
func (c *consumer) Close() error {
	return c.shutdown(websocket.CloseNormalClosure)
}

// Disconnect implements connection.Carrier.
func (c *consumer) Disconnect(code int) error {
	return c.shutdown(code)
}

// ComponentID implements connection.Carrier.
func (c *consumer) ComponentID() string {
	return c.componentID
}

// User implements connection.Carrier.
func (c *consumer) User() connection.User {
	return c.user
}

// cleanLazily starts a cleaner pass in the background when one is due.
func (s *Server) cleanLazily() {
	if s.cleaner == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, _, err := s.cleaner.CleanIfDue(context.Background()); err != nil {
			s.logger.Warn("cleaner pass failed", "code", "R002", "error", err)
		}
	}()
}
