// Package views serves plain HTTP views inside iframes so existing pages
// can be embedded in a component tree.
package views

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
)

var (
	// ErrViewNotRegistered is returned for an unknown view path.
	ErrViewNotRegistered = errors.New("views: view not registered")

	// ErrInvalidPath is returned when registering a path that is not a
	// dotted identifier.
	ErrInvalidPath = errors.New("views: invalid view path")
)

// ArgsParam is the query parameter whose values become positional args.
const ArgsParam = "_args"

var pathRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// View renders an HTTP response. kwargs values are strings, or []string for
// keys given more than once.
type View func(w http.ResponseWriter, r *http.Request, args []string, kwargs map[string]any)

// Registry maps dotted paths to views.
type Registry struct {
	mu       sync.RWMutex
	views    map[string]View
	basePath string
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithBasePath sets the prefix the iframe endpoint is mounted under.
func WithBasePath(p string) Option {
	return func(r *Registry) {
		if p != "" {
			r.basePath = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		views:    make(map[string]View),
		basePath: "/_conduit/",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "views")
	return r
}

// Register adds v under path, replacing any previous view.
func (r *Registry) Register(path string, v View) error {
	if !pathRe.MatchString(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	r.mu.Lock()
	r.views[path] = v
	r.mu.Unlock()
	return nil
}

// Lookup returns the view registered under path.
func (r *Registry) Lookup(path string) (View, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[path]
	return v, ok
}

// Paths returns the registered paths, sorted.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.views))
	for p := range r.views {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ViewToIframe returns the iframe URL of a registered view. args are sent as
// repeated _args values and kwargs as query parameters.
func (r *Registry) ViewToIframe(path string, args []string, kwargs url.Values) (string, error) {
	if _, ok := r.Lookup(path); !ok {
		return "", fmt.Errorf("%w: %s", ErrViewNotRegistered, path)
	}
	q := url.Values{}
	for k, vs := range kwargs {
		q[k] = append([]string(nil), vs...)
	}
	if len(args) > 0 {
		q[ArgsParam] = append([]string(nil), args...)
	}
	u := r.basePath + "iframe/" + path
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u, nil
}

// DecodeQuery splits a query into positional args and kwargs. Single values
// are unwrapped; repeated keys stay lists.
func DecodeQuery(q url.Values) ([]string, map[string]any) {
	args := append([]string(nil), q[ArgsParam]...)
	kwargs := make(map[string]any, len(q))
	for k, vs := range q {
		if k == ArgsParam {
			continue
		}
		if len(vs) == 1 {
			kwargs[k] = vs[0]
		} else {
			kwargs[k] = append([]string(nil), vs...)
		}
	}
	return args, kwargs
}

// Handler serves GET /{path}, to be mounted at <base>/iframe.
func (r *Registry) Handler() http.Handler {
	router := chi.NewRouter()
	router.Get("/{path}", r.serve)
	return router
}

func (r *Registry) serve(w http.ResponseWriter, req *http.Request) {
	path := chi.URLParam(req, "path")
	v, ok := r.Lookup(path)
	if !ok {
		http.NotFound(w, req)
		return
	}
	args, kwargs := DecodeQuery(req.URL.Query())
	fw := &frameWriter{ResponseWriter: w}
	r.safeServe(v, fw, req, args, kwargs)
	if !fw.wroteHeader {
		fw.force()
	}
}

// frameWriter pins X-Frame-Options to SAMEORIGIN whatever the view sets,
// applying it when the status line is written.
type frameWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *frameWriter) force() {
	w.Header().Set("X-Frame-Options", "SAMEORIGIN")
}

func (w *frameWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.force()
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *frameWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *frameWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (r *Registry) safeServe(v View, w http.ResponseWriter, req *http.Request, args []string, kwargs map[string]any) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("view panicked",
				"view", chi.URLParam(req, "path"),
				"panic", p,
				"stack", string(debug.Stack()))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}()
	v(w, req, args, kwargs)
}
