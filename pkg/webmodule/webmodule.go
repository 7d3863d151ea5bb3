// Package webmodule serves JavaScript modules that components import on
// the client, from a local directory or an S3 bucket.
package webmodule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vango-dev/conduit/pkg/cache"
)

var (
	// ErrSuspiciousRequest is returned for paths that could leave the
	// module root.
	ErrSuspiciousRequest = errors.New("webmodule: suspicious path")

	// ErrNotFound is returned by a Source for a missing module.
	ErrNotFound = errors.New("webmodule: module not found")
)

// ContentType is sent with every module.
const ContentType = "text/javascript"

// Defaults for the module cache.
const (
	DefaultMaxCached = 64 << 10
	DefaultCacheTTL  = 10 * time.Minute
)

// Source reads module files by slash-separated path relative to its root.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)
}

// CleanPath validates a request path and returns it without a leading or
// trailing slash. Backslashes, NUL bytes, dot segments, empty segments and
// absolute paths fail with ErrSuspiciousRequest. Percent escapes are decoded
// before checking.
func CleanPath(raw string) (string, error) {
	p := raw
	if strings.Contains(p, "%") {
		decoded, err := url.PathUnescape(p)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrSuspiciousRequest, err)
		}
		p = decoded
	}
	if p == "" || strings.HasPrefix(p, "/") {
		return "", ErrSuspiciousRequest
	}
	if strings.ContainsAny(p, "\\\x00") {
		return "", ErrSuspiciousRequest
	}
	p = strings.TrimSuffix(p, "/")
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".", "..":
			return "", ErrSuspiciousRequest
		}
		if len(seg) >= 2 && seg[1] == ':' {
			// Windows drive letter.
			return "", ErrSuspiciousRequest
		}
	}
	return p, nil
}

// Handler serves modules from a Source.
type Handler struct {
	src       Source
	cache     cache.Cache
	maxCached int64
	ttl       time.Duration
	logger    *slog.Logger
	router    chi.Router
}

// Option configures a Handler.
type Option func(*Handler)

// WithCache caches module bodies no larger than the cache limit.
func WithCache(c cache.Cache) Option {
	return func(h *Handler) {
		h.cache = c
	}
}

// WithMaxCached sets the largest body that is cached. Default: 64 KiB.
func WithMaxCached(n int64) Option {
	return func(h *Handler) {
		h.maxCached = n
	}
}

// WithCacheTTL sets how long cached bodies live. Default: 10 minutes.
func WithCacheTTL(d time.Duration) Option {
	return func(h *Handler) {
		h.ttl = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler returns a handler for GET /{path...}, to be mounted at
// <base>/web_module.
func NewHandler(src Source, opts ...Option) *Handler {
	h := &Handler{
		src:       src,
		maxCached: DefaultMaxCached,
		ttl:       DefaultCacheTTL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "web_module")

	r := chi.NewRouter()
	r.Get("/*", h.serve)
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	name, err := CleanPath(chi.URLParam(r, "*"))
	if err != nil {
		h.logger.Warn("rejected web module path", "path", r.URL.Path)
		http.Error(w, "suspicious web module path", http.StatusBadRequest)
		return
	}

	body, err := h.load(r.Context(), name)
	switch {
	case errors.Is(err, ErrSuspiciousRequest):
		h.logger.Warn("web module path escapes the module root", "path", name)
		http.Error(w, "suspicious web module path", http.StatusBadRequest)
		return
	case errors.Is(err, ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		h.logger.Error("reading web module failed", "path", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, _ = w.Write(body)
}

func (h *Handler) load(ctx context.Context, name string) ([]byte, error) {
	key := "conduit:web_module:" + name
	if h.cache != nil {
		if v, ok := h.cache.Get(key); ok {
			if b, ok := v.([]byte); ok {
				return b, nil
			}
		}
	}

	rc, size, err := h.src.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	body := buf.Bytes()
	if h.cache != nil && int64(len(body)) <= h.maxCached {
		h.cache.Set(key, body, h.ttl)
	}
	return body, nil
}
