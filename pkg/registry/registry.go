package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
)

var (
	// ErrImportFailed is returned when no constructor is provided for an id.
	ErrImportFailed = errors.New("registry: component could not be imported")

	// ErrAlreadyRegistered is returned when an id is registered with a
	// different constructor.
	ErrAlreadyRegistered = errors.New("registry: component already registered")
)

// RegistrationError describes a failed registration.
type RegistrationError struct {
	ID  string
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registering %q: %v", e.ID, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

var idRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ValidID reports whether id is a dotted identifier.
func ValidID(id string) bool {
	return idRe.MatchString(id)
}

// Registry is a catalog of provided constructors plus the set of
// registered and failed identifiers. Reads never block.
type Registry struct {
	catalog    sync.Map // id -> *Constructor
	registered sync.Map // id -> *Constructor
	failed     sync.Map // id -> error
	logger     *slog.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{logger: slog.Default().With("component", "registry")}
}

// SetLogger replaces the registry logger.
func (r *Registry) SetLogger(l *slog.Logger) {
	r.logger = l.With("component", "registry")
}

// Provide makes c available under id for later registration.
func (r *Registry) Provide(id string, c *Constructor) {
	r.catalog.Store(id, c)
}

// Register registers the constructor provided for id and returns it. It is
// idempotent. An unknown id is recorded as failed and reported as a
// *RegistrationError wrapping ErrImportFailed.
func (r *Registry) Register(id string) (*Constructor, error) {
	if c, ok := r.registered.Load(id); ok {
		return c.(*Constructor), nil
	}
	if !ValidID(id) {
		return nil, r.fail(id, fmt.Errorf("%w: invalid identifier", ErrImportFailed))
	}
	c, ok := r.catalog.Load(id)
	if !ok {
		return nil, r.fail(id, ErrImportFailed)
	}
	actual, _ := r.registered.LoadOrStore(id, c)
	r.failed.Delete(id)
	return actual.(*Constructor), nil
}

// RegisterConstructor registers c directly under id. Registering the same
// constructor again is a no-op; a different one fails with
// ErrAlreadyRegistered.
func (r *Registry) RegisterConstructor(id string, c *Constructor) error {
	if !ValidID(id) {
		return &RegistrationError{ID: id, Err: fmt.Errorf("%w: invalid identifier", ErrImportFailed)}
	}
	actual, loaded := r.registered.LoadOrStore(id, c)
	if loaded && actual.(*Constructor) != c {
		return &RegistrationError{ID: id, Err: ErrAlreadyRegistered}
	}
	r.catalog.LoadOrStore(id, c)
	r.failed.Delete(id)
	return nil
}

func (r *Registry) fail(id string, err error) error {
	if _, seen := r.failed.LoadOrStore(id, err); !seen {
		r.logger.Warn("component registration failed", "component_id", id, "error", err)
	}
	return &RegistrationError{ID: id, Err: err}
}

// Lookup returns the registered constructor for id.
func (r *Registry) Lookup(id string) (*Constructor, bool) {
	c, ok := r.registered.Load(id)
	if !ok {
		return nil, false
	}
	return c.(*Constructor), true
}

// IDs returns the registered identifiers, sorted.
func (r *Registry) IDs() []string {
	return sortedKeys(&r.registered)
}

// Failed returns the identifiers whose registration failed, sorted.
func (r *Registry) Failed() []string {
	return sortedKeys(&r.failed)
}

// Provided returns every identifier in the catalog, sorted.
func (r *Registry) Provided() []string {
	return sortedKeys(&r.catalog)
}

func sortedKeys(m *sync.Map) []string {
	var out []string
	m.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// RegisterAll registers every id and returns the ones that failed.
func (r *Registry) RegisterAll(ids []string) []string {
	var failed []string
	for _, id := range ids {
		if _, err := r.Register(id); err != nil {
			failed = append(failed, id)
		}
	}
	return failed
}

// =============================================================================
// Process registry
// =============================================================================

var defaultRegistry = New()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Provide adds c to the process registry's catalog.
func Provide(id string, c *Constructor) {
	defaultRegistry.Provide(id, c)
}

// Register registers id in the process registry.
func Register(id string) (*Constructor, error) {
	return defaultRegistry.Register(id)
}

// Lookup reads the process registry.
func Lookup(id string) (*Constructor, bool) {
	return defaultRegistry.Lookup(id)
}
