package store

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for missing or expired sessions.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when Put targets an existing uuid.
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrInvalidID is returned for ids that are not 32 hex digits.
	ErrInvalidID = errors.New("store: invalid session id")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store: closed")
)

// Store is implemented by every backend. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put creates a component session. It never overwrites.
	Put(ctx context.Context, id string, params []byte) error

	// TouchAndGet returns the parameters of a session whose last access is
	// no older than maxAge, advancing last_accessed in the same step.
	// Missing and expired sessions both yield ErrNotFound.
	TouchAndGet(ctx context.Context, id string, maxAge time.Duration) ([]byte, error)

	// LastAccessed reports when a session was last resumed.
	LastAccessed(ctx context.Context, id string) (time.Time, error)

	// DeleteExpired removes sessions with last_accessed <= now - maxAge.
	DeleteExpired(ctx context.Context, maxAge time.Duration) (int, error)

	// GetUserData returns the stored blob for a user.
	GetUserData(ctx context.Context, userPK string) (data []byte, found bool, err error)

	// UpsertUserData stores a user's blob. Last writer wins.
	UpsertUserData(ctx context.Context, userPK string, data []byte) error

	// DeleteUserData removes a user's blob. Missing rows are not an error.
	DeleteUserData(ctx context.Context, userPK string) error

	// DeleteOrphanUserData removes blobs whose user is not in validPKs.
	DeleteOrphanUserData(ctx context.Context, validPKs []string) (int, error)

	// CleanedAt returns the time of the last cleaner pass, or zero.
	CleanedAt(ctx context.Context) (time.Time, error)

	// SetCleanedAt records a cleaner pass.
	SetCleanedAt(ctx context.Context, t time.Time) error

	// Close releases resources.
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// touchTime returns the new last_accessed value. It always moves forward,
// even when the clock does not.
func touchTime(now, prev time.Time) time.Time {
	next := prev.Add(time.Microsecond)
	if now.After(next) {
		return now
	}
	return next
}

// NewID returns a new session id: a random uuid as 32 lowercase hex digits.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// ValidID reports whether id is 32 hex digits.
func ValidID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}
