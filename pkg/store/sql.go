package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const (
	tableSessions = "component_sessions"
	tableUserData = "user_data"
	tableConfig   = "conduit_config"
)

// SQLStore implements Store on PostgreSQL. The schema is created by
// Migrate.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, opts ...Option) *SQLStore {
	o := buildOptions(opts)
	return &SQLStore{db: db, now: o.now}
}

// DB returns the underlying database.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Put implements Store.
func (s *SQLStore) Put(ctx context.Context, id string, params []byte) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	query, args, err := psq.Insert(tableSessions).
		Columns("uuid", "params", "last_accessed").
		Values(id, params, s.now()).
		Suffix("ON CONFLICT (uuid) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("inserting component session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inserting component session: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// TouchAndGet implements Store with a single UPDATE ... RETURNING, so the
// age check and the touch cannot be separated by another writer.
func (s *SQLStore) TouchAndGet(ctx context.Context, id string, maxAge time.Duration) ([]byte, error) {
	now := s.now()
	query, args, err := psq.Update(tableSessions).
		Set("last_accessed", sq.Expr("GREATEST(?::timestamptz, last_accessed + INTERVAL '1 microsecond')", now)).
		Where(sq.Eq{"uuid": id}).
		Where(sq.GtOrEq{"last_accessed": now.Add(-maxAge)}).
		Suffix("RETURNING params").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building touch: %w", err)
	}
	var params []byte
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("touching component session: %w", err)
	}
	return params, nil
}

// LastAccessed implements Store.
func (s *SQLStore) LastAccessed(ctx context.Context, id string) (time.Time, error) {
	query, args, err := psq.Select("last_accessed").From(tableSessions).Where(sq.Eq{"uuid": id}).ToSql()
	if err != nil {
		return time.Time{}, fmt.Errorf("building select: %w", err)
	}
	var t time.Time
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("reading last_accessed: %w", err)
	}
	return t, nil
}

// DeleteExpired implements Store.
func (s *SQLStore) DeleteExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	query, args, err := psq.Delete(tableSessions).
		Where(sq.LtOrEq{"last_accessed": s.now().Add(-maxAge)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building delete: %w", err)
	}
	return s.execCount(ctx, "deleting expired sessions", query, args)
}

// GetUserData implements Store.
func (s *SQLStore) GetUserData(ctx context.Context, userPK string) ([]byte, bool, error) {
	query, args, err := psq.Select("data").From(tableUserData).Where(sq.Eq{"user_pk": userPK}).ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("building select: %w", err)
	}
	var data []byte
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading user data: %w", err)
	}
	return data, true, nil
}

// UpsertUserData implements Store.
func (s *SQLStore) UpsertUserData(ctx context.Context, userPK string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	query, args, err := psq.Insert(tableUserData).
		Columns("user_pk", "data", "updated_at").
		Values(userPK, data, s.now()).
		Suffix("ON CONFLICT (user_pk) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting user data: %w", err)
	}
	return nil
}

// DeleteUserData implements Store.
func (s *SQLStore) DeleteUserData(ctx context.Context, userPK string) error {
	query, args, err := psq.Delete(tableUserData).Where(sq.Eq{"user_pk": userPK}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting user data: %w", err)
	}
	return nil
}

// DeleteOrphanUserData implements Store.
func (s *SQLStore) DeleteOrphanUserData(ctx context.Context, validPKs []string) (int, error) {
	qb := psq.Delete(tableUserData)
	if len(validPKs) > 0 {
		qb = qb.Where(sq.NotEq{"user_pk": validPKs})
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building delete: %w", err)
	}
	return s.execCount(ctx, "deleting orphan user data", query, args)
}

// CleanedAt implements Store.
func (s *SQLStore) CleanedAt(ctx context.Context) (time.Time, error) {
	query, args, err := psq.Select("cleaned_at").From(tableConfig).Where(sq.Eq{"id": 1}).ToSql()
	if err != nil {
		return time.Time{}, fmt.Errorf("building select: %w", err)
	}
	var t time.Time
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("reading cleaned_at: %w", err)
	}
	return t, nil
}

// SetCleanedAt implements Store.
func (s *SQLStore) SetCleanedAt(ctx context.Context, t time.Time) error {
	query, args, err := psq.Insert(tableConfig).
		Columns("id", "cleaned_at").
		Values(1, t).
		Suffix("ON CONFLICT (id) DO UPDATE SET cleaned_at = EXCLUDED.cleaned_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("writing cleaned_at: %w", err)
	}
	return nil
}

func (s *SQLStore) execCount(ctx context.Context, op, query string, args []any) (int, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(n), nil
}
