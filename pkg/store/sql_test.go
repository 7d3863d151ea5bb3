package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return NewSQLStore(db, WithClock(func() time.Time { return now })), mock, now
}

func TestSQLStore_Put(t *testing.T) {
	s, mock, now := newMockStore(t)
	id := NewID()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO component_sessions (uuid,params,last_accessed) VALUES ($1,$2,$3) ON CONFLICT (uuid) DO NOTHING")).
		WithArgs(id, []byte("p"), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO component_sessions").
		WithArgs(id, []byte("p"), now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Put(context.Background(), id, []byte("p")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(context.Background(), id, []byte("p")); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate Put = %v, want ErrAlreadyExists", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLStore_TouchAndGet(t *testing.T) {
	s, mock, now := newMockStore(t)
	id := NewID()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE component_sessions SET last_accessed = GREATEST($1::timestamptz, last_accessed + INTERVAL '1 microsecond') WHERE uuid = $2 AND last_accessed >= $3 RETURNING params")).
		WithArgs(now, id, now.Add(-time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"params"}).AddRow([]byte("blob")))
	mock.ExpectQuery("UPDATE component_sessions").
		WithArgs(now, id, now.Add(-time.Hour)).
		WillReturnError(sql.ErrNoRows)

	got, err := s.TouchAndGet(context.Background(), id, time.Hour)
	if err != nil || string(got) != "blob" {
		t.Fatalf("TouchAndGet = %q, %v", got, err)
	}
	if _, err := s.TouchAndGet(context.Background(), id, time.Hour); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired TouchAndGet = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLStore_DeleteExpired(t *testing.T) {
	s, mock, now := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM component_sessions WHERE last_accessed <= $1")).
		WithArgs(now.Add(-time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.DeleteExpired(context.Background(), time.Minute)
	if err != nil || n != 3 {
		t.Errorf("DeleteExpired = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLStore_UserData(t *testing.T) {
	s, mock, now := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM user_data WHERE user_pk = $1")).
		WithArgs("7").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_data (user_pk,data,updated_at) VALUES ($1,$2,$3) ON CONFLICT (user_pk) DO UPDATE")).
		WithArgs("7", []byte(`{}`), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_data WHERE user_pk NOT IN ($1,$2)")).
		WithArgs("7", "8").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_data")).
		WillReturnResult(sqlmock.NewResult(0, 5))

	if _, found, err := s.GetUserData(ctx, "7"); err != nil || found {
		t.Errorf("GetUserData = %v, %v", found, err)
	}
	if err := s.UpsertUserData(ctx, "7", []byte(`{}`)); err != nil {
		t.Errorf("UpsertUserData: %v", err)
	}
	if n, err := s.DeleteOrphanUserData(ctx, []string{"7", "8"}); err != nil || n != 2 {
		t.Errorf("DeleteOrphanUserData = %d, %v", n, err)
	}
	if n, err := s.DeleteOrphanUserData(ctx, nil); err != nil || n != 5 {
		t.Errorf("DeleteOrphanUserData(nil) = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLStore_CleanedAt(t *testing.T) {
	s, mock, now := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT cleaned_at FROM conduit_config WHERE id = $1")).
		WithArgs(1).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conduit_config (id,cleaned_at) VALUES ($1,$2) ON CONFLICT (id) DO UPDATE")).
		WithArgs(1, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT cleaned_at FROM conduit_config").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"cleaned_at"}).AddRow(now))

	if at, err := s.CleanedAt(ctx); err != nil || !at.IsZero() {
		t.Errorf("CleanedAt = %v, %v", at, err)
	}
	if err := s.SetCleanedAt(ctx, now); err != nil {
		t.Fatal(err)
	}
	if at, err := s.CleanedAt(ctx); err != nil || !at.Equal(now) {
		t.Errorf("CleanedAt = %v, %v", at, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLStore_DBError(t *testing.T) {
	s, mock, _ := newMockStore(t)
	boom := errors.New("connection reset")
	mock.ExpectExec("DELETE FROM component_sessions").WillReturnError(boom)

	if _, err := s.DeleteExpired(context.Background(), time.Minute); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped driver error", err)
	}
}

func TestSQLUserDirectory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id::text FROM accounts")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("1").AddRow("2"))

	pks, err := NewSQLUserDirectory(db, "accounts", "").UserPKs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pks) != 2 || pks[0] != "1" {
		t.Errorf("pks = %v", pks)
	}
}

func TestOpenUserDirectory(t *testing.T) {
	mem := NewMemoryStore()
	if dir := OpenUserDirectory(mem, configDatabase(), nil); dir != nil {
		t.Errorf("memory store without users should have no directory, got %T", dir)
	}
	dir := OpenUserDirectory(mem, configDatabase(), []string{"a"})
	pks, _ := dir.UserPKs(context.Background())
	if len(pks) != 1 || pks[0] != "a" {
		t.Errorf("pks = %v", pks)
	}
	if !IsInMemory(mem) {
		t.Error("IsInMemory(memory) = false")
	}
}
