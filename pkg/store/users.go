package store

import (
	"context"
	"database/sql"
	"fmt"
)

// UserDirectory enumerates the primary keys of existing users. The cleaner
// uses it to find orphaned user data.
type UserDirectory interface {
	UserPKs(ctx context.Context) ([]string, error)
}

// StaticUserDirectory is a fixed list of user keys.
type StaticUserDirectory []string

// UserPKs implements UserDirectory.
func (d StaticUserDirectory) UserPKs(context.Context) ([]string, error) {
	return append([]string(nil), d...), nil
}

// SQLUserDirectory reads user keys from a table.
type SQLUserDirectory struct {
	db     *sql.DB
	table  string
	column string
}

// NewSQLUserDirectory reads column from table. Empty names default to
// "users" and "id".
func NewSQLUserDirectory(db *sql.DB, table, column string) *SQLUserDirectory {
	if table == "" {
		table = "users"
	}
	if column == "" {
		column = "id"
	}
	return &SQLUserDirectory{db: db, table: table, column: column}
}

// UserPKs implements UserDirectory.
func (d *SQLUserDirectory) UserPKs(ctx context.Context) ([]string, error) {
	query, args, err := psq.Select(d.column + "::text").From(d.table).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user query: %w", err)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pks []string
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		pks = append(pks, pk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return pks, nil
}
