package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/vango-dev/conduit/internal/config"
)

// Open creates the store selected by cfg. PostgreSQL stores are migrated
// before use.
func Open(cfg config.DatabaseConfig, opts ...Option) (Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryStore(opts...), nil
	case config.DriverBolt, "":
		path := cfg.Path
		if path == "" {
			path = config.DefaultDatabasePath
		}
		return NewBoltStore(path, opts...)
	case config.DriverPostgres:
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		if err := Migrate(db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return NewSQLStore(db, opts...), nil
	default:
		return nil, fmt.Errorf("store: unknown database driver %q", cfg.Driver)
	}
}

// OpenUserDirectory returns the directory matching the datastore. Only the
// PostgreSQL store can enumerate users by itself. It returns nil when no
// directory is available, which disables orphan cleanup.
func OpenUserDirectory(s Store, cfg config.DatabaseConfig, users []string) UserDirectory {
	if users != nil {
		return StaticUserDirectory(users)
	}
	if sqlStore, ok := s.(*SQLStore); ok {
		return NewSQLUserDirectory(sqlStore.DB(), cfg.UsersTable, "id")
	}
	return nil
}

// IsInMemory reports whether s is process-local.
func IsInMemory(s Store) bool {
	_, ok := s.(*MemoryStore)
	return ok
}
