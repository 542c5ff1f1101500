package config

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Idkasam/kora-sdk/pkg/budget"
)

// OpenStorage opens the budget store named by Store:
//
//	memory
//	sqlite:<path>
//	postgres:<dsn>
//	redis:<addr>
//
// The returned close function releases the underlying connection.
func (c *Config) OpenStorage(ctx context.Context) (budget.Storage, func() error, error) {
	kind, target, _ := strings.Cut(c.Store, ":")
	noop := func() error { return nil }

	switch kind {
	case "", "memory":
		return budget.NewMemoryStorage(), noop, nil
	case "sqlite":
		if target == "" {
			return nil, nil, fmt.Errorf("config: sqlite store needs a path")
		}
		db, err := sql.Open("sqlite", target)
		if err != nil {
			return nil, nil, fmt.Errorf("config: open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		s, err := budget.NewSQLiteStorage(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, db.Close, nil
	case "postgres":
		if target == "" {
			return nil, nil, fmt.Errorf("config: postgres store needs a DSN")
		}
		db, err := sql.Open("postgres", target)
		if err != nil {
			return nil, nil, fmt.Errorf("config: open postgres: %w", err)
		}
		s := budget.NewPostgresStorage(db)
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, db.Close, nil
	case "redis":
		if target == "" {
			return nil, nil, fmt.Errorf("config: redis store needs an address")
		}
		s := budget.NewRedisStorageFromAddr(target, "", 0)
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("config: unknown store %q", kind)
	}
}
