// Package sqlite3 is a modernc.org/sqlite-backed implementation of
// store.Store, for deployments that want persistence without standing up
// a separate database server. Grounded on the teacher's own
// internal/store/sqlite3 package: goqu query building, WAL mode, a
// single-writer connection pool, and muz-driven migrations.
package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	_ "modernc.org/sqlite"

	"github.com/DYLCKH/key-hub/internal/config"
)

// DefaultTablePrefix namespaces every table this package creates, so the
// gateway's schema can share a database file with unrelated tables.
var DefaultTablePrefix = "kh_"

// SQLite is a store.Store backed by a single-writer SQLite connection.
type SQLite struct {
	db   *sql.DB
	goqu *goqu.Database

	tableChannels exp.IdentifierExpression
	tableKeys     exp.IdentifierExpression
	tableProxies  exp.IdentifierExpression
	tableTokens   exp.IdentifierExpression
	tableLogs     exp.IdentifierExpression
	tableSettings exp.IdentifierExpression
}

// New opens the database, runs pending migrations, and returns a ready
// SQLite store.
func New(ctx context.Context, cfg *config.StoreSQLite) (*SQLite, error) {
	if cfg == nil {
		return nil, errors.New("sqlite configuration is nil")
	}
	if cfg.Datasource == "" {
		return nil, errors.New("sqlite datasource is required")
	}

	tablePrefix := DefaultTablePrefix
	if cfg.TablePrefix != nil {
		tablePrefix = *cfg.TablePrefix
	}

	migrate := cfg.Migrate
	if migrate.Table == "" {
		migrate.Table = "migrations"
	}
	if migrate.Datasource == "" {
		migrate.Datasource = cfg.Datasource
	}
	migrate.Table = tablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = tablePrefix

	if err := MigrateDB(ctx, &migrate); err != nil {
		return nil, fmt.Errorf("migrate store sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite is single-writer; limit connections accordingly.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	slog.Info("connected to store sqlite")

	dbGoqu := goqu.New("sqlite3", db)

	return &SQLite{
		db:            db,
		goqu:          dbGoqu,
		tableChannels: goqu.T(tablePrefix + "channels"),
		tableKeys:     goqu.T(tablePrefix + "keys"),
		tableProxies:  goqu.T(tablePrefix + "proxies"),
		tableTokens:   goqu.T(tablePrefix + "tokens"),
		tableLogs:     goqu.T(tablePrefix + "request_logs"),
		tableSettings: goqu.T(tablePrefix + "settings"),
	}, nil
}

func (s *SQLite) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("close store sqlite", "error", err)
		}
	}
}
