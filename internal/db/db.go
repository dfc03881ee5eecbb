// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

// package db is the run-history store. Reconciliation results themselves
// are ephemeral; what persists is the record of each audit or fix run, its
// per-target outcomes, and an action log. The store is backed by Bun over
// SQLite, PostgreSQL or MySQL.
package db // import "github.com/toeirei/keywarden/internal/db"

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	// SQL drivers for the supported backends.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var embeddedMigrations embed.FS

// sqlOpenFunc allows tests to override database opening behavior.
var sqlOpenFunc = sql.Open

// Open opens the run-history store for the given backend type and DSN and
// applies pending migrations.
func Open(dbType, dsn string) (*Store, error) {
	driverName := dbType
	// The pgx stdlib driver registers as "pgx"; map "postgres" to it.
	if dbType == "postgres" {
		driverName = "pgx"
	}
	sqlDB, err := sqlOpenFunc(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// In-memory SQLite keeps one database per connection; force a single
	// connection so the schema stays visible. Tests rely on this.
	if dbType == "sqlite" && strings.Contains(dsn, ":memory:") {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := runMigrations(sqlDB, dbType); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	bunDB, err := createBunDB(sqlDB, dbType)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &Store{bun: bunDB}, nil
}

// createBunDB wraps the sql.DB in a bun.DB with the matching dialect.
func createBunDB(sqlDB *sql.DB, dbType string) (*bun.DB, error) {
	switch dbType {
	case "sqlite":
		return bun.NewDB(sqlDB, sqlitedialect.New()), nil
	case "postgres":
		return bun.NewDB(sqlDB, pgdialect.New()), nil
	case "mysql":
		return bun.NewDB(sqlDB, mysqldialect.New()), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %q", dbType)
	}
}

// runMigrations applies the embedded .up.sql files for the backend, in
// lexical order. Files are split into statements so drivers without
// multi-statement support work too.
func runMigrations(sqlDB *sql.DB, dbType string) error {
	dir := fmt.Sprintf("migrations/%s", dbType)
	entries, err := fs.ReadDir(embeddedMigrations, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no migrations embedded for database type %q", dbType)
		}
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		data, err := embeddedMigrations.ReadFile(dir + "/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		for _, stmt := range strings.Split(string(data), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := sqlDB.Exec(stmt); err != nil {
				return fmt.Errorf("migration %s failed: %w", name, err)
			}
		}
	}
	return nil
}
