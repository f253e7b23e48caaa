package auth

import (
	"context"
	"database/sql"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// OpenDB opens a bun database for driver ("sqlite" or "postgres").
func OpenDB(driver, dsn string) (*bun.DB, error) {
	switch strings.ToLower(driver) {
	case DriverSQLite, "sqlite3", "":
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open sqlite database")
		}
		// A single connection serialises writers and keeps in-memory
		// databases alive for the lifetime of the handle.
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	case DriverPostgres, "pg", "pgx":
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open postgres database")
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		return nil, goerrors.New("unsupported database driver", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"driver": driver})
	}
}

// Migrate applies every pending migration for the database's dialect.
func Migrate(ctx context.Context, db *bun.DB) error {
	dir, gooseDialect := DriverSQLite, goose.DialectSQLite3
	if _, ok := db.Dialect().(*pgdialect.Dialect); ok {
		dir, gooseDialect = DriverPostgres, goose.DialectPostgres
	}

	fsys, err := MigrationsFor(dir)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load migrations")
	}

	provider, err := goose.NewProvider(gooseDialect, db.DB, fsys)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "goose provider")
	}

	if _, err := provider.Up(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "goose up").
			WithMetadata(map[string]any{"dialect": dir})
	}
	return nil
}
