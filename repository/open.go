package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Open connects to the database described by driver and dsn and returns a
// bun handle with foreign keys enforced.
func Open(ctx context.Context, driver, dsn string) (*bun.DB, error) {
	var (
		db  *bun.DB
		err error
	)

	switch driver {
	case accounts.DriverSQLite:
		db, err = openSQLite(ctx, dsn)
	case accounts.DriverPostgres:
		db, err = openPostgres(ctx, dsn)
	default:
		return nil, goerrors.New("unsupported database driver", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"driver": driver})
	}

	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open database").
			WithMetadata(map[string]any{"driver": driver})
	}

	return db, nil
}

func openSQLite(ctx context.Context, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, SQLiteDSN(dsn))
	if err != nil {
		return nil, err
	}

	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		sqldb.SetMaxOpenConns(1)
	}

	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, err
	}

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// SQLiteDSN adds the connection parameters that turn foreign keys on for
// every pooled connection. modernc.org/sqlite reads _pragma and
// mattn/go-sqlite3 reads _foreign_keys; each driver ignores the other's.
func SQLiteDSN(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "_pragma=foreign_keys") {
		params = append(params, "_pragma=foreign_keys(1)")
	}
	if !strings.Contains(dsn, "_foreign_keys=") && !strings.Contains(dsn, "_fk=") {
		params = append(params, "_foreign_keys=1")
	}
	if len(params) == 0 {
		return dsn
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func openPostgres(ctx context.Context, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, err
	}

	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// Migrate applies the embedded goose migrations for driver.
func Migrate(ctx context.Context, db *bun.DB, driver string) error {
	fsys, err := accounts.MigrationsFor(driver)
	if err != nil {
		return err
	}

	dialect := "sqlite3"
	if driver == accounts.DriverPostgres {
		dialect = "pgx"
	}

	goose.SetBaseFS(fsys)
	if err := goose.SetDialect(dialect); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to configure migrations")
	}

	if err := goose.UpContext(ctx, db.DB, "."); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to run migrations").
			WithMetadata(map[string]any{"driver": driver})
	}

	return nil
}
