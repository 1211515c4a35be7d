package accounts

import (
	"embed"
	"io/fs"

	goerrors "github.com/goliatone/go-errors"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// MigrationsFor returns the goose migrations for a database driver
// (DriverSQLite or DriverPostgres), rooted at the migration directory.
func MigrationsFor(driver string) (fs.FS, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
		return fs.Sub(migrationsFS, "data/sql/migrations/"+driver)
	}
	return nil, goerrors.New("no migrations for database driver", goerrors.CategoryBadInput).
		WithMetadata(map[string]any{"driver": driver})
}
