package server

import (
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/mohammad-safakhou/seshat/internal/errors"
)

// DefaultMigrations is the migration source used when none is given.
const DefaultMigrations = "file://migrations"

// Migrate applies the Postgres CMS migrations from dir. steps 0 means all.
// An already current schema is not an error.
func Migrate(dir, dsn, direction string, steps int) error {
	if dir == "" {
		dir = DefaultMigrations
	}
	if dsn == "" {
		return errors.Misconfigured("postgres is not configured (storage.postgres or DATABASE_URL)")
	}
	if direction != "up" && direction != "down" {
		return errors.Invalid("unknown direction: %s", direction)
	}
	if steps < 0 {
		return errors.Invalid("steps cannot be negative")
	}

	m, err := migrate.New(dir, dsn)
	if err != nil {
		return errors.Wrap(err, "open migrations")
	}
	defer m.Close()

	switch {
	case direction == "up" && steps > 0:
		err = m.Steps(steps)
	case direction == "up":
		err = m.Up()
	case steps > 0:
		err = m.Steps(-steps)
	default:
		err = m.Down()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
