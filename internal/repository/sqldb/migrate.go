package sqldb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies every pending up migration.
func (db *DB) Migrate(ctx context.Context) error {
	return db.withMigrator(ctx, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("sqldb: migrate up: %w", err)
		}
		return nil
	})
}

// MigrateDown rolls back the given number of migrations. steps <= 0 rolls
// back everything.
func (db *DB) MigrateDown(ctx context.Context, steps int) error {
	return db.withMigrator(ctx, func(m *migrate.Migrate) error {
		var err error
		if steps <= 0 {
			err = m.Down()
		} else {
			err = m.Steps(-steps)
		}
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("sqldb: migrate down: %w", err)
		}
		return nil
	})
}

// MigrationVersion reports the applied schema version. Version 0 means no
// migration has run.
func (db *DB) MigrationVersion(ctx context.Context) (version uint, dirty bool, err error) {
	err = db.withMigrator(ctx, func(m *migrate.Migrate) error {
		v, d, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		if verr != nil {
			return fmt.Errorf("sqldb: migration version: %w", verr)
		}
		version, dirty = v, d
		return nil
	})
	return version, dirty, err
}

// withMigrator builds a migrator over the embedded scripts for the dialect.
//
// SQLite migrates through the store's own pool: an in-memory database exists
// only on that connection. The migrate driver closes whatever pool it is
// given, so in that case the migrator is never closed. The server databases
// get a dedicated pool that is closed with the migrator.
func (db *DB) withMigrator(ctx context.Context, fn func(*migrate.Migrate) error) error {
	src, err := iofs.New(migrationsFS, "migrations/"+string(db.dialect))
	if err != nil {
		return fmt.Errorf("sqldb: loading migrations: %w", err)
	}

	conn := db.conn
	owned := false
	if db.dialect != SQLite {
		conn, err = sql.Open(db.dialect.driverName(), db.dsn)
		if err != nil {
			return fmt.Errorf("sqldb: opening migration connection: %w", err)
		}
		if err := conn.PingContext(ctx); err != nil {
			_ = conn.Close()
			return fmt.Errorf("sqldb: pinging migration connection: %w", err)
		}
		owned = true
	}

	driver, err := db.migrationDriver(conn)
	if err != nil {
		if owned {
			_ = conn.Close()
		}
		return fmt.Errorf("sqldb: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(db.dialect), driver)
	if err != nil {
		if owned {
			_ = conn.Close()
		}
		return fmt.Errorf("sqldb: init migrator: %w", err)
	}
	if owned {
		defer func() {
			_, _ = m.Close()
		}()
	}

	return fn(m)
}

func (db *DB) migrationDriver(conn *sql.DB) (database.Driver, error) {
	switch db.dialect {
	case SQLite:
		return migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	case Postgres:
		return migratepg.WithInstance(conn, &migratepg.Config{})
	case MySQL:
		return migratemysql.WithInstance(conn, &migratemysql.Config{})
	default:
		return nil, fmt.Errorf("unsupported dialect %q", db.dialect)
	}
}
