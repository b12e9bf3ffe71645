// Package backend opens the repository.Store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/sakif/questlog/internal/config"
	"github.com/sakif/questlog/internal/repository"
	"github.com/sakif/questlog/internal/repository/memory"
	"github.com/sakif/questlog/internal/repository/mongodb"
	"github.com/sakif/questlog/internal/repository/sqldb"
)

// Open connects to the configured store. SQL stores are migrated when
// cfg.AutoMigrate is set; MongoDB always ensures its indexes.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (repository.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		logger.Warn("using in-memory store, data is lost on exit")
		return memory.New(), nil

	case "mongo", "mongodb":
		store, err := mongodb.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		logger.Info("store opened", slog.String("driver", "mongo"), slog.String("database", cfg.MongoDatabase))
		return store, nil
	}

	db, err := OpenSQL(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	logger.Info("store opened",
		slog.String("driver", string(db.Dialect())),
		slog.Bool("migrated", cfg.AutoMigrate),
	)
	return db, nil
}

// OpenSQL opens one of the relational stores without migrating it.
func OpenSQL(ctx context.Context, cfg config.DatabaseConfig) (*sqldb.DB, error) {
	dialect, err := sqldb.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := DSN(dialect, cfg)
	if err != nil {
		return nil, err
	}
	if dialect == sqldb.SQLite {
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
	}
	return sqldb.Open(ctx, dialect, dsn)
}

// DSN builds the data source name for a relational dialect. An explicit
// cfg.DSN is used as-is, except that MySQL DSNs always get parseTime and
// clientFoundRows, which the store depends on.
func DSN(dialect sqldb.Dialect, cfg config.DatabaseConfig) (string, error) {
	switch dialect {
	case sqldb.SQLite:
		if cfg.DSN != "" {
			return cfg.DSN, nil
		}
		return cfg.Path, nil

	case sqldb.Postgres:
		if cfg.DSN != "" {
			return cfg.DSN, nil
		}
		return postgresURL(cfg), nil

	case sqldb.MySQL:
		var mc *mysql.Config
		if cfg.DSN != "" {
			parsed, err := mysql.ParseDSN(cfg.DSN)
			if err != nil {
				return "", fmt.Errorf("backend: parsing mysql dsn: %w", err)
			}
			mc = parsed
		} else {
			mc = mysql.NewConfig()
			mc.User = cfg.User
			mc.Passwd = cfg.Password
			mc.Net = "tcp"
			mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(portOr(cfg.Port, 3306)))
			mc.DBName = cfg.Name
			if cfg.UseSSL {
				mc.TLSConfig = "true"
			}
		}
		mc.ParseTime = true
		mc.ClientFoundRows = true
		return mc.FormatDSN(), nil
	}
	return "", fmt.Errorf("backend: no dsn for dialect %q", dialect)
}

func postgresURL(cfg config.DatabaseConfig) string {
	sslmode := "disable"
	if cfg.UseSSL {
		sslmode = "require"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(portOr(cfg.Port, 5432))),
		User:   url.UserPassword(cfg.User, cfg.Password),
		Path:   cfg.Name,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

func portOr(port, fallback int) int {
	if port > 0 {
		return port
	}
	return fallback
}

// ensureDir creates the parent directory of a SQLite database file.
func ensureDir(dsn string) error {
	if dsn == "" || strings.HasPrefix(dsn, ":memory:") || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("backend: creating database directory %s: %w", dir, err)
	}
	return nil
}
