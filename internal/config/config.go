// Package config loads server configuration.
//
// Sources are applied in order, later ones winning:
//  1. built-in defaults
//  2. a YAML file (--config flag or QUESTLOG_CONFIG)
//  3. a .env file in the working directory
//  4. environment variables
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sakif/questlog/internal/progression"
)

// MinJWTSecretLength matches what auth.NewTokenService accepts.
const MinJWTSecretLength = 16

// Config is the complete server configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Database    DatabaseConfig    `yaml:"database"`
	Progression ProgressionConfig `yaml:"progression"`
	Events      EventsConfig      `yaml:"events"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

// DatabaseConfig selects and addresses the store. Driver is one of sqlite,
// postgres, mysql, mongo or memory. DSN, when set, wins over the individual
// connection fields.
type DatabaseConfig struct {
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	Path          string `yaml:"path"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	Name          string `yaml:"name"`
	UseSSL        bool   `yaml:"ssl"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	AutoMigrate   bool   `yaml:"auto_migrate"`
}

type ProgressionConfig struct {
	Curve         string  `yaml:"curve"`
	Base          int     `yaml:"base"`
	Step          int     `yaml:"step"`
	Factor        float64 `yaml:"factor"`
	AwardOnCreate bool    `yaml:"award_on_create"`
	ReopenPolicy  string  `yaml:"reopen_policy"`
}

// EventsConfig selects the progression event backend: none, memory,
// rabbitmq or pubsub.
type EventsConfig struct {
	Backend               string `yaml:"backend"`
	Topic                 string `yaml:"topic"`
	RabbitMQURL           string `yaml:"rabbitmq_url"`
	PubSubProjectID       string `yaml:"pubsub_project_id"`
	PubSubCredentialsFile string `yaml:"pubsub_credentials_file"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:   30 * 24 * time.Hour,
			BcryptCost: 12,
		},
		Database: DatabaseConfig{
			Driver:        "sqlite",
			Path:          "data/questlog.db",
			Host:          "localhost",
			Name:          "questlog",
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "questlog",
			AutoMigrate:   true,
		},
		Progression: ProgressionConfig{
			Curve:         "linear",
			Base:          100,
			Step:          20,
			Factor:        1.5,
			AwardOnCreate: true,
			ReopenPolicy:  string(progression.ReopenKeep),
		},
		Events: EventsConfig{
			Backend: "none",
			Topic:   "questlog.progress",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. An empty path falls back to
// QUESTLOG_CONFIG; if that is empty too, no file is read. A path that was
// given explicitly must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("QUESTLOG_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	// Existing environment variables win over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	num("PORT", &c.Server.Port)
	dur("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	str("JWT_SECRET", &c.Auth.JWTSecret)
	dur("TOKEN_TTL", &c.Auth.TokenTTL)
	num("BCRYPT_COST", &c.Auth.BcryptCost)

	str("DB_DRIVER", &c.Database.Driver)
	str("DB_DSN", &c.Database.DSN)
	str("DB_PATH", &c.Database.Path)
	str("DB_HOST", &c.Database.Host)
	num("DB_PORT", &c.Database.Port)
	str("DB_USER", &c.Database.User)
	str("DB_PASSWORD", &c.Database.Password)
	str("DB_NAME", &c.Database.Name)
	flag("DB_SSL", &c.Database.UseSSL)
	flag("DB_AUTO_MIGRATE", &c.Database.AutoMigrate)
	str("MONGO_URI", &c.Database.MongoURI)
	str("MONGO_DATABASE", &c.Database.MongoDatabase)

	str("LEVEL_CURVE", &c.Progression.Curve)
	flag("AWARD_ON_CREATE", &c.Progression.AwardOnCreate)
	str("REOPEN_POLICY", &c.Progression.ReopenPolicy)

	str("EVENTS_BACKEND", &c.Events.Backend)
	str("EVENTS_TOPIC", &c.Events.Topic)
	str("RABBITMQ_URL", &c.Events.RabbitMQURL)
	str("PUBSUB_PROJECT_ID", &c.Events.PubSubProjectID)
	str("PUBSUB_CREDENTIALS_FILE", &c.Events.PubSubCredentialsFile)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid environment: %w", errors.Join(errs...))
	}
	return nil
}

// Validate checks everything except the JWT secret, which only the HTTP
// server needs. See ValidateAuth.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "sqlite3", "postgres", "postgresql", "mysql", "mariadb", "mongo", "mongodb", "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if _, err := c.Progression.Policy(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Events.Backend) {
	case "", "none", "memory":
	case "rabbitmq":
		if c.Events.RabbitMQURL == "" {
			errs = append(errs, errors.New("events.rabbitmq_url is required for the rabbitmq backend"))
		}
	case "pubsub":
		if c.Events.PubSubProjectID == "" {
			errs = append(errs, errors.New("events.pubsub_project_id is required for the pubsub backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("events.backend %q is not supported", c.Events.Backend))
	}
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Logging.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ValidateAuth checks the settings needed to issue tokens.
func (c *Config) ValidateAuth() error {
	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("config: auth.jwt_secret must be at least %d characters (set JWT_SECRET)", MinJWTSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("config: auth.token_ttl must be positive")
	}
	return nil
}

// Policy converts the progression settings into rules.
func (p ProgressionConfig) Policy() (progression.Policy, error) {
	curve, err := progression.NewCurve(p.Curve, p.Base, p.Step, p.Factor)
	if err != nil {
		return progression.Policy{}, err
	}
	reopen, err := progression.ParseReopenPolicy(p.ReopenPolicy)
	if err != nil {
		return progression.Policy{}, err
	}
	return progression.Policy{
		Curve:         curve,
		AwardOnCreate: p.AwardOnCreate,
		Reopen:        reopen,
	}, nil
}

// ParseLogLevel maps debug, info, warn or error to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level %q: %w", s, err)
	}
	return level, nil
}
