// Package config loads service configuration.
//
// Sources are layered, later ones winning:
//  1. built-in defaults
//  2. an optional YAML file (CONFIG_PATH, or config.yaml in the working directory)
//  3. environment variables, after .env has been loaded by godotenv
//
// Environment variables use short deployment names
// (PORT, DB_HOST, DB_PASS, JWT_SECRET, ...).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the YAML file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Store    StoreConfig    `koanf:"store"`
	Feed     FeedConfig     `koanf:"feed"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	CORSOrigin      string        `koanf:"cors_origin"`
	Swagger         bool          `koanf:"swagger"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	// Driver is postgres or sqlite.
	Driver   string `koanf:"driver" validate:"oneof=postgres sqlite"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
	SSLMode  string `koanf:"sslmode"`
	// Path is the SQLite file, ":memory:" for a throwaway database.
	Path string `koanf:"path"`
}

// DSN builds the Postgres connection string in the format gorm's postgres
// driver and pgx both accept.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

type StoreConfig struct {
	// StrictUpsert replaces the read-then-write live position upsert with an
	// atomic INSERT ... ON CONFLICT against a partial unique index.
	StrictUpsert bool `koanf:"strict_upsert"`
}

type FeedConfig struct {
	// Source selects where row changes come from: notify (Postgres
	// LISTEN/NOTIFY), hooks (gorm callbacks) or auto (notify on Postgres,
	// hooks otherwise).
	Source string `koanf:"source" validate:"oneof=auto notify hooks"`
	// Channel is the Postgres NOTIFY channel.
	Channel string `koanf:"channel" validate:"required"`
	// NATSURL switches the fan-out bus from in-process to NATS.
	NATSURL    string `koanf:"nats_url"`
	BufferSize int    `koanf:"buffer_size" validate:"min=1"`
}

type SecurityConfig struct {
	JWTSecret      string        `koanf:"jwt_secret" validate:"required"`
	TokenTTL       time.Duration `koanf:"token_ttl" validate:"gt=0"`
	RevocationPath string        `koanf:"revocation_path"`
	RateLimitRPS   float64       `koanf:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst int           `koanf:"rate_limit_burst" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigin:      "*",
			Swagger:         true,
		},
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Name:     "locshare",
			SSLMode:  "disable",
			Path:     "locshare.db",
		},
		Feed: FeedConfig{
			Source:     "auto",
			Channel:    "location_changes",
			BufferSize: 256,
		},
		Security: SecurityConfig{
			JWTSecret:      "",
			TokenTTL:       7 * 24 * time.Hour,
			RevocationPath: "",
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envMappings maps environment variable names onto koanf paths.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	"PORT":                  "server.port",
	"HOST":                  "server.host",
	"SHUTDOWN_TIMEOUT":      "server.shutdown_timeout",
	"CORS_ORIGIN":           "server.cors_origin",
	"SWAGGER_ENABLED":       "server.swagger",
	"DB_DRIVER":             "database.driver",
	"DB_HOST":               "database.host",
	"DB_PORT":               "database.port",
	"DB_USER":               "database.user",
	"DB_PASS":               "database.password",
	"DB_NAME":               "database.name",
	"DB_SSLMODE":            "database.sslmode",
	"DB_PATH":               "database.path",
	"STRICT_UPSERT":         "store.strict_upsert",
	"FEED_SOURCE":           "feed.source",
	"FEED_CHANNEL":          "feed.channel",
	"FEED_BUFFER_SIZE":      "feed.buffer_size",
	"NATS_URL":              "feed.nats_url",
	"JWT_SECRET":            "security.jwt_secret",
	"JWT_TTL":               "security.token_ttl",
	"REVOCATION_STORE_PATH": "security.revocation_path",
	"RATE_LIMIT_RPS":        "security.rate_limit_rps",
	"RATE_LIMIT_BURST":      "security.rate_limit_burst",
	"LOG_LEVEL":             "logging.level",
	"LOG_FORMAT":            "logging.format",
	"LOG_CALLER":            "logging.caller",
}

func envTransform(key string) string {
	return envMappings[strings.ToUpper(key)]
}

// Load reads .env (if present) and builds the layered configuration.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

// FeedSource resolves "auto" against the database driver.
func (c *Config) FeedSource() string {
	if c.Feed.Source != "auto" {
		return c.Feed.Source
	}
	if c.Database.Driver == "postgres" {
		return "notify"
	}
	return "hooks"
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
