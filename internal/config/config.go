// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all configuration for the service.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Auth     AuthConfig
	Storage  string
	LogLevel string
	// HierarchyRefresh is the interval of background hierarchy rebuilds;
	// zero disables them.
	HierarchyRefresh time.Duration
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

// ServerConfig holds HTTP and gRPC listener settings.
type ServerConfig struct {
	Port            int
	GRPCPort        int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL pool settings.
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
}

// NATSConfig holds the event bus connection. An empty URL disables publishing.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	JWTSecret string
}

// DSN returns a pgx connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// .env is optional outside local development
	_ = godotenv.Load()

	l := &loader{}
	cfg := &Config{
		Service: ServiceConfig{
			Name:        l.str("SERVICE_NAME", "be-pr-approvals"),
			Version:     l.str("SERVICE_VERSION", "dev"),
			Environment: l.str("ENVIRONMENT", "development"),
		},
		Server: ServerConfig{
			Port:            l.int("HTTP_PORT", 8080),
			GRPCPort:        l.int("GRPC_PORT", 9090),
			ReadTimeout:     l.duration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    l.duration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     l.duration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: l.duration("SERVER_SHUTDOWN_TIMEOUT", 20*time.Second),
		},
		Database: DatabaseConfig{
			Host:        l.str("DB_HOST", "localhost"),
			Port:        l.int("DB_PORT", 5432),
			User:        l.str("DB_USER", "postgres"),
			Password:    l.str("DB_PASSWORD", ""),
			Database:    l.str("DB_NAME", "procurement"),
			SSLMode:     l.str("DB_SSLMODE", "disable"),
			MaxConns:    int32(l.int("DB_MAX_CONNS", 20)),
			MinConns:    int32(l.int("DB_MIN_CONNS", 2)),
			MaxConnTime: l.duration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxIdleTime: l.duration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
			HealthCheck: l.duration("DB_HEALTH_CHECK_PERIOD", time.Minute),
		},
		NATS: NATSConfig{
			URL:           l.str("NATS_URL", ""),
			SubjectPrefix: l.str("NATS_SUBJECT_PREFIX", "procurement.pr"),
		},
		Auth: AuthConfig{
			JWTSecret: l.str("JWT_SECRET", ""),
		},
		Storage:          l.str("STORAGE", StoragePostgres),
		LogLevel:         l.str("LOG_LEVEL", "info"),
		HierarchyRefresh: l.duration("HIERARCHY_REFRESH_INTERVAL", 5*time.Minute),
	}
	if l.err != nil {
		return nil, l.err
	}

	if cfg.Storage != StoragePostgres && cfg.Storage != StorageMemory {
		return nil, fmt.Errorf("STORAGE must be %q or %q, got %q", StoragePostgres, StorageMemory, cfg.Storage)
	}
	if cfg.Auth.JWTSecret == "" && cfg.Service.Environment == "production" {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}
	return cfg, nil
}

// loader remembers the first parse error so Load can report it once.
type loader struct {
	err error
}

func (l *loader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (l *loader) int(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (l *loader) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}
