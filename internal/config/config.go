package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Sync     SyncConfig
	CORS     CORSConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	// Driver selects the storage backend: "couch" or "sqlite".
	Driver string

	Host     string
	Port     string
	User     string
	Password string
	Name     string

	SQLitePath    string
	BusyTimeoutMs int
}

type JWTConfig struct {
	Secret                 string
	Expiration             time.Duration
	RefreshTokenExpiration time.Duration
}

type SyncConfig struct {
	// ConflictPolicy: last-write-wins, server-wins or client-wins.
	ConflictPolicy string
	PageSize       int
	MaxPageSize    int
	// Tables is the set of record collections the engine accepts.
	Tables []string
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	godotenv.Load()

	jwtExp, err := time.ParseDuration(getEnv("JWT_EXPIRATION", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRATION: %w", err)
	}

	refreshExp, err := time.ParseDuration(getEnv("REFRESH_TOKEN_EXPIRATION", "168h"))
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_TOKEN_EXPIRATION: %w", err)
	}

	tables := strings.Split(getEnv("SYNC_TABLES", "invoices"), ",")
	for i := range tables {
		tables[i] = strings.TrimSpace(tables[i])
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Driver:        getEnv("DB_DRIVER", "sqlite"),
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnv("DB_PORT", "5984"),
			User:          getEnv("DB_USER", "admin"),
			Password:      getEnv("DB_PASSWORD", "password"),
			Name:          getEnv("DB_NAME", "gigsync"),
			SQLitePath:    getEnv("SQLITE_PATH", "gigsync.db"),
			BusyTimeoutMs: getEnvAsInt("SQLITE_BUSY_TIMEOUT_MS", 5000),
		},
		JWT: JWTConfig{
			Secret:                 getEnv("JWT_SECRET", "dev-secret-change-in-production"),
			Expiration:             jwtExp,
			RefreshTokenExpiration: refreshExp,
		},
		Sync: SyncConfig{
			ConflictPolicy: getEnv("SYNC_CONFLICT_POLICY", "last-write-wins"),
			PageSize:       getEnvAsInt("SYNC_PAGE_SIZE", 500),
			MaxPageSize:    getEnvAsInt("SYNC_MAX_PAGE_SIZE", 2000),
			Tables:         tables,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
