// Package config loads application configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Version is the service version reported by health and stats endpoints.
const Version = "2.0.0"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Router    RouterConfig
	WS        WSConfig
	RateLimit RateLimitConfig
	Payload   PayloadConfig
	Archive   ArchiveConfig
	CORS      CORSConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// AuthConfig holds API key and stream token configuration
type AuthConfig struct {
	// APIKey is the shared key publishers and operators present via X-API-Key.
	APIKey string
	// RequireAuth toggles authentication enforcement.
	RequireAuth bool
	// TokenSecret signs short-lived subscriber stream tokens.
	TokenSecret string
	// TokenExpiry bounds stream token lifetime.
	TokenExpiry time.Duration
	// Issuer is the iss claim on stream tokens.
	Issuer string
}

// RouterConfig holds the event router's capacity limits
type RouterConfig struct {
	MaxQueueSize   int
	MaxSubscribers int
}

// WSConfig holds WebSocket transport limits
type WSConfig struct {
	MaxMessageBytes  int64
	MaxConnsPerIP    int
	SubscribeTimeout time.Duration
	KeepAliveTimeout time.Duration
}

// RateLimitConfig holds per-route-group request limits (requests per minute)
type RateLimitConfig struct {
	Publish int
	Query   int
	Admin   int
}

// PayloadConfig holds event payload limits
type PayloadConfig struct {
	MaxKeys  int
	MaxBytes int
}

// ArchiveConfig holds S3/MinIO settings for archiving purged events.
// Archiving is disabled unless Bucket is set.
type ArchiveConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// CORSConfig holds allowed CORS origins
type CORSConfig struct {
	Origins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8001"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "event_pipeline"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			APIKey:      getEnv("API_KEY", ""),
			RequireAuth: getBoolEnv("REQUIRE_AUTH", false),
			TokenSecret: getEnv("STREAM_TOKEN_SECRET", ""),
			TokenExpiry: getDurationEnv("STREAM_TOKEN_EXPIRY", time.Hour),
			Issuer:      getEnv("STREAM_TOKEN_ISSUER", "event-pipeline"),
		},
		Router: RouterConfig{
			MaxQueueSize:   getIntEnv("MAX_QUEUE_SIZE", 10000),
			MaxSubscribers: getIntEnv("MAX_SUBSCRIBERS", 5000),
		},
		WS: WSConfig{
			MaxMessageBytes:  int64(getIntEnv("MAX_WS_MESSAGE_BYTES", 1024*1024)),
			MaxConnsPerIP:    getIntEnv("MAX_WS_CONNECTIONS_PER_IP", 20),
			SubscribeTimeout: getDurationEnv("WS_SUBSCRIBE_TIMEOUT", 10*time.Second),
			KeepAliveTimeout: getDurationEnv("WS_KEEPALIVE_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Publish: getIntEnv("RATE_LIMIT_PUBLISH", 200),
			Query:   getIntEnv("RATE_LIMIT_QUERY", 600),
			Admin:   getIntEnv("RATE_LIMIT_ADMIN", 10),
		},
		Payload: PayloadConfig{
			MaxKeys:  getIntEnv("MAX_PAYLOAD_KEYS", 50),
			MaxBytes: getIntEnv("MAX_PAYLOAD_BYTES", 64*1024),
		},
		Archive: ArchiveConfig{
			Endpoint:        getEnv("ARCHIVE_S3_ENDPOINT", ""),
			Region:          getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			Bucket:          getEnv("ARCHIVE_S3_BUCKET", ""),
			AccessKeyID:     getEnv("ARCHIVE_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_S3_SECRET_ACCESS_KEY", ""),
			UseSSL:          getBoolEnv("ARCHIVE_S3_USE_SSL", false),
		},
		CORS: CORSConfig{
			Origins: getListEnv("CORS_ORIGINS", []string{"*"}),
		},
	}
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// Enabled reports whether event archiving is configured.
func (a *ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns integer from environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getBoolEnv returns boolean from environment variable or default
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable or default
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getListEnv returns a comma-separated list from environment variable or default
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
