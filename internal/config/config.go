package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the environment driven configuration for the video service.
type Config struct {
	// Service Configuration
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"video-api"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"VIDEO_API_PORT" envDefault:"8380"`
	LogLevel        string        `env:"VIDEO_LOG_LEVEL" envDefault:"info"`
	EnableTracing   bool          `env:"ENABLE_TRACING" envDefault:"false"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Database (required, no default)
	DBPostgresqlWriteDSN string `env:"DB_POSTGRESQL_WRITE_DSN,notEmpty"`

	// Database Connection Pool
	DBMaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"15"`
	DBConnLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// Redis (webhook dedupe, pending event buffer, notification queue)
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Storage Backend Selection
	StorageBackend string `env:"VIDEO_STORAGE_BACKEND" envDefault:"s3"` // Options: "s3" or "local"

	// Local Storage Configuration
	LocalStoragePath    string `env:"VIDEO_LOCAL_STORAGE_PATH"`
	LocalStorageBaseURL string `env:"VIDEO_LOCAL_STORAGE_BASE_URL"`

	// S3 Object Store Configuration
	S3Endpoint       string `env:"OBJECT_STORE_ENDPOINT"`
	S3PublicEndpoint string `env:"OBJECT_STORE_PUBLIC_CDN"`
	S3Region         string `env:"OBJECT_STORE_REGION" envDefault:"us-east-1"`
	S3Bucket         string `env:"OBJECT_STORE_BUCKET"`
	S3AccessKeyID    string `env:"OBJECT_STORE_ACCESS_KEY_ID"`
	S3SecretKey      string `env:"OBJECT_STORE_SECRET_ACCESS_KEY"`
	S3UsePathStyle   bool   `env:"OBJECT_STORE_USE_PATH_STYLE" envDefault:"true"`

	// Signed URLs
	SignedURLTTLSeconds int `env:"SIGNED_URL_TTL_SECONDS" envDefault:"3600"`

	// Video ingestion limits
	MaxVideoBytes     int64    `env:"MAX_VIDEO_BYTES" envDefault:"2147483648"`
	AllowedVideoMIMEs []string `env:"ALLOWED_VIDEO_MIMES" envSeparator:"," envDefault:"video/mp4,video/webm,video/ogg,video/quicktime"`

	// Transcoding provider
	ProviderEnabled       bool          `env:"PROVIDER_ENABLED" envDefault:"false"`
	ProviderBaseURL       string        `env:"PROVIDER_BASE_URL"`
	ProviderTokenID       string        `env:"PROVIDER_TOKEN_ID"`
	ProviderTokenSecret   string        `env:"PROVIDER_TOKEN_SECRET"`
	ProviderWebhookSecret string        `env:"PROVIDER_WEBHOOK_SECRET"`
	ProviderStreamDomain  string        `env:"PROVIDER_STREAM_DOMAIN" envDefault:"stream.example.com"`
	ProviderTimeout       time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`

	// Upload tickets
	UploadTicketTTLSeconds int `env:"UPLOAD_TICKET_TTL_SECONDS" envDefault:"3600"`

	// Reconciliation workers
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"5m"`
	OrphanGracePeriod time.Duration `env:"ORPHAN_GRACE_PERIOD" envDefault:"24h"`

	// Webhook handling
	WebhookDedupeWindow time.Duration `env:"WEBHOOK_DEDUPE_WINDOW" envDefault:"24h"`
	WebhookBufferTTL    time.Duration `env:"WEBHOOK_BUFFER_TTL" envDefault:"15m"`

	// Authentication
	AuthEnabled bool   `env:"AUTH_ENABLED" envDefault:"false"`
	AuthIssuer  string `env:"AUTH_ISSUER"`
	AuthJWKSURL string `env:"AUTH_JWKS_URL"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.S3Bucket = strings.TrimSpace(cfg.S3Bucket)
	cfg.S3AccessKeyID = strings.TrimSpace(cfg.S3AccessKeyID)
	cfg.S3SecretKey = strings.TrimSpace(cfg.S3SecretKey)
	cfg.S3Endpoint = strings.TrimSpace(cfg.S3Endpoint)
	cfg.S3PublicEndpoint = strings.TrimSpace(cfg.S3PublicEndpoint)
	if cfg.MaxVideoBytes <= 0 {
		cfg.MaxVideoBytes = 2 << 30
	}
	if cfg.SignedURLTTLSeconds <= 0 {
		cfg.SignedURLTTLSeconds = 3600
	}
	if cfg.UploadTicketTTLSeconds <= 0 {
		cfg.UploadTicketTTLSeconds = 3600
	}
	if cfg.ProviderEnabled {
		if strings.TrimSpace(cfg.ProviderBaseURL) == "" {
			return nil, fmt.Errorf("PROVIDER_BASE_URL is required when PROVIDER_ENABLED is true")
		}
		if strings.TrimSpace(cfg.ProviderWebhookSecret) == "" {
			return nil, fmt.Errorf("PROVIDER_WEBHOOK_SECRET is required when PROVIDER_ENABLED is true")
		}
	}
	if cfg.AuthEnabled {
		if strings.TrimSpace(cfg.AuthIssuer) == "" {
			return nil, fmt.Errorf("AUTH_ISSUER is required when AUTH_ENABLED is true")
		}
		if strings.TrimSpace(cfg.AuthJWKSURL) == "" {
			return nil, fmt.Errorf("AUTH_JWKS_URL is required when AUTH_ENABLED is true")
		}
	}
	return cfg, nil
}

// GetDatabaseWriteDSN returns the write database connection string.
func (c *Config) GetDatabaseWriteDSN() string {
	return c.DBPostgresqlWriteDSN
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// SignedURLTTL returns the lifetime of presigned GET/PUT URLs.
func (c *Config) SignedURLTTL() time.Duration {
	return time.Duration(c.SignedURLTTLSeconds) * time.Second
}

// UploadTicketTTL returns the lifetime of upload tickets.
func (c *Config) UploadTicketTTL() time.Duration {
	return time.Duration(c.UploadTicketTTLSeconds) * time.Second
}

// IsLocalStorage returns true if local storage backend is configured.
func (c *Config) IsLocalStorage() bool {
	return strings.ToLower(strings.TrimSpace(c.StorageBackend)) == "local"
}

// IsS3Storage returns true if S3 storage backend is configured.
func (c *Config) IsS3Storage() bool {
	backend := strings.ToLower(strings.TrimSpace(c.StorageBackend))
	return backend == "" || backend == "s3"
}

// AllowsMIME reports whether the content type is in the allowed video set.
func (c *Config) AllowsMIME(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	for _, allowed := range c.AllowedVideoMIMEs {
		if strings.ToLower(strings.TrimSpace(allowed)) == mime {
			return true
		}
	}
	return false
}
