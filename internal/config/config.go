// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all panel server configuration.
type Config struct {
	// Server
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// TLS (optional, if both set the server uses HTTPS)
	TLSCertFile string `envconfig:"TLS_CERT_FILE"`
	TLSKeyFile  string `envconfig:"TLS_KEY_FILE"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Workspaces live under <ServersBasePath>/<id>/{root,backup}
	ServersBasePath string `envconfig:"SERVERS_BASE_PATH" default:"/data/servers"`

	// Record store ("sqlite" or "postgres")
	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"sqlite"`
	DatabaseURL    string `envconfig:"DATABASE_URL"`

	// Auth
	JWTSecret     string        `envconfig:"JWT_SECRET"`
	TokenTTL      time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	AdminUsername string        `envconfig:"ADMIN_USERNAME" default:"admin"`
	AdminPassword string        `envconfig:"ADMIN_PASSWORD"`

	// Transfers
	MaxUploadSize   int64 `envconfig:"MAX_UPLOAD_SIZE" default:"1073741824"`
	ExtractMaxFiles int   `envconfig:"EXTRACT_MAX_FILES" default:"10000"`
	ExtractMaxBytes int64 `envconfig:"EXTRACT_MAX_BYTES" default:"10737418240"`

	// Rate limiting per operator (0 disables)
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"100"`

	// Snapshot storage ("" disables, "local" or "s3")
	SnapshotBackend   string `envconfig:"SNAPSHOT_BACKEND"`
	SnapshotLocalPath string `envconfig:"SNAPSHOT_LOCAL_PATH" default:"/data/snapshots"`
	S3Endpoint        string `envconfig:"S3_ENDPOINT" default:"http://localhost:9000"`
	S3Bucket          string `envconfig:"S3_BUCKET" default:"panel-snapshots"`
	S3AccessKey       string `envconfig:"S3_ACCESS_KEY" default:"minioadmin"`
	S3SecretKey       string `envconfig:"S3_SECRET_KEY" default:"minioadmin"`
	S3Region          string `envconfig:"S3_REGION" default:"us-east-1"`
	S3UseSSL          bool   `envconfig:"S3_USE_SSL" default:"false"`

	// Periodic snapshots of every workspace (cron spec, "" disables)
	SnapshotSchedule string `envconfig:"SNAPSHOT_SCHEDULE"`
	SnapshotRetain   int    `envconfig:"SNAPSHOT_RETAIN" default:"0"`
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings and fills derived defaults.
func (c *Config) Validate() error {
	if !filepath.IsAbs(c.ServersBasePath) {
		return fmt.Errorf("SERVERS_BASE_PATH must be absolute, got %q", c.ServersBasePath)
	}
	c.ServersBasePath = filepath.Clean(c.ServersBasePath)

	switch c.DatabaseDriver {
	case "sqlite":
		if c.DatabaseURL == "" {
			c.DatabaseURL = filepath.Join(c.ServersBasePath, "panel.db")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}

	switch c.SnapshotBackend {
	case "", "local", "s3":
	default:
		return fmt.Errorf("unknown SNAPSHOT_BACKEND %q", c.SnapshotBackend)
	}
	if c.SnapshotSchedule != "" && c.SnapshotBackend == "" {
		return fmt.Errorf("SNAPSHOT_SCHEDULE requires SNAPSHOT_BACKEND")
	}
	if c.SnapshotRetain < 0 {
		return fmt.Errorf("SNAPSHOT_RETAIN must not be negative")
	}
	return nil
}

// UseTLS reports whether both TLS files are configured.
func (c *Config) UseTLS() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}
