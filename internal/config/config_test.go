package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SERVERS_BASE_PATH", "/srv/panel/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "/srv/panel", cfg.ServersBasePath)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, filepath.Join("/srv/panel", "panel.db"), cfg.DatabaseURL)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, int64(1<<30), cfg.MaxUploadSize)
	assert.Equal(t, 10000, cfg.ExtractMaxFiles)
	assert.Empty(t, cfg.SnapshotBackend)
	assert.Empty(t, cfg.SnapshotSchedule)
	assert.Zero(t, cfg.SnapshotRetain)
	assert.False(t, cfg.UseTLS())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"JWT_SECRET":        "s3cret",
		"LISTEN_ADDR":       "127.0.0.1:9000",
		"DATABASE_DRIVER":   "postgres",
		"DATABASE_URL":      "postgres://panel@localhost/panel",
		"TOKEN_TTL":         "90m",
		"MAX_UPLOAD_SIZE":   "2048",
		"RATE_LIMIT_RPS":    "2.5",
		"SNAPSHOT_BACKEND":  "s3",
		"S3_BUCKET":         "snaps",
		"TLS_CERT_FILE":     "/tls/cert.pem",
		"TLS_KEY_FILE":      "/tls/key.pem",
		"EXTRACT_MAX_FILES": "12",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "postgres://panel@localhost/panel", cfg.DatabaseURL)
	assert.Equal(t, 90*time.Minute, cfg.TokenTTL)
	assert.Equal(t, int64(2048), cfg.MaxUploadSize)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0.0001)
	assert.Equal(t, "s3", cfg.SnapshotBackend)
	assert.Equal(t, "snaps", cfg.S3Bucket)
	assert.Equal(t, 12, cfg.ExtractMaxFiles)
	assert.True(t, cfg.UseTLS())
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{}},
		{"relative base", map[string]string{"JWT_SECRET": "x", "SERVERS_BASE_PATH": "servers"}},
		{"postgres without url", map[string]string{"JWT_SECRET": "x", "DATABASE_DRIVER": "postgres"}},
		{"unknown driver", map[string]string{"JWT_SECRET": "x", "DATABASE_DRIVER": "mysql"}},
		{"unknown snapshot backend", map[string]string{"JWT_SECRET": "x", "SNAPSHOT_BACKEND": "ftp"}},
		{"bad duration", map[string]string{"JWT_SECRET": "x", "TOKEN_TTL": "soon"}},
		{"schedule without backend", map[string]string{"JWT_SECRET": "x", "SNAPSHOT_SCHEDULE": "@daily"}},
		{"negative retention", map[string]string{"JWT_SECRET": "x", "SNAPSHOT_RETAIN": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
