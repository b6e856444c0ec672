package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/archive"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/auth"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/config"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/events"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/gateway"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metadata"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metadata/postgres"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metadata/sqlite"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/retry"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/snapshot"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/storage"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/storage/local"
	s3storage "github.com/abhicommands/Minecraft-Sever-Panel/internal/storage/s3"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/workspace"
)

// deps holds everything built from the configuration.
type deps struct {
	cfg        *config.Config
	records    metadata.Store
	workspaces *workspace.Store
	auth       *auth.Auth
	snapshots  storage.Backend
	gateway    *gateway.Service
}

func (d *deps) Close() {
	if d.snapshots != nil {
		d.snapshots.Close()
	}
	if d.records != nil {
		d.records.Close()
	}
}

// openStore connects the configured record store and applies its schema.
func openStore(ctx context.Context, cfg *config.Config) (metadata.Store, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		logging.Info("connecting to PostgreSQL...")
		var store *postgres.Store
		err := retry.Do(ctx, retry.StartupConfig(), func() error {
			var err error
			store, err = postgres.New(cfg.DatabaseURL)
			return retry.Retryable(err)
		}, func(attempt int, wait time.Duration, err error) {
			logging.Warn("database not reachable, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		})
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return store, nil
	case "sqlite":
		logging.Info("opening SQLite database", zap.String("path", cfg.DatabaseURL))
		store, err := sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.DatabaseDriver)
	}
}

// openSnapshotBackend returns the configured snapshot backend, or nil when
// snapshots are disabled.
func openSnapshotBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.SnapshotBackend {
	case "":
		return nil, nil
	case "local":
		b, err := local.New(local.Config{RootPath: cfg.SnapshotLocalPath, CreateDirs: true})
		if err != nil {
			return nil, err
		}
		return b, nil
	case "s3":
		b, err := s3storage.New(ctx, s3storage.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend: %s", cfg.SnapshotBackend)
	}
}

// buildDeps wires the core services. pub receives gateway events; nil
// discards them.
func buildDeps(ctx context.Context, cfg *config.Config, pub events.Publisher) (*deps, error) {
	d := &deps{cfg: cfg}

	records, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	d.records = records

	d.workspaces, err = workspace.New(cfg.ServersBasePath, d.records)
	if err != nil {
		d.Close()
		return nil, err
	}

	d.auth = auth.New(d.records, cfg.JWTSecret, cfg.TokenTTL)

	backend, err := openSnapshotBackend(ctx, cfg)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open snapshot backend: %w", err)
	}
	d.snapshots = backend

	opts := []gateway.Option{
		gateway.WithExtractLimits(archiveLimits(cfg)),
	}
	if d.snapshots != nil {
		opts = append(opts, gateway.WithSnapshots(snapshot.New(d.snapshots, "")))
		logging.Info("snapshots enabled", zap.String("backend", d.snapshots.Type()))
	}
	d.gateway = gateway.New(d.workspaces, pub, opts...)
	return d, nil
}

func archiveLimits(cfg *config.Config) archive.ExtractOptions {
	return archive.ExtractOptions{
		MaxFiles: cfg.ExtractMaxFiles,
		MaxBytes: cfg.ExtractMaxBytes,
	}
}

// openCLI loads configuration for the offline subcommands. Logs go to
// stderr at warn level so they never mix with table or JSON output.
func openCLI(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logging.Init(logging.Config{
		Level:      "warn",
		Format:     "console",
		OutputPath: "stderr",
	}); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return buildDeps(ctx, cfg, nil)
}
