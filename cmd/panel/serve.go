package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/api"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/config"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/events"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metadata"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metrics"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/ratelimit"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/scheduler"
)

const (
	shutdownTimeout  = 30 * time.Second
	maintenanceEvery = 15 * time.Second
	limiterIdleAfter = 10 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := logging.Init(logging.Config{
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
		}); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		defer logging.Sync()
		return serve(cmd.Context(), cfg)
	},
}

// connectionMetrics is implemented by record stores that expose pool stats.
type connectionMetrics interface {
	UpdateConnectionMetrics()
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("panel server starting...",
		zap.String("version", version),
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("servers_base", cfg.ServersBasePath))

	broadcaster := events.NewBroadcaster()
	d, err := buildDeps(ctx, cfg, broadcaster)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.auth.EnsureDefaultAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		logging.Error("failed to ensure default admin", zap.Error(err))
	}

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	})
	if limiter.Enabled() {
		logging.Info("rate limiter initialized",
			zap.Float64("rps", cfg.RateLimitRPS),
			zap.Int("burst", cfg.RateLimitBurst))
	}

	srv := api.NewServer(d.gateway, d.auth, broadcaster, limiter, cfg.MaxUploadSize)

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// No write timeout: uploads and zip downloads stream for as long as
	// they need.
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	if cfg.UseTLS() {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	go maintenance(ctx, d.records, limiter)

	if cfg.SnapshotSchedule != "" {
		sched, err := scheduler.New(d.gateway, cfg.SnapshotSchedule, cfg.SnapshotRetain)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.UseTLS() {
			logging.Info("HTTPS server listening", zap.String("addr", cfg.ListenAddr))
			errCh <- httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			logging.Info("HTTP server listening", zap.String("addr", cfg.ListenAddr))
			errCh <- httpServer.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		metricsServer.Close()
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn("graceful shutdown incomplete", zap.Error(err))
		httpServer.Close()
	}
	metricsServer.Close()
	logging.Info("server stopped")
	return nil
}

// maintenance refreshes pool gauges and drops idle limiter buckets until ctx
// is done.
func maintenance(ctx context.Context, records metadata.Store, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(maintenanceEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cm, ok := records.(connectionMetrics); ok {
				cm.UpdateConnectionMetrics()
			}
			limiter.Cleanup(limiterIdleAfter)
		}
	}
}

func init() {
	// Allow LISTEN_ADDR to be overridden from the command line.
	serveCmd.Flags().String("listen", "", "Listen address (overrides LISTEN_ADDR)")
	serveCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
			return os.Setenv("LISTEN_ADDR", addr)
		}
		return nil
	}
}
