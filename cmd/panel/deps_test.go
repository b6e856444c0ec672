package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/config"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{
		ServersBasePath: base,
		DatabaseDriver:  "sqlite",
		JWTSecret:       "test-secret",
		TokenTTL:        time.Hour,
		ExtractMaxFiles: 10,
		ExtractMaxBytes: 1 << 20,
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuildDepsSQLite(t *testing.T) {
	logging.InitNop()
	ctx := context.Background()
	cfg := testConfig(t)

	d, err := buildDeps(ctx, cfg, nil)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, filepath.Join(cfg.ServersBasePath, "panel.db"), cfg.DatabaseURL)
	assert.False(t, d.gateway.SnapshotsEnabled())

	ws, err := d.gateway.CreateWorkspace(ctx, cliPrincipal, "survival")
	require.NoError(t, err)
	list, err := d.gateway.ListWorkspaces(ctx, cliPrincipal)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ws.ID, list[0].ID)

	require.NoError(t, d.auth.AddOperator(ctx, "alex", "hunter2"))
	_, _, p, err := d.auth.Login(ctx, "alex", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alex", p.Username())
}

func TestBuildDepsLocalSnapshots(t *testing.T) {
	logging.InitNop()
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.SnapshotBackend = "local"
	cfg.SnapshotLocalPath = filepath.Join(t.TempDir(), "snaps")

	d, err := buildDeps(ctx, cfg, nil)
	require.NoError(t, err)
	defer d.Close()

	assert.True(t, d.gateway.SnapshotsEnabled())
	assert.Equal(t, "local", d.snapshots.Type())
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	_, err := openStore(context.Background(), &config.Config{DatabaseDriver: "mysql"})
	assert.ErrorContains(t, err, "unknown database driver")
}

func TestOpenSnapshotBackendDisabled(t *testing.T) {
	b, err := openSnapshotBackend(context.Background(), &config.Config{})
	require.NoError(t, err)
	assert.Nil(t, b)

	_, err = openSnapshotBackend(context.Background(), &config.Config{SnapshotBackend: "ftp"})
	assert.ErrorContains(t, err, "unknown snapshot backend")
}

func TestArchiveLimits(t *testing.T) {
	opts := archiveLimits(&config.Config{ExtractMaxFiles: 5, ExtractMaxBytes: 99})
	assert.Equal(t, 5, opts.MaxFiles)
	assert.Equal(t, int64(99), opts.MaxBytes)
}
