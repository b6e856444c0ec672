// Package scheduler takes periodic snapshots of every workspace and prunes
// old ones.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/auth"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/snapshot"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/workspace"
)

// Gateway is the subset of gateway.Service the scheduler drives.
type Gateway interface {
	ListWorkspaces(ctx context.Context, p auth.Principal) ([]*workspace.Workspace, error)
	CreateSnapshot(ctx context.Context, p auth.Principal, id string) (*snapshot.Snapshot, error)
	ListSnapshots(ctx context.Context, p auth.Principal, id string) ([]snapshot.Snapshot, error)
	DeleteSnapshot(ctx context.Context, p auth.Principal, id, name string) error
}

var principal = auth.Internal("scheduler")

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler runs snapshot passes on a cron schedule. A tick that fires
// while the previous pass is still running is skipped.
type Scheduler struct {
	gw       Gateway
	schedule cron.Schedule
	spec     string
	retain   int

	running sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
}

// New parses spec (five-field cron or a descriptor such as "@daily").
// retain keeps that many newest snapshots per workspace; 0 keeps all.
func New(gw Gateway, spec string, retain int) (*Scheduler, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot schedule %q: %w", spec, err)
	}
	if retain < 0 {
		return nil, fmt.Errorf("snapshot retention must not be negative, got %d", retain)
	}
	return &Scheduler{gw: gw, schedule: sched, spec: spec, retain: retain}, nil
}

// Start begins firing passes in the background.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.cron = cron.New(cron.WithParser(parser))
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		if !s.running.TryLock() {
			logging.Warn("snapshot pass still running, skipping tick")
			return
		}
		defer s.running.Unlock()
		if err := s.RunOnce(ctx); err != nil {
			logging.Error("snapshot pass failed", zap.Error(err))
		}
	}))
	s.cron.Start()
	logging.Info("snapshot scheduler started",
		zap.String("schedule", s.spec),
		zap.Int("retain", s.retain))
}

// Stop cancels any running pass and waits for it to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	logging.Info("snapshot scheduler stopped")
}

// RunOnce snapshots every workspace and applies retention. A failure on one
// workspace does not stop the others; all failures are returned joined.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	list, err := s.gw.ListWorkspaces(ctx, principal)
	if err != nil {
		return err
	}
	var errs []error
	for _, ws := range list {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap, err := s.gw.CreateSnapshot(ctx, principal, ws.ID)
		if err != nil {
			logging.Warn("scheduled snapshot failed", zap.String("server_id", ws.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("snapshot %s: %w", ws.ID, err))
			continue
		}
		logging.Info("scheduled snapshot stored",
			zap.String("server_id", ws.ID),
			zap.String("name", snap.Name),
			zap.Int64("size", snap.Size))
		if err := s.prune(ctx, ws.ID); err != nil {
			errs = append(errs, fmt.Errorf("prune %s: %w", ws.ID, err))
		}
	}
	return errors.Join(errs...)
}

// prune deletes all but the newest retain snapshots. List returns oldest
// first.
func (s *Scheduler) prune(ctx context.Context, id string) error {
	if s.retain == 0 {
		return nil
	}
	snaps, err := s.gw.ListSnapshots(ctx, principal, id)
	if err != nil {
		return err
	}
	if len(snaps) <= s.retain {
		return nil
	}
	for _, old := range snaps[:len(snaps)-s.retain] {
		if err := s.gw.DeleteSnapshot(ctx, principal, id, old.Name); err != nil {
			return err
		}
		logging.Debug("pruned snapshot", zap.String("server_id", id), zap.String("name", old.Name))
	}
	return nil
}
