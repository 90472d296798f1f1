package gc

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"codehub/internal/agentclient"
	"codehub/internal/jitter"
	"codehub/internal/repository"
	"codehub/internal/s3"
)

// Loop is the GC pass: it computes the protection set from Postgres (the
// sole authority on what must survive), splits it into bounded batches, and
// asks the Agent to reconcile each batch's workspace prefixes against
// object storage, deleting anything unprotected and past the orphan grace
// window. Run this only while holding leadership.
type Loop struct {
	repo   *repository.Repository
	agent  *agentclient.Client
	s3cfg  *s3.Config
	logger *zap.Logger

	interval       time.Duration
	retentionCount int
	orphanGrace    time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
}

// New builds a GC Loop.
func New(repo *repository.Repository, agent *agentclient.Client, s3cfg *s3.Config, logger *zap.Logger, interval time.Duration, retentionCount int, orphanGrace time.Duration) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		repo:           repo,
		agent:          agent,
		s3cfg:          s3cfg,
		logger:         logger,
		interval:       interval,
		retentionCount: retentionCount,
		orphanGrace:    orphanGrace,
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
}

// Start launches the loop in a goroutine.
func (l *Loop) Start(ctx context.Context) {
	go l.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (l *Loop) Stop() {
	close(l.stopChan)
	<-l.doneChan
}

func (l *Loop) loop(ctx context.Context) {
	defer close(l.doneChan)

	select {
	case <-time.After(jitter.Startup(5 * time.Second)):
	case <-ctx.Done():
		return
	}

	timer := time.NewTimer(jitter.Around(l.interval, 0.1))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		case <-timer.C:
			if err := l.tick(ctx); err != nil {
				l.logger.Warn("gc: pass completed with errors", zap.Error(err))
			}
			timer.Reset(jitter.Around(l.interval, 0.1))
		}
	}
}

// tick runs one full GC pass. Batch failures are accumulated and returned
// together so one unreachable batch never blocks the rest from being swept.
func (l *Loop) tick(ctx context.Context) error {
	archiveKeys, inFlight, err := l.repo.ProtectionSet(ctx)
	if err != nil {
		return err
	}

	keysByWorkspace := make(map[string][]string)
	workspaceSet := make(map[string]struct{})
	for _, key := range archiveKeys {
		id := l.s3cfg.WorkspaceIDFromKey(key)
		if id == "" {
			continue
		}
		keysByWorkspace[id] = append(keysByWorkspace[id], key)
		workspaceSet[id] = struct{}{}
	}
	for _, p := range inFlight {
		workspaceSet[p.WorkspaceID] = struct{}{}
	}

	workspaceIDs := make([]string, 0, len(workspaceSet))
	for id := range workspaceSet {
		workspaceIDs = append(workspaceIDs, id)
	}

	var result *multierror.Error
	batches := partition(workspaceIDs)
	swept := 0
	for _, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		req := agentclient.GCRequest{
			ProtectedWorkspaces: batch,
			RetentionCount:      l.retentionCount,
			OrphanGraceSeconds:  int64(l.orphanGrace.Seconds()),
		}
		for _, id := range batch {
			req.ArchiveKeys = append(req.ArchiveKeys, keysByWorkspace[id]...)
		}
		if err := l.agent.GC(ctx, req); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		swept += len(batch)
	}

	l.logger.Info("gc: pass complete", zap.Int("workspaces_swept", swept))
	return result.ErrorOrNil()
}
