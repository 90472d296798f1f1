package ttl

import (
	"context"
	"time"

	"go.uber.org/zap"

	"codehub/internal/jitter"
	"codehub/internal/pubsub"
	"codehub/internal/repository"
	"codehub/internal/workspace"
)

// Loop is the TTL demotion loop: it drains the broker's activity set into
// last_access_at, then demotes idle RUNNING workspaces to STANDBY and idle
// STANDBY workspaces to ARCHIVED by writing desired_state. It never touches
// phase or operation directly; the Workspace Controller steps those in
// response to the intent change, per the single-writer-per-field invariant.
// Run this loop only while holding leadership — two replicas racing to
// write desired_state would be harmless (idempotent), but wasteful.
type Loop struct {
	repo   *repository.Repository
	store  ActivityStore
	ps     pubsub.PubSub
	logger *zap.Logger

	interval          time.Duration
	standbyThreshold  time.Duration
	archiveThreshold  time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
}

// New builds a TTL Loop. standbyThreshold bounds RUNNING idle time before
// demotion to STANDBY; archiveThreshold bounds STANDBY dwell time before
// demotion to ARCHIVED.
func New(repo *repository.Repository, store ActivityStore, ps pubsub.PubSub, logger *zap.Logger, interval, standbyThreshold, archiveThreshold time.Duration) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		repo:             repo,
		store:            store,
		ps:               ps,
		logger:           logger,
		interval:         interval,
		standbyThreshold: standbyThreshold,
		archiveThreshold: archiveThreshold,
		stopChan:         make(chan struct{}),
		doneChan:         make(chan struct{}),
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

	l.tick(ctx)

	timer := time.NewTimer(jitter.Around(l.interval, 0.3))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		case <-timer.C:
			l.tick(ctx)
			timer.Reset(jitter.Around(l.interval, 0.3))
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	activity, err := l.store.Drain(ctx)
	if err != nil {
		l.logger.Warn("ttl: draining broker activity set", zap.Error(err))
	} else if len(activity) > 0 {
		if err := l.repo.FlushActivity(ctx, activity); err != nil {
			l.logger.Error("ttl: flushing activity to last_access_at", zap.Error(err))
		}
	}

	demoted := 0

	standbyIDs, err := l.repo.ListStandbyTTLCandidates(ctx, l.standbyThreshold)
	if err != nil {
		l.logger.Error("ttl: listing standby candidates", zap.Error(err))
	} else {
		for _, id := range standbyIDs {
			if err := l.repo.UpdateDesiredState(ctx, id, workspace.DesiredStandby); err != nil {
				l.logger.Error("ttl: demoting to standby", zap.String("workspace_id", id), zap.Error(err))
				continue
			}
			demoted++
		}
	}

	archiveIDs, err := l.repo.ListArchiveTTLCandidates(ctx, l.archiveThreshold)
	if err != nil {
		l.logger.Error("ttl: listing archive candidates", zap.Error(err))
	} else {
		for _, id := range archiveIDs {
			if err := l.repo.UpdateDesiredState(ctx, id, workspace.DesiredArchived); err != nil {
				l.logger.Error("ttl: demoting to archived", zap.String("workspace_id", id), zap.Error(err))
				continue
			}
			demoted++
		}
	}

	if demoted > 0 {
		_ = l.ps.Publish(ctx, pubsub.WakeControllerTopic, &pubsub.WakeHint{
			Reason:    "ttl_demotion",
			Timestamp: time.Now(),
		})
	}
}
