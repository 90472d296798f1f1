// Package observer implements the Observer loop: the only writer of
// conditions and observed_at. It polls the Workspace Runtime Agent's bulk
// observation endpoint, translates the response into the four named
// conditions (plus the Observer-owned restore/agent-error sidecars), and
// commits them with a single UPDATE per workspace. It never reads or writes
// phase, operation, or any other Workspace Controller-owned field.
package observer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"codehub/internal/agentclient"
	"codehub/internal/jitter"
	"codehub/internal/pubsub"
	"codehub/internal/repository"
	"codehub/internal/workspace"
)

// errorCode values the reference Agent reports in the bulk-observe "error"
// sidecar (§6.2). These are a coordinator-side convention, not a wire
// contract fixed by the spec: any Agent implementation is free to only ever
// emit codeArchiveCorrupted/codeDataLost, the two ErrorReasons §4.2
// classifies as Observer/Agent-sourced and terminal.
const (
	codeArchiveCorrupted = 1
	codeDataLost         = 2
)

// Observer runs its own poll loop, independent of the Workspace Controller's,
// on a separate wake channel (codehub:wake:ob) so an Agent taking a slow bulk
// observation never blocks WC's reconciliation.
type Observer struct {
	repo   *repository.Repository
	agent  *agentclient.Client
	ps     pubsub.PubSub
	logger *zap.Logger

	idleInterval   time.Duration
	activeInterval time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
}

// New builds an Observer.
func New(repo *repository.Repository, agent *agentclient.Client, ps pubsub.PubSub, logger *zap.Logger, idleInterval, activeInterval time.Duration) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{
		repo:           repo,
		agent:          agent,
		ps:             ps,
		logger:         logger,
		idleInterval:   idleInterval,
		activeInterval: activeInterval,
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
}

// Start launches the loop in a goroutine.
func (o *Observer) Start(ctx context.Context) {
	go o.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (o *Observer) Stop() {
	close(o.stopChan)
	<-o.doneChan
}

func (o *Observer) loop(ctx context.Context) {
	defer close(o.doneChan)

	wakeCh, unsub := o.ps.Subscribe(ctx, pubsub.WakeObserverTopic)
	defer unsub()

	o.tick(ctx)

	timer := time.NewTimer(jitter.Around(o.nextInterval(ctx), 0.3))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopChan:
			return
		case <-wakeCh:
			o.tick(ctx)
			timer.Reset(jitter.Around(o.nextInterval(ctx), 0.3))
		case <-timer.C:
			o.tick(ctx)
			timer.Reset(jitter.Around(o.nextInterval(ctx), 0.3))
		}
	}
}

func (o *Observer) nextInterval(ctx context.Context) time.Duration {
	active, err := o.repo.HasInFlightOperations(ctx)
	if err != nil {
		o.logger.Warn("observer: checking in-flight operations", zap.Error(err))
		return o.idleInterval
	}
	if active {
		return o.activeInterval
	}
	return o.idleInterval
}

// tick performs one bulk observation and commits the translated conditions
// for every non-deleted workspace in a single round trip to the Agent.
func (o *Observer) tick(ctx context.Context) {
	workspaces, err := o.repo.ListForTick(ctx, false)
	if err != nil {
		o.logger.Error("observer: listing workspaces", zap.Error(err))
		return
	}
	if len(workspaces) == 0 {
		return
	}

	resp, err := o.agent.BulkObserve(ctx)
	if err != nil {
		o.logger.Warn("observer: bulk observe failed", zap.Error(err))
		return
	}

	byID := make(map[string]*agentclient.ObservedWorkspace, len(resp.Workspaces))
	for i := range resp.Workspaces {
		byID[resp.Workspaces[i].WorkspaceID] = &resp.Workspaces[i]
	}

	now := time.Now()
	changed := false
	for _, w := range workspaces {
		next := translate(w.Conditions, byID[w.ID], now)
		if conditionsChanged(w.Conditions, next) {
			changed = true
		}
		if err := o.repo.CommitObservation(ctx, w.ID, next, now); err != nil {
			o.logger.Error("observer: committing observation", zap.String("workspace_id", w.ID), zap.Error(err))
		}
	}

	if changed {
		_ = o.ps.Publish(ctx, pubsub.WakeControllerTopic, &pubsub.WakeHint{
			Reason:    "observation_changed",
			Timestamp: now,
		})
	}
}

// translate converts one Agent observation into the conditions document to
// commit. Healthy is WC-owned and carried through untouched; ow == nil (the
// Agent does not know this workspace_id at all) reports every resource
// absent, matching a freshly created PENDING workspace or one the Agent has
// already torn down.
func translate(prev workspace.Conditions, ow *agentclient.ObservedWorkspace, now time.Time) workspace.Conditions {
	c := workspace.Conditions{Healthy: prev.Healthy}

	if ow == nil {
		c.Container = falseCondition("NotObserved", now)
		c.Volume = falseCondition("NotObserved", now)
		c.Archive = falseCondition("NotObserved", now)
		return c
	}

	if ow.Container != nil && ow.Container.Running {
		c.Container = trueCondition(now)
	} else {
		c.Container = falseCondition("NotRunning", now)
	}

	if ow.Volume != nil && ow.Volume.Exists {
		c.Volume = trueCondition(now)
	} else {
		c.Volume = falseCondition("NotFound", now)
	}

	if ow.Archive != nil && ow.Archive.Exists {
		c.Archive = workspace.Condition{Status: workspace.ConditionTrue, ObservedAt: now}
		c.ObservedArchiveKey = ow.Archive.ArchiveKey
	} else {
		c.Archive = falseCondition("NotFound", now)
	}

	if ow.Restore != nil {
		c.Restore = &workspace.ObservedRestore{
			RestoreOpID: ow.Restore.RestoreOpID,
			ArchiveKey:  ow.Restore.ArchiveKey,
		}
	}

	if ow.Error != nil {
		if reason, ok := mapErrorCode(ow.Error.ErrorCode); ok {
			c.AgentError = &workspace.ObservedAgentError{
				Operation:   ow.Error.Operation,
				Reason:      reason,
				ArchiveOpID: ow.Error.ArchiveOpID,
				ObservedAt:  ow.Error.ErrorAt,
			}
		}
	}

	return c
}

func mapErrorCode(code int) (workspace.ErrorReason, bool) {
	switch code {
	case codeArchiveCorrupted:
		return workspace.ErrorArchiveCorrupted, true
	case codeDataLost:
		return workspace.ErrorDataLost, true
	default:
		return "", false
	}
}

func trueCondition(now time.Time) workspace.Condition {
	return workspace.Condition{Status: workspace.ConditionTrue, ObservedAt: now}
}

func falseCondition(reason string, now time.Time) workspace.Condition {
	return workspace.Condition{Status: workspace.ConditionFalse, Reason: reason, ObservedAt: now}
}

// conditionsChanged reports whether any Observer-owned field differs,
// ignoring Healthy (WC-owned, never touched here).
func conditionsChanged(a, b workspace.Conditions) bool {
	if a.Container.Status != b.Container.Status || a.Volume.Status != b.Volume.Status || a.Archive.Status != b.Archive.Status {
		return true
	}
	if a.ObservedArchiveKey != b.ObservedArchiveKey {
		return true
	}
	if (a.Restore == nil) != (b.Restore == nil) {
		return true
	}
	if a.Restore != nil && b.Restore != nil && *a.Restore != *b.Restore {
		return true
	}
	if (a.AgentError == nil) != (b.AgentError == nil) {
		return true
	}
	if a.AgentError != nil && b.AgentError != nil && *a.AgentError != *b.AgentError {
		return true
	}
	return false
}
