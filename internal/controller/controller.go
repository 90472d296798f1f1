// Package controller implements the Workspace Controller: the reconciliation
// loop that judges each workspace's phase from observed conditions, plans
// the next lifecycle operation, and drives the Agent through it under a
// compare-and-set guard.
package controller

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"codehub/internal/agentclient"
	"codehub/internal/idgen"
	"codehub/internal/pubsub"
	"codehub/internal/repository"
	"codehub/internal/s3"
	"codehub/internal/workspace"
)

// Controller owns one Workspace Controller loop. Only one process in the
// cluster should run it at a time; callers gate Start behind leader
// election.
type Controller struct {
	db      *sqlx.DB
	repo    *repository.Repository
	agent   *agentclient.Client
	s3cfg   *s3.Config
	ps      pubsub.PubSub
	logger  *zap.Logger

	idleInterval   time.Duration
	activeInterval time.Duration
	budgets        map[workspace.Operation]time.Duration
	maxRetry       int

	stopChan chan struct{}
	doneChan chan struct{}
}

// New builds a Controller. s3cfg is used only for its pure ArchiveDataKey
// layout function, never for I/O — the Agent owns all object storage
// writes.
func New(db *sqlx.DB, repo *repository.Repository, agent *agentclient.Client, s3cfg *s3.Config, ps pubsub.PubSub, logger *zap.Logger, idleInterval, activeInterval time.Duration, budgets map[workspace.Operation]time.Duration, maxRetry int) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		db:             db,
		repo:           repo,
		agent:          agent,
		s3cfg:          s3cfg,
		ps:             ps,
		logger:         logger,
		idleInterval:   idleInterval,
		activeInterval: activeInterval,
		budgets:        budgets,
		maxRetry:       maxRetry,
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
}

// Start launches the tick loop in a goroutine and returns immediately.
func (c *Controller) Start(ctx context.Context) {
	go c.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (c *Controller) Stop() {
	close(c.stopChan)
	<-c.doneChan
}

func (c *Controller) loop(ctx context.Context) {
	defer close(c.doneChan)

	wakeCh, unsub := c.ps.Subscribe(ctx, pubsub.WakeControllerTopic)
	defer unsub()

	c.tick(ctx)

	timer := time.NewTimer(c.nextInterval(ctx))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-wakeCh:
			c.tick(ctx)
			timer.Reset(c.nextInterval(ctx))
		case <-timer.C:
			c.tick(ctx)
			timer.Reset(c.nextInterval(ctx))
		}
	}
}

// nextInterval switches between the idle and active poll cadence depending
// on whether any workspace currently has an in-flight operation.
func (c *Controller) nextInterval(ctx context.Context) time.Duration {
	active, err := c.repo.HasInFlightOperations(ctx)
	if err != nil {
		c.logger.Warn("checking in-flight operations", zap.Error(err))
		return c.idleInterval
	}
	if active {
		return c.activeInterval
	}
	return c.idleInterval
}

func (c *Controller) tick(ctx context.Context) {
	ids, err := c.repo.ListForTick(ctx, false)
	if err != nil {
		c.logger.Error("listing workspaces for tick", zap.Error(err))
		return
	}

	for _, w := range ids {
		if err := c.reconcileOne(ctx, w.ID); err != nil && !errors.Is(err, repository.ErrCASFailed) {
			c.logger.Error("reconciling workspace", zap.String("workspace_id", w.ID), zap.Error(err))
		}
	}
}

// reconcileOne judges and plans a single workspace inside one transaction,
// then (for decisions that require it) invokes the Agent outside the
// transaction so a slow or failing HTTP call never holds the row lock.
func (c *Controller) reconcileOne(ctx context.Context, id string) error {
	now := time.Now()
	var decision workspace.Decision
	var w *workspace.Workspace
	var archiveOpID *string

	err := repository.WithTx(ctx, c.db, func(tx *sqlx.Tx) error {
		var txErr error
		w, txErr = c.repo.GetForUpdate(ctx, tx, id)
		if txErr != nil {
			return txErr
		}
		if w == nil {
			return nil
		}

		phase, healthy, invariantReason := workspace.Judge(w, now)
		if txErr := c.repo.CommitJudgment(ctx, tx, w, phase, healthy, now); txErr != nil {
			return txErr
		}
		w.Phase = phase

		// Judge reported a fresh invariant breach (ContainerWithoutVolume),
		// as opposed to a sticky re-judgment of an already-recorded ERROR:
		// the ERROR-atomicity invariant still requires operation/error_reason
		// /error_count to land in the same commit as phase, which
		// CommitJudgment above does not do on its own.
		if invariantReason != "" {
			return c.repo.EnterError(ctx, tx, id, invariantReason, now)
		}

		decision = workspace.Plan(w, phase, now, c.budgets, c.maxRetry, c.s3cfg.ArchiveDataKey)

		switch decision.Kind {
		case workspace.DecisionNone:
			return nil

		case workspace.DecisionCompleteOperation:
			var archiveKey *string
			if w.Operation == workspace.OpArchiving || w.Operation == workspace.OpCreateEmptyArchive {
				if w.ArchiveOpID != nil {
					key := c.s3cfg.ArchiveDataKey(w.ID, *w.ArchiveOpID)
					archiveKey = &key
				}
			}
			return c.repo.CompleteOperation(ctx, tx, id, archiveKey)

		case workspace.DecisionReinvoke:
			return nil // re-invocation happens after commit, below

		case workspace.DecisionStartOperation:
			var opID *string
			if decision.AllocateOpID {
				generated, genErr := idgen.NewOpID()
				if genErr != nil {
					return genErr
				}
				opID = &generated
			}
			if txErr := c.repo.StartOperation(ctx, tx, id, decision.Operation, opID, now); txErr != nil {
				return txErr
			}
			archiveOpID = opID
			w.Operation = decision.Operation
			return nil

		case workspace.DecisionEnterError:
			return c.repo.EnterError(ctx, tx, id, decision.ErrorReason, now)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if w == nil {
		return nil
	}

	var invokeErr error
	switch decision.Kind {
	case workspace.DecisionStartOperation:
		invokeErr = c.invokeAgent(ctx, w, decision.Operation, archiveOpID)
	case workspace.DecisionReinvoke:
		invokeErr = c.invokeAgent(ctx, w, w.Operation, w.ArchiveOpID)
	default:
		return nil
	}
	if invokeErr == nil {
		return nil
	}

	c.logger.Warn("agent invocation failed, accruing retry",
		zap.String("workspace_id", w.ID), zap.String("operation", string(w.Operation)), zap.Error(invokeErr))
	return repository.WithTx(ctx, c.db, func(tx *sqlx.Tx) error {
		return c.repo.AccrueRetry(ctx, tx, w.ID)
	})
}

// invokeAgent dispatches the HTTP call matching op. Agent endpoints are
// idempotent per operation id, so re-invoking on a reinvoke decision is
// always safe.
func (c *Controller) invokeAgent(ctx context.Context, w *workspace.Workspace, op workspace.Operation, opID *string) error {
	switch op {
	case workspace.OpProvisioning:
		_, err := c.agent.Provision(ctx, w.ID)
		return err

	case workspace.OpCreateEmptyArchive, workspace.OpArchiving:
		if opID == nil {
			return nil
		}
		_, err := c.agent.Archive(ctx, w.ID, *opID)
		return err

	case workspace.OpRestoring:
		if opID == nil || w.ArchiveKey == nil {
			return nil
		}
		_, err := c.agent.Restore(ctx, w.ID, *w.ArchiveKey, *opID)
		return err

	case workspace.OpStarting:
		// STANDBY -> RUNNING always starts from an already-materialized
		// volume (ARCHIVED -> STANDBY is the separate OpRestoring step), so
		// no archive_key/restore_op_id accompanies this call.
		_, err := c.agent.Start(ctx, w.ID, "", "")
		return err

	case workspace.OpStopping:
		_, err := c.agent.Stop(ctx, w.ID)
		return err

	case workspace.OpDeleting:
		_, err := c.agent.Delete(ctx, w.ID)
		return err
	}
	return nil
}
