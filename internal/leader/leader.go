// Package leader implements Postgres advisory-lock leader election for the
// coordinator's singleton loops (Observer, Workspace Controller, TTL, GC share
// one lock key; EventListener holds a separate key so a LISTEN connection
// never contends with the reconciliation loops for the same slot). Holding
// the lock requires a single dedicated, never-pooled *sql.Conn: losing that
// connection releases the session-scoped advisory lock instantly, so a
// crashed or partitioned replica can never hold leadership stale.
package leader

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"codehub/internal/jitter"
)

// Default lock keys. Any two Elector instances racing for the same key in
// the same database become mutually exclusive; Observer/WC/TTL/GC share
// KeyReconciler deliberately, per §6.8 — they are cheap enough, and simple
// enough to serialize, that running all four on one replica is the common
// case, and losing that replica hands all four to the survivor in one lock
// acquisition instead of four independent races.
const (
	KeyReconciler    = int64(7_420_001)
	KeyEventListener = int64(7_420_002)
)

// retryInterval is how long a non-leader waits before trying to acquire
// again.
const retryInterval = 5 * time.Second

// pingInterval is how often the held connection is checked for liveness.
const pingInterval = 3 * time.Second

// Elector runs fn repeatedly for as long as this process holds the named
// advisory lock, and stops running it the instant the lock is lost (holder
// crash, network partition, or graceful Stop).
type Elector struct {
	db     *sql.DB
	key    int64
	name   string
	logger *zap.Logger
}

// New builds an Elector for lock key on db. name is used only for logging.
func New(db *sql.DB, key int64, name string, logger *zap.Logger) *Elector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Elector{db: db, key: key, name: name, logger: logger}
}

// Run blocks until ctx is cancelled. While this process holds the lock, fn
// runs in its own goroutine with a context that is cancelled the moment
// leadership is lost; Run then releases the lock and retries acquisition
// until ctx is done.
func (e *Elector) Run(ctx context.Context, fn func(ctx context.Context)) {
	select {
	case <-time.After(jitter.Startup(5 * time.Second)):
	case <-ctx.Done():
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		held := e.tryHold(ctx, fn)
		if !held {
			select {
			case <-time.After(retryInterval):
			case <-ctx.Done():
				return
			}
		}
	}
}

// tryHold attempts to acquire the lock once. If acquired, it runs fn until
// either the connection is found dead or ctx is cancelled, then releases and
// returns true. If the lock could not be acquired, it returns false
// immediately.
func (e *Elector) tryHold(ctx context.Context, fn func(ctx context.Context)) bool {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		e.logger.Warn("leader: acquiring dedicated connection", zap.String("lock", e.name), zap.Error(err))
		return false
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, e.key).Scan(&acquired); err != nil {
		e.logger.Warn("leader: pg_try_advisory_lock", zap.String("lock", e.name), zap.Error(err))
		conn.Close()
		return false
	}
	if !acquired {
		conn.Close()
		return false
	}

	e.logger.Info("leader: acquired", zap.String("lock", e.name))
	defer func() {
		// pg_advisory_unlock is best-effort: closing the connection always
		// releases the session-scoped lock even if this fails or the
		// connection is already dead.
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, e.key)
		conn.Close()
		e.logger.Info("leader: released", zap.String("lock", e.name))
	}()

	heldCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(heldCtx)
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-done
			return true
		case <-done:
			// fn returned on its own (should not happen for long-running
			// loops, but don't hold the lock open for nothing).
			return true
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				e.logger.Warn("leader: lost connection, releasing", zap.String("lock", e.name), zap.Error(err))
				cancel()
				<-done
				return true
			}
		}
	}
}
