// Package repository implements the explicit row-struct repository pattern
// called for in place of ORM lazy loading: every Workspace Controller tick
// issues one SELECT ... FOR UPDATE per workspace, then the judgment UPDATE
// (CommitJudgment) and, when the plan calls for one, a second UPDATE for the
// decision, both in that same transaction; it does not fold them into a
// single UPDATE. Reads are explicit conversions (row.go), and operation
// starts use a compare-and-set guard rather than optimistic-lock version
// columns.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"codehub/internal/workspace"
)

// ErrCASFailed is returned by StartOperation when the guarding WHERE
// clause matched zero rows: another writer moved first.
// Per §4.2, the tick is simply skipped; the next tick re-plans from fresher
// state.
var ErrCASFailed = errors.New("repository: compare-and-set did not match any row")

// Repository is the sole entry point onto the workspaces table.
type Repository struct {
	db *sqlx.DB
}

// New wraps an *sqlx.DB already connected with the lib/pq driver.
func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new workspace row. Called by the API surface with
// phase=PENDING and no resources.
func (r *Repository) Create(ctx context.Context, w *workspace.Workspace) error {
	row, err := fromDomain(w)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO workspaces (
			id, owner_user_id, name, description, memo,
			desired_state, phase, phase_changed_at, operation,
			conditions, error_count, created_at, updated_at
		) VALUES (
			:id, :owner_user_id, :name, :description, :memo,
			:desired_state, :phase, :phase_changed_at, :operation,
			:conditions, :error_count, :created_at, :updated_at
		)`

	_, err = r.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("creating workspace %s: %w", w.ID, err)
	}
	return nil
}

// Get reads a single workspace outside any transaction, for read-only
// surfaces (API responses, SSE snapshots).
func (r *Repository) Get(ctx context.Context, id string) (*workspace.Workspace, error) {
	var row workspaceRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM workspaces WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting workspace %s: %w", id, err)
	}
	return row.toDomain()
}

// ListByOwner reads every non-deleted workspace owned by a user, for the
// API's list surface.
func (r *Repository) ListByOwner(ctx context.Context, ownerUserID string) ([]*workspace.Workspace, error) {
	var rows []workspaceRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM workspaces WHERE owner_user_id = $1 AND deleted_at IS NULL ORDER BY created_at`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces for owner %s: %w", ownerUserID, err)
	}
	return toDomainSlice(rows)
}

// GetForUpdate reads a single workspace with a row lock, for use inside a
// WC tick transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*workspace.Workspace, error) {
	var row workspaceRow
	err := tx.GetContext(ctx, &row, `SELECT * FROM workspaces WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("locking workspace %s: %w", id, err)
	}
	return row.toDomain()
}

// ListForTick returns every workspace the Workspace Controller or Observer
// must visit this tick: anything not yet DELETED. activeOnly restricts to
// workspaces with operation != NONE.
func (r *Repository) ListForTick(ctx context.Context, activeOnly bool) ([]*workspace.Workspace, error) {
	q := `SELECT * FROM workspaces WHERE phase != 'DELETED'`
	if activeOnly {
		q += ` AND operation != 'NONE'`
	}
	q += ` ORDER BY id`

	var rows []workspaceRow
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("listing workspaces for tick: %w", err)
	}
	return toDomainSlice(rows)
}

// HasInFlightOperations reports whether any workspace currently has a
// non-NONE operation, the signal the controller uses to switch from idle to
// active tick cadence.
func (r *Repository) HasInFlightOperations(ctx context.Context) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT count(*) FROM workspaces WHERE operation != 'NONE'`)
	if err != nil {
		return false, fmt.Errorf("counting in-flight operations: %w", err)
	}
	return count > 0, nil
}

// UpdateDesiredState is the API/TTL writer for intent. It does not report
// whether a row matched id: an unknown id is not an error.
func (r *Repository) UpdateDesiredState(ctx context.Context, id string, desired workspace.DesiredState) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE workspaces SET desired_state = $1, updated_at = now() WHERE id = $2`,
		string(desired), id)
	if err != nil {
		return fmt.Errorf("updating desired_state for %s: %w", id, err)
	}
	return nil
}

// SoftDelete is the API's terminal-intent writer: once set, deleted_at
// never clears within the core's scope.
func (r *Repository) SoftDelete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE workspaces SET deleted_at = now(), desired_state = $1, updated_at = now() WHERE id = $2 AND deleted_at IS NULL`,
		string(workspace.DesiredDeleted), id)
	if err != nil {
		return fmt.Errorf("soft-deleting %s: %w", id, err)
	}
	return nil
}

// CommitObservation is the Observer's sole writer: conditions and
// observed_at, never phase or operation.
func (r *Repository) CommitObservation(ctx context.Context, id string, c workspace.Conditions, observedAt time.Time) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling conditions for %s: %w", id, err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE workspaces SET conditions = $1, observed_at = $2 WHERE id = $3`,
		body, observedAt, id)
	if err != nil {
		return fmt.Errorf("committing observation for %s: %w", id, err)
	}
	return nil
}

// CommitJudgment writes the phase judgment half of a WC tick: phase,
// phase_changed_at (only bumped when phase actually changes), and the
// policy.healthy condition merged into the conditions document already
// read in this transaction.
func (r *Repository) CommitJudgment(ctx context.Context, tx *sqlx.Tx, w *workspace.Workspace, newPhase workspace.Phase, healthy workspace.Condition, now time.Time) error {
	w.Conditions.Healthy = healthy
	body, err := json.Marshal(w.Conditions)
	if err != nil {
		return fmt.Errorf("marshaling conditions for %s: %w", w.ID, err)
	}

	changedAt := w.PhaseChangedAt
	if newPhase != w.Phase {
		changedAt = now
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE workspaces SET phase = $1, phase_changed_at = $2, conditions = $3, updated_at = now() WHERE id = $4`,
		string(newPhase), changedAt, body, w.ID)
	if err != nil {
		return fmt.Errorf("committing judgment for %s: %w", w.ID, err)
	}
	return nil
}

// StartOperation is the operation-start CAS: the UPDATE only matches while
// operation is still NONE. Zero rows affected means another writer moved
// first; the caller must treat that as ErrCASFailed and skip this tick.
func (r *Repository) StartOperation(ctx context.Context, tx *sqlx.Tx, id string, op workspace.Operation, archiveOpID *string, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE workspaces
		 SET operation = $1, op_started_at = $2, archive_op_id = COALESCE($3, archive_op_id), updated_at = now()
		 WHERE id = $4 AND operation = 'NONE'`,
		string(op), now, nullableString(archiveOpID), id)
	if err != nil {
		return fmt.Errorf("starting operation %s for %s: %w", op, id, err)
	}
	return checkCAS(res)
}

// CompleteOperation clears the operation and resets the retry counter. When
// archiveKey is non-nil it is committed in the same statement. For
// ARCHIVING this runs only after the completion witness has seen the
// volume gone: the Agent removes the volume itself once the archive's
// commit marker is written, so archive_key is not committed before the
// volume is deleted. The key is derived from archive_op_id, which
// StartOperation persisted when the operation began.
func (r *Repository) CompleteOperation(ctx context.Context, tx *sqlx.Tx, id string, archiveKey *string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE workspaces
		 SET operation = 'NONE', op_started_at = NULL, error_count = 0,
		     archive_key = COALESCE($1, archive_key), updated_at = now()
		 WHERE id = $2`,
		nullableString(archiveKey), id)
	if err != nil {
		return fmt.Errorf("completing operation for %s: %w", id, err)
	}
	return nil
}

// AccrueRetry increments error_count without ending the operation, used
// when the Agent reports ActionFailed/Unreachable but the retry budget is
// not yet exhausted.
func (r *Repository) AccrueRetry(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE workspaces SET error_count = error_count + 1, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("accruing retry for %s: %w", id, err)
	}
	return nil
}

// EnterError commits the ERROR-atomicity invariant in one statement:
// phase=ERROR, operation=NONE, error_reason set, error_count incremented.
// archive_op_id is deliberately left untouched.
func (r *Repository) EnterError(ctx context.Context, tx *sqlx.Tx, id string, reason workspace.ErrorReason, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE workspaces
		 SET phase = 'ERROR', operation = 'NONE', op_started_at = NULL,
		     error_reason = $1, error_count = error_count + 1,
		     phase_changed_at = $2, updated_at = now()
		 WHERE id = $3`,
		string(reason), now, id)
	if err != nil {
		return fmt.Errorf("entering ERROR for %s: %w", id, err)
	}
	return nil
}

// ListStandbyTTLCandidates finds RUNNING, idle, non-operating workspaces
// whose last_access_at is older than threshold.
func (r *Repository) ListStandbyTTLCandidates(ctx context.Context, threshold time.Duration) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		`SELECT id FROM workspaces
		 WHERE phase = 'RUNNING' AND operation = 'NONE'
		   AND last_access_at IS NOT NULL AND now() - last_access_at > make_interval(secs => $1)`,
		threshold.Seconds())
	if err != nil {
		return nil, fmt.Errorf("listing standby ttl candidates: %w", err)
	}
	return ids, nil
}

// ListArchiveTTLCandidates finds STANDBY, non-operating workspaces that
// have sat in that phase longer than threshold.
func (r *Repository) ListArchiveTTLCandidates(ctx context.Context, threshold time.Duration) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		`SELECT id FROM workspaces
		 WHERE phase = 'STANDBY' AND operation = 'NONE'
		   AND now() - phase_changed_at > make_interval(secs => $1)`,
		threshold.Seconds())
	if err != nil {
		return nil, fmt.Errorf("listing archive ttl candidates: %w", err)
	}
	return ids, nil
}

// FlushActivity sinks the broker-drained activity map into last_access_at,
// taking the greater of the existing and incoming timestamp so a stale
// flush can never move the column backward (TTL soundness property).
func (r *Repository) FlushActivity(ctx context.Context, activity map[string]time.Time) error {
	if len(activity) == 0 {
		return nil
	}

	return WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for id, ts := range activity {
			_, err := tx.ExecContext(ctx,
				`UPDATE workspaces
				 SET last_access_at = GREATEST(COALESCE(last_access_at, $1), $1)
				 WHERE id = $2`,
				ts, id)
			if err != nil {
				return fmt.Errorf("flushing activity for %s: %w", id, err)
			}
		}
		return nil
	})
}

// ProtectionSet returns every committed archive_key and every
// {workspace_id, archive_op_id} pair GC must never delete under, per §4.6:
// committed archives and in-flight/retained archive_op_ids of non-deleted
// workspaces.
func (r *Repository) ProtectionSet(ctx context.Context) (archiveKeys []string, inFlight []ProtectedArchive, err error) {
	err = r.db.SelectContext(ctx, &archiveKeys,
		`SELECT archive_key FROM workspaces WHERE deleted_at IS NULL AND archive_key IS NOT NULL`)
	if err != nil {
		return nil, nil, fmt.Errorf("listing protected archive keys: %w", err)
	}

	var rows []ProtectedArchive
	err = r.db.SelectContext(ctx, &rows,
		`SELECT id AS workspace_id, archive_op_id FROM workspaces WHERE deleted_at IS NULL AND archive_op_id IS NOT NULL`)
	if err != nil {
		return nil, nil, fmt.Errorf("listing protected archive_op_ids: %w", err)
	}

	return archiveKeys, rows, nil
}

// ProtectedArchive names a workspace's in-flight or retained archive
// upload, protected from GC regardless of commit state.
type ProtectedArchive struct {
	WorkspaceID string `db:"workspace_id"`
	ArchiveOpID string `db:"archive_op_id"`
}

func toDomainSlice(rows []workspaceRow) ([]*workspace.Workspace, error) {
	out := make([]*workspace.Workspace, 0, len(rows))
	for i := range rows {
		w, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func checkCAS(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrCASFailed
	}
	return nil
}
