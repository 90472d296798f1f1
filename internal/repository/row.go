package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"codehub/internal/workspace"
)

// workspaceRow is the explicit row struct sqlx scans into. It exists
// because workspace.Workspace uses richer Go types (typed enums, pointer
// fields, a structured Conditions value) than the driver can scan directly;
// toDomain/fromDomain are the only place that conversion happens.
type workspaceRow struct {
	ID          string         `db:"id"`
	OwnerUserID string         `db:"owner_user_id"`
	Name        string         `db:"name"`
	Description string         `db:"description"`
	Memo        string         `db:"memo"`

	DesiredState string       `db:"desired_state"`
	DeletedAt    sql.NullTime `db:"deleted_at"`

	Phase          string    `db:"phase"`
	PhaseChangedAt time.Time `db:"phase_changed_at"`

	Operation   string         `db:"operation"`
	OpStartedAt sql.NullTime   `db:"op_started_at"`
	ArchiveOpID sql.NullString `db:"archive_op_id"`

	Conditions []byte       `db:"conditions"`
	ObservedAt sql.NullTime `db:"observed_at"`

	ArchiveKey sql.NullString `db:"archive_key"`
	HomeCtx    sql.NullString `db:"home_ctx"`

	LastAccessAt sql.NullTime `db:"last_access_at"`

	ErrorReason sql.NullString `db:"error_reason"`
	ErrorCount  int            `db:"error_count"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *workspaceRow) toDomain() (*workspace.Workspace, error) {
	w := &workspace.Workspace{
		ID:             r.ID,
		OwnerUserID:    r.OwnerUserID,
		Name:           r.Name,
		Description:    r.Description,
		Memo:           r.Memo,
		DesiredState:   workspace.DesiredState(r.DesiredState),
		Phase:          workspace.Phase(r.Phase),
		PhaseChangedAt: r.PhaseChangedAt,
		Operation:      workspace.Operation(r.Operation),
		ErrorCount:     r.ErrorCount,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}

	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time
		w.DeletedAt = &t
	}
	if r.OpStartedAt.Valid {
		t := r.OpStartedAt.Time
		w.OpStartedAt = &t
	}
	if r.ArchiveOpID.Valid {
		v := r.ArchiveOpID.String
		w.ArchiveOpID = &v
	}
	if r.ObservedAt.Valid {
		t := r.ObservedAt.Time
		w.ObservedAt = &t
	}
	if r.ArchiveKey.Valid {
		v := r.ArchiveKey.String
		w.ArchiveKey = &v
	}
	if r.HomeCtx.Valid {
		v := r.HomeCtx.String
		w.HomeCtx = &v
	}
	if r.LastAccessAt.Valid {
		t := r.LastAccessAt.Time
		w.LastAccessAt = &t
	}
	if r.ErrorReason.Valid {
		e := workspace.ErrorReason(r.ErrorReason.String)
		w.ErrorReason = &e
	}

	if len(r.Conditions) > 0 {
		var c workspace.Conditions
		if err := json.Unmarshal(r.Conditions, &c); err != nil {
			return nil, err
		}
		w.Conditions = c
	}

	return w, nil
}

func fromDomain(w *workspace.Workspace) (*workspaceRow, error) {
	conditions, err := json.Marshal(w.Conditions)
	if err != nil {
		return nil, err
	}

	row := &workspaceRow{
		ID:             w.ID,
		OwnerUserID:    w.OwnerUserID,
		Name:           w.Name,
		Description:    w.Description,
		Memo:           w.Memo,
		DesiredState:   string(w.DesiredState),
		Phase:          string(w.Phase),
		PhaseChangedAt: w.PhaseChangedAt,
		Operation:      string(w.Operation),
		Conditions:     conditions,
		ErrorCount:     w.ErrorCount,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}

	if w.DeletedAt != nil {
		row.DeletedAt = sql.NullTime{Time: *w.DeletedAt, Valid: true}
	}
	if w.OpStartedAt != nil {
		row.OpStartedAt = sql.NullTime{Time: *w.OpStartedAt, Valid: true}
	}
	if w.ArchiveOpID != nil {
		row.ArchiveOpID = sql.NullString{String: *w.ArchiveOpID, Valid: true}
	}
	if w.ObservedAt != nil {
		row.ObservedAt = sql.NullTime{Time: *w.ObservedAt, Valid: true}
	}
	if w.ArchiveKey != nil {
		row.ArchiveKey = sql.NullString{String: *w.ArchiveKey, Valid: true}
	}
	if w.HomeCtx != nil {
		row.HomeCtx = sql.NullString{String: *w.HomeCtx, Valid: true}
	}
	if w.LastAccessAt != nil {
		row.LastAccessAt = sql.NullTime{Time: *w.LastAccessAt, Valid: true}
	}
	if w.ErrorReason != nil {
		row.ErrorReason = sql.NullString{String: string(*w.ErrorReason), Valid: true}
	}

	return row, nil
}
