package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codehub/internal/idgen"
	"codehub/internal/workspace"
)

// openTestDB connects to a real Postgres instance for integration testing.
// Skipped if one is not reachable, following the pack's convention of
// integration tests that degrade to a skip rather than a failure.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Connect("postgres", "postgresql://localhost:5432/codehub_test?sslmode=disable")
	if err != nil {
		t.Skipf("postgres not available, skipping integration test: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("postgres not reachable, skipping integration test: %v", err)
	}
	return db
}

func newTestWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	id, err := idgen.NewWorkspaceID()
	require.NoError(t, err)

	now := time.Now().UTC()
	return &workspace.Workspace{
		ID:             id,
		OwnerUserID:    "user-1",
		Name:           "test",
		DesiredState:   workspace.DesiredStandby,
		Phase:          workspace.PhasePending,
		PhaseChangedAt: now,
		Operation:      workspace.OpNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestCreateAndGet(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	repo := New(db)
	ctx := context.Background()

	w := newTestWorkspace(t)
	require.NoError(t, repo.Create(ctx, w))

	got, err := repo.Get(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, w.OwnerUserID, got.OwnerUserID)
	assert.Equal(t, workspace.PhasePending, got.Phase)
}

func TestStartOperationCASFailsWhenAlreadyInFlight(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	repo := New(db)
	ctx := context.Background()

	w := newTestWorkspace(t)
	require.NoError(t, repo.Create(ctx, w))

	err := WithTx(ctx, db, func(tx *sqlx.Tx) error {
		require.NoError(t, repo.StartOperation(ctx, tx, w.ID, workspace.OpProvisioning, nil, time.Now()))

		err := repo.StartOperation(ctx, tx, w.ID, workspace.OpProvisioning, nil, time.Now())
		assert.ErrorIs(t, err, ErrCASFailed)
		return nil
	})
	require.NoError(t, err)
}

func TestEnterErrorIsAtomic(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	repo := New(db)
	ctx := context.Background()

	w := newTestWorkspace(t)
	require.NoError(t, repo.Create(ctx, w))

	err := WithTx(ctx, db, func(tx *sqlx.Tx) error {
		require.NoError(t, repo.StartOperation(ctx, tx, w.ID, workspace.OpProvisioning, nil, time.Now()))
		return repo.EnterError(ctx, tx, w.ID, workspace.ErrorTimeout, time.Now())
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, workspace.PhaseError, got.Phase)
	assert.Equal(t, workspace.OpNone, got.Operation)
	assert.Equal(t, 1, got.ErrorCount)
	require.NotNil(t, got.ErrorReason)
	assert.Equal(t, workspace.ErrorTimeout, *got.ErrorReason)
}

func TestSoftDeleteIsTerminal(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	repo := New(db)
	ctx := context.Background()

	w := newTestWorkspace(t)
	require.NoError(t, repo.Create(ctx, w))
	require.NoError(t, repo.SoftDelete(ctx, w.ID))

	got, err := repo.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted())
	assert.Equal(t, workspace.DesiredDeleted, got.DesiredState)
}
