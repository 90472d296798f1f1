package ttl

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"codehub/internal/migrations"
	"codehub/internal/pubsub"
	"codehub/internal/repository"
	"codehub/internal/workspace"
)

// openTestDB connects to a real Postgres instance, migrating it first.
// Skipped if one is not reachable, matching the repository package's
// integration test convention.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Connect("postgres", "postgresql://localhost:5432/codehub_test?sslmode=disable")
	if err != nil {
		t.Skipf("postgres not available, skipping integration test: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("postgres not reachable, skipping integration test: %v", err)
	}
	if err := migrations.Up(db.DB); err != nil {
		t.Skipf("could not run migrations, skipping integration test: %v", err)
	}
	return db
}

func TestLoopDemotesIdleRunningWorkspaceToStandby(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	repo := repository.New(db)
	ctx := context.Background()

	staleAccess := time.Now().Add(-time.Hour)
	w := &workspace.Workspace{
		ID:             "ws-ttl-1",
		OwnerUserID:    "user-1",
		DesiredState:   workspace.DesiredRunning,
		Phase:          workspace.PhaseRunning,
		PhaseChangedAt: time.Now(),
		Operation:      workspace.OpNone,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	require.NoError(t, repo.Create(ctx, w))
	require.NoError(t, repo.FlushActivity(ctx, map[string]time.Time{w.ID: staleAccess}))

	loop := New(repo, newFakeStore(), pubsub.NewMemoryPubSub(), nil, time.Minute, time.Minute, time.Hour)
	loop.tick(ctx)

	got, err := repo.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, workspace.DesiredStandby, got.DesiredState)
}

func TestLoopDrainsBrokerActivityBeforeEvaluatingCandidates(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	repo := repository.New(db)
	ctx := context.Background()

	w := &workspace.Workspace{
		ID:             "ws-ttl-2",
		OwnerUserID:    "user-1",
		DesiredState:   workspace.DesiredRunning,
		Phase:          workspace.PhaseRunning,
		PhaseChangedAt: time.Now(),
		Operation:      workspace.OpNone,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	require.NoError(t, repo.Create(ctx, w))

	store := newFakeStore()
	store.data[w.ID] = time.Now() // fresh activity, should NOT be demoted

	loop := New(repo, store, pubsub.NewMemoryPubSub(), nil, time.Minute, time.Minute, time.Hour)
	loop.tick(ctx)

	got, err := repo.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, workspace.DesiredRunning, got.DesiredState)
}
