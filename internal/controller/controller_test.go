package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"codehub/internal/agentclient"
	"codehub/internal/idgen"
	"codehub/internal/migrations"
	"codehub/internal/pubsub"
	"codehub/internal/repository"
	"codehub/internal/s3"
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

func newAgentStub(t *testing.T, provisioned *bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/workspaces/ws-ctrl-1/provision":
			*provisioned = true
			json.NewEncoder(w).Encode(agentclient.OperationResult{Status: "completed", WorkspaceID: "ws-ctrl-1"})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{"code": "NOT_FOUND", "message": "unhandled"},
			})
		}
	}))
}

func TestReconcileStartsProvisioningThenCompletesOnVolumeReady(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	repo := repository.New(db)
	ctx := context.Background()

	w := &workspace.Workspace{
		ID:             "ws-ctrl-1",
		OwnerUserID:    "user-1",
		Name:           "ctrl-test",
		DesiredState:   workspace.DesiredStandby,
		Phase:          workspace.PhasePending,
		PhaseChangedAt: time.Now(),
		Operation:      workspace.OpNone,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	require.NoError(t, repo.Create(ctx, w))

	var provisioned bool
	srv := newAgentStub(t, &provisioned)
	defer srv.Close()

	agent := agentclient.New(agentclient.Settings{BaseURL: srv.URL, Timeout: 2 * time.Second, BreakerFails: 5, BreakerSuccesses: 2, BreakerOpenTimeout: time.Second})
	s3cfg := &s3.Config{Prefix: "codehub"}
	ctrl := New(db, repo, agent, s3cfg, pubsub.NewMemoryPubSub(), nil,
		time.Minute, time.Second,
		map[workspace.Operation]time.Duration{workspace.OpProvisioning: time.Minute},
		3)

	require.NoError(t, ctrl.reconcileOne(ctx, w.ID))
	require.True(t, provisioned)

	got, err := repo.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, workspace.OpProvisioning, got.Operation)
	require.Nil(t, got.ArchiveOpID)

	opID, err := idgen.NewOpID()
	require.NoError(t, err)
	_ = opID

	require.NoError(t, repo.CommitObservation(ctx, w.ID, workspace.Conditions{
		Volume: workspace.Condition{Status: workspace.ConditionTrue, ObservedAt: time.Now()},
	}, time.Now()))

	require.NoError(t, ctrl.reconcileOne(ctx, w.ID))

	got, err = repo.Get(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, workspace.OpNone, got.Operation)
	require.Equal(t, workspace.PhaseStandby, got.Phase)
}
