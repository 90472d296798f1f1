package gc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"codehub/internal/agentclient"
	"codehub/internal/migrations"
	"codehub/internal/repository"
	"codehub/internal/s3"
	"codehub/internal/workspace"
)

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

func newGCAgentStub(t *testing.T, received *[]agentclient.GCRequest, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req agentclient.GCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		*received = append(*received, req)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
}

func TestTickSweepsProtectedArchivesThroughAgent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	repo := repository.New(db)
	ctx := context.Background()

	s3cfg := &s3.Config{Prefix: "codehub"}
	archiveOpID := "op-1"
	archiveKey := s3cfg.ArchiveDataKey("ws-gc-1", archiveOpID)

	w := &workspace.Workspace{
		ID:             "ws-gc-1",
		OwnerUserID:    "user-1",
		DesiredState:   workspace.DesiredArchived,
		Phase:          workspace.PhaseArchived,
		PhaseChangedAt: time.Now(),
		Operation:      workspace.OpNone,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	require.NoError(t, repo.Create(ctx, w))
	_, err := db.ExecContext(ctx, `UPDATE workspaces SET archive_op_id = $1, archive_key = $2 WHERE id = $3`, archiveOpID, archiveKey, w.ID)
	require.NoError(t, err)

	var received []agentclient.GCRequest
	var mu sync.Mutex
	srv := newGCAgentStub(t, &received, &mu)
	defer srv.Close()

	agent := agentclient.New(agentclient.Settings{BaseURL: srv.URL, Timeout: 2 * time.Second, BreakerFails: 5, BreakerSuccesses: 2, BreakerOpenTimeout: time.Second})
	loop := New(repo, agent, s3cfg, nil, time.Hour, 3, 6*time.Hour)

	require.NoError(t, loop.tick(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, []string{"ws-gc-1"}, received[0].ProtectedWorkspaces)
	require.Equal(t, []string{archiveKey}, received[0].ArchiveKeys)
	require.Equal(t, 3, received[0].RetentionCount)
}

func TestTickSkipsEmptyBatches(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	repo := repository.New(db)
	ctx := context.Background()

	var received []agentclient.GCRequest
	var mu sync.Mutex
	srv := newGCAgentStub(t, &received, &mu)
	defer srv.Close()

	agent := agentclient.New(agentclient.Settings{BaseURL: srv.URL, Timeout: 2 * time.Second, BreakerFails: 5, BreakerSuccesses: 2, BreakerOpenTimeout: time.Second})
	loop := New(repo, agent, &s3.Config{Prefix: "codehub"}, nil, time.Hour, 3, 6*time.Hour)

	require.NoError(t, loop.tick(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, received)
}
