package agentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Settings{
		BaseURL:            srv.URL,
		Timeout:            2 * time.Second,
		BreakerFails:       5,
		BreakerSuccesses:   2,
		BreakerOpenTimeout: 30 * time.Second,
	})
	return c, srv
}

func TestBulkObserveDecodesResponse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/workspaces", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode(ObserveResponse{
			Workspaces: []ObservedWorkspace{
				{WorkspaceID: "ws-1", Container: &ContainerObserved{Running: true, Healthy: true}},
			},
		})
	})

	out, err := c.BulkObserve(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Workspaces, 1)
	assert.Equal(t, "ws-1", out.Workspaces[0].WorkspaceID)
	assert.True(t, out.Workspaces[0].Container.Running)
}

func TestProvisionPostsToExpectedPath(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/workspaces/ws-1/provision", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		json.NewEncoder(w).Encode(OperationResult{Status: "in_progress", WorkspaceID: "ws-1"})
	})

	out, err := c.Provision(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "in_progress", out.Status)
}

func TestPermanentErrorDoesNotRetry(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"code": CodeVolumeNotFound, "message": "no such volume"},
		})
	})

	_, err := c.Start(context.Background(), "ws-1", "", "")
	require.Error(t, err)
	var agentErr *Error
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, CodeVolumeNotFound, agentErr.Code)
	assert.False(t, agentErr.Retryable)
	assert.Equal(t, 1, attempts)
}

func TestTransientErrorRetriesUpToMaxAttempts(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"code": "UNAVAILABLE", "message": "overloaded"},
		})
	})

	_, err := c.Stop(context.Background(), "ws-1")
	require.Error(t, err)
	assert.Equal(t, maxAttempts, attempts)
}

func TestDeleteArchiveEncodesQueryParam(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/workspaces/archives", r.URL.Path)
		assert.Equal(t, "a/b c", r.URL.Query().Get("archive_key"))
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusOK)
	})

	err := c.DeleteArchive(context.Background(), "a/b c")
	require.NoError(t, err)
}

func TestUpstreamDecodesRoutingTarget(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(UpstreamInfo{Hostname: "ws-1.internal", Port: 8080, URL: "http://ws-1.internal:8080"})
	})

	out, err := c.Upstream(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "ws-1.internal", out.Hostname)
	assert.Equal(t, 8080, out.Port)
}
