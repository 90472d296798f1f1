// Package agentclient talks to the Workspace Runtime Agent over its HTTP
// contract, wrapping every call in a circuit breaker and a bounded local
// retry so a flaky or overloaded Agent degrades the coordinator instead of
// wedging it.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Client is the coordinator's handle onto one Workspace Runtime Agent.
type Client struct {
	http    *http.Client
	baseURL string
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// Settings configures the client's HTTP timeout and underlying circuit
// breaker. A zero Timeout falls back to 10s; the breaker fields are passed
// to gobreaker as given, with no fallback of their own.
type Settings struct {
	BaseURL             string
	Timeout             time.Duration
	BreakerFails        uint32
	BreakerSuccesses    uint32
	BreakerOpenTimeout  time.Duration
	Logger              *zap.Logger
}

// New builds an Agent client whose breaker opens after BreakerFails
// consecutive failures and stays open for BreakerOpenTimeout before
// admitting BreakerSuccesses half-open probes.
func New(s Settings) *Client {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "agent-client",
		MaxRequests: s.BreakerSuccesses,
		Timeout:     s.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.BreakerFails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("agent circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: s.BaseURL,
		cb:      cb,
		logger:  logger,
	}
}

// do executes one HTTP round trip through the breaker and retry, decoding
// a JSON response body into out (skipped when out is nil) and a JSON error
// envelope into an *Error on non-2xx responses.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	return withRetry(ctx, func(attempt int) (bool, error) {
		_, err := c.cb.Execute(func() (interface{}, error) {
			return nil, c.roundTrip(ctx, method, path, body, out)
		})
		if err == nil {
			return false, nil
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return true, err
		}
		var agentErr *Error
		if asAgentError(err, &agentErr) {
			return agentErr.Retryable, agentErr
		}
		return true, err
	})
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding agent request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building agent request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Code: "NETWORK_ERROR", Message: err.Error(), Retryable: classify(0, true)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeErrorEnvelope(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding agent response: %w", err)
	}
	return nil
}

func decodeErrorEnvelope(resp *http.Response) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &Error{
			Code:      "UNKNOWN",
			Message:   fmt.Sprintf("agent returned HTTP %d with an undecodable body", resp.StatusCode),
			HTTPCode:  resp.StatusCode,
			Retryable: classify(resp.StatusCode, false),
		}
	}
	return &Error{
		Code:      envelope.Error.Code,
		Message:   envelope.Error.Message,
		HTTPCode:  resp.StatusCode,
		Retryable: classify(resp.StatusCode, false),
	}
}

func asAgentError(err error, out **Error) bool {
	agentErr, ok := err.(*Error)
	if ok {
		*out = agentErr
	}
	return ok
}

// BulkObserve fetches the observed state of every workspace the Agent knows
// about in a single round trip, per §6.2.
func (c *Client) BulkObserve(ctx context.Context) (*ObserveResponse, error) {
	var out ObserveResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/workspaces", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Provision asks the Agent to create the workspace's empty volume so the
// workspace can reach STANDBY for the first time.
func (c *Client) Provision(ctx context.Context, workspaceID string) (*OperationResult, error) {
	var out OperationResult
	path := fmt.Sprintf("/api/v1/workspaces/%s/provision", url.PathEscape(workspaceID))
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Start asks the Agent to bring up the container for a workspace that
// already has a volume, restoring from archiveKey first if given.
func (c *Client) Start(ctx context.Context, workspaceID, archiveKey, restoreOpID string) (*OperationResult, error) {
	var out OperationResult
	path := fmt.Sprintf("/api/v1/workspaces/%s/start", url.PathEscape(workspaceID))
	req := struct {
		ArchiveKey  string `json:"archive_key,omitempty"`
		RestoreOpID string `json:"restore_op_id,omitempty"`
	}{ArchiveKey: archiveKey, RestoreOpID: restoreOpID}
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stop asks the Agent to stop a running workspace's container, keeping its
// volume intact.
func (c *Client) Stop(ctx context.Context, workspaceID string) (*OperationResult, error) {
	var out OperationResult
	path := fmt.Sprintf("/api/v1/workspaces/%s/stop", url.PathEscape(workspaceID))
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete asks the Agent to tear down a workspace's container and volume.
func (c *Client) Delete(ctx context.Context, workspaceID string) (*OperationResult, error) {
	var out OperationResult
	path := fmt.Sprintf("/api/v1/workspaces/%s", url.PathEscape(workspaceID))
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Archive asks the Agent to snapshot a workspace's volume to object storage
// under the given archive_op_id, then delete the volume once the archive's
// commit marker is written. The Agent does not wait for the coordinator to
// commit archive_key; the coordinator commits it after observing the volume
// gone.
func (c *Client) Archive(ctx context.Context, workspaceID, archiveOpID string) (*OperationResult, error) {
	var out OperationResult
	path := fmt.Sprintf("/api/v1/workspaces/%s/archive", url.PathEscape(workspaceID))
	req := struct {
		ArchiveOpID string `json:"archive_op_id"`
	}{ArchiveOpID: archiveOpID}
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Restore asks the Agent to materialize a volume from archiveKey, witnessed
// by a .restore_marker object it writes once the volume is populated.
func (c *Client) Restore(ctx context.Context, workspaceID, archiveKey, restoreOpID string) (*OperationResult, error) {
	var out OperationResult
	path := fmt.Sprintf("/api/v1/workspaces/%s/restore", url.PathEscape(workspaceID))
	req := struct {
		ArchiveKey  string `json:"archive_key"`
		RestoreOpID string `json:"restore_op_id"`
	}{ArchiveKey: archiveKey, RestoreOpID: restoreOpID}
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteArchive removes one archive object the GC pass decided is no longer
// protected.
func (c *Client) DeleteArchive(ctx context.Context, archiveKey string) error {
	path := fmt.Sprintf("/api/v1/workspaces/archives?archive_key=%s", url.QueryEscape(archiveKey))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Upstream resolves the routing target the proxy should forward a running
// workspace's traffic to.
func (c *Client) Upstream(ctx context.Context, workspaceID string) (*UpstreamInfo, error) {
	var out UpstreamInfo
	path := fmt.Sprintf("/api/v1/workspaces/%s/upstream", url.PathEscape(workspaceID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GC hands the Agent the coordinator's computed protection set so it can
// delete every unprotected archive object older than the orphan grace
// window.
func (c *Client) GC(ctx context.Context, req GCRequest) error {
	return c.do(ctx, http.MethodPost, "/api/v1/workspaces/gc", req, nil)
}
