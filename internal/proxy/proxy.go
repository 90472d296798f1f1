// Package proxy reverse-proxies UI traffic into a running workspace's
// container, adapted from the teacher's BotProxy (internal/proxy/bot_proxy.go)
// which did the same thing for a bot's Freqtrade API: resolve a target from
// the runtime backend, strip the routing prefix, forward via
// httputil.ReverseProxy. Every forwarded request also records the
// workspace's activity timestamp (§6.3), the signal the TTL loop uses to
// decide when a RUNNING workspace has gone idle.
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"codehub/internal/agentclient"
	"codehub/internal/ttl"
)

// Proxy resolves a workspace_id to its Agent-reported upstream and forwards
// requests there.
type Proxy struct {
	agent    *agentclient.Client
	recorder *ttl.Recorder
	logger   *zap.Logger
}

// New builds a Proxy. recorder may be nil, in which case activity is not
// tracked (useful in tests that don't exercise the TTL pipeline).
func New(agent *agentclient.Client, recorder *ttl.Recorder, logger *zap.Logger) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{agent: agent, recorder: recorder, logger: logger}
}

// Handler returns an http.Handler that proxies requests under
// /proxy/{id}/* into the workspace's container.
func (p *Proxy) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workspaceID := chi.URLParam(r, "id")
		if workspaceID == "" {
			http.Error(w, "workspace id is required", http.StatusBadRequest)
			return
		}

		target, err := p.targetURL(r.Context(), workspaceID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		if p.recorder != nil {
			p.recorder.Touch(workspaceID, time.Now())
		}

		reverseProxy := httputil.NewSingleHostReverseProxy(target)

		originalDirector := reverseProxy.Director
		prefix := "/proxy/" + workspaceID
		reverseProxy.Director = func(req *http.Request) {
			originalDirector(req)

			if strings.HasPrefix(req.URL.Path, prefix) {
				req.URL.Path = strings.TrimPrefix(req.URL.Path, prefix)
				if req.URL.Path == "" {
					req.URL.Path = "/"
				}
			}
			req.URL.RawPath = req.URL.Path
			req.Host = target.Host
		}

		reverseProxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			p.logger.Warn("proxy: forwarding request", zap.String("workspace_id", workspaceID), zap.Error(err))
			http.Error(w, fmt.Sprintf("proxy error: %v", err), http.StatusBadGateway)
		}

		reverseProxy.ServeHTTP(w, r)
	})
}

// targetURL asks the Agent where a running workspace's container has
// published its port, mirroring the teacher's getBotTargetURL (which asked
// the runner for the bot's mapped host port) against the §6.1 upstream
// endpoint instead of a runner client.
func (p *Proxy) targetURL(ctx context.Context, workspaceID string) (*url.URL, error) {
	up, err := p.agent.Upstream(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("resolving upstream for workspace %s: %w", workspaceID, err)
	}
	if up.Port == 0 {
		return nil, fmt.Errorf("workspace %s has no published port", workspaceID)
	}

	target, err := url.Parse(fmt.Sprintf("http://%s:%d", up.Hostname, up.Port))
	if err != nil {
		return nil, fmt.Errorf("building target url for workspace %s: %w", workspaceID, err)
	}
	return target, nil
}
