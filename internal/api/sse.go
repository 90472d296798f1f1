package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"codehub/internal/pubsub"
)

// handleSSE serves GET /api/v1/events (§6.7): one long-lived text/event-stream
// connection per UI session, subscribed to the requesting user's broker
// topic. A heartbeat keeps intermediary proxies from timing the connection
// out during quiet periods.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	ch, cleanup := s.ps.Subscribe(ctx, pubsub.SSETopic(userID))
	defer cleanup()

	interval := s.sseHeartbeat
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, open := <-ch:
			if !open {
				return
			}
			if err := writeSSEFrame(w, payload); err != nil {
				s.logger.Warn("api: writing sse frame", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-ticker.C:
			hb := pubsub.Heartbeat{Type: pubsub.EventTypeHeartbeat, Timestamp: time.Now()}
			payload, err := json.Marshal(&hb)
			if err != nil {
				continue
			}
			if err := writeSSEFrame(w, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, payload []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
