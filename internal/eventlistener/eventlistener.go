// Package eventlistener bridges Postgres LISTEN/NOTIFY to the broker: it
// holds one dedicated lib/pq Listener connection subscribed to the three CDC
// channels the 00002 migration's triggers emit (ws_sse, ws_wake, ws_deleted)
// and republishes each as a typed event on the corresponding pubsub topic.
// Run exactly one of these per cluster, gated by its own leader-election lock
// (internal/leader.KeyEventListener) so a LISTEN connection never contends
// with the reconciliation loops for the same advisory lock slot.
package eventlistener

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"codehub/internal/pubsub"
)

const (
	channelSSE     = "ws_sse"
	channelWake    = "ws_wake"
	channelDeleted = "ws_deleted"

	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
)

// Listener owns the LISTEN connection and the republish loop.
type Listener struct {
	dsn    string
	ps     pubsub.PubSub
	logger *zap.Logger

	stopChan chan struct{}
	doneChan chan struct{}
}

// New builds a Listener. dsn is a standalone connection string — lib/pq
// Listener manages its own connection lifecycle independent of the
// coordinator's pooled *sql.DB.
func New(dsn string, ps pubsub.PubSub, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		dsn:      dsn,
		ps:       ps,
		logger:   logger,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the listen loop in a goroutine.
func (l *Listener) Start(ctx context.Context) {
	go l.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (l *Listener) Stop() {
	close(l.stopChan)
	<-l.doneChan
}

func (l *Listener) loop(ctx context.Context) {
	defer close(l.doneChan)

	listener := pq.NewListener(l.dsn, minReconnectInterval, maxReconnectInterval, l.reportEvent)
	defer listener.Close()

	for _, channel := range []string{channelSSE, channelWake, channelDeleted} {
		if err := listener.Listen(channel); err != nil {
			l.logger.Error("eventlistener: subscribing to channel", zap.String("channel", channel), zap.Error(err))
		}
	}

	// lib/pq recommends an idle ping so a silently dropped connection is
	// detected even when no notifications are arriving.
	pingTicker := time.NewTicker(90 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		case n := <-listener.Notify:
			l.handle(ctx, n)
		case <-pingTicker.C:
			go func() { _ = listener.Ping() }()
		}
	}
}

func (l *Listener) reportEvent(ev pq.ListenerEventType, err error) {
	if err != nil {
		l.logger.Warn("eventlistener: connection event", zap.Int("event", int(ev)), zap.Error(err))
	}
}

type sseNotification struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Phase       string `json:"phase"`
	Operation   string `json:"operation"`
	ErrorReason string `json:"error_reason"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Memo        string `json:"memo"`
}

type wakeNotification struct {
	ID           string `json:"id"`
	DesiredState string `json:"desired_state"`
}

type deletedNotification struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// handle decodes one notification and republishes it as a typed event.
// n == nil happens when the listener's internal connection was dropped and
// re-established; there is nothing to republish in that case.
func (l *Listener) handle(ctx context.Context, n *pq.Notification) {
	if n == nil {
		return
	}

	now := time.Now()
	switch n.Channel {
	case channelSSE:
		var p sseNotification
		if err := json.Unmarshal([]byte(n.Extra), &p); err != nil {
			l.logger.Warn("eventlistener: decoding ws_sse payload", zap.Error(err))
			return
		}
		evt := pubsub.WorkspaceUpdated{
			Type:        pubsub.EventTypeWorkspaceUpdated,
			ID:          p.ID,
			OwnerUserID: p.UserID,
			Phase:       p.Phase,
			Operation:   p.Operation,
			ErrorReason: p.ErrorReason,
			Name:        p.Name,
			Description: p.Description,
			Memo:        p.Memo,
			Timestamp:   now,
		}
		if err := l.ps.Publish(ctx, pubsub.SSETopic(p.UserID), &evt); err != nil {
			l.logger.Warn("eventlistener: publishing workspace_updated", zap.Error(err))
		}

	case channelWake:
		var p wakeNotification
		if err := json.Unmarshal([]byte(n.Extra), &p); err != nil {
			l.logger.Warn("eventlistener: decoding ws_wake payload", zap.Error(err))
			return
		}
		// desired_state changed: both WC (to replan toward the new intent)
		// and Observer (so the next reality check isn't stuck behind the
		// idle poll interval) get hinted, per spec.md §4.5/§6.6.
		hint := pubsub.WakeHint{WorkspaceID: p.ID, Reason: "desired_state_changed", Timestamp: now}
		if err := l.ps.Publish(ctx, pubsub.WakeControllerTopic, &hint); err != nil {
			l.logger.Warn("eventlistener: publishing wc wake hint", zap.Error(err))
		}
		if err := l.ps.Publish(ctx, pubsub.WakeObserverTopic, &hint); err != nil {
			l.logger.Warn("eventlistener: publishing observer wake hint", zap.Error(err))
		}

	case channelDeleted:
		var p deletedNotification
		if err := json.Unmarshal([]byte(n.Extra), &p); err != nil {
			l.logger.Warn("eventlistener: decoding ws_deleted payload", zap.Error(err))
			return
		}
		evt := pubsub.WorkspaceDeleted{Type: pubsub.EventTypeWorkspaceDeleted, ID: p.ID, Timestamp: now}
		if err := l.ps.Publish(ctx, pubsub.SSETopic(p.UserID), &evt); err != nil {
			l.logger.Warn("eventlistener: publishing workspace_deleted", zap.Error(err))
		}
	}
}
