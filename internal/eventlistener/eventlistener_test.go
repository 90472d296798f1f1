package eventlistener

import (
	"context"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"codehub/internal/pubsub"
)

func TestHandleWsSSEPublishesWorkspaceUpdatedOnUserTopic(t *testing.T) {
	ps := pubsub.NewMemoryPubSub()
	defer ps.Close()
	l := New("", ps, nil)

	ctx := context.Background()
	ch, unsub := ps.Subscribe(ctx, pubsub.SSETopic("user-1"))
	defer unsub()

	l.handle(ctx, &pq.Notification{
		Channel: channelSSE,
		Extra:   `{"id":"ws-1","user_id":"user-1","phase":"RUNNING","operation":"NONE"}`,
	})

	select {
	case msg := <-ch:
		require.Contains(t, string(msg), `"workspace_updated"`)
		require.Contains(t, string(msg), `"ws-1"`)
	default:
		t.Fatal("expected a workspace_updated event to be published")
	}
}

func TestHandleWsWakePublishesWakeHint(t *testing.T) {
	ps := pubsub.NewMemoryPubSub()
	defer ps.Close()
	l := New("", ps, nil)

	ctx := context.Background()
	ch, unsub := ps.Subscribe(ctx, pubsub.WakeControllerTopic)
	defer unsub()

	l.handle(ctx, &pq.Notification{
		Channel: channelWake,
		Extra:   `{"id":"ws-1","desired_state":"RUNNING"}`,
	})

	select {
	case msg := <-ch:
		require.Contains(t, string(msg), `"ws-1"`)
	default:
		t.Fatal("expected a wake hint to be published")
	}
}

func TestHandleWsWakeAlsoPublishesToObserver(t *testing.T) {
	ps := pubsub.NewMemoryPubSub()
	defer ps.Close()
	l := New("", ps, nil)

	ctx := context.Background()
	ch, unsub := ps.Subscribe(ctx, pubsub.WakeObserverTopic)
	defer unsub()

	l.handle(ctx, &pq.Notification{
		Channel: channelWake,
		Extra:   `{"id":"ws-1","desired_state":"RUNNING"}`,
	})

	select {
	case msg := <-ch:
		require.Contains(t, string(msg), `"ws-1"`)
	default:
		t.Fatal("expected a wake hint to be published to the observer topic too")
	}
}

func TestHandleWsDeletedPublishesWorkspaceDeleted(t *testing.T) {
	ps := pubsub.NewMemoryPubSub()
	defer ps.Close()
	l := New("", ps, nil)

	ctx := context.Background()
	ch, unsub := ps.Subscribe(ctx, pubsub.SSETopic("user-1"))
	defer unsub()

	l.handle(ctx, &pq.Notification{
		Channel: channelDeleted,
		Extra:   `{"id":"ws-1","user_id":"user-1"}`,
	})

	select {
	case msg := <-ch:
		require.Contains(t, string(msg), `"workspace_deleted"`)
	default:
		t.Fatal("expected a workspace_deleted event to be published")
	}
}

func TestHandleNilNotificationIsNoOp(t *testing.T) {
	ps := pubsub.NewMemoryPubSub()
	defer ps.Close()
	l := New("", ps, nil)
	l.handle(context.Background(), nil)
}
