// Package ttl implements the activity pipeline and the TTL demotion loop.
// Proxies record activity locally in a Recorder; a Flusher periodically
// pushes that into the broker's activity ordered set; the Loop drains the
// ordered set into last_access_at and demotes idle workspaces by writing
// desired_state, exactly as described in §6.3 and §4.7. The broker is never
// the source of truth: a Redis restart costs at most one flush interval of
// TTL precision, never correctness.
package ttl

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Recorder buffers per-workspace activity timestamps in process memory.
// Proxies call Touch on every proxied request; it is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	activity map[string]time.Time
}

// NewRecorder builds an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{activity: make(map[string]time.Time)}
}

// Touch records that workspaceID was active at at. Only the most recent
// timestamp per workspace is kept between flushes.
func (r *Recorder) Touch(workspaceID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.activity[workspaceID]; !ok || at.After(existing) {
		r.activity[workspaceID] = at
	}
}

// drain atomically swaps out the buffered activity map, returning what had
// accumulated since the last drain.
func (r *Recorder) drain() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.activity) == 0 {
		return nil
	}
	out := r.activity
	r.activity = make(map[string]time.Time)
	return out
}

// ActivityStore is the broker-resident sorted set the Recorder flushes into
// and the Loop drains from. Implementations must make Record monotonic per
// member (ZADD ... GT semantics): a late, stale write must never move a
// workspace's recorded activity backward.
type ActivityStore interface {
	Record(ctx context.Context, activity map[string]time.Time) error
	Drain(ctx context.Context) (map[string]time.Time, error)
}

// RedisActivityStore implements ActivityStore on a single Redis sorted set,
// keyed by pubsub.ActivityKey, score = Unix seconds, member = workspace_id.
type RedisActivityStore struct {
	client *redis.Client
	key    string
}

// NewRedisActivityStore builds a store over key (normally pubsub.ActivityKey).
func NewRedisActivityStore(client *redis.Client, key string) *RedisActivityStore {
	return &RedisActivityStore{client: client, key: key}
}

// Record upserts every workspace's timestamp with ZADD GT, so concurrent
// flushes from multiple proxy replicas can never regress a score.
func (s *RedisActivityStore) Record(ctx context.Context, activity map[string]time.Time) error {
	if len(activity) == 0 {
		return nil
	}
	members := make([]redis.Z, 0, len(activity))
	for id, at := range activity {
		members = append(members, redis.Z{Score: float64(at.Unix()), Member: id})
	}
	return s.client.ZAddArgs(ctx, s.key, redis.ZAddArgs{GT: true, Members: members}).Err()
}

// Drain reads every member currently in the set and removes exactly the
// members it read, leaving any concurrently-added member for the next drain
// rather than risk discarding activity recorded mid-drain.
func (s *RedisActivityStore) Drain(ctx context.Context) (map[string]time.Time, error) {
	entries, err := s.client.ZRangeWithScores(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	out := make(map[string]time.Time, len(entries))
	members := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		id, ok := e.Member.(string)
		if !ok {
			continue
		}
		out[id] = time.Unix(int64(e.Score), 0)
		members = append(members, id)
	}

	if err := s.client.ZRem(ctx, s.key, members...).Err(); err != nil {
		return nil, err
	}
	return out, nil
}
