package ttl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderKeepsMostRecentTimestampPerWorkspace(t *testing.T) {
	r := NewRecorder()
	older := time.Now().Add(-time.Minute)
	newer := time.Now()

	r.Touch("ws-1", newer)
	r.Touch("ws-1", older) // stale write must not regress

	got := r.drain()
	require.Len(t, got, 1)
	assert.WithinDuration(t, newer, got["ws-1"], time.Second)
}

func TestRecorderDrainIsEmptyAfterFirstDrain(t *testing.T) {
	r := NewRecorder()
	r.Touch("ws-1", time.Now())
	require.NotEmpty(t, r.drain())
	assert.Nil(t, r.drain())
}

// fakeStore is an in-memory ActivityStore used to test the Flusher without a
// broker, mirroring RedisActivityStore's GT (monotonic) semantics.
type fakeStore struct {
	data map[string]time.Time
}

func newFakeStore() *fakeStore { return &fakeStore{data: make(map[string]time.Time)} }

func (f *fakeStore) Record(_ context.Context, activity map[string]time.Time) error {
	for id, at := range activity {
		if existing, ok := f.data[id]; !ok || at.After(existing) {
			f.data[id] = at
		}
	}
	return nil
}

func (f *fakeStore) Drain(_ context.Context) (map[string]time.Time, error) {
	if len(f.data) == 0 {
		return nil, nil
	}
	out := f.data
	f.data = make(map[string]time.Time)
	return out, nil
}

func TestFlusherPushesBufferedActivityIntoStore(t *testing.T) {
	recorder := NewRecorder()
	store := newFakeStore()
	f := NewFlusher(recorder, store, time.Hour, nil)

	at := time.Now()
	recorder.Touch("ws-1", at)
	f.flush(context.Background())

	drained, err := store.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.WithinDuration(t, at, drained["ws-1"], time.Second)
}

func TestFlusherSkipsEmptyBuffer(t *testing.T) {
	store := newFakeStore()
	f := NewFlusher(NewRecorder(), store, time.Hour, nil)
	f.flush(context.Background())
	assert.Empty(t, store.data)
}
