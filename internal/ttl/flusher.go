package ttl

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Flusher periodically pushes a Recorder's buffered activity into an
// ActivityStore. It runs independently of the demotion Loop and of leader
// election: every replica's proxy traffic must reach the broker, not just
// the leader's.
type Flusher struct {
	recorder *Recorder
	store    ActivityStore
	interval time.Duration
	logger   *zap.Logger

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewFlusher builds a Flusher that drains recorder into store every interval.
func NewFlusher(recorder *Recorder, store ActivityStore, interval time.Duration, logger *zap.Logger) *Flusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flusher{
		recorder: recorder,
		store:    store,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the flush loop in a goroutine.
func (f *Flusher) Start(ctx context.Context) {
	go f.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish, flushing
// whatever remains buffered first so a graceful shutdown never drops the
// last interval of activity.
func (f *Flusher) Stop(ctx context.Context) {
	close(f.stopChan)
	<-f.doneChan
	f.flush(ctx)
}

func (f *Flusher) loop(ctx context.Context) {
	defer close(f.doneChan)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopChan:
			return
		case <-ticker.C:
			f.flush(ctx)
		}
	}
}

func (f *Flusher) flush(ctx context.Context) {
	activity := f.recorder.drain()
	if len(activity) == 0 {
		return
	}
	if err := f.store.Record(ctx, activity); err != nil {
		f.logger.Warn("ttl: flushing activity to broker", zap.Error(err))
	}
}
