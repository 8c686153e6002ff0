// Package refresher keeps the description of every running timer current: a
// fixed-interval loop rewrites the "(Timer Running: N minutes)" marker so
// the elapsed count stays live without any webhook traffic.
package refresher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/punchkit/punchclock/internal/events"
	"github.com/punchkit/punchclock/internal/snippet"
	"github.com/punchkit/punchclock/internal/timer"
	"github.com/punchkit/punchclock/internal/webhook"
)

// Refresher is the periodic description refresh job.
type Refresher struct {
	store    timer.Store
	engine   *timer.Engine
	tasks    webhook.TaskClient
	hub      *events.Hub
	logger   *slog.Logger
	interval time.Duration

	// inFlight serializes ticks: if a pass outlasts the interval, the next
	// tick is skipped instead of piling up behind slow provider calls.
	inFlight sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Refresher. interval must be positive.
func New(store timer.Store, engine *timer.Engine, tasks webhook.TaskClient, hub *events.Hub, logger *slog.Logger, interval time.Duration) *Refresher {
	return &Refresher{
		store:    store,
		engine:   engine,
		tasks:    tasks,
		hub:      hub,
		logger:   logger.With("component", "refresher"),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the refresh loop.
func (r *Refresher) Start(ctx context.Context) error {
	r.logger.Info("Starting refresher", "interval", r.interval.String())

	r.wg.Add(1)
	go r.tickLoop(ctx)

	return nil
}

// Stop gracefully stops the refresher.
func (r *Refresher) Stop() {
	r.logger.Info("Stopping refresher")
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("Refresher stopped")
}

// tickLoop is the main refresh loop.
func (r *Refresher) tickLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !r.inFlight.TryLock() {
				r.logger.Warn("previous refresh tick still in flight, skipping")
				continue
			}
			r.Tick(ctx)
			r.inFlight.Unlock()
		case <-r.stopCh:
			return
		case <-ctx.Done():
			r.logger.Warn("Refresher context cancelled, stopping tick loop")
			return
		}
	}
}

// Tick performs a single refresh pass over all running timers. Exported so
// tests can fire ticks deterministically. One key's provider failure never
// aborts the rest of the pass.
func (r *Refresher) Tick(ctx context.Context) {
	keys := timer.RunningKeys(r.store.Snapshot())
	if len(keys) == 0 {
		return
	}
	r.logger.Debug("Refresh tick", "running", len(keys))

	for _, key := range keys {
		if err := r.refreshOne(ctx, key); err != nil {
			r.logger.Error("refresh failed", "task_id", key.TaskID, "user_id", key.UserID, "error", err)
			continue
		}
	}
}

// refreshOne rewrites the running marker for one timer. Read-only with
// respect to the timer store.
func (r *Refresher) refreshOne(ctx context.Context, key timer.Key) error {
	status := r.engine.RunningStatus(key)

	task, err := r.tasks.GetTask(ctx, key.TaskID)
	if err != nil {
		return err
	}

	updated := snippet.Upsert(task.Description, snippet.Marker(status))
	if err := r.tasks.UpdateDescription(ctx, key.TaskID, updated); err != nil {
		return err
	}

	r.hub.Publish(events.TypeTimerRefreshed, map[string]any{
		"task_id": key.TaskID,
		"user_id": key.UserID,
		"status":  status,
	})
	return nil
}
