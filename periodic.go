package rmm

import (
	"context"
	"log"
	"time"
)

// PeriodicFlusher periodically forces a batch-apply pass over a caller-
// supplied set of users, even if their accumulator hasn't reached
// batchSize. Useful for long-running sessions that rarely reach
// AfterModel's isSessionEnd batch trigger.
type PeriodicFlusher struct {
	m        *Middleware
	interval time.Duration
	users    func() []string
	cancel   context.CancelFunc
}

// WithPeriodicFlush builds a PeriodicFlusher for m. users is called once
// per tick to list the user IDs worth flushing (e.g. those with recent
// activity); it is the caller's responsibility, since the middleware
// itself keeps no registry of known users — per-user state is addressed
// by ID, never enumerated.
func (m *Middleware) WithPeriodicFlush(interval time.Duration, users func() []string) *PeriodicFlusher {
	return &PeriodicFlusher{m: m, interval: interval, users: users}
}

// Start launches the background ticker goroutine. Calling Start twice on
// the same PeriodicFlusher without an intervening Stop leaks the first
// goroutine; callers own at most one running instance at a time.
func (f *PeriodicFlusher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	go func() {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.tick(ctx)
			}
		}
	}()
}

func (f *PeriodicFlusher) tick(ctx context.Context) {
	if !f.m.enabled {
		return
	}
	for _, userID := range f.users() {
		log.Printf("[rmm] periodic flush: user %s", userID)
		f.m.hooks.FlushUser(ctx, userID)
	}
}

// Stop cancels the background ticker goroutine. Safe to call on a
// PeriodicFlusher that was never Start-ed.
func (f *PeriodicFlusher) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}
