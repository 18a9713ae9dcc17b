package route

import (
	"context"
	"sync"
	"time"

	"github.com/example/fulfillment-tracker/internal/models"
)

// CoordSource yields the current (from, to) pair for a tracked booking,
// typically the provider's latest live location and the fixed service
// coordinate. ok is false while no location has been reported yet.
type CoordSource func() (from, to models.Coord, ok bool)

// Tracker recomputes the route for one tracked booking on a fixed cadence.
// A cycle that lands on the straight-line fallback schedules a bounded
// number of in-cycle retries with exponential backoff; every fresh cycle
// resets that budget. Stop is deterministic: OnSnapshot is never invoked
// after Stop returns.
type Tracker struct {
	Resolver   Resolver
	Coords     CoordSource
	OnSnapshot func(models.RouteSnapshot)

	Interval  time.Duration
	RetryMax  int
	RetryBase time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start launches the recompute loop. The first cycle runs immediately.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.run(ctx)
}

// Stop tears the loop down and waits for it to finish.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

func (t *Tracker) run(ctx context.Context) {
	defer t.wg.Done()
	interval := t.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.cycle(ctx)
		}
	}
}

func (t *Tracker) cycle(ctx context.Context) {
	from, to, ok := t.Coords()
	if !ok {
		return
	}
	snap, _ := t.Resolver.Resolve(ctx, from, to)
	t.emit(ctx, snap)
	if snap.Confidence != models.ConfidenceFallback {
		return
	}

	// degraded: retry within the cycle, doubling the delay each time
	delay := t.RetryBase
	if delay <= 0 {
		delay = 2 * time.Second
	}
	for attempt := 0; attempt < t.RetryMax; attempt++ {
		if !sleepCtx(ctx, delay) {
			return
		}
		delay *= 2
		from, to, ok = t.Coords()
		if !ok {
			continue
		}
		snap, err := t.Resolver.Resolve(ctx, from, to)
		if err != nil || snap.Confidence == models.ConfidenceFallback {
			continue
		}
		t.emit(ctx, snap)
		return
	}
}

func (t *Tracker) emit(ctx context.Context, snap models.RouteSnapshot) {
	if ctx.Err() != nil || t.OnSnapshot == nil {
		return
	}
	t.OnSnapshot(snap)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
