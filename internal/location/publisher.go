package location

import (
	"context"
	"sync"
	"time"

	"github.com/example/fulfillment-tracker/internal/models"
)

// Sampler is the device geolocation capability on the provider's client:
// a single-shot read plus a continuous watch.
type Sampler interface {
	Current(ctx context.Context) (models.Coord, error)
	Watch(ctx context.Context) (<-chan models.Coord, func(), error)
}

// Producer is an optional secondary sink for accepted samples (the Kafka
// ingest pipeline in production).
type Producer interface {
	PublishLocation(ctx context.Context, loc models.LiveLocation) error
}

// Publisher samples device geolocation for one provider and writes it to
// shared state at a bounded rate: a heartbeat tick plus the on-change watch,
// gated by a minimum inter-write interval.
type Publisher struct {
	ProviderID string
	Sampler    Sampler
	Store      Store
	Producer   Producer

	Heartbeat   time.Duration
	MinInterval time.Duration
	// OnUnavailable is invoked once per outage with ErrLocationUnavailable
	// so the provider UI can demand consent; the heartbeat keeps retrying.
	OnUnavailable func(error)
	Now           func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastWrite time.Time
	notified  bool
}

func (p *Publisher) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Start launches the sampling loop.
func (p *Publisher) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop tears the loop down and waits for it; no writes after Stop returns.
func (p *Publisher) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()

	heartbeat := p.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	watch, stopWatch, err := p.Sampler.Watch(ctx)
	if err != nil {
		p.unavailable(err)
		watch = nil
	} else {
		defer stopWatch()
	}

	p.sampleOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-watch:
			if !ok {
				watch = nil
				continue
			}
			p.accept(ctx, c)
		case <-ticker.C:
			p.sampleOnce(ctx)
		}
	}
}

func (p *Publisher) sampleOnce(ctx context.Context) {
	c, err := p.Sampler.Current(ctx)
	if err != nil {
		p.unavailable(err)
		return
	}
	p.notified = false
	p.accept(ctx, c)
}

// accept applies the min-interval gate and writes the sample.
func (p *Publisher) accept(ctx context.Context, c models.Coord) {
	now := p.now()
	if !p.lastWrite.IsZero() && now.Sub(p.lastWrite) < p.MinInterval {
		return
	}
	loc := models.LiveLocation{ProviderID: p.ProviderID, Lat: c.Lat, Lng: c.Lng, UpdatedAt: now}
	if err := p.Store.Publish(ctx, loc); err != nil {
		// store write failures are transient; the next sample retries
		return
	}
	p.lastWrite = now
	if p.Producer != nil {
		_ = p.Producer.PublishLocation(ctx, loc)
	}
}

func (p *Publisher) unavailable(err error) {
	if p.notified || p.OnUnavailable == nil {
		return
	}
	p.notified = true
	p.OnUnavailable(ErrLocationUnavailable)
	_ = err
}
