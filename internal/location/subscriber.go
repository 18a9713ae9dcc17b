package location

import (
	"context"
	"sync"
	"time"

	"github.com/example/fulfillment-tracker/internal/models"
)

// Subscriber receives a provider's pushed location updates and re-emits
// them debounced to a minimum inter-update interval. The gate is owned
// here, independent of the transport underneath.
type Subscriber struct {
	Store      Store
	ProviderID string
	Debounce   time.Duration

	out    chan models.LiveLocation
	stop   func()
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Updates is the debounced output stream. It closes after Close.
func (s *Subscriber) Updates() <-chan models.LiveLocation { return s.out }

// Start opens the store subscription and begins relaying.
func (s *Subscriber) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	ch, stop, err := s.Store.Subscribe(ctx, s.ProviderID)
	if err != nil {
		s.cancel()
		return err
	}
	s.stop = stop
	s.out = make(chan models.LiveLocation, 16)
	s.wg.Add(1)
	go s.relay(ctx, ch)
	return nil
}

// Close tears the subscription down deterministically: when it returns, the
// output channel is closed and nothing will be emitted again.
func (s *Subscriber) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stop != nil {
		s.stop()
	}
	s.wg.Wait()
}

func (s *Subscriber) relay(ctx context.Context, ch <-chan models.LiveLocation) {
	defer s.wg.Done()
	defer close(s.out)
	var lastEmit time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case loc, ok := <-ch:
			if !ok {
				return
			}
			now := time.Now()
			if !lastEmit.IsZero() && now.Sub(lastEmit) < s.Debounce {
				continue
			}
			select {
			case s.out <- loc:
				lastEmit = now
			case <-ctx.Done():
				return
			}
		}
	}
}
