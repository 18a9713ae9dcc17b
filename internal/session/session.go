// Package session owns the lifetime of one tracked-booking view: the
// debounced location subscription, the route recompute loop and the arrival
// verifier all hang off a single context and are torn down together when
// the view closes. A leaked timer against a closed view would keep judging
// proximity for a session nobody is observing, so teardown is strict.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/example/fulfillment-tracker/internal/arrival"
	"github.com/example/fulfillment-tracker/internal/booking"
	"github.com/example/fulfillment-tracker/internal/location"
	"github.com/example/fulfillment-tracker/internal/models"
	"github.com/example/fulfillment-tracker/internal/observability"
	"github.com/example/fulfillment-tracker/internal/route"
	"github.com/example/fulfillment-tracker/internal/storage"
)

type Config struct {
	Booking *models.Booking
	Role    models.Role

	Locations location.Store
	Resolver  route.Resolver
	Machine   *booking.Machine
	Store     storage.BookingStore

	SubscriberDebounce  time.Duration
	RecomputeInterval   time.Duration
	RetryMax            int
	RetryBase           time.Duration
	ArrivalRadiusMeters float64
	ManualRadiusMeters  float64
	ArrivalPollInterval time.Duration

	// OnLocation and OnRoute deliver updates to the viewer. Neither is
	// called after Close returns.
	OnLocation func(models.LiveLocation)
	OnRoute    func(models.RouteSnapshot)
}

type Session struct {
	cfg Config

	sub      *location.Subscriber
	tracker  *route.Tracker
	verifier *arrival.Verifier

	mu      sync.Mutex
	lastLoc *models.LiveLocation

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open starts tracking. The verifier only runs while the booking can still
// arrive; viewers of later lifecycle stages just get location and route
// updates.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{cfg: cfg, cancel: cancel}

	// seed the coordinate source so the first route cycle can run before
	// the first push lands
	if loc, err := cfg.Locations.Get(ctx, cfg.Booking.ProviderID); err == nil {
		s.setLast(loc)
	}

	s.sub = &location.Subscriber{
		Store:      cfg.Locations,
		ProviderID: cfg.Booking.ProviderID,
		Debounce:   cfg.SubscriberDebounce,
	}
	if err := s.sub.Start(ctx); err != nil {
		cancel()
		return nil, err
	}

	if !cfg.Booking.Status.Terminal() && !cfg.Booking.OTPIssued && cfg.Booking.Status != models.StatusArrived {
		s.verifier = &arrival.Verifier{
			BookingID:           cfg.Booking.ID,
			Dest:                cfg.Booking.Service,
			Machine:             cfg.Machine,
			Store:               cfg.Store,
			Locations:           cfg.Locations,
			ArrivalRadiusMeters: cfg.ArrivalRadiusMeters,
			ManualRadiusMeters:  cfg.ManualRadiusMeters,
			PollInterval:        cfg.ArrivalPollInterval,
		}
		s.verifier.Start(ctx)
	}

	s.tracker = &route.Tracker{
		Resolver:   cfg.Resolver,
		Coords:     s.coords,
		OnSnapshot: cfg.OnRoute,
		Interval:   cfg.RecomputeInterval,
		RetryMax:   cfg.RetryMax,
		RetryBase:  cfg.RetryBase,
	}
	s.tracker.Start(ctx)

	s.wg.Add(1)
	go s.relay(ctx)

	observability.ActiveSessions.Inc()
	return s, nil
}

// Close tears everything down; when it returns no callback will fire again.
func (s *Session) Close() {
	s.cancel()
	s.sub.Close()
	s.tracker.Stop()
	if s.verifier != nil {
		s.verifier.Stop()
	}
	s.wg.Wait()
	observability.ActiveSessions.Dec()
}

// RequestManualOTP forwards the provider's explicit issuance request using
// the latest known location.
func (s *Session) RequestManualOTP(ctx context.Context) error {
	if s.verifier == nil {
		return arrival.ErrNotCloseEnough
	}
	loc, err := s.cfg.Locations.Get(ctx, s.cfg.Booking.ProviderID)
	if err != nil {
		return err
	}
	return s.verifier.RequestManual(ctx, loc)
}

func (s *Session) relay(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case loc, ok := <-s.sub.Updates():
			if !ok {
				return
			}
			s.setLast(loc)
			if s.verifier != nil && !s.verifier.Done() {
				_ = s.verifier.Check(ctx, loc)
			}
			if ctx.Err() == nil && s.cfg.OnLocation != nil {
				s.cfg.OnLocation(loc)
			}
		}
	}
}

func (s *Session) setLast(loc models.LiveLocation) {
	s.mu.Lock()
	s.lastLoc = &loc
	s.mu.Unlock()
}

func (s *Session) coords() (models.Coord, models.Coord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastLoc == nil {
		return models.Coord{}, models.Coord{}, false
	}
	return s.lastLoc.Coord(), s.cfg.Booking.Service, true
}
