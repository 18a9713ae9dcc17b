package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/fulfillment-tracker/internal/booking"
	"github.com/example/fulfillment-tracker/internal/location"
	"github.com/example/fulfillment-tracker/internal/models"
	"github.com/example/fulfillment-tracker/internal/storage"
)

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, from, to models.Coord) (models.RouteSnapshot, error) {
	return models.RouteSnapshot{Confidence: models.ConfidenceRoad, DistanceMeters: 100}, nil
}

func testConfig(t *testing.T) (Config, *storage.MemoryStore, *location.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	locs := location.NewMemoryStore()
	b := &models.Booking{
		ID:         "bk1",
		CustomerID: "cust1",
		ProviderID: "prov1",
		Service:    models.Coord{Lat: 0, Lng: 0},
		Status:     models.StatusScheduled,
	}
	if err := store.Create(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	cfg := Config{
		Booking:             b,
		Role:                models.RoleCustomer,
		Locations:           locs,
		Resolver:            stubResolver{},
		Machine:             booking.NewMachine(store, 15*time.Minute, 5),
		Store:               store,
		RecomputeInterval:   10 * time.Millisecond,
		ArrivalRadiusMeters: 10,
		ManualRadiusMeters:  50,
		ArrivalPollInterval: time.Hour, // push path only; poller stays quiet
	}
	return cfg, store, locs
}

func TestSessionIssuesOTPFromPushedSample(t *testing.T) {
	cfg, store, locs := testConfig(t)
	gotLoc := make(chan models.LiveLocation, 8)
	cfg.OnLocation = func(l models.LiveLocation) { gotLoc <- l }

	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	_ = locs.Publish(context.Background(), models.LiveLocation{ProviderID: "prov1", Lat: 0, Lng: 0, UpdatedAt: time.Now()})

	select {
	case <-gotLoc:
	case <-time.After(2 * time.Second):
		t.Fatal("pushed sample never reached the viewer")
	}

	deadline := time.After(2 * time.Second)
	for {
		b, _ := store.Get(context.Background(), "bk1")
		if b.Status == models.StatusArrived && b.ArrivalOTP != "" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("arrival never recorded: %+v", b)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSessionRouteUpdatesFlow(t *testing.T) {
	cfg, _, locs := testConfig(t)
	gotRoute := make(chan models.RouteSnapshot, 8)
	cfg.OnRoute = func(r models.RouteSnapshot) { gotRoute <- r }

	// seed a location so the tracker has a from-coordinate immediately
	_ = locs.Publish(context.Background(), models.LiveLocation{ProviderID: "prov1", Lat: 1, Lng: 1, UpdatedAt: time.Now()})

	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	select {
	case snap := <-gotRoute:
		if snap.Confidence != models.ConfidenceRoad {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no route snapshot emitted")
	}
}

func TestSessionCloseSilencesCallbacks(t *testing.T) {
	cfg, _, locs := testConfig(t)
	var calls atomic.Int32
	cfg.OnLocation = func(models.LiveLocation) { calls.Add(1) }
	cfg.OnRoute = func(models.RouteSnapshot) { calls.Add(1) }

	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	before := calls.Load()
	for i := 0; i < 5; i++ {
		_ = locs.Publish(context.Background(), models.LiveLocation{ProviderID: "prov1", Lat: float64(i), UpdatedAt: time.Now()})
	}
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != before {
		t.Fatal("callback fired after Close")
	}
}
