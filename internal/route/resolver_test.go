package route

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/fulfillment-tracker/internal/models"
)

func providerServer(t *testing.T, handler http.HandlerFunc) *ProviderClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &ProviderClient{Name: "test", Endpoint: srv.URL, Client: srv.Client()}
}

const okBody = `{"code":"Ok","routes":[{"distance":5000,"duration":600,
	"geometry":{"coordinates":[[77.5946,12.9716],[77.6,12.98]]}}]}`

func TestProviderClientParsesRoute(t *testing.T) {
	p := providerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(okBody))
	})
	snap, err := p.Resolve(context.Background(), models.Coord{Lat: 12.9716, Lng: 77.5946}, models.Coord{Lat: 12.98, Lng: 77.6})
	if err != nil {
		t.Fatal(err)
	}
	if snap.DistanceMeters != 5000 || snap.DurationSeconds != 600 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if len(snap.Points) != 2 || snap.Points[0].Lat != 12.9716 || snap.Points[0].Lng != 77.5946 {
		t.Fatalf("geojson lng/lat order not honored: %+v", snap.Points)
	}
	if snap.Confidence != models.ConfidenceRoad {
		t.Fatalf("expected road confidence, got %s", snap.Confidence)
	}
}

func TestProviderClientErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"http 500":  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) },
		"bad json":  func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("{not json")) },
		"not ok":    func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"code":"NoRoute","routes":[]}`)) },
		"no routes": func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"code":"Ok","routes":[]}`)) },
	}
	for name, h := range cases {
		p := providerServer(t, h)
		if _, err := p.Resolve(context.Background(), models.Coord{}, models.Coord{Lat: 1}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestChainFallsBackWhenAllProvidersFail(t *testing.T) {
	a := providerServer(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) })
	b := providerServer(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) })
	c := &Chain{Providers: []Resolver{a, b}, FallbackSpeedKmh: 30}

	from := models.Coord{Lat: 0, Lng: 0}
	to := models.Coord{Lat: 0, Lng: 1}
	snap, err := c.Resolve(context.Background(), from, to)
	if !errors.Is(err, ErrRoutingUnavailable) {
		t.Fatalf("expected ErrRoutingUnavailable, got %v", err)
	}
	if snap.Confidence != models.ConfidenceFallback || len(snap.Points) != 0 {
		t.Fatalf("expected straight-line fallback, got %+v", snap)
	}
	// one degree of longitude at the equator, at 30 km/h
	wantDist := 111190.0
	if math.Abs(snap.DistanceMeters-wantDist)/wantDist > 0.01 {
		t.Fatalf("fallback distance %f, want ~%f", snap.DistanceMeters, wantDist)
	}
	wantDur := snap.DistanceMeters / (30 * 1000 / 3600)
	if math.Abs(snap.DurationSeconds-wantDur) > 1e-6 {
		t.Fatalf("fallback duration %f, want %f", snap.DurationSeconds, wantDur)
	}
}

func TestChainUsesSecondProviderWhenFirstFails(t *testing.T) {
	a := providerServer(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("{malformed")) })
	b := providerServer(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(okBody)) })
	c := &Chain{Providers: []Resolver{a, b}, FallbackSpeedKmh: 30}

	snap, err := c.Resolve(context.Background(), models.Coord{}, models.Coord{Lat: 1})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Confidence != models.ConfidenceRoad || snap.DistanceMeters != 5000 {
		t.Fatalf("expected provider B's road route, got %+v", snap)
	}
}

func TestChainPrefersFirstProvider(t *testing.T) {
	calledB := false
	a := providerServer(t, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(okBody)) })
	b := providerServer(t, func(w http.ResponseWriter, r *http.Request) { calledB = true; w.Write([]byte(okBody)) })
	c := &Chain{Providers: []Resolver{a, b}, FallbackSpeedKmh: 30}

	if _, err := c.Resolve(context.Background(), models.Coord{}, models.Coord{Lat: 1}); err != nil {
		t.Fatal(err)
	}
	if calledB {
		t.Fatal("provider B should not be consulted when A succeeds")
	}
}

func TestChainTreatsEmptyPolylineAsFallback(t *testing.T) {
	a := providerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":5000,"duration":600,"geometry":{"coordinates":[]}}]}`))
	})
	c := &Chain{Providers: []Resolver{a}, FallbackSpeedKmh: 30}
	snap, _ := c.Resolve(context.Background(), models.Coord{}, models.Coord{Lat: 0, Lng: 1})
	if snap.Confidence != models.ConfidenceFallback {
		t.Fatalf("expected fallback-equivalent snapshot, got %+v", snap)
	}
}

type scriptedResolver struct {
	snaps []models.RouteSnapshot
	i     int
}

func (s *scriptedResolver) Resolve(ctx context.Context, from, to models.Coord) (models.RouteSnapshot, error) {
	snap := s.snaps[s.i]
	if s.i < len(s.snaps)-1 {
		s.i++
	}
	if snap.Confidence == models.ConfidenceFallback {
		return snap, ErrRoutingUnavailable
	}
	return snap, nil
}

func TestTrackerRetriesOutOfFallback(t *testing.T) {
	res := &scriptedResolver{snaps: []models.RouteSnapshot{
		{Confidence: models.ConfidenceFallback},
		{Confidence: models.ConfidenceRoad, DistanceMeters: 1234},
	}}
	got := make(chan models.RouteSnapshot, 8)
	tr := &Tracker{
		Resolver:   res,
		Coords:     func() (models.Coord, models.Coord, bool) { return models.Coord{}, models.Coord{Lat: 1}, true },
		OnSnapshot: func(s models.RouteSnapshot) { got <- s },
		Interval:   time.Hour,
		RetryMax:   3,
		RetryBase:  5 * time.Millisecond,
	}
	tr.Start(context.Background())
	defer tr.Stop()

	first := <-got
	if first.Confidence != models.ConfidenceFallback {
		t.Fatalf("expected initial fallback emit, got %+v", first)
	}
	select {
	case second := <-got:
		if second.Confidence != models.ConfidenceRoad {
			t.Fatalf("expected retry to recover a road route, got %+v", second)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry never recovered")
	}
}

func TestTrackerStopsCleanly(t *testing.T) {
	res := &scriptedResolver{snaps: []models.RouteSnapshot{{Confidence: models.ConfidenceRoad}}}
	var emits atomic.Int32
	tr := &Tracker{
		Resolver:   res,
		Coords:     func() (models.Coord, models.Coord, bool) { return models.Coord{}, models.Coord{}, true },
		OnSnapshot: func(models.RouteSnapshot) { emits.Add(1) },
		Interval:   10 * time.Millisecond,
		RetryMax:   0,
	}
	tr.Start(context.Background())
	time.Sleep(35 * time.Millisecond)
	tr.Stop()
	after := emits.Load()
	time.Sleep(30 * time.Millisecond)
	if emits.Load() != after {
		t.Fatal("tracker emitted after Stop")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	c := NewCache(time.Minute)
	a, b := models.Coord{Lat: 1}, models.Coord{Lng: 1}
	if _, ok := c.Get(a, b); ok {
		t.Fatal("unexpected hit")
	}
	c.Set(a, b, models.RouteSnapshot{DistanceMeters: 42})
	snap, ok := c.Get(a, b)
	if !ok || snap.DistanceMeters != 42 {
		t.Fatalf("expected cached snapshot, got %+v ok=%v", snap, ok)
	}
}
