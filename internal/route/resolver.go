// Package route computes road-following routes between the two parties of a
// booking, degrading to a straight-line estimate when no routing provider is
// reachable.
package route

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/fulfillment-tracker/internal/config"
	"github.com/example/fulfillment-tracker/internal/geo"
	"github.com/example/fulfillment-tracker/internal/models"
	"github.com/example/fulfillment-tracker/internal/observability"
)

// ErrRoutingUnavailable means every provider in the chain failed. The
// returned snapshot is still usable (straight-line fallback); the error is
// for accounting, never for user display.
var ErrRoutingUnavailable = errors.New("all routing providers unavailable")

// Resolver obtains a route between two coordinates.
type Resolver interface {
	Resolve(ctx context.Context, from, to models.Coord) (models.RouteSnapshot, error)
}

// ProviderClient performs route lookups against one OSRM-style HTTP routing
// provider.
type ProviderClient struct {
	Name     string
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewProviderClient(p config.RouteProvider, timeout time.Duration) *ProviderClient {
	return &ProviderClient{
		Name:     p.Name,
		Endpoint: p.BaseURL,
		APIKey:   p.APIKey,
		Client:   &http.Client{Timeout: timeout},
	}
}

// Resolve queries the provider's /route endpoint. Any transport error,
// non-2xx status, malformed body or empty route set is an error; the chain
// decides what happens next.
func (p *ProviderClient) Resolve(ctx context.Context, from, to models.Coord) (models.RouteSnapshot, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		p.Endpoint, from.Lng, from.Lat, to.Lng, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.RouteSnapshot{}, err
	}
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return models.RouteSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.RouteSnapshot{}, fmt.Errorf("%s: status %d", p.Name, resp.StatusCode)
	}

	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.RouteSnapshot{}, fmt.Errorf("%s: malformed body: %w", p.Name, err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return models.RouteSnapshot{}, fmt.Errorf("%s: no route: %v", p.Name, out.Code)
	}

	r := out.Routes[0]
	points := make([]models.Coord, 0, len(r.Geometry.Coordinates))
	for _, c := range r.Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		// GeoJSON order is [lng, lat]
		points = append(points, models.Coord{Lat: c[1], Lng: c[0]})
	}
	return models.RouteSnapshot{
		DistanceMeters:  r.Distance,
		DurationSeconds: r.Duration,
		Points:          points,
		Confidence:      models.ConfidenceRoad,
		ComputedAt:      time.Now(),
	}, nil
}

// Chain tries an ordered list of providers and falls back to a straight-line
// estimate when all of them fail.
type Chain struct {
	Providers        []Resolver
	FallbackSpeedKmh float64
}

func NewChain(providers []config.RouteProvider, timeout time.Duration, fallbackSpeedKmh float64) *Chain {
	rs := make([]Resolver, 0, len(providers))
	for _, p := range providers {
		rs = append(rs, NewProviderClient(p, timeout))
	}
	return &Chain{Providers: rs, FallbackSpeedKmh: fallbackSpeedKmh}
}

// Resolve returns the first provider's successful answer. A success carrying
// zero polyline points is degraded to the fallback snapshot. On exhaustion
// the fallback snapshot is returned together with ErrRoutingUnavailable.
func (c *Chain) Resolve(ctx context.Context, from, to models.Coord) (models.RouteSnapshot, error) {
	for _, p := range c.Providers {
		if ctx.Err() != nil {
			return c.fallback(from, to), ctx.Err()
		}
		snap, err := p.Resolve(ctx, from, to)
		if err != nil {
			if pc, ok := p.(*ProviderClient); ok {
				observability.RouteProviderErrors.WithLabelValues(pc.Name).Inc()
			}
			continue
		}
		if len(snap.Points) == 0 {
			break
		}
		observability.RouteResolutionsTotal.WithLabelValues(string(models.ConfidenceRoad)).Inc()
		return snap, nil
	}
	observability.RouteResolutionsTotal.WithLabelValues(string(models.ConfidenceFallback)).Inc()
	return c.fallback(from, to), ErrRoutingUnavailable
}

func (c *Chain) fallback(from, to models.Coord) models.RouteSnapshot {
	speed := c.FallbackSpeedKmh
	if speed <= 0 {
		speed = 30
	}
	dist := geo.Distance(from, to)
	return models.RouteSnapshot{
		DistanceMeters:  dist,
		DurationSeconds: dist / (speed * 1000 / 3600),
		Confidence:      models.ConfidenceFallback,
		ComputedAt:      time.Now(),
	}
}
