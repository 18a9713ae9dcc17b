// Package location moves provider device coordinates between the publishing
// side and everyone tracking it. Writes are monotonic on updated_at: network
// reordering never regresses the stored position.
package location

import (
	"context"
	"errors"
	"sync"

	"github.com/example/fulfillment-tracker/internal/models"
	"github.com/example/fulfillment-tracker/internal/observability"
)

// ErrLocationUnavailable means the device refused or failed to produce a
// position. Blocking for the provider side, informational for viewers.
var ErrLocationUnavailable = errors.New("device location unavailable")

// ErrNoLocation means no sample has ever been stored for a provider.
var ErrNoLocation = errors.New("no live location yet")

// Store is the shared live-location state. One writer per provider id.
type Store interface {
	// Publish upserts a sample. Samples not strictly newer than the stored
	// one are silently discarded.
	Publish(ctx context.Context, loc models.LiveLocation) error
	Get(ctx context.Context, providerID string) (models.LiveLocation, error)
	// Subscribe streams accepted samples for a provider. The returned stop
	// function tears the subscription down; the channel closes after stop.
	Subscribe(ctx context.Context, providerID string) (<-chan models.LiveLocation, func(), error)
}

// MemoryStore is the in-process Store used by tests and single-node runs.
type MemoryStore struct {
	mu      sync.Mutex
	current map[string]models.LiveLocation
	subs    map[string]map[int]chan models.LiveLocation
	nextID  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		current: make(map[string]models.LiveLocation),
		subs:    make(map[string]map[int]chan models.LiveLocation),
	}
}

func (m *MemoryStore) Publish(ctx context.Context, loc models.LiveLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.current[loc.ProviderID]; ok && !loc.UpdatedAt.After(cur.UpdatedAt) {
		observability.LocationStaleDropped.Inc()
		return nil
	}
	m.current[loc.ProviderID] = loc
	observability.LocationWritesTotal.Inc()
	for _, ch := range m.subs[loc.ProviderID] {
		select {
		case ch <- loc:
		default:
			// slow subscriber keeps only the freshest samples
		}
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, providerID string) (models.LiveLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.current[providerID]
	if !ok {
		return models.LiveLocation{}, ErrNoLocation
	}
	return loc, nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, providerID string) (<-chan models.LiveLocation, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan models.LiveLocation, 16)
	if m.subs[providerID] == nil {
		m.subs[providerID] = make(map[int]chan models.LiveLocation)
	}
	m.subs[providerID][id] = ch
	stop := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[providerID][id]; ok {
			delete(m.subs[providerID], id)
			close(sub)
		}
	}
	return ch, stop, nil
}
