package telemetry

import (
	"context"
	"sync"

	"github.com/example/sewaghar/internal/geo"
	"github.com/example/sewaghar/internal/models"
)

// MemoryStore is the in-process Store used in tests and single-node runs.
type MemoryStore struct {
	mu        sync.RWMutex
	locations map[string]models.ProviderLocation
	subs      map[string]map[uint64]*subscriber
	nextSubID uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locations: make(map[string]models.ProviderLocation),
		subs:      make(map[string]map[uint64]*subscriber),
	}
}

func (m *MemoryStore) Publish(ctx context.Context, loc models.ProviderLocation) error {
	m.mu.Lock()
	m.locations[loc.ProviderID] = loc
	targets := make([]*subscriber, 0, len(m.subs[loc.ProviderID]))
	for _, s := range m.subs[loc.ProviderID] {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	// Each subscriber gets its own copy so a callback that mutates the
	// record cannot leak the change into another subscriber's view.
	for _, s := range targets {
		cp := loc
		s.deliver(&cp)
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, providerID string) (*models.ProviderLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[providerID]
	if !ok {
		return nil, nil
	}
	cp := loc
	return &cp, nil
}

func (m *MemoryStore) Subscribe(providerID string, fn func(*models.ProviderLocation)) *Subscription {
	sub := &subscriber{fn: fn}

	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	set, ok := m.subs[providerID]
	if !ok {
		set = make(map[uint64]*subscriber)
		m.subs[providerID] = set
	}
	set[id] = sub
	var initial *models.ProviderLocation
	if loc, ok := m.locations[providerID]; ok {
		cp := loc
		initial = &cp
	}
	m.mu.Unlock()

	// Mirror the initial-value semantics of a realtime database listener:
	// the callback fires once with the current record (nil if absent).
	sub.deliver(initial)

	return newSubscription(func() {
		m.mu.Lock()
		delete(m.subs[providerID], id)
		m.mu.Unlock()
		sub.close()
	})
}

func (m *MemoryStore) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]models.ProviderLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.ProviderLocation{}
	for _, loc := range m.locations {
		if geo.DistanceKm(lat, lon, loc.Latitude, loc.Longitude) <= radiusKm {
			out = append(out, loc)
		}
	}
	return out, nil
}
