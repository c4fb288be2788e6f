package telemetry

import (
	"context"
	"sync"

	"github.com/example/sewaghar/internal/models"
)

// Store keeps the single current-location record per provider. Writes are
// overwrite-in-place; there is no history and no deletion, consumers infer
// staleness from the record's timestamp.
type Store interface {
	// Publish overwrites the provider's current location record.
	Publish(ctx context.Context, loc models.ProviderLocation) error
	// Get returns the current record, or nil if the provider has never
	// published.
	Get(ctx context.Context, providerID string) (*models.ProviderLocation, error)
	// Subscribe registers fn to be invoked with the current record (nil if it
	// does not exist yet) and again on every subsequent change. Each call
	// creates an independent subscription that must be cancelled separately.
	Subscribe(providerID string, fn func(*models.ProviderLocation)) *Subscription
	// Nearby returns every provider whose current location is within radiusKm
	// of the given point, boundary inclusive. Linear in provider count.
	Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]models.ProviderLocation, error)
}

// Subscription is the cancellation handle for one Subscribe call. Cancel is
// idempotent and guarantees no callback runs after it returns.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func newSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// subscriber serializes deliveries with cancellation so a callback can never
// fire after Cancel has returned.
type subscriber struct {
	mu     sync.Mutex
	closed bool
	fn     func(*models.ProviderLocation)
}

func (s *subscriber) deliver(loc *models.ProviderLocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.fn(loc)
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
