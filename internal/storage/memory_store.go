package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/sewaghar/internal/models"
)

// MemoryStore is an in-process RequestStore used in tests and single-node
// runs. All guarded mutations hold the lock across the precondition check and
// the write, which gives the same at-most-once semantics the Postgres store
// gets from guarded UPDATEs.
type MemoryStore struct {
	mu            sync.RWMutex
	requests      map[string]*models.ServiceRequest
	notInterested map[string]map[string]bool // providerID -> requestID set
	blocked       map[string]map[string]bool
	ratings       map[string][]models.Rating // target userID -> ratings
	summaries     map[string]models.RatingSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:      make(map[string]*models.ServiceRequest),
		notInterested: make(map[string]map[string]bool),
		blocked:       make(map[string]map[string]bool),
		ratings:       make(map[string][]models.Rating),
		summaries:     make(map[string]models.RatingSummary),
	}
}

func (m *MemoryStore) CreateRequest(ctx context.Context, req *models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) AcceptRequest(ctx context.Context, id, providerID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != models.StatusPending {
		return false, nil
	}
	pid := providerID
	r.ProviderID = &pid
	r.Status = models.StatusAccepted
	r.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) ReleaseRequest(ctx context.Context, id, providerID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != models.StatusAccepted || r.ProviderID == nil || *r.ProviderID != providerID {
		return false, nil
	}
	r.ProviderID = nil
	r.Status = models.StatusPending
	r.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) CompleteRequest(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != models.StatusAccepted {
		return false, nil
	}
	r.Status = models.StatusCompleted
	r.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) SetPaymentRef(ctx context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	r.PaymentRef = ref
	return nil
}

func (m *MemoryStore) ListByCustomer(ctx context.Context, customerID string, status models.RequestStatus) ([]models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ServiceRequest
	for _, r := range m.requests {
		if r.CustomerID == customerID && (status == "" || r.Status == status) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListByProvider(ctx context.Context, providerID string, status models.RequestStatus) ([]models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ServiceRequest
	for _, r := range m.requests {
		if r.ProviderID != nil && *r.ProviderID == providerID && (status == "" || r.Status == status) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListPending(ctx context.Context) ([]models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ServiceRequest
	for _, r := range m.requests {
		if r.Status == models.StatusPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkNotInterested(ctx context.Context, providerID, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.notInterested[providerID]
	if !ok {
		set = make(map[string]bool)
		m.notInterested[providerID] = set
	}
	set[requestID] = true
	return nil
}

func (m *MemoryStore) NotInterested(ctx context.Context, providerID string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.notInterested[providerID]))
	for k := range m.notInterested[providerID] {
		out[k] = true
	}
	return out, nil
}

func (m *MemoryStore) BlockRequest(ctx context.Context, providerID, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.blocked[providerID]
	if !ok {
		set = make(map[string]bool)
		m.blocked[providerID] = set
	}
	set[requestID] = true
	return nil
}

func (m *MemoryStore) Blocked(ctx context.Context, providerID string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.blocked[providerID]))
	for k := range m.blocked[providerID] {
		out[k] = true
	}
	return out, nil
}

func (m *MemoryStore) RecordRating(ctx context.Context, requestID, targetUserID string, r models.Rating) (bool, models.RatingSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return false, models.RatingSummary{}, ErrNotFound
	}
	if req.Status != models.StatusCompleted || req.Reviewed {
		return false, models.RatingSummary{}, nil
	}
	req.Reviewed = true
	m.ratings[targetUserID] = append(m.ratings[targetUserID], r)
	s := m.summaries[targetUserID]
	s.UserID = targetUserID
	s.Sum += int64(r.Score)
	s.Count++
	s.Mean = float64(s.Sum) / float64(s.Count)
	m.summaries[targetUserID] = s
	return true, s, nil
}

func (m *MemoryStore) RatingsFor(ctx context.Context, userID string) ([]models.Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Rating, len(m.ratings[userID]))
	copy(out, m.ratings[userID])
	return out, nil
}

func (m *MemoryStore) RatingSummaryFor(ctx context.Context, userID string) (models.RatingSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[userID]
	if !ok {
		return models.RatingSummary{UserID: userID}, nil
	}
	return s, nil
}
