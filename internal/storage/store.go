package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/sewaghar/internal/models"
)

// ErrNotFound is returned for lookups of records that do not exist.
var ErrNotFound = errors.New("record not found")

// RequestStore defines persistence for service requests, provider decline
// sets, and ratings. The guarded mutations (Accept/Release/Complete/
// RecordRating) are conditional updates: they apply only if the stored state
// still satisfies the precondition, and report whether they applied. That is
// the only defense against lost updates between racing clients, so
// implementations must evaluate the precondition and the write atomically,
// never as a read followed by a write.
type RequestStore interface {
	CreateRequest(ctx context.Context, req *models.ServiceRequest) error
	GetRequest(ctx context.Context, id string) (*models.ServiceRequest, error)

	// AcceptRequest assigns the provider iff the request is still pending.
	AcceptRequest(ctx context.Context, id, providerID string, at time.Time) (bool, error)
	// ReleaseRequest clears the assignment and returns the request to pending
	// iff it is accepted and assigned to providerID.
	ReleaseRequest(ctx context.Context, id, providerID string, at time.Time) (bool, error)
	// CompleteRequest finishes the request iff it is currently accepted.
	CompleteRequest(ctx context.Context, id string, at time.Time) (bool, error)

	SetPaymentRef(ctx context.Context, id, ref string) error

	ListByCustomer(ctx context.Context, customerID string, status models.RequestStatus) ([]models.ServiceRequest, error)
	ListByProvider(ctx context.Context, providerID string, status models.RequestStatus) ([]models.ServiceRequest, error)
	ListPending(ctx context.Context) ([]models.ServiceRequest, error)

	// MarkNotInterested records a provider's decline. Idempotent; the set only
	// ever grows.
	MarkNotInterested(ctx context.Context, providerID, requestID string) error
	NotInterested(ctx context.Context, providerID string) (map[string]bool, error)
	BlockRequest(ctx context.Context, providerID, requestID string) error
	Blocked(ctx context.Context, providerID string) (map[string]bool, error)

	// RecordRating stores the rating, bumps the target user's running
	// sum/count aggregate, and flips the request's reviewed flag, all in one
	// atomic step guarded on the flag still being unset. Returns false without
	// side effects if the request was already reviewed or is not completed.
	RecordRating(ctx context.Context, requestID, targetUserID string, r models.Rating) (bool, models.RatingSummary, error)
	RatingsFor(ctx context.Context, userID string) ([]models.Rating, error)
	RatingSummaryFor(ctx context.Context, userID string) (models.RatingSummary, error)
}
