package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/example/sewaghar/internal/models"
	"github.com/example/sewaghar/internal/storage"
)

// Escrow holds the posted wage against the customer while a provider is
// assigned. Optional; a nil escrow skips the money flow entirely.
type Escrow interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, ref string) error
	Cancel(ctx context.Context, ref string) error
}

// Notifier pushes request changes to connected clients. Optional.
type Notifier interface {
	RequestChanged(req models.ServiceRequest)
}

// Service owns the request state machine: pending -> accepted -> completed,
// with release returning an accepted request to pending. Every mutation takes
// the caller's identity explicitly; nothing is read from ambient session
// state.
type Service struct {
	Store  storage.RequestStore
	Escrow Escrow
	Notify Notifier
	Logger *slog.Logger

	// Now is a seam for tests; defaults to time.Now.
	Now func() time.Time

	validate *validator.Validate
}

func NewService(store storage.RequestStore, logger *slog.Logger) *Service {
	return &Service{
		Store:    store,
		Logger:   logger,
		Now:      time.Now,
		validate: validator.New(),
	}
}

// SubmitInput carries the customer-supplied fields of a new request.
type SubmitInput struct {
	Title         string   `json:"title" validate:"required"`
	Description   string   `json:"description" validate:"required"`
	Category      string   `json:"category" validate:"required"`
	Location      string   `json:"location" validate:"required"`
	Wage          float64  `json:"wage" validate:"required,gt=0"`
	ContactNumber string   `json:"contact_number" validate:"required"`
	ImageURL      string   `json:"image_url"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
}

// Submit creates a new pending request owned by customerID.
func (s *Service) Submit(ctx context.Context, customerID string, in SubmitInput) (*models.ServiceRequest, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: missing customer id", ErrValidation)
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	now := s.Now()
	req := &models.ServiceRequest{
		ID:            uuid.NewString(),
		CustomerID:    customerID,
		Title:         in.Title,
		Description:   in.Description,
		Category:      in.Category,
		Location:      in.Location,
		Latitude:      in.Latitude,
		Longitude:     in.Longitude,
		Wage:          in.Wage,
		ContactNumber: in.ContactNumber,
		ImageURL:      in.ImageURL,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	s.notify(*req)
	return req, nil
}

// Accept claims a pending request for providerID. At most one provider wins a
// given request: the claim is a conditional update on the stored status, so a
// second concurrent accept observes ErrConflict, never a double assignment.
func (s *Service) Accept(ctx context.Context, requestID, providerID string) (*models.ServiceRequest, error) {
	if requestID == "" || providerID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrValidation)
	}
	ok, err := s.Store.AcceptRequest(ctx, requestID, providerID, s.Now())
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !ok {
		cur, err := s.Store.GetRequest(ctx, requestID)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		if cur.Status == models.StatusCompleted {
			return nil, fmt.Errorf("%w: request already completed", ErrInvalidState)
		}
		return nil, fmt.Errorf("%w: request no longer pending", ErrConflict)
	}
	req, err := s.Store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	s.holdWage(ctx, req)
	s.notify(*req)
	return req, nil
}

// DeclineAvailable records that the provider does not want to see a pending
// request again. Idempotent; the decline set only grows.
func (s *Service) DeclineAvailable(ctx context.Context, requestID, providerID string) error {
	if requestID == "" || providerID == "" {
		return fmt.Errorf("%w: missing id", ErrValidation)
	}
	return s.Store.MarkNotInterested(ctx, providerID, requestID)
}

// ReleaseAccepted returns a request the caller previously accepted to the
// pending pool, clearing the assignment and recording the decline so the
// request stops appearing in the caller's available view.
func (s *Service) ReleaseAccepted(ctx context.Context, requestID, providerID string) (*models.ServiceRequest, error) {
	if requestID == "" || providerID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrValidation)
	}
	ok, err := s.Store.ReleaseRequest(ctx, requestID, providerID, s.Now())
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !ok {
		cur, err := s.Store.GetRequest(ctx, requestID)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		switch {
		case cur.Status == models.StatusCompleted:
			return nil, fmt.Errorf("%w: request already completed", ErrInvalidState)
		case cur.Status == models.StatusAccepted:
			return nil, fmt.Errorf("%w: request assigned to another provider", ErrPermission)
		default:
			return nil, fmt.Errorf("%w: request is not accepted", ErrConflict)
		}
	}
	if err := s.Store.MarkNotInterested(ctx, providerID, requestID); err != nil {
		// The transition already happened; a lost decline marker only means
		// the request may reappear in this provider's available view.
		s.logWarn("decline marker write failed", "request_id", requestID, "error", err)
	}
	req, err := s.Store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	s.releaseWage(ctx, req)
	s.notify(*req)
	return req, nil
}

// Complete finishes an accepted request. Only the owning customer may call
// it; completed is terminal.
func (s *Service) Complete(ctx context.Context, requestID, customerID string) (*models.ServiceRequest, error) {
	if requestID == "" || customerID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrValidation)
	}
	cur, err := s.Store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if cur.CustomerID != customerID {
		return nil, fmt.Errorf("%w: only the owning customer may complete", ErrPermission)
	}
	if cur.Status != models.StatusAccepted {
		return nil, fmt.Errorf("%w: request is %s", ErrInvalidState, cur.Status)
	}
	ok, err := s.Store.CompleteRequest(ctx, requestID, s.Now())
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: request changed concurrently", ErrConflict)
	}
	req, err := s.Store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	s.captureWage(ctx, req)
	s.notify(*req)
	return req, nil
}

// Rate records a 1-5 review for the counterparty of a completed request and
// bumps that user's running rating aggregate. A request can be rated once;
// the reviewed flag is flipped in the same atomic step as the aggregate
// update, so concurrent raters cannot double-count.
func (s *Service) Rate(ctx context.Context, requestID, raterID string, score int, comment string) (models.RatingSummary, error) {
	if score < 1 || score > 5 {
		return models.RatingSummary{}, fmt.Errorf("%w: score must be between 1 and 5", ErrValidation)
	}
	cur, err := s.Store.GetRequest(ctx, requestID)
	if err != nil {
		return models.RatingSummary{}, mapStoreErr(err)
	}
	if cur.Status != models.StatusCompleted {
		return models.RatingSummary{}, fmt.Errorf("%w: request is %s", ErrInvalidState, cur.Status)
	}
	if cur.Reviewed {
		return models.RatingSummary{}, fmt.Errorf("%w: request already reviewed", ErrInvalidState)
	}

	var target, fromType string
	switch {
	case raterID == cur.CustomerID && cur.ProviderID != nil:
		target, fromType = *cur.ProviderID, "customer"
	case cur.ProviderID != nil && raterID == *cur.ProviderID:
		target, fromType = cur.CustomerID, "provider"
	default:
		return models.RatingSummary{}, fmt.Errorf("%w: rater is not a party to this request", ErrPermission)
	}

	rating := models.Rating{
		RequestID:    requestID,
		FromUserID:   raterID,
		FromUserType: fromType,
		Score:        score,
		Comment:      comment,
		CreatedAt:    s.Now(),
	}
	ok, summary, err := s.Store.RecordRating(ctx, requestID, target, rating)
	if err != nil {
		return models.RatingSummary{}, mapStoreErr(err)
	}
	if !ok {
		return models.RatingSummary{}, fmt.Errorf("%w: request already reviewed", ErrConflict)
	}
	return summary, nil
}

// Available lists pending requests the provider has neither declined nor
// blocked.
func (s *Service) Available(ctx context.Context, providerID string) ([]models.ServiceRequest, error) {
	pending, err := s.Store.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	declined, err := s.Store.NotInterested(ctx, providerID)
	if err != nil {
		return nil, err
	}
	blocked, err := s.Store.Blocked(ctx, providerID)
	if err != nil {
		return nil, err
	}
	out := pending[:0]
	for _, r := range pending {
		if !declined[r.ID] && !blocked[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}

// ForCustomer lists the customer's own requests, optionally filtered by
// status ("" means all).
func (s *Service) ForCustomer(ctx context.Context, customerID string, status models.RequestStatus) ([]models.ServiceRequest, error) {
	return s.Store.ListByCustomer(ctx, customerID, status)
}

// ForProvider lists requests assigned to the provider, optionally filtered by
// status.
func (s *Service) ForProvider(ctx context.Context, providerID string, status models.RequestStatus) ([]models.ServiceRequest, error) {
	return s.Store.ListByProvider(ctx, providerID, status)
}

// Block hides a request from the provider's available view permanently.
func (s *Service) Block(ctx context.Context, requestID, providerID string) error {
	if requestID == "" || providerID == "" {
		return fmt.Errorf("%w: missing id", ErrValidation)
	}
	return s.Store.BlockRequest(ctx, providerID, requestID)
}

// Ratings returns the stored reviews and the running aggregate for a user.
func (s *Service) Ratings(ctx context.Context, userID string) ([]models.Rating, models.RatingSummary, error) {
	ratings, err := s.Store.RatingsFor(ctx, userID)
	if err != nil {
		return nil, models.RatingSummary{}, err
	}
	summary, err := s.Store.RatingSummaryFor(ctx, userID)
	if err != nil {
		return nil, models.RatingSummary{}, err
	}
	return ratings, summary, nil
}

// Escrow moves are best-effort: the state transition is the transaction the
// user asked for, the money flow trails it and failures are logged.
func (s *Service) holdWage(ctx context.Context, req *models.ServiceRequest) {
	if s.Escrow == nil {
		return
	}
	ref, err := s.Escrow.Hold(ctx, int64(req.Wage*100), "npr", req.CustomerID)
	if err != nil {
		s.logWarn("wage hold failed", "request_id", req.ID, "error", err)
		return
	}
	req.PaymentRef = ref
	if err := s.Store.SetPaymentRef(ctx, req.ID, ref); err != nil {
		s.logWarn("payment ref write failed", "request_id", req.ID, "error", err)
	}
}

func (s *Service) captureWage(ctx context.Context, req *models.ServiceRequest) {
	if s.Escrow == nil || req.PaymentRef == "" {
		return
	}
	if err := s.Escrow.Capture(ctx, req.PaymentRef); err != nil {
		s.logWarn("wage capture failed", "request_id", req.ID, "error", err)
	}
}

func (s *Service) releaseWage(ctx context.Context, req *models.ServiceRequest) {
	if s.Escrow == nil || req.PaymentRef == "" {
		return
	}
	if err := s.Escrow.Cancel(ctx, req.PaymentRef); err != nil {
		s.logWarn("wage release failed", "request_id", req.ID, "error", err)
	}
}

func (s *Service) notify(req models.ServiceRequest) {
	if s.Notify != nil {
		s.Notify.RequestChanged(req)
	}
}

func (s *Service) logWarn(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Warn(msg, args...)
	}
}

func mapStoreErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w", ErrNotFound)
	}
	return err
}
