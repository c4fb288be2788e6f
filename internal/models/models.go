package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RequestStatus is the lifecycle state of a service request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusAccepted  RequestStatus = "accepted"
	StatusCompleted RequestStatus = "completed"
)

// ServiceRequest is a customer's posted job. The customer owns the record for
// its lifetime; provider assignment can change across accept/release cycles
// until the request is completed.
type ServiceRequest struct {
	ID            string        `json:"id"`
	CustomerID    string        `json:"customer_id"`
	ProviderID    *string       `json:"provider_id,omitempty"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Category      string        `json:"category"`
	Location      string        `json:"location"`
	Latitude      *float64      `json:"latitude,omitempty"`
	Longitude     *float64      `json:"longitude,omitempty"`
	Wage          float64       `json:"wage"`
	ContactNumber string        `json:"contact_number"`
	ImageURL      string        `json:"image_url,omitempty"`
	Status        RequestStatus `json:"status"`
	Reviewed      bool          `json:"reviewed"`
	PaymentRef    string        `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ProviderStatus tags a location sample with what the provider is doing.
type ProviderStatus string

const (
	ProviderAvailable ProviderStatus = "available"
	ProviderEnRoute   ProviderStatus = "en_route"
	ProviderBusy      ProviderStatus = "busy"
)

// ProviderLocation is ephemeral latest-only telemetry, overwritten in place.
// Staleness is inferred from Timestamp by consumers.
type ProviderLocation struct {
	ProviderID string         `json:"provider_id"`
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	Status     ProviderStatus `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Rating is one review left against a user's profile, keyed by the request it
// was earned on. A request is reviewable at most once.
type Rating struct {
	RequestID    string    `json:"request_id"`
	FromUserID   string    `json:"from_user_id"`
	FromUserType string    `json:"from_user_type"`
	Score        int       `json:"score"`
	Comment      string    `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RatingSummary is the running aggregate kept per rated user. The mean is
// derived from sum/count so concurrent raters never read-modify-write it.
type RatingSummary struct {
	UserID string  `json:"user_id"`
	Sum    int64   `json:"sum"`
	Count  int64   `json:"count"`
	Mean   float64 `json:"mean"`
}

// RouteInfo is a derived path from provider to customer. Never persisted.
type RouteInfo struct {
	Points          []Coord `json:"points"`
	DurationSeconds float64 `json:"duration_seconds"`
	DistanceMeters  float64 `json:"distance_meters"`
}
