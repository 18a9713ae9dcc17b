package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Role identifies which side of a booking is acting or viewing.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
)

type BookingStatus string

const (
	StatusPending    BookingStatus = "pending"
	StatusAccepted   BookingStatus = "accepted"
	StatusScheduled  BookingStatus = "scheduled"
	StatusArrived    BookingStatus = "arrived"
	StatusInProgress BookingStatus = "in-progress"
	StatusCompleted  BookingStatus = "completed"
	StatusRejected   BookingStatus = "rejected"
)

// Terminal reports whether a booking can never leave this status.
func (s BookingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Booking is the unit of work: one requested service occurrence tying a
// customer to a provider. Created once by the customer, then mutated only
// through state-machine transitions.
type Booking struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	ProviderID string `json:"provider_id"`

	// Local wall-clock schedule as entered upstream; parsed leniently.
	ScheduledDate string `json:"scheduled_date"`
	ScheduledTime string `json:"scheduled_time"`

	// Service destination, fixed at creation.
	Service Coord `json:"service_coordinates"`

	Status       BookingStatus `json:"status"`
	RejectReason string        `json:"reject_reason,omitempty"`

	// Arrival verification. The code itself is exchanged out-of-band and
	// never serialized to clients.
	ArrivalOTP    string     `json:"-"`
	OTPIssued     bool       `json:"otp_issued"`
	OTPAttempts   int        `json:"-"`
	OTPIssuedAt   *time.Time `json:"otp_issued_at,omitempty"`
	OTPVerifiedAt *time.Time `json:"otp_verified_at,omitempty"`

	// Opaque payload; the tracker never interprets these.
	ServiceType string  `json:"service_type,omitempty"`
	Address     string  `json:"address,omitempty"`
	Price       float64 `json:"price,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LiveLocation is a provider's most recently reported device coordinate.
// Owned exclusively by that provider's publisher; everyone else only reads.
type LiveLocation struct {
	ProviderID string    `json:"provider_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (l LiveLocation) Coord() Coord { return Coord{Lat: l.Lat, Lng: l.Lng} }

type RouteConfidence string

const (
	ConfidenceRoad     RouteConfidence = "road"
	ConfidenceFallback RouteConfidence = "fallback"
)

// RouteSnapshot is a derived estimate of the path between two coordinates.
// Recomputed on a cadence, never persisted.
type RouteSnapshot struct {
	DistanceMeters  float64         `json:"distance_meters"`
	DurationSeconds float64         `json:"duration_seconds"`
	Points          []Coord         `json:"polyline_points"`
	Confidence      RouteConfidence `json:"confidence"`
	ComputedAt      time.Time       `json:"computed_at"`
}
