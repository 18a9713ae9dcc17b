package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/fulfillment-tracker/internal/models"
)

var (
	// ErrNotFound means no booking exists under the given id.
	ErrNotFound = errors.New("booking not found")
	// ErrStaleStatus means a compare-and-set transition observed a status
	// outside the allowed source set. Duplicate or out-of-order client
	// actions land here instead of corrupting the record.
	ErrStaleStatus = errors.New("booking status changed concurrently")
)

// StatusUpdate carries the target status plus the optional fields a
// transition is allowed to touch. Nil pointers leave the stored value alone.
type StatusUpdate struct {
	To            models.BookingStatus
	RejectReason  *string
	OTPVerifiedAt *time.Time
}

// BookingStore defines persistence operations for bookings. Status and OTP
// writes are compare-and-set so that exactly one writer wins.
type BookingStore interface {
	Create(ctx context.Context, b *models.Booking) error
	Get(ctx context.Context, id string) (*models.Booking, error)

	// TransitionStatus applies upd iff the current status is in from.
	TransitionStatus(ctx context.Context, id string, from []models.BookingStatus, upd StatusUpdate) (*models.Booking, error)

	// ClaimOTP flips the per-booking single-shot issuance flag. It reports
	// false when the claim was already taken.
	ClaimOTP(ctx context.Context, id string) (bool, error)
	// ReleaseOTPClaim clears the flag after a failed issuance so the next
	// sample can retry.
	ReleaseOTPClaim(ctx context.Context, id string) error
	SetOTP(ctx context.Context, id, code string, issuedAt time.Time) error
	// IncrementOTPAttempts bumps and returns the verification attempt count.
	IncrementOTPAttempts(ctx context.Context, id string) (int, error)
}

// MemoryStore keeps bookings in-process. Used by tests and no-DSN runs.
type MemoryStore struct {
	mu       sync.RWMutex
	bookings map[string]*models.Booking
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bookings: make(map[string]*models.Booking)}
}

func (m *MemoryStore) Create(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) TransitionStatus(ctx context.Context, id string, from []models.BookingStatus, upd StatusUpdate) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !statusIn(b.Status, from) {
		return nil, ErrStaleStatus
	}
	b.Status = upd.To
	if upd.RejectReason != nil {
		b.RejectReason = *upd.RejectReason
	}
	if upd.OTPVerifiedAt != nil {
		b.OTPVerifiedAt = upd.OTPVerifiedAt
	}
	b.UpdatedAt = time.Now()
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ClaimOTP(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.OTPIssued {
		return false, nil
	}
	b.OTPIssued = true
	b.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) ReleaseOTPClaim(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return ErrNotFound
	}
	b.OTPIssued = false
	b.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SetOTP(ctx context.Context, id, code string, issuedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return ErrNotFound
	}
	b.ArrivalOTP = code
	b.OTPIssuedAt = &issuedAt
	b.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) IncrementOTPAttempts(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return 0, ErrNotFound
	}
	b.OTPAttempts++
	return b.OTPAttempts, nil
}

func statusIn(s models.BookingStatus, set []models.BookingStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
