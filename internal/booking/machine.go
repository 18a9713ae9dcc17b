// Package booking owns the canonical lifecycle of a booking. Every
// transition is validated against its source state through a compare-and-set
// on the store, so duplicate or out-of-order client actions surface as
// errors instead of corrupting status.
package booking

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/example/fulfillment-tracker/internal/models"
	"github.com/example/fulfillment-tracker/internal/observability"
	"github.com/example/fulfillment-tracker/internal/schedule"
	"github.com/example/fulfillment-tracker/internal/storage"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidOTP        = errors.New("invalid otp")
	ErrTooManyAttempts   = errors.New("too many otp attempts")
)

// Machine applies lifecycle transitions against a BookingStore.
type Machine struct {
	Store storage.BookingStore

	// AcceptImmediateWindow is how close the scheduled moment must be for
	// accept to jump straight to in-progress.
	AcceptImmediateWindow time.Duration
	OTPMaxAttempts        int
	Location              *time.Location
	Now                   func() time.Time
}

func NewMachine(store storage.BookingStore, immediateWindow time.Duration, otpMaxAttempts int) *Machine {
	return &Machine{
		Store:                 store,
		AcceptImmediateWindow: immediateWindow,
		OTPMaxAttempts:        otpMaxAttempts,
		Now:                   time.Now,
	}
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Accept moves a pending booking to scheduled, or directly to in-progress
// when the scheduled moment is within the immediate window or already past.
func (m *Machine) Accept(ctx context.Context, id string) (*models.Booking, error) {
	b, err := m.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusPending {
		observability.InvalidTransitionsTotal.Inc()
		return nil, fmt.Errorf("%w: accept from %q", ErrInvalidTransition, b.Status)
	}

	target := models.StatusScheduled
	if at, err := schedule.Parse(b.ScheduledDate, b.ScheduledTime, m.Location); err == nil {
		if at.Sub(m.now()) <= m.AcceptImmediateWindow {
			target = models.StatusInProgress
		}
	}

	return m.transition(ctx, id, []models.BookingStatus{models.StatusPending}, storage.StatusUpdate{To: target}, "accept")
}

// Reject is valid from pending or scheduled and records an optional reason.
func (m *Machine) Reject(ctx context.Context, id, reason string) (*models.Booking, error) {
	upd := storage.StatusUpdate{To: models.StatusRejected}
	if reason != "" {
		upd.RejectReason = &reason
	}
	return m.transition(ctx, id,
		[]models.BookingStatus{models.StatusPending, models.StatusScheduled},
		upd, "reject")
}

// MarkArrived records proximity-confirmed arrival. Calling it again while
// already arrived is a no-op, not an error.
func (m *Machine) MarkArrived(ctx context.Context, id string) (*models.Booking, error) {
	from := []models.BookingStatus{models.StatusAccepted, models.StatusScheduled, models.StatusInProgress}
	b, err := m.Store.TransitionStatus(ctx, id, from, storage.StatusUpdate{To: models.StatusArrived})
	if err == nil {
		observability.TransitionsTotal.WithLabelValues(string(models.StatusArrived)).Inc()
		return b, nil
	}
	if errors.Is(err, storage.ErrStaleStatus) {
		cur, gerr := m.Store.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if cur.Status == models.StatusArrived {
			return cur, nil
		}
		observability.InvalidTransitionsTotal.Inc()
		return nil, fmt.Errorf("%w: markArrived from %q", ErrInvalidTransition, cur.Status)
	}
	return nil, err
}

// VerifyAndStart compares the submitted code against the issued arrival OTP
// and, on match, starts the service. Attempts are capped per booking.
func (m *Machine) VerifyAndStart(ctx context.Context, id, code string) (*models.Booking, error) {
	b, err := m.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusArrived {
		observability.InvalidTransitionsTotal.Inc()
		return nil, fmt.Errorf("%w: verify from %q", ErrInvalidTransition, b.Status)
	}

	attempts, err := m.Store.IncrementOTPAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.OTPMaxAttempts > 0 && attempts > m.OTPMaxAttempts {
		observability.OTPVerifyTotal.WithLabelValues("capped").Inc()
		return nil, ErrTooManyAttempts
	}

	if b.ArrivalOTP == "" || subtle.ConstantTimeCompare([]byte(code), []byte(b.ArrivalOTP)) != 1 {
		observability.OTPVerifyTotal.WithLabelValues("mismatch").Inc()
		return nil, ErrInvalidOTP
	}

	verifiedAt := m.now()
	out, err := m.transition(ctx, id,
		[]models.BookingStatus{models.StatusArrived},
		storage.StatusUpdate{To: models.StatusInProgress, OTPVerifiedAt: &verifiedAt}, "verify")
	if err == nil {
		observability.OTPVerifyTotal.WithLabelValues("ok").Inc()
	}
	return out, err
}

// Complete finishes an in-progress booking.
func (m *Machine) Complete(ctx context.Context, id string) (*models.Booking, error) {
	return m.transition(ctx, id,
		[]models.BookingStatus{models.StatusInProgress},
		storage.StatusUpdate{To: models.StatusCompleted}, "complete")
}

func (m *Machine) transition(ctx context.Context, id string, from []models.BookingStatus, upd storage.StatusUpdate, op string) (*models.Booking, error) {
	b, err := m.Store.TransitionStatus(ctx, id, from, upd)
	if errors.Is(err, storage.ErrStaleStatus) {
		observability.InvalidTransitionsTotal.Inc()
		cur, gerr := m.Store.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("%w: %s from %q", ErrInvalidTransition, op, cur.Status)
	}
	if err != nil {
		return nil, err
	}
	observability.TransitionsTotal.WithLabelValues(string(upd.To)).Inc()
	return b, nil
}
