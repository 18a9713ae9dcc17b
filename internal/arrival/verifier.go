// Package arrival watches the live distance between a provider and the
// booked service address and turns a proximity crossing into exactly one
// OTP issuance plus the arrived transition.
package arrival

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/example/fulfillment-tracker/internal/booking"
	"github.com/example/fulfillment-tracker/internal/geo"
	"github.com/example/fulfillment-tracker/internal/location"
	"github.com/example/fulfillment-tracker/internal/models"
	"github.com/example/fulfillment-tracker/internal/observability"
	"github.com/example/fulfillment-tracker/internal/storage"
)

// ErrNotCloseEnough rejects a manual OTP request made outside the override
// radius.
var ErrNotCloseEnough = errors.New("provider is not close enough to the service address")

// GenerateOTP produces a cryptographically random 6-digit code.
func GenerateOTP() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("otp generation: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Verifier monitors one booking. Check is driven by pushed location
// samples; Run is the independent safety-net poller for the case where no
// push ever lands. Both funnel into the same single-shot issuance claim on
// the booking record, so a reload or a second observing client cannot
// double-issue.
type Verifier struct {
	BookingID string
	Dest      models.Coord

	Machine   *booking.Machine
	Store     storage.BookingStore
	Locations location.Store

	ArrivalRadiusMeters float64
	ManualRadiusMeters  float64
	PollInterval        time.Duration

	mu   sync.Mutex
	done bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// prearrival statuses still eligible for the proximity trigger. A booking
// accepted inside the immediate window sits at in-progress while the
// provider is still travelling, so it stays eligible until the OTP claim
// is taken.
var prearrival = map[models.BookingStatus]bool{
	models.StatusAccepted:   true,
	models.StatusScheduled:  true,
	models.StatusInProgress: true,
}

// Start launches the safety-net poll loop.
func (v *Verifier) Start(ctx context.Context) {
	ctx, v.cancel = context.WithCancel(ctx)
	v.wg.Add(1)
	go v.run(ctx)
}

// Stop halts polling and waits for the loop; no issuance after Stop.
func (v *Verifier) Stop() {
	if v.cancel != nil {
		v.cancel()
	}
	v.wg.Wait()
}

// Done reports whether the verifier has finished its job (OTP issued or
// booking no longer eligible).
func (v *Verifier) Done() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.done
}

func (v *Verifier) finish() {
	v.mu.Lock()
	v.done = true
	v.mu.Unlock()
}

func (v *Verifier) run(ctx context.Context) {
	defer v.wg.Done()
	interval := v.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if v.Done() {
				return
			}
			loc, err := v.Locations.Get(ctx, v.providerID(ctx))
			if err != nil {
				continue
			}
			_ = v.Check(ctx, loc)
		}
	}
}

func (v *Verifier) providerID(ctx context.Context) string {
	b, err := v.Store.Get(ctx, v.BookingID)
	if err != nil {
		return ""
	}
	return b.ProviderID
}

// Check evaluates one location sample against the arrival radius.
func (v *Verifier) Check(ctx context.Context, loc models.LiveLocation) error {
	if v.Done() {
		return nil
	}
	if geo.Distance(loc.Coord(), v.Dest) > v.ArrivalRadiusMeters {
		return nil
	}
	return v.tryIssue(ctx)
}

// RequestManual is the provider-side override for when route-based
// detection under-fires: within the wider radius it reuses the exact same
// claim and issuance path.
func (v *Verifier) RequestManual(ctx context.Context, loc models.LiveLocation) error {
	if geo.Distance(loc.Coord(), v.Dest) > v.ManualRadiusMeters {
		return ErrNotCloseEnough
	}
	return v.tryIssue(ctx)
}

func (v *Verifier) tryIssue(ctx context.Context) error {
	b, err := v.Store.Get(ctx, v.BookingID)
	if err != nil {
		return err
	}
	if b.Status == models.StatusPending {
		// not accepted yet; keep watching
		return nil
	}
	if b.OTPIssued || !prearrival[b.Status] {
		v.finish()
		return nil
	}

	claimed, err := v.Store.ClaimOTP(ctx, v.BookingID)
	if err != nil {
		return err
	}
	if !claimed {
		// another observer won the race
		v.finish()
		return nil
	}

	code, err := GenerateOTP()
	if err != nil {
		return v.releaseAfter(ctx, err)
	}
	if err := v.Store.SetOTP(ctx, v.BookingID, code, time.Now()); err != nil {
		return v.releaseAfter(ctx, err)
	}
	if _, err := v.Machine.MarkArrived(ctx, v.BookingID); err != nil {
		return v.releaseAfter(ctx, err)
	}

	observability.OTPIssuedTotal.Inc()
	v.finish()
	return nil
}

// releaseAfter clears the single-shot claim so the next sample can retry;
// one transient store failure must never block issuance permanently.
func (v *Verifier) releaseAfter(ctx context.Context, cause error) error {
	observability.OTPIssueFailures.Inc()
	if rerr := v.Store.ReleaseOTPClaim(ctx, v.BookingID); rerr != nil {
		return errors.Join(cause, rerr)
	}
	return cause
}
