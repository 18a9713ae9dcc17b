package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/fulfillment-tracker/internal/models"
	"github.com/example/fulfillment-tracker/internal/storage"
)

func newTestMachine(t *testing.T, status models.BookingStatus) (*Machine, *storage.MemoryStore, *models.Booking) {
	t.Helper()
	store := storage.NewMemoryStore()
	b := &models.Booking{
		ID:            "bk1",
		CustomerID:    "cust1",
		ProviderID:    "prov1",
		ScheduledDate: "2025-03-14",
		ScheduledTime: "10:00",
		Service:       models.Coord{Lat: 12.9716, Lng: 77.5946},
		Status:        status,
		CreatedAt:     time.Now(),
	}
	if err := store.Create(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	m := NewMachine(store, 15*time.Minute, 5)
	m.Location = time.UTC
	return m, store, b
}

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestAcceptFarInFutureSchedules(t *testing.T) {
	m, _, _ := newTestMachine(t, models.StatusPending)
	// 40 minutes before the scheduled moment
	m.Now = fixedNow(time.Date(2025, 3, 14, 9, 20, 0, 0, time.UTC))
	b, err := m.Accept(context.Background(), "bk1")
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != models.StatusScheduled {
		t.Fatalf("expected scheduled, got %s", b.Status)
	}
}

func TestAcceptWithinWindowStartsImmediately(t *testing.T) {
	m, _, _ := newTestMachine(t, models.StatusPending)
	m.Now = fixedNow(time.Date(2025, 3, 14, 9, 50, 0, 0, time.UTC))
	b, err := m.Accept(context.Background(), "bk1")
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != models.StatusInProgress {
		t.Fatalf("expected in-progress, got %s", b.Status)
	}
}

func TestAcceptPastScheduleStartsImmediately(t *testing.T) {
	m, _, _ := newTestMachine(t, models.StatusPending)
	m.Now = fixedNow(time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC))
	b, err := m.Accept(context.Background(), "bk1")
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != models.StatusInProgress {
		t.Fatalf("expected in-progress, got %s", b.Status)
	}
}

func TestAcceptFromNonPendingFails(t *testing.T) {
	m, _, _ := newTestMachine(t, models.StatusScheduled)
	if _, err := m.Accept(context.Background(), "bk1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRejectRecordsReason(t *testing.T) {
	m, _, _ := newTestMachine(t, models.StatusPending)
	b, err := m.Reject(context.Background(), "bk1", "fully booked")
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != models.StatusRejected || b.RejectReason != "fully booked" {
		t.Fatalf("unexpected booking after reject: %+v", b)
	}
	// terminal: nothing else is allowed
	if _, err := m.Accept(context.Background(), "bk1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after reject, got %v", err)
	}
	if _, err := m.MarkArrived(context.Background(), "bk1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after reject, got %v", err)
	}
}

func TestMarkArrivedIdempotent(t *testing.T) {
	m, _, _ := newTestMachine(t, models.StatusScheduled)
	b, err := m.MarkArrived(context.Background(), "bk1")
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != models.StatusArrived {
		t.Fatalf("expected arrived, got %s", b.Status)
	}
	// second call is a no-op, not an error
	b, err = m.MarkArrived(context.Background(), "bk1")
	if err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if b.Status != models.StatusArrived {
		t.Fatalf("expected arrived, got %s", b.Status)
	}
}

func TestVerifyAndStart(t *testing.T) {
	m, store, _ := newTestMachine(t, models.StatusArrived)
	ctx := context.Background()
	if err := store.SetOTP(ctx, "bk1", "123456", time.Now()); err != nil {
		t.Fatal(err)
	}

	// wrong code leaves state unchanged
	if _, err := m.VerifyAndStart(ctx, "bk1", "000000"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}
	b, _ := store.Get(ctx, "bk1")
	if b.Status != models.StatusArrived {
		t.Fatalf("state changed on mismatch: %s", b.Status)
	}

	// correct code starts the service
	b, err := m.VerifyAndStart(ctx, "bk1", "123456")
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != models.StatusInProgress {
		t.Fatalf("expected in-progress, got %s", b.Status)
	}
	if b.OTPVerifiedAt == nil {
		t.Fatal("otp_verified_at not stamped")
	}
}

func TestVerifyAttemptCap(t *testing.T) {
	m, store, _ := newTestMachine(t, models.StatusArrived)
	m.OTPMaxAttempts = 3
	ctx := context.Background()
	if err := store.SetOTP(ctx, "bk1", "123456", time.Now()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.VerifyAndStart(ctx, "bk1", "000000"); !errors.Is(err, ErrInvalidOTP) {
			t.Fatalf("attempt %d: expected ErrInvalidOTP, got %v", i+1, err)
		}
	}
	// even the correct code is refused once the cap is hit
	if _, err := m.VerifyAndStart(ctx, "bk1", "123456"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
}

func TestVerifyFromWrongStateFails(t *testing.T) {
	m, _, _ := newTestMachine(t, models.StatusScheduled)
	if _, err := m.VerifyAndStart(context.Background(), "bk1", "123456"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCompleteOnlyFromInProgress(t *testing.T) {
	m, _, _ := newTestMachine(t, models.StatusArrived)
	if _, err := m.Complete(context.Background(), "bk1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

// Full lifecycle: pending → scheduled → arrived → in-progress → completed,
// never shortcutting.
func TestHappyPath(t *testing.T) {
	m, store, _ := newTestMachine(t, models.StatusPending)
	ctx := context.Background()
	m.Now = fixedNow(time.Date(2025, 3, 14, 9, 20, 0, 0, time.UTC))

	b, err := m.Accept(ctx, "bk1")
	if err != nil || b.Status != models.StatusScheduled {
		t.Fatalf("accept: %v status=%v", err, b)
	}
	// completing now would shortcut the lifecycle
	if _, err := m.Complete(ctx, "bk1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected shortcut to fail, got %v", err)
	}
	if b, err = m.MarkArrived(ctx, "bk1"); err != nil || b.Status != models.StatusArrived {
		t.Fatalf("markArrived: %v", err)
	}
	if err := store.SetOTP(ctx, "bk1", "654321", time.Now()); err != nil {
		t.Fatal(err)
	}
	if b, err = m.VerifyAndStart(ctx, "bk1", "654321"); err != nil || b.Status != models.StatusInProgress {
		t.Fatalf("verify: %v", err)
	}
	if b, err = m.Complete(ctx, "bk1"); err != nil || b.Status != models.StatusCompleted {
		t.Fatalf("complete: %v", err)
	}
}
