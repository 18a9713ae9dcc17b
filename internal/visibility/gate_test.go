package visibility

import (
	"strings"
	"testing"
	"time"

	"github.com/example/fulfillment-tracker/internal/models"
)

func scheduledBooking(status models.BookingStatus, at time.Time) *models.Booking {
	return &models.Booking{
		ID:            "bk1",
		Status:        status,
		ScheduledDate: at.Format("2006-01-02"),
		ScheduledTime: at.Format("15:04"),
	}
}

func newGate() *Gate {
	g := NewGate(30, false)
	g.Location = time.UTC
	return g
}

func TestUnderwayWaivesTimeRestriction(t *testing.T) {
	g := newGate()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	for _, st := range []models.BookingStatus{models.StatusInProgress, models.StatusArrived} {
		b := scheduledBooking(st, now.Add(10*time.Hour))
		for _, role := range []models.Role{models.RoleCustomer, models.RoleProvider} {
			if d := g.Decide(role, b, now); !d.Allowed {
				t.Fatalf("status=%s role=%s: expected allowed, got %+v", st, role, d)
			}
		}
	}
}

func TestProviderAlwaysAllowed(t *testing.T) {
	g := newGate()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	// scheduled far in the future, provider still allowed
	b := scheduledBooking(models.StatusScheduled, now.Add(48*time.Hour))
	if d := g.Decide(models.RoleProvider, b, now); !d.Allowed {
		t.Fatalf("expected provider allowed, got %+v", d)
	}
}

func TestCustomerLeadBoundary(t *testing.T) {
	g := newGate()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	// exactly 30 minutes out: allowed
	b := scheduledBooking(models.StatusScheduled, now.Add(30*time.Minute))
	if d := g.Decide(models.RoleCustomer, b, now); !d.Allowed {
		t.Fatalf("30m boundary: expected allowed, got %+v", d)
	}

	// exactly 31 minutes out: blocked with a wait
	b = scheduledBooking(models.StatusScheduled, now.Add(31*time.Minute))
	d := g.Decide(models.RoleCustomer, b, now)
	if d.Allowed {
		t.Fatal("31m: expected blocked")
	}
	if !strings.Contains(d.Reason, "1m") {
		t.Fatalf("expected remaining wait in reason, got %q", d.Reason)
	}
}

func TestWaitRenderedHoursAndMinutes(t *testing.T) {
	g := newGate()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	b := scheduledBooking(models.StatusScheduled, now.Add(3*time.Hour))
	d := g.Decide(models.RoleCustomer, b, now)
	if d.Allowed {
		t.Fatal("expected blocked")
	}
	if !strings.Contains(d.Reason, "2h 30m") {
		t.Fatalf("expected hours+minutes rendering, got %q", d.Reason)
	}
}

func TestBlockedStatusesHaveSpecificReasons(t *testing.T) {
	g := newGate()
	now := time.Now()
	cases := map[models.BookingStatus]string{
		models.StatusPending:   "accepted",
		models.StatusRejected:  "rejected",
		models.StatusCompleted: "completed",
	}
	for st, want := range cases {
		d := g.Decide(models.RoleCustomer, scheduledBooking(st, now), now)
		if d.Allowed || !strings.Contains(d.Reason, want) {
			t.Fatalf("status=%s: got %+v", st, d)
		}
	}
}

func TestMalformedSchedulePolicy(t *testing.T) {
	now := time.Now()
	b := &models.Booking{ID: "bk1", Status: models.StatusScheduled, ScheduledDate: "someday", ScheduledTime: "later"}

	open := newGate()
	if d := open.Decide(models.RoleCustomer, b, now); !d.Allowed || d.Reason == "" {
		t.Fatalf("fail-open: expected allowed with explanatory reason, got %+v", d)
	}

	closed := NewGate(30, true)
	closed.Location = time.UTC
	if d := closed.Decide(models.RoleCustomer, b, now); d.Allowed {
		t.Fatalf("fail-closed: expected blocked, got %+v", d)
	}
}
