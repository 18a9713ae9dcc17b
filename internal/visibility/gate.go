// Package visibility decides whether a viewer may currently see live
// tracking for a booking. Decide is pure: callers re-evaluate it on a timer
// to drive countdown displays.
package visibility

import (
	"fmt"
	"time"

	"github.com/example/fulfillment-tracker/internal/models"
	"github.com/example/fulfillment-tracker/internal/schedule"
)

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Gate holds the policy knobs. LeadMinutes is how early before the
// scheduled moment a customer may start watching. FailClosed flips the
// malformed-schedule policy from allow to block.
type Gate struct {
	LeadMinutes int
	FailClosed  bool
	Location    *time.Location
}

func NewGate(leadMinutes int, failClosed bool) *Gate {
	return &Gate{LeadMinutes: leadMinutes, FailClosed: failClosed}
}

// Decide evaluates the rules in a fixed order; the first match wins.
func (g *Gate) Decide(role models.Role, b *models.Booking, now time.Time) Decision {
	// Service underway: the time restriction is waived for both roles.
	if b.Status == models.StatusInProgress || b.Status == models.StatusArrived {
		return Decision{Allowed: true}
	}

	// Providers self-service-start regardless of schedule.
	if role == models.RoleProvider {
		return Decision{Allowed: true}
	}

	switch b.Status {
	case models.StatusAccepted, models.StatusScheduled:
		// fall through to the time check
	case models.StatusPending:
		return Decision{Reason: "booking has not been accepted yet"}
	case models.StatusRejected:
		return Decision{Reason: "booking was rejected"}
	case models.StatusCompleted:
		return Decision{Reason: "service is already completed"}
	default:
		return Decision{Reason: fmt.Sprintf("tracking is not available for status %q", b.Status)}
	}

	at, err := schedule.Parse(b.ScheduledDate, b.ScheduledTime, g.Location)
	if err != nil {
		if g.FailClosed {
			return Decision{Reason: "schedule could not be read; tracking blocked by policy"}
		}
		return Decision{Allowed: true, Reason: "schedule could not be read; tracking allowed by policy"}
	}

	wait := at.Sub(now) - time.Duration(g.LeadMinutes)*time.Minute
	if wait <= 0 {
		return Decision{Allowed: true}
	}
	return Decision{Reason: "tracking available in " + renderWait(wait)}
}

func renderWait(d time.Duration) string {
	mins := int(d.Round(time.Minute) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	if mins >= 60 {
		return fmt.Sprintf("%dh %dm", mins/60, mins%60)
	}
	return fmt.Sprintf("%dm", mins)
}
