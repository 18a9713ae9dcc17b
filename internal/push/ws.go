package push

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/fulfillment-tracker/internal/models"
)

// Frame is one message pushed to a tracking viewer.
type Frame struct {
	Type     string                `json:"type"` // "location", "route" or "status"
	Location *models.LiveLocation  `json:"location,omitempty"`
	Route    *models.RouteSnapshot `json:"route,omitempty"`
	Status   models.BookingStatus  `json:"status,omitempty"`
}

func LocationFrame(l models.LiveLocation) Frame { return Frame{Type: "location", Location: &l} }
func RouteFrame(r models.RouteSnapshot) Frame   { return Frame{Type: "route", Route: &r} }
func StatusFrame(s models.BookingStatus) Frame  { return Frame{Type: "status", Status: s} }

// Viewer is one connected tracking socket.
type Viewer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (v *Viewer) Send(f Frame) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conn.WriteJSON(f)
}

// Registry holds the open viewer sockets per booking so lifecycle
// transitions made over REST still reach everyone watching.
type Registry struct {
	mu      sync.RWMutex
	viewers map[string]map[int]*Viewer
	nextID  int
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{viewers: make(map[string]map[int]*Viewer), logger: logger}
}

// Add registers a socket under a booking and returns its viewer handle and
// a remove function.
func (r *Registry) Add(bookingID string, conn *websocket.Conn) (*Viewer, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	v := &Viewer{conn: conn}
	if r.viewers[bookingID] == nil {
		r.viewers[bookingID] = make(map[int]*Viewer)
	}
	r.viewers[bookingID][id] = v
	remove := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.viewers[bookingID], id)
	}
	return v, remove
}

// Broadcast sends a frame to every viewer of a booking, best-effort.
func (r *Registry) Broadcast(bookingID string, f Frame) {
	r.mu.RLock()
	vs := make([]*Viewer, 0, len(r.viewers[bookingID]))
	for _, v := range r.viewers[bookingID] {
		vs = append(vs, v)
	}
	r.mu.RUnlock()
	for _, v := range vs {
		if err := v.Send(f); err != nil && r.logger != nil {
			r.logger.Debug("ws send failed", "booking_id", bookingID, "error", err)
		}
	}
}
