package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/fulfillment-tracker/internal/arrival"
	"github.com/example/fulfillment-tracker/internal/booking"
	"github.com/example/fulfillment-tracker/internal/config"
	"github.com/example/fulfillment-tracker/internal/ingest"
	"github.com/example/fulfillment-tracker/internal/location"
	"github.com/example/fulfillment-tracker/internal/logging"
	"github.com/example/fulfillment-tracker/internal/models"
	"github.com/example/fulfillment-tracker/internal/push"
	"github.com/example/fulfillment-tracker/internal/route"
	"github.com/example/fulfillment-tracker/internal/session"
	"github.com/example/fulfillment-tracker/internal/storage"
	"github.com/example/fulfillment-tracker/internal/visibility"
)

type Server struct {
	cfg config.ServerConfig

	store      storage.BookingStore
	locations  location.Store
	resolver   route.Resolver
	routeCache *route.Cache
	machine    *booking.Machine
	gate       *visibility.Gate
	kafka      *ingest.KafkaProducer
	registry   *push.Registry

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires explicit dependencies; NewServerFromConfig picks
// implementations from configuration.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, store storage.BookingStore, locations location.Store, resolver route.Resolver, kafka *ingest.KafkaProducer) *Server {
	machine := booking.NewMachine(store, cfg.AcceptImmediateWindow, cfg.OTPMaxAttempts)
	gate := visibility.NewGate(cfg.VisibilityLeadMinutes, cfg.VisibilityFailClosed)
	s := &Server{
		cfg:        cfg,
		store:      store,
		locations:  locations,
		resolver:   resolver,
		routeCache: route.NewCache(cfg.RecomputeInterval),
		machine:    machine,
		gate:       gate,
		kafka:      kafka,
		registry:   push.NewRegistry(logging.With(logger, "push")),
		logger:     logging.With(logger, "http"),
		mux:        mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func NewServerFromConfig(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var store storage.BookingStore
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Error("postgres unavailable, using memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	var locs location.Store
	if cfg.RedisAddr != "" {
		locs = location.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
	} else {
		locs = location.NewMemoryStore()
	}

	resolver := route.NewChain(cfg.RouteProviders, cfg.RouteTimeout, cfg.FallbackSpeedKmh)

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	return NewServer(cfg, logger, store, locs, resolver, kp)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/bookings", s.handleCreateBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}", s.handleGetBooking).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/reject", s.handleReject).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/otp/manual", s.handleManualOTP).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/otp/verify", s.handleVerifyOTP).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/visibility", s.handleVisibility).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{id}/route", s.handleRoute).Methods("GET")
	s.mux.HandleFunc("/internal/provider/locations", s.handleProviderLocation).Methods("POST")
	s.mux.HandleFunc("/ws/bookings/{id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createBookingRequest struct {
	CustomerID    string       `json:"customer_id"`
	ProviderID    string       `json:"provider_id"`
	ScheduledDate string       `json:"scheduled_date"`
	ScheduledTime string       `json:"scheduled_time"`
	Service       models.Coord `json:"service_coordinates"`
	ServiceType   string       `json:"service_type"`
	Address       string       `json:"address"`
	Price         float64      `json:"price"`
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.CustomerID == "" || req.ProviderID == "" {
		http.Error(w, "customer_id and provider_id are required", http.StatusBadRequest)
		return
	}
	now := time.Now()
	b := &models.Booking{
		ID:            uuid.NewString(),
		CustomerID:    req.CustomerID,
		ProviderID:    req.ProviderID,
		ScheduledDate: req.ScheduledDate,
		ScheduledTime: req.ScheduledTime,
		Service:       req.Service,
		Status:        models.StatusPending,
		ServiceType:   req.ServiceType,
		Address:       req.Address,
		Price:         req.Price,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(r.Context(), b); err != nil {
		s.logger.Error("create booking failed", "error", err)
		http.Error(w, "could not create booking", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, err := s.machine.Accept(r.Context(), id)
	if err != nil {
		s.writeMachineError(w, err)
		return
	}
	s.registry.Broadcast(id, push.StatusFrame(b.Status))
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	b, err := s.machine.Reject(r.Context(), id, req.Reason)
	if err != nil {
		s.writeMachineError(w, err)
		return
	}
	s.registry.Broadcast(id, push.StatusFrame(b.Status))
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.machine.VerifyAndStart(r.Context(), id, req.Code)
	if err != nil {
		s.writeMachineError(w, err)
		return
	}
	s.registry.Broadcast(id, push.StatusFrame(b.Status))
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, err := s.machine.Complete(r.Context(), id)
	if err != nil {
		s.writeMachineError(w, err)
		return
	}
	s.registry.Broadcast(id, push.StatusFrame(b.Status))
	writeJSON(w, http.StatusOK, b)
}

// handleManualOTP lets the provider force issuance when automatic
// detection under-fires. The position used is the stored live location,
// not client-posted coordinates, so proximity cannot be spoofed.
func (s *Server) handleManualOTP(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	loc, err := s.locations.Get(r.Context(), b.ProviderID)
	if err != nil {
		http.Error(w, "no live location reported yet", http.StatusConflict)
		return
	}
	v := &arrival.Verifier{
		BookingID:           b.ID,
		Dest:                b.Service,
		Machine:             s.machine,
		Store:               s.store,
		Locations:           s.locations,
		ArrivalRadiusMeters: s.cfg.ArrivalRadiusMeters,
		ManualRadiusMeters:  s.cfg.ManualOTPRadiusMeters,
	}
	if err := v.RequestManual(r.Context(), loc); err != nil {
		if errors.Is(err, arrival.ErrNotCloseEnough) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.writeMachineError(w, err)
		return
	}
	s.registry.Broadcast(id, push.StatusFrame(models.StatusArrived))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.gate.Decide(roleFrom(r), b, time.Now()))
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if d := s.gate.Decide(roleFrom(r), b, time.Now()); !d.Allowed {
		http.Error(w, d.Reason, http.StatusForbidden)
		return
	}
	loc, err := s.locations.Get(r.Context(), b.ProviderID)
	if err != nil {
		http.Error(w, "waiting for provider location", http.StatusConflict)
		return
	}
	from := loc.Coord()
	if snap, ok := s.routeCache.Get(from, b.Service); ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	// a routing outage still yields a usable straight-line snapshot
	snap, _ := s.resolver.Resolve(r.Context(), from, b.Service)
	s.routeCache.Set(from, b.Service, snap)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleProviderLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.LiveLocation
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if loc.ProviderID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}
	if loc.UpdatedAt.IsZero() {
		loc.UpdatedAt = time.Now()
	}
	// publish to kafka if configured; the store write keeps single-node
	// deployments live without the pipeline
	if s.kafka != nil {
		if err := s.kafka.PublishLocation(r.Context(), loc); err != nil {
			s.logger.Warn("kafka publish failed", "provider_id", loc.ProviderID, "error", err)
		}
	}
	if err := s.locations.Publish(r.Context(), loc); err != nil {
		s.logger.Error("location write failed", "provider_id", loc.ProviderID, "error", err)
		http.Error(w, "could not store location", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

// handleWS streams location and route frames for one booking view. The
// tracking session lives exactly as long as the socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	role := roleFrom(r)
	if d := s.gate.Decide(role, b, time.Now()); !d.Allowed {
		http.Error(w, d.Reason, http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	viewer, remove := s.registry.Add(id, conn)

	sess, err := session.Open(r.Context(), session.Config{
		Booking:             b,
		Role:                role,
		Locations:           s.locations,
		Resolver:            s.resolver,
		Machine:             s.machine,
		Store:               s.store,
		SubscriberDebounce:  s.cfg.SubscriberDebounce,
		RecomputeInterval:   s.cfg.RecomputeInterval,
		RetryMax:            s.cfg.RouteRetryMax,
		RetryBase:           s.cfg.RouteRetryBase,
		ArrivalRadiusMeters: s.cfg.ArrivalRadiusMeters,
		ManualRadiusMeters:  s.cfg.ManualOTPRadiusMeters,
		ArrivalPollInterval: s.cfg.ArrivalPollInterval,
		OnLocation:          func(l models.LiveLocation) { _ = viewer.Send(push.LocationFrame(l)) },
		OnRoute:             func(rt models.RouteSnapshot) { _ = viewer.Send(push.RouteFrame(rt)) },
	})
	if err != nil {
		s.logger.Error("session open failed", "booking_id", id, "error", err)
		remove()
		_ = conn.Close()
		return
	}

	// block on the read side to notice the peer going away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	sess.Close()
	remove()
	_ = conn.Close()
}

func roleFrom(r *http.Request) models.Role {
	if models.Role(r.URL.Query().Get("role")) == models.RoleProvider {
		return models.RoleProvider
	}
	return models.RoleCustomer
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "booking not found", http.StatusNotFound)
		return
	}
	s.logger.Error("store error", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (s *Server) writeMachineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, booking.ErrInvalidOTP):
		http.Error(w, "incorrect code", http.StatusForbidden)
	case errors.Is(err, booking.ErrTooManyAttempts):
		http.Error(w, "too many attempts", http.StatusTooManyRequests)
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "booking not found", http.StatusNotFound)
	default:
		s.logger.Error("transition failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
