package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/rideshare/internal/apperrors"
	"github.com/example/rideshare/internal/booking"
	"github.com/example/rideshare/internal/dispatch"
	"github.com/example/rideshare/internal/matcher"
	"github.com/example/rideshare/internal/models"
)

type Server struct {
	Bookings *booking.Service
	Search   *matcher.Service
	WSReg    *dispatch.WSRegistry // optional
	Auth     *Authenticator
	logger   *slog.Logger
	validate *validator.Validate
	mux      *mux.Router
}

func NewServer(bookings *booking.Service, search *matcher.Service, ws *dispatch.WSRegistry, auth *Authenticator, logger *slog.Logger) *Server {
	if auth == nil {
		auth = &Authenticator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Bookings: bookings,
		Search:   search,
		WSReg:    ws,
		Auth:     auth,
		logger:   logger,
		validate: validator.New(),
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/rides", s.handleCreateRide).Methods("POST")
	api.HandleFunc("/rides", s.handleListRides).Methods("GET")
	api.HandleFunc("/rides/search", s.handleSearch).Methods("POST")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id}/bookings", s.handleRideBookings).Methods("GET")
	api.HandleFunc("/rides/{id}/start", s.handleStartRide).Methods("POST")
	api.HandleFunc("/rides/{id}/close", s.handleCloseRide).Methods("POST")
	api.HandleFunc("/rides/{id}/cancel", s.handleCancelRide).Methods("POST")

	api.HandleFunc("/drivers/{id}/stats", s.handleDriverStats).Methods("GET")

	api.HandleFunc("/bookings", s.handleCreateBooking).Methods("POST")
	api.HandleFunc("/bookings", s.handleListBookings).Methods("GET")
	api.HandleFunc("/bookings/{id}", s.handleGetBooking).Methods("GET")
	api.HandleFunc("/bookings/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/bookings/{id}/reject", s.handleReject).Methods("POST")
	api.HandleFunc("/bookings/{id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/bookings/{id}/verify-pickup", s.handleVerifyPickup).Methods("POST")
	api.HandleFunc("/bookings/{id}/verify-dropoff", s.handleVerifyDropoff).Methods("POST")
	api.HandleFunc("/bookings/{id}/confirm-payment", s.handleConfirmPayment).Methods("POST")
	api.HandleFunc("/bookings/{id}/no-show", s.handleNoShow).Methods("POST")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

var upgrader = websocket.Upgrader{}

// handleWS subscribes the caller to live booking events.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.WSReg == nil {
		http.Error(w, "live updates disabled", http.StatusNotFound)
		return
	}
	actor, err := s.Auth.Actor(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied
	}
	s.WSReg.Add(actor.ID, conn)
	go func() {
		defer s.WSReg.Remove(actor.ID, conn)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	Current any    `json:"current,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError answers with the error's code and, when known, the entity's
// current state so the client can reconcile.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	ae, ok := apperrors.As(err)
	if !ok || status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{Code: "INTERNAL", Message: "internal error"}})
		return
	}
	d := errorDetail{Code: string(ae.Code), Message: ae.Error(), Reason: ae.Reason}
	switch cur := ae.Current.(type) {
	case *models.Booking:
		if cur != nil {
			d.Current = redact(cur, actorFrom(r.Context()).ID)
		}
	case *models.Ride:
		if cur != nil {
			d.Current = cur
		}
	}
	writeJSON(w, status, errorBody{Error: d})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		// bodies are optional on action endpoints
		if err := s.validate.Struct(dst); err != nil {
			s.writeError(w, r, apperrors.InvalidInput(err.Error()))
			return false
		}
		return true
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, apperrors.InvalidInput("malformed JSON: "+err.Error()))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			s.writeError(w, r, apperrors.InvalidInput(verrs[0].Namespace()+" failed "+verrs[0].Tag()))
			return false
		}
		s.writeError(w, r, apperrors.InvalidInput(err.Error()))
		return false
	}
	return true
}

// redact hides verification codes from everyone but the passenger; the
// driver learns a code only from the passenger at the checkpoint.
func redact(b *models.Booking, viewer string) *models.Booking {
	if viewer == b.PassengerID {
		return b
	}
	c := b.Clone()
	if c.PickupCode != nil {
		c.PickupCode.Code = ""
	}
	if c.DropoffCode != nil {
		c.DropoffCode.Code = ""
	}
	return c
}

func redactAll(list []*models.Booking, viewer string) []*models.Booking {
	out := make([]*models.Booking, len(list))
	for i, b := range list {
		out[i] = redact(b, viewer)
	}
	return out
}
