package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/rideshare/internal/apperrors"
	"github.com/example/rideshare/internal/booking"
	"github.com/example/rideshare/internal/models"
)

type createBookingRequest struct {
	RideID         string       `json:"ride_id" validate:"required"`
	Pickup         placeRequest `json:"pickup"`
	Dropoff        placeRequest `json:"dropoff"`
	Seats          int          `json:"seats" validate:"min=1,max=16"`
	PaymentMethod  string       `json:"payment_method" validate:"omitempty,oneof=CASH UPI CARD"`
	IdempotencyKey string       `json:"idempotency_key" validate:"max=128"`
	CustomerID     string       `json:"customer_id" validate:"max=128"`
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if !s.decode(w, r, &req) {
		return
	}
	in := booking.CreateBookingInput{
		PassengerID:    actorFrom(r.Context()).ID,
		RideID:         req.RideID,
		Pickup:         req.Pickup.place(),
		Dropoff:        req.Dropoff.place(),
		Seats:          req.Seats,
		PaymentMethod:  models.PaymentMethod(req.PaymentMethod),
		IdempotencyKey: req.IdempotencyKey,
		CustomerID:     req.CustomerID,
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	if !validCoord(in.Pickup.Coord) || !validCoord(in.Dropoff.Coord) {
		s.writeError(w, r, apperrors.InvalidInput("coordinates out of range"))
		return
	}
	b, err := s.Bookings.CreateBooking(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"booking": b, "auto_accepted": false})
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context()).ID
	list, err := s.Bookings.PassengerBookings(r.Context(), actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": redactAll(list, actor)})
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	s.bookingAction(w, r, func(ctx context.Context, id, actor string) (*models.Booking, error) {
		return s.Bookings.GetBooking(ctx, id, actor)
	})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.bookingAction(w, r, s.Bookings.Accept)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.bookingAction(w, r, func(ctx context.Context, id, actor string) (*models.Booking, error) {
		return s.Bookings.Reject(ctx, id, actor, req.Reason)
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.bookingAction(w, r, func(ctx context.Context, id, actor string) (*models.Booking, error) {
		return s.Bookings.Cancel(ctx, id, actor, req.Reason)
	})
}

type verifyRequest struct {
	Code string `json:"code" validate:"required,numeric,max=12"`
}

func (s *Server) handleVerifyPickup(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.bookingAction(w, r, func(ctx context.Context, id, actor string) (*models.Booking, error) {
		return s.Bookings.VerifyPickup(ctx, id, actor, req.Code)
	})
}

func (s *Server) handleVerifyDropoff(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.bookingAction(w, r, func(ctx context.Context, id, actor string) (*models.Booking, error) {
		return s.Bookings.VerifyDropoff(ctx, id, actor, req.Code)
	})
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	s.bookingAction(w, r, s.Bookings.ConfirmPayment)
}

func (s *Server) handleNoShow(w http.ResponseWriter, r *http.Request) {
	s.bookingAction(w, r, s.Bookings.MarkNoShow)
}

// bookingAction runs a single-booking operation for the caller and replies
// with the booking as the caller may see it.
func (s *Server) bookingAction(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id, actor string) (*models.Booking, error)) {
	actor := actorFrom(r.Context()).ID
	b, err := op(r.Context(), mux.Vars(r)["id"], actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redact(b, actor))
}
