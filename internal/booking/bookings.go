package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/rideshare/internal/apperrors"
	"github.com/example/rideshare/internal/matcher"
	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/observability"
	"github.com/example/rideshare/internal/storage"
)

type CreateBookingInput struct {
	PassengerID    string
	RideID         string
	Pickup         models.Place
	Dropoff        models.Place
	Seats          int
	PaymentMethod  models.PaymentMethod
	IdempotencyKey string
	CustomerID     string // card customer at the payment provider, optional
}

// CreateBooking reserves seats on a ride for a passenger whose trip the route
// serves. With an idempotency key a retry returns the booking created first.
// Bookings always start PENDING; nothing is auto-accepted.
func (s *Service) CreateBooking(ctx context.Context, in CreateBookingInput) (*models.Booking, error) {
	if in.PassengerID == "" {
		return nil, apperrors.Unauthorized("bookings are made by an authenticated passenger")
	}
	if in.Seats <= 0 {
		return nil, apperrors.InvalidInput("seats must be positive")
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = models.PaymentCash
	}
	if !in.PaymentMethod.Valid() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown payment method %q", in.PaymentMethod))
	}
	if in.IdempotencyKey != "" {
		prev, err := s.Store.FindBookingByIdempotencyKey(ctx, in.PassengerID, in.RideID, in.IdempotencyKey)
		if err == nil {
			return prev, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	ride, err := s.loadRide(ctx, in.RideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID == in.PassengerID {
		return nil, apperrors.InvalidInput("drivers cannot book their own ride")
	}
	if ride.Status != models.RideActive {
		return nil, apperrors.InvalidState("book ride", ride.Status, ride)
	}
	res, err := matcher.Match(matcher.Trip{Pickup: in.Pickup.Coord, Dropoff: in.Dropoff.Coord}, ride.Route.Points, s.threshold())
	if err != nil {
		reason, _ := matcher.Reason(err)
		if reason == matcher.InvalidGeometry {
			return nil, apperrors.GeometryInvalid(string(reason), err.Error())
		}
		return nil, apperrors.RouteMismatch(string(reason), err.Error(), ride)
	}
	if live, err := s.liveBooking(ctx, in.RideID, in.PassengerID); err != nil {
		return nil, err
	} else if live != nil {
		return nil, apperrors.DuplicateBooking(live)
	}

	left, err := s.Store.ReserveSeats(ctx, ride.ID, in.Seats)
	switch {
	case errors.Is(err, storage.ErrInsufficientSeats):
		observability.SeatConflicts.Inc()
		ride.AvailableSeats = left
		return nil, apperrors.CapacityExceeded(fmt.Sprintf("requested %d seats, %d available", in.Seats, left), ride)
	case errors.Is(err, storage.ErrStatusConflict):
		cur, lerr := s.loadRide(ctx, ride.ID)
		if lerr != nil {
			return nil, lerr
		}
		return nil, apperrors.InvalidState("book ride", cur.Status, cur)
	case errors.Is(err, storage.ErrNotFound):
		return nil, apperrors.NotFound("ride", ride.ID)
	case err != nil:
		return nil, fmt.Errorf("reserve seats: %w", err)
	}

	now := s.now()
	payment := s.Pricing.Quote(ride.PricePerSeat, in.Seats, in.PaymentMethod)
	if ride.Currency != "" {
		payment.Currency = ride.Currency
	}
	b := &models.Booking{
		ID:             uuid.NewString(),
		RideID:         ride.ID,
		PassengerID:    in.PassengerID,
		DriverID:       ride.DriverID,
		Seats:          in.Seats,
		Pickup:         models.Place{Coord: res.Pickup.Point, Address: in.Pickup.Address},
		Dropoff:        models.Place{Coord: res.Dropoff.Point, Address: in.Dropoff.Address},
		Status:         models.BookingPending,
		Payment:        payment,
		IdempotencyKey: in.IdempotencyKey,
		History:        []models.StatusChange{{Status: models.BookingPending, At: now, Actor: in.PassengerID}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if in.PaymentMethod == models.PaymentCard {
		if s.Payments == nil {
			s.release(ctx, ride.ID, in.Seats)
			return nil, apperrors.PaymentFailed(errNoGateway, nil)
		}
		intent, err := s.Payments.Hold(ctx, b.ID, payment.Total, payment.Currency, in.CustomerID)
		if err != nil {
			s.release(ctx, ride.ID, in.Seats)
			return nil, apperrors.PaymentFailed(err, nil)
		}
		b.Payment.IntentID = intent
		b.Payment.Status = models.PaymentAuthorized
	}

	if err := s.Store.InsertBooking(ctx, b); err != nil {
		s.release(ctx, ride.ID, in.Seats)
		if b.Payment.IntentID != "" {
			if cerr := s.Payments.Cancel(ctx, b.Payment.IntentID); cerr != nil {
				s.logger().Error("release card hold failed", "booking_id", b.ID, "intent_id", b.Payment.IntentID, "error", cerr)
			}
		}
		switch {
		case errors.Is(err, storage.ErrIdempotencyReplay):
			prev, ferr := s.Store.FindBookingByIdempotencyKey(ctx, in.PassengerID, in.RideID, in.IdempotencyKey)
			if ferr != nil {
				return nil, fmt.Errorf("idempotency lookup: %w", ferr)
			}
			return prev, nil
		case errors.Is(err, storage.ErrDuplicateBooking):
			live, _ := s.liveBooking(ctx, in.RideID, in.PassengerID)
			return nil, apperrors.DuplicateBooking(live)
		}
		return nil, fmt.Errorf("insert booking: %w", err)
	}

	observability.BookingsCreated.Inc()
	observability.BookingTransitions.WithLabelValues(string(models.BookingPending)).Inc()
	s.emit(ctx, bookingEvent(models.EventBookingRequested, b), b.DriverID)
	s.logger().Info("booking created", "booking_id", b.ID, "ride_id", b.RideID, "seats", b.Seats, "seats_left", left)
	return b, nil
}

func (s *Service) liveBooking(ctx context.Context, rideID, passengerID string) (*models.Booking, error) {
	live, err := s.Store.ListBookings(ctx, storage.BookingFilter{
		RideID:      rideID,
		PassengerID: passengerID,
		Statuses:    models.SeatHoldingStatuses,
		Limit:       1,
	})
	if err != nil {
		return nil, fmt.Errorf("live booking lookup: %w", err)
	}
	if len(live) == 0 {
		return nil, nil
	}
	return live[0], nil
}

// release undoes a reservation that never became a booking.
func (s *Service) release(ctx context.Context, rideID string, seats int) {
	if _, err := s.Store.ReleaseSeats(ctx, rideID, seats); err != nil {
		s.logger().Error("seat release failed", "ride_id", rideID, "seats", seats, "error", err)
	}
}

// GetBooking returns a booking to its driver or passenger.
func (s *Service) GetBooking(ctx context.Context, id, actor string) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParty(b, actor); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) PassengerBookings(ctx context.Context, passengerID string) ([]*models.Booking, error) {
	if passengerID == "" {
		return nil, apperrors.Unauthorized("missing actor")
	}
	return s.Store.ListBookings(ctx, storage.BookingFilter{PassengerID: passengerID})
}

func (s *Service) RideBookings(ctx context.Context, rideID, actor string) ([]*models.Booking, error) {
	if _, err := s.ownRide(ctx, rideID, actor); err != nil {
		return nil, err
	}
	return s.Store.ListBookings(ctx, storage.BookingFilter{RideID: rideID})
}

// Accept confirms a PENDING booking. A card hold is captured once the booking
// is confirmed.
func (s *Service) Accept(ctx context.Context, id, actor string) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireDriver(b, actor); err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, id, "accept", storage.BookingTransition{
		From:  []models.BookingStatus{models.BookingPending},
		To:    models.BookingConfirmed,
		Actor: actor,
	})
	if err != nil {
		return nil, err
	}
	if updated.Payment.Status == models.PaymentAuthorized {
		updated = s.capture(ctx, updated)
	}
	s.emit(ctx, bookingEvent(models.EventBookingAccepted, updated), updated.PassengerID)
	return updated, nil
}

// Reject declines a PENDING booking and returns its seats.
func (s *Service) Reject(ctx context.Context, id, actor, reason string) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireDriver(b, actor); err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, id, "reject", storage.BookingTransition{
		From:         []models.BookingStatus{models.BookingPending},
		To:           models.BookingRejected,
		Actor:        actor,
		Reason:       strPtr(reason),
		ReleaseSeats: true,
	})
	if err != nil {
		return nil, err
	}
	updated = s.settleReleased(ctx, updated, 100)
	s.emit(ctx, bookingEvent(models.EventBookingRejected, updated), updated.PassengerID)
	return updated, nil
}

// Cancel is the passenger withdrawing a PENDING or CONFIRMED booking. Paid
// bookings are refunded by how long remains until departure.
func (s *Service) Cancel(ctx context.Context, id, actor, reason string) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requirePassenger(b, actor); err != nil {
		return nil, err
	}
	ride, err := s.loadRide(ctx, b.RideID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	updated, err := s.transition(ctx, id, "cancel", storage.BookingTransition{
		From:         []models.BookingStatus{models.BookingPending, models.BookingConfirmed},
		To:           models.BookingCancelled,
		At:           now,
		Actor:        actor,
		Reason:       strPtr(reason),
		ReleaseSeats: true,
	})
	if err != nil {
		return nil, err
	}
	pct := refundPercent(ride.DepartureAt.Sub(now))
	updated = s.settleReleased(ctx, updated, pct)
	s.emit(ctx, bookingEvent(models.EventBookingCancelled, updated), updated.DriverID, updated.PassengerID)
	return updated, nil
}

// Expire ends a booking that timed out before pickup. It is the transition a
// scheduler calls; seats come back and any payment is returned in full.
func (s *Service) Expire(ctx context.Context, id, actor string) (*models.Booking, error) {
	if actor == "" {
		actor = SystemActor
	}
	return s.expire(ctx, id, actor, []models.BookingStatus{
		models.BookingPending, models.BookingConfirmed, models.BookingPickupPending,
	}, "expired")
}

func (s *Service) expire(ctx context.Context, id, actor string, from []models.BookingStatus, reason string) (*models.Booking, error) {
	updated, err := s.transition(ctx, id, "expire", storage.BookingTransition{
		From:         from,
		To:           models.BookingExpired,
		Actor:        actor,
		Reason:       strPtr(reason),
		ReleaseSeats: true,
	})
	if err != nil {
		return nil, err
	}
	updated = s.settleReleased(ctx, updated, 100)
	s.emit(ctx, bookingEvent(models.EventBookingExpired, updated), updated.DriverID, updated.PassengerID)
	s.completeRideIfDone(ctx, updated.RideID)
	return updated, nil
}

// ExpirePending expires PENDING bookings created before cutoff and returns
// how many it expired.
func (s *Service) ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := s.Store.ListBookings(ctx, storage.BookingFilter{
		Statuses:      []models.BookingStatus{models.BookingPending},
		CreatedBefore: cutoff,
		Limit:         limit,
	})
	if err != nil {
		return 0, fmt.Errorf("list stale bookings: %w", err)
	}
	n := 0
	for _, b := range stale {
		_, err := s.expire(ctx, b.ID, SystemActor, []models.BookingStatus{models.BookingPending}, "not accepted in time")
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidState) {
				continue // accepted or cancelled meanwhile
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// MarkNoShow records that the passenger never turned up for pickup.
func (s *Service) MarkNoShow(ctx context.Context, id, actor string) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireDriver(b, actor); err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, id, "mark no-show", storage.BookingTransition{
		From:         []models.BookingStatus{models.BookingPickupPending},
		To:           models.BookingNoShow,
		Actor:        actor,
		Reason:       strPtr("passenger did not show up"),
		ReleaseSeats: true,
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, bookingEvent(models.EventBookingNoShow, updated), updated.PassengerID)
	s.completeRideIfDone(ctx, updated.RideID)
	return updated, nil
}
