// Package booking is the booking state machine and ride lifecycle. Every
// mutation goes through a conditional store operation keyed on the expected
// prior status; notifications are emitted only after a transition commits.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/rideshare/internal/apperrors"
	"github.com/example/rideshare/internal/geo"
	"github.com/example/rideshare/internal/matcher"
	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/observability"
	"github.com/example/rideshare/internal/routing"
	"github.com/example/rideshare/internal/settlement"
	"github.com/example/rideshare/internal/stats"
	"github.com/example/rideshare/internal/storage"
	"github.com/example/rideshare/internal/verification"
)

// SystemActor is recorded in history for transitions nobody asked for.
const SystemActor = "system"

var errNoGateway = errors.New("card payments are not configured")

// PaymentGateway places and settles card holds.
type PaymentGateway interface {
	Hold(ctx context.Context, bookingID string, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, intentID string) error
	Cancel(ctx context.Context, intentID string) error
	Refund(ctx context.Context, intentID string, amount int64) error
}

type Notifier interface {
	Notify(ctx context.Context, ev models.Event, to models.Audience) error
}

type Service struct {
	Store       storage.Store
	Index       geo.RideIndex      // optional
	Routes      *routing.Estimator // optional
	Stats       stats.Recorder     // optional
	Payments    PaymentGateway     // required for CARD bookings
	Notifier    Notifier           // optional
	Pricing     settlement.Policy
	Codes       verification.Generator
	ThresholdKm float64
	IndexStepKm float64 // spacing of indexed route points
	Logger      *slog.Logger
	Clock       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) threshold() float64 {
	if s.ThresholdKm <= 0 {
		return matcher.DefaultThresholdKm
	}
	return s.ThresholdKm
}

func (s *Service) emit(ctx context.Context, ev models.Event, users ...string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(ctx, ev, models.Audience{UserIDs: users}); err != nil {
		s.logger().Warn("notify failed", "event", ev.Type, "booking_id", ev.BookingID, "ride_id", ev.RideID, "error", err)
	}
}

func bookingEvent(typ string, b *models.Booking) models.Event {
	return models.Event{Type: typ, RideID: b.RideID, BookingID: b.ID, Status: string(b.Status), At: b.UpdatedAt}
}

func (s *Service) loadBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.Store.GetBooking(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NotFound("booking", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load booking %s: %w", id, err)
	}
	return b, nil
}

func (s *Service) loadRide(ctx context.Context, id string) (*models.Ride, error) {
	r, err := s.Store.GetRide(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NotFound("ride", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load ride %s: %w", id, err)
	}
	return r, nil
}

// transition applies t and maps a failed guard to INVALID_STATE carrying the
// booking as it is now.
func (s *Service) transition(ctx context.Context, id, action string, t storage.BookingTransition) (*models.Booking, error) {
	if t.At.IsZero() {
		t.At = s.now()
	}
	b, err := s.Store.TransitionBooking(ctx, id, t)
	switch {
	case err == nil:
		observability.BookingTransitions.WithLabelValues(string(t.To)).Inc()
		return b, nil
	case errors.Is(err, storage.ErrStatusConflict) && b != nil:
		return nil, apperrors.InvalidState(action, b.Status, b)
	case errors.Is(err, storage.ErrNotFound):
		return nil, apperrors.NotFound("booking", id)
	}
	return nil, fmt.Errorf("%s booking %s: %w", action, id, err)
}

func requireDriver(b *models.Booking, actor string) error {
	if actor == "" || actor != b.DriverID {
		return apperrors.Unauthorized("only the ride's driver may do this")
	}
	return nil
}

func requirePassenger(b *models.Booking, actor string) error {
	if actor == "" || actor != b.PassengerID {
		return apperrors.Unauthorized("only the booking's passenger may do this")
	}
	return nil
}

func requireParty(b *models.Booking, actor string) error {
	if actor == "" || (actor != b.DriverID && actor != b.PassengerID) {
		return apperrors.Unauthorized("actor is neither the driver nor the passenger of this booking")
	}
	return nil
}

func strPtr(s string) *string { return &s }
