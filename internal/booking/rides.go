package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/rideshare/internal/apperrors"
	"github.com/example/rideshare/internal/geo"
	"github.com/example/rideshare/internal/matcher"
	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/observability"
	"github.com/example/rideshare/internal/stats"
	"github.com/example/rideshare/internal/storage"
)

type CreateRideInput struct {
	DriverID        string
	VehicleID       string
	Origin          models.Place
	Destination     models.Place
	Route           []models.Coord
	DistanceMeters  float64
	DurationSeconds float64
	DepartureAt     time.Time
	Seats           int
	PricePerSeat    int64
	Currency        string
}

// CreateRide publishes a driver's trip and indexes its route for search.
func (s *Service) CreateRide(ctx context.Context, in CreateRideInput) (*models.Ride, error) {
	if in.DriverID == "" {
		return nil, apperrors.Unauthorized("rides are offered by an authenticated driver")
	}
	if len(in.Route) < 2 {
		return nil, apperrors.GeometryInvalid(string(matcher.InvalidGeometry), "route needs at least 2 points")
	}
	if in.Seats <= 0 {
		return nil, apperrors.InvalidInput("seats must be positive")
	}
	if in.PricePerSeat < 0 {
		return nil, apperrors.InvalidInput("price per seat cannot be negative")
	}
	now := s.now()
	if in.DepartureAt.IsZero() || in.DepartureAt.Before(now) {
		return nil, apperrors.InvalidInput("departure must be in the future")
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = strings.ToUpper(s.Pricing.Currency)
	}

	route := models.Route{
		Points:          append([]models.Coord(nil), in.Route...),
		DistanceMeters:  in.DistanceMeters,
		DurationSeconds: in.DurationSeconds,
	}
	if s.Routes != nil {
		if err := s.Routes.Fill(ctx, &route); err != nil {
			s.logger().Warn("route aggregates unavailable", "error", err)
		}
	}
	r := &models.Ride{
		ID:             uuid.NewString(),
		DriverID:       in.DriverID,
		VehicleID:      in.VehicleID,
		Origin:         in.Origin,
		Destination:    in.Destination,
		Route:          route,
		DepartureAt:    in.DepartureAt.UTC(),
		TotalSeats:     in.Seats,
		AvailableSeats: in.Seats,
		PricePerSeat:   in.PricePerSeat,
		Currency:       currency,
		Status:         models.RideActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Store.CreateRide(ctx, r); err != nil {
		return nil, fmt.Errorf("create ride: %w", err)
	}
	if err := s.indexRide(ctx, r); err != nil {
		// RebuildIndex at the next start puts the ride back
		s.logger().Warn("index ride failed", "ride_id", r.ID, "error", err)
	}
	s.logger().Info("ride created", "ride_id", r.ID, "driver_id", r.DriverID, "seats", r.TotalSeats)
	return r, nil
}

func (s *Service) indexRide(ctx context.Context, r *models.Ride) error {
	if s.Index == nil || !r.HasGeometry() {
		return nil
	}
	return s.Index.Upsert(ctx, r.ID, geo.Densify(r.Route.Points, matcher.IndexStep(s.IndexStepKm, s.threshold())))
}

// RebuildIndex indexes every ACTIVE ride in the store. An in-process index
// starts empty, so the server runs this before taking traffic.
func (s *Service) RebuildIndex(ctx context.Context) (int, error) {
	if s.Index == nil {
		return 0, nil
	}
	rides, err := s.Store.ListRides(ctx, storage.RideFilter{Statuses: []models.RideStatus{models.RideActive}})
	if err != nil {
		return 0, fmt.Errorf("list active rides: %w", err)
	}
	n := 0
	for _, r := range rides {
		if err := s.indexRide(ctx, r); err != nil {
			return n, fmt.Errorf("index ride %s: %w", r.ID, err)
		}
		n++
	}
	return n, nil
}

func (s *Service) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	return s.loadRide(ctx, id)
}

func (s *Service) DriverRides(ctx context.Context, driverID string) ([]*models.Ride, error) {
	if driverID == "" {
		return nil, apperrors.Unauthorized("missing actor")
	}
	return s.Store.ListRides(ctx, storage.RideFilter{DriverID: driverID})
}

// DriverStats returns the completion totals of a driver. Drivers only see
// their own.
func (s *Service) DriverStats(ctx context.Context, driverID, actor string) (stats.DriverStats, error) {
	if actor == "" || actor != driverID {
		return stats.DriverStats{}, apperrors.Unauthorized("only the driver can read their stats")
	}
	if s.Stats == nil {
		return stats.DriverStats{}, nil
	}
	st, err := s.Stats.Get(ctx, driverID)
	if err != nil {
		return stats.DriverStats{}, fmt.Errorf("driver stats %s: %w", driverID, err)
	}
	return st, nil
}

func (s *Service) ownRide(ctx context.Context, rideID, actor string) (*models.Ride, error) {
	r, err := s.loadRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if actor == "" || actor != r.DriverID {
		return nil, apperrors.Unauthorized("only the ride's driver may do this")
	}
	return r, nil
}

// StartRide moves the ride to IN_PROGRESS. Bookings still waiting for the
// driver expire; confirmed ones get their pickup codes.
func (s *Service) StartRide(ctx context.Context, rideID, actor string) (*models.Ride, error) {
	if _, err := s.ownRide(ctx, rideID, actor); err != nil {
		return nil, err
	}
	now := s.now()
	ride, err := s.Store.StartRide(ctx, rideID, now)
	switch {
	case errors.Is(err, storage.ErrNoConfirmedBookings):
		return nil, apperrors.InvalidState("start a ride without confirmed bookings", ride.Status, ride)
	case errors.Is(err, storage.ErrStatusConflict):
		return nil, apperrors.InvalidState("start ride", ride.Status, ride)
	case err != nil:
		return nil, fmt.Errorf("start ride %s: %w", rideID, err)
	}

	// expire first so a late accept cannot leave a CONFIRMED booking without a code
	pending, err := s.Store.ListBookings(ctx, storage.BookingFilter{RideID: rideID, Statuses: []models.BookingStatus{models.BookingPending}})
	if err != nil {
		return nil, fmt.Errorf("list pending bookings: %w", err)
	}
	for _, b := range pending {
		if _, err := s.expire(ctx, b.ID, actor, []models.BookingStatus{models.BookingPending}, "ride started"); err != nil {
			s.logger().Warn("expire on ride start failed", "ride_id", rideID, "booking_id", b.ID, "error", err)
		}
	}

	confirmed, err := s.Store.ListBookings(ctx, storage.BookingFilter{RideID: rideID, Statuses: []models.BookingStatus{models.BookingConfirmed}})
	if err != nil {
		return nil, fmt.Errorf("list confirmed bookings: %w", err)
	}
	passengers := make([]string, 0, len(confirmed))
	for _, b := range confirmed {
		code, err := s.Codes.Generate(now)
		if err != nil {
			return nil, fmt.Errorf("generate pickup code: %w", err)
		}
		updated, err := s.transition(ctx, b.ID, "issue pickup code", storage.BookingTransition{
			From:       []models.BookingStatus{models.BookingConfirmed},
			To:         models.BookingPickupPending,
			At:         now,
			Actor:      actor,
			PickupCode: &code,
		})
		if err != nil {
			// cancelled between the listing and the update
			s.logger().Warn("pickup code not issued", "ride_id", rideID, "booking_id", b.ID, "error", err)
			continue
		}
		passengers = append(passengers, updated.PassengerID)
		ev := bookingEvent(models.EventPickupCodeIssued, updated)
		ev.Data = map[string]any{"code": code.Code}
		s.emit(ctx, ev, updated.PassengerID)
	}

	s.unindex(ctx, rideID)
	s.emit(ctx, models.Event{Type: models.EventRideStarted, RideID: rideID, Status: string(ride.Status), At: now},
		append(passengers, ride.DriverID)...)
	s.logger().Info("ride started", "ride_id", rideID, "passengers", len(passengers))
	return s.loadRide(ctx, rideID)
}

// CloseRide completes a ride that has no open bookings left.
func (s *Service) CloseRide(ctx context.Context, rideID, actor string) (*models.Ride, error) {
	r, err := s.ownRide(ctx, rideID, actor)
	if err != nil {
		return nil, err
	}
	open, err := s.Store.CountOpenBookings(ctx, rideID)
	if err != nil {
		return nil, fmt.Errorf("count open bookings: %w", err)
	}
	if open > 0 {
		return nil, apperrors.InvalidState(fmt.Sprintf("close a ride with %d open bookings", open), r.Status, r)
	}
	ride, err := s.Store.TransitionRide(ctx, rideID,
		[]models.RideStatus{models.RideActive, models.RideInProgress}, models.RideCompleted, s.now())
	if errors.Is(err, storage.ErrStatusConflict) {
		return nil, apperrors.InvalidState("close ride", ride.Status, ride)
	}
	if err != nil {
		return nil, fmt.Errorf("close ride %s: %w", rideID, err)
	}
	s.rideCompleted(ctx, ride)
	return ride, nil
}

// CancelRide withdraws an ACTIVE ride. Every live booking on it is cancelled
// with its seats released and a full refund.
func (s *Service) CancelRide(ctx context.Context, rideID, actor, reason string) (*models.Ride, error) {
	if _, err := s.ownRide(ctx, rideID, actor); err != nil {
		return nil, err
	}
	now := s.now()
	ride, err := s.Store.TransitionRide(ctx, rideID, []models.RideStatus{models.RideActive}, models.RideCancelled, now)
	if errors.Is(err, storage.ErrStatusConflict) {
		return nil, apperrors.InvalidState("cancel ride", ride.Status, ride)
	}
	if err != nil {
		return nil, fmt.Errorf("cancel ride %s: %w", rideID, err)
	}
	s.unindex(ctx, rideID)

	live, err := s.Store.ListBookings(ctx, storage.BookingFilter{RideID: rideID, Statuses: models.SeatHoldingStatuses})
	if err != nil {
		return nil, fmt.Errorf("list bookings of cancelled ride: %w", err)
	}
	if reason == "" {
		reason = "ride cancelled by driver"
	}
	for _, b := range live {
		updated, err := s.transition(ctx, b.ID, "cancel", storage.BookingTransition{
			From:         models.SeatHoldingStatuses,
			To:           models.BookingCancelled,
			At:           now,
			Actor:        actor,
			Reason:       strPtr(reason),
			ReleaseSeats: true,
		})
		if err != nil {
			s.logger().Warn("cancel booking of cancelled ride failed", "ride_id", rideID, "booking_id", b.ID, "error", err)
			continue
		}
		s.settleReleased(ctx, updated, 100)
		s.emit(ctx, bookingEvent(models.EventBookingCancelled, updated), updated.PassengerID)
	}
	s.emit(ctx, models.Event{Type: models.EventRideCancelled, RideID: rideID, Status: string(models.RideCancelled), At: now}, ride.DriverID)
	s.logger().Info("ride cancelled", "ride_id", rideID, "bookings", len(live))
	return s.loadRide(ctx, rideID)
}

// completeRideIfDone closes an in-progress ride once none of its bookings is
// open any more.
func (s *Service) completeRideIfDone(ctx context.Context, rideID string) {
	open, err := s.Store.CountOpenBookings(ctx, rideID)
	if err != nil {
		s.logger().Error("count open bookings failed", "ride_id", rideID, "error", err)
		return
	}
	if open > 0 {
		return
	}
	ride, err := s.Store.TransitionRide(ctx, rideID, []models.RideStatus{models.RideInProgress}, models.RideCompleted, s.now())
	if errors.Is(err, storage.ErrStatusConflict) {
		return
	}
	if err != nil {
		s.logger().Error("complete ride failed", "ride_id", rideID, "error", err)
		return
	}
	s.rideCompleted(ctx, ride)
}

func (s *Service) rideCompleted(ctx context.Context, ride *models.Ride) {
	observability.RidesCompleted.Inc()
	s.unindex(ctx, ride.ID)
	if s.Stats != nil {
		passengers := 0
		done, err := s.Store.ListBookings(ctx, storage.BookingFilter{RideID: ride.ID, Statuses: []models.BookingStatus{models.BookingCompleted}})
		if err != nil {
			s.logger().Warn("list completed bookings failed", "ride_id", ride.ID, "error", err)
		}
		for _, b := range done {
			passengers += b.Seats
		}
		err = s.Stats.RecordCompletion(ctx, stats.Completion{
			DriverID:       ride.DriverID,
			RideID:         ride.ID,
			DistanceMeters: ride.Route.DistanceMeters,
			Earnings:       ride.Earnings,
			Passengers:     passengers,
		})
		if err != nil {
			s.logger().Error("record driver stats failed", "ride_id", ride.ID, "driver_id", ride.DriverID, "error", err)
		}
	}
	s.emit(ctx, models.Event{Type: models.EventRideCompleted, RideID: ride.ID, Status: string(ride.Status), At: ride.UpdatedAt}, ride.DriverID)
	s.logger().Info("ride completed", "ride_id", ride.ID, "earnings", ride.Earnings)
}

func (s *Service) unindex(ctx context.Context, rideID string) {
	if s.Index == nil {
		return
	}
	if err := s.Index.Remove(ctx, rideID); err != nil {
		s.logger().Warn("unindex ride failed", "ride_id", rideID, "error", err)
	}
}
