package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/rideshare/internal/models"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrStatusConflict      = errors.New("status conflict")
	ErrInsufficientSeats   = errors.New("insufficient seats")
	ErrSeatOverflow        = errors.New("release would exceed total seats")
	ErrDuplicateBooking    = errors.New("passenger already holds a live booking on this ride")
	ErrIdempotencyReplay   = errors.New("idempotency key already used")
	ErrNoConfirmedBookings = errors.New("ride has no confirmed bookings")
	ErrPaymentConflict     = errors.New("payment status changed concurrently")
)

type RideFilter struct {
	IDs      []string // nil means any
	DriverID string
	Statuses []models.RideStatus
	MinSeats int
	From     time.Time // departure lower bound, inclusive
	To       time.Time // departure upper bound, exclusive; zero means open
}

type BookingFilter struct {
	RideID        string
	PassengerID   string
	Statuses      []models.BookingStatus
	CreatedBefore time.Time
	Limit         int
}

// BookingTransition is a conditional status change: it applies only if the
// booking's current status is one of From. Non-nil fields are written with
// the new status in the same update.
type BookingTransition struct {
	From        []models.BookingStatus
	To          models.BookingStatus
	At          time.Time
	Actor       string
	Reason      *string
	PickupCode  *models.VerificationCode
	DropoffCode *models.VerificationCode
	Payment     *models.PaymentRecord
	// ReleaseSeats returns the booking's seats to its ride atomically with the
	// status change.
	ReleaseSeats bool
}

// Store is the record store of the booking core. Every mutation is a
// conditional update; there is no whole-object save. Operations that fail a
// status guard return the current entity alongside ErrStatusConflict.
type Store interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	ListRides(ctx context.Context, f RideFilter) ([]*models.Ride, error)
	TransitionRide(ctx context.Context, id string, from []models.RideStatus, to models.RideStatus, at time.Time) (*models.Ride, error)
	// StartRide moves an ACTIVE ride with at least one CONFIRMED booking to
	// IN_PROGRESS.
	StartRide(ctx context.Context, id string, at time.Time) (*models.Ride, error)
	AddEarnings(ctx context.Context, id string, amount int64) (*models.Ride, error)

	// ReserveSeats decrements available seats of an ACTIVE ride by n if at
	// least n are available, returning the remaining count.
	ReserveSeats(ctx context.Context, rideID string, n int) (int, error)
	ReleaseSeats(ctx context.Context, rideID string, n int) (int, error)

	// InsertBooking fails with ErrDuplicateBooking when the passenger already
	// holds a non-terminal booking on the ride, and with ErrIdempotencyReplay
	// when (passenger, ride, idempotency key) was already used.
	InsertBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	FindBookingByIdempotencyKey(ctx context.Context, passengerID, rideID, key string) (*models.Booking, error)
	ListBookings(ctx context.Context, f BookingFilter) ([]*models.Booking, error)
	CountOpenBookings(ctx context.Context, rideID string) (int, error)
	TransitionBooking(ctx context.Context, id string, t BookingTransition) (*models.Booking, error)
	RecordVerificationAttempt(ctx context.Context, id string, cp models.Checkpoint) (*models.Booking, error)
	// UpdatePayment replaces the payment record if its status is still expect.
	UpdatePayment(ctx context.Context, id string, expect models.PaymentStatus, p models.PaymentRecord) (*models.Booking, error)
}

func containsBookingStatus(list []models.BookingStatus, s models.BookingStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsRideStatus(list []models.RideStatus, s models.RideStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
