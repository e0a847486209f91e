package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/rideshare/internal/models"
)

var t0 = time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)

func seedRide(t *testing.T, s *MemoryStore, id string, seats int) {
	t.Helper()
	err := s.CreateRide(context.Background(), &models.Ride{
		ID: id, DriverID: "driver-1", TotalSeats: seats, AvailableSeats: seats,
		Status: models.RideActive, DepartureAt: t0,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func seedBooking(t *testing.T, s *MemoryStore, id, rideID, passenger string, seats int, status models.BookingStatus) {
	t.Helper()
	err := s.InsertBooking(context.Background(), &models.Booking{
		ID: id, RideID: rideID, PassengerID: passenger, DriverID: "driver-1",
		Seats: seats, Status: status, CreatedAt: t0,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestReserveSeatsLastSeatRace(t *testing.T) {
	s := NewMemoryStore()
	seedRide(t, s, "r1", 1)

	var wins, losses int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ReserveSeats(context.Background(), "r1", 1)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrInsufficientSeats):
				atomic.AddInt32(&losses, 1)
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || losses != 1 {
		t.Fatalf("expected exactly one winner, got wins=%d losses=%d", wins, losses)
	}
	r, _ := s.GetRide(context.Background(), "r1")
	if r.AvailableSeats != 0 {
		t.Fatalf("expected 0 seats, got %d", r.AvailableSeats)
	}
}

func TestReserveSeatsNeverOversells(t *testing.T) {
	s := NewMemoryStore()
	seedRide(t, s, "r1", 5)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ReserveSeats(context.Background(), "r1", 1); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 5 {
		t.Fatalf("expected 5 reservations, got %d", wins)
	}
	r, _ := s.GetRide(context.Background(), "r1")
	if r.AvailableSeats != 0 {
		t.Fatalf("seats went negative or leaked: %d", r.AvailableSeats)
	}
}

func TestReserveSeatsRequiresActiveRide(t *testing.T) {
	s := NewMemoryStore()
	seedRide(t, s, "r1", 3)
	if _, err := s.TransitionRide(context.Background(), "r1", []models.RideStatus{models.RideActive}, models.RideCancelled, t0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReserveSeats(context.Background(), "r1", 1); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected status conflict, got %v", err)
	}
}

func TestReleaseSeatsOverflow(t *testing.T) {
	s := NewMemoryStore()
	seedRide(t, s, "r1", 2)
	if _, err := s.ReleaseSeats(context.Background(), "r1", 1); !errors.Is(err, ErrSeatOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestConcurrentTransitionReleasesOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedRide(t, s, "r1", 3)
	if _, err := s.ReserveSeats(ctx, "r1", 2); err != nil {
		t.Fatal(err)
	}
	seedBooking(t, s, "b1", "r1", "p1", 2, models.BookingPending)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.TransitionBooking(ctx, "b1", BookingTransition{
				From:         []models.BookingStatus{models.BookingPending},
				To:           models.BookingRejected,
				At:           t0,
				Actor:        fmt.Sprintf("driver-%d", i),
				ReleaseSeats: true,
			})
			if err == nil {
				atomic.AddInt32(&wins, 1)
			} else if !errors.Is(err, ErrStatusConflict) {
				t.Errorf("unexpected error %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected a single successful transition, got %d", wins)
	}
	r, _ := s.GetRide(ctx, "r1")
	if r.AvailableSeats != 3 {
		t.Fatalf("seats released more than once: %d", r.AvailableSeats)
	}
	b, _ := s.GetBooking(ctx, "b1")
	if len(b.History) != 1 || b.History[0].Status != models.BookingRejected {
		t.Fatalf("unexpected history %+v", b.History)
	}
}

func TestTransitionReturnsCurrentOnConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedRide(t, s, "r1", 3)
	seedBooking(t, s, "b1", "r1", "p1", 1, models.BookingConfirmed)
	cur, err := s.TransitionBooking(ctx, "b1", BookingTransition{
		From: []models.BookingStatus{models.BookingPending}, To: models.BookingConfirmed, At: t0,
	})
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if cur == nil || cur.Status != models.BookingConfirmed {
		t.Fatalf("expected current booking in conflict result, got %+v", cur)
	}
}

func TestInsertBookingUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedRide(t, s, "r1", 3)

	first := &models.Booking{ID: "b1", RideID: "r1", PassengerID: "p1", Seats: 1, Status: models.BookingPending, IdempotencyKey: "k1"}
	if err := s.InsertBooking(ctx, first); err != nil {
		t.Fatal(err)
	}
	replay := &models.Booking{ID: "b2", RideID: "r1", PassengerID: "p1", Seats: 1, Status: models.BookingPending, IdempotencyKey: "k1"}
	if err := s.InsertBooking(ctx, replay); !errors.Is(err, ErrIdempotencyReplay) {
		t.Fatalf("expected replay, got %v", err)
	}
	dup := &models.Booking{ID: "b3", RideID: "r1", PassengerID: "p1", Seats: 1, Status: models.BookingPending, IdempotencyKey: "k2"}
	if err := s.InsertBooking(ctx, dup); !errors.Is(err, ErrDuplicateBooking) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	found, err := s.FindBookingByIdempotencyKey(ctx, "p1", "r1", "k1")
	if err != nil || found.ID != "b1" {
		t.Fatalf("lookup by key failed: %v %+v", err, found)
	}

	// a terminal booking frees the passenger to book again
	if _, err := s.TransitionBooking(ctx, "b1", BookingTransition{
		From: []models.BookingStatus{models.BookingPending}, To: models.BookingCancelled, At: t0,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertBooking(ctx, dup); err != nil {
		t.Fatalf("rebooking after cancellation: %v", err)
	}
}

func TestStartRideNeedsConfirmedBooking(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedRide(t, s, "r1", 3)
	seedBooking(t, s, "b1", "r1", "p1", 1, models.BookingPending)
	if _, err := s.StartRide(ctx, "r1", t0); !errors.Is(err, ErrNoConfirmedBookings) {
		t.Fatalf("expected no confirmed bookings, got %v", err)
	}
	seedBooking(t, s, "b2", "r1", "p2", 1, models.BookingConfirmed)
	r, err := s.StartRide(ctx, "r1", t0)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != models.RideInProgress || r.StartedAt == nil {
		t.Fatalf("unexpected ride %+v", r)
	}
	if _, err := s.StartRide(ctx, "r1", t0); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("second start should conflict, got %v", err)
	}
}

func TestUpdatePaymentGuard(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedRide(t, s, "r1", 3)
	seedBooking(t, s, "b1", "r1", "p1", 1, models.BookingDroppedOff)
	p := models.PaymentRecord{Status: models.PaymentPaid}
	if _, err := s.UpdatePayment(ctx, "b1", models.PaymentAuthorized, p); !errors.Is(err, ErrPaymentConflict) {
		t.Fatalf("expected payment conflict, got %v", err)
	}
	b, err := s.UpdatePayment(ctx, "b1", "", p)
	if err != nil || b.Payment.Status != models.PaymentPaid {
		t.Fatalf("update failed: %v %+v", err, b)
	}
}

func TestListBookingsFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedRide(t, s, "r1", 5)
	seedBooking(t, s, "b1", "r1", "p1", 1, models.BookingPending)
	seedBooking(t, s, "b2", "r1", "p2", 1, models.BookingConfirmed)
	got, _ := s.ListBookings(ctx, BookingFilter{RideID: "r1", Statuses: []models.BookingStatus{models.BookingPending}})
	if len(got) != 1 || got[0].ID != "b1" {
		t.Fatalf("unexpected %+v", got)
	}
	if n, _ := s.CountOpenBookings(ctx, "r1"); n != 2 {
		t.Fatalf("expected 2 open, got %d", n)
	}
}
