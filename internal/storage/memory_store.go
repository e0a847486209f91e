package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/rideshare/internal/models"
)

// MemoryStore keeps rides and bookings in process. One mutex guards both maps
// so every conditional update is a single critical section.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]*models.Ride
	bookings map[string]*models.Booking
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]*models.Ride),
		bookings: make(map[string]*models.Booking),
	}
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ListRides(_ context.Context, f RideFilter) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids map[string]struct{}
	if f.IDs != nil {
		ids = make(map[string]struct{}, len(f.IDs))
		for _, id := range f.IDs {
			ids[id] = struct{}{}
		}
	}
	out := make([]*models.Ride, 0)
	for _, r := range m.rides {
		if ids != nil {
			if _, ok := ids[r.ID]; !ok {
				continue
			}
		}
		if f.DriverID != "" && r.DriverID != f.DriverID {
			continue
		}
		if len(f.Statuses) > 0 && !containsRideStatus(f.Statuses, r.Status) {
			continue
		}
		if r.AvailableSeats < f.MinSeats {
			continue
		}
		if !f.From.IsZero() && r.DepartureAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !r.DepartureAt.Before(f.To) {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureAt.Before(out[j].DepartureAt) })
	return out, nil
}

func (m *MemoryStore) TransitionRide(_ context.Context, id string, from []models.RideStatus, to models.RideStatus, at time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !containsRideStatus(from, r.Status) {
		return r.Clone(), ErrStatusConflict
	}
	setRideStatus(r, to, at)
	return r.Clone(), nil
}

func (m *MemoryStore) StartRide(_ context.Context, id string, at time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != models.RideActive {
		return r.Clone(), ErrStatusConflict
	}
	confirmed := false
	for _, b := range m.bookings {
		if b.RideID == id && b.Status == models.BookingConfirmed {
			confirmed = true
			break
		}
	}
	if !confirmed {
		return r.Clone(), ErrNoConfirmedBookings
	}
	setRideStatus(r, models.RideInProgress, at)
	return r.Clone(), nil
}

func setRideStatus(r *models.Ride, to models.RideStatus, at time.Time) {
	r.Status = to
	r.UpdatedAt = at
	switch to {
	case models.RideInProgress:
		r.StartedAt = &at
	case models.RideCompleted:
		r.CompletedAt = &at
	case models.RideCancelled:
		r.CancelledAt = &at
	}
}

func (m *MemoryStore) AddEarnings(_ context.Context, id string, amount int64) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.Earnings += amount
	return r.Clone(), nil
}

func (m *MemoryStore) ReserveSeats(_ context.Context, rideID string, n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return 0, ErrNotFound
	}
	if r.Status != models.RideActive {
		return r.AvailableSeats, ErrStatusConflict
	}
	if r.AvailableSeats < n {
		return r.AvailableSeats, ErrInsufficientSeats
	}
	r.AvailableSeats -= n
	return r.AvailableSeats, nil
}

func (m *MemoryStore) ReleaseSeats(_ context.Context, rideID string, n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(rideID, n)
}

func (m *MemoryStore) releaseLocked(rideID string, n int) (int, error) {
	r, ok := m.rides[rideID]
	if !ok {
		return 0, ErrNotFound
	}
	if r.AvailableSeats+n > r.TotalSeats {
		return r.AvailableSeats, ErrSeatOverflow
	}
	r.AvailableSeats += n
	return r.AvailableSeats, nil
}

func (m *MemoryStore) InsertBooking(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := false
	for _, e := range m.bookings {
		if e.RideID != b.RideID || e.PassengerID != b.PassengerID {
			continue
		}
		if b.IdempotencyKey != "" && e.IdempotencyKey == b.IdempotencyKey {
			return ErrIdempotencyReplay
		}
		live = live || !e.Status.Terminal()
	}
	if live {
		return ErrDuplicateBooking
	}
	m.bookings[b.ID] = b.Clone()
	return nil
}

func (m *MemoryStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (m *MemoryStore) FindBookingByIdempotencyKey(_ context.Context, passengerID, rideID, key string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bookings {
		if b.PassengerID == passengerID && b.RideID == rideID && key != "" && b.IdempotencyKey == key {
			return b.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListBookings(_ context.Context, f BookingFilter) ([]*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Booking, 0)
	for _, b := range m.bookings {
		if f.RideID != "" && b.RideID != f.RideID {
			continue
		}
		if f.PassengerID != "" && b.PassengerID != f.PassengerID {
			continue
		}
		if len(f.Statuses) > 0 && !containsBookingStatus(f.Statuses, b.Status) {
			continue
		}
		if !f.CreatedBefore.IsZero() && !b.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) CountOpenBookings(_ context.Context, rideID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, b := range m.bookings {
		if b.RideID == rideID && !b.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) TransitionBooking(_ context.Context, id string, t BookingTransition) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !containsBookingStatus(t.From, b.Status) {
		return b.Clone(), ErrStatusConflict
	}
	if t.ReleaseSeats {
		if _, err := m.releaseLocked(b.RideID, b.Seats); err != nil {
			return b.Clone(), err
		}
	}
	b.Status = t.To
	b.UpdatedAt = t.At
	b.History = append(b.History, models.StatusChange{Status: t.To, At: t.At, Actor: t.Actor})
	if t.Reason != nil {
		b.Reason = *t.Reason
	}
	if t.PickupCode != nil {
		pc := *t.PickupCode
		b.PickupCode = &pc
	}
	if t.DropoffCode != nil {
		dc := *t.DropoffCode
		b.DropoffCode = &dc
	}
	if t.Payment != nil {
		b.Payment = *t.Payment
	}
	return b.Clone(), nil
}

func (m *MemoryStore) RecordVerificationAttempt(_ context.Context, id string, cp models.Checkpoint) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if cp == models.CheckpointDropoff {
		b.DropoffAttempts++
	} else {
		b.PickupAttempts++
	}
	return b.Clone(), nil
}

func (m *MemoryStore) UpdatePayment(_ context.Context, id string, expect models.PaymentStatus, p models.PaymentRecord) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Payment.Status != expect {
		return b.Clone(), ErrPaymentConflict
	}
	b.Payment = p
	return b.Clone(), nil
}
