package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/example/rideshare/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

const rideColumns = `id, driver_id, vehicle_id, origin, destination, route_points, distance_meters, duration_seconds,
	departure_at, total_seats, available_seats, price_per_seat, currency, status, earnings,
	created_at, updated_at, started_at, completed_at, cancelled_at`

func scanRide(s scanner) (*models.Ride, error) {
	var (
		r                         models.Ride
		origin, dest, points      []byte
		started, completed, cancl sql.NullTime
	)
	err := s.Scan(&r.ID, &r.DriverID, &r.VehicleID, &origin, &dest, &points, &r.Route.DistanceMeters, &r.Route.DurationSeconds,
		&r.DepartureAt, &r.TotalSeats, &r.AvailableSeats, &r.PricePerSeat, &r.Currency, &r.Status, &r.Earnings,
		&r.CreatedAt, &r.UpdatedAt, &started, &completed, &cancl)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := unmarshalAll(origin, &r.Origin, dest, &r.Destination, points, &r.Route.Points); err != nil {
		return nil, err
	}
	r.StartedAt = nullTime(started)
	r.CompletedAt = nullTime(completed)
	r.CancelledAt = nullTime(cancl)
	return &r, nil
}

const bookingColumns = `id, ride_id, passenger_id, driver_id, seats, pickup, dropoff, status, payment,
	pickup_code, dropoff_code, pickup_attempts, dropoff_attempts, idempotency_key, reason, history,
	created_at, updated_at`

func scanBooking(s scanner) (*models.Booking, error) {
	var (
		b                                 models.Booking
		pickup, dropoff, payment, history []byte
		pickupCode, dropoffCode           []byte
	)
	err := s.Scan(&b.ID, &b.RideID, &b.PassengerID, &b.DriverID, &b.Seats, &pickup, &dropoff, &b.Status, &payment,
		&pickupCode, &dropoffCode, &b.PickupAttempts, &b.DropoffAttempts, &b.IdempotencyKey, &b.Reason, &history,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := unmarshalAll(pickup, &b.Pickup, dropoff, &b.Dropoff, payment, &b.Payment, history, &b.History); err != nil {
		return nil, err
	}
	if pickupCode != nil {
		b.PickupCode = &models.VerificationCode{}
		if err := json.Unmarshal(pickupCode, b.PickupCode); err != nil {
			return nil, err
		}
	}
	if dropoffCode != nil {
		b.DropoffCode = &models.VerificationCode{}
		if err := json.Unmarshal(dropoffCode, b.DropoffCode); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	origin, _ := json.Marshal(r.Origin)
	dest, _ := json.Marshal(r.Destination)
	points, _ := json.Marshal(r.Route.Points)
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(id, driver_id, vehicle_id, origin, destination, route_points, distance_meters, duration_seconds,
		departure_at, total_seats, available_seats, price_per_seat, currency, status, earnings, created_at, updated_at)
		VALUES($1,$2,$3,$4::jsonb,$5::jsonb,$6::jsonb,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		r.ID, r.DriverID, r.VehicleID, string(origin), string(dest), string(points), r.Route.DistanceMeters, r.Route.DurationSeconds,
		r.DepartureAt, r.TotalSeats, r.AvailableSeats, r.PricePerSeat, r.Currency, r.Status, r.Earnings, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	return scanRide(p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id))
}

func (p *PostgresStore) ListRides(ctx context.Context, f RideFilter) ([]*models.Ride, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.IDs != nil {
		add("id = ANY($%d)", pq.Array(f.IDs))
	}
	if f.DriverID != "" {
		add("driver_id = $%d", f.DriverID)
	}
	if len(f.Statuses) > 0 {
		ss := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			ss[i] = string(s)
		}
		add("status = ANY($%d)", pq.Array(ss))
	}
	if f.MinSeats > 0 {
		add("available_seats >= $%d", f.MinSeats)
	}
	if !f.From.IsZero() {
		add("departure_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("departure_at < $%d", f.To)
	}
	q := `SELECT ` + rideColumns + ` FROM rides`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY departure_at`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) TransitionRide(ctx context.Context, id string, from []models.RideStatus, to models.RideStatus, at time.Time) (*models.Ride, error) {
	ss := make([]string, len(from))
	for i, s := range from {
		ss[i] = string(s)
	}
	r, err := scanRide(p.db.QueryRowContext(ctx, `UPDATE rides SET status = $3, updated_at = $4,
		started_at = CASE WHEN $3 = 'IN_PROGRESS' THEN $4 ELSE started_at END,
		completed_at = CASE WHEN $3 = 'COMPLETED' THEN $4 ELSE completed_at END,
		cancelled_at = CASE WHEN $3 = 'CANCELLED' THEN $4 ELSE cancelled_at END
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+rideColumns, id, pq.Array(ss), string(to), at))
	if errors.Is(err, ErrNotFound) {
		return p.rideConflict(ctx, id, ErrStatusConflict)
	}
	return r, err
}

func (p *PostgresStore) StartRide(ctx context.Context, id string, at time.Time) (*models.Ride, error) {
	r, err := scanRide(p.db.QueryRowContext(ctx, `UPDATE rides SET status = 'IN_PROGRESS', started_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'ACTIVE'
		AND EXISTS (SELECT 1 FROM bookings WHERE ride_id = $1 AND status = 'CONFIRMED')
		RETURNING `+rideColumns, id, at))
	if !errors.Is(err, ErrNotFound) {
		return r, err
	}
	cur, err := p.GetRide(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status == models.RideActive {
		return cur, ErrNoConfirmedBookings
	}
	return cur, ErrStatusConflict
}

// rideConflict distinguishes a missing ride from a failed guard.
func (p *PostgresStore) rideConflict(ctx context.Context, id string, guardErr error) (*models.Ride, error) {
	cur, err := p.GetRide(ctx, id)
	if err != nil {
		return nil, err
	}
	return cur, guardErr
}

func (p *PostgresStore) AddEarnings(ctx context.Context, id string, amount int64) (*models.Ride, error) {
	return scanRide(p.db.QueryRowContext(ctx, `UPDATE rides SET earnings = earnings + $2, updated_at = now()
		WHERE id = $1 RETURNING `+rideColumns, id, amount))
}

func (p *PostgresStore) ReserveSeats(ctx context.Context, rideID string, n int) (int, error) {
	var left int
	err := p.db.QueryRowContext(ctx, `UPDATE rides SET available_seats = available_seats - $2, updated_at = now()
		WHERE id = $1 AND status = 'ACTIVE' AND available_seats >= $2
		RETURNING available_seats`, rideID, n).Scan(&left)
	if err == nil {
		return left, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	cur, err := p.GetRide(ctx, rideID)
	if err != nil {
		return 0, err
	}
	if cur.Status != models.RideActive {
		return cur.AvailableSeats, ErrStatusConflict
	}
	return cur.AvailableSeats, ErrInsufficientSeats
}

func (p *PostgresStore) ReleaseSeats(ctx context.Context, rideID string, n int) (int, error) {
	return releaseSeats(ctx, p.db, rideID, n)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func releaseSeats(ctx context.Context, q queryer, rideID string, n int) (int, error) {
	var left int
	err := q.QueryRowContext(ctx, `UPDATE rides SET available_seats = available_seats + $2, updated_at = now()
		WHERE id = $1 AND available_seats + $2 <= total_seats
		RETURNING available_seats`, rideID, n).Scan(&left)
	if err == nil {
		return left, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rides WHERE id = $1)`, rideID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrNotFound
	}
	return 0, ErrSeatOverflow
}

func (p *PostgresStore) InsertBooking(ctx context.Context, b *models.Booking) error {
	pickup, _ := json.Marshal(b.Pickup)
	dropoff, _ := json.Marshal(b.Dropoff)
	payment, _ := json.Marshal(b.Payment)
	history := []byte("[]")
	if len(b.History) > 0 {
		history, _ = json.Marshal(b.History)
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO bookings(id, ride_id, passenger_id, driver_id, seats, pickup, dropoff, status, payment,
		idempotency_key, reason, history, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6::jsonb,$7::jsonb,$8,$9::jsonb,$10,$11,$12::jsonb,$13,$14)`,
		b.ID, b.RideID, b.PassengerID, b.DriverID, b.Seats, string(pickup), string(dropoff), string(b.Status), string(payment),
		b.IdempotencyKey, b.Reason, string(history), b.CreatedAt, b.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case "bookings_idempotency":
			return ErrIdempotencyReplay
		case "bookings_live_passenger":
			return ErrDuplicateBooking
		}
	}
	return err
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return scanBooking(p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
}

func (p *PostgresStore) FindBookingByIdempotencyKey(ctx context.Context, passengerID, rideID, key string) (*models.Booking, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	return scanBooking(p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE passenger_id = $1 AND ride_id = $2 AND idempotency_key = $3`, passengerID, rideID, key))
}

func (p *PostgresStore) ListBookings(ctx context.Context, f BookingFilter) ([]*models.Booking, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.RideID != "" {
		add("ride_id = $%d", f.RideID)
	}
	if f.PassengerID != "" {
		add("passenger_id = $%d", f.PassengerID)
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", pq.Array(statusStrings(f.Statuses)))
	}
	if !f.CreatedBefore.IsZero() {
		add("created_at < $%d", f.CreatedBefore)
	}
	q := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at`
	if f.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountOpenBookings(ctx context.Context, rideID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM bookings WHERE ride_id = $1 AND status = ANY($2)`,
		rideID, pq.Array(statusStrings(models.SeatHoldingStatuses))).Scan(&n)
	return n, err
}

func (p *PostgresStore) TransitionBooking(ctx context.Context, id string, t BookingTransition) (*models.Booking, error) {
	change, _ := json.Marshal([]models.StatusChange{{Status: t.To, At: t.At, Actor: t.Actor}})
	var reason any
	if t.Reason != nil {
		reason = *t.Reason
	}
	pickupCode, err := jsonParam(t.PickupCode)
	if err != nil {
		return nil, err
	}
	dropoffCode, err := jsonParam(t.DropoffCode)
	if err != nil {
		return nil, err
	}
	payment, err := jsonParam(t.Payment)
	if err != nil {
		return nil, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	b, err := scanBooking(tx.QueryRowContext(ctx, `UPDATE bookings SET status = $3, updated_at = $4,
		history = history || $5::jsonb,
		reason = COALESCE($6, reason),
		pickup_code = COALESCE($7::jsonb, pickup_code),
		dropoff_code = COALESCE($8::jsonb, dropoff_code),
		payment = COALESCE($9::jsonb, payment)
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+bookingColumns,
		id, pq.Array(statusStrings(t.From)), string(t.To), t.At, string(change), reason, pickupCode, dropoffCode, payment))
	if errors.Is(err, ErrNotFound) {
		_ = tx.Rollback()
		cur, gerr := p.GetBooking(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return cur, ErrStatusConflict
	}
	if err != nil {
		return nil, err
	}
	if t.ReleaseSeats {
		if _, err := releaseSeats(ctx, tx, b.RideID, b.Seats); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return b, nil
}

func (p *PostgresStore) RecordVerificationAttempt(ctx context.Context, id string, cp models.Checkpoint) (*models.Booking, error) {
	col := "pickup_attempts"
	if cp == models.CheckpointDropoff {
		col = "dropoff_attempts"
	}
	return scanBooking(p.db.QueryRowContext(ctx, `UPDATE bookings SET `+col+` = `+col+` + 1
		WHERE id = $1 RETURNING `+bookingColumns, id))
}

func (p *PostgresStore) UpdatePayment(ctx context.Context, id string, expect models.PaymentStatus, pr models.PaymentRecord) (*models.Booking, error) {
	payment, _ := json.Marshal(pr)
	b, err := scanBooking(p.db.QueryRowContext(ctx, `UPDATE bookings SET payment = $3::jsonb, updated_at = now()
		WHERE id = $1 AND payment->>'status' = $2
		RETURNING `+bookingColumns, id, string(expect), string(payment)))
	if !errors.Is(err, ErrNotFound) {
		return b, err
	}
	cur, err := p.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	return cur, ErrPaymentConflict
}

func statusStrings(list []models.BookingStatus) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}

// jsonParam encodes v for a ::jsonb placeholder, nil pointers become NULL.
func jsonParam[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalAll(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		raw, _ := pairs[i].([]byte)
		if len(raw) == 0 {
			continue
		}
		if err := json.Unmarshal(raw, pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
