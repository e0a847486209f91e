package models

import "time"

type BookingStatus string

const (
	BookingPending        BookingStatus = "PENDING"
	BookingConfirmed      BookingStatus = "CONFIRMED"
	BookingPickupPending  BookingStatus = "PICKUP_PENDING"
	BookingPickedUp       BookingStatus = "PICKED_UP"
	BookingDropoffPending BookingStatus = "DROPOFF_PENDING"
	BookingDroppedOff     BookingStatus = "DROPPED_OFF"
	BookingCompleted      BookingStatus = "COMPLETED"
	BookingRejected       BookingStatus = "REJECTED"
	BookingExpired        BookingStatus = "EXPIRED"
	BookingCancelled      BookingStatus = "CANCELLED"
	BookingNoShow         BookingStatus = "NO_SHOW"
)

func (s BookingStatus) String() string { return string(s) }

// SeatHoldingStatuses are the statuses whose seats are counted against the ride.
var SeatHoldingStatuses = []BookingStatus{
	BookingPending,
	BookingConfirmed,
	BookingPickupPending,
	BookingPickedUp,
	BookingDropoffPending,
	BookingDroppedOff,
}

// HoldsSeats reports whether a booking in status s still occupies its seats.
func (s BookingStatus) HoldsSeats() bool {
	for _, h := range SeatHoldingStatuses {
		if s == h {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingCompleted, BookingRejected, BookingExpired, BookingCancelled, BookingNoShow:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "CASH"
	PaymentUPI  PaymentMethod = "UPI"
	PaymentCard PaymentMethod = "CARD"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentUPI, PaymentCard:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentAuthorized        PaymentStatus = "AUTHORIZED" // card hold placed, not captured
	PaymentPaid              PaymentStatus = "PAID"
	PaymentVoided            PaymentStatus = "VOIDED" // hold released without capture
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

type PayoutStatus string

const (
	PayoutNone    PayoutStatus = ""
	PayoutPending PayoutStatus = "PENDING"
	PayoutSettled PayoutStatus = "SETTLED"
)

// Payout is what the driver is owed for one booking.
type Payout struct {
	Amount    int64        `json:"amount"`
	Status    PayoutStatus `json:"status,omitempty"`
	SettledAt *time.Time   `json:"settled_at,omitempty"`
}

type Refund struct {
	Percent    int        `json:"percent"`
	Amount     int64      `json:"amount"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`
}

// PaymentRecord amounts are minor currency units.
type PaymentRecord struct {
	Fare        int64         `json:"fare"`
	Commission  int64         `json:"commission"`
	Total       int64         `json:"total"`
	Currency    string        `json:"currency"`
	Method      PaymentMethod `json:"method"`
	Status      PaymentStatus `json:"status"`
	IntentID    string        `json:"intent_id,omitempty"`
	Confirmed   bool          `json:"confirmed"`
	ConfirmedBy string        `json:"confirmed_by,omitempty"`
	ConfirmedAt *time.Time    `json:"confirmed_at,omitempty"`
	Refund      *Refund       `json:"refund,omitempty"`
	Payout      Payout        `json:"payout"`
}

type Checkpoint string

const (
	CheckpointPickup  Checkpoint = "pickup"
	CheckpointDropoff Checkpoint = "dropoff"
)

type VerificationCode struct {
	Code       string     `json:"code,omitempty"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

type StatusChange struct {
	Status BookingStatus `json:"status"`
	At     time.Time     `json:"at"`
	Actor  string        `json:"actor,omitempty"`
}

type Booking struct {
	ID              string            `json:"id"`
	RideID          string            `json:"ride_id"`
	PassengerID     string            `json:"passenger_id"`
	DriverID        string            `json:"driver_id"`
	Seats           int               `json:"seats"`
	Pickup          Place             `json:"pickup"`
	Dropoff         Place             `json:"dropoff"`
	Status          BookingStatus     `json:"status"`
	Payment         PaymentRecord     `json:"payment"`
	PickupCode      *VerificationCode `json:"pickup_code,omitempty"`
	DropoffCode     *VerificationCode `json:"dropoff_code,omitempty"`
	PickupAttempts  int               `json:"pickup_attempts"`
	DropoffAttempts int               `json:"dropoff_attempts"`
	IdempotencyKey  string            `json:"idempotency_key,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	History         []StatusChange    `json:"history"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Code returns the verification code for a checkpoint, nil if none was issued.
func (b *Booking) Code(cp Checkpoint) *VerificationCode {
	if cp == CheckpointDropoff {
		return b.DropoffCode
	}
	return b.PickupCode
}

// Attempts returns the verification attempt counter for a checkpoint.
func (b *Booking) Attempts(cp Checkpoint) int {
	if cp == CheckpointDropoff {
		return b.DropoffAttempts
	}
	return b.PickupAttempts
}

// Clone returns a deep copy so stores can hand out values callers may mutate.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	if b.PickupCode != nil {
		pc := *b.PickupCode
		c.PickupCode = &pc
	}
	if b.DropoffCode != nil {
		dc := *b.DropoffCode
		c.DropoffCode = &dc
	}
	if b.Payment.Refund != nil {
		r := *b.Payment.Refund
		c.Payment.Refund = &r
	}
	c.History = append([]StatusChange(nil), b.History...)
	return &c
}

// Clone returns a deep copy of the ride.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	c.Route.Points = append([]Coord(nil), r.Route.Points...)
	return &c
}
