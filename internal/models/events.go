package models

import "time"

// Event types emitted after successful transitions.
const (
	EventBookingRequested = "booking.requested"
	EventBookingAccepted  = "booking.accepted"
	EventBookingRejected  = "booking.rejected"
	EventBookingCancelled = "booking.cancelled"
	EventBookingExpired   = "booking.expired"
	EventBookingNoShow    = "booking.no_show"
	EventPickupCodeIssued = "booking.pickup_code_issued"
	EventPickedUp         = "booking.picked_up"
	EventDroppedOff       = "booking.dropped_off"
	EventPaymentConfirmed = "booking.payment_confirmed"
	EventRideStarted      = "ride.started"
	EventRideCompleted    = "ride.completed"
	EventRideCancelled    = "ride.cancelled"
)

// Event is a notification intent. Delivery is best effort and never feeds
// back into the transition that produced it.
type Event struct {
	Type      string         `json:"type"`
	RideID    string         `json:"ride_id"`
	BookingID string         `json:"booking_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	At        time.Time      `json:"at"`
	Data      map[string]any `json:"data,omitempty"`
}

// Audience lists the users an event is addressed to.
type Audience struct {
	UserIDs []string `json:"user_ids"`
}
