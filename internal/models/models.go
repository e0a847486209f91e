package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Place is a geocoordinate with the human readable address the client sent.
type Place struct {
	Coord
	Address string `json:"address,omitempty"`
}

// Route is a ride's planned path. It is not edited once the ride is active.
type Route struct {
	Points          []Coord `json:"points"`
	DistanceMeters  float64 `json:"distance_meters"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type RideStatus string

const (
	RideActive     RideStatus = "ACTIVE"
	RideInProgress RideStatus = "IN_PROGRESS"
	RideCompleted  RideStatus = "COMPLETED"
	RideCancelled  RideStatus = "CANCELLED"
)

func (s RideStatus) String() string { return string(s) }

type Ride struct {
	ID             string     `json:"id"`
	DriverID       string     `json:"driver_id"`
	VehicleID      string     `json:"vehicle_id"`
	Origin         Place      `json:"origin"`
	Destination    Place      `json:"destination"`
	Route          Route      `json:"route"`
	DepartureAt    time.Time  `json:"departure_at"`
	TotalSeats     int        `json:"total_seats"`
	AvailableSeats int        `json:"available_seats"`
	PricePerSeat   int64      `json:"price_per_seat"` // minor units
	Currency       string     `json:"currency"`
	Status         RideStatus `json:"status"`
	Earnings       int64      `json:"earnings"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
}

// HasGeometry reports whether the ride carries a usable route polyline.
func (r *Ride) HasGeometry() bool { return r != nil && len(r.Route.Points) >= 2 }
