package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/rideshare/internal/apperrors"
	"github.com/example/rideshare/internal/booking"
	"github.com/example/rideshare/internal/matcher"
	"github.com/example/rideshare/internal/models"
)

// placeRequest carries coordinates as [lon, lat].
type placeRequest struct {
	Coordinates []float64 `json:"coordinates" validate:"len=2"`
	Address     string    `json:"address" validate:"max=256"`
}

func (p placeRequest) place() models.Place {
	if len(p.Coordinates) != 2 {
		return models.Place{Address: p.Address}
	}
	return models.Place{Coord: lonLat(p.Coordinates), Address: p.Address}
}

func lonLat(v []float64) models.Coord { return models.Coord{Lon: v[0], Lat: v[1]} }

func validCoord(c models.Coord) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

type createRideRequest struct {
	VehicleID       string        `json:"vehicle_id" validate:"max=64"`
	Origin          *placeRequest `json:"origin" validate:"omitempty"`
	Destination     *placeRequest `json:"destination" validate:"omitempty"`
	Route           [][]float64   `json:"route" validate:"dive,len=2"`
	DistanceMeters  float64       `json:"distance_meters" validate:"gte=0"`
	DurationSeconds float64       `json:"duration_seconds" validate:"gte=0"`
	DepartureAt     time.Time     `json:"departure_at" validate:"required"`
	Seats           int           `json:"seats" validate:"min=1,max=16"`
	PricePerSeat    int64         `json:"price_per_seat" validate:"gte=0"`
	Currency        string        `json:"currency" validate:"omitempty,len=3"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var req createRideRequest
	if !s.decode(w, r, &req) {
		return
	}
	in := booking.CreateRideInput{
		DriverID:        actorFrom(r.Context()).ID,
		VehicleID:       req.VehicleID,
		DistanceMeters:  req.DistanceMeters,
		DurationSeconds: req.DurationSeconds,
		DepartureAt:     req.DepartureAt,
		Seats:           req.Seats,
		PricePerSeat:    req.PricePerSeat,
		Currency:        req.Currency,
	}
	for _, p := range req.Route {
		c := lonLat(p)
		if !validCoord(c) {
			s.writeError(w, r, apperrors.InvalidInput("route point out of range"))
			return
		}
		in.Route = append(in.Route, c)
	}
	if req.Origin != nil {
		in.Origin = req.Origin.place()
	} else if len(in.Route) > 0 {
		in.Origin = models.Place{Coord: in.Route[0]}
	}
	if req.Destination != nil {
		in.Destination = req.Destination.place()
	} else if len(in.Route) > 0 {
		in.Destination = models.Place{Coord: in.Route[len(in.Route)-1]}
	}
	ride, err := s.Bookings.CreateRide(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	rides, err := s.Bookings.DriverRides(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

type searchRequest struct {
	Pickup  []float64 `json:"pickup" validate:"len=2"`
	Dropoff []float64 `json:"dropoff" validate:"len=2"`
	Date    string    `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Seats   int       `json:"seats" validate:"omitempty,min=1,max=16"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	q := matcher.SearchRequest{Pickup: lonLat(req.Pickup), Dropoff: lonLat(req.Dropoff), Seats: req.Seats}
	if !validCoord(q.Pickup) || !validCoord(q.Dropoff) {
		s.writeError(w, r, apperrors.InvalidInput("coordinates out of range"))
		return
	}
	if req.Date != "" {
		// validated above
		q.Date, _ = time.Parse("2006-01-02", req.Date)
	}
	results, err := s.Search.Search(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Bookings.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRideBookings(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context()).ID
	list, err := s.Bookings.RideBookings(r.Context(), mux.Vars(r)["id"], actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": redactAll(list, actor)})
}

func (s *Server) handleDriverStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Bookings.DriverStats(r.Context(), mux.Vars(r)["id"], actorFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStartRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Bookings.StartRide(r.Context(), mux.Vars(r)["id"], actorFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCloseRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Bookings.CloseRide(r.Context(), mux.Vars(r)["id"], actorFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !s.decode(w, r, &req) {
		return
	}
	ride, err := s.Bookings.CancelRide(r.Context(), mux.Vars(r)["id"], actorFrom(r.Context()).ID, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}
