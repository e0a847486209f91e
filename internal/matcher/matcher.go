package matcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/rideshare/internal/geo"
	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/observability"
	"github.com/example/rideshare/internal/settlement"
	"github.com/example/rideshare/internal/storage"
)

type RideLister interface {
	ListRides(ctx context.Context, f storage.RideFilter) ([]*models.Ride, error)
}

type Service struct {
	Rides       RideLister
	Index       geo.RideIndex // optional pre-filter
	ThresholdKm float64
	// IndexStepKm is the spacing of the route points the index holds. It
	// must match the spacing used when rides were indexed.
	IndexStepKm float64
	TopN        int
	Pricing     settlement.Policy
	Logger      *slog.Logger
	Clock       func() time.Time
}

type SearchRequest struct {
	Pickup  models.Coord
	Dropoff models.Coord
	Date    time.Time // zero searches from now on
	Seats   int
}

type RideSummary struct {
	ID              string       `json:"id"`
	DriverID        string       `json:"driver_id"`
	VehicleID       string       `json:"vehicle_id"`
	Origin          models.Place `json:"origin"`
	Destination     models.Place `json:"destination"`
	DepartureAt     time.Time    `json:"departure_at"`
	AvailableSeats  int          `json:"available_seats"`
	PricePerSeat    int64        `json:"price_per_seat"`
	Currency        string       `json:"currency"`
	DistanceMeters  float64      `json:"distance_meters"`
	DurationSeconds float64      `json:"duration_seconds"`
}

// Impact is the shared-travel volume a match represents.
type Impact struct {
	SharedSeatKm float64 `json:"shared_seat_km"`
}

type SearchResult struct {
	Ride            RideSummary  `json:"ride"`
	MatchScore      float64      `json:"match_score"`
	MatchQuality    Quality      `json:"match_quality"`
	DetourPercent   float64      `json:"detour_percent"`
	SegmentDistance float64      `json:"segment_distance_km"`
	DirectDistance  float64      `json:"direct_distance_km"`
	PickupPoint     models.Coord `json:"pickup_point"`
	DropoffPoint    models.Coord `json:"dropoff_point"`
	Price           int64        `json:"price"`
	EstimatedImpact Impact       `json:"estimated_impact"`
}

// Search returns rides whose route serves the requested trip, best match first.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	topN := s.TopN
	if topN <= 0 {
		topN = 10
	}
	seats := req.Seats
	if seats <= 0 {
		seats = 1
	}
	now := s.now()
	f := storage.RideFilter{
		Statuses: []models.RideStatus{models.RideActive},
		MinSeats: seats,
		From:     now,
	}
	if !req.Date.IsZero() {
		day := time.Date(req.Date.Year(), req.Date.Month(), req.Date.Day(), 0, 0, 0, 0, req.Date.Location())
		f.To = day.Add(24 * time.Hour)
		if day.After(now) {
			f.From = day
		}
	}
	if s.Index != nil {
		ids, err := s.nearbyBoth(ctx, req)
		switch {
		case err != nil:
			// the index is an optimisation; scan instead
			s.logger().Warn("ride index unavailable", "error", err)
		case len(ids) == 0:
			// an empty answer may be a cold index, so scan the window
		default:
			f.IDs = ids
		}
	}

	rides, err := s.Rides.ListRides(ctx, f)
	if err != nil {
		return nil, err
	}
	cands := FindMatches(Trip{Pickup: req.Pickup, Dropoff: req.Dropoff}, rides, s.threshold(), topN)
	out := make([]SearchResult, 0, len(cands))
	for _, c := range cands {
		quote := s.Pricing.Quote(c.Ride.PricePerSeat, seats, models.PaymentCash)
		out = append(out, SearchResult{
			Ride:            summarize(c.Ride),
			MatchScore:      c.Result.Score,
			MatchQuality:    c.Result.Quality,
			DetourPercent:   c.Result.DetourPercent,
			SegmentDistance: c.Result.SegmentDistanceKm,
			DirectDistance:  c.Result.DirectDistanceKm,
			PickupPoint:     c.Result.Pickup.Point,
			DropoffPoint:    c.Result.Dropoff.Point,
			Price:           quote.Total,
			EstimatedImpact: Impact{SharedSeatKm: c.Result.SegmentDistanceKm * float64(seats)},
		})
	}
	observability.SearchResults.Observe(float64(len(out)))
	return out, nil
}

// nearbyBoth returns rides passing near both the pickup and the dropoff.
func (s *Service) nearbyBoth(ctx context.Context, req SearchRequest) ([]string, error) {
	radius := s.searchRadiusKm()
	near, err := s.Index.Nearby(ctx, req.Pickup, radius, 0)
	if err != nil {
		return nil, err
	}
	far, err := s.Index.Nearby(ctx, req.Dropoff, radius, 0)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(far))
	for _, id := range far {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(near))
	for _, id := range near {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Service) threshold() float64 {
	if s.ThresholdKm <= 0 {
		return DefaultThresholdKm
	}
	return s.ThresholdKm
}

// searchRadiusKm widens the threshold by half the index spacing: a trip end
// within the threshold of the route lies within that radius of some indexed
// point.
func (s *Service) searchRadiusKm() float64 {
	return s.threshold() + IndexStep(s.IndexStepKm, s.threshold())/2
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func summarize(r *models.Ride) RideSummary {
	return RideSummary{
		ID:              r.ID,
		DriverID:        r.DriverID,
		VehicleID:       r.VehicleID,
		Origin:          r.Origin,
		Destination:     r.Destination,
		DepartureAt:     r.DepartureAt,
		AvailableSeats:  r.AvailableSeats,
		PricePerSeat:    r.PricePerSeat,
		Currency:        r.Currency,
		DistanceMeters:  r.Route.DistanceMeters,
		DurationSeconds: r.Route.DurationSeconds,
	}
}
