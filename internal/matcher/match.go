package matcher

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/example/rideshare/internal/geo"
	"github.com/example/rideshare/internal/models"
)

// DefaultThresholdKm bounds how far a trip end may lie from the route when no
// threshold is configured.
const DefaultThresholdKm = 5.0

// IndexStep is the spacing used to densify routes for the proximity index.
// Without a configured step the threshold is used.
func IndexStep(stepKm, thresholdKm float64) float64 {
	if stepKm > 0 {
		return stepKm
	}
	return thresholdKm
}

type FailureReason string

const (
	OffRoutePickup  FailureReason = "OFF_ROUTE_PICKUP"
	OffRouteDropoff FailureReason = "OFF_ROUTE_DROPOFF"
	WrongDirection  FailureReason = "WRONG_DIRECTION"
	InvalidGeometry FailureReason = "INVALID_GEOMETRY"
)

// NoMatch is returned when a trip cannot be served by a route.
type NoMatch struct {
	Reason   FailureReason
	Distance float64 // offending off-route distance, km
}

func (n *NoMatch) Error() string {
	if n.Distance > 0 {
		return fmt.Sprintf("no match: %s (%.2fkm off route)", n.Reason, n.Distance)
	}
	return "no match: " + string(n.Reason)
}

// Reason extracts the failure reason from a Match error.
func Reason(err error) (FailureReason, bool) {
	var nm *NoMatch
	if errors.As(err, &nm) {
		return nm.Reason, true
	}
	return "", false
}

type Quality string

const (
	Perfect   Quality = "PERFECT"
	Excellent Quality = "EXCELLENT"
	Good      Quality = "GOOD"
	Fair      Quality = "FAIR"
	Poor      Quality = "POOR"
)

func QualityFor(score float64) Quality {
	switch {
	case score >= 90:
		return Perfect
	case score >= 75:
		return Excellent
	case score >= 60:
		return Good
	case score >= 40:
		return Fair
	default:
		return Poor
	}
}

// Trip is the passenger side of a match.
type Trip struct {
	Pickup  models.Coord `json:"pickup"`
	Dropoff models.Coord `json:"dropoff"`
}

type Result struct {
	Pickup            geo.Projection
	Dropoff           geo.Projection
	SegmentDistanceKm float64 // along the route, pickup to dropoff
	DirectDistanceKm  float64 // great circle, pickup to dropoff
	DetourPercent     float64
	Score             float64
	Quality           Quality
}

// Match tests whether trip lies near route and in travel order, and scores it.
// thresholdKm bounds the on-route distance of both trip ends.
func Match(trip Trip, route []models.Coord, thresholdKm float64) (Result, error) {
	if len(route) < 2 {
		return Result{}, &NoMatch{Reason: InvalidGeometry}
	}
	pu, err := geo.Locate(trip.Pickup, route)
	if err != nil {
		return Result{}, &NoMatch{Reason: InvalidGeometry}
	}
	if pu.DistanceKm > thresholdKm {
		return Result{}, &NoMatch{Reason: OffRoutePickup, Distance: pu.DistanceKm}
	}
	do, _ := geo.Locate(trip.Dropoff, route)
	if do.DistanceKm > thresholdKm {
		return Result{}, &NoMatch{Reason: OffRouteDropoff, Distance: do.DistanceKm}
	}
	if do.Segment <= pu.Segment {
		return Result{}, &NoMatch{Reason: WrongDirection}
	}

	res := Result{
		Pickup:            pu,
		Dropoff:           do,
		SegmentDistanceKm: geo.AlongRouteKm(route, pu, do),
		DirectDistanceKm:  geo.HaversineKm(trip.Pickup.Lat, trip.Pickup.Lon, trip.Dropoff.Lat, trip.Dropoff.Lon),
	}
	if res.DirectDistanceKm > 0 {
		res.DetourPercent = math.Max(0, (res.SegmentDistanceKm-res.DirectDistanceKm)/res.DirectDistanceKm*100)
	}
	res.Score = Score(pu.DistanceKm, do.DistanceKm, thresholdKm)
	res.Quality = QualityFor(res.Score)
	return res, nil
}

// Score gives each trip end up to 50 points, decaying linearly to 0 as its
// off-route distance reaches the threshold. A successful match never scores
// below 50.
func Score(pickupKm, dropoffKm, thresholdKm float64) float64 {
	part := func(d float64) float64 {
		if thresholdKm <= 0 {
			return 50
		}
		return 50 * math.Max(0, 1-d/thresholdKm)
	}
	s := part(pickupKm) + part(dropoffKm)
	return math.Min(100, math.Max(50, s))
}

type Candidate struct {
	Ride   *models.Ride
	Result Result
}

// FindMatches matches trip against every ride and returns the successful ones
// best first, at most limit of them. Rides without geometry are skipped.
func FindMatches(trip Trip, rides []*models.Ride, thresholdKm float64, limit int) []Candidate {
	out := make([]Candidate, 0, len(rides))
	for _, r := range rides {
		if !r.HasGeometry() {
			continue
		}
		res, err := Match(trip, r.Route.Points, thresholdKm)
		if err != nil {
			continue
		}
		out = append(out, Candidate{Ride: r, Result: res})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Result.Score > out[j].Result.Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
