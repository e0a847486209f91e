package geo

import (
	"errors"
	"math"

	"github.com/example/rideshare/internal/models"
)

// ErrInvalidGeometry is returned for polylines with fewer than two points.
var ErrInvalidGeometry = errors.New("polyline needs at least 2 points")

// Projection is where a query point lands on a polyline.
type Projection struct {
	Point      models.Coord // closest point on the polyline
	DistanceKm float64      // on-route distance from the query point
	Segment    int          // index i of the segment points[i]->points[i+1]
	T          float64      // position along that segment, 0..1
}

// ClosestOnSegment projects p onto segment a-b in lon/lat space, clamping to
// the segment ends. A degenerate segment returns a.
func ClosestOnSegment(p, a, b models.Coord) (models.Coord, float64) {
	dx := b.Lon - a.Lon
	dy := b.Lat - a.Lat
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return a, 0
	}
	t := ((p.Lon-a.Lon)*dx + (p.Lat-a.Lat)*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return models.Coord{Lat: a.Lat + t*dy, Lon: a.Lon + t*dx}, t
}

// Locate finds the globally closest segment of points to p. Ties keep the
// earlier segment.
func Locate(p models.Coord, points []models.Coord) (Projection, error) {
	if len(points) < 2 {
		return Projection{}, ErrInvalidGeometry
	}
	best := Projection{DistanceKm: math.Inf(1)}
	for i := 0; i < len(points)-1; i++ {
		c, t := ClosestOnSegment(p, points[i], points[i+1])
		d := HaversineKm(p.Lat, p.Lon, c.Lat, c.Lon)
		if d < best.DistanceKm {
			best = Projection{Point: c, DistanceKm: d, Segment: i, T: t}
		}
	}
	return best, nil
}

// AlongRouteKm is the distance travelled on the polyline between two
// projections, from must not be after to.
func AlongRouteKm(points []models.Coord, from, to Projection) float64 {
	if from.Segment == to.Segment {
		return HaversineKm(from.Point.Lat, from.Point.Lon, to.Point.Lat, to.Point.Lon)
	}
	next := points[from.Segment+1]
	total := HaversineKm(from.Point.Lat, from.Point.Lon, next.Lat, next.Lon)
	for k := from.Segment + 1; k < to.Segment; k++ {
		total += HaversineKm(points[k].Lat, points[k].Lon, points[k+1].Lat, points[k+1].Lon)
	}
	last := points[to.Segment]
	total += HaversineKm(last.Lat, last.Lon, to.Point.Lat, to.Point.Lon)
	return total
}

// LengthKm sums every segment of the polyline.
func LengthKm(points []models.Coord) float64 {
	total := 0.0
	for i := 0; i < len(points)-1; i++ {
		total += HaversineKm(points[i].Lat, points[i].Lon, points[i+1].Lat, points[i+1].Lon)
	}
	return total
}

// Densify returns the polyline vertices plus interpolated points so that no
// two consecutive points are more than stepKm apart.
func Densify(points []models.Coord, stepKm float64) []models.Coord {
	if len(points) == 0 {
		return nil
	}
	out := []models.Coord{points[0]}
	for i := 0; i < len(points)-1; i++ {
		a, b := points[i], points[i+1]
		if stepKm > 0 {
			d := HaversineKm(a.Lat, a.Lon, b.Lat, b.Lon)
			n := int(math.Ceil(d / stepKm))
			for k := 1; k < n; k++ {
				t := float64(k) / float64(n)
				out = append(out, models.Coord{Lat: a.Lat + t*(b.Lat-a.Lat), Lon: a.Lon + t*(b.Lon-a.Lon)})
			}
		}
		out = append(out, b)
	}
	return out
}
