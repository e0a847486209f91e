package geo

import (
	"context"
	"math"
	"sync"

	"github.com/example/rideshare/internal/models"
)

// RideIndex narrows ride search to rides whose route passes near a point.
type RideIndex interface {
	Upsert(ctx context.Context, rideID string, points []models.Coord) error
	Remove(ctx context.Context, rideID string) error
	Nearby(ctx context.Context, c models.Coord, radiusKm float64, limit int) ([]string, error)
}

type Index struct {
	mu     sync.RWMutex
	routes map[string][]models.Coord
}

func NewIndex() *Index {
	return &Index{routes: make(map[string][]models.Coord)}
}

func (g *Index) Upsert(_ context.Context, rideID string, points []models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.routes[rideID] = append([]models.Coord(nil), points...)
	return nil
}

func (g *Index) Remove(_ context.Context, rideID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.routes, rideID)
	return nil
}

// naive scan over indexed points; rides are returned nearest first
func (g *Index) Nearby(_ context.Context, c models.Coord, radiusKm float64, limit int) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		id   string
		dist float64
	}
	arr := make([]pair, 0, len(g.routes))
	for id, pts := range g.routes {
		best := math.Inf(1)
		for _, p := range pts {
			if d := HaversineKm(c.Lat, c.Lon, p.Lat, p.Lon); d < best {
				best = d
			}
		}
		if best <= radiusKm {
			arr = append(arr, pair{id, best})
		}
	}
	// partial selection sort for top-N
	n := limit
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].id)
	}
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	return Haversine(lat1, lon1, lat2, lon2) / 1000
}
