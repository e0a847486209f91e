package routing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/example/rideshare/internal/geo"
	"github.com/example/rideshare/internal/models"
)

// Client is the external map provider used to measure a planned route.
type Client interface {
	Measure(ctx context.Context, points []models.Coord) (meters, seconds float64, err error)
}

type cacheEntry struct {
	meters  float64
	seconds float64
	ts      time.Time
}

// Cache is a tiny in-memory cache for route measurements keyed by the polyline.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(points []models.Coord) string {
	var b strings.Builder
	for i, p := range points {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%.6f,%.6f", p.Lat, p.Lon)
	}
	return b.String()
}

// Get returns the cached measurement and true if present and not expired.
func (c *Cache) Get(points []models.Coord) (float64, float64, bool) {
	k := keyFor(points)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, 0, false
	}
	return e.meters, e.seconds, true
}

func (c *Cache) Set(points []models.Coord, meters, seconds float64) {
	k := keyFor(points)
	c.mu.Lock()
	c.store[k] = cacheEntry{meters: meters, seconds: seconds, ts: time.Now()}
	c.mu.Unlock()
}

// Estimator fills a route's aggregate distance and duration, preferring the
// provider, then the cache, then a straight-line estimate.
type Estimator struct {
	Client          Client // optional
	Cache           *Cache // optional
	DefaultSpeedMps float64
}

func (e *Estimator) Fill(ctx context.Context, r *models.Route) error {
	if r.DistanceMeters > 0 && r.DurationSeconds > 0 {
		return nil
	}
	if e.Cache != nil {
		if m, s, ok := e.Cache.Get(r.Points); ok {
			r.DistanceMeters, r.DurationSeconds = m, s
			return nil
		}
	}
	if e.Client != nil {
		m, s, err := e.Client.Measure(ctx, r.Points)
		if err == nil {
			r.DistanceMeters, r.DurationSeconds = m, s
			if e.Cache != nil {
				e.Cache.Set(r.Points, m, s)
			}
			return nil
		}
		// fall through to the naive estimate
	}
	r.DistanceMeters, r.DurationSeconds = Estimate(r.Points, e.DefaultSpeedMps)
	return nil
}

// Naive estimate: polyline length / speed_mps. In prod use a routing engine.
func Estimate(points []models.Coord, speedMps float64) (float64, float64) {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	meters := geo.LengthKm(points) * 1000
	return meters, meters / speedMps
}
