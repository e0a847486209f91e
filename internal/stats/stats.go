// Package stats aggregates per-driver totals when rides complete.
package stats

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Completion is what a finished ride contributes to its driver's totals.
type Completion struct {
	DriverID       string
	RideID         string
	DistanceMeters float64
	Earnings       int64
	Passengers     int
}

type DriverStats struct {
	RidesCompleted int64 `json:"rides_completed"`
	DistanceMeters int64 `json:"distance_meters"`
	Earnings       int64 `json:"earnings"`
	Passengers     int64 `json:"passengers"`
}

// Recorder is the driver statistics collaborator.
type Recorder interface {
	RecordCompletion(ctx context.Context, c Completion) error
	Get(ctx context.Context, driverID string) (DriverStats, error)
}

const (
	fieldRides      = "rides_completed"
	fieldDistance   = "distance_meters"
	fieldEarnings   = "earnings"
	fieldPassengers = "passengers"
)

// RedisStats keeps one hash per driver and bumps it with HINCRBY.
type RedisStats struct {
	client *redis.Client
	prefix string
}

func NewRedisStats(addr, password string) *RedisStats {
	return &RedisStats{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix: "driver:stats:",
	}
}

func (s *RedisStats) key(driverID string) string { return s.prefix + driverID }

func (s *RedisStats) RecordCompletion(ctx context.Context, c Completion) error {
	key := s.key(c.DriverID)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, key, fieldRides, 1)
		p.HIncrBy(ctx, key, fieldDistance, int64(c.DistanceMeters))
		p.HIncrBy(ctx, key, fieldEarnings, c.Earnings)
		p.HIncrBy(ctx, key, fieldPassengers, int64(c.Passengers))
		return nil
	})
	if err != nil {
		return fmt.Errorf("record completion for driver %s: %w", c.DriverID, err)
	}
	return nil
}

func (s *RedisStats) Get(ctx context.Context, driverID string) (DriverStats, error) {
	vals, err := s.client.HGetAll(ctx, s.key(driverID)).Result()
	if err != nil {
		return DriverStats{}, err
	}
	var out DriverStats
	for field, dst := range map[string]*int64{
		fieldRides:      &out.RidesCompleted,
		fieldDistance:   &out.DistanceMeters,
		fieldEarnings:   &out.Earnings,
		fieldPassengers: &out.Passengers,
	} {
		v, ok := vals[field]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return DriverStats{}, fmt.Errorf("parse %s: %w", field, err)
		}
		*dst = n
	}
	return out, nil
}

func (s *RedisStats) Close() error { return s.client.Close() }

// Memory is an in-process Recorder.
type Memory struct {
	mu      sync.Mutex
	drivers map[string]DriverStats
}

func NewMemory() *Memory { return &Memory{drivers: make(map[string]DriverStats)} }

func (m *Memory) RecordCompletion(_ context.Context, c Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.drivers[c.DriverID]
	d.RidesCompleted++
	d.DistanceMeters += int64(c.DistanceMeters)
	d.Earnings += c.Earnings
	d.Passengers += int64(c.Passengers)
	m.drivers[c.DriverID] = d
	return nil
}

func (m *Memory) Get(_ context.Context, driverID string) (DriverStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drivers[driverID], nil
}
