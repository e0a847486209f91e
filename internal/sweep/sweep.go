// Package sweep expires bookings the driver never answered.
package sweep

import (
	"context"
	"log/slog"
	"time"
)

type Expirer interface {
	ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type Sweeper struct {
	Bookings Expirer
	TTL      time.Duration // age after which a PENDING booking expires
	Interval time.Duration
	Batch    int
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Once(ctx)
		}
	}
}

// Once runs a single sweep and returns how many bookings expired.
func (s *Sweeper) Once(ctx context.Context) int {
	now := time.Now()
	if s.Clock != nil {
		now = s.Clock()
	}
	batch := s.Batch
	if batch <= 0 {
		batch = 100
	}
	n, err := s.Bookings.ExpirePending(ctx, now.Add(-s.TTL), batch)
	if err != nil {
		s.logger().Error("expiry sweep failed", "expired", n, "error", err)
		return n
	}
	if n > 0 {
		s.logger().Info("expired stale bookings", "count", n)
	}
	return n
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
