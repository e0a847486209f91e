package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/observability"
)

// Notifier delivers an event to its audience over one channel.
type Notifier interface {
	Notify(ctx context.Context, ev models.Event, to models.Audience) error
}

// Channel names a notifier for logs and metrics.
type Channel struct {
	Name string
	Notifier
}

// Fanout delivers every event on all channels and joins their errors.
type Fanout struct {
	Channels []Channel
}

func (f *Fanout) Notify(ctx context.Context, ev models.Event, to models.Audience) error {
	var errs []error
	for _, c := range f.Channels {
		if err := c.Notify(ctx, ev, to); err != nil {
			observability.NotificationFailures.WithLabelValues(c.Name).Inc()
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async hands events to the wrapped notifier on a separate goroutine so the
// caller never waits on delivery. Failures are logged.
type Async struct {
	Next    Notifier
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewAsync(next Notifier, timeout time.Duration, logger *slog.Logger) *Async {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Async{Next: next, Timeout: timeout, Logger: logger}
}

func (a *Async) Notify(ctx context.Context, ev models.Event, to models.Audience) error {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Timeout)
	go func() {
		defer cancel()
		if err := a.Next.Notify(dctx, ev, to); err != nil && a.Logger != nil {
			a.Logger.Warn("notification delivery failed",
				"event", ev.Type, "booking_id", ev.BookingID, "ride_id", ev.RideID, "error", err)
		}
	}()
	return nil
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, models.Event, models.Audience) error { return nil }
