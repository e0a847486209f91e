package booking

import (
	"context"

	"github.com/example/rideshare/internal/apperrors"
	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/settlement"
	"github.com/example/rideshare/internal/storage"
)

// ConfirmPayment settles a DROPPED_OFF booking. Either party may confirm; a
// second confirmation fails with INVALID_STATE. The driver's payout is added
// to the ride's earnings and the ride completes once no booking is open.
func (s *Service) ConfirmPayment(ctx context.Context, id, actor string) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParty(b, actor); err != nil {
		return nil, err
	}
	if b.Status != models.BookingDroppedOff {
		return nil, apperrors.InvalidState("confirm payment", b.Status, b)
	}

	p := b.Payment
	if p.Status == models.PaymentAuthorized && p.IntentID != "" {
		if s.Payments == nil {
			return nil, apperrors.PaymentFailed(errNoGateway, b)
		}
		if err := s.Payments.Capture(ctx, p.IntentID); err != nil {
			// the other party may have settled it first
			cur, lerr := s.loadBooking(ctx, id)
			if lerr == nil && cur.Status != models.BookingDroppedOff {
				return nil, apperrors.InvalidState("confirm payment", cur.Status, cur)
			}
			return nil, apperrors.PaymentFailed(err, b)
		}
	}
	now := s.now()
	p.Status = models.PaymentPaid
	p.Confirmed = true
	p.ConfirmedBy = actor
	p.ConfirmedAt = &now
	p.Payout = models.Payout{Amount: settlement.Payout(p), Status: models.PayoutPending}

	updated, err := s.transition(ctx, id, "confirm payment", storage.BookingTransition{
		From:         []models.BookingStatus{models.BookingDroppedOff},
		To:           models.BookingCompleted,
		At:           now,
		Actor:        actor,
		Payment:      &p,
		ReleaseSeats: true,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.Store.AddEarnings(ctx, updated.RideID, p.Payout.Amount); err != nil {
		s.logger().Error("add ride earnings failed", "ride_id", updated.RideID, "booking_id", id, "amount", p.Payout.Amount, "error", err)
	}
	s.emit(ctx, bookingEvent(models.EventPaymentConfirmed, updated), updated.DriverID, updated.PassengerID)
	s.logger().Info("payment confirmed", "booking_id", id, "ride_id", updated.RideID, "by", actor, "payout", p.Payout.Amount)
	s.completeRideIfDone(ctx, updated.RideID)
	return updated, nil
}
