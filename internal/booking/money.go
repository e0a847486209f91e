package booking

import (
	"context"
	"errors"
	"time"

	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/settlement"
	"github.com/example/rideshare/internal/storage"
)

func refundPercent(untilDeparture time.Duration) int {
	return settlement.RefundPercent(untilDeparture)
}

// capture settles the card hold of a freshly confirmed booking. A failed
// capture leaves the hold in place; ConfirmPayment retries it.
func (s *Service) capture(ctx context.Context, b *models.Booking) *models.Booking {
	if s.Payments == nil || b.Payment.IntentID == "" {
		return b
	}
	if err := s.Payments.Capture(ctx, b.Payment.IntentID); err != nil {
		s.logger().Warn("capture failed", "booking_id", b.ID, "intent_id", b.Payment.IntentID, "error", err)
		return b
	}
	p := b.Payment
	p.Status = models.PaymentPaid
	updated, err := s.Store.UpdatePayment(ctx, b.ID, models.PaymentAuthorized, p)
	if err != nil {
		s.logger().Error("record capture failed", "booking_id", b.ID, "error", err)
		return b
	}
	if updated.Status.Terminal() {
		// cancelled while the capture was in flight
		return s.refund(ctx, updated, 100)
	}
	return updated
}

// settleReleased returns money for a booking that left the seat-holding
// states without being completed: an uncaptured hold is voided, a paid
// booking is refunded pct percent of its total.
func (s *Service) settleReleased(ctx context.Context, b *models.Booking, pct int) *models.Booking {
	switch b.Payment.Status {
	case models.PaymentAuthorized:
		return s.void(ctx, b, pct)
	case models.PaymentPaid:
		return s.refund(ctx, b, pct)
	}
	return b
}

func (s *Service) void(ctx context.Context, b *models.Booking, pct int) *models.Booking {
	if s.Payments == nil || b.Payment.IntentID == "" {
		return b
	}
	if err := s.Payments.Cancel(ctx, b.Payment.IntentID); err != nil {
		// a concurrent accept may have captured the hold
		cur, gerr := s.Store.GetBooking(ctx, b.ID)
		if gerr == nil && cur.Payment.Status == models.PaymentPaid {
			return s.refund(ctx, cur, pct)
		}
		s.logger().Warn("release card hold failed", "booking_id", b.ID, "intent_id", b.Payment.IntentID, "error", err)
		return b
	}
	p := b.Payment
	p.Status = models.PaymentVoided
	updated, err := s.Store.UpdatePayment(ctx, b.ID, models.PaymentAuthorized, p)
	if err != nil {
		s.logger().Error("record voided hold failed", "booking_id", b.ID, "error", err)
		return b
	}
	return updated
}

func (s *Service) refund(ctx context.Context, b *models.Booking, pct int) *models.Booking {
	now := s.now()
	amount := settlement.RefundAmount(b.Payment.Total, pct)
	if amount > 0 && b.Payment.IntentID != "" && s.Payments != nil {
		if err := s.Payments.Refund(ctx, b.Payment.IntentID, amount); err != nil {
			s.logger().Error("refund failed", "booking_id", b.ID, "amount", amount, "error", err)
			return b
		}
	}
	p := b.Payment
	p.Refund = &models.Refund{Percent: pct, Amount: amount, RefundedAt: &now}
	switch {
	case amount == 0:
	case amount >= p.Total:
		p.Status = models.PaymentRefunded
	default:
		p.Status = models.PaymentPartiallyRefunded
	}
	updated, err := s.Store.UpdatePayment(ctx, b.ID, models.PaymentPaid, p)
	if errors.Is(err, storage.ErrPaymentConflict) {
		s.logger().Warn("payment changed before refund was recorded", "booking_id", b.ID)
		return b
	}
	if err != nil {
		s.logger().Error("record refund failed", "booking_id", b.ID, "error", err)
		return b
	}
	return updated
}
