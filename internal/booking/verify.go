package booking

import (
	"context"
	"fmt"

	"github.com/example/rideshare/internal/apperrors"
	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/observability"
	"github.com/example/rideshare/internal/storage"
	"github.com/example/rideshare/internal/verification"
)

// VerifyPickup checks the passenger's pickup code. On success the booking is
// PICKED_UP and its dropoff code is issued.
func (s *Service) VerifyPickup(ctx context.Context, id, actor, code string) (*models.Booking, error) {
	return s.verify(ctx, id, actor, code, models.CheckpointPickup)
}

// VerifyDropoff checks the dropoff code and leaves the booking DROPPED_OFF,
// awaiting payment.
func (s *Service) VerifyDropoff(ctx context.Context, id, actor, code string) (*models.Booking, error) {
	return s.verify(ctx, id, actor, code, models.CheckpointDropoff)
}

func (s *Service) verify(ctx context.Context, id, actor, code string, cp models.Checkpoint) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireDriver(b, actor); err != nil {
		return nil, err
	}
	b, err = s.Store.RecordVerificationAttempt(ctx, id, cp)
	if err != nil {
		return nil, fmt.Errorf("record %s attempt: %w", cp, err)
	}

	// a code that already passed is reported as such, whatever the status now
	if c := b.Code(cp); c != nil && c.Verified {
		observability.VerificationAttempts.WithLabelValues(string(cp), string(verification.AlreadyVerified)).Inc()
		return nil, apperrors.VerificationFailed(string(verification.AlreadyVerified), b)
	}

	action := "verify " + string(cp)
	from := []models.BookingStatus{models.BookingPickupPending}
	if cp == models.CheckpointDropoff {
		from = []models.BookingStatus{models.BookingPickedUp, models.BookingDropoffPending}
	}
	if !containsStatus(from, b.Status) {
		observability.VerificationAttempts.WithLabelValues(string(cp), "INVALID_STATE").Inc()
		return nil, apperrors.InvalidState(action, b.Status, b)
	}

	now := s.now()
	res := verification.Verify(code, b.Code(cp), now)
	observability.VerificationAttempts.WithLabelValues(string(cp), string(res.Reason)).Inc()
	if !res.Valid {
		return nil, apperrors.VerificationFailed(string(res.Reason), b)
	}
	verified := *b.Code(cp)
	verified.Verified = true
	verified.VerifiedAt = &now

	t := storage.BookingTransition{From: from, At: now, Actor: actor}
	var dropoff models.VerificationCode
	if cp == models.CheckpointPickup {
		dropoff, err = s.Codes.Generate(now)
		if err != nil {
			return nil, fmt.Errorf("generate dropoff code: %w", err)
		}
		t.To = models.BookingPickedUp
		t.PickupCode = &verified
		t.DropoffCode = &dropoff
	} else {
		t.To = models.BookingDroppedOff
		t.DropoffCode = &verified
	}
	updated, err := s.transition(ctx, id, action, t)
	if err != nil {
		return nil, err
	}

	if cp == models.CheckpointPickup {
		ev := bookingEvent(models.EventPickedUp, updated)
		ev.Data = map[string]any{"dropoff_code": dropoff.Code}
		s.emit(ctx, ev, updated.PassengerID)
	} else {
		s.emit(ctx, bookingEvent(models.EventDroppedOff, updated), updated.DriverID, updated.PassengerID)
	}
	return updated, nil
}

func containsStatus(list []models.BookingStatus, st models.BookingStatus) bool {
	for _, v := range list {
		if v == st {
			return true
		}
	}
	return false
}
