package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/rideshare/internal/apperrors"
	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/payments"
)

// driveToDroppedOff takes a PENDING booking through accept, ride start and
// both verifications.
func driveToDroppedOff(t *testing.T, f *fixture, rideID string, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		if _, err := f.svc.Accept(ctx, id, "driver-1"); err != nil {
			t.Fatalf("accept %s: %v", id, err)
		}
	}
	if _, err := f.svc.StartRide(ctx, rideID, "driver-1"); err != nil {
		t.Fatalf("start ride: %v", err)
	}
	for _, id := range ids {
		if _, err := f.svc.VerifyPickup(ctx, id, "driver-1", code(t, f, id, models.CheckpointPickup)); err != nil {
			t.Fatalf("verify pickup %s: %v", id, err)
		}
		if _, err := f.svc.VerifyDropoff(ctx, id, "driver-1", code(t, f, id, models.CheckpointDropoff)); err != nil {
			t.Fatalf("verify dropoff %s: %v", id, err)
		}
	}
}

func TestBookingLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.ride(t, 3, 48*time.Hour)
	b := f.book(t, r.ID, "p1", 2, models.PaymentCash)

	if _, err := f.svc.Accept(ctx, b.ID, "driver-1"); err != nil {
		t.Fatal(err)
	}
	started, err := f.svc.StartRide(ctx, r.ID, "driver-1")
	if err != nil {
		t.Fatal(err)
	}
	if started.Status != models.RideInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", started.Status)
	}
	got, _ := f.store.GetBooking(ctx, b.ID)
	if got.Status != models.BookingPickupPending || got.PickupCode == nil || got.DropoffCode != nil {
		t.Fatalf("expected pickup code only, got %+v", got)
	}

	// wrong code counts as an attempt and changes nothing else
	pickup := got.PickupCode.Code
	_, err = f.svc.VerifyPickup(ctx, b.ID, "driver-1", wrong(pickup))
	if !errors.Is(err, &apperrors.Error{Code: apperrors.CodeVerificationFailed, Reason: "MISMATCH"}) {
		t.Fatalf("expected MISMATCH, got %v", err)
	}
	got, _ = f.store.GetBooking(ctx, b.ID)
	if got.PickupAttempts != 1 || got.Status != models.BookingPickupPending || got.DropoffCode != nil {
		t.Fatalf("unexpected booking after mismatch: %+v", got)
	}

	// dropoff cannot be verified before pickup
	_, err = f.svc.VerifyDropoff(ctx, b.ID, "driver-1", "1234")
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("expected INVALID_STATE for early dropoff, got %v", err)
	}

	picked, err := f.svc.VerifyPickup(ctx, b.ID, "driver-1", pickup)
	if err != nil {
		t.Fatal(err)
	}
	if picked.Status != models.BookingPickedUp || !picked.PickupCode.Verified || picked.DropoffCode == nil {
		t.Fatalf("unexpected booking after pickup: %+v", picked)
	}
	dropoff := picked.DropoffCode.Code

	// replaying the pickup code does not reissue the dropoff code
	_, err = f.svc.VerifyPickup(ctx, b.ID, "driver-1", pickup)
	if !errors.Is(err, &apperrors.Error{Code: apperrors.CodeVerificationFailed, Reason: "ALREADY_VERIFIED"}) {
		t.Fatalf("expected ALREADY_VERIFIED on second pickup, got %v", err)
	}
	if ae, _ := apperrors.As(err); ae == nil || ae.Current.(*models.Booking).Status != models.BookingPickedUp {
		t.Fatalf("expected current booking in error, got %v", err)
	}
	if again := code(t, f, b.ID, models.CheckpointDropoff); again != dropoff {
		t.Fatalf("dropoff code changed from %s to %s", dropoff, again)
	}

	dropped, err := f.svc.VerifyDropoff(ctx, b.ID, "driver-1", dropoff)
	if err != nil {
		t.Fatal(err)
	}
	if dropped.Status != models.BookingDroppedOff || dropped.Payment.Status != models.PaymentPending {
		t.Fatalf("dropoff should hold payment pending, got %+v", dropped)
	}
	_, err = f.svc.VerifyDropoff(ctx, b.ID, "driver-1", dropoff)
	if !errors.Is(err, &apperrors.Error{Code: apperrors.CodeVerificationFailed, Reason: "ALREADY_VERIFIED"}) {
		t.Fatalf("expected ALREADY_VERIFIED on second dropoff, got %v", err)
	}

	done, err := f.svc.ConfirmPayment(ctx, b.ID, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != models.BookingCompleted || !done.Payment.Confirmed || done.Payment.ConfirmedBy != "p1" {
		t.Fatalf("unexpected completed booking %+v", done)
	}
	if done.Payment.Payout.Amount != 20000 || done.Payment.Payout.Status != models.PayoutPending {
		t.Fatalf("unexpected payout %+v", done.Payment.Payout)
	}

	// second confirmation surfaces as an error
	_, err = f.svc.ConfirmPayment(ctx, b.ID, "driver-1")
	ae, ok := apperrors.As(err)
	if !ok || ae.Code != apperrors.CodeInvalidState || ae.Reason != string(models.BookingCompleted) {
		t.Fatalf("expected INVALID_STATE (COMPLETED), got %v", err)
	}

	ride := f.assertSeats(t, r.ID)
	if ride.Status != models.RideCompleted || ride.Earnings != 20000 || ride.AvailableSeats != 3 {
		t.Fatalf("unexpected ride after settlement %+v", ride)
	}
	st, _ := f.stats.Get(ctx, "driver-1")
	if st.RidesCompleted != 1 || st.Earnings != 20000 || st.Passengers != 2 {
		t.Fatalf("unexpected driver stats %+v", st)
	}

	want := []models.BookingStatus{
		models.BookingPending, models.BookingConfirmed, models.BookingPickupPending,
		models.BookingPickedUp, models.BookingDroppedOff, models.BookingCompleted,
	}
	if len(done.History) != len(want) {
		t.Fatalf("unexpected history %+v", done.History)
	}
	for i, h := range done.History {
		if h.Status != want[i] {
			t.Fatalf("history[%d] = %s, want %s", i, h.Status, want[i])
		}
	}
}

func TestRideCompletesAfterLastBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.ride(t, 3, 48*time.Hour)
	a := f.book(t, r.ID, "p1", 1, models.PaymentCash)
	b := f.book(t, r.ID, "p2", 1, models.PaymentUPI)
	driveToDroppedOff(t, f, r.ID, a.ID, b.ID)

	if _, err := f.svc.ConfirmPayment(ctx, a.ID, "driver-1"); err != nil {
		t.Fatal(err)
	}
	if ride := f.assertSeats(t, r.ID); ride.Status != models.RideInProgress {
		t.Fatalf("ride closed with a booking still open: %s", ride.Status)
	}
	if _, err := f.svc.ConfirmPayment(ctx, b.ID, "p2"); err != nil {
		t.Fatal(err)
	}
	ride := f.assertSeats(t, r.ID)
	if ride.Status != models.RideCompleted || ride.CompletedAt == nil || ride.Earnings != 20000 {
		t.Fatalf("unexpected ride %+v", ride)
	}
}

func TestStartRideNeedsConfirmedBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.ride(t, 3, 48*time.Hour)
	pending := f.book(t, r.ID, "p1", 1, models.PaymentCash)

	_, err := f.svc.StartRide(ctx, r.ID, "driver-1")
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("expected INVALID_STATE without confirmed bookings, got %v", err)
	}

	confirmed := f.book(t, r.ID, "p2", 1, models.PaymentCash)
	if _, err := f.svc.Accept(ctx, confirmed.ID, "driver-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.StartRide(ctx, r.ID, "driver-1"); err != nil {
		t.Fatal(err)
	}
	got, _ := f.store.GetBooking(ctx, pending.ID)
	if got.Status != models.BookingExpired {
		t.Fatalf("pending booking should expire at ride start, got %s", got.Status)
	}
	f.assertSeats(t, r.ID)
	if ids, _ := f.svc.Index.Nearby(ctx, pt(0, 1), 5, 0); len(ids) != 0 {
		t.Fatalf("started ride still searchable: %v", ids)
	}
}

func TestNoShowClosesRideWhenNothingLeft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.ride(t, 2, 48*time.Hour)
	b := f.book(t, r.ID, "p1", 1, models.PaymentCash)
	if _, err := f.svc.Accept(ctx, b.ID, "driver-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.StartRide(ctx, r.ID, "driver-1"); err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.MarkNoShow(ctx, b.ID, "driver-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.BookingNoShow {
		t.Fatalf("expected NO_SHOW, got %s", got.Status)
	}
	if ride := f.assertSeats(t, r.ID); ride.Status != models.RideCompleted {
		t.Fatalf("expected ride completed, got %s", ride.Status)
	}
}

func TestCloseRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.ride(t, 2, 48*time.Hour)
	b := f.book(t, r.ID, "p1", 1, models.PaymentCash)
	if _, err := f.svc.CloseRide(ctx, r.ID, "driver-1"); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("expected INVALID_STATE with an open booking, got %v", err)
	}
	if _, err := f.svc.Cancel(ctx, b.ID, "p1", "changed plans"); err != nil {
		t.Fatal(err)
	}
	closed, err := f.svc.CloseRide(ctx, r.ID, "driver-1")
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != models.RideCompleted {
		t.Fatalf("expected COMPLETED, got %s", closed.Status)
	}
}

func TestCancelRideCancelsBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.ride(t, 4, 48*time.Hour)
	a := f.book(t, r.ID, "p1", 1, models.PaymentCard)
	b := f.book(t, r.ID, "p2", 2, models.PaymentCash)
	if _, err := f.svc.Accept(ctx, a.ID, "driver-1"); err != nil {
		t.Fatal(err)
	}
	ride, err := f.svc.CancelRide(ctx, r.ID, "driver-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if ride.Status != models.RideCancelled || ride.AvailableSeats != 4 {
		t.Fatalf("unexpected ride %+v", ride)
	}
	ga, _ := f.store.GetBooking(ctx, a.ID)
	gb, _ := f.store.GetBooking(ctx, b.ID)
	if ga.Status != models.BookingCancelled || gb.Status != models.BookingCancelled {
		t.Fatalf("bookings not cancelled: %s %s", ga.Status, gb.Status)
	}
	if ga.Payment.Status != models.PaymentRefunded {
		t.Fatalf("paid booking should be refunded in full, got %+v", ga.Payment)
	}
	if _, err := f.svc.CreateBooking(ctx, bookingInput(r.ID, "p3", 1, models.PaymentCash)); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("booking a cancelled ride should fail, got %v", err)
	}
}

func TestCardHoldCapturedOnAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.ride(t, 3, 48*time.Hour)
	b := f.book(t, r.ID, "p1", 2, models.PaymentCard)
	if b.Payment.Status != models.PaymentAuthorized || b.Payment.IntentID == "" {
		t.Fatalf("expected authorized hold, got %+v", b.Payment)
	}
	accepted, err := f.svc.Accept(ctx, b.ID, "driver-1")
	if err != nil {
		t.Fatal(err)
	}
	if accepted.Payment.Status != models.PaymentPaid {
		t.Fatalf("expected PAID after accept, got %s", accepted.Payment.Status)
	}
	in, _ := f.ledger.Get(b.Payment.IntentID)
	if in.State != payments.IntentCaptured || in.Amount != 25000 {
		t.Fatalf("unexpected intent %+v", in)
	}
}

func TestRejectVoidsCardHold(t *testing.T) {
	f := newFixture(t)
	r := f.ride(t, 3, 48*time.Hour)
	b := f.book(t, r.ID, "p1", 1, models.PaymentCard)
	got, err := f.svc.Reject(context.Background(), b.ID, "driver-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Payment.Status != models.PaymentVoided {
		t.Fatalf("expected VOIDED, got %s", got.Payment.Status)
	}
	if in, _ := f.ledger.Get(b.Payment.IntentID); in.State != payments.IntentCancelled {
		t.Fatalf("hold not released: %+v", in)
	}
}

func TestCardHoldFailureReleasesSeats(t *testing.T) {
	f := newFixture(t)
	f.svc.Payments = failingGateway{payments.NewLedger()}
	r := f.ride(t, 3, 48*time.Hour)
	_, err := f.svc.CreateBooking(context.Background(), bookingInput(r.ID, "p1", 2, models.PaymentCard))
	if !errors.Is(err, apperrors.ErrPaymentFailed) {
		t.Fatalf("expected PAYMENT_FAILED, got %v", err)
	}
	if ride := f.assertSeats(t, r.ID); ride.AvailableSeats != 3 {
		t.Fatalf("seats leaked after failed hold: %d", ride.AvailableSeats)
	}
}

func TestCancelRefundTiers(t *testing.T) {
	cases := []struct {
		name     string
		departIn time.Duration
		percent  int
		status   models.PaymentStatus
	}{
		{"more than a day out", 30 * time.Hour, 100, models.PaymentRefunded},
		{"half a day out", 13 * time.Hour, 75, models.PaymentPartiallyRefunded},
		{"eight hours out", 8 * time.Hour, 50, models.PaymentPartiallyRefunded},
		{"three hours out", 3 * time.Hour, 25, models.PaymentPartiallyRefunded},
		{"an hour out", time.Hour, 0, models.PaymentPaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			r := f.ride(t, 3, tc.departIn)
			b := f.book(t, r.ID, "p1", 2, models.PaymentCard)
			if _, err := f.svc.Accept(ctx, b.ID, "driver-1"); err != nil {
				t.Fatal(err)
			}
			got, err := f.svc.Cancel(ctx, b.ID, "p1", "plans changed")
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != models.BookingCancelled || got.Reason != "plans changed" {
				t.Fatalf("unexpected booking %+v", got)
			}
			if got.Payment.Refund == nil || got.Payment.Refund.Percent != tc.percent {
				t.Fatalf("unexpected refund %+v", got.Payment.Refund)
			}
			wantAmount := 25000 * int64(tc.percent) / 100
			if got.Payment.Refund.Amount != wantAmount || got.Payment.Status != tc.status {
				t.Fatalf("refund %d (%s), want %d (%s)", got.Payment.Refund.Amount, got.Payment.Status, wantAmount, tc.status)
			}
			in, _ := f.ledger.Get(b.Payment.IntentID)
			if in.Refunded != wantAmount {
				t.Fatalf("gateway refunded %d, want %d", in.Refunded, wantAmount)
			}
			f.assertSeats(t, r.ID)
		})
	}
}

func TestCancelUnpaidBookingHasNoRefund(t *testing.T) {
	f := newFixture(t)
	r := f.ride(t, 3, 48*time.Hour)
	b := f.book(t, r.ID, "p1", 1, models.PaymentCash)
	got, err := f.svc.Cancel(context.Background(), b.ID, "p1", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Payment.Refund != nil || got.Payment.Status != models.PaymentPending {
		t.Fatalf("unpaid booking should simply cancel, got %+v", got.Payment)
	}
	if _, err := f.svc.Cancel(context.Background(), b.ID, "p1", ""); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("second cancel should be INVALID_STATE, got %v", err)
	}
}

func TestCancelAfterPickupIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.ride(t, 3, 48*time.Hour)
	b := f.book(t, r.ID, "p1", 1, models.PaymentCash)
	if _, err := f.svc.Accept(ctx, b.ID, "driver-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.StartRide(ctx, r.ID, "driver-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Cancel(ctx, b.ID, "p1", ""); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("expected INVALID_STATE, got %v", err)
	}
}

func TestExpirePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.ride(t, 3, 48*time.Hour)
	stale := f.book(t, r.ID, "p1", 1, models.PaymentCard)
	accepted := f.book(t, r.ID, "p2", 1, models.PaymentCash)
	if _, err := f.svc.Accept(ctx, accepted.ID, "driver-1"); err != nil {
		t.Fatal(err)
	}
	n, err := f.svc.ExpirePending(ctx, now.Add(time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	got, _ := f.store.GetBooking(ctx, stale.ID)
	if got.Status != models.BookingExpired || got.Payment.Status != models.PaymentVoided {
		t.Fatalf("unexpected expired booking %+v", got)
	}
	if ride := f.assertSeats(t, r.ID); ride.AvailableSeats != 2 {
		t.Fatalf("expected 2 seats, got %d", ride.AvailableSeats)
	}
	if _, err := f.svc.Expire(ctx, stale.ID, ""); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("expiring twice should fail, got %v", err)
	}
}

func TestVerificationWithExpiringCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.Codes.TTL = 10 * time.Minute
	r := f.ride(t, 3, 48*time.Hour)
	b := f.book(t, r.ID, "p1", 1, models.PaymentCash)
	if _, err := f.svc.Accept(ctx, b.ID, "driver-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.StartRide(ctx, r.ID, "driver-1"); err != nil {
		t.Fatal(err)
	}
	later := now.Add(11 * time.Minute)
	f.svc.Clock = func() time.Time { return later }
	_, err := f.svc.VerifyPickup(ctx, b.ID, "driver-1", code(t, f, b.ID, models.CheckpointPickup))
	if !errors.Is(err, &apperrors.Error{Code: apperrors.CodeVerificationFailed, Reason: "EXPIRED"}) {
		t.Fatalf("expected EXPIRED, got %v", err)
	}
}
