package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

type status string

func (s status) String() string { return string(s) }

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{NotFound("booking", "b1"), http.StatusNotFound},
		{InvalidState("accept", status("CANCELLED"), nil), http.StatusConflict},
		{CapacityExceeded("full", nil), http.StatusConflict},
		{DuplicateBooking(nil), http.StatusConflict},
		{Unauthorized("not yours"), http.StatusForbidden},
		{GeometryInvalid("INVALID_GEOMETRY", "bad"), http.StatusUnprocessableEntity},
		{RouteMismatch("WRONG_DIRECTION", "reversed", nil), http.StatusUnprocessableEntity},
		{VerificationFailed("MISMATCH", nil), http.StatusUnprocessableEntity},
		{InvalidInput("seats"), http.StatusBadRequest},
		{PaymentFailed(errors.New("card declined"), nil), http.StatusPaymentRequired},
		{fmt.Errorf("wrapped: %w", NotFound("ride", "r1")), http.StatusNotFound},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestIsMatchesCodeAndReason(t *testing.T) {
	err := VerificationFailed("MISMATCH", nil)
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatal("code should match sentinel")
	}
	if !errors.Is(err, &Error{Code: CodeVerificationFailed, Reason: "MISMATCH"}) {
		t.Fatal("code and reason should match")
	}
	if errors.Is(err, &Error{Code: CodeVerificationFailed, Reason: "ALREADY_USED"}) {
		t.Fatal("different reason should not match")
	}
	if errors.Is(err, ErrInvalidState) {
		t.Fatal("different code should not match")
	}
}

func TestInvalidStateNamesCurrentStatus(t *testing.T) {
	current := struct{ ID string }{"b1"}
	e := InvalidState("verify dropoff", status("COMPLETED"), current)
	if e.Reason != "COMPLETED" || e.Current != current {
		t.Fatalf("unexpected error %+v", e)
	}
	if e.Error() != "INVALID_STATE: cannot verify dropoff: current status is COMPLETED" {
		t.Fatalf("unexpected message %q", e.Error())
	}
}

func TestPaymentFailedUnwraps(t *testing.T) {
	cause := errors.New("card declined")
	if !errors.Is(PaymentFailed(cause, nil), cause) {
		t.Fatal("cause should be reachable")
	}
}
