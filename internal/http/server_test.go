package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/rideshare/internal/booking"
	"github.com/example/rideshare/internal/geo"
	"github.com/example/rideshare/internal/matcher"
	"github.com/example/rideshare/internal/models"
	"github.com/example/rideshare/internal/settlement"
	"github.com/example/rideshare/internal/stats"
	"github.com/example/rideshare/internal/storage"
	"github.com/example/rideshare/internal/verification"
)

func newTestServer(t *testing.T, auth *Authenticator) (*Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	idx := geo.NewIndex()
	pricing := settlement.Policy{Commission: 5000, Currency: "inr"}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := &booking.Service{
		Store:       store,
		Index:       idx,
		Stats:       stats.NewMemory(),
		Pricing:     pricing,
		Codes:       verification.Generator{Length: 4},
		ThresholdKm: 5,
		Logger:      logger,
	}
	search := &matcher.Service{Rides: store, Index: idx, ThresholdKm: 5, TopN: 10, Pricing: pricing, Logger: logger}
	return NewServer(svc, search, nil, auth, logger), store
}

func do(t *testing.T, s *Server, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

type apiError struct {
	Error struct {
		Code    string          `json:"code"`
		Reason  string          `json:"reason"`
		Current json.RawMessage `json:"current"`
	} `json:"error"`
}

func createRide(t *testing.T, s *Server) models.Ride {
	t.Helper()
	rr := do(t, s, "POST", "/api/v1/rides", "driver-1", map[string]any{
		"route":          [][]float64{{0, 0}, {0, 1}, {0, 2}},
		"departure_at":   time.Now().Add(48 * time.Hour),
		"seats":          2,
		"price_per_seat": 10000,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create ride: %d %s", rr.Code, rr.Body.String())
	}
	var ride models.Ride
	decodeInto(t, rr, &ride)
	return ride
}

func bookingBody(rideID string) map[string]any {
	return map[string]any{
		"ride_id": rideID,
		"pickup":  map[string]any{"coordinates": []float64{0.01, 0.4}, "address": "Gate 2"},
		"dropoff": map[string]any{"coordinates": []float64{0.01, 1.6}},
		"seats":   1,
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := do(t, s, "GET", "/healthz", "", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("unexpected %d %q", rr.Code, rr.Body.String())
	}
}

func TestAPIRequiresActor(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := do(t, s, "GET", "/api/v1/bookings", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCreateRideRejectsShortRoute(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := do(t, s, "POST", "/api/v1/rides", "driver-1", map[string]any{
		"route":        [][]float64{{0, 0}},
		"departure_at": time.Now().Add(time.Hour),
		"seats":        2,
	})
	var e apiError
	decodeInto(t, rr, &e)
	if rr.Code != http.StatusUnprocessableEntity || e.Error.Code != "GEOMETRY_INVALID" {
		t.Fatalf("expected 422 GEOMETRY_INVALID, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestCreateBookingValidation(t *testing.T) {
	s, _ := newTestServer(t, nil)
	body := bookingBody("r1")
	body["seats"] = 0
	rr := do(t, s, "POST", "/api/v1/bookings", "p1", body)
	var e apiError
	decodeInto(t, rr, &e)
	if rr.Code != http.StatusBadRequest || e.Error.Code != "INVALID_INPUT" {
		t.Fatalf("expected 400 INVALID_INPUT, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestSearchFindsRide(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ride := createRide(t, s)
	rr := do(t, s, "POST", "/api/v1/rides/search", "p1", map[string]any{
		"pickup":  []float64{0.01, 0.4},
		"dropoff": []float64{0.01, 1.6},
		"date":    ride.DepartureAt.Format("2006-01-02"),
		"seats":   1,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("search: %d %s", rr.Code, rr.Body.String())
	}
	var out struct {
		Results []struct {
			Ride         struct{ ID string } `json:"ride"`
			MatchQuality string              `json:"match_quality"`
			Price        int64               `json:"price"`
		} `json:"results"`
	}
	decodeInto(t, rr, &out)
	if len(out.Results) != 1 || out.Results[0].Ride.ID != ride.ID || out.Results[0].Price != 15000 {
		t.Fatalf("unexpected results %s", rr.Body.String())
	}
}

func TestBookingFlowOverHTTP(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ride := createRide(t, s)

	rr := do(t, s, "POST", "/api/v1/bookings", "p1", bookingBody(ride.ID))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create booking: %d %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Booking      models.Booking `json:"booking"`
		AutoAccepted bool           `json:"auto_accepted"`
	}
	decodeInto(t, rr, &created)
	if created.AutoAccepted || created.Booking.Status != models.BookingPending {
		t.Fatalf("unexpected create response %s", rr.Body.String())
	}
	id := created.Booking.ID

	dup := do(t, s, "POST", "/api/v1/bookings", "p1", bookingBody(ride.ID))
	var dupErr apiError
	decodeInto(t, dup, &dupErr)
	if dup.Code != http.StatusConflict || dupErr.Error.Code != "DUPLICATE_BOOKING" || len(dupErr.Error.Current) == 0 {
		t.Fatalf("expected 409 DUPLICATE_BOOKING with current, got %d %s", dup.Code, dup.Body.String())
	}

	if rr := do(t, s, "POST", "/api/v1/bookings/"+id+"/accept", "p1", nil); rr.Code != http.StatusForbidden {
		t.Fatalf("passenger accept should be 403, got %d", rr.Code)
	}
	if rr := do(t, s, "POST", "/api/v1/bookings/"+id+"/accept", "driver-1", nil); rr.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, s, "POST", "/api/v1/rides/"+ride.ID+"/start", "driver-1", nil); rr.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rr.Code, rr.Body.String())
	}

	var asDriver, asPassenger models.Booking
	decodeInto(t, do(t, s, "GET", "/api/v1/bookings/"+id, "driver-1", nil), &asDriver)
	decodeInto(t, do(t, s, "GET", "/api/v1/bookings/"+id, "p1", nil), &asPassenger)
	if asDriver.PickupCode == nil || asDriver.PickupCode.Code != "" {
		t.Fatalf("driver must not see the pickup code: %+v", asDriver.PickupCode)
	}
	if asPassenger.PickupCode == nil || asPassenger.PickupCode.Code == "" {
		t.Fatalf("passenger should see the pickup code")
	}

	rr = do(t, s, "POST", "/api/v1/bookings/"+id+"/verify-pickup", "driver-1", map[string]string{"code": asPassenger.PickupCode.Code})
	if rr.Code != http.StatusOK {
		t.Fatalf("verify pickup: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, s, "POST", "/api/v1/bookings/"+id+"/verify-pickup", "driver-1", map[string]string{"code": asPassenger.PickupCode.Code})
	var replay apiError
	decodeInto(t, rr, &replay)
	if rr.Code != http.StatusUnprocessableEntity || replay.Error.Code != "VERIFICATION_FAILED" || replay.Error.Reason != "ALREADY_VERIFIED" {
		t.Fatalf("expected 422 ALREADY_VERIFIED, got %d %s", rr.Code, rr.Body.String())
	}
	decodeInto(t, do(t, s, "GET", "/api/v1/bookings/"+id, "p1", nil), &asPassenger)
	rr = do(t, s, "POST", "/api/v1/bookings/"+id+"/verify-dropoff", "driver-1", map[string]string{"code": asPassenger.DropoffCode.Code})
	if rr.Code != http.StatusOK {
		t.Fatalf("verify dropoff: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, s, "POST", "/api/v1/bookings/"+id+"/confirm-payment", "p1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, s, "POST", "/api/v1/bookings/"+id+"/confirm-payment", "driver-1", nil)
	var again apiError
	decodeInto(t, rr, &again)
	if rr.Code != http.StatusConflict || again.Error.Code != "INVALID_STATE" || again.Error.Reason != "COMPLETED" {
		t.Fatalf("expected 409 INVALID_STATE (COMPLETED), got %d %s", rr.Code, rr.Body.String())
	}

	var finished models.Ride
	decodeInto(t, do(t, s, "GET", "/api/v1/rides/"+ride.ID, "p1", nil), &finished)
	if finished.Status != models.RideCompleted || finished.Earnings != 10000 {
		t.Fatalf("unexpected ride %+v", finished)
	}

	if rr := do(t, s, "GET", "/api/v1/drivers/driver-1/stats", "p1", nil); rr.Code != http.StatusForbidden {
		t.Fatalf("passenger reading driver stats should be 403, got %d", rr.Code)
	}
	rr = do(t, s, "GET", "/api/v1/drivers/driver-1/stats", "driver-1", nil)
	var st stats.DriverStats
	decodeInto(t, rr, &st)
	if rr.Code != http.StatusOK || st.RidesCompleted != 1 || st.Earnings != 10000 || st.Passengers != 1 {
		t.Fatalf("unexpected driver stats %d %s", rr.Code, rr.Body.String())
	}
}

func TestVerifyMismatchReturnsReason(t *testing.T) {
	s, store := newTestServer(t, nil)
	ride := createRide(t, s)
	rr := do(t, s, "POST", "/api/v1/bookings", "p1", bookingBody(ride.ID))
	var created struct {
		Booking models.Booking `json:"booking"`
	}
	decodeInto(t, rr, &created)
	id := created.Booking.ID
	do(t, s, "POST", "/api/v1/bookings/"+id+"/accept", "driver-1", nil)
	do(t, s, "POST", "/api/v1/rides/"+ride.ID+"/start", "driver-1", nil)

	b, _ := store.GetBooking(context.Background(), id)
	bad := "0000"
	if b.PickupCode.Code == bad {
		bad = "1111"
	}
	rr = do(t, s, "POST", "/api/v1/bookings/"+id+"/verify-pickup", "driver-1", map[string]string{"code": bad})
	var e apiError
	decodeInto(t, rr, &e)
	if rr.Code != http.StatusUnprocessableEntity || e.Error.Code != "VERIFICATION_FAILED" || e.Error.Reason != "MISMATCH" {
		t.Fatalf("expected 422 MISMATCH, got %d %s", rr.Code, rr.Body.String())
	}
	var cur models.Booking
	if err := json.Unmarshal(e.Error.Current, &cur); err != nil {
		t.Fatal(err)
	}
	if cur.PickupCode == nil || cur.PickupCode.Code != "" || cur.PickupAttempts != 1 {
		t.Fatalf("error body leaked the code or missed the attempt: %+v", cur)
	}
}

func TestJWTAuthentication(t *testing.T) {
	secret := []byte("test-secret")
	s, _ := newTestServer(t, &Authenticator{Secret: secret})

	sign := func(sub string, exp time.Time) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
			Role: "passenger",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   sub,
				ExpiresAt: jwt.NewNumericDate(exp),
				IssuedAt:  jwt.NewNumericDate(time.Now()),
			},
		})
		str, err := tok.SignedString(secret)
		if err != nil {
			t.Fatal(err)
		}
		return str
	}

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + sign("p1", time.Now().Add(time.Hour)), http.StatusOK},
		{"expired", "Bearer " + sign("p1", time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"no subject", "Bearer " + sign("", time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"header user ignored", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/bookings", nil)
			req.Header.Set("X-User-ID", "p1")
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			s.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}
