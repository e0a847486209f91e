package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/rideshare/internal/models"
)

type fakeClient struct {
	calls int
	err   error
}

func (f *fakeClient) Measure(ctx context.Context, points []models.Coord) (float64, float64, error) {
	f.calls++
	if f.err != nil {
		return 0, 0, f.err
	}
	return 1234, 321, nil
}

var line = []models.Coord{{Lat: 0, Lon: 0}, {Lat: 0.1, Lon: 0}}

func TestFillUsesClientThenCache(t *testing.T) {
	fc := &fakeClient{}
	e := &Estimator{Client: fc, Cache: NewCache(time.Minute)}
	r := models.Route{Points: line}
	if err := e.Fill(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
	if r.DistanceMeters != 1234 || r.DurationSeconds != 321 {
		t.Fatalf("unexpected route aggregates %+v", r)
	}
	r2 := models.Route{Points: line}
	_ = e.Fill(context.Background(), &r2)
	if fc.calls != 1 {
		t.Fatalf("expected cached second lookup, got %d calls", fc.calls)
	}
}

func TestFillFallsBackToEstimate(t *testing.T) {
	e := &Estimator{Client: &fakeClient{err: errors.New("down")}, DefaultSpeedMps: 10}
	r := models.Route{Points: line}
	_ = e.Fill(context.Background(), &r)
	if r.DistanceMeters < 11000 || r.DistanceMeters > 11200 {
		t.Fatalf("expected ~11.1km, got %f", r.DistanceMeters)
	}
	if r.DurationSeconds != r.DistanceMeters/10 {
		t.Fatalf("unexpected duration %f", r.DurationSeconds)
	}
}

func TestFillKeepsProvidedAggregates(t *testing.T) {
	fc := &fakeClient{}
	e := &Estimator{Client: fc}
	r := models.Route{Points: line, DistanceMeters: 5, DurationSeconds: 6}
	_ = e.Fill(context.Background(), &r)
	if fc.calls != 0 || r.DistanceMeters != 5 {
		t.Fatalf("provided aggregates should be kept")
	}
}

func TestOSRMMeasure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":900.5,"duration":88}]}`))
	}))
	defer srv.Close()
	m, s, err := NewOSRMClient(srv.URL).Measure(context.Background(), line)
	if err != nil {
		t.Fatal(err)
	}
	if m != 900.5 || s != 88 {
		t.Fatalf("got %f %f", m, s)
	}
}
