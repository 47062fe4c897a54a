package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/sim"
	"github.com/miradorstack/faultsim/internal/telemetry"
	"github.com/miradorstack/faultsim/internal/utils"
)

func newTestBackend(t *testing.T) *httptest.Server {
	t.Helper()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b := &backend{seed: 9, profiles: sim.DefaultProfiles(), now: func() time.Time { return now }, logger: utils.NopLogger()}
	srv := httptest.NewServer(b.routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestSeriesServedToRemoteClient(t *testing.T) {
	srv := newTestBackend(t)
	client := telemetry.NewRemoteClient(srv.URL, "/api/v1/telemetry/series", "/api/v1/telemetry/frame", time.Second, nil, 0, utils.NopLogger())

	start := time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC)
	q := models.SeriesQuery{RobotID: "robot-a", Metric: models.MetricVibration, Start: start, End: start.Add(59 * time.Second), Step: 10 * time.Second}
	points, err := client.FetchSeries(context.Background(), q)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(points) != 6 {
		t.Fatalf("expected 6 points, got %d", len(points))
	}
	again, err := client.FetchSeries(context.Background(), q)
	if err != nil {
		t.Fatalf("fetch again: %v", err)
	}
	for i := range points {
		if points[i].Value != again[i].Value {
			t.Fatalf("point %d differs: %v vs %v", i, points[i].Value, again[i].Value)
		}
	}

	frame, err := client.FetchFrame(context.Background(), "robot-a", start)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if frame.Temperature < 20 || frame.Temperature > 90 {
		t.Fatalf("temperature out of profile range: %v", frame.Temperature)
	}
}

func TestSeriesRejectsBadInput(t *testing.T) {
	srv := newTestBackend(t)
	resp, err := http.Get(srv.URL + "/api/v1/telemetry/series")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
