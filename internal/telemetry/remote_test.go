package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/miradorstack/faultsim/internal/kv"
	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/utils"
)

func TestFetchSeriesCachesResults(t *testing.T) {
	hits := 0
	client := NewRemoteClient("https://telemetry.example.com/base", "/api/v1/series", "/api/v1/frame", time.Second, kv.NewMemoryBackend(), time.Minute, utils.NopLogger())
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		hits++
		if req.URL.Path != "/base/api/v1/series" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["robot_id"] != "robot-1" || body["metric"] != "temperature" {
			t.Fatalf("unexpected payload: %v", body)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"series": []map[string]any{
				{"timestamp": "2024-05-01T12:00:00Z", "value": 41.5},
				{"timestamp": "2024-05-01T12:00:01Z", "value": 41.7},
			},
		}), nil
	}))

	ctx := context.Background()
	q := models.SeriesQuery{
		RobotID: "robot-1",
		Metric:  models.MetricTemperature,
		Start:   time.Unix(1_714_564_800, 0),
		End:     time.Unix(1_714_564_860, 0),
		Step:    time.Second,
	}

	points, err := client.FetchSeries(ctx, q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 2 || points[1].Value != 41.7 {
		t.Fatalf("unexpected points: %+v", points)
	}

	cached, err := client.FetchSeries(ctx, q)
	if err != nil {
		t.Fatalf("unexpected cached error: %v", err)
	}
	if hits != 1 {
		t.Fatalf("cache miss triggered network call; hits=%d", hits)
	}
	if len(cached) != 2 || cached[0].Value != 41.5 {
		t.Fatalf("unexpected cached payload: %+v", cached)
	}
}

func TestFetchSeriesPropagatesHTTPErrors(t *testing.T) {
	client := NewRemoteClient("https://telemetry.example.com", "/series", "/frame", time.Second, nil, 0, utils.NopLogger())
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusBadGateway, map[string]any{}), nil
	}))

	if _, err := client.FetchSeries(context.Background(), models.SeriesQuery{RobotID: "r", Metric: models.MetricCurrent}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestFetchFrame(t *testing.T) {
	client := NewRemoteClient("https://telemetry.example.com", "/series", "/frame", time.Second, nil, 0, utils.NopLogger())
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/frame" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"frame": map[string]any{"current": 4.2, "vibration": 1.1, "temperature": 38.0},
		}), nil
	}))

	frame, err := client.FetchFrame(context.Background(), "robot-1", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Current != 4.2 || frame.Temperature != 38.0 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestRemoteClientRequiresBaseURL(t *testing.T) {
	client := NewRemoteClient("", "/series", "/frame", time.Second, nil, 0, nil)
	if _, err := client.FetchSeries(context.Background(), models.SeriesQuery{}); err == nil {
		t.Fatalf("expected error without base URL")
	}
	var nilClient *RemoteClient
	if _, err := nilClient.FetchFrame(context.Background(), "r", time.Now()); err == nil {
		t.Fatalf("expected error from nil client")
	}
}
