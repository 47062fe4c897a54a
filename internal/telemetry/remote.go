package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/faultsim/internal/kv"
	"github.com/miradorstack/faultsim/internal/metrics"
	"github.com/miradorstack/faultsim/internal/models"
)

// RemoteClient fetches recorded telemetry from the real-mode backend.
type RemoteClient struct {
	baseURL    string
	seriesPath string
	framePath  string
	httpClient *http.Client
	cache      kv.Backend
	cacheTTL   time.Duration
	logger     *slog.Logger
}

// NewRemoteClient constructs a client targeting the configured telemetry backend.
// A nil cache disables response caching.
func NewRemoteClient(baseURL, seriesPath, framePath string, timeout time.Duration, cache kv.Backend, cacheTTL time.Duration, logger *slog.Logger) *RemoteClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		seriesPath: seriesPath,
		framePath:  framePath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// FetchSeries queries the backend for a robot metric over the query range.
func (c *RemoteClient) FetchSeries(ctx context.Context, q models.SeriesQuery) ([]models.Point, error) {
	if c == nil {
		return nil, fmt.Errorf("telemetry client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("telemetry base URL not configured")
	}

	key := seriesCacheKey(q)
	if points, ok := c.cachedSeries(ctx, key); ok {
		metrics.ObserveRemoteFetch(metrics.OutcomeCacheHit, 0)
		return points, nil
	}

	payload := map[string]interface{}{
		"robot_id":     q.RobotID,
		"metric":       string(q.Metric),
		"start":        q.Start.UTC().Format(time.RFC3339),
		"end":          q.End.UTC().Format(time.RFC3339),
		"step_seconds": q.Step.Seconds(),
	}

	var response struct {
		Series []struct {
			Timestamp time.Time `json:"timestamp"`
			Value     float64   `json:"value"`
		} `json:"series"`
	}

	began := time.Now()
	if err := c.postJSON(ctx, c.resolvePath(c.seriesPath), payload, &response); err != nil {
		metrics.ObserveRemoteFetch(metrics.OutcomeError, time.Since(began))
		return nil, fmt.Errorf("telemetry series request failed: %w", err)
	}
	metrics.ObserveRemoteFetch(metrics.OutcomeSuccess, time.Since(began))

	points := make([]models.Point, 0, len(response.Series))
	for _, sample := range response.Series {
		points = append(points, models.Point{Timestamp: sample.Timestamp, Value: sample.Value})
	}
	c.storeSeries(ctx, key, points)
	return points, nil
}

// FetchFrame queries the backend for the latest frame of a robot at or before at.
func (c *RemoteClient) FetchFrame(ctx context.Context, robotID string, at time.Time) (models.Frame, error) {
	if c == nil {
		return models.Frame{}, fmt.Errorf("telemetry client not initialised")
	}
	if c.baseURL == "" {
		return models.Frame{}, fmt.Errorf("telemetry base URL not configured")
	}

	payload := map[string]interface{}{
		"robot_id": robotID,
		"at":       at.UTC().Format(time.RFC3339),
	}

	var response struct {
		Frame *models.Frame `json:"frame"`
	}

	began := time.Now()
	if err := c.postJSON(ctx, c.resolvePath(c.framePath), payload, &response); err != nil {
		metrics.ObserveRemoteFetch(metrics.OutcomeError, time.Since(began))
		return models.Frame{}, fmt.Errorf("telemetry frame request failed: %w", err)
	}
	metrics.ObserveRemoteFetch(metrics.OutcomeSuccess, time.Since(began))
	if response.Frame == nil {
		return models.Frame{}, fmt.Errorf("telemetry frame response was empty")
	}
	return *response.Frame, nil
}

func (c *RemoteClient) cachedSeries(ctx context.Context, key string) ([]models.Point, bool) {
	if c.cache == nil || c.cacheTTL <= 0 {
		return nil, false
	}
	raw, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			c.logger.Warn("telemetry cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return nil, false
	}
	var points []models.Point
	if err := json.Unmarshal(raw, &points); err != nil {
		c.logger.Warn("telemetry cache entry corrupt", slog.String("key", key), slog.Any("error", err))
		_ = c.cache.Del(ctx, key)
		return nil, false
	}
	return points, true
}

func (c *RemoteClient) storeSeries(ctx context.Context, key string, points []models.Point) {
	if c.cache == nil || c.cacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(points)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.cacheTTL); err != nil {
		c.logger.Warn("telemetry cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (c *RemoteClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *RemoteClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telemetry backend returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func seriesCacheKey(q models.SeriesQuery) string {
	return fmt.Sprintf("remote:series:%s:%s:%d:%d:%d", q.RobotID, q.Metric, q.Start.Unix(), q.End.Unix(), q.Step.Milliseconds())
}
