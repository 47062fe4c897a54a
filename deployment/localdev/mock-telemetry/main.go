package main

import (
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/miradorstack/faultsim/internal/models"
	"github.com/miradorstack/faultsim/internal/sim"
	"github.com/miradorstack/faultsim/internal/utils"
)

const maxSeriesPoints = 3600

type seriesRequest struct {
	RobotID     string    `json:"robot_id"`
	Metric      string    `json:"metric"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	StepSeconds float64   `json:"step_seconds"`
}

type frameRequest struct {
	RobotID string    `json:"robot_id"`
	At      time.Time `json:"at"`
}

type backend struct {
	seed     uint32
	profiles map[models.Metric]sim.Profile
	now      func() time.Time
	logger   *slog.Logger
}

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	seed := flag.Uint("seed", 1, "Base seed for recorded series")
	flag.Parse()

	logger := utils.NewLogger("info", false).With(slog.String("component", "telemetry-mock"))
	b := &backend{seed: uint32(*seed), profiles: sim.DefaultProfiles(), now: time.Now, logger: logger}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, b.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("listening", slog.String("address", *addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func (b *backend) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/v1/telemetry/series", b.handleSeries)
	mux.HandleFunc("/api/v1/telemetry/frame", b.handleFrame)
	return mux
}

func (b *backend) handleSeries(w http.ResponseWriter, r *http.Request) {
	if !enforcePost(w, r) {
		return
	}
	var req seriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	metric, err := models.ParseMetric(req.Metric)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	end := req.End
	if end.IsZero() {
		end = b.now()
	}
	start := req.Start
	if start.IsZero() {
		start = end.Add(-2 * time.Minute)
	}
	step := time.Duration(req.StepSeconds * float64(time.Second))
	if step <= 0 {
		step = time.Second
	}
	if end.Before(start) {
		http.Error(w, "end before start", http.StatusBadRequest)
		return
	}

	gen, err := b.generator(req.RobotID, metric, start)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	series := make([]models.Point, 0)
	for ts := start; !ts.After(end) && len(series) < maxSeriesPoints; ts = ts.Add(step) {
		series = append(series, gen.Step(ts))
	}
	writeJSON(w, b.logger, map[string]any{"series": series})
}

func (b *backend) handleFrame(w http.ResponseWriter, r *http.Request) {
	if !enforcePost(w, r) {
		return
	}
	var req frameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	at := req.At
	if at.IsZero() {
		at = b.now()
	}
	var frame models.Frame
	for _, metric := range models.AllMetrics {
		gen, err := b.generator(req.RobotID, metric, at)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		frame.Set(metric, gen.Step(at).Value)
	}
	writeJSON(w, b.logger, map[string]any{"frame": frame})
}

func (b *backend) generator(robotID string, metric models.Metric, origin time.Time) (*sim.Generator, error) {
	p := b.profiles[metric]
	return sim.NewGenerator(sim.GeneratorConfig{
		Metric:     metric,
		StartValue: p.StartValue,
		Min:        p.Min,
		Max:        p.Max,
		Noise:      p.Noise,
		Trend:      p.Trend,
		Period:     p.Period,
		MaxPoints:  maxSeriesPoints,
		Seed:       sim.DeriveSeed(b.seed, robotID, metric),
	}, func() time.Time { return origin })
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("encode error", slog.Any("error", err))
	}
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("elapsed", time.Since(start)))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
