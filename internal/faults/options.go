package faults

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidConfig marks requests rejected before any write.
var ErrInvalidConfig = errors.New("invalid fault configuration")

// Storage keys of the persisted collections.
const (
	TemplatesKey  = "faultTemplates_v1"
	InjectionsKey = "faultInjections_v1"
)

// Option customises a Registry or Scheduler.
type Option func(*options)

type options struct {
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// WithLogger sets the logger used for recovered failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
