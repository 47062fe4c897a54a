// Package scenario replays a YAML fault plan against offline generators.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPlan marks plans rejected by Validate.
var ErrInvalidPlan = errors.New("invalid scenario plan")

// Plan is the YAML root structure of a scenario file. DetectEverySeconds runs
// the detectors periodically during the replay; zero evaluates only the
// finished series.
type Plan struct {
	Name               string    `yaml:"name"`
	RunID              string    `yaml:"runId"`
	Seed               uint32    `yaml:"seed"`
	Start              time.Time `yaml:"start"`
	DurationSeconds    int       `yaml:"durationSeconds"`
	IntervalSeconds    float64   `yaml:"intervalSeconds"`
	DetectEverySeconds float64   `yaml:"detectEverySeconds"`
	Robots             []string  `yaml:"robots"`
	Faults             []Step    `yaml:"faults"`
}

// Step schedules a back-to-back batch of templates on one robot.
type Step struct {
	RobotID       string   `yaml:"robotId"`
	TemplateIDs   []string `yaml:"templateIds"`
	OffsetSeconds float64  `yaml:"offsetSeconds"`
	GapSeconds    float64  `yaml:"gapSeconds"`
}

// LoadPlan reads and validates a plan file.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes YAML, applies defaults and validates the result.
func ParsePlan(data []byte) (Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return Plan{}, fmt.Errorf("parse plan: %w", err)
	}
	plan.applyDefaults()
	if err := plan.Validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func (p *Plan) applyDefaults() {
	if p.Name == "" {
		p.Name = "scenario"
	}
	if p.RunID == "" {
		p.RunID = "offline-" + p.Name
	}
	if p.IntervalSeconds == 0 {
		p.IntervalSeconds = 1
	}
	if p.Start.IsZero() {
		p.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
}

// Validate checks that every robot and step is usable.
func (p Plan) Validate() error {
	if p.DurationSeconds <= 0 {
		return fmt.Errorf("%w: durationSeconds must be positive", ErrInvalidPlan)
	}
	if p.IntervalSeconds <= 0 {
		return fmt.Errorf("%w: intervalSeconds must be positive", ErrInvalidPlan)
	}
	if p.DetectEverySeconds < 0 {
		return fmt.Errorf("%w: detectEverySeconds must not be negative", ErrInvalidPlan)
	}
	if len(p.Robots) == 0 {
		return fmt.Errorf("%w: at least one robot is required", ErrInvalidPlan)
	}
	known := make(map[string]bool, len(p.Robots))
	for _, r := range p.Robots {
		if r == "" {
			return fmt.Errorf("%w: empty robot id", ErrInvalidPlan)
		}
		known[r] = true
	}
	for i, step := range p.Faults {
		if !known[step.RobotID] {
			return fmt.Errorf("%w: faults[%d] targets unknown robot %q", ErrInvalidPlan, i, step.RobotID)
		}
		if len(step.TemplateIDs) == 0 {
			return fmt.Errorf("%w: faults[%d] has no templates", ErrInvalidPlan, i)
		}
		if step.OffsetSeconds < 0 || step.GapSeconds < 0 {
			return fmt.Errorf("%w: faults[%d] offset and gap must not be negative", ErrInvalidPlan, i)
		}
	}
	return nil
}

// Interval returns the tick spacing.
func (p Plan) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds * float64(time.Second))
}

// End returns the instant of the last tick.
func (p Plan) End() time.Time {
	return p.Start.Add(time.Duration(p.DurationSeconds) * time.Second)
}
