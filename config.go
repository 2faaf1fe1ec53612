package marketplace

import (
	"context"
	"fmt"
	"time"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Config is a serialisable representation of the marketplace configuration.
// It can be populated from JSON or YAML; the zero-value of every nested field
// inherits its package default.
type Config struct {
	Processor ProcessorConfig `json:"processor" yaml:"processor"`
	Simulator SimulatorConfig `json:"simulator" yaml:"simulator"`
	Reaper    ReaperConfig    `json:"reaper" yaml:"reaper"`
}

type ProcessorConfig struct {
	WorkerCount int `json:"workers" yaml:"workers"`
}

type SimulatorConfig struct {
	// MinRunSeconds and MaxRunSeconds bound the simulated processing time.
	MinRunSeconds float64 `json:"minRunSeconds" yaml:"minRunSeconds"`
	MaxRunSeconds float64 `json:"maxRunSeconds" yaml:"maxRunSeconds"`
	// SuccessRate is the probability of a successful run, in [0, 1].
	SuccessRate float64 `json:"successRate" yaml:"successRate"`
}

type ReaperConfig struct {
	PeriodSeconds   int `json:"periodSeconds" yaml:"periodSeconds"`
	DeadlineSeconds int `json:"deadlineSeconds" yaml:"deadlineSeconds"`
}

// DefaultConfig returns a Config populated with the source defaults: 5
// workers, 1-5s simulated runs with an 80% success rate and a 30s reaper
// sweep failing tasks stuck running for over 5 minutes.
func DefaultConfig() *Config {
	return &Config{
		Processor: ProcessorConfig{WorkerCount: 5},
		Simulator: SimulatorConfig{
			MinRunSeconds: 1,
			MaxRunSeconds: 5,
			SuccessRate:   0.8,
		},
		Reaper: ReaperConfig{
			PeriodSeconds:   30,
			DeadlineSeconds: 300,
		},
	}
}

// Validate returns an error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Processor.WorkerCount <= 0 {
		return fmt.Errorf("processor.workers must be > 0")
	}
	if c.Simulator.MinRunSeconds <= 0 || c.Simulator.MaxRunSeconds < c.Simulator.MinRunSeconds {
		return fmt.Errorf("simulator run bounds must satisfy 0 < min <= max")
	}
	if c.Simulator.SuccessRate < 0 || c.Simulator.SuccessRate > 1 {
		return fmt.Errorf("simulator.successRate must be within [0, 1]")
	}
	if c.Reaper.PeriodSeconds <= 0 || c.Reaper.DeadlineSeconds <= 0 {
		return fmt.Errorf("reaper period and deadline must be > 0")
	}
	return nil
}

// MinRun returns the lower simulated processing bound as a duration.
func (c *SimulatorConfig) MinRun() time.Duration {
	return time.Duration(c.MinRunSeconds * float64(time.Second))
}

// MaxRun returns the upper simulated processing bound as a duration.
func (c *SimulatorConfig) MaxRun() time.Duration {
	return time.Duration(c.MaxRunSeconds * float64(time.Second))
}

// LoadConfig reads a YAML config from the supplied URL (any afs-supported
// scheme) on top of the defaults.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	data, err := afs.New().DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", URL, err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", URL, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
