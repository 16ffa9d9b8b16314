// Package fillreg learns per-form autofill profiles from scrubbed fill events.
package fillreg

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all fillreg configuration.
type Config struct {
	DBPath    string          `yaml:"db_path"`
	Aggregate AggregateConfig `yaml:"aggregate"`
	Bandit    BanditConfig    `yaml:"bandit"`
	Safety    SafetyConfig    `yaml:"safety"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// AggregateConfig controls the windowed aggregation pass.
type AggregateConfig struct {
	// WindowDays is the learning window in days.
	WindowDays int `yaml:"window_days"`
	// SuccessEditThreshold is the max total edit chars for a persisted
	// fill to still count as a success.
	SuccessEditThreshold int `yaml:"success_edit_threshold"`
	// DecayAlpha is the EMA factor for style weight updates.
	DecayAlpha float64 `yaml:"decay_alpha"`
	// UpsertRetries bounds retries on profile version conflicts.
	UpsertRetries int `yaml:"upsert_retries"`
}

// BanditConfig controls style selection.
type BanditConfig struct {
	// Epsilon is the exploration probability.
	Epsilon float64 `yaml:"epsilon"`
	// Styles seeds the style variant catalogue on startup. Seeding never
	// overwrites weights a running instance has already learned.
	Styles []StyleSeed `yaml:"styles"`
}

// StyleSeed describes one style variant to seed at startup.
type StyleSeed struct {
	StyleID string  `yaml:"style_id"`
	Tone    string  `yaml:"tone"`
	Format  string  `yaml:"format"`
	Weight  float64 `yaml:"weight"`
}

// SafetyConfig gates which profiles are served to fill agents.
type SafetyConfig struct {
	// MinSuccessRate is the floor below which a profile is withheld.
	MinSuccessRate float64 `yaml:"min_success_rate"`
	// MaxAvgEditChars is the ceiling above which a profile is withheld.
	MaxAvgEditChars float64 `yaml:"max_avg_edit_chars"`
}

// SchedulerConfig controls the periodic aggregation sweep.
type SchedulerConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// Retention is how long raw events are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "fillreg.db"
	}
	if c.Aggregate.WindowDays <= 0 {
		c.Aggregate.WindowDays = 14
	}
	if c.Aggregate.SuccessEditThreshold <= 0 {
		c.Aggregate.SuccessEditThreshold = 10
	}
	if c.Aggregate.DecayAlpha <= 0 {
		c.Aggregate.DecayAlpha = 0.2
	}
	if c.Aggregate.UpsertRetries <= 0 {
		c.Aggregate.UpsertRetries = 3
	}
	if c.Bandit.Epsilon <= 0 {
		c.Bandit.Epsilon = 0.1
	}
	if len(c.Bandit.Styles) == 0 {
		c.Bandit.Styles = []StyleSeed{
			{StyleID: "formal_short", Tone: "formal", Format: "short"},
			{StyleID: "formal_long", Tone: "formal", Format: "long"},
			{StyleID: "casual_short", Tone: "casual", Format: "short"},
			{StyleID: "casual_long", Tone: "casual", Format: "long"},
		}
	}
	if c.Safety.MinSuccessRate <= 0 {
		c.Safety.MinSuccessRate = 0.6
	}
	if c.Safety.MaxAvgEditChars <= 0 {
		c.Safety.MaxAvgEditChars = 500
	}
	if c.Scheduler.SweepInterval <= 0 {
		c.Scheduler.SweepInterval = 15 * time.Minute
	}
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
