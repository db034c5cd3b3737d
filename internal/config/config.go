// Package config loads engine configuration from yaml over built-in
// defaults. The loaded struct is passed into constructors explicitly;
// there is no ambient global configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/resonance/internal/embedding"
	"github.com/rcliao/resonance/internal/guard"
)

// Resonance holds the merge scoring knobs. The weights are heuristic
// defaults, not load-bearing constants; only the twin threshold backs
// the dedup guarantee.
type Resonance struct {
	Threshold       float64            `yaml:"threshold"`
	TwinThreshold   float64            `yaml:"twin_threshold"`
	HalfLifeDays    float64            `yaml:"half_life_days"`
	CategoryWeights map[string]float64 `yaml:"category_weights"`
}

// RateLimit caps requests per client per fixed 60-second window.
type RateLimit struct {
	PerWindow int `yaml:"per_window"`
}

// Config is the full engine configuration.
type Config struct {
	StorePath string           `yaml:"store_path"`
	Backend   string           `yaml:"backend"` // fs | sqlite
	Embedding embedding.Config `yaml:"embedding"`
	Resonance Resonance        `yaml:"resonance"`
	Guard     guard.Policy     `yaml:"guard"`
	RateLimit RateLimit        `yaml:"rate_limit"`
	Verbose   bool             `yaml:"verbose"`
	LogFormat string           `yaml:"log_format"` // console | json
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		StorePath: filepath.Join(home, ".resonance", "store"),
		Backend:   "fs",
		Embedding: embedding.DefaultConfig(),
		Resonance: Resonance{
			Threshold:     0.7,
			TwinThreshold: 0.95,
			HalfLifeDays:  30,
			CategoryWeights: map[string]float64{
				"persona":      0.9,
				"relationship": 0.8,
				"technical":    0.7,
				"stylistic":    0.85,
				"runtime":      0.5,
			},
		},
		Guard:     guard.DefaultPolicy,
		RateLimit: RateLimit{PerWindow: 60},
		LogFormat: "console",
	}
}

// Load reads a yaml file over the defaults. A missing file is not an
// error: defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
