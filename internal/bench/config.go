package bench

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	tperrors "github.com/vnykmshr/taskpool/pkg/common/errors"
	"github.com/vnykmshr/taskpool/pkg/common/validation"
)

// Config describes a benchmark run.
type Config struct {
	Workers        int     `yaml:"workers"`
	Cases          int     `yaml:"cases"`
	Frames         int     `yaml:"frames"`           // Frames per case
	PointsPerFrame int     `yaml:"points_per_frame"` // Points integrated by each frame
	Rate           float64 `yaml:"rate"`             // Frames per second per case, 0 for unlimited
	Burst          int     `yaml:"burst"`

	MetricsAddr string `yaml:"metrics_addr"`
	RedisAddr   string `yaml:"redis_addr"`
	History     string `yaml:"history"` // SQLite path, empty to disable
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		Cases:          3,
		Frames:         120,
		PointsPerFrame: 2000,
		Rate:           0,
		Burst:          1,
	}
}

// LoadFile reads a YAML configuration on top of DefaultConfig.
func LoadFile(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return config, fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		return config, fmt.Errorf("unsupported config format: %s", ext)
	}

	return config, config.Validate()
}

// Validate checks that the configuration can drive a run.
func (c Config) Validate() error {
	if err := validation.ValidatePositive("bench", "workers", c.Workers); err != nil {
		return err
	}
	if err := validation.ValidatePositive("bench", "cases", c.Cases); err != nil {
		return err
	}
	if err := validation.ValidatePositive("bench", "frames", c.Frames); err != nil {
		return err
	}
	if err := validation.ValidatePositive("bench", "points_per_frame", c.PointsPerFrame); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("bench", "rate", c.Rate); err != nil {
		return err
	}
	if c.Rate > 0 && c.Burst <= 0 {
		return tperrors.NewValidationError("bench", "burst", c.Burst, "must be positive when rate is set")
	}
	return nil
}

// TestCases expands the configuration into named cases.
func (c Config) TestCases() []Case {
	cases := make([]Case, c.Cases)
	for i := range cases {
		cases[i] = Case{
			Name:           fmt.Sprintf("scan-%02d", i+1),
			Frames:         c.Frames,
			PointsPerFrame: c.PointsPerFrame,
			Seed:           uint64(i + 1),
		}
	}
	return cases
}
