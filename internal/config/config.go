// Package config loads the optional .awsscreener.yaml project file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileNames are the config files Load looks for, in priority order.
var FileNames = []string{".awsscreener.yaml", ".awsscreener.yml"}

// Config holds settings read from .awsscreener.yaml. Zero values mean "use
// the flag default".
type Config struct {
	Profile  string   `yaml:"profile"`
	Regions  []string `yaml:"regions"`
	Services []string `yaml:"services"`

	IdleDays             int     `yaml:"idle_days"`
	StoppedThresholdDays int     `yaml:"stopped_threshold_days"`
	IdleCPUThreshold     float64 `yaml:"idle_cpu_threshold"`
	HighMemoryThreshold  float64 `yaml:"high_memory_threshold"`
	MinBackupRetention   int     `yaml:"min_backup_retention"`
	Concurrency          int     `yaml:"concurrency"`
	Timeout              string  `yaml:"timeout"`

	Format       string   `yaml:"format"`
	OutputDir    string   `yaml:"output_dir"`
	SuppressFile string   `yaml:"suppress_file"`
	Frameworks   []string `yaml:"frameworks"`
	HistoryDB    string   `yaml:"history_db"`
	Beta         bool     `yaml:"beta"`
	SPABundle    string   `yaml:"spa_bundle"`
	SPABuildCmd  string   `yaml:"spa_build_cmd"`

	Exclude Exclude `yaml:"exclude"`
}

// Exclude lists resources the checkers skip.
type Exclude struct {
	ResourceIDs []string `yaml:"resource_ids"`
	Tags        []string `yaml:"tags"`
}

// ParseTags turns "Key=Value" and bare "Key" entries into a map. A bare key
// maps to "" and matches any value.
func (e Exclude) ParseTags() map[string]string {
	if len(e.Tags) == 0 {
		return nil
	}
	m := make(map[string]string, len(e.Tags))
	for _, s := range e.Tags {
		k, v, _ := strings.Cut(s, "=")
		m[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return m
}

// IDSet returns the excluded resource ids as a set.
func (e Exclude) IDSet() map[string]bool {
	if len(e.ResourceIDs) == 0 {
		return nil
	}
	set := make(map[string]bool, len(e.ResourceIDs))
	for _, id := range e.ResourceIDs {
		set[id] = true
	}
	return set
}

// TimeoutDuration parses Timeout. An empty or malformed value yields 0.
func (c Config) TimeoutDuration() time.Duration {
	if c.Timeout == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// Validate rejects values no flag could have produced.
func (c Config) Validate() error {
	var errs []error
	if c.IdleDays < 0 {
		errs = append(errs, fmt.Errorf("idle_days must not be negative: %d", c.IdleDays))
	}
	if c.StoppedThresholdDays < 0 {
		errs = append(errs, fmt.Errorf("stopped_threshold_days must not be negative: %d", c.StoppedThresholdDays))
	}
	if c.IdleCPUThreshold < 0 || c.IdleCPUThreshold > 100 {
		errs = append(errs, fmt.Errorf("idle_cpu_threshold must be within 0-100: %g", c.IdleCPUThreshold))
	}
	if c.HighMemoryThreshold < 0 || c.HighMemoryThreshold > 100 {
		errs = append(errs, fmt.Errorf("high_memory_threshold must be within 0-100: %g", c.HighMemoryThreshold))
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency must not be negative: %d", c.Concurrency))
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("timeout: %w", err))
		}
	}
	switch c.Format {
	case "", "text", "json", "sarif", "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported format %q", c.Format))
	}
	return errors.Join(errs...)
}

// Load reads the first config file found in dir. A missing file is not an
// error and yields an empty Config.
func Load(dir string) (Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}

		var cfg Config
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := cfg.Validate(); err != nil {
			return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
		}
		return cfg, nil
	}
	return Config{}, nil
}
