package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds application configuration.
type Config struct {
	Addr            string   `toml:"addr"`
	DataDir         string   `toml:"data_dir"`
	MaxUploadBytes  int64    `toml:"max_upload_bytes"`
	MaxJobs         int      `toml:"max_concurrent_jobs"`
	JobTimeout      duration `toml:"job_timeout"`
	CleanupInterval duration `toml:"cleanup_interval"`
	JobTTL          duration `toml:"job_ttl"`
	DemucsModel     string   `toml:"demucs_model"`
}

// duration lets TOML carry values like "30m".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func defaults() *Config {
	return &Config{
		Addr:            ":8080",
		DataDir:         "data",
		MaxUploadBytes:  500 * 1024 * 1024,
		MaxJobs:         2,
		JobTimeout:      duration(30 * time.Minute),
		CleanupInterval: duration(30 * time.Minute),
		JobTTL:          duration(24 * time.Hour),
		DemucsModel:     "htdemucs",
	}
}

// Load builds the configuration: compiled defaults, then the optional TOML
// file named by STEMSPLIT_CONFIG, then env var overrides.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("STEMSPLIT_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("STEMSPLIT_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("STEMSPLIT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("STEMSPLIT_MAX_UPLOAD_BYTES"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = parsed
		}
	}
	if v := os.Getenv("STEMSPLIT_MAX_JOBS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.MaxJobs = parsed
		}
	}
	if v := os.Getenv("STEMSPLIT_JOB_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.JobTimeout = duration(parsed)
		}
	}
	if v := os.Getenv("STEMSPLIT_CLEANUP_INTERVAL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.CleanupInterval = duration(parsed)
		}
	}
	if v := os.Getenv("STEMSPLIT_JOB_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.JobTTL = duration(parsed)
		}
	}
	if v := os.Getenv("STEMSPLIT_DEMUCS_MODEL"); v != "" {
		cfg.DemucsModel = v
	}

	return cfg, nil
}

// JobTimeoutDuration returns the per-job pipeline timeout.
func (c *Config) JobTimeoutDuration() time.Duration { return time.Duration(c.JobTimeout) }

// CleanupIntervalDuration returns the cleanup sweep interval.
func (c *Config) CleanupIntervalDuration() time.Duration { return time.Duration(c.CleanupInterval) }

// JobTTLDuration returns how long finished jobs are retained.
func (c *Config) JobTTLDuration() time.Duration { return time.Duration(c.JobTTL) }
