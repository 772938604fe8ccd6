// Package config loads genekit settings from an optional YAML file and
// GENEKIT_* environment variables. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by CacheBackend.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config holds every tunable of a session.
type Config struct {
	// CacheDir is the single cache-root setting. Every persisted artifact
	// lives below it.
	CacheDir     string        `yaml:"cache_dir"`
	CacheBackend string        `yaml:"cache_backend"`
	Compress     bool          `yaml:"compress"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	Retries      int           `yaml:"retries"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	Workers      int           `yaml:"workers"`
	S3Region     string        `yaml:"s3_region"`
	S3Endpoint   string        `yaml:"s3_endpoint"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		CacheDir:     DefaultCacheDir(),
		CacheBackend: BackendSQLite,
		Compress:     true,
		LogLevel:     "info",
		LogFormat:    "text",
		HTTPTimeout:  30 * time.Second,
		Retries:      3,
		BusyTimeout:  15 * time.Second,
		Workers:      2,
	}
}

// DefaultCacheDir is the per-user data directory.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "genekit")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "genekit")
	}
	return filepath.Join(home, ".local", "share", "genekit")
}

// Load reads path (when non-empty) over the defaults and applies the
// environment. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("GENEKIT_CACHE_DIR", &c.CacheDir)
	str("GENEKIT_CACHE_BACKEND", &c.CacheBackend)
	str("GENEKIT_LOG_LEVEL", &c.LogLevel)
	str("GENEKIT_LOG_FORMAT", &c.LogFormat)
	str("GENEKIT_S3_REGION", &c.S3Region)
	str("GENEKIT_S3_ENDPOINT", &c.S3Endpoint)
	if v, ok := lookup("GENEKIT_COMPRESS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GENEKIT_COMPRESS: %w", err)
		}
		c.Compress = b
	}
	return errors.Join(
		dur("GENEKIT_HTTP_TIMEOUT", &c.HTTPTimeout),
		dur("GENEKIT_BUSY_TIMEOUT", &c.BusyTimeout),
		num("GENEKIT_RETRIES", &c.Retries),
		num("GENEKIT_WORKERS", &c.Workers),
	)
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.CacheDir == "" {
		errs = append(errs, errors.New("cache_dir must be set"))
	}
	switch c.CacheBackend {
	case BackendSQLite, BackendBadger, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown cache_backend %q", c.CacheBackend))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("http_timeout must be positive"))
	}
	if c.BusyTimeout <= 0 {
		errs = append(errs, errors.New("busy_timeout must be positive"))
	}
	if c.Retries < 0 {
		errs = append(errs, errors.New("retries must not be negative"))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	return errors.Join(errs...)
}

// Path joins elem below the cache root.
func (c Config) Path(elem ...string) string {
	return filepath.Join(append([]string{c.CacheDir}, elem...)...)
}
