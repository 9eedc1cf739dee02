// Package config holds the explicit service configuration: defaults, an
// optional JSON file, then environment overrides, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultMaxUploadBytes bounds a single upload before parsing begins.
const DefaultMaxUploadBytes = 256 << 20

// Config is the full service configuration.
type Config struct {
	ListenAddr     string `json:"listen_addr"`
	StorageKind    string `json:"storage_kind"`
	DSN            string `json:"dsn"`
	UploadDir      string `json:"upload_dir"`
	ModelsDir      string `json:"models_dir"`
	MaxUploadBytes int64  `json:"max_upload_bytes"`
	LogLevel       string `json:"log_level"`
	LogFormat      string `json:"log_format"`
	MetricsBackend string `json:"metrics_backend"`
	MetricsTags    string `json:"metrics_tags"`
}

// Default returns the built-in configuration: embedded SQLite next to the
// working directory, text logs, no metrics backend.
func Default() *Config {
	return &Config{
		ListenAddr:     ":8000",
		StorageKind:    "sqlite",
		DSN:            "./queryverse.db",
		UploadDir:      "./uploads",
		ModelsDir:      "./dbt_models",
		MaxUploadBytes: DefaultMaxUploadBytes,
		LogLevel:       "info",
		LogFormat:      "text",
		MetricsBackend: "",
		MetricsTags:    "",
	}
}

// Load builds the configuration. path may be empty (no file); a named file
// that does not exist is an error, matching explicit operator intent. A .env
// file in the working directory is loaded first so container setups work
// without exporting variables.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	setString("QV_LISTEN_ADDR", &cfg.ListenAddr)
	setString("QV_STORAGE_KIND", &cfg.StorageKind)
	setString("QV_DSN", &cfg.DSN)
	setString("QV_UPLOAD_DIR", &cfg.UploadDir)
	setString("QV_MODELS_DIR", &cfg.ModelsDir)
	setString("QV_LOG_LEVEL", &cfg.LogLevel)
	setString("QV_LOG_FORMAT", &cfg.LogFormat)
	setString("QV_METRICS_BACKEND", &cfg.MetricsBackend)
	setString("QV_METRICS_TAGS", &cfg.MetricsTags)

	if v := strings.TrimSpace(os.Getenv("QV_MAX_UPLOAD_BYTES")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}
	if c.StorageKind == "" {
		return fmt.Errorf("config: storage_kind must not be empty")
	}
	if c.DSN == "" {
		return fmt.Errorf("config: dsn must not be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("config: log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}
