// Package config loads the Heron configuration from defaults, an optional
// YAML file and environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/opensource-finance/heron/internal/domain"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvTier        = "HERON_TIER"
	EnvConfigFile  = "HERON_CONFIG"
	EnvPort        = "HERON_PORT"
	EnvModelPath   = "HERON_MODEL_PATH"
	EnvSQLitePath  = "HERON_SQLITE_PATH"
	EnvDatasetCSV  = "HERON_DATASET_CSV"
	EnvAsyncWorker = "HERON_ASYNC_WORKER"
	EnvDebug       = "HERON_DEBUG"
)

// Load builds the configuration: tier defaults, then the YAML file named by
// HERON_CONFIG, then individual environment overrides.
func Load() (*domain.Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if getenv(EnvTier) == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}

	if path := getenv(EnvConfigFile); path != "" {
		if err := mergeFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 {
			return nil, fmt.Errorf("invalid %s %q", EnvPort, v)
		}
		cfg.Server.Port = port
	}
	if v := getenv(EnvModelPath); v != "" {
		cfg.Model.ArtifactPath = v
	}
	if v := getenv(EnvSQLitePath); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := getenv(EnvDatasetCSV); v != "" {
		cfg.Dataset.CSVPath = v
	}
	if v := getenv(EnvAsyncWorker); v != "" {
		cfg.AsyncWorker = v == "true"
	}
	if getenv(EnvDebug) == "true" {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

// mergeFile overlays the YAML document at path onto cfg.
// Keys absent from the file keep their current values.
func mergeFile(cfg *domain.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
