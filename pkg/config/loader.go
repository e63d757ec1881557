package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the expected configuration file inside the config
// directory. A missing file is not an error: defaults apply.
const ConfigFileName = "deepscout.yaml"

// Initialize loads, merges, and validates configuration from configDir.
//
// Steps performed:
//  1. Read deepscout.yaml (if present)
//  2. Expand {{.ENV_VAR}} references
//  3. Parse YAML into a Config
//  4. Merge user values over built-in defaults
//  5. Validate the result
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := DefaultConfig()

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("No configuration file found, using defaults", "path", path)
	case err != nil:
		return nil, NewLoadError(ConfigFileName, err)
	default:
		user := &Config{}
		if err := yaml.Unmarshal(ExpandEnv(data), user); err != nil {
			return nil, NewLoadError(ConfigFileName, err)
		}
		if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
			return nil, NewLoadError(ConfigFileName, fmt.Errorf("merge: %w", err))
		}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	log.Info("Configuration initialized",
		"data_dir", cfg.Storage.DataDir,
		"scraping_workers", cfg.Scraping.WorkerPoolSize,
		"summarization_workers", cfg.Summarization.WorkerPoolSize,
		"llm_provider", cfg.LLM.Provider)

	return cfg, nil
}
