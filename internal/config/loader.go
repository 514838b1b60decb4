package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Loader reads the configuration file and layers the environment on top.
type Loader struct {
	path   string
	lookup func(string) (string, bool)
	logger *zap.Logger
}

// NewLoader creates a loader for path. An empty path means environment only.
func NewLoader(path string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		path:   path,
		lookup: os.LookupEnv,
		logger: logger,
	}
}

// WithLookup replaces the environment lookup, for tests.
func (l *Loader) WithLookup(lookup func(string) (string, bool)) *Loader {
	l.lookup = lookup
	return l
}

// Load reads defaults, then the YAML file, then environment overrides, and
// validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		l.logger.Debug("Loading config file", zap.String("path", l.path))

		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(l.lookup); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	l.logger.Info("Configuration loaded",
		zap.String("path", l.path),
		zap.String("url", cfg.WebsocketURL()),
		zap.Bool("api", cfg.API.Enabled),
		zap.Bool("mqtt", cfg.MQTT.Enabled))
	return cfg, nil
}

// LoadEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnv(logger *zap.Logger, files ...string) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.Debug("No env file found, using environment variables", zap.String("file", f))
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
		logger.Debug("Loaded env file", zap.String("file", f))
	}
	return nil
}
