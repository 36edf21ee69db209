package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"sitekit_datastore/src/model"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "SITEKIT"

// Config represents the structure of sitekit.yaml
type Config struct {
	Log     model.LogConfig     `yaml:"log" envconfig:"LOG"`
	API     model.APIConfig     `yaml:"api" envconfig:"API"`
	Cache   model.CacheConfig   `yaml:"cache" envconfig:"CACHE"`
	Metrics model.MetricsConfig `yaml:"metrics" envconfig:"METRICS"`
}

// Default returns the configuration used when nothing else is set
func Default() *Config {
	return &Config{
		Log: model.LogConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			FilePath:   "logs/sitekit.log",
			TimeFormat: "rfc3339",
		},
		API: model.APIConfig{
			Namespace: "google-site-kit",
			Timeout:   30 * time.Second,
		},
		Cache: model.CacheConfig{
			TTL:    time.Hour,
			Prefix: "sitekit:report:",
		},
	}
}

// LoadConfig layers defaults, the YAML file at path (optional when empty
// or missing), .env and process environment, in that order.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("error reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("error parsing YAML: %w", err)
			}
		}
	}

	// .env is optional, a missing file is not an error
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %w", err)
	}

	// Same variable the rest of our tooling reads.
	if config.Cache.RedisURL == "" {
		config.Cache.RedisURL = os.Getenv("REDIS_URL")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the fields every command depends on
func (c *Config) Validate() error {
	if c.API.BaseURL != "" && !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.Namespace == "" {
		return errors.New("api.namespace cannot be empty")
	}
	if c.API.Timeout < 0 {
		return errors.New("api.timeout cannot be negative")
	}
	return nil
}
