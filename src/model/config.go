package model

import "time"

// ----------------------------------------------------
// ================ Config ================
// Environment keys are relative to the section prefix, e.g. SITEKIT_LOG_LEVEL.

// LogConfig controls the zerolog output
type LogConfig struct {
	Level      string `yaml:"level" envconfig:"LEVEL"`
	Format     string `yaml:"format" envconfig:"FORMAT"`
	Output     string `yaml:"output" envconfig:"OUTPUT"`
	FilePath   string `yaml:"file_path" envconfig:"FILE_PATH"`
	TimeFormat string `yaml:"time_format" envconfig:"TIME_FORMAT"`
}

// APIConfig describes how to reach the WordPress REST API
type APIConfig struct {
	BaseURL   string        `yaml:"base_url" envconfig:"BASE_URL"`
	Namespace string        `yaml:"namespace" envconfig:"NAMESPACE"`
	Nonce     string        `yaml:"nonce" envconfig:"NONCE"`
	Username  string        `yaml:"username" envconfig:"USERNAME"`
	Password  string        `yaml:"password" envconfig:"PASSWORD"`
	Timeout   time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// CacheConfig configures the shared report cache.
// An empty RedisURL keeps reports in process memory only.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url" envconfig:"REDIS_URL"`
	TTL      time.Duration `yaml:"ttl" envconfig:"TTL"`
	Prefix   string        `yaml:"prefix" envconfig:"PREFIX"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr" envconfig:"ADDR"`
}
