package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	ModelAPI ModelAPIConfig `mapstructure:"model_api"`
	Imaging  ImagingConfig  `mapstructure:"imaging"`
	Report   ReportConfig   `mapstructure:"report"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// ModelAPIConfig represents the CXR prediction service configuration
type ModelAPIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RetryCount int           `mapstructure:"retry_count"`
}

// ImagingConfig controls image acquisition and re-encoding
type ImagingConfig struct {
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	MaxBytes     int64         `mapstructure:"max_bytes"`
	MaxDimension int           `mapstructure:"max_dimension"`
	JPEGQuality  int           `mapstructure:"jpeg_quality"`
}

// ReportConfig controls report composition metadata
type ReportConfig struct {
	SystemName string `mapstructure:"system_name"`
	Disclaimer string `mapstructure:"disclaimer"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ConfigManager provides access to validated application configuration
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	Validate() error
}
