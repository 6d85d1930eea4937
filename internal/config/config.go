package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/inspectra-cxr-server/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// Set configuration file name and paths
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/inspectra-cxr-server/")

	// Set environment variable prefix and enable automatic env binding
	viper.SetEnvPrefix("CXR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	m.setDefaults()

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal configuration into struct
	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "60s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Prediction service defaults
	viper.SetDefault("model_api.base_url", "http://localhost:50000")
	viper.SetDefault("model_api.timeout", "30s")
	viper.SetDefault("model_api.rate_limit", 10)
	viper.SetDefault("model_api.retry_count", 3)

	// Imaging defaults
	viper.SetDefault("imaging.fetch_timeout", "15s")
	viper.SetDefault("imaging.max_bytes", 20971520)
	viper.SetDefault("imaging.max_dimension", 1600)
	viper.SetDefault("imaging.jpeg_quality", 85)

	// Report defaults
	viper.SetDefault("report.system_name", "InSpectra CXR")
	viper.SetDefault("report.disclaimer", "")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	// Validate prediction service configuration
	if config.ModelAPI.BaseURL == "" {
		return fmt.Errorf("model API base URL is required")
	}
	if config.ModelAPI.RateLimit <= 0 {
		return fmt.Errorf("model API rate limit must be positive: %d", config.ModelAPI.RateLimit)
	}

	// Validate imaging configuration
	if config.Imaging.MaxBytes <= 0 {
		return fmt.Errorf("imaging max bytes must be positive: %d", config.Imaging.MaxBytes)
	}
	if config.Imaging.MaxDimension <= 0 {
		return fmt.Errorf("imaging max dimension must be positive: %d", config.Imaging.MaxDimension)
	}
	if config.Imaging.JPEGQuality < 1 || config.Imaging.JPEGQuality > 100 {
		return fmt.Errorf("imaging JPEG quality must be in [1,100]: %d", config.Imaging.JPEGQuality)
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}
