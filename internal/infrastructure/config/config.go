package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Brewpilot Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	Engine   EngineConfig   `yaml:"engine"`
	Spark    SparkConfig    `yaml:"spark"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	History  HistoryConfig  `yaml:"history"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServiceConfig contains service identity information.
// Name is used as the eventbus message key and the API route prefix.
type ServiceConfig struct {
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`

	// AuthSecret enables JWT bearer authentication on mutating routes when set.
	// Empty disables authentication (trusted-network deployments).
	AuthSecret string `yaml:"auth_secret"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// EngineConfig contains process engine settings.
type EngineConfig struct {
	// TickInterval is the idle period between update cycles, in seconds.
	// The engine waits this long after a cycle completes before starting
	// the next one, so slow cycles never overlap.
	TickInterval int `yaml:"tick_interval"`

	// MaxResults caps the per-process result history. Older results are
	// truncated on save; ordering of the retained tail is preserved.
	MaxResults int `yaml:"max_results"`
}

// SparkConfig contains device service gateway settings.
type SparkConfig struct {
	// BaseURL is the HTTP gateway fronting the device services; block
	// writes go to {base_url}/{service_id}/blocks/write.
	BaseURL string `yaml:"base_url"`
}

// SandboxConfig contains script sandbox settings.
type SandboxConfig struct {
	// Timeout is the hard per-script execution budget, in seconds.
	Timeout int `yaml:"timeout"`
}

// HistoryConfig contains InfluxDB telemetry settings.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BREWPILOT_SECTION_KEY
// For example: BREWPILOT_DATABASE_PATH, BREWPILOT_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name: "automation",
		},
		Database: DatabaseConfig{
			Path:        "./data/brewpilot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "eventbus",
				Port:     1883,
				ClientID: "brewpilot-automation",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 5000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Engine: EngineConfig{
			TickInterval: 5,
			MaxResults:   100,
		},
		Spark: SparkConfig{
			BaseURL: "http://gateway",
		},
		Sandbox: SandboxConfig{
			Timeout: 10,
		},
		History: HistoryConfig{
			Enabled:       false,
			BatchSize:     50,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BREWPILOT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BREWPILOT_SERVICE_NAME"); v != "" {
		cfg.Service.Name = v
	}

	// Database
	if v := os.Getenv("BREWPILOT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("BREWPILOT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BREWPILOT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BREWPILOT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("BREWPILOT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("BREWPILOT_API_AUTH_SECRET"); v != "" {
		cfg.API.AuthSecret = v
	}

	// Spark
	if v := os.Getenv("BREWPILOT_SPARK_BASE_URL"); v != "" {
		cfg.Spark.BaseURL = v
	}

	// History
	if v := os.Getenv("BREWPILOT_HISTORY_TOKEN"); v != "" {
		cfg.History.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Service.Name == "" {
		errs = append(errs, "service.name is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Engine validation
	if c.Engine.TickInterval < 1 {
		errs = append(errs, "engine.tick_interval must be at least 1 second")
	}
	if c.Engine.MaxResults < 1 {
		errs = append(errs, "engine.max_results must be at least 1")
	}

	// Spark validation
	if c.Spark.BaseURL == "" {
		errs = append(errs, "spark.base_url is required")
	}

	// Sandbox validation
	if c.Sandbox.Timeout < 1 {
		errs = append(errs, "sandbox.timeout must be at least 1 second")
	}

	// History validation
	if c.History.Enabled && c.History.URL == "" {
		errs = append(errs, "history.url is required when history is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// TickInterval returns the engine tick interval as a Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Engine.TickInterval) * time.Second
}

// SandboxTimeout returns the sandbox execution budget as a Duration.
func (c *Config) SandboxTimeout() time.Duration {
	return time.Duration(c.Sandbox.Timeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
