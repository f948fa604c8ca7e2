package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Access.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Access    AccessConfig    `yaml:"access"`
	LiveSync  LiveSyncConfig  `yaml:"livesync"`
	Drivers   DriversConfig   `yaml:"drivers"`
	Blob      BlobConfig      `yaml:"blob"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// MQTT is optional: when disabled, live events only reach WebSocket clients
// and LiveSync is triggered through the HTTP API only.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	Ingest   IngestConfig     `yaml:"ingest"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// IngestConfig bounds the device notification endpoint.
//
// MaxConcurrent notifications are processed at once; up to MaxBacklog more
// wait for a slot before the server answers 503. Timeout caps the whole
// pipeline run for a single notification (seconds).
type IngestConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	MaxBacklog    int `yaml:"max_backlog"`
	Timeout       int `yaml:"timeout"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig holds the shared secret used to validate operator tokens.
// Tokens are issued by the operator auth service, never by this process.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// AccessConfig contains recognition event ingestion settings.
type AccessConfig struct {
	// DebounceWindowMS suppresses repeat detections of the same identifier.
	// Default: 5000
	DebounceWindowMS int `yaml:"debounce_window_ms"`

	// DebounceMaxEntries caps the debounce cache. 0 means unbounded
	// (entries are still swept once they leave the window).
	DebounceMaxEntries int `yaml:"debounce_max_entries"`

	// FallbackDeviceID is used when a notification cannot be matched to a
	// registered device. Empty selects the first registered device by name.
	FallbackDeviceID string `yaml:"fallback_device_id"`
}

// LiveSyncConfig contains credential provisioning fan-out settings.
type LiveSyncConfig struct {
	// CallTimeoutMS bounds each per-device driver call.
	// Default: 5000
	CallTimeoutMS int `yaml:"call_timeout_ms"`

	// MaxParallel limits concurrent device calls for one sync. 0 means one
	// goroutine per reachable device.
	MaxParallel int `yaml:"max_parallel"`
}

// DriversConfig contains settings shared by every vendor driver.
type DriversConfig struct {
	// RequestRate is the sustained request rate per device (requests/second).
	RequestRate float64 `yaml:"request_rate"`

	// RequestBurst is the token bucket size per device.
	RequestBurst int `yaml:"request_burst"`

	// MaxResponseBytes caps how much of a device response is read.
	MaxResponseBytes int64 `yaml:"max_response_bytes"`

	// InsecureSkipVerify disables TLS verification for devices with
	// self-signed certificates (most cameras ship this way).
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// BlobConfig contains snapshot storage settings.
type BlobConfig struct {
	Root string `yaml:"root"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_API_PORT
//
// Parameters:
//   - path: YAML file to read
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Logic Access",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/access.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-access",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Ingest: IngestConfig{
				MaxConcurrent: 32,
				MaxBacklog:    256,
				Timeout:       15,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Access: AccessConfig{
			DebounceWindowMS:   5000,
			DebounceMaxEntries: 100000,
		},
		LiveSync: LiveSyncConfig{
			CallTimeoutMS: 5000,
			MaxParallel:   0,
		},
		Drivers: DriversConfig{
			RequestRate:        10,
			RequestBurst:       5,
			MaxResponseBytes:   8 << 20,
			InsecureSkipVerify: true,
		},
		Blob: BlobConfig{
			Root: "./data/blobs",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GRAYLOGIC_BLOB_ROOT"); v != "" {
		cfg.Blob.Root = v
	}

	// Always override in production.
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Ingest.MaxConcurrent < 1 {
		errs = append(errs, "api.ingest.max_concurrent must be at least 1")
	}
	if c.API.Ingest.Timeout < 1 {
		errs = append(errs, "api.ingest.timeout must be at least 1 second")
	}

	if c.Access.DebounceWindowMS < 0 {
		errs = append(errs, "access.debounce_window_ms cannot be negative")
	}
	if c.LiveSync.CallTimeoutMS < 1 {
		errs = append(errs, "livesync.call_timeout_ms must be positive")
	}
	if c.Drivers.RequestRate <= 0 {
		errs = append(errs, "drivers.request_rate must be positive")
	}

	if c.Blob.Root == "" {
		errs = append(errs, "blob.root is required")
	}

	// Diagnostics endpoints reach physical security devices; a short secret
	// would let anyone forge an operator token.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set GRAYLOGIC_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// DebounceWindow returns the debounce window as a Duration.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Access.DebounceWindowMS) * time.Millisecond
}

// SyncCallTimeout returns the per-device LiveSync call timeout.
func (c *Config) SyncCallTimeout() time.Duration {
	return time.Duration(c.LiveSync.CallTimeoutMS) * time.Millisecond
}

// IngestTimeout returns the overall timeout for one device notification.
func (c *Config) IngestTimeout() time.Duration {
	return time.Duration(c.API.Ingest.Timeout) * time.Second
}
