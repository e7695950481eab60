package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor VLCBRIDGE_CONFIG is set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for the VLC bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Integration IntegrationConfig `yaml:"integration"`
	Listen      ListenConfig      `yaml:"listen"`
	Database    DatabaseConfig    `yaml:"database"`
	Polling     PollingConfig     `yaml:"polling"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// IntegrationConfig identifies this integration to the hub.
type IntegrationConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Developer string `yaml:"developer"`
	// PublicURL is the externally reachable base URL used for artwork links.
	// Empty means artwork is linked directly to the player.
	PublicURL string `yaml:"public_url"`
}

// ListenConfig contains the hub-facing HTTP/WebSocket server settings.
type ListenConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	WebSocketPath  string        `yaml:"websocket_path"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`

	// ArtRateLimit caps artwork proxy requests per client IP per minute.
	// Zero disables the limit.
	ArtRateLimit int `yaml:"art_rate_limit"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// PollingConfig controls the player status poll loop and connectivity monitor.
type PollingConfig struct {
	StatusInterval       time.Duration `yaml:"status_interval"`
	ErrorBackoff         time.Duration `yaml:"error_backoff"`
	SettleDelay          time.Duration `yaml:"settle_delay"`
	ConnectivityInterval time.Duration `yaml:"connectivity_interval"`
	ConnectivityBackoff  time.Duration `yaml:"connectivity_backoff"`
	ConnectivityWorkers  int           `yaml:"connectivity_workers"`
}

// MQTTConfig contains MQTT broker connection settings for the optional state mirror.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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
	MaxAttempts  int `yaml:"max_attempts"`
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

// DiscoveryConfig controls mDNS advertisement of the integration.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
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
// A missing file is not an error: the bridge runs on defaults and env overrides,
// which is how it is usually deployed in a container.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be parsed or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Integration: IntegrationConfig{
			ID:        "vlc",
			Name:      "VLC Media Player",
			Developer: "vlcbridge",
		},
		Listen: ListenConfig{
			Host:           "0.0.0.0",
			Port:           9090,
			WebSocketPath:  "/ws",
			MaxMessageSize: 65536,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			ArtRateLimit:   120,
		},
		Database: DatabaseConfig{
			Path:        "./data/vlcbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Polling: PollingConfig{
			StatusInterval:       3 * time.Second,
			ErrorBackoff:         10 * time.Second,
			SettleDelay:          500 * time.Millisecond,
			ConnectivityInterval: 30 * time.Second,
			ConnectivityBackoff:  60 * time.Second,
			ConnectivityWorkers:  4,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "vlcbridge",
			},
			QoS:         1,
			TopicPrefix: "vlcbridge",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Discovery: DiscoveryConfig{
			Service: "_uc-integration._tcp",
			Domain:  "local.",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VLCBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VLCBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("VLCBRIDGE_LISTEN_HOST"); v != "" {
		cfg.Listen.Host = v
	}
	if v := os.Getenv("VLCBRIDGE_LISTEN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Listen.Port = port
		}
	}

	if v := os.Getenv("VLCBRIDGE_PUBLIC_URL"); v != "" {
		cfg.Integration.PublicURL = v
	}

	if v := os.Getenv("VLCBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VLCBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VLCBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("VLCBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("VLCBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Integration.ID == "" {
		errs = append(errs, "integration.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, "listen.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.Listen.WebSocketPath, "/") {
		errs = append(errs, "listen.websocket_path must start with /")
	}

	if c.Polling.StatusInterval <= 0 {
		errs = append(errs, "polling.status_interval must be positive")
	}
	if c.Polling.ErrorBackoff <= 0 {
		errs = append(errs, "polling.error_backoff must be positive")
	}
	if c.Polling.SettleDelay < 0 {
		errs = append(errs, "polling.settle_delay must not be negative")
	}
	if c.Polling.ConnectivityInterval <= 0 {
		errs = append(errs, "polling.connectivity_interval must be positive")
	}
	if c.Polling.ConnectivityBackoff <= 0 {
		errs = append(errs, "polling.connectivity_backoff must be positive")
	}
	if c.Polling.ConnectivityWorkers < 1 {
		errs = append(errs, "polling.connectivity_workers must be at least 1")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.Discovery.Enabled && c.Discovery.Service == "" {
		errs = append(errs, "discovery.service is required when discovery is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ListenAddr returns the host:port the hub-facing server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Listen.Host, c.Listen.Port)
}
