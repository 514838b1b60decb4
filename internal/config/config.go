package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Defaults.
const (
	DefaultPort           = 8123
	DefaultPath           = "/api/websocket"
	DefaultRequestTimeout = 30 * time.Second
	DefaultReconnectDelay = 5 * time.Second
	DefaultPingInterval   = 15 * time.Second
	DefaultAPIPort        = 8080
	DefaultTopicPrefix    = "climatesync"
	DefaultMQTTClientID   = "climatesync"
)

// Config is the climatesync.yaml structure
type Config struct {
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
	Sync          SyncConfig          `yaml:"sync"`
	API           APIConfig           `yaml:"api"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HomeAssistantConfig locates the hub. URL wins over Host/Port/TLS/Path.
type HomeAssistantConfig struct {
	URL                string `yaml:"url"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	TLS                bool   `yaml:"tls"`
	Path               string `yaml:"path"`
	Token              string `yaml:"token"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// SyncConfig tunes the session and the reconnect loop
type SyncConfig struct {
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	ReconnectDelay     time.Duration `yaml:"reconnect_delay"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	RetryOnAuthFailure bool          `yaml:"retry_on_auth_failure"`
	Include            []string      `yaml:"include"`
}

// APIConfig controls the HTTP API server
type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// MQTTConfig controls the MQTT state mirror
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// LoggingConfig selects the zap preset and level
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		HomeAssistant: HomeAssistantConfig{
			Port: DefaultPort,
			Path: DefaultPath,
		},
		Sync: SyncConfig{
			RequestTimeout: DefaultRequestTimeout,
			ReconnectDelay: DefaultReconnectDelay,
			PingInterval:   DefaultPingInterval,
		},
		API: APIConfig{
			Port: DefaultAPIPort,
		},
		MQTT: MQTTConfig{
			ClientID:    DefaultMQTTClientID,
			TopicPrefix: DefaultTopicPrefix,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv. Every malformed value is reported.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
			return
		}
		*dst = n
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: invalid boolean %q", key, v))
			return
		}
		*dst = b
	}

	str("HA_URL", &c.HomeAssistant.URL)
	str("HA_TOKEN", &c.HomeAssistant.Token)
	str("HA_HOST", &c.HomeAssistant.Host)
	integer("HA_PORT", &c.HomeAssistant.Port)
	boolean("HA_TLS", &c.HomeAssistant.TLS)
	str("HA_PATH", &c.HomeAssistant.Path)
	integer("CLIMATESYNC_API_PORT", &c.API.Port)
	if v, ok := lookup("CLIMATESYNC_MQTT_BROKER"); ok && strings.TrimSpace(v) != "" {
		c.MQTT.Broker = strings.TrimSpace(v)
		c.MQTT.Enabled = true
	}

	return errs
}

// Normalize trims fields and gives the websocket path a leading slash.
func (c *Config) Normalize() {
	ha := &c.HomeAssistant
	ha.URL = strings.TrimSpace(ha.URL)
	ha.Host = strings.TrimSpace(ha.Host)
	ha.Token = strings.TrimSpace(ha.Token)
	ha.Path = strings.TrimSpace(ha.Path)
	if ha.Path != "" && !strings.HasPrefix(ha.Path, "/") {
		ha.Path = "/" + ha.Path
	}
	c.MQTT.TopicPrefix = strings.Trim(strings.TrimSpace(c.MQTT.TopicPrefix), "/")
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs error
	ha := c.HomeAssistant

	if ha.URL != "" {
		u, err := url.Parse(ha.URL)
		switch {
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("home_assistant.url: %w", err))
		case u.Scheme != "ws" && u.Scheme != "wss":
			errs = multierr.Append(errs, fmt.Errorf("home_assistant.url: scheme must be ws or wss, got %q", u.Scheme))
		case u.Host == "":
			errs = multierr.Append(errs, fmt.Errorf("home_assistant.url: host is required"))
		}
	} else {
		if ha.Host == "" {
			errs = multierr.Append(errs, fmt.Errorf("home_assistant.host is required"))
		}
		if ha.Port < 1 || ha.Port > 65535 {
			errs = multierr.Append(errs, fmt.Errorf("home_assistant.port must be between 1 and 65535, got %d", ha.Port))
		}
		if ha.Path == "" {
			errs = multierr.Append(errs, fmt.Errorf("home_assistant.path is required"))
		}
	}
	if ha.Token == "" {
		errs = multierr.Append(errs, fmt.Errorf("home_assistant.token is required"))
	}

	if c.Sync.RequestTimeout <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("sync.request_timeout must be positive"))
	}
	if c.Sync.ReconnectDelay <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("sync.reconnect_delay must be positive"))
	}
	if c.Sync.PingInterval < 0 {
		errs = multierr.Append(errs, fmt.Errorf("sync.ping_interval must not be negative"))
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = multierr.Append(errs, fmt.Errorf("api.port must be between 1 and 65535, got %d", c.API.Port))
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = multierr.Append(errs, fmt.Errorf("mqtt.broker is required when mqtt is enabled"))
		}
		if c.MQTT.TopicPrefix == "" {
			errs = multierr.Append(errs, fmt.Errorf("mqtt.topic_prefix is required when mqtt is enabled"))
		}
		if c.MQTT.QoS > 2 {
			errs = multierr.Append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = multierr.Append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	return errs
}

// WebsocketURL returns the endpoint to dial, building it from host, port,
// TLS and path when no explicit URL is configured.
func (c *Config) WebsocketURL() string {
	ha := c.HomeAssistant
	if ha.URL != "" {
		return ha.URL
	}
	scheme := "ws"
	if ha.TLS {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(ha.Host, strconv.Itoa(ha.Port)),
		Path:   ha.Path,
	}
	return u.String()
}
