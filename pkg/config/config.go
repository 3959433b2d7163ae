// Package config loads broker and relay settings from defaults, an optional
// YAML file and the environment, in that order.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"orion-bridge/pkg/orion"

	"gopkg.in/yaml.v3"
)

// FIWARE Lab token endpoint.
const DefaultTokenURL = "https://orion.lab.fiware.org/token"

type Config struct {
	Orion    OrionConfig    `yaml:"orion"`
	Callback CallbackConfig `yaml:"callback"`
	Relay    RelayConfig    `yaml:"relay"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`
}

type OrionConfig struct {
	HostURL            string        `yaml:"host_url"`
	Port               int           `yaml:"port"`
	TokenURL           string        `yaml:"token_url"`
	AuthMethod         string        `yaml:"auth_method"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	Timeout            time.Duration `yaml:"timeout"`
	CAFile             string        `yaml:"ca_file"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// CallbackConfig decides where the broker posts notifications.
type CallbackConfig struct {
	Host   string `yaml:"host"`   // explicit base, e.g. https://relay.example
	Domain string `yaml:"domain"` // public domain used outside debug mode
	Debug  bool   `yaml:"debug"`
	Path   string `yaml:"path"`
}

type RelayConfig struct {
	Port        int           `yaml:"port"`
	DBPath      string        `yaml:"db_path"`
	BearerToken string        `yaml:"bearer_token"`
	Retention   time.Duration `yaml:"retention"` // 0 keeps notifications forever
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the baseline configuration for a local broker.
func Default() *Config {
	return &Config{
		Orion: OrionConfig{
			HostURL:  "localhost",
			Port:     orion.DefaultPort,
			TokenURL: DefaultTokenURL,
			Timeout:  orion.DefaultTimeout,
		},
		Callback: CallbackConfig{
			Domain: "example.com",
			Debug:  true,
			Path:   orion.DefaultCallbackPath,
		},
		Relay: RelayConfig{
			Port:        8000,
			DBPath:      "./db/orion-relay.db",
			BearerToken: "orion-relay-dev-token",
			Retention:   30 * 24 * time.Hour,
		},
		NATS: NATSConfig{
			Enabled: true,
			Port:    4222,
			DataDir: "./data/nats",
		},
		Log: LogConfig{
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the configuration from defaults, path (when non-empty) and
// environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv() error {
	if val := os.Getenv("ORION_HOST"); val != "" {
		c.Orion.HostURL = val
	}
	if val := os.Getenv("ORION_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("ORION_PORT: %w", err)
		}
		c.Orion.Port = port
	}
	if val := os.Getenv("ORION_TOKEN_URL"); val != "" {
		c.Orion.TokenURL = val
	}
	if val := os.Getenv("ORION_USE_TOKEN"); val != "" {
		use, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("ORION_USE_TOKEN: %w", err)
		}
		if use {
			c.Orion.AuthMethod = string(orion.AuthFIWAREToken)
		} else {
			c.Orion.AuthMethod = string(orion.AuthNone)
		}
	}
	if val := os.Getenv("ORION_AUTH_METHOD"); val != "" {
		if strings.EqualFold(val, "none") {
			val = ""
		}
		c.Orion.AuthMethod = val
	}
	if val := os.Getenv("FIWARE_USERNAME"); val != "" {
		c.Orion.Username = val
	}
	if val := os.Getenv("FIWARE_PASSWORD"); val != "" {
		c.Orion.Password = val
	}
	if val := os.Getenv("ORION_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("ORION_TIMEOUT: %w", err)
		}
		c.Orion.Timeout = d
	}
	if val := os.Getenv("ORION_CA_FILE"); val != "" {
		c.Orion.CAFile = val
	}
	if val := os.Getenv("ORION_INSECURE"); val != "" {
		insecure, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("ORION_INSECURE: %w", err)
		}
		c.Orion.InsecureSkipVerify = insecure
	}

	if val := os.Getenv("CALLBACK_HOST"); val != "" {
		c.Callback.Host = val
	}
	if val := os.Getenv("CALLBACK_DOMAIN"); val != "" {
		c.Callback.Domain = val
	}
	if val := os.Getenv("DEBUG"); val != "" {
		debug, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("DEBUG: %w", err)
		}
		c.Callback.Debug = debug
	}

	if val := os.Getenv("RELAY_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("RELAY_PORT: %w", err)
		}
		c.Relay.Port = port
	}
	if val := os.Getenv("RELAY_DB_PATH"); val != "" {
		c.Relay.DBPath = val
	}
	if val := os.Getenv("API_BEARER_TOKEN"); val != "" {
		c.Relay.BearerToken = val
	}
	if val := os.Getenv("RELAY_RETENTION"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("RELAY_RETENTION: %w", err)
		}
		c.Relay.Retention = d
	}

	if val := os.Getenv("NATS_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("NATS_ENABLED: %w", err)
		}
		c.NATS.Enabled = enabled
	}
	if val := os.Getenv("NATS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("NATS_PORT: %w", err)
		}
		c.NATS.Port = port
	}
	if val := os.Getenv("NATS_DATA_DIR"); val != "" {
		c.NATS.DataDir = val
	}

	if val := os.Getenv("LOG_FILE"); val != "" {
		c.Log.File = val
	}
	return nil
}

// Validate checks the settings a client or relay cannot run without.
func (c *Config) Validate() error {
	if c.Orion.HostURL == "" {
		return fmt.Errorf("orion host_url is required")
	}
	if c.Orion.Port <= 0 || c.Orion.Port > 65535 {
		return fmt.Errorf("orion port %d out of range", c.Orion.Port)
	}
	if c.Orion.Timeout <= 0 {
		return fmt.Errorf("orion timeout must be positive")
	}

	switch orion.AuthMethod(c.Orion.AuthMethod) {
	case orion.AuthNone:
	case orion.AuthFIWAREToken:
		if c.Orion.Username == "" || c.Orion.Password == "" {
			return fmt.Errorf("auth method %q needs FIWARE_USERNAME and FIWARE_PASSWORD", c.Orion.AuthMethod)
		}
	default:
		return fmt.Errorf("unknown auth method %q", c.Orion.AuthMethod)
	}

	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay port %d out of range", c.Relay.Port)
	}
	if c.Relay.Retention < 0 {
		return fmt.Errorf("relay retention must not be negative")
	}
	if c.NATS.Enabled && c.NATS.DataDir == "" {
		return fmt.Errorf("nats data_dir is required when nats is enabled")
	}
	return nil
}

// CallbackBase is the scheme and host the broker should call back on.
// An explicit host wins; debug mode and the placeholder domain fall back to
// this machine on the relay port.
func (c *Config) CallbackBase() string {
	if c.Callback.Host != "" {
		host := c.Callback.Host
		if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
			if c.Callback.Debug {
				host = "http://" + host
			} else {
				host = "https://" + host
			}
		}
		return strings.TrimRight(host, "/")
	}
	if c.Callback.Debug || c.Callback.Domain == "" || c.Callback.Domain == "example.com" {
		return fmt.Sprintf("http://%s", net.JoinHostPort(localIP(), strconv.Itoa(c.Relay.Port)))
	}
	return "https://" + c.Callback.Domain
}

// CallbackURL is the full notification URL for the relay's notify endpoint.
func (c *Config) CallbackURL() string {
	path := c.Callback.Path
	if path == "" {
		path = orion.DefaultCallbackPath
	}
	return c.CallbackBase() + "/" + strings.TrimLeft(path, "/")
}

// OrionConfig maps the settings onto the client's configuration. A broker
// on a bare IP address is a local install and is never sent a token.
func (c *Config) OrionConfig() orion.Config {
	method := orion.AuthMethod(c.Orion.AuthMethod)
	if c.IsLocal() {
		method = orion.AuthNone
	}
	return orion.Config{
		HostURL:            c.Orion.HostURL,
		Port:               c.Orion.Port,
		TokenURL:           c.Orion.TokenURL,
		Username:           c.Orion.Username,
		Password:           c.Orion.Password,
		AuthMethod:         method,
		Timeout:            c.Orion.Timeout,
		CAFile:             c.Orion.CAFile,
		InsecureSkipVerify: c.Orion.InsecureSkipVerify,
		CallbackBase:       c.CallbackBase(),
	}
}

// IsLocal reports whether the broker is addressed by a bare IPv4 address,
// which on a local install needs no token.
func (c *Config) IsLocal() bool {
	host := strings.TrimPrefix(strings.TrimPrefix(c.Orion.HostURL, "https://"), "http://")
	host = strings.TrimRight(host, "/")
	ip := net.ParseIP(host)
	return ip != nil && ip.To4() != nil
}

// localIP picks the address other hosts most likely reach us on.
func localIP() string {
	conn, err := net.Dial("udp", "192.0.2.1:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
