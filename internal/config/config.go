package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultRelayURL is the default WebSocket URL for the SheetLink relay.
// Override at build time with: go build -ldflags "-X github.com/sheetlink/companion/internal/config.DefaultRelayURL=ws://localhost:4000/realtime"
var DefaultRelayURL = "wss://relay.sheetlink.app/realtime"

// DefaultAPIBaseURL returns the HTTP(S) base URL derived from the default relay URL.
// e.g. "wss://relay.sheetlink.app/realtime" → "https://relay.sheetlink.app"
//      "ws://localhost:4000/realtime"       → "http://localhost:4000"
func DefaultAPIBaseURL() string {
	return apiBaseFrom(DefaultRelayURL)
}

func apiBaseFrom(relayURL string) string {
	u := relayURL
	for _, suffix := range []string{"/realtime/websocket", "/realtime"} {
		if strings.HasSuffix(u, suffix) {
			u = u[:len(u)-len(suffix)]
			break
		}
	}
	if strings.HasPrefix(u, "wss://") {
		return "https://" + u[6:]
	}
	if strings.HasPrefix(u, "ws://") {
		return "http://" + u[5:]
	}
	return u
}

// Config represents the companion configuration
type Config struct {
	RelayURL     string `yaml:"relay_url" mapstructure:"relay_url"`
	APIBaseURL   string `yaml:"api_base_url,omitempty" mapstructure:"api_base_url"`
	APIKey       string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	AccessToken  string `yaml:"access_token,omitempty" mapstructure:"access_token"`
	RefreshToken string `yaml:"refresh_token,omitempty" mapstructure:"refresh_token"`

	// The pairing this companion should hold open. Written by `sheetlink pair`,
	// picked up live by a running daemon through the config watcher.
	PairingID string `yaml:"pairing_id,omitempty" mapstructure:"pairing_id"`

	// Stable per-install identifier, generated on first load.
	ClientID string `yaml:"client_id,omitempty" mapstructure:"client_id"`

	CachePath string `yaml:"cache_path,omitempty" mapstructure:"cache_path"`

	Hub       HubConfig       `yaml:"hub" mapstructure:"hub"`
	Intervals IntervalsConfig `yaml:"intervals" mapstructure:"intervals"`
}

// HubConfig holds settings for the local view hub.
type HubConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

// IntervalsConfig holds the timing knobs. Zero values fall back to defaults.
type IntervalsConfig struct {
	HeartbeatSeconds int `yaml:"heartbeat_seconds" mapstructure:"heartbeat_seconds"`
	ReconnectSeconds int `yaml:"reconnect_seconds" mapstructure:"reconnect_seconds"`
	KeepaliveSeconds int `yaml:"keepalive_seconds" mapstructure:"keepalive_seconds"`
	AutoDrainMinutes int `yaml:"auto_drain_minutes" mapstructure:"auto_drain_minutes"`
}

// Heartbeat returns the realtime heartbeat interval.
func (c *Config) Heartbeat() time.Duration {
	if c.Intervals.HeartbeatSeconds > 0 {
		return time.Duration(c.Intervals.HeartbeatSeconds) * time.Second
	}
	return 30 * time.Second
}

// ReconnectDelay returns the fixed delay before a reconnect attempt. It is
// deliberately not exponential: the keepalive schedule already bounds how
// long a dead subscription can linger, so backing off only slows recovery.
func (c *Config) ReconnectDelay() time.Duration {
	if c.Intervals.ReconnectSeconds > 0 {
		return time.Duration(c.Intervals.ReconnectSeconds) * time.Second
	}
	return 3 * time.Second
}

// Keepalive returns the scheduler interval for the liveness check.
func (c *Config) Keepalive() time.Duration {
	if c.Intervals.KeepaliveSeconds > 0 {
		return time.Duration(c.Intervals.KeepaliveSeconds) * time.Second
	}
	return 60 * time.Second
}

// AutoDrain returns the interval of the periodic safety drain.
func (c *Config) AutoDrain() time.Duration {
	if c.Intervals.AutoDrainMinutes > 0 {
		return time.Duration(c.Intervals.AutoDrainMinutes) * time.Minute
	}
	return 5 * time.Minute
}

// APIBase returns the REST base URL, derived from the relay URL when not set
// explicitly.
func (c *Config) APIBase() string {
	if c.APIBaseURL != "" {
		return c.APIBaseURL
	}
	return apiBaseFrom(c.RelayURL)
}

var (
	configPath string
	configDir  string
)

func init() {
	// When running under sudo, os.UserHomeDir() returns /root.
	// Check SUDO_USER to resolve the real user's home directory.
	var home string
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			home = u.HomeDir
		}
	}
	if home == "" {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			panic(fmt.Sprintf("failed to get home directory: %v", err))
		}
	}

	configDir = filepath.Join(home, ".sheetlink")
	configPath = filepath.Join(configDir, "companion.yaml")
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	return configPath
}

// GetConfigDir returns the config directory
func GetConfigDir() string {
	return configDir
}

// Load loads the configuration from file, creating a default one on first
// run. SHEETLINK_RELAY_URL and SHEETLINK_API_KEY override the file.
func Load() (*Config, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		defaultConfig := &Config{
			RelayURL: DefaultRelayURL,
			ClientID: uuid.NewString(),
			Hub:      HubConfig{Enabled: true, Addr: "127.0.0.1:5578"},
		}
		if err := Save(defaultConfig); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return defaultConfig, nil
	}

	viper.SetConfigFile(configPath)
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if url := os.Getenv("SHEETLINK_RELAY_URL"); url != "" {
		cfg.RelayURL = url
	}
	if key := os.Getenv("SHEETLINK_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if cfg.RelayURL == "" {
		cfg.RelayURL = DefaultRelayURL
	}
	if cfg.Hub.Addr == "" {
		cfg.Hub.Addr = "127.0.0.1:5578"
	}
	if cfg.CachePath == "" {
		cfg.CachePath = filepath.Join(configDir, "companion.db")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
		if err := Save(&cfg); err != nil {
			return nil, fmt.Errorf("failed to persist client id: %w", err)
		}
	}

	return &cfg, nil
}

// Delete removes the config file so the next Load() creates a fresh one
// with the build-time DefaultRelayURL.
func Delete() {
	os.Remove(configPath)
}

// Save saves the configuration to file
func Save(cfg *Config) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Tokens live in here, keep it user-readable only
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
