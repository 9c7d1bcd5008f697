// Package config loads settings for the vremote binaries from an optional
// YAML file and VREMOTE_* environment variables, in that order.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/vremote/go/internal/gesture"
	"github.com/mcdev12/vremote/go/internal/rendezvous"
	"github.com/mcdev12/vremote/go/internal/transport"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Controls ControlsConfig      `yaml:"controls"`
	Gesture  gesture.Config      `yaml:"gesture"`
	Server   ServerConfig        `yaml:"server"`
	Phone    PhoneConfig         `yaml:"phone"`
	RTC      transport.RTCConfig `yaml:"rtc"`
	Log      LogConfig           `yaml:"log"`
}

// ControlsConfig is shared by both peers: how to reach the rendezvous
// service and how to treat inbound events.
type ControlsConfig struct {
	ProxyURL string `yaml:"proxy_url"`
	PairCode string `yaml:"pair_code"`
	Enabled  bool   `yaml:"enabled"`
	Debug    bool   `yaml:"debug"`
	Upgrade  bool   `yaml:"upgrade"`
	// TickRate is how many frames per second the receiver samples.
	TickRate int `yaml:"tick_rate"`
	// Discover looks the rendezvous service up over mDNS instead of using
	// ProxyURL.
	Discover bool `yaml:"discover"`
}

type ServerConfig struct {
	Port           int                   `yaml:"port"`
	CodeLength     int                   `yaml:"code_length"`
	AllowedOrigins []string              `yaml:"allowed_origins"`
	UseNATS        bool                  `yaml:"use_nats"`
	NATS           rendezvous.NATSConfig `yaml:"nats"`
	Advertise      bool                  `yaml:"advertise"`
	Instance       string                `yaml:"instance"`
}

// PhoneConfig selects the sender's input source.
type PhoneConfig struct {
	// Source is "stdin", a path to a JSON-lines file, or "evdev".
	Source       string        `yaml:"source"`
	Device       string        `yaml:"device"`
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	Grab         bool          `yaml:"grab"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

type LogConfig struct {
	JSON bool `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	srv := rendezvous.DefaultConfig()
	return &Config{
		Controls: ControlsConfig{
			ProxyURL: "http://localhost:3000",
			Enabled:  true,
			TickRate: 60,
		},
		Gesture: gesture.DefaultConfig(),
		Server: ServerConfig{
			Port:           srv.Port,
			CodeLength:     srv.CodeLength,
			AllowedOrigins: srv.AllowedOrigins,
			NATS:           rendezvous.DefaultNATSConfig(),
			Instance:       "vremote",
		},
		Phone: PhoneConfig{
			Source:       "stdin",
			Width:        1080,
			Height:       1920,
			PingInterval: 2 * time.Second,
		},
		RTC: transport.DefaultRTCConfig(),
	}
}

// Load reads path (if non-empty) over the defaults, then applies the
// environment and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Controls.ProxyURL = getEnv("VREMOTE_PROXY_URL", c.Controls.ProxyURL)
	c.Controls.PairCode = getEnv("VREMOTE_PAIR_CODE", c.Controls.PairCode)
	c.Controls.Enabled = getEnvAsBool("VREMOTE_ENABLED", c.Controls.Enabled)
	c.Controls.Debug = getEnvAsBool("VREMOTE_DEBUG", c.Controls.Debug)
	c.Controls.Upgrade = getEnvAsBool("VREMOTE_UPGRADE", c.Controls.Upgrade)
	c.Controls.TickRate = getEnvAsInt("VREMOTE_TICK_RATE", c.Controls.TickRate)
	c.Controls.Discover = getEnvAsBool("VREMOTE_DISCOVER", c.Controls.Discover)

	c.Server.Port = getEnvAsInt("VREMOTE_PORT", c.Server.Port)
	if natsURL := os.Getenv("VREMOTE_NATS_URL"); natsURL != "" {
		c.Server.NATS.URL = natsURL
		c.Server.UseNATS = true
	}
	c.Server.Advertise = getEnvAsBool("VREMOTE_ADVERTISE", c.Server.Advertise)

	c.Phone.Source = getEnv("VREMOTE_PHONE_SOURCE", c.Phone.Source)
	c.Phone.Device = getEnv("VREMOTE_PHONE_DEVICE", c.Phone.Device)

	c.Log.JSON = getEnvAsBool("VREMOTE_LOG_JSON", c.Log.JSON)
}

// Validate checks the values the binaries cannot run without.
func (c *Config) Validate() error {
	if !c.Controls.Discover {
		u, err := url.Parse(c.Controls.ProxyURL)
		if err != nil {
			return fmt.Errorf("invalid proxy_url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid proxy_url %q: scheme must be http or https", c.Controls.ProxyURL)
		}
	}
	if c.Controls.TickRate <= 0 {
		return fmt.Errorf("tick_rate must be positive, got %d", c.Controls.TickRate)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Phone.Source == "evdev" && c.Phone.Device == "" {
		return fmt.Errorf("phone source evdev requires a device path")
	}
	return nil
}

// TickInterval is the receiver frame period.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Controls.TickRate)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
