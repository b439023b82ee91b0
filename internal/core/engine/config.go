package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aesync/aesync/internal/core/observability/log"
	"github.com/aesync/aesync/internal/core/protocol"
)

// Config drives both roles. Zero values fall back to defaults on Load and
// Validate.
type Config struct {
	// Transport selects the wire implementation: "quic", "websocket", or
	// "memory".
	Transport string `yaml:"transport"`

	// ListenAddr is where the host accepts connections.
	ListenAddr string `yaml:"listen_addr"`
	// DialAddr is where a peer connects.
	DialAddr string `yaml:"dial_addr"`

	// TPS is the fixed simulation rate in ticks per second.
	TPS int `yaml:"tps"`
	// UPS is the replication rate in snapshots per second; at most TPS.
	UPS int `yaml:"ups"`

	LogLevel string `yaml:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		Transport:  "quic",
		ListenAddr: "127.0.0.1:7810",
		DialAddr:   "127.0.0.1:7810",
		TPS:        60,
		UPS:        20,
		LogLevel:   "info",
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing path
// returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Transport {
	case "quic", "websocket", "memory":
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.TPS <= 0 {
		return fmt.Errorf("tps must be positive, got %d", c.TPS)
	}
	if c.UPS <= 0 {
		return fmt.Errorf("ups must be positive, got %d", c.UPS)
	}
	return nil
}

// Level parses the configured log level, defaulting to info.
func (c *Config) Level() log.Level {
	switch c.LogLevel {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}

// NewTransport builds the configured transport implementation.
func NewTransport(cfg Config, lg log.Log) (protocol.Transport, error) {
	switch cfg.Transport {
	case "quic":
		return protocol.NewQUICTransport(lg), nil
	case "websocket":
		return protocol.NewWebSocketTransport(lg), nil
	case "memory":
		return protocol.NewMemoryTransport(lg), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
