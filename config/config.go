// Package config loads client configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/sammoh94/pulsarkit/logging"
)

// Common errors.
var (
	// ErrInsecurePermissions is returned when a config file holding bus
	// secrets is readable by group or others.
	ErrInsecurePermissions = errors.New("config file has insecure permissions")

	// ErrInvalidConfig is wrapped by every Validate failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// FileName is the config file name looked up in the standard locations.
const FileName = "pulsarkit.toml"

// Environment variables consulted for bus secrets missing from the file.
const (
	EnvBusToken    = "PULSARKIT_BUS_TOKEN"
	EnvBusPassword = "PULSARKIT_BUS_PASSWORD"
)

// Config is the complete client configuration.
type Config struct {
	Client     ClientConfig     `toml:"client"`
	Transport  TransportConfig  `toml:"transport"`
	Heartbeat  HeartbeatConfig  `toml:"heartbeat"`
	Bus        BusConfig        `toml:"bus"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Logging    LoggingConfig    `toml:"logging"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
}

// ClientConfig identifies the client and the service it talks to.
type ClientConfig struct {
	// Name identifies this client on the bus. Empty means a generated id.
	Name string `toml:"name"`

	// ServiceURL is the ws:// or wss:// endpoint. Required.
	ServiceURL string `toml:"service_url"`
}

// TransportConfig tunes the WebSocket connection.
type TransportConfig struct {
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	WriteTimeout     Duration `toml:"write_timeout"`
	PongTimeout      Duration `toml:"pong_timeout"`
	PingInterval     Duration `toml:"ping_interval"`
	MaxMessageSize   int64    `toml:"max_message_size"`
	RecvBufferSize   int      `toml:"recv_buffer_size"`
	SendBufferSize   int      `toml:"send_buffer_size"`
}

// HeartbeatConfig configures the ping sender and watcher.
type HeartbeatConfig struct {
	Enabled bool `toml:"enabled"`

	// Interval between our pings.
	Interval Duration `toml:"interval"`

	// Peer is the client whose pings we watch. Empty disables watching.
	Peer string `toml:"peer"`

	// Timeout after the peer's last ping before it counts as gone.
	Timeout Duration `toml:"timeout"`

	// CheckInterval for the watcher's liveness check.
	CheckInterval Duration `toml:"check_interval"`
}

// BusConfig selects and configures the message bus.
type BusConfig struct {
	// URL of the NATS server. Empty selects the in-memory bus.
	URL string `toml:"url"`

	Name           string   `toml:"name"`
	Token          string   `toml:"token"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	ReconnectWait  Duration `toml:"reconnect_wait"`
	MaxReconnects  int      `toml:"max_reconnects"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	BufferSize     int      `toml:"buffer_size"`
}

// SupervisorConfig configures the error consumer.
type SupervisorConfig struct {
	PollInterval Duration `toml:"poll_interval"`

	// Report publishes each consumed error on errors.<client>.
	Report bool `toml:"report"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level     string `toml:"level"`
	Component string `toml:"component"`
}

// TelemetryConfig configures tracing and the error journal.
type TelemetryConfig struct {
	// Endpoint of the OTLP collector. Empty disables tracing.
	Endpoint string `toml:"endpoint"`

	// Protocol is "grpc" or "http".
	Protocol string `toml:"protocol"`

	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
	Debug       bool   `toml:"debug"`

	// Journal is where consumed errors are exported: "file" or "http".
	// Empty disables the journal.
	Journal string `toml:"journal"`

	// JournalTarget is the file path or URL for Journal.
	JournalTarget string `toml:"journal_target"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		Transport: TransportConfig{
			HandshakeTimeout: Duration{10 * time.Second},
			WriteTimeout:     Duration{10 * time.Second},
			PingInterval:     Duration{30 * time.Second},
			MaxMessageSize:   1024 * 1024, // 1MB
			RecvBufferSize:   100,
			SendBufferSize:   100,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:       true,
			Interval:      Duration{5 * time.Second},
			Timeout:       Duration{15 * time.Second},
			CheckInterval: Duration{1 * time.Second},
		},
		Bus: BusConfig{
			ReconnectWait:  Duration{2 * time.Second},
			MaxReconnects:  -1, // Unlimited
			ConnectTimeout: Duration{5 * time.Second},
			BufferSize:     256,
		},
		Supervisor: SupervisorConfig{
			PollInterval: Duration{100 * time.Millisecond},
		},
		Logging: LoggingConfig{
			Level:     "info",
			Component: "pulsarkit",
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
	}
}

// StandardPaths returns the standard config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{FileName}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "pulsarkit", FileName))
	}

	return paths
}

// Load loads configuration from the first available standard location.
// Returns Default and an empty path if no file exists.
func Load() (Config, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadFile(path)
			return cfg, path, err
		}
	}
	cfg := Default()
	cfg.applyEnv()
	return cfg, "", nil
}

// LoadFile loads configuration from a specific file over Default.
// Returns ErrInsecurePermissions if the file holds a bus token or password
// and is readable by group or others.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Bus.Token != "" || cfg.Bus.Password != "" {
		if err := checkPermissions(path); err != nil {
			return Config{}, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// Parse decodes configuration from TOML text over Default.
func Parse(data string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// checkPermissions rejects secret-bearing files open to group or others.
func checkPermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return fmt.Errorf("%w: %s has mode %04o (must not be group/other accessible)",
			ErrInsecurePermissions, path, mode)
	}
	return nil
}

// applyEnv fills bus secrets the file left empty.
func (c *Config) applyEnv() {
	if c.Bus.Token == "" {
		c.Bus.Token = os.Getenv(EnvBusToken)
	}
	if c.Bus.Password == "" {
		c.Bus.Password = os.Getenv(EnvBusPassword)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Client.ServiceURL == "" {
		return fmt.Errorf("%w: client.service_url is required", ErrInvalidConfig)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %v", ErrInvalidConfig, err)
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("%w: telemetry.protocol %q (use grpc or http)", ErrInvalidConfig, c.Telemetry.Protocol)
	}
	switch c.Telemetry.Journal {
	case "", "noop":
	case "file", "http":
		if c.Telemetry.JournalTarget == "" {
			return fmt.Errorf("%w: telemetry.journal_target is required for %s journal", ErrInvalidConfig, c.Telemetry.Journal)
		}
	default:
		return fmt.Errorf("%w: telemetry.journal %q (use file or http)", ErrInvalidConfig, c.Telemetry.Journal)
	}
	if pong := c.Transport.PongTimeout.Duration; pong > 0 {
		ping := c.Transport.PingInterval.Duration
		if ping <= 0 || ping >= pong {
			return fmt.Errorf("%w: transport.ping_interval must be positive and below transport.pong_timeout", ErrInvalidConfig)
		}
	}
	if c.Supervisor.PollInterval.Duration <= 0 {
		return fmt.Errorf("%w: supervisor.poll_interval must be positive", ErrInvalidConfig)
	}
	if c.Heartbeat.Enabled {
		if c.Heartbeat.Interval.Duration <= 0 {
			return fmt.Errorf("%w: heartbeat.interval must be positive", ErrInvalidConfig)
		}
		if c.Heartbeat.Peer != "" && c.Heartbeat.Timeout.Duration <= c.Heartbeat.Interval.Duration {
			return fmt.Errorf("%w: heartbeat.timeout must exceed heartbeat.interval", ErrInvalidConfig)
		}
	}
	return nil
}
