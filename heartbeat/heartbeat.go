package heartbeat

import (
	"context"
	"errors"
	"time"

	"github.com/sammoh94/pulsarkit/bus"
	"github.com/sammoh94/pulsarkit/logging"
	"github.com/sammoh94/pulsarkit/shared"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Sender publishes periodic pings.
type Sender interface {
	// Start begins sending pings at the configured interval.
	// Returns ErrAlreadyStarted if already running.
	Start(ctx context.Context) error

	// Stop stops sending pings.
	// Returns ErrNotStarted if not running.
	Stop() error
}

// Watcher tracks a peer's pings and reports when they stop.
type Watcher interface {
	// Start begins watching.
	// Returns ErrAlreadyStarted if already running.
	Start(ctx context.Context) error

	// IsAlive reports whether a ping arrived within the timeout.
	IsAlive() bool

	// LastPing returns the most recent ping, if any.
	LastPing() *Ping

	// Stop stops watching.
	// Returns ErrNotStarted if not running.
	Stop() error
}

// SenderConfig configures a ping sender.
type SenderConfig struct {
	// Bus is the message bus for publishing pings.
	Bus bus.MessageBus

	// ClientID identifies this client; pings go to heartbeat.<ClientID>.
	ClientID string

	// Interval between pings.
	// Default: 5 seconds
	Interval time.Duration

	// Errors receives failures to build or publish a ping.
	// Required.
	Errors *shared.SharedError

	// Logger for sender events. Nil disables logging.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Bus == nil || c.ClientID == "" || c.Errors == nil {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultSenderConfig returns configuration with sensible defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Interval: 5 * time.Second,
	}
}

// WatcherConfig configures a ping watcher.
type WatcherConfig struct {
	// Bus is the message bus for subscribing to pings.
	Bus bus.MessageBus

	// PeerID is the client being watched.
	PeerID string

	// Timeout after the last ping before the peer counts as gone.
	// Should be 2-3x the peer's ping interval.
	// Default: 15 seconds
	Timeout time.Duration

	// CheckInterval for the liveness check.
	// Default: 1 second
	CheckInterval time.Duration

	// Errors receives Disconnected on a lapse and Deserialization on a
	// malformed ping. Required.
	Errors *shared.SharedError

	// Logger for watcher events. Nil disables logging.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *WatcherConfig) Validate() error {
	if c.Bus == nil || c.PeerID == "" || c.Errors == nil {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultWatcherConfig returns configuration with sensible defaults.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Timeout:       15 * time.Second,
		CheckInterval: 1 * time.Second,
	}
}
