package client

import (
	"github.com/sammoh94/pulsarkit/bus"
	"github.com/sammoh94/pulsarkit/config"
	"github.com/sammoh94/pulsarkit/logging"
	"github.com/sammoh94/pulsarkit/shared"
	"github.com/sammoh94/pulsarkit/telemetry"
	"github.com/sammoh94/pulsarkit/transport"
)

// TransportConfig maps the [transport] section onto a connection config.
func TransportConfig(cfg config.Config, logger *logging.Logger) transport.Config {
	t := cfg.Transport
	return transport.Config{
		RecvBufferSize:   t.RecvBufferSize,
		SendBufferSize:   t.SendBufferSize,
		WriteTimeout:     t.WriteTimeout.Duration,
		PongTimeout:      t.PongTimeout.Duration,
		PingInterval:     t.PingInterval.Duration,
		MaxMessageSize:   t.MaxMessageSize,
		HandshakeTimeout: t.HandshakeTimeout.Duration,
		Logger:           logger,
	}
}

// NATSConfig maps the [bus] section onto a NATS bus config whose
// connection failures deposit into errs.
func NATSConfig(cfg config.Config, clientID string, errs *shared.SharedError, logger *logging.Logger) bus.NATSConfig {
	b := cfg.Bus
	name := b.Name
	if name == "" {
		name = clientID
	}
	return bus.NATSConfig{
		Config:         bus.Config{BufferSize: b.BufferSize},
		URL:            b.URL,
		Name:           name,
		Token:          b.Token,
		User:           b.User,
		Password:       b.Password,
		ReconnectWait:  b.ReconnectWait.Duration,
		MaxReconnects:  b.MaxReconnects,
		ConnectTimeout: b.ConnectTimeout.Duration,
		Errors:         errs,
		Logger:         logger,
	}
}

// ProviderConfig maps the [telemetry] section onto an OpenTelemetry
// provider config.
func ProviderConfig(cfg config.Config) telemetry.ProviderConfig {
	t := cfg.Telemetry
	return telemetry.ProviderConfig{
		ServiceName: t.ServiceName,
		Endpoint:    t.Endpoint,
		Protocol:    t.Protocol,
		Insecure:    t.Insecure,
		Debug:       t.Debug,
	}
}

// NewLogger builds the logger described by the [logging] section.
func NewLogger(cfg config.Config) *logging.Logger {
	logger := logging.New().WithComponent(cfg.Logging.Component)
	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}
