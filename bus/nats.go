package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sammoh94/pulsarkit/errors"
	"github.com/sammoh94/pulsarkit/logging"
	"github.com/sammoh94/pulsarkit/shared"
)

// NATSBus implements MessageBus using NATS.
type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	Config // Embed base config

	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration

	// Errors receives connection failures raised after connect: a
	// disconnect deposits errors.Disconnected, an async error deposits
	// errors.FromIO. Closing the bus deposits nothing. Nil disables
	// deposit.
	Errors *shared.SharedError

	// Logger for connection events. Nil disables logging.
	Logger *logging.Logger
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            nats.DefaultURL,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1, // Unlimited
		ConnectTimeout: 5 * time.Second,
	}
}

// NewNATSBus connects to NATS and returns a bus over the connection.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	cfg.Logger.Connected(conn.ConnectedUrlRedacted())

	return &NATSBus{
		conn:   conn,
		config: cfg,
	}, nil
}

// buildNATSOptions constructs NATS connection options from config.
func buildNATSOptions(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(disconnectHandler(cfg)),
		nats.ErrorHandler(asyncErrorHandler(cfg)),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	return opts
}

func disconnectHandler(cfg NATSConfig) nats.ConnErrHandler {
	return func(nc *nats.Conn, err error) {
		// Close also fires this handler; a closed connection was closed by us.
		if nc != nil && nc.IsClosed() {
			return
		}
		reason := "connection closed"
		if err != nil {
			reason = err.Error()
		}
		if cfg.Logger != nil {
			cfg.Logger.Disconnected(reason)
		}
		if cfg.Errors != nil {
			cfg.Errors.Set(errors.Disconnected())
		}
	}
}

func asyncErrorHandler(cfg NATSConfig) nats.ErrHandler {
	return func(_ *nats.Conn, sub *nats.Subscription, err error) {
		if err == nil {
			return
		}
		if cfg.Logger != nil {
			fields := map[string]interface{}{"error": err.Error()}
			if sub != nil {
				fields["subject"] = sub.Subject
			}
			cfg.Logger.Warn("nats_async_error", fields)
		}
		if cfg.Errors != nil {
			cfg.Errors.Set(errors.FromIO(err))
		}
	}
}

// Publish sends a message to a subject.
func (b *NATSBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return ErrClosed
	}

	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}

	return nil
}

// Subscribe creates a subscription to a subject.
func (b *NATSBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	ch := make(chan *Message, b.config.BufferSize)

	sub, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		select {
		case ch <- &Message{Subject: m.Subject, Data: m.Data}:
		default:
			// Buffer full
		}
	})
	if err != nil {
		close(ch)
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}

	return &natsSubscription{
		sub: sub,
		ch:  ch,
	}, nil
}

// Close shuts down the NATS connection.
func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

// Conn returns the underlying NATS connection.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

// natsSubscription wraps a NATS subscription.
type natsSubscription struct {
	sub *nats.Subscription
	ch  chan *Message
}

// Messages returns the message channel.
func (s *natsSubscription) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *natsSubscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	close(s.ch)
	return err
}
