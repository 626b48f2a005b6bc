package supervisor

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"github.com/sammoh94/pulsarkit/errors"
	"github.com/sammoh94/pulsarkit/logging"
	"github.com/sammoh94/pulsarkit/shared"
	"github.com/sammoh94/pulsarkit/telemetry"
)

// Common errors.
var (
	ErrAlreadyRunning = stderrors.New("supervisor already running")
	ErrInvalidConfig  = stderrors.New("invalid configuration")
)

// Handler reacts to a consumed error. What to do for each kind
// (reconnect, fail pending work, shut down) is up to the handler.
type Handler interface {
	HandleError(ctx context.Context, err *errors.Error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, err *errors.Error)

// HandleError implements Handler.
func (f HandlerFunc) HandleError(ctx context.Context, err *errors.Error) {
	f(ctx, err)
}

// Config configures a supervisor.
type Config struct {
	// Slot is polled for errors. Required.
	Slot *shared.SharedError

	// Handler receives every consumed error. Required.
	Handler Handler

	// PollInterval between checks of the slot.
	// Default: 100ms
	PollInterval time.Duration

	// SessionID and ClientID label journal events.
	SessionID string
	ClientID  string

	// Logger for consumed errors. Nil disables logging.
	Logger *logging.Logger

	// Tracer records a client.error span per consumed error.
	// Nil uses telemetry.GetTracer().
	Tracer *telemetry.Tracer

	// Exporter journals consumed errors. Nil disables the journal.
	Exporter telemetry.Exporter

	// Reporter publishes consumed errors on the bus. Nil disables reports.
	Reporter *Reporter
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Slot == nil || c.Handler == nil {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 100 * time.Millisecond,
	}
}

// Supervisor is the single consumer of a session's error slot.
type Supervisor struct {
	config Config

	running atomic.Bool
	taken   atomic.Uint64
}

// New creates a supervisor.
func New(cfg Config) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.GetTracer()
	}
	if cfg.Exporter == nil {
		cfg.Exporter = telemetry.NewNoopExporter()
	}

	return &Supervisor{config: cfg}, nil
}

// Run polls the slot every PollInterval until ctx is cancelled, then
// checks it one last time so an error deposited during shutdown is still
// handled. Returns ErrAlreadyRunning if another Run is active.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Poll(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll checks the slot once. If an error is present it is taken, logged,
// traced, journaled, reported and handed to the Handler. Returns whether
// an error was dispatched.
func (s *Supervisor) Poll(ctx context.Context) bool {
	if !s.config.Slot.IsSet() {
		return false
	}
	err := s.config.Slot.Take()
	if err == nil {
		return false
	}
	s.taken.Add(1)

	s.config.Logger.ErrorTaken(err.Kind().String(), err.Error())
	s.config.Tracer.RecordClientError(ctx, err)
	s.config.Exporter.LogError(telemetry.NewErrorEvent(s.config.SessionID, s.config.ClientID, err))

	if s.config.Reporter != nil {
		// Report failures are logged and never deposited.
		if rerr := s.config.Reporter.Report(ctx, err); rerr != nil {
			s.config.Logger.Warn("error_report_failed", map[string]interface{}{
				"error": rerr.Error(),
			})
		}
	}

	s.config.Handler.HandleError(ctx, err)
	return true
}

// Taken returns how many errors have been consumed.
func (s *Supervisor) Taken() uint64 {
	return s.taken.Load()
}
