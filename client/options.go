package client

import (
	"context"
	"time"

	"github.com/sammoh94/pulsarkit/bus"
	"github.com/sammoh94/pulsarkit/logging"
	"github.com/sammoh94/pulsarkit/telemetry"
	"github.com/sammoh94/pulsarkit/transport"
)

// FrameHandler handles one unsolicited frame of a registered type.
type FrameHandler func(ctx context.Context, f *transport.Frame)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithBus uses b instead of the bus selected by configuration.
// The session does not close it.
func WithBus(b bus.MessageBus) Option {
	return func(s *Session) {
		s.bus = b
	}
}

// WithTracer sets the tracer for connect and error spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Session) {
		s.tracer = t
	}
}

// WithExporter journals consumed errors and session events to e instead
// of the configured journal. The session flushes it but does not close it.
func WithExporter(e telemetry.Exporter) Option {
	return func(s *Session) {
		s.exporter = e
	}
}

// WithFrameHandler routes unsolicited frames of frameType to h. Frames
// of a type without a handler deposit an Unexpected error.
func WithFrameHandler(frameType string, h FrameHandler) Option {
	return func(s *Session) {
		s.handlers[frameType] = h
	}
}

// WithShutdownTimeout bounds teardown after Run is stopped.
// Default: 10 seconds
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}
