package client

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sammoh94/pulsarkit/bus"
	"github.com/sammoh94/pulsarkit/config"
	"github.com/sammoh94/pulsarkit/errors"
	"github.com/sammoh94/pulsarkit/heartbeat"
	"github.com/sammoh94/pulsarkit/logging"
	"github.com/sammoh94/pulsarkit/shared"
	"github.com/sammoh94/pulsarkit/supervisor"
	"github.com/sammoh94/pulsarkit/telemetry"
	"github.com/sammoh94/pulsarkit/transport"
)

// ErrAlreadyRunning is returned by Run while another Run is active.
var ErrAlreadyRunning = stderrors.New("session already running")

// Journal event names.
const (
	EventSessionConnected = "session_connected"
	EventSessionClosed    = "session_closed"
)

// Session is one client connection to the service together with its
// background producers and the supervisor consuming their errors.
//
// A session owns exactly one shared error slot. The transport reader and
// writer, the heartbeat sender and watcher, the NATS connection and the
// frame dispatcher all deposit into it; the supervisor takes from it.
type Session struct {
	id       string
	clientID string
	cfg      config.Config
	errs     *shared.SharedError

	logger          *logging.Logger
	tracer          *telemetry.Tracer
	exporter        telemetry.Exporter
	ownsExporter    bool
	bus             bus.MessageBus
	handlers        map[string]FrameHandler
	shutdownTimeout time.Duration

	running atomic.Bool

	mu     sync.Mutex
	conn   *transport.Conn
	sup    *supervisor.Supervisor
	cancel context.CancelFunc
}

// NewSession creates a session from cfg. Nothing is connected until Run.
func NewSession(cfg config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	clientID := cfg.Client.Name
	if clientID == "" {
		clientID = "client-" + id[:8]
	}

	s := &Session{
		id:              id,
		clientID:        clientID,
		cfg:             cfg,
		errs:            shared.New(),
		handlers:        make(map[string]FrameHandler),
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = NewLogger(cfg)
	}
	if s.tracer == nil {
		s.tracer = telemetry.GetTracer()
	}
	if s.exporter == nil {
		exp, err := telemetry.NewExporter(cfg.Telemetry.Journal, cfg.Telemetry.JournalTarget)
		if err != nil {
			return nil, err
		}
		s.exporter = exp
		s.ownsExporter = true
	}

	return s, nil
}

// ID returns the session's unique id.
func (s *Session) ID() string {
	return s.id
}

// ClientID returns the name this client uses on the bus.
func (s *Session) ClientID() string {
	return s.clientID
}

// Errors returns the session's shared error slot.
func (s *Session) Errors() *shared.SharedError {
	return s.errs
}

// Conn returns the live connection, or nil when not running.
func (s *Session) Conn() *transport.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Taken returns how many errors the supervisor has consumed in the
// current or last Run.
func (s *Session) Taken() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup == nil {
		return 0
	}
	return s.sup.Taken()
}

// Request sends a frame of frameType carrying payload and waits for the
// response of type want. Returns a Disconnected error when not connected.
func (s *Session) Request(ctx context.Context, frameType string, payload interface{}, want string) (*transport.Frame, error) {
	conn := s.Conn()
	if conn == nil {
		return nil, errors.Disconnected()
	}
	req, err := transport.NewRequest(frameType, payload)
	if err != nil {
		return nil, err
	}
	return conn.Request(ctx, req, want)
}

// Run connects and blocks until ctx is cancelled or Close is called, then
// tears everything down. Every consumed error goes to handler, which may
// call Close.
//
// Failures to open the bus or dial the service are returned directly.
// Returns ctx.Err() if ctx ended the session, nil after Close.
func (s *Session) Run(ctx context.Context, handler supervisor.Handler) error {
	if s.running.Swap(true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	td := newTeardown(s.logger)
	err := s.start(runCtx, handler, td)
	if err == nil {
		<-runCtx.Done()
	}

	cancel()
	s.mu.Lock()
	s.cancel = nil
	s.conn = nil
	s.mu.Unlock()

	tctx, tcancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer tcancel()
	if terr := td.run(tctx); terr != nil && err == nil {
		err = terr
	}

	if err != nil {
		return err
	}
	return ctx.Err()
}

// Close stops a running session. It returns immediately; Run returns once
// teardown completes. Safe to call from a Handler.
func (s *Session) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// start brings up the bus, connection, consumer and heartbeat, registering
// a teardown step for each.
func (s *Session) start(ctx context.Context, handler supervisor.Handler, td *teardown) error {
	td.add("journal", phaseResources, func(context.Context) error {
		s.exporter.LogEvent(EventSessionClosed, s.eventData(map[string]interface{}{
			"taken": s.Taken(),
		}))
		if !s.ownsExporter {
			return s.exporter.Flush()
		}
		return s.exporter.Close()
	})

	b, err := s.openBus(td)
	if err != nil {
		return err
	}

	sup, err := s.newSupervisor(b, handler)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sup = sup
	s.mu.Unlock()

	// The supervisor outlives ctx so it can drain what producers deposit
	// while they stop.
	supCtx, supCancel := context.WithCancel(context.WithoutCancel(ctx))
	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		sup.Run(supCtx)
	}()
	td.add("supervisor", phaseConsumer, func(tctx context.Context) error {
		supCancel()
		return waitFor(tctx, supDone)
	})

	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.exporter.LogEvent(EventSessionConnected, s.eventData(map[string]interface{}{
		"url": s.cfg.Client.ServiceURL,
	}))

	connDone := make(chan struct{})
	go func() {
		defer close(connDone)
		conn.Run(ctx)
	}()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		s.dispatch(ctx, conn)
	}()
	td.add("connection", phaseConnection, func(tctx context.Context) error {
		if err := waitFor(tctx, connDone); err != nil {
			return err
		}
		return waitFor(tctx, dispatchDone)
	})

	return s.startHeartbeat(ctx, b, td)
}

// openBus returns the bus given by WithBus or opens the configured one:
// NATS when [bus] url is set, in-memory otherwise.
func (s *Session) openBus(td *teardown) (bus.MessageBus, error) {
	if s.bus != nil {
		return s.bus, nil
	}

	var b bus.MessageBus
	if s.cfg.Bus.URL == "" {
		b = bus.NewMemoryBus(bus.Config{BufferSize: s.cfg.Bus.BufferSize})
	} else {
		nb, err := bus.NewNATSBus(NATSConfig(s.cfg, s.clientID, s.errs, s.logger.WithComponent("bus")))
		if err != nil {
			return nil, errors.Convert(err)
		}
		b = nb
	}

	td.add("bus", phaseResources, func(context.Context) error {
		return b.Close()
	})
	return b, nil
}

func (s *Session) newSupervisor(b bus.MessageBus, handler supervisor.Handler) (*supervisor.Supervisor, error) {
	cfg := supervisor.Config{
		Slot:         s.errs,
		Handler:      handler,
		PollInterval: s.cfg.Supervisor.PollInterval.Duration,
		SessionID:    s.id,
		ClientID:     s.clientID,
		Logger:       s.logger.WithComponent("supervisor"),
		Tracer:       s.tracer,
		Exporter:     s.exporter,
	}
	if s.cfg.Supervisor.Report {
		cfg.Reporter = supervisor.NewReporter(b, s.clientID, s.id)
	}
	return supervisor.New(cfg)
}

// connect dials the service inside a connect span.
func (s *Session) connect(ctx context.Context) (*transport.Conn, error) {
	spanCtx, span := s.tracer.StartConnectSpan(ctx, s.cfg.Client.ServiceURL)
	conn, err := transport.Dial(spanCtx, s.cfg.Client.ServiceURL,
		TransportConfig(s.cfg, s.logger.WithComponent("transport")), s.errs)
	s.tracer.EndConnectSpan(span, err)
	return conn, err
}

// dispatch routes unsolicited frames to their handlers until the
// connection stops delivering.
func (s *Session) dispatch(ctx context.Context, conn *transport.Conn) {
	for f := range conn.Recv() {
		h, ok := s.handlers[f.Type]
		if !ok {
			s.errs.Set(errors.Unexpectedf("unhandled %s frame", f.Type))
			continue
		}
		h(ctx, f)
	}
}

// startHeartbeat starts the ping sender and, when a peer is configured,
// the watcher.
func (s *Session) startHeartbeat(ctx context.Context, b bus.MessageBus, td *teardown) error {
	hb := s.cfg.Heartbeat
	if !hb.Enabled {
		return nil
	}
	logger := s.logger.WithComponent("heartbeat")

	sender, err := heartbeat.NewBusSender(heartbeat.SenderConfig{
		Bus:      b,
		ClientID: s.clientID,
		Interval: hb.Interval.Duration,
		Errors:   s.errs,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := sender.Start(ctx); err != nil {
		return err
	}
	td.add("heartbeat_sender", phaseProducers, func(context.Context) error {
		return ignoreNotStarted(sender.Stop())
	})

	if hb.Peer == "" {
		return nil
	}

	watcher, err := heartbeat.NewBusWatcher(heartbeat.WatcherConfig{
		Bus:           b,
		PeerID:        hb.Peer,
		Timeout:       hb.Timeout.Duration,
		CheckInterval: hb.CheckInterval.Duration,
		Errors:        s.errs,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	td.add("heartbeat_watcher", phaseProducers, func(context.Context) error {
		return ignoreNotStarted(watcher.Stop())
	})
	return nil
}

// eventData adds the session and client ids to data.
func (s *Session) eventData(data map[string]interface{}) map[string]interface{} {
	data["session_id"] = s.id
	data["client"] = s.clientID
	return data
}

func ignoreNotStarted(err error) error {
	if stderrors.Is(err, heartbeat.ErrNotStarted) {
		return nil
	}
	return err
}
