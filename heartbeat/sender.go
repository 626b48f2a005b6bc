package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sammoh94/pulsarkit/bus"
	"github.com/sammoh94/pulsarkit/errors"
	"github.com/sammoh94/pulsarkit/logging"
	"github.com/sammoh94/pulsarkit/shared"
)

// BusSender publishes pings over a message bus.
//
// It never returns send failures. A ping that cannot be serialized
// deposits a SerializationLibrary error and a failed publish deposits the
// publish error converted with errors.Convert.
type BusSender struct {
	bus      bus.MessageBus
	clientID string
	interval time.Duration
	errs     *shared.SharedError
	logger   *logging.Logger

	marshal func(*Ping) ([]byte, error)
	seq     atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewBusSender creates a new ping sender.
func NewBusSender(cfg SenderConfig) (*BusSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSenderConfig().Interval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &BusSender{
		bus:      cfg.Bus,
		clientID: cfg.ClientID,
		interval: interval,
		errs:     cfg.Errors,
		logger:   logger,
		marshal:  (*Ping).Marshal,
	}, nil
}

// Start begins sending pings at the configured interval.
func (s *BusSender) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyStarted
	}

	if ctx == nil {
		ctx = context.Background()
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx)
	return nil
}

// run is the main ping loop.
func (s *BusSender) run(ctx context.Context) {
	defer close(s.doneCh)

	// Send initial ping immediately
	s.sendPing()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sendPing()
		}
	}
}

// sendPing publishes one ping, depositing any failure.
func (s *BusSender) sendPing() {
	p := &Ping{
		ClientID:  s.clientID,
		Sequence:  s.seq.Add(1),
		Timestamp: time.Now(),
	}

	data, err := s.marshal(p)
	if err != nil {
		s.deposit(errors.Convert(err))
		return
	}
	if err := s.bus.Publish(Subject(s.clientID), data); err != nil {
		s.deposit(errors.Convert(err))
	}
}

func (s *BusSender) deposit(err *errors.Error) {
	s.logger.Warn("heartbeat_send_failed", map[string]interface{}{
		"client": s.clientID,
		"kind":   err.Kind().String(),
		"error":  err.Error(),
	})
	s.errs.Set(err)
}

// Stop stops sending pings.
func (s *BusSender) Stop() error {
	if !s.running.Swap(false) {
		return ErrNotStarted
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}

// ClientID returns the sender's client ID.
func (s *BusSender) ClientID() string {
	return s.clientID
}

// Sent returns the number of pings attempted so far.
func (s *BusSender) Sent() uint64 {
	return s.seq.Load()
}
