package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sammoh94/pulsarkit/bus"
	"github.com/sammoh94/pulsarkit/errors"
	"github.com/sammoh94/pulsarkit/logging"
	"github.com/sammoh94/pulsarkit/shared"
)

// BusWatcher watches one peer's pings over a message bus.
//
// When no ping has arrived for longer than the timeout it deposits
// errors.Disconnected, once per lapse; the next ping re-arms it. A ping
// that cannot be parsed deposits an errors.Deserialization error.
type BusWatcher struct {
	bus           bus.MessageBus
	peerID        string
	timeout       time.Duration
	checkInterval time.Duration
	errs          *shared.SharedError
	logger        *logging.Logger

	mu       sync.RWMutex
	lastSeen time.Time
	lastPing *Ping
	lapsed   bool

	running atomic.Bool
	sub     bus.Subscription
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewBusWatcher creates a new ping watcher.
func NewBusWatcher(cfg WatcherConfig) (*BusWatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultWatcherConfig().Timeout
	}

	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = DefaultWatcherConfig().CheckInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &BusWatcher{
		bus:           cfg.Bus,
		peerID:        cfg.PeerID,
		timeout:       timeout,
		checkInterval: checkInterval,
		errs:          cfg.Errors,
		logger:        logger,
	}, nil
}

// Start subscribes to the peer's pings and begins checking liveness.
// The timeout is measured from Start until the first ping arrives.
func (w *BusWatcher) Start(ctx context.Context) error {
	if w.running.Swap(true) {
		return ErrAlreadyStarted
	}

	if ctx == nil {
		ctx = context.Background()
	}

	sub, err := w.bus.Subscribe(Subject(w.peerID))
	if err != nil {
		w.running.Store(false)
		return err
	}
	w.sub = sub

	w.mu.Lock()
	w.lastSeen = time.Now()
	w.lapsed = false
	w.mu.Unlock()

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go w.run(ctx)
	return nil
}

// run processes incoming pings and checks for a lapse.
func (w *BusWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case msg, ok := <-w.sub.Messages():
			if !ok {
				return
			}
			w.processMessage(msg)
		case <-ticker.C:
			w.check(time.Now())
		}
	}
}

// processMessage records a ping or deposits why it could not be read.
func (w *BusWatcher) processMessage(msg *bus.Message) {
	p, err := Unmarshal(msg.Data)
	if err != nil {
		w.errs.Set(errors.Convert(err))
		return
	}

	w.mu.Lock()
	w.lastSeen = time.Now()
	w.lastPing = p
	w.lapsed = false
	w.mu.Unlock()
}

// check deposits Disconnected if the peer has been silent past the
// timeout and this lapse has not been reported yet.
func (w *BusWatcher) check(now time.Time) {
	w.mu.Lock()
	since := now.Sub(w.lastSeen)
	report := since > w.timeout && !w.lapsed
	if report {
		w.lapsed = true
	}
	w.mu.Unlock()

	if report {
		w.logger.HeartbeatMissed(w.peerID, since)
		w.errs.Set(errors.Disconnected())
	}
}

// IsAlive reports whether the peer pinged within the timeout.
func (w *BusWatcher) IsAlive() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastPing != nil && time.Since(w.lastSeen) <= w.timeout
}

// LastPing returns the last ping received from the peer.
func (w *BusWatcher) LastPing() *Ping {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastPing
}

// PeerID returns the watched peer's ID.
func (w *BusWatcher) PeerID() string {
	return w.peerID
}

// Stop stops watching.
func (w *BusWatcher) Stop() error {
	if !w.running.Swap(false) {
		return ErrNotStarted
	}

	close(w.stopCh)
	<-w.doneCh
	w.sub.Unsubscribe()

	return nil
}
