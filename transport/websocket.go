package transport

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sammoh94/pulsarkit/errors"
	"github.com/sammoh94/pulsarkit/shared"
)

// Conn is a frame connection over WebSocket.
//
// Its reader and writer goroutines never return failures to a caller.
// They deposit them into the shared slot given at construction:
//
//   - peer closed normally: errors.Disconnected
//   - read, write or ping failure: errors.Io
//   - undecodable inbound frame: errors.Decoding
//   - unencodable outbound frame: errors.Encoding
//   - response for a request nobody is waiting on: errors.UnexpectedResponse
type Conn struct {
	ws     *websocket.Conn
	config Config
	errs   *shared.SharedError

	recv chan *Frame
	send chan *Frame
	done chan struct{}

	closed atomic.Bool

	mu      sync.Mutex
	pending map[string]chan result
}

// result is delivered to a waiting Request.
type result struct {
	frame *Frame
	err   *errors.Error
}

// Dial resolves rawURL, opens a WebSocket to it and returns the connection.
// The returned error is an *errors.Error of kind AddressResolution when the
// URL or host cannot be resolved and of kind Io when the dial fails.
func Dial(ctx context.Context, rawURL string, cfg Config, errs *shared.SharedError) (*Conn, error) {
	cfg = cfg.withDefaults()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.AddressResolution(err.Error())
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.AddressResolutionf("unsupported scheme %q in %s", u.Scheme, rawURL)
	}
	host := u.Hostname()
	if host == "" {
		return nil, errors.AddressResolutionf("no host in %s", rawURL)
	}
	if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
		return nil, errors.AddressResolution(err.Error())
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.FromIO(err)
	}
	cfg.Logger.Connected(u.String())

	return NewConn(ws, cfg, errs), nil
}

// NewConn wraps an established WebSocket. Failures are deposited into errs.
func NewConn(ws *websocket.Conn, cfg Config, errs *shared.SharedError) *Conn {
	cfg = cfg.withDefaults()
	if errs == nil {
		errs = shared.New()
	}

	ws.SetReadLimit(cfg.MaxMessageSize)

	return &Conn{
		ws:      ws,
		config:  cfg,
		errs:    errs,
		recv:    make(chan *Frame, cfg.RecvBufferSize),
		send:    make(chan *Frame, cfg.SendBufferSize),
		done:    make(chan struct{}),
		pending: make(map[string]chan result),
	}
}

// NewUpgrader creates an upgrader for accepting WebSocket connections.
func NewUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true }, // Override in production
	}
}

// Errors returns the slot this connection deposits failures into.
func (c *Conn) Errors() *shared.SharedError {
	return c.errs
}

// Recv returns the channel of unsolicited frames.
// It is closed when the reader stops.
func (c *Conn) Recv() <-chan *Frame {
	return c.recv
}

// Done is closed once the connection is closed or has failed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send queues a frame for the writer, waiting while the queue is full.
// Returns a Disconnected error if the connection is closed and ctx.Err()
// if ctx ends first.
func (c *Conn) Send(ctx context.Context, f *Frame) error {
	if c.closed.Load() {
		return errors.Disconnected()
	}
	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return errors.Disconnected()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request sends req and waits for the frame answering it. A request
// without an id is given one. A response of type FrameTypeError yields a
// Protocol error; a response of another type than want yields an
// UnexpectedResponse error (an empty want accepts any).
func (c *Conn) Request(ctx context.Context, req *Frame, want string) (*Frame, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	ch := make(chan result, 1)
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return nil, errors.Disconnected()
	}
	c.pending[req.RequestID] = ch
	c.mu.Unlock()
	defer c.removePending(req.RequestID)

	if err := c.Send(ctx, req); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return checkResponse(res.frame, want)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// complete hands a result to the request waiting on id.
// Returns false if no request is waiting.
func (c *Conn) complete(id string, res result) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if ok {
		ch <- res
	}
	return ok
}

// failPending completes every waiting request with err.
func (c *Conn) failPending(err *errors.Error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan result)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: err}
	}
}

// Run starts the reader and writer and blocks until ctx is cancelled or the
// connection closes. Returns ctx.Err() on cancellation, nil otherwise.
func (c *Conn) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.readLoop()
	}()

	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-c.done:
	}

	c.Close()
	wg.Wait()

	return err
}

// Close sends a close frame and shuts the connection down. Waiting
// requests fail with Disconnected. Nothing is deposited.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	return c.teardown()
}

// fail deposits err and shuts the connection down, once.
func (c *Conn) fail(err *errors.Error) {
	if c.closed.Swap(true) {
		return
	}
	c.config.Logger.Disconnected(err.Error())
	c.errs.Set(err)
	c.teardown()
}

func (c *Conn) teardown() error {
	close(c.done)
	c.failPending(errors.Disconnected())
	return c.ws.Close()
}

// readLoop reads frames until the connection fails or closes.
func (c *Conn) readLoop() {
	defer close(c.recv)

	if c.config.PongTimeout > 0 {
		c.ws.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
		})
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.fail(errors.Disconnected())
			} else {
				c.fail(errors.FromIO(err))
			}
			return
		}

		if c.config.PongTimeout > 0 {
			c.ws.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
		}

		frame, derr := DecodeFrame(data)
		if derr != nil {
			c.errs.Set(derr)
			continue
		}

		if frame.RequestID != "" {
			if !c.complete(frame.RequestID, result{frame: frame}) {
				c.errs.Set(errors.UnexpectedResponsef("%s for unknown request %s", frame.Type, frame.RequestID))
			}
			continue
		}

		select {
		case c.recv <- frame:
		case <-c.done:
			return
		}
	}
}

// writeLoop writes queued frames and keepalive pings.
func (c *Conn) writeLoop() {
	var pingC <-chan time.Time
	if c.config.PingInterval > 0 {
		ticker := time.NewTicker(c.config.PingInterval)
		defer ticker.Stop()
		pingC = ticker.C
	}

	for {
		select {
		case <-c.done:
			return
		case <-pingC:
			deadline := time.Now().Add(time.Second)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.fail(errors.FromIO(err))
				return
			}
		case f := <-c.send:
			if !c.writeFrame(f) {
				return
			}
		}
	}
}

// writeFrame encodes and writes one frame. Returns false once the
// connection has failed.
func (c *Conn) writeFrame(f *Frame) bool {
	data, eerr := EncodeFrame(f)
	if eerr != nil {
		c.errs.Set(eerr)
		if f != nil && f.RequestID != "" {
			c.complete(f.RequestID, result{err: eerr})
		}
		return true
	}

	if c.config.WriteTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		if !c.closed.Load() {
			c.fail(errors.FromIO(err))
		}
		return false
	}
	return true
}
