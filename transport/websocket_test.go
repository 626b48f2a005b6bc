package transport

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sammoh94/pulsarkit/errors"
	"github.com/sammoh94/pulsarkit/shared"
)

// --- Helpers ---

// newTestServer starts a WebSocket server running handle for each
// connection and returns its ws:// URL.
func newTestServer(t *testing.T, handle func(ws *websocket.Conn)) string {
	t.Helper()
	upgrader := NewUpgrader()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade error: %v", err)
			return
		}
		defer ws.Close()
		handle(ws)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// dialAndRun dials url and runs the connection until the test ends.
func dialAndRun(t *testing.T, url string) (*Conn, *shared.SharedError) {
	t.Helper()
	slot := shared.New()
	ctx, cancel := context.WithCancel(context.Background())

	conn, err := Dial(ctx, url, DefaultConfig(), slot)
	if err != nil {
		cancel()
		t.Fatalf("Dial error: %v", err)
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		conn.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-runDone
	})
	return conn, slot
}

// waitForError polls the slot until an error arrives.
func waitForError(t *testing.T, slot *shared.SharedError) *errors.Error {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if slot.IsSet() {
			if err := slot.Take(); err != nil {
				return err
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for error in slot")
	return nil
}

// echoResponder answers every request with a frame of respType, or with
// an error frame when respType is FrameTypeError.
func echoResponder(respType, errMsg string) func(ws *websocket.Conn) {
	return func(ws *websocket.Conn) {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var req Frame
			if json.Unmarshal(data, &req) != nil {
				return
			}
			resp := Frame{Type: respType, RequestID: req.RequestID, Error: errMsg}
			if respType != FrameTypeError {
				resp.Payload = req.Payload
			}
			out, _ := json.Marshal(resp)
			if ws.WriteMessage(websocket.TextMessage, out) != nil {
				return
			}
		}
	}
}

// --- Unit Tests ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxMessageSize != 1024*1024 {
		t.Errorf("MaxMessageSize = %d, want 1MB", cfg.MaxMessageSize)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want 10s", cfg.WriteTimeout)
	}

	filled := Config{}.withDefaults()
	if filled.RecvBufferSize != 100 || filled.SendBufferSize != 100 {
		t.Errorf("buffers = %d/%d, want 100/100", filled.RecvBufferSize, filled.SendBufferSize)
	}
	if filled.Logger == nil {
		t.Error("withDefaults should set a logger")
	}
}

func TestEncodeFrame(t *testing.T) {
	if _, err := EncodeFrame(nil); err == nil || err.Kind() != errors.KindEncoding {
		t.Errorf("EncodeFrame(nil) = %v, want encoding error", err)
	}
	if _, err := EncodeFrame(&Frame{}); err == nil || err.Kind() != errors.KindEncoding {
		t.Errorf("EncodeFrame(no type) = %v, want encoding error", err)
	}
	bad := &Frame{Type: "send", Payload: json.RawMessage("{not json")}
	if _, err := EncodeFrame(bad); err == nil || err.Kind() != errors.KindEncoding {
		t.Errorf("EncodeFrame(bad payload) = %v, want encoding error", err)
	}

	data, err := EncodeFrame(&Frame{Type: "ping"})
	if err != nil {
		t.Fatalf("EncodeFrame error: %v", err)
	}
	if string(data) != `{"type":"ping"}` {
		t.Errorf("EncodeFrame = %s", data)
	}
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"valid", `{"type":"pong","request_id":"abc"}`, false},
		{"garbage", `not json`, true},
		{"missing type", `{"request_id":"abc"}`, true},
		{"wrong shape", `{"type":5}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := DecodeFrame([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got frame %+v", f)
				}
				if err.Kind() != errors.KindDecoding {
					t.Errorf("Kind() = %v, want decoding", err.Kind())
				}
				if !strings.HasPrefix(err.Error(), "Error decoding message: ") {
					t.Errorf("Error() = %q", err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.Type != "pong" || f.RequestID != "abc" {
				t.Errorf("frame = %+v", f)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	var v struct {
		Topic string `json:"topic"`
	}

	err := DecodePayload(&Frame{Type: "x"}, &v)
	if !errors.Is(err, errors.KindDeserialization) {
		t.Errorf("empty payload: got %v, want deserialization error", err)
	}

	err = DecodePayload(&Frame{Type: "x", Payload: json.RawMessage(`{"topic":5}`)}, &v)
	if !errors.Is(err, errors.KindDeserialization) {
		t.Errorf("bad payload: got %v, want deserialization error", err)
	}

	if err := DecodePayload(&Frame{Type: "x", Payload: json.RawMessage(`{"topic":"orders"}`)}, &v); err != nil {
		t.Fatalf("DecodePayload error: %v", err)
	}
	if v.Topic != "orders" {
		t.Errorf("Topic = %q, want %q", v.Topic, "orders")
	}
}

func TestNewRequest(t *testing.T) {
	f, err := NewRequest("lookup", map[string]string{"topic": "orders"})
	if err != nil {
		t.Fatalf("NewRequest error: %v", err)
	}
	if f.RequestID == "" {
		t.Error("RequestID should be set")
	}
	if string(f.Payload) != `{"topic":"orders"}` {
		t.Errorf("Payload = %s", f.Payload)
	}

	other, _ := NewRequest("lookup", nil)
	if other.RequestID == f.RequestID {
		t.Error("request ids should be unique")
	}
	if len(other.Payload) != 0 {
		t.Error("nil payload should leave Payload empty")
	}

	_, err = NewRequest("lookup", make(chan int))
	if !errors.Is(err, errors.KindSerializationLibrary) {
		t.Errorf("unmarshalable payload: got %v, want serialization error", err)
	}
}

func TestCheckResponse(t *testing.T) {
	tests := []struct {
		name     string
		resp     *Frame
		want     string
		wantKind errors.Kind
	}{
		{"match", &Frame{Type: "pong"}, "pong", 0},
		{"any", &Frame{Type: "pong"}, "", 0},
		{"server error", &Frame{Type: FrameTypeError, Error: "TopicNotFound"}, "pong", errors.KindProtocol},
		{"wrong type", &Frame{Type: "ack"}, "pong", errors.KindUnexpectedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := checkResponse(tt.resp, tt.want)
			if tt.wantKind == 0 {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if errors.KindOf(err) != tt.wantKind {
				t.Errorf("kind = %v, want %v", errors.KindOf(err), tt.wantKind)
			}
		})
	}
}

// --- Dial Tests ---

func TestDial_AddressResolution(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"unparseable", "://bad"},
		{"wrong scheme", "http://localhost:8080"},
		{"no host", "ws:///path"},
		{"unresolvable host", "ws://pulsarkit.invalid:8080/ws"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, err := Dial(ctx, tt.url, DefaultConfig(), shared.New())
			if !errors.Is(err, errors.KindAddressResolution) {
				t.Errorf("Dial(%q) = %v, want address resolution error", tt.url, err)
			}
		})
	}
}

func TestDial_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = Dial(ctx, "ws://"+addr+"/ws", DefaultConfig(), shared.New())
	if !errors.Is(err, errors.KindIo) {
		t.Errorf("Dial = %v, want io error", err)
	}
}

// --- Integration Tests ---

func TestConn_RequestRoundTrip(t *testing.T) {
	url := newTestServer(t, echoResponder("lookup_response", ""))
	conn, slot := dialAndRun(t, url)

	req, _ := NewRequest("lookup", map[string]string{"topic": "orders"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := conn.Request(ctx, req, "lookup_response")
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.RequestID != req.RequestID {
		t.Errorf("RequestID = %q, want %q", resp.RequestID, req.RequestID)
	}
	var payload map[string]string
	if err := DecodePayload(resp, &payload); err != nil {
		t.Fatalf("DecodePayload error: %v", err)
	}
	if payload["topic"] != "orders" {
		t.Errorf("payload = %v", payload)
	}
	if slot.IsSet() {
		t.Errorf("unexpected error in slot: %v", slot.Take())
	}
}

func TestConn_RequestAssignsID(t *testing.T) {
	url := newTestServer(t, echoResponder("ack", ""))
	conn, _ := dialAndRun(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := &Frame{Type: "flow"}
	if _, err := conn.Request(ctx, req, ""); err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if req.RequestID == "" {
		t.Error("Request should assign an id")
	}
}

func TestConn_RequestProtocolError(t *testing.T) {
	url := newTestServer(t, echoResponder(FrameTypeError, "TopicNotFound"))
	conn, _ := dialAndRun(t, url)

	req, _ := NewRequest("lookup", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := conn.Request(ctx, req, "lookup_response")
	if !errors.Is(err, errors.KindProtocol) {
		t.Fatalf("Request error = %v, want protocol error", err)
	}
	if err.Error() != "TopicNotFound" {
		t.Errorf("Error() = %q, want %q", err.Error(), "TopicNotFound")
	}
}

func TestConn_RequestUnexpectedResponse(t *testing.T) {
	url := newTestServer(t, echoResponder("pong", ""))
	conn, _ := dialAndRun(t, url)

	req, _ := NewRequest("lookup", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := conn.Request(ctx, req, "lookup_response")
	if !errors.Is(err, errors.KindUnexpectedResponse) {
		t.Fatalf("Request error = %v, want unexpected response", err)
	}
	want := "Unexpected response from pulsar: expected lookup_response, got pong"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestConn_RequestContextCancel(t *testing.T) {
	url := newTestServer(t, func(ws *websocket.Conn) {
		// Never answer
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	conn, _ := dialAndRun(t, url)

	req, _ := NewRequest("lookup", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := conn.Request(ctx, req, "lookup_response")
	if err != context.DeadlineExceeded {
		t.Errorf("Request error = %v, want context.DeadlineExceeded", err)
	}
}

// stalledConn returns a connection whose writer never runs, so its send
// queue stays full once one frame is queued.
func stalledConn(t *testing.T) *Conn {
	t.Helper()
	url := newTestServer(t, func(ws *websocket.Conn) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	cfg := DefaultConfig()
	cfg.SendBufferSize = 1
	conn := NewConn(ws, cfg, shared.New())
	t.Cleanup(func() { conn.Close() })

	if err := conn.Send(context.Background(), &Frame{Type: "filler"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	return conn
}

func TestConn_SendContextCancel(t *testing.T) {
	conn := stalledConn(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- conn.Send(ctx, &Frame{Type: "ping"}) }()

	select {
	case err := <-done:
		if err != context.DeadlineExceeded {
			t.Errorf("Send() = %v, want context.DeadlineExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked past its context")
	}
}

func TestConn_RequestContextCancelQueueFull(t *testing.T) {
	conn := stalledConn(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := conn.Request(ctx, &Frame{Type: "lookup"}, "")
		done <- err
	}()

	select {
	case err := <-done:
		if err != context.DeadlineExceeded {
			t.Errorf("Request() = %v, want context.DeadlineExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Request blocked past its context")
	}

	conn.mu.Lock()
	pending := len(conn.pending)
	conn.mu.Unlock()
	if pending != 0 {
		t.Errorf("pending = %d, want 0", pending)
	}
}

func TestConn_UnsolicitedFrame(t *testing.T) {
	url := newTestServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","payload":{"id":1}}`))
		ws.ReadMessage()
	})
	conn, _ := dialAndRun(t, url)

	select {
	case f := <-conn.Recv():
		if f.Type != "message" {
			t.Errorf("Type = %q, want %q", f.Type, "message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
	}
}

// --- Failure Tests ---

func TestConn_DecodingErrorDeposited(t *testing.T) {
	url := newTestServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.TextMessage, []byte("garbage"))
		ws.ReadMessage()
	})
	_, slot := dialAndRun(t, url)

	err := waitForError(t, slot)
	if err.Kind() != errors.KindDecoding {
		t.Errorf("Kind() = %v, want decoding", err.Kind())
	}
}

func TestConn_UnknownResponseDeposited(t *testing.T) {
	url := newTestServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ack","request_id":"nobody"}`))
		ws.ReadMessage()
	})
	_, slot := dialAndRun(t, url)

	err := waitForError(t, slot)
	if err.Kind() != errors.KindUnexpectedResponse {
		t.Errorf("Kind() = %v, want unexpected response", err.Kind())
	}
}

func TestConn_PeerCloseDepositsDisconnected(t *testing.T) {
	url := newTestServer(t, func(ws *websocket.Conn) {
		ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second),
		)
		// Wait for the client to answer the close
		ws.ReadMessage()
	})
	conn, slot := dialAndRun(t, url)

	err := waitForError(t, slot)
	if err.Kind() != errors.KindDisconnected {
		t.Fatalf("Kind() = %v, want disconnected", err.Kind())
	}
	if err.Error() != "Disconnected" {
		t.Errorf("Error() = %q, want %q", err.Error(), "Disconnected")
	}

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done should be closed after peer close")
	}
	if err := conn.Send(context.Background(), &Frame{Type: "ping"}); !errors.Is(err, errors.KindDisconnected) {
		t.Errorf("Send after close = %v, want disconnected", err)
	}
}

func TestConn_AbruptCloseDepositsIo(t *testing.T) {
	url := newTestServer(t, func(ws *websocket.Conn) {
		// Drop the TCP connection without a close frame
		ws.UnderlyingConn().Close()
	})
	_, slot := dialAndRun(t, url)

	err := waitForError(t, slot)
	if err.Kind() != errors.KindIo {
		t.Errorf("Kind() = %v (%v), want io", err.Kind(), err)
	}
}

func TestConn_EncodingErrorDeposited(t *testing.T) {
	url := newTestServer(t, func(ws *websocket.Conn) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	conn, slot := dialAndRun(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := &Frame{Type: "send", RequestID: "r-1", Payload: json.RawMessage("{broken")}
	_, err := conn.Request(ctx, req, "send_receipt")
	if !errors.Is(err, errors.KindEncoding) {
		t.Errorf("Request error = %v, want encoding error", err)
	}

	deposited := waitForError(t, slot)
	if deposited.Kind() != errors.KindEncoding {
		t.Errorf("deposited Kind() = %v, want encoding", deposited.Kind())
	}
}

func TestConn_CloseFailsPendingRequests(t *testing.T) {
	url := newTestServer(t, func(ws *websocket.Conn) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	conn, slot := dialAndRun(t, url)

	errCh := make(chan error, 1)
	go func() {
		req, _ := NewRequest("lookup", nil)
		_, err := conn.Request(context.Background(), req, "lookup_response")
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	conn.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, errors.KindDisconnected) {
			t.Errorf("Request error = %v, want disconnected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request was not released")
	}

	// Our own Close is not a failure
	if slot.IsSet() {
		t.Errorf("Close should not deposit, got %v", slot.Take())
	}
}
