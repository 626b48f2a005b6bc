package transport

import (
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"github.com/sammoh94/pulsarkit/errors"
	"github.com/sammoh94/pulsarkit/logging"
)

// ErrEmptyPayload is wrapped in a deserialization error when a frame
// carries no payload to decode.
var ErrEmptyPayload = stderrors.New("empty payload")

// FrameTypeError is the frame type a server uses to reject a request.
const FrameTypeError = "error"

// Frame is one JSON message on the wire.
//
// A frame with a RequestID answers the request that carried the same id;
// frames without one are unsolicited and delivered through Conn.Recv.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// NewRequest builds a frame of the given type with a fresh request id and
// payload marshalled to JSON. A nil payload leaves Payload empty.
func NewRequest(frameType string, payload interface{}) (*Frame, error) {
	f := &Frame{
		Type:      frameType,
		RequestID: uuid.NewString(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.FromSerde(err)
		}
		f.Payload = data
	}
	return f, nil
}

// EncodeFrame serializes a frame for the wire.
func EncodeFrame(f *Frame) ([]byte, *errors.Error) {
	if f == nil || f.Type == "" {
		return nil, errors.Encoding("frame has no type")
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Encoding(err.Error())
	}
	return data, nil
}

// DecodeFrame parses a frame read from the wire.
func DecodeFrame(data []byte) (*Frame, *errors.Error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Decoding(err.Error())
	}
	if f.Type == "" {
		return nil, errors.Decoding("frame has no type")
	}
	return &f, nil
}

// DecodePayload parses the frame's payload into v.
func DecodePayload(f *Frame, v interface{}) error {
	if len(f.Payload) == 0 {
		return errors.Deserialization(ErrEmptyPayload)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return errors.Deserialization(err)
	}
	return nil
}

// checkResponse validates a response frame against the expected type.
// An empty want accepts any non-error type.
func checkResponse(resp *Frame, want string) (*Frame, error) {
	if resp.Type == FrameTypeError {
		return nil, errors.Protocol(resp.Error)
	}
	if want != "" && resp.Type != want {
		return nil, errors.UnexpectedResponsef("expected %s, got %s", want, resp.Type)
	}
	return resp, nil
}

// Config holds connection configuration.
type Config struct {
	// RecvBufferSize is the size of the unsolicited frame channel.
	// Default: 100
	RecvBufferSize int

	// SendBufferSize is the size of the outbound queue.
	// Default: 100
	SendBufferSize int

	// WriteTimeout for write operations.
	// Default: 10 seconds
	WriteTimeout time.Duration

	// PongTimeout is how long to wait for any inbound traffic or pong
	// before the connection is considered dead (0 = no deadline).
	PongTimeout time.Duration

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration

	// MaxMessageSize limits incoming frame size.
	// Default: 1MB
	MaxMessageSize int64

	// HandshakeTimeout bounds the WebSocket handshake in Dial.
	HandshakeTimeout time.Duration

	// Logger for connection events. Nil disables logging.
	Logger *logging.Logger
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RecvBufferSize:   100,
		SendBufferSize:   100,
		WriteTimeout:     10 * time.Second,
		PongTimeout:      0,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   1024 * 1024, // 1MB
		HandshakeTimeout: 10 * time.Second,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RecvBufferSize <= 0 {
		c.RecvBufferSize = def.RecvBufferSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = def.SendBufferSize
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	return c
}
