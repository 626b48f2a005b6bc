package errors

import (
	"encoding/json"
	"fmt"
)

// Error is a client failure of one Kind. Message kinds carry a message,
// cause kinds (see Kind.HasCause) wrap the underlying error, and
// KindDisconnected carries nothing.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// Ensure Error implements json.Marshaler/Unmarshaler.
var (
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the display string for the error's kind.
func (e *Error) Error() string {
	if e.kind == KindDisconnected {
		return disconnectedText
	}
	return displayPrefixes[e.kind] + e.payload()
}

// payload returns the message or the cause's text.
func (e *Error) payload() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	return e.message
}

// Kind returns the error kind.
func (e *Error) Kind() Kind {
	return e.kind
}

// Message returns the message of a message kind, or the cause's text for a
// cause kind. It is empty for KindDisconnected.
func (e *Error) Message() string {
	return e.payload()
}

// Unwrap returns the underlying cause for Io, SerializationLibrary and
// Deserialization errors.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error of the same kind. A target without payload
// matches any error of its kind; otherwise display strings must agree.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	if e.kind != t.kind {
		return false
	}
	if t.message == "" && t.cause == nil {
		return true
	}
	return e.Error() == t.Error()
}

// errorJSON is the JSON representation of an Error.
type errorJSON struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message,omitempty"`
	Display string `json:"display"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(errorJSON{
		Kind:    e.kind,
		Message: e.payload(),
		Display: e.Error(),
	})
}

// UnmarshalJSON implements json.Unmarshaler. Causes of cause kinds come
// back as plain errors carrying the original text.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	if !j.Kind.Valid() {
		return fmt.Errorf("invalid error kind %d", uint8(j.Kind))
	}
	e.kind = j.Kind
	e.message = ""
	e.cause = nil
	switch {
	case j.Kind == KindDisconnected:
	case j.Kind.HasCause():
		e.cause = fmt.Errorf("%s", j.Message)
	default:
		e.message = j.Message
	}
	return nil
}

func withMessage(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

func withCause(kind Kind, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{kind: kind, cause: cause}
}

// Io wraps a transport-level I/O failure. Returns nil if err is nil.
func Io(err error) *Error {
	return withCause(KindIo, err)
}

// Disconnected reports that the connection is closed.
func Disconnected() *Error {
	return &Error{kind: KindDisconnected}
}

// Protocol reports an error response from the server.
func Protocol(message string) *Error {
	return withMessage(KindProtocol, message)
}

// Protocolf is Protocol with a formatted message.
func Protocolf(format string, args ...interface{}) *Error {
	return Protocol(fmt.Sprintf(format, args...))
}

// Unexpected reports an invariant violation.
func Unexpected(message string) *Error {
	return withMessage(KindUnexpected, message)
}

// Unexpectedf is Unexpected with a formatted message.
func Unexpectedf(format string, args ...interface{}) *Error {
	return Unexpected(fmt.Sprintf(format, args...))
}

// Decoding reports an inbound frame that failed to decode.
func Decoding(message string) *Error {
	return withMessage(KindDecoding, message)
}

// Decodingf is Decoding with a formatted message.
func Decodingf(format string, args ...interface{}) *Error {
	return Decoding(fmt.Sprintf(format, args...))
}

// Encoding reports an outbound frame that failed to encode.
func Encoding(message string) *Error {
	return withMessage(KindEncoding, message)
}

// Encodingf is Encoding with a formatted message.
func Encodingf(format string, args ...interface{}) *Error {
	return Encoding(fmt.Sprintf(format, args...))
}

// AddressResolution reports a network endpoint that could not be resolved.
func AddressResolution(message string) *Error {
	return withMessage(KindAddressResolution, message)
}

// AddressResolutionf is AddressResolution with a formatted message.
func AddressResolutionf(format string, args ...interface{}) *Error {
	return AddressResolution(fmt.Sprintf(format, args...))
}

// UnexpectedResponse reports a response of the wrong type for a request.
func UnexpectedResponse(message string) *Error {
	return withMessage(KindUnexpectedResponse, message)
}

// UnexpectedResponsef is UnexpectedResponse with a formatted message.
func UnexpectedResponsef(format string, args ...interface{}) *Error {
	return UnexpectedResponse(fmt.Sprintf(format, args...))
}

// SerializationLibrary wraps a serializer failure. Returns nil if err is nil.
func SerializationLibrary(err error) *Error {
	return withCause(KindSerializationLibrary, err)
}

// Deserialization wraps a failure to parse a typed message.
// Returns nil if err is nil.
func Deserialization(err error) *Error {
	return withCause(KindDeserialization, err)
}
