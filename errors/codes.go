package errors

import "fmt"

// Kind identifies one of the closed set of client failure kinds.
type Kind uint8

// Error kinds. The set is closed: adding a kind is a breaking change for
// consumers that switch over Kind exhaustively.
const (
	// KindIo is a transport-level I/O failure.
	KindIo Kind = iota + 1

	// KindDisconnected means the connection is known to be closed.
	KindDisconnected

	// KindProtocol is an error response from the server or protocol layer.
	KindProtocol

	// KindUnexpected surfaces an invariant violation or internal bug.
	KindUnexpected

	// KindDecoding means an inbound frame failed to decode.
	KindDecoding

	// KindEncoding means an outbound frame failed to encode.
	KindEncoding

	// KindAddressResolution means a network endpoint could not be resolved.
	KindAddressResolution

	// KindUnexpectedResponse means the server answered with a type or shape
	// not expected for the request.
	KindUnexpectedResponse

	// KindSerializationLibrary is a generic serializer failure not tied to a
	// specific message.
	KindSerializationLibrary

	// KindDeserialization means a structured payload could not be parsed
	// into a typed message.
	KindDeserialization
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{
	KindIo,
	KindDisconnected,
	KindProtocol,
	KindUnexpected,
	KindDecoding,
	KindEncoding,
	KindAddressResolution,
	KindUnexpectedResponse,
	KindSerializationLibrary,
	KindDeserialization,
}

var kindNames = map[Kind]string{
	KindIo:                   "io",
	KindDisconnected:         "disconnected",
	KindProtocol:             "protocol",
	KindUnexpected:           "unexpected",
	KindDecoding:             "decoding",
	KindEncoding:             "encoding",
	KindAddressResolution:    "address_resolution",
	KindUnexpectedResponse:   "unexpected_response",
	KindSerializationLibrary: "serialization_library",
	KindDeserialization:      "deserialization",
}

// String returns the stable name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is a member of the closed set.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// HasCause reports whether errors of this kind wrap an underlying error
// rather than carrying a plain message.
func (k Kind) HasCause() bool {
	switch k {
	case KindIo, KindSerializationLibrary, KindDeserialization:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid error kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind returns the kind with the given stable name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown error kind %q", name)
}

// displayPrefixes holds the fixed prefix rendered before the payload.
// Kinds absent from the map render their payload verbatim.
var displayPrefixes = map[Kind]string{
	KindDecoding:             "Error decoding message: ",
	KindEncoding:             "Error encoding message: ",
	KindAddressResolution:    "Error obtaining socket address: ",
	KindUnexpectedResponse:   "Unexpected response from pulsar: ",
	KindSerializationLibrary: "Serde Error: ",
	KindDeserialization:      "Error deserializing message: ",
}

const disconnectedText = "Disconnected"
