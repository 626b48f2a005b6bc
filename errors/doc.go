// Package errors defines the closed taxonomy of failures a pulsarkit client
// can report. Producers (connection reader and writer, heartbeat tasks, the
// bus) convert lower-level failures into an *Error and deposit it in a
// shared.SharedError; the supervising consumer takes it and decides how to
// react.
//
// # Kinds
//
//   - io: transport-level I/O failure (wraps the underlying error)
//   - disconnected: the connection is known to be closed
//   - protocol: error response from the server
//   - unexpected: invariant violation / internal bug
//   - decoding, encoding: inbound/outbound frame codec failures
//   - address_resolution: endpoint could not be resolved
//   - unexpected_response: response type does not match the request
//   - serialization_library, deserialization: serializer failures (wrap the
//     underlying error)
//
// # Usage
//
// Convert a raw failure:
//
//	if _, err := conn.Read(buf); err != nil {
//	    slot.Set(errors.FromIO(err))
//	}
//
// React to a taken error with an exhaustive switch:
//
//	switch err.Kind() {
//	case errors.KindDisconnected, errors.KindIo:
//	    // reconnect
//	default:
//	    // give up
//	}
//
// The display string returned by Error() is the only content contract;
// log lines and user-facing messages use it verbatim.
package errors
