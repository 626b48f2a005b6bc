// Package transport carries a pulsarkit client's frames over WebSocket.
//
// # Frames
//
// Every message is one JSON Frame. Requests carry a RequestID (a UUID) and
// the server answers with a frame bearing the same id; frames without an
// id are unsolicited and arrive on Conn.Recv.
//
// # Failures
//
// Dial returns its failures directly (AddressResolution, Io). Once the
// connection runs, the reader and writer goroutines deposit failures into
// the shared.SharedError passed to Dial or NewConn and the supervisor takes
// them from there. Request returns request-scoped failures (Protocol,
// UnexpectedResponse, Disconnected) to its caller.
//
// # Usage
//
//	slot := shared.New()
//	conn, err := transport.Dial(ctx, "ws://localhost:8080/ws", transport.DefaultConfig(), slot)
//	if err != nil {
//	    return err
//	}
//	go conn.Run(ctx)
//
//	req, _ := transport.NewRequest("lookup", lookupRequest{Topic: "orders"})
//	resp, err := conn.Request(ctx, req, "lookup_response")
package transport
