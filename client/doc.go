// Package client runs a pulsarkit session: one WebSocket connection to the
// service, a heartbeat on the message bus, and a supervisor consuming the
// errors all of them deposit into the session's shared slot.
//
// # Usage
//
//	cfg, _, _ := config.Load()
//	session, err := client.NewSession(cfg,
//	    client.WithFrameHandler("message", onMessage),
//	)
//	if err != nil {
//	    return err
//	}
//
//	err = session.Run(ctx, supervisor.HandlerFunc(func(ctx context.Context, err *errors.Error) {
//	    if err.Kind() == errors.KindDisconnected {
//	        session.Close()
//	    }
//	}))
//
// # Error flow
//
//	transport reader/writer ─┐
//	heartbeat sender/watcher ─┼──> Session.Errors() ──> supervisor ──> Handler
//	NATS connection ──────────┤
//	frame dispatcher ─────────┘
//
// Failures that happen before Run is up (opening the bus, dialing) are
// returned from Run instead of being deposited.
package client
