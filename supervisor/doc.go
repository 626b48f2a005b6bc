// Package supervisor consumes a session's shared error slot.
//
// Producers (transport reader and writer, heartbeat sender and watcher,
// the NATS connection) deposit errors into one shared.SharedError. The
// supervisor is its single consumer: it polls IsSet, takes the error and
// hands it to a Handler. Every consumed error is also logged, recorded as
// a client.error span, journaled, and optionally published as a Report on
// errors.<client-id>.
//
//	sup, _ := supervisor.New(supervisor.Config{
//	    Slot: slot,
//	    Handler: supervisor.HandlerFunc(func(ctx context.Context, err *errors.Error) {
//	        switch err.Kind() {
//	        case errors.KindDisconnected, errors.KindIo:
//	            reconnect()
//	        default:
//	            log.Printf("client error: %v", err)
//	        }
//	    }),
//	    PollInterval: 100 * time.Millisecond,
//	})
//	go sup.Run(ctx)
package supervisor
