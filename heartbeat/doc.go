// Package heartbeat provides client liveness detection over a message bus.
//
// # Overview
//
// A client periodically publishes a Ping on heartbeat.<client-id>. A peer
// watching that subject notices when the pings stop. Neither side returns
// failures to a caller: both deposit them into the session's shared error
// slot, where the supervisor picks them up.
//
// # Architecture
//
//	┌─────────────┐    heartbeat.<client-id>    ┌─────────────┐
//	│  BusSender  │ ─────────────────────────>  │ BusWatcher  │
//	└─────────────┘                             └─────────────┘
//	       │ SerializationLibrary, Io                  │ Disconnected, Deserialization
//	       └──────────────────> slot <─────────────────┘
//
// # Usage
//
//	slot := shared.New()
//
//	sender, _ := heartbeat.NewBusSender(heartbeat.SenderConfig{
//	    Bus:      bus,
//	    ClientID: "client-1",
//	    Interval: 5 * time.Second,
//	    Errors:   slot,
//	})
//	sender.Start(ctx)
//
//	watcher, _ := heartbeat.NewBusWatcher(heartbeat.WatcherConfig{
//	    Bus:     bus,
//	    PeerID:  "broker-1",
//	    Timeout: 15 * time.Second, // 3 missed pings
//	    Errors:  slot,
//	})
//	watcher.Start(ctx)
//
// # Recommendations
//
//   - Set the watcher timeout to 2-3x the peer's ping interval
//   - A lapse is reported once; the next ping re-arms the watcher
package heartbeat
