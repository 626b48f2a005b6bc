// Package bus provides the pub/sub channel a pulsarkit client uses for
// heartbeats and error reports.
//
// # Available Implementations
//
//   - NATSBus: messaging over NATS. Connection-level failures (disconnects,
//     async errors) are deposited into a shared.SharedError when one is
//     configured.
//   - MemoryBus: in-memory implementation for tests and single-process use.
//
// # Usage
//
//	slot := shared.New()
//	cfg := bus.DefaultNATSConfig()
//	cfg.Errors = slot
//	b, err := bus.NewNATSBus(cfg)
//
//	sub, _ := b.Subscribe("heartbeat.broker-1")
//	for msg := range sub.Messages() {
//	    // handle msg.Data
//	}
package bus
