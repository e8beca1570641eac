// Package coordinator implements the control plane of slotmesh: it owns the
// shared jackpot counter, accepts control connections from slot instances,
// and launches and retires the instance processes themselves.
//
// # Overview
//
// Every instance runs its own spins locally and reports credit-affecting
// events to the coordinator. The coordinator turns wager reports into counter
// increments, runs the payout check, and keeps every connected instance's
// view of the counter current.
//
// # Architecture
//
//	┌──────────────────────────────────────────┐
//	│               COORDINATOR                │
//	├──────────────────────────────────────────┤
//	│  ┌────────────┐  messages  ┌──────────┐  │
//	│  │  Server    │──────────▶│   Hub    │  │
//	│  │ accept loop│            │ counter  │  │
//	│  │ read loops │◀──────────│ clients  │  │
//	│  └────────────┘  peer Send └──────────┘  │
//	│        ▲                       │ OnRegistered
//	│        │ TCP                   ▼         │
//	│  ┌─────┴──────┐  spawn    ┌──────────┐   │
//	│  │ instances  │◀──────────│Supervisor│   │
//	│  └────────────┘  stop     └──────────┘   │
//	└──────────────────────────────────────────┘
//
// # Core Components
//
// Hub: shared counter and connected-client set
//   - One mutex guards the counter, the payout random source and the clients
//   - Each mutation and the broadcast announcing it happen under that lock
//   - Peers that fail a send are removed after the broadcast completes
//
// Server: loopback TCP listener
//   - One read goroutine and one writer goroutine per connection
//   - Undecodable frames are dropped, the connection is kept
//   - Accept errors are logged and retried with backoff
//
// Supervisor: instance process lifecycle
//   - Spawns "<executable> <scene> <instanceId>" into the lowest free slot
//   - Removes an instance that does not register within the confirm timeout
//   - Interrupt first, kill after the grace period
//
// HealthMonitor: connection liveness of confirmed instances
//   - A confirmed process whose control connection stays gone for several
//     checks is reported unhealthy, and the coordinator retires it
//
// # Payout Protocol
//
// A Log carrying the wager event adds one step to the counter and rolls the
// payout check. When it fires the payer and everyone else see:
//
//	payer:   JackpotReset(305.17)  then  JackpotUpdate(300.00)
//	others:                              JackpotUpdate(300.00)
//
// Per-peer queues preserve that order on each connection. Without a payout
// every client receives JackpotUpdate with the incremented value. If the
// payer's queue rejects the reset, the payer is dropped and the counter keeps
// its value for the next winner.
//
// Log messages count only once a connection has registered; earlier ones are
// dropped.
//
// # Observers
//
// Observer callbacks mirror the mutations for presentation layers such as
// the admin event stream and the per-instance history. Hub callbacks are
// invoked under the hub lock and must return quickly.
//
// # Usage
//
//	hub := coordinator.NewHub(coordinator.DefaultHubConfig(), observers, logger)
//	srv := coordinator.NewServer(coordinator.ServerConfig{Addr: "127.0.0.1:12345"}, hub, logger)
//	sup := coordinator.NewSupervisor(coordinator.SupervisorConfig{Executable: "./instance"}, observers, logger)
//	hub.SetOnRegistered(func(id string) { sup.Confirm(id) })
//
//	if err := srv.Listen(); err != nil {
//		return err
//	}
//	go srv.Serve(ctx)
package coordinator
