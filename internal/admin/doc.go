// Package admin exposes the coordinator over loopback HTTP.
//
// Routes:
//
//	GET    /health                 liveness plus process and client counts
//	GET    /jackpot                hub snapshot (counter, odds, stats, clients)
//	GET    /instances              supervised processes and connected clients
//	POST   /instances              spawn one instance (409 at capacity)
//	DELETE /instances              retire the most recently spawned instance
//	DELETE /instances/{id}         retire one instance (404 if unknown)
//	GET    /instances/{id}/logs    retained history, ?limit=N newest entries
//	DELETE /instances/{id}/logs    drop retained history
//	GET    /events                 websocket of JSON Event frames
//
// Stream implements coordinator.Observer. Add it to the hub's observer list
// and every counter change, relayed log line and lifecycle event is pushed
// to /events subscribers. The first frame a subscriber receives is always
// the current counter.
package admin
