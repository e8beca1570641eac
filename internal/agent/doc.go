// Package agent is the instance side of slotmesh: the local spin session,
// the control channel client and the glue that presents both.
//
// # Session
//
// Session holds credits, a mirror of the shared jackpot and the spin state
// machine. A spin costs one credit and is reported as a wager; the mirror
// moves ahead by one step until the coordinator's next JackpotUpdate
// replaces it. When the local jackpot trigger fires the session pays the
// floored mirror, resets it and reports JackpotWon.
//
// # Client
//
// Client dials the coordinator explicitly, registers, and then runs one
// receive goroutine and one writer goroutine:
//
//	Send ─▶ [bounded queue] ─▶ writer ─▶ TCP ─▶ reader ─▶ handler
//	                 ▲ heartbeat ticker
//
// Sends are fire-and-forget. A full queue or a dropped connection loses the
// message with a log line and nothing is retried.
//
// # Agent
//
//	a := agent.New(cfg, presenter, logger)
//	id, err := a.Start(ctx)
//	res, err := a.Spin()
package agent
