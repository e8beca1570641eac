// Package protocol defines the control channel spoken between instances and
// the coordinator: the message taxonomy, the versioned envelope and the
// length-prefixed framing.
//
// # Framing
//
// Every message travels as one frame:
//
//	┌──────────────┬──────────────────────────────────────┐
//	│ length (u32) │ msgpack Envelope{v, t, b}            │
//	│ big endian   │ b = msgpack-encoded message body     │
//	└──────────────┴──────────────────────────────────────┘
//
// The reader consumes exactly length bytes per frame, so coalesced or
// fragmented TCP segments never blur message boundaries, and payload text may
// contain any character. A frame that decodes badly has still been consumed
// completely; ReadFrame returns a *DecodeError and the stream stays aligned.
//
// # Messages
//
// Instance -> Coordinator:
//   - Register{InstanceID}
//   - Log{InstanceID, Event, Detail}
//   - JackpotWon{Value}
//   - RequestJackpot{}
//   - Disconnect{}
//
// Coordinator -> Instance:
//   - JackpotUpdate{Value}
//   - JackpotReset{Value}
//   - LogRelay{InstanceID, Text}
//   - Registered{InstanceID}
//   - Error{Code, Text}
//
// Heartbeat{} flows both ways.
//
// # Ordering
//
// Messages on one connection arrive in send order. Nothing orders messages
// across connections.
//
// # Amounts
//
// Jackpot values are Amount, a fixed-point count of hundredths rendered with
// two fraction digits ("305.17").
package protocol
