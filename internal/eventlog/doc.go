// Package eventlog keeps a bounded, per-instance history of the log events and
// lifecycle marks the coordinator observes, so the admin surface can show what
// an instance was doing, including one whose process has already exited.
//
// # Retention
//
// Each instance gets a ring buffer of fixed capacity:
//
//	Append ─▶ [ e1 e2 e3 ... eN ] ─▶ oldest evicted when full
//
// History outlives the instance until Delete is called or until more than
// SetMaxRetired other instances have been removed after it; a removed id that
// registers again is live once more. Stats reports how many entries were
// evicted overall.
//
// # Concurrency
//
// MemoryStore guards every ring with a single RWMutex. List returns copies.
//
// # Wiring
//
// Recorder adapts a Store to the coordinator's Observer callbacks:
//
//	store := eventlog.NewMemoryStore(cfg.HistorySize)
//	store.SetMaxRetired(cfg.HistoryRetired)
//	observers := coordinator.Observers{eventlog.NewRecorder(store), stream}
package eventlog
