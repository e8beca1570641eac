package eventlog

import "github.com/dreamware/slotmesh/internal/protocol"

// Recorder feeds coordinator lifecycle and log callbacks into a Store.
// It satisfies coordinator.Observer.
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder writing to store
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// OnCounterChanged is ignored; counter history is not per instance
func (r *Recorder) OnCounterChanged(protocol.Amount) {}

// OnLogEvent records one relayed log line
func (r *Recorder) OnLogEvent(instanceID, text string) {
	r.store.Append(Entry{InstanceID: instanceID, Kind: KindLog, Text: text})
}

// OnInstanceRegistered records a successful registration
func (r *Recorder) OnInstanceRegistered(instanceID string) {
	r.store.Append(Entry{InstanceID: instanceID, Kind: KindRegistered})
}

// OnInstanceDisconnected records a dropped control connection
func (r *Recorder) OnInstanceDisconnected(instanceID string) {
	r.store.Append(Entry{InstanceID: instanceID, Kind: KindDisconnected})
}

// OnInstanceRemoved records process retirement; history is kept for post-mortem
func (r *Recorder) OnInstanceRemoved(instanceID string) {
	r.store.Append(Entry{InstanceID: instanceID, Kind: KindRemoved})
}
