package coordinator

import "github.com/dreamware/slotmesh/internal/protocol"

// Observer receives the coordinator's presentation callbacks.
//
// Hub callbacks run while the hub lock is held so that observers see
// mutations in the order they happened. Implementations must not block and
// must not call back into the Hub.
type Observer interface {
	// OnCounterChanged reports the shared counter after every net mutation.
	OnCounterChanged(value protocol.Amount)
	// OnLogEvent reports one log line sent by an instance.
	OnLogEvent(instanceID, text string)
	// OnInstanceRegistered reports an accepted Register.
	OnInstanceRegistered(instanceID string)
	// OnInstanceDisconnected reports a registered instance's connection ending.
	OnInstanceDisconnected(instanceID string)
	// OnInstanceRemoved reports a tracked process being retired.
	OnInstanceRemoved(instanceID string)
}

// Observers fans every callback out to each element in order.
type Observers []Observer

func (o Observers) OnCounterChanged(value protocol.Amount) {
	for _, obs := range o {
		obs.OnCounterChanged(value)
	}
}

func (o Observers) OnLogEvent(instanceID, text string) {
	for _, obs := range o {
		obs.OnLogEvent(instanceID, text)
	}
}

func (o Observers) OnInstanceRegistered(instanceID string) {
	for _, obs := range o {
		obs.OnInstanceRegistered(instanceID)
	}
}

func (o Observers) OnInstanceDisconnected(instanceID string) {
	for _, obs := range o {
		obs.OnInstanceDisconnected(instanceID)
	}
}

func (o Observers) OnInstanceRemoved(instanceID string) {
	for _, obs := range o {
		obs.OnInstanceRemoved(instanceID)
	}
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) OnCounterChanged(protocol.Amount) {}
func (NopObserver) OnLogEvent(string, string)        {}
func (NopObserver) OnInstanceRegistered(string)      {}
func (NopObserver) OnInstanceDisconnected(string)    {}
func (NopObserver) OnInstanceRemoved(string)         {}
