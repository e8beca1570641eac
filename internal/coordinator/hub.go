package coordinator

import (
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/dreamware/slotmesh/internal/protocol"
	"github.com/dreamware/slotmesh/internal/slot"
)

// Default shared counter parameters.
const (
	DefaultBaseline   = protocol.Amount(300 * protocol.Scale)
	DefaultStep       = protocol.Amount(1)
	DefaultPayoutOdds = 200
)

// HubConfig configures the shared counter and message routing.
type HubConfig struct {
	Baseline   protocol.Amount // Counter value at start and after every payout
	Step       protocol.Amount // Added on every wager event
	PayoutOdds int             // Coordinator-side payout check, 1-in-N per wager; 0 disables
	WagerEvent string          // Log event that counts as a wager
	RelayLogs  bool            // Forward Log messages to the other clients as LogRelay

	Source slot.Source // Random source for the payout check; seeded PCG if nil
}

// DefaultHubConfig returns a 300.00 baseline, 0.01 step and 1-in-200 payout odds.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		Baseline:   DefaultBaseline,
		Step:       DefaultStep,
		PayoutOdds: DefaultPayoutOdds,
		WagerEvent: protocol.EventWager,
		RelayLogs:  true,
	}
}

// HubStats counts counter mutations since start.
type HubStats struct {
	Wagers     int64           `json:"wagers"`
	Payouts    int64           `json:"payouts"`    // Coordinator-side payouts
	Resets     int64           `json:"resets"`     // Agent-reported JackpotWon resets
	LastPayout protocol.Amount `json:"last_payout"` // Pre-reset value of the most recent payout or reset
}

// ClientInfo describes one connected client.
type ClientInfo struct {
	ConnID      string    `json:"conn_id"`
	InstanceID  string    `json:"instance_id,omitempty"` // Empty until registered
	ConnectedAt time.Time `json:"connected_at"`
}

// Snapshot is a consistent view of the hub state.
type Snapshot struct {
	Counter    protocol.Amount `json:"counter"`
	Baseline   protocol.Amount `json:"baseline"`
	Step       protocol.Amount `json:"step"`
	PayoutOdds int             `json:"payout_odds"`
	Stats      HubStats        `json:"stats"`
	Clients    []ClientInfo    `json:"clients"`
}

type client struct {
	peer        Peer
	instanceID  string
	connectedAt time.Time
}

// Hub owns the shared counter and the set of connected clients.
//
// A single mutex guards the counter, the random source and the client set so
// that every mutation and the broadcast announcing it form one atomic step.
// Per-peer queues preserve the order in which the hub enqueued, which gives
// each connection a consistent view of the counter.
//
// Thread-safe: all methods may be called from any goroutine.
type Hub struct {
	cfg      HubConfig
	observer Observer
	logger   *slog.Logger

	mu        sync.Mutex
	counter   protocol.Amount
	stats     HubStats
	clients   map[string]*client // keyed by connection id
	instances map[string]string  // instance id -> connection id

	onRegistered func(instanceID string)
}

// NewHub creates a hub whose counter starts at cfg.Baseline.
//
// Parameters:
//   - cfg: Counter and routing parameters
//   - observer: Presentation callbacks; nil means NopObserver
//   - logger: Structured logger; nil means slog.Default()
//
// Example:
//
//	hub := NewHub(DefaultHubConfig(), Observers{recorder, stream}, logger)
//	hub.SetOnRegistered(supervisor.Confirm)
func NewHub(cfg HubConfig, observer Observer, logger *slog.Logger) *Hub {
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Source == nil {
		cfg.Source = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	if cfg.WagerEvent == "" {
		cfg.WagerEvent = protocol.EventWager
	}
	return &Hub{
		cfg:       cfg,
		observer:  observer,
		logger:    logger.With("component", "hub"),
		counter:   cfg.Baseline,
		clients:   make(map[string]*client),
		instances: make(map[string]string),
	}
}

// SetOnRegistered sets a callback invoked after an instance registers.
// The callback runs in its own goroutine, outside the hub lock.
//
// Example:
//
//	hub.SetOnRegistered(func(id string) { supervisor.Confirm(id) })
func (h *Hub) SetOnRegistered(callback func(instanceID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRegistered = callback
}

// Counter returns the current shared counter.
func (h *Hub) Counter() protocol.Amount {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counter
}

// Attach adds a new connection and pushes the current counter to it.
func (h *Hub) Attach(peer Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[peer.ID()] = &client{peer: peer, connectedAt: time.Now()}
	if err := peer.Send(protocol.JackpotUpdate{Value: h.counter}); err != nil {
		h.logger.Warn("initial push failed", "conn_id", peer.ID(), "error", err)
		h.detachLocked(peer.ID())
	}
}

// Detach removes a connection and closes its peer. It is idempotent.
func (h *Hub) Detach(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachLocked(connID)
}

func (h *Hub) detachLocked(connID string) {
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	delete(h.clients, connID)
	_ = c.peer.Close()

	if c.instanceID == "" {
		h.logger.Debug("connection closed", "conn_id", connID)
		return
	}
	if h.instances[c.instanceID] == connID {
		delete(h.instances, c.instanceID)
	}
	h.logger.Info("instance disconnected", "conn_id", connID, "instance_id", c.instanceID)
	h.observer.OnInstanceDisconnected(c.instanceID)
}

// CloseAll detaches every connection.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for connID := range h.clients {
		h.detachLocked(connID)
	}
}

// Handle applies one inbound message from connID.
func (h *Hub) Handle(connID string, msg protocol.Message) {
	var registered string

	h.mu.Lock()
	c, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		h.logger.Debug("message from detached connection", "conn_id", connID, "message", msg.String())
		return
	}

	switch m := msg.(type) {
	case protocol.Register:
		registered = h.register(connID, c, m)
	case protocol.Log:
		h.handleLog(connID, c, m)
	case protocol.JackpotWon:
		h.handleJackpotWon(c, m)
	case protocol.RequestJackpot:
		h.sendLocked(connID, c, protocol.JackpotUpdate{Value: h.counter})
	case protocol.Heartbeat:
		h.sendLocked(connID, c, protocol.Heartbeat{})
	case protocol.Disconnect:
		h.detachLocked(connID)
	default:
		h.logger.Warn("unexpected message from client", "conn_id", connID, "message", msg.String())
	}
	hook := h.onRegistered
	h.mu.Unlock()

	if registered != "" && hook != nil {
		go hook(registered)
	}
}

// register returns the recorded instance id, or "" when the request was rejected.
func (h *Hub) register(connID string, c *client, m protocol.Register) string {
	id := strings.TrimSpace(m.InstanceID)
	if id == "" || id == protocol.UnknownInstance {
		id = uuid.NewString()
		h.logger.Info("assigned instance id", "conn_id", connID, "instance_id", id)
	}

	if c.instanceID != "" {
		if c.instanceID == id {
			h.sendLocked(connID, c, protocol.Registered{InstanceID: id})
			return ""
		}
		h.logger.Warn("connection already registered", "conn_id", connID,
			"instance_id", c.instanceID, "requested", id)
		h.sendLocked(connID, c, protocol.Error{
			Code: protocol.CodeAlreadyRegistered,
			Text: "connection is registered as " + c.instanceID,
		})
		return ""
	}

	if owner, taken := h.instances[id]; taken && owner != connID {
		h.logger.Warn("duplicate instance id rejected", "conn_id", connID, "instance_id", id, "owner", owner)
		h.sendLocked(connID, c, protocol.Error{
			Code: protocol.CodeDuplicateInstance,
			Text: "instance " + id + " is already connected",
		})
		return ""
	}

	c.instanceID = id
	h.instances[id] = connID
	h.logger.Info("instance registered", "conn_id", connID, "instance_id", id)
	h.sendLocked(connID, c, protocol.Registered{InstanceID: id})
	h.observer.OnInstanceRegistered(id)
	return id
}

func (h *Hub) handleLog(connID string, c *client, m protocol.Log) {
	id := c.instanceID
	if id == "" {
		h.logger.Warn("log from unregistered connection dropped", "conn_id", connID,
			"claimed", m.InstanceID, "event", m.Event)
		return
	}
	text := m.Text()
	h.observer.OnLogEvent(id, text)

	if h.cfg.RelayLogs {
		relay := protocol.LogRelay{InstanceID: id, Text: text}
		h.broadcastLocked(relay, connID)
	}

	if m.Event == h.cfg.WagerEvent {
		h.wagerLocked(connID, c)
	}
}

// wagerLocked advances the counter and runs the payout check. On payout the
// payer receives the pre-reset value first, then every client (payer
// included) receives the baseline. If the reset cannot be queued to the
// payer the counter is left intact and the payout does not happen.
func (h *Hub) wagerLocked(connID string, c *client) {
	h.counter += h.cfg.Step
	h.stats.Wagers++

	if slot.Roll(h.cfg.Source, h.cfg.PayoutOdds) {
		won := h.counter
		h.sendLocked(connID, c, protocol.JackpotReset{Value: won})
		if _, ok := h.clients[connID]; ok {
			h.counter = h.cfg.Baseline
			h.stats.Payouts++
			h.stats.LastPayout = won
			h.logger.Info("jackpot paid", "instance_id", c.instanceID, "value", won.String())
		} else {
			h.logger.Warn("payer dropped before reset was queued, payout cancelled",
				"instance_id", c.instanceID, "value", won.String())
		}
	}

	h.broadcastLocked(protocol.JackpotUpdate{Value: h.counter}, "")
	h.observer.OnCounterChanged(h.counter)
}

func (h *Hub) handleJackpotWon(c *client, m protocol.JackpotWon) {
	h.stats.Resets++
	h.stats.LastPayout = h.counter
	h.logger.Info("jackpot won by instance", "instance_id", c.instanceID,
		"reported", m.Value.String(), "counter", h.counter.String())

	h.counter = h.cfg.Baseline
	h.broadcastLocked(protocol.JackpotUpdate{Value: h.counter}, "")
	h.observer.OnCounterChanged(h.counter)
}

// sendLocked enqueues to a single client, detaching it on failure.
func (h *Hub) sendLocked(connID string, c *client, msg protocol.Message) {
	if err := c.peer.Send(msg); err != nil {
		h.logger.Warn("send failed, dropping client", "conn_id", connID,
			"instance_id", c.instanceID, "message", msg.String(), "error", err)
		h.detachLocked(connID)
	}
}

// broadcastLocked enqueues msg to every client except skip. Clients that
// fail are removed after the iteration; the broadcast itself never aborts.
func (h *Hub) broadcastLocked(msg protocol.Message, skip string) {
	var failed []string
	for connID, c := range h.clients {
		if connID == skip {
			continue
		}
		if err := c.peer.Send(msg); err != nil {
			h.logger.Warn("broadcast failed, dropping client", "conn_id", connID,
				"instance_id", c.instanceID, "message", msg.String(), "error", err)
			failed = append(failed, connID)
		}
	}
	for _, connID := range failed {
		h.detachLocked(connID)
	}
}

// Snapshot returns the counter, stats and connected clients ordered by
// connection time.
func (h *Hub) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := Snapshot{
		Counter:    h.counter,
		Baseline:   h.cfg.Baseline,
		Step:       h.cfg.Step,
		PayoutOdds: h.cfg.PayoutOdds,
		Stats:      h.stats,
		Clients:    make([]ClientInfo, 0, len(h.clients)),
	}
	for connID, c := range h.clients {
		snap.Clients = append(snap.Clients, ClientInfo{
			ConnID:      connID,
			InstanceID:  c.instanceID,
			ConnectedAt: c.connectedAt,
		})
	}
	slices.SortFunc(snap.Clients, func(a, b ClientInfo) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ConnID, b.ConnID)
	})
	return snap
}

// Connected reports whether instanceID currently holds a registered connection.
func (h *Hub) Connected(instanceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.instances[instanceID]
	return ok
}
