package admin

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dreamware/slotmesh/internal/protocol"
)

// Event types published on the stream.
const (
	EventCounter      = "counter"
	EventLog          = "log"
	EventRegistered   = "registered"
	EventDisconnected = "disconnected"
	EventRemoved      = "removed"
)

const (
	subscriberBuffer = 64
	writeWait        = 5 * time.Second
	pingPeriod       = 30 * time.Second
	pongWait         = pingPeriod + 10*time.Second
)

// Event is one JSON frame on the /events websocket.
type Event struct {
	Type       string           `json:"type"`
	InstanceID string           `json:"instance_id,omitempty"`
	Text       string           `json:"text,omitempty"`
	Value      *protocol.Amount `json:"value,omitempty"`
	Time       time.Time        `json:"time"`
}

type subscriber struct {
	events chan Event
	gone   chan struct{}
	once   sync.Once
}

func (s *subscriber) drop() {
	s.once.Do(func() { close(s.gone) })
}

// Stream fans coordinator callbacks out to websocket subscribers. It
// satisfies coordinator.Observer; publishing never blocks, and a subscriber
// whose buffer is full is disconnected.
type Stream struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	counter *protocol.Amount
}

// NewStream creates an empty stream.
func NewStream(logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		logger: logger.With("component", "events"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

func (s *Stream) OnCounterChanged(value protocol.Amount) {
	s.mu.Lock()
	s.counter = &value
	s.mu.Unlock()
	s.publish(Event{Type: EventCounter, Value: &value})
}

func (s *Stream) OnLogEvent(instanceID, text string) {
	s.publish(Event{Type: EventLog, InstanceID: instanceID, Text: text})
}

func (s *Stream) OnInstanceRegistered(instanceID string) {
	s.publish(Event{Type: EventRegistered, InstanceID: instanceID})
}

func (s *Stream) OnInstanceDisconnected(instanceID string) {
	s.publish(Event{Type: EventDisconnected, InstanceID: instanceID})
}

func (s *Stream) OnInstanceRemoved(instanceID string) {
	s.publish(Event{Type: EventRemoved, InstanceID: instanceID})
}

// Subscribers returns the number of connected websocket clients.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Stream) publish(ev Event) {
	ev.Time = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.events <- ev:
		default:
			s.logger.Warn("event subscriber too slow, dropping")
			delete(s.subs, sub)
			sub.drop()
		}
	}
}

func (s *Stream) subscribe(initial *protocol.Amount) *subscriber {
	sub := &subscriber{
		events: make(chan Event, subscriberBuffer),
		gone:   make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if initial == nil {
		initial = s.counter
	}
	if initial != nil {
		v := *initial
		sub.events <- Event{Type: EventCounter, Value: &v, Time: time.Now().UTC()}
	}
	s.subs[sub] = struct{}{}
	return sub
}

func (s *Stream) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
	sub.drop()
}

// serve upgrades the request and pumps events until the client goes away.
// initial, when set, is sent first so a new viewer has the current counter.
func (s *Stream) serve(w http.ResponseWriter, r *http.Request, initial *protocol.Amount) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	sub := s.subscribe(initial)
	defer s.unsubscribe(sub)
	s.logger.Debug("event subscriber connected", "remote", r.RemoteAddr)

	// The read side only handles control frames and notices the close.
	go func() {
		defer sub.drop()
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev := <-sub.events:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.gone:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-r.Context().Done():
			return
		}
	}
}

// Close disconnects every subscriber.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		delete(s.subs, sub)
		sub.drop()
	}
}
