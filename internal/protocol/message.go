package protocol

import "fmt"

// Tag identifies a message type on the control channel.
type Tag string

// Agent -> Coordinator.
const (
	TagRegister       Tag = "register"
	TagLog            Tag = "log"
	TagJackpotWon     Tag = "jackpot_won"
	TagRequestJackpot Tag = "request_jackpot"
	TagDisconnect     Tag = "disconnect"
)

// Coordinator -> Agent.
const (
	TagJackpotUpdate Tag = "jackpot_update"
	TagJackpotReset  Tag = "jackpot_reset"
	TagLogRelay      Tag = "log_relay"
	TagRegistered    Tag = "registered"
	TagError         Tag = "error"
)

// TagHeartbeat flows in both directions to keep read deadlines alive.
const TagHeartbeat Tag = "heartbeat"

// UnknownInstance is the identity an instance uses when it was started
// without an id argument. The coordinator assigns a real id on registration.
const UnknownInstance = "unknown"

// Event tags carried in Log messages.
const (
	EventWager   = "wager"
	EventCredit  = "credit"
	EventCashOut = "cashout"
	EventWin     = "win"
	EventLoss    = "loss"
	EventJackpot = "jackpot"
)

// Error codes carried in Error messages.
const (
	CodeDuplicateInstance = "duplicate_instance"
	CodeAlreadyRegistered = "already_registered"
	CodeBadMessage        = "bad_message"
)

// Message is implemented by every control channel message.
type Message interface {
	Tag() Tag
	String() string
}

// Register announces the instance identity on a fresh connection.
type Register struct {
	InstanceID string `msgpack:"instance_id"`
}

// Log reports one credit-affecting event. Event is one of the Event* tags;
// Detail is free text and may contain any characters, colons included.
type Log struct {
	InstanceID string `msgpack:"instance_id"`
	Event      string `msgpack:"event"`
	Detail     string `msgpack:"detail,omitempty"`
}

// JackpotWon reports that the instance's local jackpot trigger fired and
// paid out Value.
type JackpotWon struct {
	Value Amount `msgpack:"value"`
}

// RequestJackpot asks for the current shared counter.
type RequestJackpot struct{}

// Disconnect is the best-effort goodbye an instance sends before closing.
type Disconnect struct{}

// Heartbeat keeps an idle connection inside its read deadline.
type Heartbeat struct{}

// JackpotUpdate carries the shared counter after a mutation.
type JackpotUpdate struct {
	Value Amount `msgpack:"value"`
}

// JackpotReset is sent only to the payer, carrying the pre-reset value it won.
type JackpotReset struct {
	Value Amount `msgpack:"value"`
}

// LogRelay forwards another instance's log event.
type LogRelay struct {
	InstanceID string `msgpack:"instance_id"`
	Text       string `msgpack:"text"`
}

// Registered acknowledges a Register, carrying the identity the coordinator
// recorded (assigned when the instance registered as unknown).
type Registered struct {
	InstanceID string `msgpack:"instance_id"`
}

// Error reports a rejected request. The connection stays open.
type Error struct {
	Code string `msgpack:"code"`
	Text string `msgpack:"text"`
}

func (Register) Tag() Tag       { return TagRegister }
func (Log) Tag() Tag            { return TagLog }
func (JackpotWon) Tag() Tag     { return TagJackpotWon }
func (RequestJackpot) Tag() Tag { return TagRequestJackpot }
func (Disconnect) Tag() Tag     { return TagDisconnect }
func (Heartbeat) Tag() Tag      { return TagHeartbeat }
func (JackpotUpdate) Tag() Tag  { return TagJackpotUpdate }
func (JackpotReset) Tag() Tag   { return TagJackpotReset }
func (LogRelay) Tag() Tag       { return TagLogRelay }
func (Registered) Tag() Tag     { return TagRegistered }
func (Error) Tag() Tag          { return TagError }

// String methods render the colon form used in logs, e.g. "jackpot_reset:305.17".

func (m Register) String() string { return fmt.Sprintf("%s:%s", m.Tag(), m.InstanceID) }
func (m Log) String() string {
	if m.Detail == "" {
		return fmt.Sprintf("%s:%s:%s", m.Tag(), m.InstanceID, m.Event)
	}
	return fmt.Sprintf("%s:%s:%s:%s", m.Tag(), m.InstanceID, m.Event, m.Detail)
}
func (m JackpotWon) String() string     { return fmt.Sprintf("%s:%s", m.Tag(), m.Value) }
func (m RequestJackpot) String() string { return string(m.Tag()) }
func (m Disconnect) String() string     { return string(m.Tag()) }
func (m Heartbeat) String() string      { return string(m.Tag()) }
func (m JackpotUpdate) String() string  { return fmt.Sprintf("%s:%s", m.Tag(), m.Value) }
func (m JackpotReset) String() string   { return fmt.Sprintf("%s:%s", m.Tag(), m.Value) }
func (m LogRelay) String() string       { return fmt.Sprintf("%s:%s:%s", m.Tag(), m.InstanceID, m.Text) }
func (m Registered) String() string     { return fmt.Sprintf("%s:%s", m.Tag(), m.InstanceID) }
func (m Error) String() string          { return fmt.Sprintf("%s:%s:%s", m.Tag(), m.Code, m.Text) }

// Text renders the log event as relayed to other instances.
func (m Log) Text() string {
	if m.Detail == "" {
		return m.Event
	}
	return m.Event + " " + m.Detail
}

// newMessage returns a zero value for tag to decode into.
func newMessage(tag Tag) (Message, bool) {
	switch tag {
	case TagRegister:
		return &Register{}, true
	case TagLog:
		return &Log{}, true
	case TagJackpotWon:
		return &JackpotWon{}, true
	case TagRequestJackpot:
		return &RequestJackpot{}, true
	case TagDisconnect:
		return &Disconnect{}, true
	case TagHeartbeat:
		return &Heartbeat{}, true
	case TagJackpotUpdate:
		return &JackpotUpdate{}, true
	case TagJackpotReset:
		return &JackpotReset{}, true
	case TagLogRelay:
		return &LogRelay{}, true
	case TagRegistered:
		return &Registered{}, true
	case TagError:
		return &Error{}, true
	}
	return nil, false
}

// deref turns the pointer produced by newMessage back into a value so that
// callers can type-switch on value types only.
func deref(m Message) Message {
	switch v := m.(type) {
	case *Register:
		return *v
	case *Log:
		return *v
	case *JackpotWon:
		return *v
	case *RequestJackpot:
		return *v
	case *Disconnect:
		return *v
	case *Heartbeat:
		return *v
	case *JackpotUpdate:
		return *v
	case *JackpotReset:
		return *v
	case *LogRelay:
		return *v
	case *Registered:
		return *v
	case *Error:
		return *v
	}
	return m
}
