package agent

import (
	"errors"
	"strconv"
	"sync"

	"github.com/dreamware/slotmesh/internal/protocol"
	"github.com/dreamware/slotmesh/internal/slot"
)

var (
	// ErrSpinInProgress is returned when a spin is requested before the
	// previous one settled.
	ErrSpinInProgress = errors.New("spin in progress")
	// ErrNoCredits is returned when the balance cannot cover a wager.
	ErrNoCredits = errors.New("no credits")
	// ErrNotSpinning is returned by Settle without a started spin.
	ErrNotSpinning = errors.New("no spin to settle")
	// ErrInvalidTopUp is returned for a non-positive credit top-up.
	ErrInvalidTopUp = errors.New("top-up must be positive")
)

// State is the spin lifecycle of a session.
type State int

const (
	Idle State = iota
	Spinning
	Evaluating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Spinning:
		return "spinning"
	case Evaluating:
		return "evaluating"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Reporter receives the session's outbound notifications. Calls must not
// block; the network Client drops what it cannot queue.
type Reporter interface {
	Log(event, detail string)
	JackpotWon(value protocol.Amount)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Engine       slot.Config
	Baseline     protocol.Amount // Jackpot mirror start and reset value
	Step         protocol.Amount // Local mirror increment per wager
	StartCredits int             // Balance at start
	TopUp        int             // Credits added by AddCredits(0)
}

// DefaultSessionConfig mirrors the coordinator defaults and starts with one credit.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Engine:       slot.DefaultConfig(),
		Baseline:     protocol.Whole(300),
		Step:         1,
		StartCredits: 1,
		TopUp:        10,
	}
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	Credits int
	Jackpot protocol.Amount
	State   State
}

// Session owns one instance's credits, its mirror of the shared jackpot and
// the spin state machine:
//
//	Idle ──Start──▶ Spinning ──Settle──▶ Evaluating ──▶ Idle
//
// Start debits one credit, reports the wager and draws the grid. Settle
// evaluates the middle row, pays credits and rolls the local jackpot.
//
// Thread-safe: presentation and network goroutines may call concurrently.
type Session struct {
	cfg      SessionConfig
	engine   *slot.Engine
	reporter Reporter

	mu      sync.Mutex
	credits int
	jackpot protocol.Amount
	state   State
	pending slot.DrawResult
}

// NewSession creates a session drawing from src. A nil reporter discards
// notifications.
func NewSession(cfg SessionConfig, src slot.Source, reporter Reporter) *Session {
	if reporter == nil {
		reporter = nopReporter{}
	}
	if cfg.StartCredits < 0 {
		cfg.StartCredits = 0
	}
	return &Session{
		cfg:      cfg,
		engine:   slot.NewEngine(cfg.Engine, src),
		reporter: reporter,
		credits:  cfg.StartCredits,
		jackpot:  cfg.Baseline,
	}
}

// Snapshot returns the current credits, jackpot mirror and state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Credits: s.credits, Jackpot: s.jackpot, State: s.state}
}

// Credits returns the balance.
func (s *Session) Credits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credits
}

// Jackpot returns the local mirror of the shared counter.
func (s *Session) Jackpot() protocol.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jackpot
}

// Spin runs Start and Settle back to back.
func (s *Session) Spin() (slot.DrawResult, error) {
	if _, err := s.Start(); err != nil {
		return slot.DrawResult{}, err
	}
	return s.Settle()
}

// Start begins a spin. The returned result carries the grid only; Win and
// Credits are filled in by Settle.
func (s *Session) Start() (slot.DrawResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		return slot.DrawResult{}, ErrSpinInProgress
	}
	if s.credits <= 0 {
		return slot.DrawResult{}, ErrNoCredits
	}

	s.state = Spinning
	s.credits--
	s.jackpot += s.cfg.Step
	s.reporter.Log(protocol.EventWager, "1")

	res := s.engine.Spin()
	s.pending = res
	return slot.DrawResult{Grid: res.Grid, Middle: res.Middle}, nil
}

// Settle finishes the spin started by Start.
func (s *Session) Settle() (slot.DrawResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Spinning {
		return slot.DrawResult{}, ErrNotSpinning
	}
	s.state = Evaluating
	res := s.pending
	s.pending = slot.DrawResult{}

	if res.Win {
		s.credits += res.Credits
		s.reporter.Log(protocol.EventWin, strconv.Itoa(res.Credits))
	} else {
		s.reporter.Log(protocol.EventLoss, "")
	}

	if s.engine.JackpotHit() {
		won := s.jackpot
		res.Jackpot = true
		res.JackpotCredits = won.Floor()
		s.credits += res.JackpotCredits
		s.jackpot = s.cfg.Baseline
		s.reporter.Log(protocol.EventJackpot, won.String())
		s.reporter.JackpotWon(won)
	}

	s.state = Idle
	return res, nil
}

// AddCredits tops up the balance by n, or by the configured top-up when n is 0.
func (s *Session) AddCredits(n int) (int, error) {
	if n == 0 {
		n = s.cfg.TopUp
	}
	if n <= 0 {
		return 0, ErrInvalidTopUp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits += n
	s.reporter.Log(protocol.EventCredit, strconv.Itoa(n))
	return s.credits, nil
}

// CashOut zeroes the balance and returns what it held.
func (s *Session) CashOut() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	paid := s.credits
	s.credits = 0
	s.reporter.Log(protocol.EventCashOut, strconv.Itoa(paid))
	return paid
}

// SetJackpot replaces the mirror with the coordinator's value.
func (s *Session) SetJackpot(v protocol.Amount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jackpot = v
}

// AwardJackpot credits a coordinator payout of v, floored to whole credits.
// The mirror is left for the JackpotUpdate that follows.
func (s *Session) AwardJackpot(v protocol.Amount) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	won := v.Floor()
	if won < 0 {
		won = 0
	}
	s.credits += won
	s.reporter.Log(protocol.EventJackpot, v.String())
	return won
}

type nopReporter struct{}

func (nopReporter) Log(string, string)          {}
func (nopReporter) JackpotWon(protocol.Amount) {}
