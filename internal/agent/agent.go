package agent

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/dreamware/slotmesh/internal/protocol"
	"github.com/dreamware/slotmesh/internal/slot"
)

// Presenter renders what the agent produces. Callbacks arrive from both the
// caller's goroutine (spins, credits) and the network receive goroutine
// (counter, relayed logs), so implementations must be safe for concurrent use.
type Presenter interface {
	OnDrawResult(res slot.DrawResult)
	OnCounterChanged(value protocol.Amount)
	OnLogEvent(instanceID, text string)
	OnCreditsChanged(credits int)
}

// Config wires a Session and a Client together.
type Config struct {
	Session      SessionConfig
	Client       ClientConfig
	ReadyTimeout time.Duration // Bound on WaitReady during Start
	Source       slot.Source   // Spin randomness; seeded PCG if nil
}

// Agent is one running instance: local gameplay plus its control channel.
type Agent struct {
	session   *Session
	client    *Client
	presenter Presenter
	logger    *slog.Logger
	timeout   time.Duration
}

// New creates an agent. Nothing touches the network until Start.
func New(cfg Config, presenter Presenter, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Source == nil {
		cfg.Source = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}

	a := &Agent{
		presenter: presenter,
		logger:    logger.With("component", "agent"),
		timeout:   cfg.ReadyTimeout,
	}
	a.client = NewClient(cfg.Client, a.handle, logger)
	a.session = NewSession(cfg.Session, cfg.Source, a.client)
	return a
}

// Start connects and waits for the registration to be acknowledged. It
// returns the instance id the coordinator recorded.
func (a *Agent) Start(ctx context.Context) (string, error) {
	if err := a.client.Dial(ctx); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.client.WaitReady(ctx)
}

// Session exposes the local game state.
func (a *Agent) Session() *Session {
	return a.session
}

// Client exposes the control channel.
func (a *Agent) Client() *Client {
	return a.client
}

// Spin plays one spin and presents its outcome.
func (a *Agent) Spin() (slot.DrawResult, error) {
	res, err := a.session.Spin()
	if err != nil {
		return res, err
	}
	a.presenter.OnDrawResult(res)
	a.presenter.OnCreditsChanged(a.session.Credits())
	if res.Jackpot {
		a.presenter.OnCounterChanged(a.session.Jackpot())
	}
	return res, nil
}

// AddCredits tops up the balance; n of 0 uses the configured top-up.
func (a *Agent) AddCredits(n int) (int, error) {
	credits, err := a.session.AddCredits(n)
	if err != nil {
		return 0, err
	}
	a.presenter.OnCreditsChanged(credits)
	return credits, nil
}

// CashOut empties the balance and returns the amount paid out.
func (a *Agent) CashOut() int {
	paid := a.session.CashOut()
	a.presenter.OnCreditsChanged(0)
	return paid
}

// RequestJackpot pulls the current counter from the coordinator.
func (a *Agent) RequestJackpot() {
	a.client.RequestJackpot()
}

// Done is closed when the control connection ends.
func (a *Agent) Done() <-chan struct{} {
	return a.client.Done()
}

// Close says goodbye to the coordinator.
func (a *Agent) Close() error {
	return a.client.Close()
}

func (a *Agent) handle(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.JackpotUpdate:
		a.session.SetJackpot(m.Value)
		a.presenter.OnCounterChanged(m.Value)
	case protocol.JackpotReset:
		won := a.session.AwardJackpot(m.Value)
		a.logger.Info("jackpot awarded", "value", m.Value.String(), "credits", won)
		a.presenter.OnLogEvent(a.client.InstanceID(), "jackpot "+m.Value.String())
		a.presenter.OnCreditsChanged(a.session.Credits())
	case protocol.LogRelay:
		a.presenter.OnLogEvent(m.InstanceID, m.Text)
	case protocol.Error:
		a.presenter.OnLogEvent("coordinator", m.Code+": "+m.Text)
	default:
		a.logger.Debug("ignored message", "message", msg.String())
	}
}
