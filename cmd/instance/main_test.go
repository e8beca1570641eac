package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/slotmesh/internal/agent"
	"github.com/dreamware/slotmesh/internal/config"
	"github.com/dreamware/slotmesh/internal/protocol"
	"github.com/dreamware/slotmesh/internal/slot"
)

type fakePlayer struct {
	mu      sync.Mutex
	calls   []string
	credits int
	topUp   int
	done    chan struct{}
}

func newFakePlayer(credits int) *fakePlayer {
	return &fakePlayer{credits: credits, topUp: 10, done: make(chan struct{})}
}

func (p *fakePlayer) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePlayer) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePlayer) Spin() (slot.DrawResult, error) {
	p.record("spin")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.credits == 0 {
		return slot.DrawResult{}, agent.ErrNoCredits
	}
	p.credits--
	return slot.DrawResult{}, nil
}

func (p *fakePlayer) AddCredits(n int) (int, error) {
	p.record("add")
	p.mu.Lock()
	defer p.mu.Unlock()
	if n == 0 {
		n = p.topUp
	}
	p.credits += n
	return p.credits, nil
}

func (p *fakePlayer) CashOut() int {
	p.record("cashout")
	p.mu.Lock()
	defer p.mu.Unlock()
	paid := p.credits
	p.credits = 0
	return paid
}

func (p *fakePlayer) RequestJackpot()       { p.record("jackpot") }
func (p *fakePlayer) Done() <-chan struct{} { return p.done }

func TestParseArgs(t *testing.T) {
	tests := []struct {
		args      []string
		wantScene string
		wantID    string
	}{
		{nil, "SlotScene", protocol.UnknownInstance},
		{[]string{"Lobby"}, "Lobby", protocol.UnknownInstance},
		{[]string{"SlotScene", "p-1"}, "SlotScene", "p-1"},
		{[]string{"", ""}, "SlotScene", protocol.UnknownInstance},
	}
	for _, tt := range tests {
		scene, id := parseArgs(tt.args)
		assert.Equal(t, tt.wantScene, scene, "args %v", tt.args)
		assert.Equal(t, tt.wantID, id, "args %v", tt.args)
	}
}

func TestAgentConfigMapsInstanceSettings(t *testing.T) {
	cfg := config.DefaultInstance()
	cfg.Reels.Symbols = 8
	cfg.Reels.Wild = 8
	cfg.Jackpot.Odds = 50
	cfg.Credits.Start = 4

	got := agentConfig(&cfg, "p-7")

	assert.Equal(t, slot.Config{Symbols: 8, Wild: 8, JackpotOdds: 50}, got.Session.Engine)
	assert.Equal(t, 4, got.Session.StartCredits)
	assert.Equal(t, protocol.Whole(300), got.Session.Baseline)
	assert.Equal(t, "p-7", got.Client.InstanceID)
	assert.Equal(t, cfg.ControlAddr, got.Client.Addr)
	assert.Equal(t, cfg.HeartbeatInterval, got.Client.HeartbeatInterval)
}

func TestRunConsoleCommands(t *testing.T) {
	p := newFakePlayer(1)
	var out bytes.Buffer
	in := strings.NewReader("z\n\nx\nJ\nc\n?\nq\nz\n")

	err := runConsole(context.Background(), p, in, newConsole(&out))
	require.NoError(t, err)

	assert.Equal(t, []string{"spin", "spin", "add", "jackpot", "cashout"}, p.Calls(), "input after q is ignored")
	assert.Contains(t, out.String(), agent.ErrNoCredits.Error())
	assert.Contains(t, out.String(), "cashed out 10 credits")
	assert.Contains(t, out.String(), "keys:")
}

func TestRunConsoleEndOfInput(t *testing.T) {
	p := newFakePlayer(5)
	err := runConsole(context.Background(), p, strings.NewReader("z\n"), newConsole(&bytes.Buffer{}))
	assert.NoError(t, err)
	assert.Equal(t, []string{"spin"}, p.Calls())
}

func TestRunConsoleStopsWhenChannelCloses(t *testing.T) {
	p := newFakePlayer(5)
	close(p.done)
	blocked := blockingReader()

	err := runConsole(context.Background(), p, blocked, newConsole(&bytes.Buffer{}))
	assert.EqualError(t, err, "control channel closed")
}

func TestRunConsoleCancelled(t *testing.T) {
	p := newFakePlayer(5)
	blocked := blockingReader()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runConsole(ctx, p, blocked, newConsole(&bytes.Buffer{}))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunAutoplayTopsUp(t *testing.T) {
	p := newFakePlayer(1)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := runAutoplay(ctx, p, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	calls := p.Calls()
	require.GreaterOrEqual(t, len(calls), 3)
	assert.Equal(t, []string{"spin", "spin", "add"}, calls[:3])
}

func TestConsoleRendering(t *testing.T) {
	var out bytes.Buffer
	con := newConsole(&out)

	con.OnDrawResult(slot.DrawResult{
		Grid:    [slot.Reels][slot.Rows]int{{1, 7, 2}, {3, 7, 4}, {5, 7, 6}},
		Middle:  [slot.Reels]int{7, 7, 7},
		Win:     true,
		Credits: 21,
	})
	con.OnCounterChanged(protocol.Amount(30042))
	con.OnLogEvent("p-2", "loss")
	con.OnCreditsChanged(3)

	text := out.String()
	assert.Contains(t, text, ">  7  7  7")
	assert.Contains(t, text, "win 21")
	assert.Contains(t, text, "jackpot 300.42")
	assert.Contains(t, text, "[p-2] loss")
	assert.Contains(t, text, "credits 3")
}

// blockingReader returns a reader that never yields data.
func blockingReader() *blockedReader {
	return &blockedReader{ch: make(chan struct{})}
}

type blockedReader struct {
	ch chan struct{}
}

func (r *blockedReader) Read([]byte) (int, error) {
	<-r.ch
	return 0, errors.New("closed")
}
