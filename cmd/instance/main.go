// Package main implements the slot instance, one player-facing process that
// plays spins locally and shares a jackpot with its siblings through the
// coordinator.
//
// The instance is normally launched by the coordinator's supervisor as:
//
//	instance [flags] <scene> <instanceId>
//
// and learns the control address from SLOTMESH_CONTROL_ADDR. Run by hand
// without an id it registers as "unknown" and the coordinator assigns one.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│               Instance                  │
//	├─────────────────────────────────────────┤
//	│  Console (stdin):                       │
//	│    z / space  - spin                    │
//	│    x          - add credits             │
//	│    c          - cash out                │
//	│    j          - request jackpot value   │
//	│    q          - quit                    │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    Session    - credits, reels, mirror  │
//	│    Client     - control channel         │
//	│    console    - terminal presenter      │
//	└─────────────────────────────────────────┘
//
// Flags:
//   - -config: instance YAML file (optional)
//   - -env: dotenv file loaded first (default ".env")
//   - -autoplay: spin on an interval instead of reading stdin
//   - -debug: debug logging
//
// Example usage:
//
//	SLOTMESH_CONTROL_ADDR=127.0.0.1:12345 ./instance SlotScene player-1
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dreamware/slotmesh/internal/agent"
	"github.com/dreamware/slotmesh/internal/config"
	"github.com/dreamware/slotmesh/internal/protocol"
	"github.com/dreamware/slotmesh/internal/slot"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to instance YAML config")
		envPath    = flag.String("env", ".env", "optional dotenv file loaded before the config")
		autoplay   = flag.Duration("autoplay", 0, "spin on this interval instead of reading stdin")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	scene, id := parseArgs(flag.Args())

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.LoadInstance(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := cfg.Log.NewLogger(os.Stderr, *debug).With("scene", scene)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	con := newConsole(os.Stdout)
	a := agent.New(agentConfig(cfg, id), con, logger)

	registered, err := a.Start(ctx)
	if err != nil {
		logger.Error("could not join coordinator", "addr", cfg.ControlAddr, "error", err)
		_ = a.Close()
		os.Exit(1)
	}
	logger.Info("instance ready", "instance_id", registered)
	con.banner(registered, a.Session().Snapshot())

	if *autoplay > 0 {
		err = runAutoplay(ctx, a, *autoplay)
	} else {
		err = runConsole(ctx, a, os.Stdin, con)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("instance stopping", "error", err)
	}
	if err := a.Close(); err != nil {
		logger.Warn("close failed", "error", err)
	}
}

// parseArgs returns the scene and instance id positionals. A missing id is
// reported as "unknown" so the coordinator assigns one.
func parseArgs(args []string) (scene, id string) {
	scene, id = "SlotScene", protocol.UnknownInstance
	if len(args) > 0 && args[0] != "" {
		scene = args[0]
	}
	if len(args) > 1 && args[1] != "" {
		id = args[1]
	}
	return scene, id
}

func agentConfig(cfg *config.Instance, id string) agent.Config {
	return agent.Config{
		Session: agent.SessionConfig{
			Engine: slot.Config{
				Symbols:     cfg.Reels.Symbols,
				Wild:        cfg.Reels.Wild,
				JackpotOdds: cfg.Jackpot.Odds,
			},
			Baseline:     cfg.Jackpot.Baseline,
			Step:         cfg.Jackpot.Step,
			StartCredits: cfg.Credits.Start,
			TopUp:        cfg.Credits.TopUp,
		},
		Client: agent.ClientConfig{
			Addr:              cfg.ControlAddr,
			InstanceID:        id,
			HeartbeatInterval: cfg.HeartbeatInterval,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			SendQueue:         cfg.SendQueue,
		},
		ReadyTimeout: cfg.ReadyTimeout,
	}
}

// player is the part of *agent.Agent the input loops drive.
type player interface {
	Spin() (slot.DrawResult, error)
	AddCredits(n int) (int, error)
	CashOut() int
	RequestJackpot()
	Done() <-chan struct{}
}

var errQuit = errors.New("quit requested")

// runConsole maps single-key commands read from in to player actions until
// q, end of input, ctx cancellation or the control channel closing.
func runConsole(ctx context.Context, p player, in io.Reader, con *console) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Done():
			return errors.New("control channel closed")
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := command(p, line, con); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				return err
			}
		}
	}
}

func command(p player, line string, con *console) error {
	key := strings.ToLower(strings.TrimSpace(line))
	if key == "" {
		key = "z"
	}
	switch key[:1] {
	case "z":
		if _, err := p.Spin(); err != nil {
			con.notice(err.Error())
		}
	case "x":
		if _, err := p.AddCredits(0); err != nil {
			con.notice(err.Error())
		}
	case "c":
		con.notice(fmt.Sprintf("cashed out %d credits", p.CashOut()))
	case "j":
		p.RequestJackpot()
	case "q":
		return errQuit
	default:
		con.notice("keys: z spin, x add credits, c cash out, j jackpot, q quit")
	}
	return nil
}

// runAutoplay spins every interval, topping up whenever credits run out.
func runAutoplay(ctx context.Context, p player, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Done():
			return errors.New("control channel closed")
		case <-ticker.C:
			_, err := p.Spin()
			if errors.Is(err, agent.ErrNoCredits) {
				if _, err := p.AddCredits(0); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
		}
	}
}

// console renders agent callbacks as plain text lines. Callbacks arrive from
// the input loop and the network goroutine, so writes are serialised.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) banner(id string, snap agent.Snapshot) {
	c.printf("instance %s: %d credits, jackpot %s", id, snap.Credits, snap.Jackpot)
}

func (c *console) notice(text string) {
	c.printf("! %s", text)
}

func (c *console) OnDrawResult(res slot.DrawResult) {
	var rows [slot.Rows]string
	for row := 0; row < slot.Rows; row++ {
		cells := make([]string, slot.Reels)
		for reel := 0; reel < slot.Reels; reel++ {
			cells[reel] = fmt.Sprintf("%2d", res.Grid[reel][row])
		}
		marker := " "
		if row == slot.MiddleRow {
			marker = ">"
		}
		rows[row] = marker + " " + strings.Join(cells, " ")
	}

	outcome := "no win"
	if res.Win {
		outcome = fmt.Sprintf("win %d", res.Credits)
	}
	if res.Jackpot {
		outcome += fmt.Sprintf(", JACKPOT %d", res.JackpotCredits)
	}
	c.printf("%s\n%s\n%s\n  %s", rows[0], rows[1], rows[2], outcome)
}

func (c *console) OnCounterChanged(value protocol.Amount) {
	c.printf("jackpot %s", value)
}

func (c *console) OnLogEvent(instanceID, text string) {
	c.printf("[%s] %s", instanceID, text)
}

func (c *console) OnCreditsChanged(credits int) {
	c.printf("credits %d", credits)
}
