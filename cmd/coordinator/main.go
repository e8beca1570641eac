package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/slotmesh/internal/admin"
	"github.com/dreamware/slotmesh/internal/config"
	"github.com/dreamware/slotmesh/internal/coordinator"
	"github.com/dreamware/slotmesh/internal/eventlog"
	"github.com/dreamware/slotmesh/internal/protocol"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to coordinator YAML config")
		envPath    = flag.String("env", ".env", "optional dotenv file loaded before the config")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.LoadCoordinator(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := cfg.Log.NewLogger(os.Stdout, *debug)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var output io.Writer
	if cfg.Instances.ForwardOutput {
		output = os.Stderr
	}

	a, err := newApp(cfg, logger, output)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	if err := a.run(ctx); err != nil {
		logger.Error("coordinator failed", "error", err)
		os.Exit(1)
	}
	logger.Info("coordinator stopped")
}

// app is one wired coordinator: control channel, supervisor and admin API.
type app struct {
	cfg     *config.Coordinator
	logger  *slog.Logger
	history *eventlog.MemoryStore
	stream  *admin.Stream
	hub     *coordinator.Hub
	server  *coordinator.Server
	sup     *coordinator.Supervisor
	health  *coordinator.HealthMonitor // nil when liveness checks are disabled
	api     *admin.API
	adminLn net.Listener // nil when the admin API is disabled
}

// newApp builds every component and binds both listeners. Instances learn
// the control address through the environment, so the supervisor is created
// after the control listener so an ephemeral port is known.
func newApp(cfg *config.Coordinator, logger *slog.Logger, output io.Writer) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		history: eventlog.NewMemoryStore(cfg.HistorySize),
		stream:  admin.NewStream(logger),
	}
	a.history.SetMaxRetired(cfg.HistoryRetired)
	observers := coordinator.Observers{eventlog.NewRecorder(a.history), a.stream}

	a.hub = coordinator.NewHub(coordinator.HubConfig{
		Baseline:   cfg.Jackpot.Baseline,
		Step:       cfg.Jackpot.Step,
		PayoutOdds: cfg.Jackpot.PayoutOdds,
		WagerEvent: cfg.Jackpot.WagerEvent,
		RelayLogs:  cfg.Jackpot.RelayLogs,
	}, observers, logger)

	a.server = coordinator.NewServer(coordinator.ServerConfig{
		Addr:         cfg.ControlAddr,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		SendQueue:    cfg.SendQueue,
	}, a.hub, logger)
	if err := a.server.Listen(); err != nil {
		return nil, err
	}

	a.sup = coordinator.NewSupervisor(coordinator.SupervisorConfig{
		Executable:     cfg.Instances.Executable,
		Args:           cfg.Instances.Args,
		Scene:          cfg.Instances.Scene,
		Env:            []string{config.EnvControlAddr + "=" + a.server.Addr()},
		MaxInstances:   cfg.Instances.MaxInstances,
		ConfirmTimeout: cfg.Instances.ConfirmTimeout,
		StopGrace:      cfg.Instances.StopGrace,
		Output:         output,
	}, observers, logger)
	a.hub.SetOnRegistered(func(id string) { a.sup.Confirm(id) })

	a.api = admin.NewAPI(a.hub, a.sup, a.history, a.stream, logger)
	if cfg.Instances.HealthInterval > 0 {
		a.health = coordinator.NewHealthMonitor(cfg.Instances.HealthInterval,
			cfg.Instances.HealthFailures, coordinator.ConnectedCheck(a.hub), logger)
		a.health.SetOnUnhealthy(func(id string) {
			if err := a.sup.Remove(id); err != nil && !errors.Is(err, coordinator.ErrNotTracked) {
				a.logger.Warn("retire unhealthy instance", "instance_id", id, "error", err)
			}
		})
		a.api.SetHealth(a.health)
	}
	if cfg.AdminAddr != "" {
		if err := protocol.CheckLoopback(cfg.AdminAddr); err != nil {
			a.server.Shutdown()
			return nil, err
		}
		ln, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			a.server.Shutdown()
			return nil, fmt.Errorf("admin listen %s: %w", cfg.AdminAddr, err)
		}
		a.adminLn = ln
	}
	return a, nil
}

// run spawns the autostart instances and serves until ctx is cancelled.
// Shutdown closes the control channel first, then retires every instance,
// then stops the admin API so the final removals still reach subscribers.
func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	adminCtx, cancelAdmin := context.WithCancel(context.Background())
	defer cancelAdmin()

	g.Go(func() error {
		return a.server.Serve(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		a.server.Shutdown()
		a.sup.Shutdown()
		cancelAdmin()
		return nil
	})
	if a.health != nil {
		g.Go(func() error {
			a.health.Start(ctx, coordinator.ConfirmedIDs(a.sup))
			return nil
		})
	}
	if a.adminLn != nil {
		g.Go(func() error {
			return a.api.Serve(adminCtx, a.adminLn)
		})
		a.logger.Info("admin api listening", "addr", a.adminLn.Addr().String())
	}

	a.logger.Info("coordinator started",
		"control_addr", a.server.Addr(),
		"baseline", a.cfg.Jackpot.Baseline.String(),
		"payout_odds", a.cfg.Jackpot.PayoutOdds,
	)

	for i := 0; i < a.cfg.Instances.Autostart; i++ {
		if _, err := a.sup.Spawn(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			a.logger.Error("autostart spawn failed", "index", i, "error", err)
		}
	}

	return g.Wait()
}

// adminAddr returns the bound admin address, or "" when disabled.
func (a *app) adminAddr() string {
	if a.adminLn == nil {
		return ""
	}
	return a.adminLn.Addr().String()
}
