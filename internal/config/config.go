package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/slotmesh/internal/protocol"
)

// Environment variables that override file settings.
const (
	EnvControlAddr = "SLOTMESH_CONTROL_ADDR"
	EnvAdminAddr   = "SLOTMESH_ADMIN_ADDR"
	EnvExecutable  = "SLOTMESH_EXECUTABLE"
	EnvPayoutOdds  = "SLOTMESH_PAYOUT_ODDS"
	EnvJackpotOdds = "SLOTMESH_JACKPOT_ODDS"
	EnvLogLevel    = "SLOTMESH_LOG_LEVEL"
)

// DefaultControlAddr is the loopback endpoint every instance connects to.
const DefaultControlAddr = "127.0.0.1:12345"

// Coordinator is the coordinator binary configuration.
type Coordinator struct {
	ControlAddr    string          `yaml:"control_addr"`
	AdminAddr      string          `yaml:"admin_addr"` // Empty disables the admin API
	ReadTimeout    time.Duration   `yaml:"read_timeout"`
	WriteTimeout   time.Duration   `yaml:"write_timeout"`
	SendQueue      int             `yaml:"send_queue"`
	HistorySize    int             `yaml:"history_size"`
	HistoryRetired int             `yaml:"history_retired"` // Removed instances whose history is kept
	Jackpot        JackpotConfig   `yaml:"jackpot"`
	Instances      InstancesConfig `yaml:"instances"`
	Log            LogConfig       `yaml:"log"`
}

// JackpotConfig contains shared counter settings.
type JackpotConfig struct {
	Baseline   protocol.Amount `yaml:"baseline"`
	Step       protocol.Amount `yaml:"step"`
	PayoutOdds int             `yaml:"payout_odds"` // 1-in-N per wager; 0 disables
	WagerEvent string          `yaml:"wager_event"`
	RelayLogs  bool            `yaml:"relay_logs"`
}

// InstancesConfig contains process supervision settings.
type InstancesConfig struct {
	Executable     string        `yaml:"executable"`
	Args           []string      `yaml:"args"`
	Scene          string        `yaml:"scene"`
	MaxInstances   int           `yaml:"max_instances"`
	Autostart      int           `yaml:"autostart"` // Instances spawned at startup
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	StopGrace      time.Duration `yaml:"stop_grace"`
	ForwardOutput  bool          `yaml:"forward_output"`  // Copy child output to the coordinator's stderr
	HealthInterval time.Duration `yaml:"health_interval"` // Connection liveness check period; 0 disables
	HealthFailures int           `yaml:"health_failures"` // Failed checks before an instance is retired
}

// Instance is the instance binary configuration.
type Instance struct {
	ControlAddr       string        `yaml:"control_addr"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ReadyTimeout      time.Duration `yaml:"ready_timeout"`
	SendQueue         int           `yaml:"send_queue"`
	Credits           CreditsConfig `yaml:"credits"`
	Reels             ReelsConfig   `yaml:"reels"`
	Jackpot           MirrorConfig  `yaml:"jackpot"`
	Log               LogConfig     `yaml:"log"`
}

// CreditsConfig contains the local balance settings.
type CreditsConfig struct {
	Start int `yaml:"start"`
	TopUp int `yaml:"top_up"`
}

// ReelsConfig contains the spin engine settings.
type ReelsConfig struct {
	Symbols int `yaml:"symbols"`
	Wild    int `yaml:"wild"`
}

// MirrorConfig contains the instance's view of the shared counter.
type MirrorConfig struct {
	Baseline protocol.Amount `yaml:"baseline"`
	Step     protocol.Amount `yaml:"step"`
	Odds     int             `yaml:"odds"` // Local trigger, 1-in-N per spin; 0 leaves payouts to the coordinator
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultCoordinator returns the built-in coordinator settings.
func DefaultCoordinator() Coordinator {
	return Coordinator{
		ControlAddr:    DefaultControlAddr,
		AdminAddr:      "127.0.0.1:8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Second,
		SendQueue:      64,
		HistorySize:    200,
		HistoryRetired: 32,
		Jackpot: JackpotConfig{
			Baseline:   protocol.Whole(300),
			Step:       1,
			PayoutOdds: 200,
			WagerEvent: protocol.EventWager,
			RelayLogs:  true,
		},
		Instances: InstancesConfig{
			Executable:     "./instance",
			Scene:          "SlotScene",
			MaxInstances:   8,
			ConfirmTimeout: 10 * time.Second,
			StopGrace:      3 * time.Second,
			HealthInterval: 5 * time.Second,
			HealthFailures: 3,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// DefaultInstance returns the built-in instance settings.
func DefaultInstance() Instance {
	return Instance{
		ControlAddr:       DefaultControlAddr,
		HeartbeatInterval: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReadyTimeout:      5 * time.Second,
		SendQueue:         64,
		Credits:           CreditsConfig{Start: 1, TopUp: 10},
		Reels:             ReelsConfig{Symbols: 10, Wild: 10},
		Jackpot: MirrorConfig{
			Baseline: protocol.Whole(300),
			Step:     1,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadDotEnv loads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadCoordinator reads path over the defaults, applies environment
// overrides and validates the result. An empty path uses defaults only.
func LoadCoordinator(path string) (*Coordinator, error) {
	cfg := DefaultCoordinator()
	if err := readYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadInstance reads path over the defaults, applies environment overrides
// and validates the result. An empty path uses defaults only.
func LoadInstance(path string) (*Instance, error) {
	cfg := DefaultInstance()
	if err := readYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func readYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Coordinator) applyEnv() error {
	c.ControlAddr = getenv(EnvControlAddr, c.ControlAddr)
	c.AdminAddr = getenv(EnvAdminAddr, c.AdminAddr)
	c.Instances.Executable = getenv(EnvExecutable, c.Instances.Executable)
	c.Log.Level = getenv(EnvLogLevel, c.Log.Level)

	odds, err := getenvInt(EnvPayoutOdds, c.Jackpot.PayoutOdds)
	if err != nil {
		return err
	}
	c.Jackpot.PayoutOdds = odds
	return nil
}

func (c *Instance) applyEnv() error {
	c.ControlAddr = getenv(EnvControlAddr, c.ControlAddr)
	c.Log.Level = getenv(EnvLogLevel, c.Log.Level)

	odds, err := getenvInt(EnvJackpotOdds, c.Jackpot.Odds)
	if err != nil {
		return err
	}
	c.Jackpot.Odds = odds
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}
