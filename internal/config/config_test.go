package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/slotmesh/internal/protocol"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCoordinatorDefaults(t *testing.T) {
	cfg, err := LoadCoordinator("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:12345", cfg.ControlAddr)
	assert.Equal(t, protocol.Amount(30000), cfg.Jackpot.Baseline)
	assert.Equal(t, protocol.Amount(1), cfg.Jackpot.Step)
	assert.Equal(t, 200, cfg.Jackpot.PayoutOdds)
	assert.True(t, cfg.Jackpot.RelayLogs)
	assert.Equal(t, 10*time.Second, cfg.Instances.ConfirmTimeout)
	assert.Equal(t, "SlotScene", cfg.Instances.Scene)
	assert.Equal(t, 5*time.Second, cfg.Instances.HealthInterval)
	assert.Equal(t, 3, cfg.Instances.HealthFailures)
	assert.Equal(t, 32, cfg.HistoryRetired)
}

func TestLoadCoordinatorFile(t *testing.T) {
	path := writeFile(t, "coordinator.yaml", `
control_addr: 127.0.0.1:23456
admin_addr: ""
read_timeout: 45s
jackpot:
  baseline: 500
  step: 0.05
  payout_odds: 50
instances:
  executable: /opt/slot/instance
  args: ["-config", "instance.yaml"]
  max_instances: 3
  autostart: 2
  confirm_timeout: 2s
`)

	cfg, err := LoadCoordinator(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:23456", cfg.ControlAddr)
	assert.Empty(t, cfg.AdminAddr)
	assert.Equal(t, 45*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "500.00", cfg.Jackpot.Baseline.String())
	assert.Equal(t, protocol.Amount(5), cfg.Jackpot.Step)
	assert.Equal(t, 50, cfg.Jackpot.PayoutOdds)
	assert.Equal(t, []string{"-config", "instance.yaml"}, cfg.Instances.Args)
	assert.Equal(t, 2*time.Second, cfg.Instances.ConfirmTimeout)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Equal(t, protocol.EventWager, cfg.Jackpot.WagerEvent)
	assert.True(t, cfg.Jackpot.RelayLogs)
}

func TestLoadCoordinatorEnvOverrides(t *testing.T) {
	t.Setenv(EnvControlAddr, "localhost:3000")
	t.Setenv(EnvAdminAddr, "127.0.0.1:3001")
	t.Setenv(EnvExecutable, "/usr/local/bin/instance")
	t.Setenv(EnvPayoutOdds, "7")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := LoadCoordinator("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:3000", cfg.ControlAddr)
	assert.Equal(t, "127.0.0.1:3001", cfg.AdminAddr)
	assert.Equal(t, "/usr/local/bin/instance", cfg.Instances.Executable)
	assert.Equal(t, 7, cfg.Jackpot.PayoutOdds)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadCoordinatorErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "non-loopback control address",
			yaml:    "control_addr: 0.0.0.0:12345\n",
			wantErr: "control_addr",
		},
		{
			name:    "non-loopback admin address",
			yaml:    "admin_addr: 10.0.0.1:8080\n",
			wantErr: "admin_addr",
		},
		{
			name:    "three decimal step",
			yaml:    "jackpot:\n  step: 0.001\n",
			wantErr: "failed to parse config",
		},
		{
			name:    "zero step",
			yaml:    "jackpot:\n  step: 0\n",
			wantErr: "jackpot.step",
		},
		{
			name:    "negative odds",
			yaml:    "jackpot:\n  payout_odds: -1\n",
			wantErr: "payout_odds",
		},
		{
			name:    "autostart above capacity",
			yaml:    "instances:\n  max_instances: 2\n  autostart: 3\n",
			wantErr: "autostart",
		},
		{
			name:    "health checks without a threshold",
			yaml:    "instances:\n  health_interval: 1s\n  health_failures: 0\n",
			wantErr: "health_failures",
		},
		{
			name:    "no retained history for removed instances",
			yaml:    "history_retired: 0\n",
			wantErr: "history_retired",
		},
		{
			name:    "bad log format",
			yaml:    "log:\n  format: xml\n",
			wantErr: "log.format",
		},
		{
			name:    "bad odds in environment",
			env:     map[string]string{EnvPayoutOdds: "often"},
			wantErr: EnvPayoutOdds,
		},
		{
			name:    "malformed yaml",
			yaml:    "control_addr: [\n",
			wantErr: "failed to parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = writeFile(t, "coordinator.yaml", tt.yaml)
			}

			_, err := LoadCoordinator(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadCoordinatorMissingFile(t *testing.T) {
	_, err := LoadCoordinator(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadInstance(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadInstance("")
		require.NoError(t, err)
		assert.Equal(t, 1, cfg.Credits.Start)
		assert.Equal(t, 10, cfg.Credits.TopUp)
		assert.Equal(t, 10, cfg.Reels.Wild)
		assert.Zero(t, cfg.Jackpot.Odds, "coordinator decides payouts by default")
	})

	t.Run("file and env", func(t *testing.T) {
		t.Setenv(EnvJackpotOdds, "200")
		path := writeFile(t, "instance.yaml", `
control_addr: 127.0.0.1:4000
heartbeat_interval: 2s
read_timeout: 6s
credits:
  start: 5
reels:
  symbols: 8
  wild: 8
`)
		cfg, err := LoadInstance(path)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:4000", cfg.ControlAddr)
		assert.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
		assert.Equal(t, 5, cfg.Credits.Start)
		assert.Equal(t, 8, cfg.Reels.Symbols)
		assert.Equal(t, 200, cfg.Jackpot.Odds)
	})

	t.Run("heartbeat must beat the read deadline", func(t *testing.T) {
		path := writeFile(t, "instance.yaml", "heartbeat_interval: 30s\nread_timeout: 30s\n")
		_, err := LoadInstance(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "heartbeat_interval")
	})

	t.Run("wild outside reel", func(t *testing.T) {
		path := writeFile(t, "instance.yaml", "reels:\n  symbols: 5\n  wild: 6\n")
		_, err := LoadInstance(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reels.wild")
	})
}

func TestLoadDotEnv(t *testing.T) {
	const key = "SLOTMESH_TEST_DOTENV"
	path := writeFile(t, ".env", key+"=from-file\n")

	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv(key))

	t.Setenv(key, "from-env")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv(key), "existing variables win")

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
	assert.NoError(t, LoadDotEnv(""))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	LogConfig{Level: "warn", Format: "text"}.NewLogger(&buf, false).Info("hidden")
	assert.Empty(t, buf.String())

	LogConfig{Level: "warn", Format: "text"}.NewLogger(&buf, true).Debug("shown", "k", "v")
	assert.Contains(t, buf.String(), "k=v")

	buf.Reset()
	LogConfig{Format: "json"}.NewLogger(&buf, false).Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
}
