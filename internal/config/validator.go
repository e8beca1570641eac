package config

import (
	"fmt"

	"github.com/dreamware/slotmesh/internal/protocol"
)

// Validate checks the coordinator configuration.
func (c *Coordinator) Validate() error {
	if err := protocol.CheckLoopback(c.ControlAddr); err != nil {
		return fmt.Errorf("control_addr: %w", err)
	}
	if c.AdminAddr != "" {
		if err := protocol.CheckLoopback(c.AdminAddr); err != nil {
			return fmt.Errorf("admin_addr: %w", err)
		}
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.SendQueue <= 0 {
		return fmt.Errorf("send_queue must be > 0")
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("history_size must be > 0")
	}
	if c.HistoryRetired <= 0 {
		return fmt.Errorf("history_retired must be > 0")
	}

	if c.Jackpot.Baseline < 0 {
		return fmt.Errorf("jackpot.baseline must not be negative")
	}
	if c.Jackpot.Step <= 0 {
		return fmt.Errorf("jackpot.step must be > 0")
	}
	if c.Jackpot.PayoutOdds < 0 {
		return fmt.Errorf("jackpot.payout_odds must not be negative")
	}
	if c.Jackpot.WagerEvent == "" {
		c.Jackpot.WagerEvent = protocol.EventWager
	}

	if c.Instances.Executable == "" {
		return fmt.Errorf("instances.executable is required")
	}
	if c.Instances.MaxInstances < 0 {
		return fmt.Errorf("instances.max_instances must not be negative")
	}
	if c.Instances.MaxInstances > 0 && c.Instances.Autostart > c.Instances.MaxInstances {
		return fmt.Errorf("instances.autostart (%d) exceeds max_instances (%d)",
			c.Instances.Autostart, c.Instances.MaxInstances)
	}
	if c.Instances.Autostart < 0 {
		return fmt.Errorf("instances.autostart must not be negative")
	}
	if c.Instances.HealthInterval < 0 {
		return fmt.Errorf("instances.health_interval must not be negative")
	}
	if c.Instances.HealthInterval > 0 && c.Instances.HealthFailures <= 0 {
		return fmt.Errorf("instances.health_failures must be > 0")
	}
	if c.Instances.Scene == "" {
		c.Instances.Scene = "SlotScene"
	}

	return c.Log.validate()
}

// Validate checks the instance configuration.
func (c *Instance) Validate() error {
	if err := protocol.CheckLoopback(c.ControlAddr); err != nil {
		return fmt.Errorf("control_addr: %w", err)
	}
	if c.ReadTimeout > 0 && c.HeartbeatInterval >= c.ReadTimeout {
		return fmt.Errorf("heartbeat_interval (%s) must be shorter than read_timeout (%s)",
			c.HeartbeatInterval, c.ReadTimeout)
	}
	if c.SendQueue <= 0 {
		return fmt.Errorf("send_queue must be > 0")
	}
	if c.Credits.Start < 0 {
		return fmt.Errorf("credits.start must not be negative")
	}
	if c.Credits.TopUp <= 0 {
		return fmt.Errorf("credits.top_up must be > 0")
	}
	if c.Reels.Symbols < 2 {
		return fmt.Errorf("reels.symbols must be >= 2")
	}
	if c.Reels.Wild < 1 || c.Reels.Wild > c.Reels.Symbols {
		return fmt.Errorf("reels.wild must be in 1..%d", c.Reels.Symbols)
	}
	if c.Jackpot.Step <= 0 {
		return fmt.Errorf("jackpot.step must be > 0")
	}
	if c.Jackpot.Odds < 0 {
		return fmt.Errorf("jackpot.odds must not be negative")
	}
	return c.Log.validate()
}

func (l *LogConfig) validate() error {
	if _, err := parseLevel(l.Level); err != nil {
		return err
	}
	switch l.Format {
	case "", "json", "text":
		return nil
	}
	return fmt.Errorf("log.format must be json or text, got %q", l.Format)
}
