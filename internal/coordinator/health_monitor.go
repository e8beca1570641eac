package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Health states reported by the monitor.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// DefaultMaxFailures is how many consecutive failed checks mark an instance unhealthy.
const DefaultMaxFailures = 3

// ErrNotConnected is returned by ConnectedCheck for an instance without a
// registered control connection.
var ErrNotConnected = errors.New("instance has no control connection")

// InstanceHealth tracks the liveness of one supervised instance.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type InstanceHealth struct {
	LastCheck        time.Time `json:"last_check"`   // Timestamp of the last check
	LastHealthy      time.Time `json:"last_healthy"` // Timestamp of the last passing check
	InstanceID       string    `json:"instance_id"`
	Status           string    `json:"status"` // unknown, healthy or unhealthy
	ConsecutiveFails int       `json:"consecutive_fails"`
}

// HealthMonitor periodically checks that every confirmed instance still
// holds a control connection. A process whose connection has been gone for
// maxFailures consecutive checks is reported through the unhealthy callback,
// which the coordinator uses to retire it.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	instances   map[string]*InstanceHealth
	checkFunc   func(instanceID string) error
	onUnhealthy func(instanceID string)
	logger      *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor that runs check every interval.
//
// Parameters:
//   - interval: How often to check every instance
//   - maxFailures: Consecutive failures before an instance is unhealthy; <= 0 uses DefaultMaxFailures
//   - check: Returns nil while the instance is alive
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, 3, ConnectedCheck(hub), logger)
//	monitor.SetOnUnhealthy(func(id string) { _ = sup.Remove(id) })
//	go monitor.Start(ctx, confirmedIDs)
func NewHealthMonitor(interval time.Duration, maxFailures int, check func(instanceID string) error, logger *slog.Logger) *HealthMonitor {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		maxFailures: maxFailures,
		checkFunc:   check,
		instances:   make(map[string]*InstanceHealth),
		logger:      logger.With("component", "health"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ConnectedCheck reports an instance healthy while hub holds a registered
// connection for it.
func ConnectedCheck(hub *Hub) func(instanceID string) error {
	return func(instanceID string) error {
		if !hub.Connected(instanceID) {
			return ErrNotConnected
		}
		return nil
	}
}

// SetOnUnhealthy sets the callback invoked once when an instance crosses
// the failure threshold. It runs on its own goroutine.
func (h *HealthMonitor) SetOnUnhealthy(callback func(instanceID string)) {
	h.mu.Lock()
	h.onUnhealthy = callback
	h.mu.Unlock()
}

// Start checks the instances returned by provider every interval until ctx
// is cancelled or Stop is called. It blocks.
//
// Parameters:
//   - ctx: Context for cancellation
//   - provider: Returns the ids currently eligible for checking
func (h *HealthMonitor) Start(ctx context.Context, provider func() []string) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Debug("health monitor started", "interval", h.interval)

	h.checkAll(provider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(provider())
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop cancels Start and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// checkAll checks ids and forgets instances no longer provided.
func (h *HealthMonitor) checkAll(ids []string) {
	current := make(map[string]bool, len(ids))
	for _, id := range ids {
		current[id] = true
		h.check(id)
	}

	h.mu.Lock()
	for id := range h.instances {
		if !current[id] {
			delete(h.instances, id)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) check(id string) {
	h.mu.Lock()
	health, exists := h.instances[id]
	if !exists {
		now := time.Now()
		health = &InstanceHealth{
			InstanceID:  id,
			Status:      StatusUnknown,
			LastCheck:   now,
			LastHealthy: now,
		}
		h.instances[id] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(id)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err == nil {
		if health.Status == StatusUnhealthy {
			h.logger.Info("instance recovered", "instance_id", id)
		}
		health.Status = StatusHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = health.LastCheck
		return
	}

	health.ConsecutiveFails++
	h.logger.Debug("health check failed", "instance_id", id,
		"attempt", health.ConsecutiveFails, "max", h.maxFailures, "error", err)

	if health.ConsecutiveFails < h.maxFailures || health.Status == StatusUnhealthy {
		return
	}
	health.Status = StatusUnhealthy
	h.logger.Warn("instance unhealthy", "instance_id", id, "failures", health.ConsecutiveFails)
	if h.onUnhealthy != nil {
		go h.onUnhealthy(id)
	}
}

// GetInstanceHealth returns a copy of one instance's record, or nil if it
// is not monitored.
func (h *HealthMonitor) GetInstanceHealth(instanceID string) *InstanceHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.instances[instanceID]
	if !exists {
		return nil
	}
	cp := *health
	return &cp
}

// GetAllInstanceHealth returns copies of every record keyed by instance id.
func (h *HealthMonitor) GetAllInstanceHealth() map[string]*InstanceHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*InstanceHealth, len(h.instances))
	for id, health := range h.instances {
		cp := *health
		result[id] = &cp
	}
	return result
}

// IsHealthy reports whether the instance passed its latest check.
func (h *HealthMonitor) IsHealthy(instanceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.instances[instanceID]
	return exists && health.Status == StatusHealthy
}

// ConfirmedIDs lists the supervised instances that have registered at least
// once, the set worth health checking.
func ConfirmedIDs(sup *Supervisor) func() []string {
	return func() []string {
		var ids []string
		for _, p := range sup.List() {
			if p.Confirmed {
				ids = append(ids, p.InstanceID)
			}
		}
		return ids
	}
}
