package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Default supervisor parameters.
const (
	DefaultScene          = "SlotScene"
	DefaultConfirmTimeout = 10 * time.Second
	DefaultStopGrace      = 3 * time.Second
)

var (
	// ErrCapacity is returned by Spawn when every slot is taken.
	ErrCapacity = errors.New("instance capacity reached")
	// ErrSpawnFailed wraps the reason an executable could not be started.
	ErrSpawnFailed = errors.New("spawn failed")
	// ErrNotTracked is returned for an instance id the supervisor does not know.
	ErrNotTracked = errors.New("instance not tracked")
)

// SupervisorConfig configures how instances are launched and retired.
type SupervisorConfig struct {
	Executable     string        // Instance binary
	Args           []string      // Arguments placed before the scene and id
	Scene          string        // Scene token passed as the first instance argument
	Env            []string      // Added to the coordinator's environment
	MaxInstances   int           // Slot count; 0 means unbounded
	ConfirmTimeout time.Duration // Window for the instance to register; 0 uses the default, negative disables
	StopGrace      time.Duration // Wait after interrupt before killing
	Output         io.Writer     // Receives child stdout and stderr; nil discards
}

// TrackedProcess describes one launched instance.
type TrackedProcess struct {
	InstanceID string    `json:"instance_id"`
	Slot       int       `json:"slot"` // 1-based presentation slot
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	Confirmed  bool      `json:"confirmed"` // Registered on the control channel
}

type tracked struct {
	info    TrackedProcess
	seq     uint64
	cmd     *exec.Cmd
	exited  chan struct{}
	confirm *time.Timer
}

// Supervisor launches instance processes and owns their bookkeeping.
//
// Every tracked process leaves the table exactly once, whichever of exit,
// Remove, confirmation timeout or Shutdown gets there first, and the
// observer hears OnInstanceRemoved for that one removal only.
//
// Thread-safe: all methods are safe for concurrent access.
type Supervisor struct {
	cfg      SupervisorConfig
	observer Observer
	logger   *slog.Logger

	mu     sync.Mutex
	procs  map[string]*tracked
	seq    uint64
	closed bool
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor. Zero durations in cfg fall back to the
// defaults except ConfirmTimeout, where a negative value disables the check.
//
// Example:
//
//	sup := NewSupervisor(SupervisorConfig{Executable: "./instance", MaxInstances: 8}, observers, logger)
//	proc, err := sup.Spawn(ctx)
func NewSupervisor(cfg SupervisorConfig, observer Observer, logger *slog.Logger) *Supervisor {
	if cfg.Scene == "" {
		cfg.Scene = DefaultScene
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:      cfg,
		observer: observer,
		logger:   logger.With("component", "supervisor"),
		procs:    make(map[string]*tracked),
	}
}

// Spawn starts one instance as "<executable> <args...> <scene> <id>".
// On failure nothing is tracked.
func (s *Supervisor) Spawn(ctx context.Context) (TrackedProcess, error) {
	if err := ctx.Err(); err != nil {
		return TrackedProcess{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return TrackedProcess{}, fmt.Errorf("%w: supervisor stopped", ErrSpawnFailed)
	}
	slot, ok := s.freeSlotLocked()
	if !ok {
		return TrackedProcess{}, fmt.Errorf("%w: %d instances", ErrCapacity, s.cfg.MaxInstances)
	}

	id := uuid.NewString()
	args := append(slices.Clone(s.cfg.Args), s.cfg.Scene, id)
	cmd := exec.Command(s.cfg.Executable, args...)
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	if s.cfg.Output != nil {
		cmd.Stdout = s.cfg.Output
		cmd.Stderr = s.cfg.Output
	}

	if err := cmd.Start(); err != nil {
		s.logger.Error("instance failed to start", "instance_id", id, "executable", s.cfg.Executable, "error", err)
		return TrackedProcess{}, fmt.Errorf("%w: %s: %v", ErrSpawnFailed, s.cfg.Executable, err)
	}

	s.seq++
	t := &tracked{
		info: TrackedProcess{
			InstanceID: id,
			Slot:       slot,
			PID:        cmd.Process.Pid,
			StartedAt:  time.Now(),
		},
		seq:    s.seq,
		cmd:    cmd,
		exited: make(chan struct{}),
	}
	s.procs[id] = t

	if s.cfg.ConfirmTimeout > 0 {
		t.confirm = time.AfterFunc(s.cfg.ConfirmTimeout, func() {
			s.confirmExpired(id)
		})
	}

	s.wg.Add(1)
	go s.wait(t)

	s.logger.Info("instance spawned", "instance_id", id, "slot", slot, "pid", t.info.PID)
	return t.info, nil
}

// freeSlotLocked returns the lowest unused 1-based slot.
func (s *Supervisor) freeSlotLocked() (int, bool) {
	used := make([]int, 0, len(s.procs))
	for _, t := range s.procs {
		used = append(used, t.info.Slot)
	}
	slices.Sort(used)

	slot := 1
	for _, u := range used {
		if u == slot {
			slot++
		} else if u > slot {
			break
		}
	}
	if s.cfg.MaxInstances > 0 && slot > s.cfg.MaxInstances {
		return 0, false
	}
	return slot, true
}

func (s *Supervisor) wait(t *tracked) {
	defer s.wg.Done()
	err := t.cmd.Wait()
	close(t.exited)

	id := t.info.InstanceID
	if s.removeIf(id, t, nil) {
		s.logger.Info("instance exited", "instance_id", id, "error", err)
		s.observer.OnInstanceRemoved(id)
	}
}

func (s *Supervisor) confirmExpired(id string) {
	s.mu.Lock()
	t, ok := s.procs[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	unconfirmed := func(t *tracked) bool { return !t.info.Confirmed }
	if !s.removeIf(id, t, unconfirmed) {
		return
	}
	s.logger.Warn("instance did not register in time, removing",
		"instance_id", id, "timeout", s.cfg.ConfirmTimeout)
	s.observer.OnInstanceRemoved(id)
	s.stop(t)
}

// removeIf deletes id from the table when it still maps to t and cond holds.
// It reports whether this call performed the removal.
func (s *Supervisor) removeIf(id string, t *tracked, cond func(*tracked) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.procs[id]
	if !ok || cur != t {
		return false
	}
	if cond != nil && !cond(cur) {
		return false
	}
	delete(s.procs, id)
	if cur.confirm != nil {
		cur.confirm.Stop()
	}
	return true
}

// Confirm marks an instance as registered, cancelling its confirmation
// timeout. Unknown ids are ignored, which covers instances started outside
// the supervisor.
func (s *Supervisor) Confirm(instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.procs[instanceID]
	if !ok {
		return false
	}
	if !t.info.Confirmed {
		t.info.Confirmed = true
		if t.confirm != nil {
			t.confirm.Stop()
		}
		s.logger.Info("instance confirmed", "instance_id", instanceID)
	}
	return true
}

// Remove retires an instance. The bookkeeping is dropped immediately and the
// process is stopped in the background: interrupt, then kill after StopGrace.
func (s *Supervisor) Remove(instanceID string) error {
	s.mu.Lock()
	t, ok := s.procs[instanceID]
	s.mu.Unlock()
	if !ok || !s.removeIf(instanceID, t, nil) {
		return fmt.Errorf("%w: %s", ErrNotTracked, instanceID)
	}

	s.logger.Info("removing instance", "instance_id", instanceID, "pid", t.info.PID)
	s.observer.OnInstanceRemoved(instanceID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.stop(t)
	}()
	return nil
}

// RemoveLast retires the most recently spawned instance and returns its id.
func (s *Supervisor) RemoveLast() (string, error) {
	s.mu.Lock()
	var last *tracked
	for _, t := range s.procs {
		if last == nil || t.seq > last.seq {
			last = t
		}
	}
	s.mu.Unlock()

	if last == nil {
		return "", fmt.Errorf("%w: no instances", ErrNotTracked)
	}
	id := last.info.InstanceID
	return id, s.Remove(id)
}

// stop interrupts the process and kills it if it outlives the grace period.
func (s *Supervisor) stop(t *tracked) {
	proc := t.cmd.Process
	if err := proc.Signal(os.Interrupt); err != nil {
		_ = proc.Kill()
		return
	}
	select {
	case <-t.exited:
	case <-time.After(s.cfg.StopGrace):
		s.logger.Warn("instance ignored interrupt, killing", "instance_id", t.info.InstanceID)
		_ = proc.Kill()
	}
}

// Get returns a copy of one tracked process.
func (s *Supervisor) Get(instanceID string) (TrackedProcess, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.procs[instanceID]
	if !ok {
		return TrackedProcess{}, false
	}
	return t.info, true
}

// List returns copies of every tracked process ordered by slot.
func (s *Supervisor) List() []TrackedProcess {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TrackedProcess, 0, len(s.procs))
	for _, t := range s.procs {
		out = append(out, t.info)
	}
	slices.SortFunc(out, func(a, b TrackedProcess) int { return a.Slot - b.Slot })
	return out
}

// Shutdown kills every tracked child and waits for the exit goroutines.
// Spawn fails afterwards.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.closed = true
	procs := make([]*tracked, 0, len(s.procs))
	for id, t := range s.procs {
		procs = append(procs, t)
		delete(s.procs, id)
		if t.confirm != nil {
			t.confirm.Stop()
		}
	}
	s.mu.Unlock()

	for _, t := range procs {
		s.logger.Info("killing instance", "instance_id", t.info.InstanceID, "pid", t.info.PID)
		_ = t.cmd.Process.Kill()
		s.observer.OnInstanceRemoved(t.info.InstanceID)
	}
	s.wg.Wait()
}
