package coordinator

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperModeEnv = "SLOTMESH_HELPER_MODE"

// TestHelperProcess is not a real test. The supervisor tests launch the test
// binary itself as a fake instance, selecting its behaviour through the
// environment.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv(helperModeEnv) {
	case "exit":
		os.Exit(0)
	case "ignore-interrupt":
		signal.Ignore(os.Interrupt)
		time.Sleep(time.Minute)
		os.Exit(0)
	default:
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		select {
		case <-sig:
		case <-time.After(time.Minute):
		}
		os.Exit(0)
	}
}

func newTestSupervisor(t *testing.T, mode string, obs Observer, mutate func(*SupervisorConfig)) *Supervisor {
	t.Helper()
	cfg := SupervisorConfig{
		Executable:     os.Args[0],
		Args:           []string{"-test.run=TestHelperProcess", "--"},
		Env:            []string{"GO_WANT_HELPER_PROCESS=1", helperModeEnv + "=" + mode},
		MaxInstances:   4,
		ConfirmTimeout: -1,
		StopGrace:      2 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	sup := NewSupervisor(cfg, obs, discardLogger())
	t.Cleanup(sup.Shutdown)
	return sup
}

func countEvents(events []string, want string) int {
	n := 0
	for _, e := range events {
		if e == want {
			n++
		}
	}
	return n
}

func TestSupervisorSpawnAndRemove(t *testing.T) {
	obs := &recordingObserver{}
	sup := newTestSupervisor(t, "wait", obs, nil)

	proc, err := sup.Spawn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, proc.Slot)
	assert.NotZero(t, proc.PID)
	assert.NotEmpty(t, proc.InstanceID)
	assert.False(t, proc.Confirmed)

	assert.True(t, sup.Confirm(proc.InstanceID))
	got, ok := sup.Get(proc.InstanceID)
	require.True(t, ok)
	assert.True(t, got.Confirmed)

	require.NoError(t, sup.Remove(proc.InstanceID))
	assert.Empty(t, sup.List(), "bookkeeping is dropped immediately")

	assert.ErrorIs(t, sup.Remove(proc.InstanceID), ErrNotTracked)

	// Give the exit goroutine time to observe the process ending.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, countEvents(obs.snapshot(), "removed "+proc.InstanceID))
}

func TestSupervisorPassesSceneAndID(t *testing.T) {
	sup := newTestSupervisor(t, "wait", nil, nil)

	proc, err := sup.Spawn(context.Background())
	require.NoError(t, err)

	sup.mu.Lock()
	args := sup.procs[proc.InstanceID].cmd.Args
	sup.mu.Unlock()

	require.GreaterOrEqual(t, len(args), 2)
	assert.Equal(t, []string{DefaultScene, proc.InstanceID}, args[len(args)-2:])
}

func TestSupervisorConfirmTimeoutRemovesOnce(t *testing.T) {
	obs := &recordingObserver{}
	sup := newTestSupervisor(t, "wait", obs, func(c *SupervisorConfig) {
		c.ConfirmTimeout = 100 * time.Millisecond
		c.StopGrace = 200 * time.Millisecond
	})

	proc, err := sup.Spawn(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := sup.Get(proc.InstanceID)
		return !ok
	}, 3*time.Second, 10*time.Millisecond)

	// The stopped process exits as well; that exit must not count again.
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 1, countEvents(obs.snapshot(), "removed "+proc.InstanceID))
	assert.False(t, sup.Confirm(proc.InstanceID), "confirm after timeout is ignored")
}

func TestSupervisorConfirmedSurvivesTimeout(t *testing.T) {
	sup := newTestSupervisor(t, "wait", nil, func(c *SupervisorConfig) {
		c.ConfirmTimeout = 100 * time.Millisecond
	})

	proc, err := sup.Spawn(context.Background())
	require.NoError(t, err)
	require.True(t, sup.Confirm(proc.InstanceID))

	time.Sleep(300 * time.Millisecond)
	_, ok := sup.Get(proc.InstanceID)
	assert.True(t, ok)
}

func TestSupervisorProcessExit(t *testing.T) {
	obs := &recordingObserver{}
	sup := newTestSupervisor(t, "exit", obs, nil)

	proc, err := sup.Spawn(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(sup.List()) == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return countEvents(obs.snapshot(), "removed "+proc.InstanceID) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSupervisorSpawnFailure(t *testing.T) {
	obs := &recordingObserver{}
	sup := newTestSupervisor(t, "wait", obs, func(c *SupervisorConfig) {
		c.Executable = "/nonexistent/slotmesh-instance"
		c.Args = nil
	})

	_, err := sup.Spawn(context.Background())
	assert.ErrorIs(t, err, ErrSpawnFailed)
	assert.Empty(t, sup.List())
	assert.Empty(t, obs.snapshot())
}

func TestSupervisorSpawnCancelledContext(t *testing.T) {
	sup := newTestSupervisor(t, "wait", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sup.Spawn(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSupervisorCapacityAndSlots(t *testing.T) {
	sup := newTestSupervisor(t, "wait", nil, func(c *SupervisorConfig) {
		c.MaxInstances = 2
	})

	first, err := sup.Spawn(context.Background())
	require.NoError(t, err)
	second, err := sup.Spawn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Slot)

	_, err = sup.Spawn(context.Background())
	assert.ErrorIs(t, err, ErrCapacity)

	require.NoError(t, sup.Remove(first.InstanceID))
	third, err := sup.Spawn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, third.Slot, "lowest free slot is reused")

	list := sup.List()
	require.Len(t, list, 2)
	assert.Equal(t, third.InstanceID, list[0].InstanceID)
	assert.Equal(t, second.InstanceID, list[1].InstanceID)
}

func TestSupervisorRemoveLast(t *testing.T) {
	sup := newTestSupervisor(t, "wait", nil, nil)

	_, err := sup.RemoveLast()
	assert.ErrorIs(t, err, ErrNotTracked)

	first, err := sup.Spawn(context.Background())
	require.NoError(t, err)
	second, err := sup.Spawn(context.Background())
	require.NoError(t, err)

	id, err := sup.RemoveLast()
	require.NoError(t, err)
	assert.Equal(t, second.InstanceID, id)

	list := sup.List()
	require.Len(t, list, 1)
	assert.Equal(t, first.InstanceID, list[0].InstanceID)
}

func TestSupervisorKillsAfterGrace(t *testing.T) {
	sup := newTestSupervisor(t, "ignore-interrupt", nil, func(c *SupervisorConfig) {
		c.StopGrace = 100 * time.Millisecond
	})

	proc, err := sup.Spawn(context.Background())
	require.NoError(t, err)

	sup.mu.Lock()
	exited := sup.procs[proc.InstanceID].exited
	sup.mu.Unlock()

	// Let the helper install its signal handler first.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, sup.Remove(proc.InstanceID))

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process outlived the grace period")
	}
}

func TestSupervisorShutdown(t *testing.T) {
	obs := &recordingObserver{}
	sup := newTestSupervisor(t, "ignore-interrupt", obs, nil)

	for i := 0; i < 3; i++ {
		_, err := sup.Spawn(context.Background())
		require.NoError(t, err)
	}

	sup.Shutdown()

	assert.Empty(t, sup.List())
	removed := 0
	for _, e := range obs.snapshot() {
		if strings.HasPrefix(e, "removed ") {
			removed++
		}
	}
	assert.Equal(t, 3, removed)

	_, err := sup.Spawn(context.Background())
	assert.ErrorIs(t, err, ErrSpawnFailed)
}
