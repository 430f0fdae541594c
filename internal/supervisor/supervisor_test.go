package supervisor

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/logger"
)

func testBackendConfig() config.Backend {
	return config.Backend{
		Port:             59321,
		AutoRestart:      true,
		StartupTimeout:   2 * time.Second,
		StartupInterval:  20 * time.Millisecond,
		HealthInterval:   20 * time.Millisecond,
		HealthTimeout:    50 * time.Millisecond,
		FailureThreshold: 3,
		StopGrace:        time.Second,
		RestartDelay:     20 * time.Millisecond,
	}
}

// testSupervisor wires a Supervisor with fake seams: spawns counts launches
// and runs a harmless real process, resolution always succeeds, the port is
// free, and the probe is controlled by each test.
func testSupervisor(t *testing.T, cfg config.Backend, spawnCmd func() *exec.Cmd) (*Supervisor, *atomic.Int32) {
	t.Helper()
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(t.TempDir(), cfg, logger.Config{}, lg, nil)
	spawns := &atomic.Int32{}
	s.resolve = func() (string, string, error) { return "/bin/echo", "server.py", nil }
	s.portFree = func(int) bool { return true }
	s.killPort = func(int) error { return nil }
	s.launch = func(_, _ string) (*exec.Cmd, error) {
		spawns.Add(1)
		cmd := spawnCmd()
		cmd.SysProcAttr = sysProcAttr()
		return cmd, nil
	}
	t.Cleanup(s.Stop)
	return s, spawns
}

// ownedProbe reports healthy exactly while the supervisor owns a live
// process, so the adoption probe fails and startup polling succeeds.
func ownedProbe(s *Supervisor) func(time.Duration) bool {
	return func(time.Duration) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.cmd != nil
	}
}

func sleepCmd() *exec.Cmd { return exec.Command("sleep", "300") }

func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}

func TestStartSpawnsAndBecomesHealthy(t *testing.T) {
	s, spawns := testSupervisor(t, testBackendConfig(), sleepCmd)
	s.probe = ownedProbe(s)

	require.NoError(t, s.Start(context.Background()))
	st := s.Status()
	assert.True(t, st.Running)
	assert.Equal(t, HealthHealthy, st.Health)
	assert.Equal(t, 59321, st.Port)
	assert.Greater(t, st.PID, 0)
	assert.False(t, st.External)
	assert.Equal(t, int32(1), spawns.Load())
}

func TestStartIsIdempotent(t *testing.T) {
	s, spawns := testSupervisor(t, testBackendConfig(), sleepCmd)
	s.probe = ownedProbe(s)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, int32(1), spawns.Load(), "second start must not spawn")
}

func TestStartAdoptsExternalBackend(t *testing.T) {
	s, spawns := testSupervisor(t, testBackendConfig(), sleepCmd)
	s.probe = func(time.Duration) bool { return true }

	require.NoError(t, s.Start(context.Background()))
	st := s.Status()
	assert.True(t, st.Running)
	assert.True(t, st.External)
	assert.Zero(t, st.PID, "adopted backend never reports a PID")
	assert.Equal(t, HealthHealthy, st.Health)
	assert.True(t, st.LastProbeOK)
	assert.Equal(t, int32(0), spawns.Load(), "adoption must not invoke the spawn path")
}

func TestStopExternalOnlyDisconnects(t *testing.T) {
	s, spawns := testSupervisor(t, testBackendConfig(), sleepCmd)
	s.probe = func(time.Duration) bool { return true }
	require.NoError(t, s.Start(context.Background()))

	s.Stop()
	st := s.Status()
	assert.False(t, st.Running)
	assert.False(t, st.External)
	assert.Equal(t, HealthStopped, st.Health)
	assert.Equal(t, int32(0), spawns.Load())
	s.mu.Lock()
	assert.Nil(t, s.loopCancel, "health loop must be cancelled by stop")
	s.mu.Unlock()
}

func TestStartupTimeoutIsFatalAndSurfacesLogs(t *testing.T) {
	cfg := testBackendConfig()
	cfg.StartupTimeout = 150 * time.Millisecond
	s, spawns := testSupervisor(t, cfg, sleepCmd)
	s.probe = func(time.Duration) bool { return false }

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not healthy")
	assert.Equal(t, int32(1), spawns.Load())
	waitFor(t, 2*time.Second, "status stopped after timeout", func() bool {
		return s.Status().Health == HealthStopped
	})
	// no restart may be scheduled for a startup failure
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), spawns.Load())
}

func TestResolutionFailureIsFatal(t *testing.T) {
	s, spawns := testSupervisor(t, testBackendConfig(), sleepCmd)
	s.probe = func(time.Duration) bool { return false }
	s.resolve = func() (string, string, error) { return "", "", assert.AnError }

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(0), spawns.Load())
	assert.Equal(t, HealthStopped, s.Status().Health)
}

func TestPortConflictRecoveredOnce(t *testing.T) {
	s, spawns := testSupervisor(t, testBackendConfig(), sleepCmd)
	s.probe = ownedProbe(s)
	var portChecks, kills atomic.Int32
	s.portFree = func(int) bool { return portChecks.Add(1) > 1 }
	s.killPort = func(int) error { kills.Add(1); return nil }

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, int32(1), kills.Load(), "stale holder killed exactly once")
	assert.Equal(t, int32(1), spawns.Load())
}

func TestPortStillOccupiedIsFatal(t *testing.T) {
	s, spawns := testSupervisor(t, testBackendConfig(), sleepCmd)
	s.probe = func(time.Duration) bool { return false }
	s.portFree = func(int) bool { return false }

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still occupied")
	assert.Equal(t, int32(0), spawns.Load())
}

func TestThreeHealthFailuresTriggerExactlyOneRestart(t *testing.T) {
	cfg := testBackendConfig()
	cfg.StartupTimeout = 200 * time.Millisecond
	s, spawns := testSupervisor(t, cfg, sleepCmd)
	var healthy atomic.Bool
	owned := ownedProbe(s)
	s.probe = func(d time.Duration) bool { return healthy.Load() && owned(d) }

	healthy.Store(true)
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, int32(1), spawns.Load())

	// Health probes now fail; after three strikes a single restart attempt
	// must run (which itself fails startup since the probe stays down).
	healthy.Store(false)
	waitFor(t, 3*time.Second, "restart attempted", func() bool { return spawns.Load() == 2 })
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int32(2), spawns.Load(), "one restart per failure streak, not one per failure")
	assert.Equal(t, 1, s.Status().Restarts)
}

func TestExternalBackendDemotedAfterThreeFailures(t *testing.T) {
	s, spawns := testSupervisor(t, testBackendConfig(), sleepCmd)
	var healthy atomic.Bool
	healthy.Store(true)
	s.probe = func(time.Duration) bool { return healthy.Load() }

	require.NoError(t, s.Start(context.Background()))
	require.True(t, s.Status().External)

	healthy.Store(false)
	waitFor(t, 3*time.Second, "external backend demoted", func() bool {
		st := s.Status()
		return !st.External && st.Health == HealthStopped
	})
	assert.Equal(t, int32(0), spawns.Load(), "a lost external backend is never respawned")
}

func TestNonZeroExitSchedulesRestart(t *testing.T) {
	first := true
	s, spawns := testSupervisor(t, testBackendConfig(), func() *exec.Cmd {
		if first {
			first = false
			return exec.Command("sh", "-c", "sleep 0.2; exit 1")
		}
		return sleepCmd()
	})
	s.probe = ownedProbe(s)

	require.NoError(t, s.Start(context.Background()))
	waitFor(t, 3*time.Second, "replacement spawned and healthy", func() bool {
		return spawns.Load() == 2 && s.Status().Health == HealthHealthy
	})
	assert.Equal(t, 1, s.Status().Restarts)
}

func TestStopCancelsScheduledRestart(t *testing.T) {
	cfg := testBackendConfig()
	cfg.RestartDelay = 200 * time.Millisecond
	s, spawns := testSupervisor(t, cfg, func() *exec.Cmd {
		return exec.Command("sh", "-c", "sleep 0.2; exit 1")
	})
	s.probe = ownedProbe(s)

	require.NoError(t, s.Start(context.Background()))
	// Once the crash is reflected in Status the restart timer is already
	// registered, so a Stop here must find and cancel it.
	waitFor(t, 3*time.Second, "crash observed and restart scheduled", func() bool {
		st := s.Status()
		return !st.Running && st.Restarts == 1
	})
	s.Stop()

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int32(1), spawns.Load(), "stop after a crash must cancel the pending restart")
	assert.Equal(t, HealthStopped, s.Status().Health)
}

func TestCleanExitDoesNotRestart(t *testing.T) {
	s, spawns := testSupervisor(t, testBackendConfig(), func() *exec.Cmd {
		return exec.Command("sh", "-c", "sleep 0.2")
	})
	s.probe = ownedProbe(s)

	require.NoError(t, s.Start(context.Background()))
	waitFor(t, 2*time.Second, "process exited cleanly", func() bool {
		return s.Status().Health == HealthStopped
	})
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), spawns.Load(), "exit code 0 is an intentional stop")
	assert.Equal(t, 0, s.Status().Restarts)
}

func TestDetectExistingWithNothingListening(t *testing.T) {
	s, spawns := testSupervisor(t, testBackendConfig(), sleepCmd)
	s.probe = func(time.Duration) bool { return false }

	assert.False(t, s.DetectExisting())
	st := s.Status()
	assert.False(t, st.Running)
	assert.Equal(t, HealthStopped, st.Health)
	assert.Equal(t, int32(0), spawns.Load())
}

func TestDetectExistingAdoptsWithoutSpawn(t *testing.T) {
	s, spawns := testSupervisor(t, testBackendConfig(), sleepCmd)
	s.probe = func(time.Duration) bool { return true }

	assert.True(t, s.DetectExisting())
	st := s.Status()
	assert.True(t, st.Running)
	assert.True(t, st.External)
	assert.Zero(t, st.PID)
	assert.Equal(t, int32(0), spawns.Load())
}

func TestObserverPanicIsIsolated(t *testing.T) {
	s, _ := testSupervisor(t, testBackendConfig(), sleepCmd)
	s.probe = func(time.Duration) bool { return true }

	var second atomic.Int32
	s.Subscribe(func(Status) { panic("bad listener") })
	s.Subscribe(func(Status) { second.Add(1) })

	require.NoError(t, s.Start(context.Background()))
	assert.Greater(t, second.Load(), int32(0), "later observers still notified")
}

func TestRestartCycle(t *testing.T) {
	s, spawns := testSupervisor(t, testBackendConfig(), sleepCmd)
	s.probe = ownedProbe(s)

	require.NoError(t, s.Start(context.Background()))
	firstPID := s.Status().PID
	require.NoError(t, s.Restart(context.Background()))
	st := s.Status()
	assert.True(t, st.Running)
	assert.Equal(t, HealthHealthy, st.Health)
	assert.NotEqual(t, firstPID, st.PID)
	assert.Equal(t, int32(2), spawns.Load())
}

func TestCaptureFeedsRingBufferAndMarkers(t *testing.T) {
	s, _ := testSupervisor(t, testBackendConfig(), sleepCmd)
	var notified atomic.Int32
	s.Subscribe(func(Status) { notified.Add(1) })

	s.capture(strings.NewReader("booting\nindexing 50/200 files\nlistening, ready\n"), nil, "stdout")

	logs := s.Logs()
	require.Len(t, logs, 3)
	assert.Equal(t, "booting", logs[0])
	assert.Equal(t, "listening, ready", s.Status().LastLogLine)
	assert.Equal(t, int32(2), notified.Load(), "one notification per progress marker")
}
