// Package supervisor owns the lifecycle of the local drift engine process:
// spawn, health monitoring, auto-restart, and adoption of an externally
// started engine. The supervisor is in exactly one of three modes at any
// time: stopped, owning a spawned process, or connected to an external
// backend, never more than one.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/detector"
	"github.com/driftwatch/driftwatch/internal/logbuf"
	"github.com/driftwatch/driftwatch/internal/logger"
	"github.com/driftwatch/driftwatch/internal/metrics"
	"github.com/driftwatch/driftwatch/internal/resolver"
	"github.com/driftwatch/driftwatch/internal/store"
)

// Health is the supervisor's externally visible state machine state.
type Health string

const (
	HealthStopped   Health = "stopped"
	HealthStarting  Health = "starting"
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
)

// Status is an immutable snapshot of supervisor state, recomputed on demand.
type Status struct {
	Running       bool   `json:"running"`
	Port          int    `json:"port"`
	PID           int    `json:"pid,omitempty"`
	UptimeSeconds int    `json:"uptime_seconds"`
	Health        Health `json:"health"`
	LastLogLine   string `json:"last_log_line"`
	External      bool   `json:"external"`
	Restarts      int    `json:"restarts"`
	LastProbeOK   bool   `json:"last_probe_ok"`
}

// Observer receives a status snapshot after every state change. Delivery is
// synchronous and panic-isolated per observer.
type Observer func(Status)

// Supervisor manages at most one backend process. All mutable state is owned
// by the supervisor and guarded by mu; callers only ever see Status copies.
type Supervisor struct {
	cfg    config.Backend
	ws     string
	logger *slog.Logger
	st     store.Store // optional; nil disables persistence
	logs   *logbuf.Buffer

	mu           sync.Mutex
	cmd          *exec.Cmd
	waitDone     chan struct{}
	external     bool
	health       Health
	startedAt    time.Time
	restarts     int
	failures     int
	stopping     bool
	starting     bool
	lastProbeOK  bool
	loopCancel   context.CancelFunc
	restartTimer *time.Timer
	observers    []Observer
	outCloser    io.WriteCloser
	errCloser    io.WriteCloser

	// seams replaced in tests
	probe    func(timeout time.Duration) bool
	resolve  func() (interp, entry string, err error)
	launch   func(interp, entry string) (*exec.Cmd, error)
	portFree func(port int) bool
	killPort func(port int) error

	logCfg logger.Config
}

// New constructs a Supervisor for the given workspace. The slog.Logger is
// injected; the supervisor never reaches for ambient globals.
func New(ws string, cfg config.Backend, logCfg logger.Config, lg *slog.Logger, st store.Store) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		ws:     ws,
		logger: lg,
		st:     st,
		logs:   logbuf.New(logbuf.DefaultCap),
		health: HealthStopped,
		logCfg: logCfg,
	}
	s.probe = func(timeout time.Duration) bool {
		ok, _ := detector.HTTPDetector{URL: detector.HealthURL(cfg.Port), Timeout: timeout}.Alive()
		return ok
	}
	s.resolve = func() (string, string, error) {
		interp, err := resolver.Interpreter(ws, cfg.Interpreter)
		if err != nil {
			return "", "", err
		}
		entry, err := resolver.Entrypoint(ws, cfg.Entrypoint)
		if err != nil {
			return "", "", err
		}
		return interp, entry, nil
	}
	s.launch = s.defaultLaunch
	s.portFree = detector.PortAvailable
	s.killPort = killPortHolder
	return s
}

// Subscribe registers an observer for status change notifications.
func (s *Supervisor) Subscribe(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Status returns a fresh snapshot of supervisor state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Supervisor) statusLocked() Status {
	st := Status{
		Port:        s.cfg.Port,
		Health:      s.health,
		LastLogLine: s.logs.Last(),
		External:    s.external,
		Restarts:    s.restarts,
		LastProbeOK: s.lastProbeOK,
	}
	if s.cmd != nil && s.cmd.Process != nil {
		st.Running = true
		st.PID = s.cmd.Process.Pid
		st.UptimeSeconds = int(time.Since(s.startedAt).Seconds())
	} else if s.external {
		st.Running = true
		st.UptimeSeconds = int(time.Since(s.startedAt).Seconds())
	}
	return st
}

// Logs returns the exposed tail of captured backend output, arrival order.
func (s *Supervisor) Logs() []string { return s.logs.Tail(logbuf.DefaultTail) }

// TailLogs returns up to n trailing output lines, arrival order.
func (s *Supervisor) TailLogs(n int) []string { return s.logs.Tail(n) }

// Start brings up a reachable backend. Idempotent: when a process is already
// owned, externally connected, or a start is in flight, it reports success
// without spawning a second process.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cmd != nil || s.external || s.starting {
		s.mu.Unlock()
		return nil
	}
	s.starting = true
	s.stopping = false
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	// Adopt an already-running compatible backend instead of spawning a
	// duplicate.
	if s.probe(s.cfg.StartupInterval) {
		s.adoptExternal()
		return nil
	}

	interp, entry, err := s.resolve()
	if err != nil {
		s.logger.Error("backend start failed: resolution", "error", err)
		return err
	}

	if err := s.clearPort(); err != nil {
		return err
	}

	cmd, err := s.launch(interp, entry)
	if err != nil {
		return fmt.Errorf("spawn backend: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn backend: %w", err)
	}

	waitDone := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.waitDone = waitDone
	s.startedAt = time.Now()
	s.health = HealthStarting
	s.failures = 0
	s.mu.Unlock()
	go s.monitorExit(cmd, waitDone)
	s.logger.Info("backend spawned", "pid", cmd.Process.Pid, "port", s.cfg.Port, "entry", entry)
	s.record(HealthStarting, cmd.Process.Pid, "")
	s.notify()

	if err := s.awaitHealthy(ctx, waitDone); err != nil {
		tail := strings.Join(s.Logs(), "\n")
		// Startup failure is fatal, not a crash: suppress the exit-restart
		// policy while tearing the process down.
		s.mu.Lock()
		s.stopping = true
		s.mu.Unlock()
		s.stopOwned()
		s.logger.Error("backend failed to become healthy", "error", err, "log_tail", tail)
		return fmt.Errorf("%w\nrecent backend output:\n%s", err, tail)
	}

	s.mu.Lock()
	s.health = HealthHealthy
	s.lastProbeOK = true
	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}
	elapsed := time.Since(s.startedAt)
	s.mu.Unlock()

	metrics.IncStart()
	metrics.ObserveStartupSeconds(elapsed.Seconds())
	s.logger.Info("backend healthy", "pid", pid, "elapsed", elapsed.Round(time.Second))
	s.record(HealthHealthy, pid, "")
	s.startHealthLoop()
	s.notify()
	return nil
}

// adoptExternal connects to a compatible backend started outside the
// supervisor. No PID is reported for an adopted backend.
func (s *Supervisor) adoptExternal() {
	s.mu.Lock()
	s.external = true
	s.health = HealthHealthy
	s.lastProbeOK = true
	s.failures = 0
	s.startedAt = time.Now()
	s.mu.Unlock()
	metrics.IncStart()
	s.logger.Info("adopted external backend", "port", s.cfg.Port)
	s.record(HealthHealthy, 0, "external")
	s.startHealthLoop()
	s.notify()
}

// clearPort recovers a port held by a non-responsive process. The prior
// health probe already ruled out a compatible backend, so whatever holds the
// port is stale: force-kill once, then fail if the port is still occupied.
func (s *Supervisor) clearPort() error {
	if s.portFree(s.cfg.Port) {
		return nil
	}
	s.logger.Warn("port occupied by non-responsive process, terminating holder", "port", s.cfg.Port)
	if err := s.killPort(s.cfg.Port); err != nil {
		return fmt.Errorf("port %d occupied and holder could not be terminated: %w", s.cfg.Port, err)
	}
	time.Sleep(500 * time.Millisecond)
	if !s.portFree(s.cfg.Port) {
		return fmt.Errorf("port %d still occupied after terminating holder", s.cfg.Port)
	}
	return nil
}

// awaitHealthy polls the health endpoint until success, exit, cancellation,
// or the startup timeout. First-run indexing of a large workspace is slow,
// so the timeout is generous and progress is reported periodically.
func (s *Supervisor) awaitHealthy(ctx context.Context, waitDone chan struct{}) error {
	interval := s.cfg.StartupInterval
	if interval <= 0 {
		interval = config.DefaultStartupInterval
	}
	deadline := time.Now().Add(s.cfg.StartupTimeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	started := time.Now()
	lastReport := started
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-waitDone:
			return fmt.Errorf("backend exited during startup")
		case <-ticker.C:
			if s.probe(interval) {
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("backend not healthy after %s", s.cfg.StartupTimeout)
			}
			if time.Since(lastReport) >= 15*time.Second {
				lastReport = time.Now()
				s.logger.Info("waiting for backend health",
					"elapsed", time.Since(started).Round(time.Second),
					"timeout", s.cfg.StartupTimeout)
			}
		}
	}
}

// Stop shuts the backend down. For an external backend it only disconnects;
// the process is never touched. The health-check loop is always cancelled
// before the process, so no tick can fire mid-shutdown. Safe to call when
// already stopped.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopping = true
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	cancel := s.loopCancel
	s.loopCancel = nil
	external := s.external
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if external {
		s.mu.Lock()
		s.external = false
		s.health = HealthStopped
		s.lastProbeOK = false
		s.mu.Unlock()
		s.logger.Info("disconnected from external backend")
		s.record(HealthStopped, 0, "disconnected")
		s.notify()
		return
	}
	s.stopOwned()
}

// stopOwned terminates the owned process: SIGTERM, then SIGKILL after the
// grace window.
func (s *Supervisor) stopOwned() {
	s.mu.Lock()
	cmd := s.cmd
	waitDone := s.waitDone
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		s.mu.Lock()
		s.health = HealthStopped
		s.mu.Unlock()
		return
	}

	grace := s.cfg.StopGrace
	if grace <= 0 {
		grace = config.DefaultStopGrace
	}
	s.logger.Info("stopping backend", "pid", cmd.Process.Pid, "grace", grace)
	terminate(cmd)
	select {
	case <-waitDone:
	case <-time.After(grace):
		s.logger.Warn("backend did not exit in grace window, killing", "pid", cmd.Process.Pid)
		killHard(cmd)
		select {
		case <-waitDone:
		case <-time.After(200 * time.Millisecond):
			// best-effort
		}
	}
}

// Restart stops the backend, waits briefly, and starts it again.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.Stop()
	delay := s.cfg.RestartDelay
	if delay <= 0 {
		delay = config.DefaultRestartDelay
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}
	return s.Start(ctx)
}

// DetectExisting re-probes health without committing to a spawn. It only
// updates the external/probe flags and notifies observers; used for manual
// refresh.
func (s *Supervisor) DetectExisting() bool {
	ok := s.probe(s.cfg.StartupInterval)
	s.mu.Lock()
	owned := s.cmd != nil
	s.lastProbeOK = ok
	changed := false
	if !owned {
		if ok && !s.external {
			s.external = true
			s.health = HealthHealthy
			s.startedAt = time.Now()
			s.failures = 0
			changed = true
		} else if !ok && s.external {
			s.external = false
			s.health = HealthStopped
			changed = true
		}
	}
	startLoop := changed && s.external
	s.mu.Unlock()

	if changed {
		if startLoop {
			s.logger.Info("detected external backend", "port", s.cfg.Port)
			s.record(HealthHealthy, 0, "external")
			s.startHealthLoop()
		} else {
			s.logger.Info("external backend no longer reachable", "port", s.cfg.Port)
			s.record(HealthStopped, 0, "disconnected")
		}
		s.notify()
	}
	return ok
}

// startHealthLoop begins periodic probing. Runs only while a process is
// owned or an external backend is connected; exits on its own once neither
// holds.
func (s *Supervisor) startHealthLoop() {
	s.mu.Lock()
	if s.loopCancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	s.mu.Unlock()
	go s.healthLoop(ctx)
}

func (s *Supervisor) healthLoop(ctx context.Context) {
	interval := s.cfg.HealthInterval
	if interval <= 0 {
		interval = config.DefaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			active := s.cmd != nil || s.external
			s.mu.Unlock()
			if !active {
				s.mu.Lock()
				if s.loopCancel != nil {
					s.loopCancel()
					s.loopCancel = nil
				}
				s.mu.Unlock()
				return
			}
			// Longer per-probe timeout than at startup: the engine may be
			// busy indexing.
			ok := s.probe(s.cfg.HealthTimeout)
			metrics.ObserveHealthCheck(ok)
			if ok {
				s.onProbeSuccess()
			} else if s.onProbeFailure() {
				return
			}
		}
	}
}

func (s *Supervisor) onProbeSuccess() {
	s.mu.Lock()
	s.failures = 0
	s.lastProbeOK = true
	changed := s.health != HealthHealthy
	if changed {
		s.health = HealthHealthy
	}
	s.mu.Unlock()
	if changed {
		s.logger.Info("backend recovered")
		s.notify()
	}
}

// onProbeFailure increments the failure streak and applies the 3-strike
// policy. Returns true when the loop should exit (restart or disconnect has
// taken over).
func (s *Supervisor) onProbeFailure() bool {
	s.mu.Lock()
	s.failures++
	failures := s.failures
	s.lastProbeOK = false
	if s.health == HealthHealthy {
		s.health = HealthUnhealthy
	}
	threshold := s.cfg.FailureThreshold
	if threshold <= 0 {
		threshold = config.DefaultFailureThreshold
	}
	external := s.external
	autoRestart := s.cfg.AutoRestart && !s.stopping
	s.mu.Unlock()

	s.logger.Warn("backend health check failed", "consecutive", failures)
	s.notify()
	if failures < threshold {
		return false
	}

	if external {
		// Not ours to restart: demote to disconnected.
		s.mu.Lock()
		s.external = false
		s.health = HealthStopped
		s.failures = 0
		if s.loopCancel != nil {
			s.loopCancel()
			s.loopCancel = nil
		}
		s.mu.Unlock()
		s.logger.Warn("external backend unreachable, disconnecting", "failures", failures)
		s.record(HealthStopped, 0, "external unreachable")
		s.notify()
		return true
	}
	if autoRestart {
		s.logger.Warn("backend unhealthy, restarting", "failures", failures)
		metrics.IncRestart()
		s.mu.Lock()
		s.restarts++
		s.failures = 0
		s.mu.Unlock()
		go func() { _ = s.Restart(context.Background()) }()
		return true
	}
	return false
}

// monitorExit reaps the process and drives the exit transition. A non-zero
// exit with auto-restart enabled schedules a delayed relaunch; exit code 0
// is a clean, intentional stop.
func (s *Supervisor) monitorExit(cmd *exec.Cmd, waitDone chan struct{}) {
	err := cmd.Wait()
	close(waitDone)

	exitCode := 0
	if err != nil {
		exitCode = -1
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			exitCode = ee.ExitCode()
		}
	}

	s.mu.Lock()
	if s.cmd != cmd {
		s.mu.Unlock()
		return
	}
	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}
	s.cmd = nil
	s.waitDone = nil
	s.closeWritersLocked()
	wasStopping := s.stopping
	s.health = HealthStopped
	s.lastProbeOK = false
	cancel := s.loopCancel
	s.loopCancel = nil
	restart := s.cfg.AutoRestart && !wasStopping && exitCode != 0
	delay := s.cfg.RestartDelay
	if delay <= 0 {
		delay = config.DefaultRestartDelay
	}
	if restart {
		s.restarts++
		// Registered under the same lock as the restart decision so a Stop
		// arriving after this point always finds a cancellable timer.
		s.restartTimer = time.AfterFunc(delay, func() {
			_ = s.Start(context.Background())
		})
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	metrics.IncStop()
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	s.record(HealthStopped, pid, detail)
	if wasStopping || exitCode == 0 {
		s.logger.Info("backend stopped", "pid", pid, "code", exitCode)
	} else {
		s.logger.Warn("backend exited unexpectedly", "pid", pid, "code", exitCode)
	}
	s.notify()

	if restart {
		metrics.IncRestart()
		s.logger.Info("scheduling backend restart", "delay", delay)
	}
}

// defaultLaunch builds the real backend command, capturing stdout/stderr
// line-by-line into the ring buffer and the rotating mirror files.
func (s *Supervisor) defaultLaunch(interp, entry string) (*exec.Cmd, error) {
	// #nosec G204 -- interpreter and entry point come from resolution, not user input
	cmd := exec.Command(interp, entry, "--port", strconv.Itoa(s.cfg.Port))
	cmd.Dir = s.ws
	cmd.SysProcAttr = sysProcAttr()

	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	outW, errW, _ := s.logCfg.Writers("backend")
	s.mu.Lock()
	s.outCloser, s.errCloser = outW, errW
	s.mu.Unlock()
	go s.capture(outPipe, outW, "stdout")
	go s.capture(errPipe, errW, "stderr")
	return cmd, nil
}

// capture appends each output line to the ring buffer, mirrors it to the
// rotating file, and surfaces progress markers to observers.
func (s *Supervisor) capture(r io.Reader, mirror io.Writer, stream string) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for sc.Scan() {
		line := sc.Text()
		s.logs.Append(line)
		if mirror != nil {
			_, _ = mirror.Write([]byte(line + "\n"))
		}
		if isProgressMarker(line) {
			s.logger.Info("backend progress", "stream", stream, "line", line)
			s.notify()
		}
	}
}

// isProgressMarker recognizes the engine's startup progress output so slow
// first-run indexing is visible to observers.
func isProgressMarker(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "indexing") ||
		strings.Contains(l, "progress") ||
		strings.Contains(l, "ready")
}

func (s *Supervisor) closeWritersLocked() {
	if s.outCloser != nil {
		_ = s.outCloser.Close()
		s.outCloser = nil
	}
	if s.errCloser != nil {
		_ = s.errCloser.Close()
		s.errCloser = nil
	}
}

// notify broadcasts the current status to observers in registration order.
// A panicking observer is logged and never breaks delivery to the others.
func (s *Supervisor) notify() {
	s.mu.Lock()
	obs := make([]Observer, len(s.observers))
	copy(obs, s.observers)
	st := s.statusLocked()
	s.mu.Unlock()
	metrics.SetState(string(st.Health))
	for _, o := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("status observer panicked", "panic", r)
				}
			}()
			o(st)
		}()
	}
}

func (s *Supervisor) record(state Health, pid int, detail string) {
	if s.st == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.st.RecordTransition(ctx, store.Transition{
		State:      string(state),
		PID:        pid,
		Detail:     detail,
		OccurredAt: time.Now(),
	}); err != nil {
		s.logger.Debug("record transition failed", "error", err)
	}
}
