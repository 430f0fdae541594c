// Package runtime drives the autonomous loop around a healthy drift engine:
// it forwards filtered workspace change events to the engine, polls the
// dashboard on a fixed interval, and keeps the last good snapshot in an
// atomically swapped cache so readers never block on the network.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftwatch/driftwatch/internal/backend"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/eventstream"
	"github.com/driftwatch/driftwatch/internal/history"
	"github.com/driftwatch/driftwatch/internal/metrics"
	"github.com/driftwatch/driftwatch/internal/store"
)

// Listener receives the new snapshot after every successful dashboard poll.
// Listeners run on the poll goroutine; a panic in one never reaches the rest.
type Listener func(*backend.Snapshot)

// Stats is a point-in-time view of the runtime loop.
type Stats struct {
	Running         bool              `json:"running"`
	Polls           uint64            `json:"polls"`
	PollFailures    uint64            `json:"poll_failures"`
	EventsForwarded uint64            `json:"events_forwarded"`
	LastPollAt      time.Time         `json:"last_poll_at"`
	LastPollError   string            `json:"last_poll_error,omitempty"`
	Stream          eventstream.Stats `json:"stream"`
}

// Config wires the runtime's collaborators. Store and Sink are optional.
type Config struct {
	Workspace    string
	Client       *backend.Client
	Stream       *eventstream.Stream
	Store        store.Store
	Sink         history.Sink
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Runtime is the autonomous event-forwarding and dashboard-polling loop.
type Runtime struct {
	workspace    string
	client       *backend.Client
	stream       *eventstream.Stream
	st           store.Store
	sink         history.Sink
	pollInterval time.Duration
	logger       *slog.Logger

	snapshot  atomic.Pointer[backend.Snapshot]
	polls     atomic.Uint64
	pollFails atomic.Uint64
	forwarded atomic.Uint64

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	listeners []Listener
	lastAt    time.Time
	lastErr   error

	// the stream keeps callbacks across its own stop/start cycles, so the
	// forwarder must be registered exactly once
	subscribeOnce sync.Once
}

// New builds a Runtime. The workspace is fixed at construction so Refresh
// works before Start.
func New(cfg Config) *Runtime {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}
	return &Runtime{
		workspace:    cfg.Workspace,
		client:       cfg.Client,
		stream:       cfg.Stream,
		st:           cfg.Store,
		sink:         cfg.Sink,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
	}
}

// OnSnapshot registers a listener for successful polls.
func (r *Runtime) OnSnapshot(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Start begins event forwarding and periodic dashboard polling. It registers
// the workspace with the engine best-effort, then polls once immediately so
// the cache is warm before the first tick. Idempotent while running.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	r.mu.Unlock()

	if r.stream != nil {
		r.subscribeOnce.Do(func() { r.stream.OnEvent(r.forwardEvent) })
		if err := r.stream.Start(r.workspace); err != nil {
			r.mu.Lock()
			r.running = false
			r.cancel = nil
			r.mu.Unlock()
			cancel()
			return err
		}
	}

	if _, err := r.client.Initialize(ctx, r.workspace); err != nil {
		// the engine indexes lazily on first dashboard fetch anyway
		r.logger.Warn("workspace initialize failed", "error", err)
	}

	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("initial dashboard poll failed", "error", err)
	}

	go r.pollLoop(loopCtx)
	r.logger.Info("runtime started", "workspace", r.workspace, "poll_interval", r.pollInterval)
	return nil
}

// Stop halts polling and the event stream. Safe to call when not running.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	<-done
	if r.stream != nil {
		r.stream.Stop()
	}
	r.logger.Info("runtime stopped")
}

// Snapshot returns the last good dashboard snapshot, or nil before the first
// successful poll. The returned value is shared and read-only.
func (r *Runtime) Snapshot() *backend.Snapshot {
	return r.snapshot.Load()
}

// Refresh polls the dashboard once for the configured workspace. On success
// the cache is replaced and listeners are notified; on failure the previous
// snapshot stays in place. Works before Start.
func (r *Runtime) Refresh(ctx context.Context) error {
	return r.RefreshWorkspace(ctx, r.workspace)
}

// RefreshWorkspace polls the dashboard for an explicit workspace path. The
// cache, persistence, and listeners see the result the same way.
func (r *Runtime) RefreshWorkspace(ctx context.Context, workspace string) error {
	if workspace == "" {
		workspace = r.workspace
	}
	snap, err := r.client.Dashboard(ctx, workspace)
	now := time.Now()
	r.polls.Add(1)
	metrics.ObserveDashboardPoll(err == nil)

	r.mu.Lock()
	r.lastAt = now
	r.lastErr = err
	r.mu.Unlock()

	if err != nil {
		r.pollFails.Add(1)
		return err
	}

	r.snapshot.Store(snap)
	r.recordRisk(ctx, workspace, snap)
	r.notify(snap)
	return nil
}

// Stats reports loop counters plus the stream's own stats.
func (r *Runtime) Stats() Stats {
	r.mu.Lock()
	running := r.running
	lastAt := r.lastAt
	lastErr := r.lastErr
	r.mu.Unlock()

	s := Stats{
		Running:         running,
		Polls:           r.polls.Load(),
		PollFailures:    r.pollFails.Load(),
		EventsForwarded: r.forwarded.Load(),
		LastPollAt:      lastAt,
	}
	if lastErr != nil {
		s.LastPollError = lastErr.Error()
	}
	if r.stream != nil {
		s.Stream = r.stream.Stats()
	}
	return s
}

func (r *Runtime) pollLoop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Debug("dashboard poll failed", "error", err)
			}
		}
	}
}

// forwardEvent pushes one change event to the engine and the archival sink.
// Both sends are fire-and-forget; the watcher must never stall on them.
func (r *Runtime) forwardEvent(ev eventstream.ChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := r.client.ForwardEvent(ctx, backend.EventNotice{
		FilePath:      ev.FilePath,
		WorkspacePath: ev.WorkspacePath,
		ChangeType:    string(ev.ChangeType),
		GitBranch:     ev.GitBranch,
	})
	if err != nil {
		r.logger.Debug("event forward failed", "path", ev.FilePath, "error", err)
	} else {
		r.forwarded.Add(1)
	}

	if r.sink != nil {
		sendErr := r.sink.Send(ctx, history.Event{
			FilePath:   ev.FilePath,
			ChangeType: string(ev.ChangeType),
			Workspace:  ev.WorkspacePath,
			GitBranch:  ev.GitBranch,
			OccurredAt: time.UnixMilli(ev.TimestampMillis).UTC(),
		})
		if sendErr != nil {
			r.logger.Debug("history sink send failed", "path", ev.FilePath, "error", sendErr)
		}
	}
}

func (r *Runtime) recordRisk(ctx context.Context, workspace string, snap *backend.Snapshot) {
	if r.st == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := r.st.RecordRisk(rctx, store.RiskPoint{
		Workspace:   workspace,
		RiskScore:   snap.RiskScore,
		HealthScore: snap.HealthScore,
		At:          time.Now().UTC(),
	})
	if err != nil {
		r.logger.Warn("risk point persist failed", "error", err)
	}
}

func (r *Runtime) notify(snap *backend.Snapshot) {
	r.mu.Lock()
	ls := make([]Listener, len(r.listeners))
	copy(ls, r.listeners)
	r.mu.Unlock()

	for _, l := range ls {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("snapshot listener panicked", "panic", p)
				}
			}()
			l(snap)
		}()
	}
}
