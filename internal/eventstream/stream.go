// Package eventstream watches a workspace for source-file changes and fans
// filtered change events out to subscribers. Filesystem events come from
// fsnotify; "opened" events have no filesystem signal and enter through
// NotifyOpened. The current git branch is polled from .git/HEAD and stamped
// onto every event.
package eventstream

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/metrics"
)

// ChangeType classifies a file change.
type ChangeType string

const (
	ChangeSaved   ChangeType = "saved"
	ChangeCreated ChangeType = "created"
	ChangeDeleted ChangeType = "deleted"
	ChangeRenamed ChangeType = "renamed"
	ChangeOpened  ChangeType = "opened"
)

// ChangeEvent is a single filtered workspace change.
type ChangeEvent struct {
	FilePath        string         `json:"file_path"`
	ChangeType      ChangeType     `json:"change_type"`
	WorkspacePath   string         `json:"workspace_path"`
	TimestampMillis int64          `json:"timestamp_ms"`
	GitBranch       string         `json:"git_branch"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Callback receives change events. Callbacks run on the watch goroutine;
// a panic in one callback never reaches the others or the watch loop.
type Callback func(ChangeEvent)

// Stats is a point-in-time view of the stream.
type Stats struct {
	Running    bool   `json:"running"`
	EventCount uint64 `json:"event_count"`
	GitBranch  string `json:"git_branch"`
}

// Stream is a recursive workspace watcher with a pure path filter in front
// of every subscriber.
type Stream struct {
	logger         *slog.Logger
	filter         *Filter
	branchInterval time.Duration

	eventCount atomic.Uint64

	mu        sync.Mutex
	running   bool
	workspace string
	watcher   *fsnotify.Watcher
	cancel    context.CancelFunc
	callbacks []Callback
	branch    string
	wg        sync.WaitGroup
}

// New builds a Stream from watch settings. Empty filter lists use the
// built-in defaults.
func New(cfg config.Watch, lg *slog.Logger) *Stream {
	if lg == nil {
		lg = slog.Default()
	}
	interval := cfg.BranchInterval
	if interval <= 0 {
		interval = config.DefaultBranchInterval
	}
	return &Stream{
		logger:         lg,
		filter:         NewFilter(cfg.Extensions, cfg.Ignore),
		branchInterval: interval,
	}
}

// OnEvent registers a subscriber. Safe to call before or after Start.
func (s *Stream) OnEvent(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Start begins watching the workspace tree. Idempotent while running.
func (s *Stream) Start(workspace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	info, err := os.Stat(workspace)
	if err != nil {
		return fmt.Errorf("workspace %s: %w", workspace, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workspace %s is not a directory", workspace)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := s.addTree(w, workspace); err != nil {
		_ = w.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.workspace = workspace
	s.watcher = w
	s.cancel = cancel
	s.running = true
	s.branch = ReadBranch(workspace)

	s.wg.Add(2)
	go s.watchLoop(ctx, w, workspace)
	go s.branchLoop(ctx, workspace)

	s.logger.Info("event stream started", "workspace", workspace, "branch", s.branch)
	return nil
}

// Stop tears the watcher down and waits for the loops to exit. Safe to call
// when not running.
func (s *Stream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	w := s.watcher
	s.cancel = nil
	s.watcher = nil
	s.mu.Unlock()

	cancel()
	_ = w.Close()
	s.wg.Wait()
	s.logger.Info("event stream stopped")
}

// NotifyOpened injects an "opened" event for a file. Editors report file
// activation out of band; the filesystem never does.
func (s *Stream) NotifyOpened(path string) {
	s.mu.Lock()
	ws := s.workspace
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}
	if !s.filter.Allows(path) {
		metrics.IncEventFiltered()
		return
	}
	s.emit(path, ChangeOpened, ws)
}

// Stats returns the current stream counters.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Running:    s.running,
		EventCount: s.eventCount.Load(),
		GitBranch:  s.branch,
	}
}

// Branch returns the last polled git branch.
func (s *Stream) Branch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.branch
}

// addTree registers the workspace and every non-ignored subdirectory.
func (s *Stream) addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtrees are skipped, not fatal
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && s.filter.IgnoresDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			s.logger.Warn("watch add failed", "dir", path, "error", err)
		}
		return nil
	})
}

func (s *Stream) watchLoop(ctx context.Context, w *fsnotify.Watcher, workspace string) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			s.handleFSEvent(w, workspace, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watcher error", "error", err)
		}
	}
}

func (s *Stream) handleFSEvent(w *fsnotify.Watcher, workspace string, ev fsnotify.Event) {
	// New directories must join the watch before their contents change.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !s.filter.IgnoresDir(filepath.Base(ev.Name)) {
				if err := w.Add(ev.Name); err != nil {
					s.logger.Warn("watch add failed", "dir", ev.Name, "error", err)
				}
			}
			return
		}
	}

	var ct ChangeType
	switch {
	case ev.Op.Has(fsnotify.Create):
		ct = ChangeCreated
	case ev.Op.Has(fsnotify.Write):
		ct = ChangeSaved
	case ev.Op.Has(fsnotify.Remove):
		ct = ChangeDeleted
	case ev.Op.Has(fsnotify.Rename):
		ct = ChangeRenamed
	default:
		return
	}

	if !s.filter.Allows(ev.Name) {
		metrics.IncEventFiltered()
		return
	}
	s.emit(ev.Name, ct, workspace)
}

func (s *Stream) branchLoop(ctx context.Context, workspace string) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.branchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			branch := ReadBranch(workspace)
			s.mu.Lock()
			if branch != s.branch {
				s.logger.Info("branch changed", "from", s.branch, "to", branch)
				s.branch = branch
			}
			s.mu.Unlock()
		}
	}
}

// emit stamps the event and delivers it to every subscriber, isolating
// panics per callback.
func (s *Stream) emit(path string, ct ChangeType, workspace string) {
	s.mu.Lock()
	branch := s.branch
	cbs := make([]Callback, len(s.callbacks))
	copy(cbs, s.callbacks)
	s.mu.Unlock()

	ev := ChangeEvent{
		FilePath:        path,
		ChangeType:      ct,
		WorkspacePath:   workspace,
		TimestampMillis: time.Now().UnixMilli(),
		GitBranch:       branch,
	}
	s.eventCount.Add(1)
	metrics.IncEventEmitted(string(ct))

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("event callback panicked", "path", path, "panic", r)
				}
			}()
			cb(ev)
		}()
	}
}
