package eventstream

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, s *Stream) (func() []ChangeEvent, *sync.Mutex) {
	t.Helper()
	var mu sync.Mutex
	var got []ChangeEvent
	s.OnEvent(func(ev ChangeEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	return func() []ChangeEvent {
		mu.Lock()
		defer mu.Unlock()
		out := make([]ChangeEvent, len(got))
		copy(out, got)
		return out
	}, &mu
}

func waitForEvents(t *testing.T, snapshot func() []ChangeEvent, pred func([]ChangeEvent) bool) []ChangeEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		evs := snapshot()
		if pred(evs) {
			return evs
		}
		time.Sleep(20 * time.Millisecond)
	}
	return snapshot()
}

func TestStreamEmitsFilteredFileEvents(t *testing.T) {
	ws := t.TempDir()
	s := New(defaultWatch(), testLogger())
	snapshot, _ := collectEvents(t, s)

	require.NoError(t, s.Start(ws))
	defer s.Stop()

	src := filepath.Join(ws, "model.py")
	require.NoError(t, os.WriteFile(src, []byte("x = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "notes.md"), []byte("ignored"), 0o644))

	evs := waitForEvents(t, snapshot, func(evs []ChangeEvent) bool { return len(evs) > 0 })
	require.NotEmpty(t, evs, "expected at least one event for model.py")
	for _, ev := range evs {
		require.Equal(t, src, ev.FilePath)
		require.Equal(t, ws, ev.WorkspacePath)
		require.NotZero(t, ev.TimestampMillis)
	}
	require.GreaterOrEqual(t, s.Stats().EventCount, uint64(1))
}

func TestStreamWatchesNewSubdirectories(t *testing.T) {
	ws := t.TempDir()
	s := New(defaultWatch(), testLogger())
	snapshot, _ := collectEvents(t, s)

	require.NoError(t, s.Start(ws))
	defer s.Stop()

	sub := filepath.Join(ws, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// give the watcher a moment to pick up the directory create
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "util.go"), []byte("package pkg\n"), 0o644))

	evs := waitForEvents(t, snapshot, func(evs []ChangeEvent) bool {
		for _, ev := range evs {
			if filepath.Base(ev.FilePath) == "util.go" {
				return true
			}
		}
		return false
	})
	var found bool
	for _, ev := range evs {
		if filepath.Base(ev.FilePath) == "util.go" {
			found = true
		}
	}
	require.True(t, found, "expected event from new subdirectory, got %v", evs)
}

func TestStreamIgnoredDirectoryProducesNothing(t *testing.T) {
	ws := t.TempDir()
	nm := filepath.Join(ws, "node_modules")
	require.NoError(t, os.Mkdir(nm, 0o755))

	s := New(defaultWatch(), testLogger())
	snapshot, _ := collectEvents(t, s)
	require.NoError(t, s.Start(ws))
	defer s.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(nm, "dep.js"), []byte("x"), 0o644))
	time.Sleep(300 * time.Millisecond)
	require.Empty(t, snapshot())
}

func TestStreamNotifyOpened(t *testing.T) {
	ws := t.TempDir()
	s := New(defaultWatch(), testLogger())
	snapshot, _ := collectEvents(t, s)
	require.NoError(t, s.Start(ws))
	defer s.Stop()

	s.NotifyOpened(filepath.Join(ws, "main.py"))
	s.NotifyOpened(filepath.Join(ws, "readme.md")) // filtered out

	evs := waitForEvents(t, snapshot, func(evs []ChangeEvent) bool { return len(evs) == 1 })
	require.Len(t, evs, 1)
	require.Equal(t, ChangeOpened, evs[0].ChangeType)
}

func TestStreamNotifyOpenedBeforeStartIsNoop(t *testing.T) {
	s := New(defaultWatch(), testLogger())
	snapshot, _ := collectEvents(t, s)
	s.NotifyOpened("/tmp/anything.py")
	require.Empty(t, snapshot())
}

func TestStreamCallbackPanicIsIsolated(t *testing.T) {
	ws := t.TempDir()
	s := New(defaultWatch(), testLogger())
	s.OnEvent(func(ChangeEvent) { panic("boom") })
	snapshot, _ := collectEvents(t, s)
	require.NoError(t, s.Start(ws))
	defer s.Stop()

	s.NotifyOpened(filepath.Join(ws, "a.py"))
	s.NotifyOpened(filepath.Join(ws, "b.py"))

	evs := waitForEvents(t, snapshot, func(evs []ChangeEvent) bool { return len(evs) == 2 })
	require.Len(t, evs, 2, "second subscriber must see every event despite the panicking one")
}

func TestStreamStartIdempotentAndStopSafe(t *testing.T) {
	ws := t.TempDir()
	s := New(defaultWatch(), testLogger())

	s.Stop() // not running yet
	require.NoError(t, s.Start(ws))
	require.NoError(t, s.Start(ws))
	require.True(t, s.Stats().Running)
	s.Stop()
	s.Stop()
	require.False(t, s.Stats().Running)
}

func TestStreamRejectsMissingWorkspace(t *testing.T) {
	s := New(defaultWatch(), testLogger())
	require.Error(t, s.Start(filepath.Join(t.TempDir(), "nope")))
}

func TestReadBranch(t *testing.T) {
	ws := t.TempDir()
	gitDir := filepath.Join(ws, ".git")
	require.NoError(t, os.Mkdir(gitDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/feature/risk-model\n"), 0o644))
	require.Equal(t, "feature/risk-model", ReadBranch(ws))

	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("3f786850e387550fdab836ed7e6dc881de23001b\n"), 0o644))
	require.Equal(t, "3f78685", ReadBranch(ws))

	require.Equal(t, "", ReadBranch(t.TempDir()))
}

func TestStreamStampsBranchOnEvents(t *testing.T) {
	ws := t.TempDir()
	gitDir := filepath.Join(ws, ".git")
	require.NoError(t, os.Mkdir(gitDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))

	s := New(defaultWatch(), testLogger())
	snapshot, _ := collectEvents(t, s)
	require.NoError(t, s.Start(ws))
	defer s.Stop()

	require.Equal(t, "main", s.Branch())
	s.NotifyOpened(filepath.Join(ws, "main.py"))
	evs := waitForEvents(t, snapshot, func(evs []ChangeEvent) bool { return len(evs) == 1 })
	require.Len(t, evs, 1)
	require.Equal(t, "main", evs[0].GitBranch)
}
