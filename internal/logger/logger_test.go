package logger

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritersFromDir(t *testing.T) {
	dir := t.TempDir()
	c := Config{Dir: dir}
	out, errW, err := c.Writers("backend")
	require.NoError(t, err)
	require.NotNil(t, out)
	require.NotNil(t, errW)

	_, err = out.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, out.Close())
	require.NoError(t, errW.Close())

	assert.FileExists(t, filepath.Join(dir, "backend.stdout.log"))
}

func TestWritersExplicitPathsWin(t *testing.T) {
	dir := t.TempDir()
	c := Config{Dir: dir, StdoutPath: filepath.Join(dir, "custom.log")}
	out, _, err := c.Writers("backend")
	require.NoError(t, err)
	_, err = out.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, out.Close())
	assert.FileExists(t, filepath.Join(dir, "custom.log"))
}

func TestWritersNoneConfigured(t *testing.T) {
	out, errW, err := Config{}.Writers("backend")
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Nil(t, errW)
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := Config{Level: "warn"}.New(&buf)
	lg.Info("hidden")
	lg.Warn("visible")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("garbage"))
}

func TestColorHandlerWritesLevelColors(t *testing.T) {
	var buf bytes.Buffer
	lg := Config{Color: true}.New(&buf)
	lg.Error("boom")
	assert.Contains(t, buf.String(), "boom")
	assert.NotContains(t, buf.String(), "engine")
}

func TestColorHandlerMarksEngineOutput(t *testing.T) {
	var buf bytes.Buffer
	lg := Config{Color: true}.New(&buf)
	lg.Info("backend progress", "stream", "stdout", "line", "indexing 50/200 files")
	assert.Contains(t, buf.String(), "engine")
	assert.Contains(t, buf.String(), "indexing 50/200 files")
}
