package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "driftwatch.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o640))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
workspace = "/ws/demo"
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/ws/demo", c.Workspace)
	assert.Equal(t, DefaultBackendPort, c.Backend.Port)
	assert.True(t, c.Backend.AutoRestart)
	assert.Equal(t, DefaultStartupTimeout, c.Backend.StartupTimeout)
	assert.Equal(t, DefaultHealthInterval, c.Backend.HealthInterval)
	assert.Equal(t, DefaultFailureThreshold, c.Backend.FailureThreshold)
	assert.Equal(t, DefaultPollInterval, c.Runtime.PollInterval)
	assert.Equal(t, DefaultListen, c.Server.Listen)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
workspace = "/ws/demo"

[backend]
port = 9911
auto_restart = false
startup_timeout = "90s"
interpreter = "/opt/py/bin/python"
entrypoint = "/opt/engine/server.py"

[runtime]
poll_interval = "5s"

[watch]
extensions = [".go", ".py"]
ignore = ["node_modules", "vendor"]

[store]
dsn = "sqlite:///tmp/dw.db"
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9911, c.Backend.Port)
	assert.False(t, c.Backend.AutoRestart)
	assert.Equal(t, 90*time.Second, c.Backend.StartupTimeout)
	assert.Equal(t, "/opt/py/bin/python", c.Backend.Interpreter)
	assert.Equal(t, 5*time.Second, c.Runtime.PollInterval)
	assert.Equal(t, []string{".go", ".py"}, c.Watch.Extensions)
	assert.Equal(t, "sqlite:///tmp/dw.db", c.Store.DSN)
}

func TestLoadRejectsBadPort(t *testing.T) {
	path := writeConfig(t, `
[backend]
port = 70000
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}
