package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/companion/internal/manager"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRecordsPath(), c.Records)
	assert.Equal(t, manager.DefaultStopTimeout, c.Shutdown.Timeout)
	assert.Equal(t, manager.DefaultKillWait, c.Shutdown.KillWait)
	assert.False(t, c.Shutdown.Parallel)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "/api", c.Server.BasePath)
	assert.Empty(t, c.Server.Listen)
	assert.Empty(t, c.History.DSN)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "companion.toml", `
records = "/etc/companion/records.json"

[shutdown]
timeout = "3s"
kill_wait = "500ms"
parallel = true

[log]
level = "debug"
format = "json"

[log.file]
path = "/var/log/companion.log"
max_backups = 5

[metrics]
enabled = true

[server]
listen = "127.0.0.1:8089"
base_path = "/companion"

[history]
dsn = ["sqlite:///tmp/h.db", "postgres://u:p@db/h"]
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/etc/companion/records.json", c.Records)
	assert.Equal(t, 3*time.Second, c.Shutdown.Timeout)
	assert.Equal(t, 500*time.Millisecond, c.Shutdown.KillWait)
	assert.True(t, c.Shutdown.Parallel)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, "/var/log/companion.log", c.Log.File.Path)
	assert.Equal(t, 5, c.Log.File.MaxBackups)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:8089", c.Server.Listen)
	assert.Equal(t, "/companion", c.Server.BasePath)
	assert.Equal(t, []string{"sqlite:///tmp/h.db", "postgres://u:p@db/h"}, c.History.DSN)

	opts := c.ManagerOptions()
	assert.Equal(t, manager.Options{StopTimeout: 3 * time.Second, KillWait: 500 * time.Millisecond, Parallel: true}, opts)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "companion.yaml", "shutdown:\n  timeout: 2s\nserver:\n  listen: \":9000\"\n")
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, c.Shutdown.Timeout)
	assert.Equal(t, ":9000", c.Server.Listen)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "companion.toml", "[shutdown]\ntimeout = \"3s\"\n")
	t.Setenv("COMPANION_SHUTDOWN_TIMEOUT", "7s")
	t.Setenv("COMPANION_SERVER_LISTEN", ":8123")
	t.Setenv("COMPANION_RECORDS", "/tmp/records.json")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, c.Shutdown.Timeout)
	assert.Equal(t, ":8123", c.Server.Listen)
	assert.Equal(t, "/tmp/records.json", c.Records)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	bad := writeFile(t, "bad.toml", "[shutdown]\ntimeout = \"-1s\"\n")
	_, err = Load(bad)
	assert.ErrorContains(t, err, "shutdown.timeout")

	badBase := writeFile(t, "base.toml", "[server]\nbase_path = \"api\"\n")
	_, err = Load(badBase)
	assert.ErrorContains(t, err, "base_path")

	badLevel := writeFile(t, "level.toml", "[log]\nlevel = \"loud\"\n")
	_, err = Load(badLevel)
	assert.ErrorContains(t, err, "unknown log level")
}
