package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgres://localhost/monitor
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "ffmpeg", cfg.Frames.FFmpegPath)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 5, cfg.Monitor.MaxStreamFailures)
	assert.Equal(t, 5*time.Minute, cfg.NotifyCooldown())
	assert.Equal(t, "postgres://localhost/monitor", cfg.Database.DSN)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: postgres://localhost/monitor
detection:
  url: http://localhost:9000
`)
	t.Setenv("DATABASE_URL", "postgres://prod-host/monitor")
	t.Setenv("DETECTION_URL", "http://detector:9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://prod-host/monitor", cfg.Database.DSN)
	assert.Equal(t, "http://detector:9000", cfg.Detection.URL)
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
monitor:
  poll_interval_ms: 250
notify:
  webhooks:
    - https://hooks.example.com/a
    - https://hooks.example.com/b
  cooldown_minutes: 10
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval())
	assert.Len(t, cfg.Notify.Webhooks, 2)
	assert.Equal(t, 10*time.Minute, cfg.NotifyCooldown())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "::not yaml::")
	_, err := Load(path)
	assert.Error(t, err)
}
