package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.DebounceMs)
	assert.Equal(t, 100, cfg.HistoryCapacity)
	assert.Equal(t, float64(0), cfg.CooldownDefaultSeconds)
	assert.True(t, cfg.HotReloadEnabled)

	dc := cfg.Dispatcher()
	assert.Equal(t, 100*time.Millisecond, dc.DebounceWindow)
	assert.Equal(t, time.Duration(0), dc.HandlerTimeout)
	assert.Equal(t, time.Duration(0), dc.DefaultCooldown)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hotcmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
root_dir: /srv/commands
debounce_ms: 250
cooldown_default_seconds: 1.5
history_capacity: 10
hot_reload_enabled: false
exclude: ["**/drafts/**"]
host_capabilities: [SEND_MESSAGES]
logging:
  level: debug
  default_channel: /var/log/hotcmd.log
  channels:
    dispatch: stdout
`), 0644))

	t.Setenv("HOTCMD_HISTORY_CAPACITY", "42")
	t.Setenv("HOTCMD_PRIVILEGED_PRINCIPALS", "owner,admin")
	t.Setenv("HOTCMD_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/commands", cfg.RootDir)
	assert.Equal(t, 250, cfg.DebounceMs)
	assert.Equal(t, 42, cfg.HistoryCapacity)
	assert.False(t, cfg.HotReloadEnabled)
	assert.Equal(t, []string{"owner", "admin"}, cfg.PrivilegedPrincipals)

	dc := cfg.Dispatcher()
	assert.Equal(t, 1500*time.Millisecond, dc.DefaultCooldown)
	assert.Contains(t, dc.Discover.Exclude, "**/drafts/**")
	assert.Contains(t, dc.Discover.Exclude, "**/*_test.go")

	lc := cfg.Logger()
	assert.Equal(t, "json", lc.Format)
	assert.Equal(t, "/var/log/hotcmd.log", lc.DefaultChannel)
	assert.Equal(t, "stdout", lc.Channels["dispatch"])
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.HistoryCapacity = 0
	cfg.DebounceMs = -1
	cfg.RootDir = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history_capacity")
	assert.Contains(t, err.Error(), "debounce_ms")
	assert.Contains(t, err.Error(), "root_dir")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
