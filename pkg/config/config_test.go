package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Bus.MaxHistory)
	assert.Equal(t, 30*time.Second, cfg.Frame.LoadTimeout)
	assert.Equal(t, 3, cfg.Frame.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Perf.SampleInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Input.FocusPollInterval)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Bus.MaxHistory)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "framegate.yaml")
	body := `
bus:
  max_history: 42
frame:
  load_timeout: 10s
  retry_attempts: 1
bridge:
  allowed_origins:
    - https://tool.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("FRAMEGATE_FRAME_RETRY_ATTEMPTS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Bus.MaxHistory)
	assert.Equal(t, 10*time.Second, cfg.Frame.LoadTimeout)
	// Environment wins over the file.
	assert.Equal(t, 7, cfg.Frame.RetryAttempts)
	assert.Equal(t, []string{"https://tool.example.com"}, cfg.Bridge.AllowedOrigins)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("FRAMEGATE_BUS_MAX_HISTORY", "-1")
	_, err := Load("")
	require.Error(t, err)
}
