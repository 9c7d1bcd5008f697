package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vremote.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000", cfg.Controls.ProxyURL)
	assert.True(t, cfg.Controls.Enabled)
	assert.False(t, cfg.Controls.Debug)
	assert.Empty(t, cfg.Controls.PairCode)
	assert.Equal(t, 100*time.Millisecond, cfg.Gesture.TapWindow)
	assert.Equal(t, 300*time.Millisecond, cfg.Gesture.PressThreshold)
	assert.Equal(t, 20*time.Millisecond, cfg.Gesture.TapHold)
	assert.Equal(t, 0.025, cfg.Gesture.Sensitivity)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, time.Second/60, cfg.TickInterval())
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, `
controls:
  proxy_url: https://relay.example.com
  pair_code: AB12
  enabled: false
  debug: true
  tick_rate: 30
gesture:
  tap_window: 150ms
  press_threshold: 400ms
  sensitivity: 0.05
server:
  port: 8443
  use_nats: true
  nats:
    url: nats://nats:4222
    subject_prefix: test.pair
phone:
  source: evdev
  device: /dev/input/event3
  ping_interval: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://relay.example.com", cfg.Controls.ProxyURL)
	assert.Equal(t, "AB12", cfg.Controls.PairCode)
	assert.False(t, cfg.Controls.Enabled)
	assert.True(t, cfg.Controls.Debug)
	assert.Equal(t, 30, cfg.Controls.TickRate)
	assert.Equal(t, 150*time.Millisecond, cfg.Gesture.TapWindow)
	assert.Equal(t, 400*time.Millisecond, cfg.Gesture.PressThreshold)
	assert.Equal(t, 20*time.Millisecond, cfg.Gesture.TapHold, "unset fields keep defaults")
	assert.Equal(t, 0.05, cfg.Gesture.Sensitivity)
	assert.Equal(t, 8443, cfg.Server.Port)
	assert.True(t, cfg.Server.UseNATS)
	assert.Equal(t, "nats://nats:4222", cfg.Server.NATS.URL)
	assert.Equal(t, "test.pair", cfg.Server.NATS.SubjectPrefix)
	assert.Equal(t, "/dev/input/event3", cfg.Phone.Device)
	assert.Equal(t, 5*time.Second, cfg.Phone.PingInterval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "controls:\n  pair_code: FILE\n  enabled: true\n")
	t.Setenv("VREMOTE_PAIR_CODE", "ENV1")
	t.Setenv("VREMOTE_ENABLED", "false")
	t.Setenv("VREMOTE_DEBUG", "1")
	t.Setenv("VREMOTE_PORT", "9100")
	t.Setenv("VREMOTE_NATS_URL", "nats://other:4222")
	t.Setenv("VREMOTE_TICK_RATE", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ENV1", cfg.Controls.PairCode)
	assert.False(t, cfg.Controls.Enabled)
	assert.True(t, cfg.Controls.Debug)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.True(t, cfg.Server.UseNATS)
	assert.Equal(t, "nats://other:4222", cfg.Server.NATS.URL)
	assert.Equal(t, 60, cfg.Controls.TickRate, "unparsable values fall back")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "controls: [unclosed"))
	assert.Error(t, err)

	tests := []struct {
		name string
		yaml string
	}{
		{"bad scheme", "controls:\n  proxy_url: ftp://host\n"},
		{"zero tick rate", "controls:\n  tick_rate: -1\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"evdev without device", "phone:\n  source: evdev\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestValidate_DiscoverSkipsProxyURL(t *testing.T) {
	cfg := Default()
	cfg.Controls.Discover = true
	cfg.Controls.ProxyURL = ""
	assert.NoError(t, cfg.Validate())
}
