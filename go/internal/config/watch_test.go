package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "controls:\n  enabled: true\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, path, func(cfg *Config) { reloaded <- cfg }))

	require.NoError(t, os.WriteFile(path, []byte("controls:\n  enabled: false\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.False(t, cfg.Controls.Enabled)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), "/nonexistent/dir/vremote.yaml", func(*Config) {})
	assert.Error(t, err)
}
