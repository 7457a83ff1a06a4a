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
	// An empty file leaves everything at defaults.
	cfg, err := loadFromDir(t, "")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, []string{"*"}, cfg.Server.AllowOrigins)
	assert.Equal(t, "telegram", cfg.Channels.Default)
	assert.False(t, cfg.Channels.Telegram.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Scenes.ActionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Presence.TTL)
	assert.Equal(t, 64, cfg.Presence.MaxPerItem)
	assert.Equal(t, 10*time.Second, cfg.Notify.DeliveryTimeout)
}

func loadFromDir(t *testing.T, content string) (Config, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "scenehub-config.yaml")
	if content == "" {
		content = "{}\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return Load(path)
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := loadFromDir(t, `
server:
  host: 127.0.0.1
  port: 9000
channels:
  default: vk
  telegram:
    enabled: true
    token: "123:abc"
  vk:
    enabled: true
    token: vk-token
    group_id: 777
scenes:
  action_timeout: 2s
presence:
  ttl: 90s
  max_per_item: 8
notify:
  delivery_timeout: 3s
`)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, "vk", cfg.Channels.Default)
	assert.True(t, cfg.Channels.Telegram.Enabled)
	assert.Equal(t, "123:abc", cfg.Channels.Telegram.Token)
	assert.Equal(t, int64(777), cfg.Channels.VK.GroupID)
	assert.Equal(t, 2*time.Second, cfg.Scenes.ActionTimeout)
	assert.Equal(t, 90*time.Second, cfg.Presence.TTL)
	assert.Equal(t, 8, cfg.Presence.MaxPerItem)
	assert.Equal(t, 3*time.Second, cfg.Notify.DeliveryTimeout)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	cfg, err := loadFromDir(t, `
server:
  port: 9100
`)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 5*time.Second, cfg.Scenes.ActionTimeout)
	assert.Equal(t, 64, cfg.Presence.MaxPerItem)
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := loadFromDir(t, "server: [not: a: mapping\n")
	assert.Error(t, err)
}
