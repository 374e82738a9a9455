package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateHome points the settings directory at an empty temp dir.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoadConfig_Defaults(t *testing.T) {
	home := isolateHome(t)

	cfg, err := loadConfig(nil, "")
	require.NoError(t, err)
	assert.Equal(t, ":4200", cfg.ListenAddr)
	assert.Equal(t, storeMemory, cfg.Store)
	assert.Equal(t, filepath.Join(home, ".socialflow", "socialflow.db"), cfg.DBPath)
	assert.Equal(t, "socialflow", cfg.RedisPrefix)
	assert.Equal(t, time.Minute, cfg.ActorIdleTimeout)
	assert.Zero(t, cfg.ApprovalTTL)
	assert.Zero(t, cfg.ActionTTL)
	assert.Equal(t, "@every 1m", cfg.SweepSchedule)
	assert.Equal(t, 24*time.Hour, cfg.ResultRetention)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
}

func TestLoadConfig_SettingsFileThenEnv(t *testing.T) {
	home := isolateHome(t)
	dir := filepath.Join(home, ".socialflow")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(`{
		"listen_addr": ":5000",
		"store": "libsql",
		"approval_ttl": "1h",
		"log_level": "debug"
	}`), 0o600))
	t.Setenv("SOCIALFLOW_LISTEN_ADDR", ":6000")
	t.Setenv("SOCIALFLOW_ACTION_TTL", "30m")

	cfg, err := loadConfig(nil, "")
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.ListenAddr, "env wins over the settings file")
	assert.Equal(t, storeLibSQL, cfg.Store)
	assert.Equal(t, time.Hour, cfg.ApprovalTTL)
	assert.Equal(t, 30*time.Minute, cfg.ActionTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfig_ExplicitFileMustExist(t *testing.T) {
	isolateHome(t)

	_, err := loadConfig(nil, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	isolateHome(t)
	t.Setenv("SOCIALFLOW_LISTEN_ADDR", ":6000")

	cmd := newRootCmd()
	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, serve.Flags().Set("listen-addr", ":7000"))

	cfg, err := loadConfig(serve, "")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr)
}

func TestConfigValidate(t *testing.T) {
	base := Config{Store: storeMemory}
	assert.NoError(t, base.validate())

	bad := base
	bad.Store = "etcd"
	assert.Error(t, bad.validate())

	bad = base
	bad.ApprovalTTL = -time.Second
	assert.Error(t, bad.validate())

	bad = base
	bad.TelegramToken = "token"
	assert.Error(t, bad.validate(), "chat id is required with a token")
}
