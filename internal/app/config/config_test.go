package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfigFile(t, `
poll_interval: 1m
log_level: -4
storage:
  driver: sqlite
  path: /var/lib/listbridge/listbridge.db
properties:
  mail_host: mail.example.org
  mail_account: lists@example.org
  smtp_relay_host: relay.example.org
`)

	cfg, err := Load(path, filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, time.Minute, cfg.PollCycleTimeout)
	assert.Equal(t, -4, cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "mail.example.org", cfg.Properties.Get(PropMailHost, ""))
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfigFile(t, "log_level: 0\n")

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultPollInterval, cfg.PollCycleTimeout)
	assert.NotNil(t, cfg.Properties)
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("LISTBRIDGE_TEST_PASSWORD", "hunter2")

	path := writeConfigFile(t, `
properties:
  mail_password: ${LISTBRIDGE_TEST_PASSWORD}
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Properties.Get(PropMailPassword, ""))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.Error(t, err)
}

func TestSettingsGet(t *testing.T) {
	s := Settings{"mail_host": "mail.example.org", "mail_protocol": ""}

	assert.Equal(t, "mail.example.org", s.Get("mail_host", "fallback"))
	assert.Equal(t, "imaps", s.Get("mail_protocol", "imaps"))
	assert.Equal(t, "imaps", s.Get("absent", "imaps"))
}
