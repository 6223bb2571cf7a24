package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predixaai-alert-engine/internal/crypto"
)

const testKey = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alert-engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 8095, cfg.HTTP.Port)
	assert.Equal(t, "file", cfg.Rules.Source)
	assert.Equal(t, 7, cfg.Silence.MaxDays)
	assert.Equal(t, 15*time.Second, cfg.Executor.ActionTimeout)
	assert.Equal(t, 720*time.Hour, cfg.Dedup.TTL)
	assert.Empty(t, cfg.Webhook.AllowedHosts)
	assert.Equal(t, 1<<20, cfg.Webhook.MaxPayloadBytes)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
http:
  port: 9000
rules:
  source: file
  file: /etc/alert-engine/rules.yaml
webhook:
  allowed_hosts: [hooks.example.com]
  timeout: 5s
silence:
  max_days: 3
`)
	t.Setenv("ALERTENGINE_HTTP_PORT", "9100")
	t.Setenv("ALERTENGINE_WEBHOOK_ALLOWED_SUFFIXES", "example.org, .corp.example")
	t.Setenv("ALERTENGINE_TELEGRAM_CHAT_ID", "-100123")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9100, cfg.HTTP.Port)
	assert.Equal(t, "/etc/alert-engine/rules.yaml", cfg.Rules.File)
	assert.Equal(t, []string{"hooks.example.com"}, cfg.Webhook.AllowedHosts)
	assert.Equal(t, []string{"example.org", ".corp.example"}, cfg.Webhook.AllowedSuffixes)
	assert.Equal(t, 5*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, 3, cfg.Silence.MaxDays)
	assert.Equal(t, "-100123", cfg.Telegram.ChatID)
}

func TestLoadDecryptsSecrets(t *testing.T) {
	enc, err := crypto.NewAesGcmEncryptor([]byte(testKey))
	require.NoError(t, err)
	sealed, err := crypto.Seal(enc, "123:bot-token")
	require.NoError(t, err)

	t.Setenv("ALERTENGINE_ENCRYPTION_KEY", testKey)
	t.Setenv("ALERTENGINE_TELEGRAM_TOKEN", sealed)
	t.Setenv("ALERTENGINE_GITHUB_TOKEN", "ghp_plain")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "123:bot-token", cfg.Telegram.Token)
	assert.Equal(t, "ghp_plain", cfg.GitHub.Token)
}

func TestLoadEncryptedSecretWithoutKey(t *testing.T) {
	t.Setenv("ALERTENGINE_GITHUB_TOKEN", "enc:AAAA")
	_, err := Load("")
	require.ErrorIs(t, err, crypto.ErrNoKey)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown rules source":     func(c *Config) { c.Rules.Source = "s3" },
		"postgres without url":     func(c *Config) { c.Rules.Source = "postgres" },
		"file without path":        func(c *Config) { c.Rules.File = "" },
		"bad port":                 func(c *Config) { c.HTTP.Port = 70000 },
		"alert log driver no dsn":  func(c *Config) { c.AlertLog.Driver = "mysql" },
		"negative silence max age": func(c *Config) { c.Silence.MaxDays = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := &Config{Rules: RulesConfig{Source: "file", File: "rules.yaml"}, HTTP: HTTPConfig{Port: 8095}}
			require.NoError(t, cfg.Validate())
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
