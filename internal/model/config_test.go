package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "993", cfg.IMAP.Port)
	assert.True(t, cfg.IMAP.TLS)
	assert.Equal(t, "Taxonomy", cfg.Mailbox.RootFolder)
	assert.Equal(t, "Unclassified", cfg.Mailbox.Unclassified)
	assert.Equal(t, []string{"inbox", "sent"}, cfg.Mailbox.Sources)
	assert.Equal(t, 300, cfg.Poll.IntervalSec)
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
imap:
  host: imap.example.com
  username: me@example.com
mailbox:
  root_folder: Topics
  sources: [inbox]
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "imap.example.com", cfg.IMAP.Host)
	assert.Equal(t, "993", cfg.IMAP.Port)
	assert.Equal(t, "Topics", cfg.Mailbox.RootFolder)
	assert.Equal(t, "Unclassified", cfg.Mailbox.Unclassified)
	assert.Equal(t, []string{"inbox"}, cfg.Mailbox.Sources)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := defaultAppConfig()
	cfg.IMAP.Host = "imap.example.com"
	cfg.IMAP.Username = "me@example.com"
	cfg.Mailbox.Account = "work"
	cfg.Mailbox.HTMLFallback = true
	cfg.Metrics.Addr = ":9108"
	require.NoError(t, SaveConfig(path, cfg))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mailbox:\n  sources: [drafts]\n"), 0o644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, `unknown folder type "drafts"`)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *AppConfig)
		errMsg string
	}{
		{name: "defaults", mutate: func(c *AppConfig) {}},
		{name: "empty root", mutate: func(c *AppConfig) { c.Mailbox.RootFolder = " " }, errMsg: "root_folder"},
		{name: "nested root", mutate: func(c *AppConfig) { c.Mailbox.RootFolder = "A/B" }, errMsg: "must not contain"},
		{name: "empty unclassified", mutate: func(c *AppConfig) { c.Mailbox.Unclassified = "" }, errMsg: "unclassified"},
		{name: "negative interval", mutate: func(c *AppConfig) { c.Poll.IntervalSec = -1 }, errMsg: "interval_sec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultAppConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
