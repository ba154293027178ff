package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// IMAPConfig holds the connection settings for the mailbox being sorted.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`

	// TLS selects implicit TLS; when false the client uses STARTTLS.
	TLS bool `mapstructure:"tls" yaml:"tls"`
}

// MailboxConfig controls where the taxonomy folders live and which folders
// provide candidate messages.
type MailboxConfig struct {
	// Account selects the account that hosts the taxonomy folders. Empty
	// means the last listed account.
	Account string `mapstructure:"account" yaml:"account"`

	// RootFolder is the top-level folder mirroring the taxonomy root.
	RootFolder string `mapstructure:"root_folder" yaml:"root_folder"`

	// Unclassified is the reserved leaf for messages matching no tag.
	Unclassified string `mapstructure:"unclassified" yaml:"unclassified"`

	// Sources lists the folder types scanned for candidates
	// ("inbox", "sent").
	Sources []string `mapstructure:"sources" yaml:"sources"`

	// HTMLFallback lets the matcher read a text/html part converted to
	// plain text when a message has no text/plain part.
	HTMLFallback bool `mapstructure:"html_fallback" yaml:"html_fallback"`
}

// DatabaseConfig locates the local SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// PollConfig holds settings for periodic runs.
type PollConfig struct {
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`
}

// MetricsConfig holds the Prometheus listener address. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	IMAP     IMAPConfig     `mapstructure:"imap" yaml:"imap"`
	Mailbox  MailboxConfig  `mapstructure:"mailbox" yaml:"mailbox"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Poll     PollConfig     `mapstructure:"poll" yaml:"poll"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// PasswordEnv is the environment variable that overrides the keyring
// password.
const PasswordEnv = "MAILSORT_IMAP_PASSWORD"

// configDir returns ~/.config/mailsort, or the working directory when the
// home directory cannot be resolved.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailsort")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsort/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultDatabasePath returns ~/.config/mailsort/mailsort.db.
func DefaultDatabasePath() string {
	return filepath.Join(configDir(), "mailsort.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		IMAP: IMAPConfig{
			Port: "993",
			TLS:  true,
		},
		Mailbox: MailboxConfig{
			RootFolder:   "Taxonomy",
			Unclassified: "Unclassified",
			Sources:      []string{"inbox", "sent"},
		},
		Database: DatabaseConfig{
			Path: DefaultDatabasePath(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "pretty",
		},
		Poll: PollConfig{
			IntervalSec: 300,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("imap.port", "993")
	v.SetDefault("imap.tls", true)
	v.SetDefault("mailbox.root_folder", "Taxonomy")
	v.SetDefault("mailbox.unclassified", "Unclassified")
	v.SetDefault("mailbox.sources", []string{"inbox", "sent"})
	v.SetDefault("database.path", DefaultDatabasePath())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "pretty")
	v.SetDefault("poll.interval_sec", 300)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects settings the engine cannot work with.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Mailbox.RootFolder) == "" {
		return fmt.Errorf("mailbox.root_folder must not be empty")
	}
	if strings.TrimSpace(c.Mailbox.Unclassified) == "" {
		return fmt.Errorf("mailbox.unclassified must not be empty")
	}
	if strings.ContainsRune(c.Mailbox.RootFolder, '/') {
		return fmt.Errorf("mailbox.root_folder %q must not contain '/'", c.Mailbox.RootFolder)
	}
	for _, src := range c.Mailbox.Sources {
		switch src {
		case "inbox", "sent":
		default:
			return fmt.Errorf("mailbox.sources: unknown folder type %q", src)
		}
	}
	if c.Poll.IntervalSec < 0 {
		return fmt.Errorf("poll.interval_sec must not be negative")
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("imap", cfg.IMAP)
	v.Set("mailbox", cfg.Mailbox)
	v.Set("database", cfg.Database)
	v.Set("log", cfg.Log)
	v.Set("poll", cfg.Poll)
	v.Set("metrics", cfg.Metrics)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
