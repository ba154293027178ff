// Command mailsort keeps a mailbox folder tree in step with a tag
// taxonomy and sorts incoming mail into it.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsort/internal/credential"
	"github.com/nhle/mailsort/internal/logger"
	"github.com/nhle/mailsort/internal/mailstore/imapstore"
	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/store"
	"github.com/nhle/mailsort/internal/sync"
)

var (
	configPath string
	dbPath     string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mailsort",
		Short:         "Sort mail into folders that mirror a tag taxonomy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(relocateCmd())
	rootCmd.AddCommand(foldersCmd())
	rootCmd.AddCommand(messagesCmd())
	rootCmd.AddCommand(unclassifiedCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(taxonomyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles what a command needs. Fields are filled on demand.
type app struct {
	cfg    *model.AppConfig
	log    *logger.Logger
	db     *store.SQLiteStore
	mail   *imapstore.Store
	runner *sync.Runner
}

func loadConfig() (*model.AppConfig, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// openApp loads configuration and opens the database. With withMail it
// also prepares the IMAP store and the runner.
func openApp(withMail bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log := logger.New(logger.Config{
		Format: cfg.Log.Format,
		Level:  logger.ParseLevel(cfg.Log.Level),
	})

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, db: db}
	if !withMail {
		return a, nil
	}

	if cfg.IMAP.Host == "" || cfg.IMAP.Username == "" {
		a.close()
		return nil, fmt.Errorf("imap.host and imap.username must be set in %s (see 'mailsort init')", configPath)
	}
	password, err := credential.IMAPPassword(credential.NewKeyring(), model.PasswordEnv, cfg.IMAP.Username)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("no IMAP password (run 'mailsort login' or set %s): %w", model.PasswordEnv, err)
	}

	a.mail = imapstore.New(imapstore.Config{
		Host:     cfg.IMAP.Host,
		Port:     cfg.IMAP.Port,
		Username: cfg.IMAP.Username,
		Password: password,
		TLS:      cfg.IMAP.TLS,
		Account:  cfg.Mailbox.Account,
	}, log.Logger)

	a.runner, err = sync.NewRunner(a.mail, db, cfg.Mailbox, log.Logger)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.mail != nil {
		if err := a.mail.Close(); err != nil {
			a.log.Debug("closing IMAP connection", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("closing database", "error", err)
	}
}
