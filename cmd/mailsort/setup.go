package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsort/internal/credential"
	"github.com/nhle/mailsort/internal/model"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			port := cfg.IMAP.Port
			err = huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("IMAP host").
						Placeholder("imap.example.com").
						Value(&cfg.IMAP.Host).
						Validate(validateRequired("Host")),
					huh.NewInput().
						Title("Port").
						Value(&port).
						Validate(validatePort),
					huh.NewConfirm().
						Title("Implicit TLS").
						Description("Choose No to use STARTTLS").
						Value(&cfg.IMAP.TLS),
					huh.NewInput().
						Title("Username").
						Value(&cfg.IMAP.Username).
						Validate(validateRequired("Username")),
				),
				huh.NewGroup(
					huh.NewInput().
						Title("Root folder").
						Description("Top-level folder mirroring the taxonomy").
						Value(&cfg.Mailbox.RootFolder).
						Validate(validateRequired("Root folder")),
					huh.NewInput().
						Title("Unclassified folder").
						Value(&cfg.Mailbox.Unclassified).
						Validate(validateRequired("Unclassified folder")),
				),
			).Run()
			if err != nil {
				return err
			}
			cfg.IMAP.Port = port

			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := model.SaveConfig(configPath, cfg); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", configPath)
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store the IMAP password in the system keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.IMAP.Username == "" {
				return errors.New("imap.username is not configured (see 'mailsort init')")
			}

			var password string
			err = huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("IMAP password").
						Description(cfg.IMAP.Username + " at " + cfg.IMAP.Host).
						EchoMode(huh.EchoModePassword).
						Value(&password).
						Validate(validateRequired("Password")),
				),
			).Run()
			if err != nil {
				return err
			}

			if err := credential.NewKeyring().Set(credential.IMAPKey(cfg.IMAP.Username), password); err != nil {
				return err
			}
			fmt.Println("Password saved")
			return nil
		},
	}
}

func validateRequired(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func validatePort(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return errors.New("port must be a number between 1 and 65535")
	}
	return nil
}
