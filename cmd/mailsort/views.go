package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsort/internal/classify"
	"github.com/nhle/mailsort/internal/mailstore"
	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/theme"
)

const dateLayout = "2006-01-02 15:04"

func foldersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "folders",
		Short: "Show the taxonomy path to folder map",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			rc, err := a.runner.Context(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Println(theme.HeaderStyle.Render("Folders") + " " + theme.MutedStyle.Render(rc.Account.Name))
			for _, p := range rc.Folders.Paths() {
				fmt.Printf("%s %s %s\n", theme.PathStyle.Render(p),
					theme.MutedStyle.Render("->"), rc.Folders[p].Path)
			}
			return nil
		},
	}
}

func messagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages PATH",
		Short: "List the messages of a taxonomy folder, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			rc, err := a.runner.Context(ctx)
			if err != nil {
				return err
			}
			path, err := resolvePath(rc, args[0])
			if err != nil {
				return err
			}

			msgs, err := classify.FolderMessages(ctx, a.mail, rc, path)
			if err != nil {
				return err
			}

			fmt.Println(theme.HeaderStyle.Render(path) + " " + theme.MutedStyle.Render(fmt.Sprintf("%d message(s)", len(msgs))))
			for _, m := range msgs {
				printMessage(os.Stdout, m, false)
			}
			return nil
		},
	}
}

func unclassifiedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unclassified",
		Short: "List unclassified messages, marking the ones not shown before",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			rc, err := a.runner.Context(ctx)
			if err != nil {
				return err
			}

			items, err := classify.UnclassifiedView(ctx, a.mail, a.db, rc)
			if err != nil {
				return err
			}

			fresh := 0
			for _, it := range items {
				if it.New {
					fresh++
				}
			}
			fmt.Println(theme.HeaderStyle.Render("Unclassified") + " " +
				theme.MutedStyle.Render(fmt.Sprintf("%d message(s), %d new", len(items), fresh)))
			for _, it := range items {
				printMessage(os.Stdout, it.Message, it.New)
			}
			return nil
		},
	}
}

func printMessage(w io.Writer, m mailstore.Message, isNew bool) {
	badge := "   "
	if isNew {
		badge = theme.NewBadge
	}
	fmt.Fprintf(w, "%s %s  %s  %s\n  %s\n",
		badge,
		theme.MutedStyle.Render(m.Date.Local().Format(dateLayout)),
		m.Author,
		m.Subject,
		theme.MutedStyle.Render(m.ID))
}

func notificationsCmd() *cobra.Command {
	var all, clearAll bool
	var ack string

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List, acknowledge or clear unclassified-message notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			switch {
			case clearAll:
				if err := a.db.ClearNotifications(ctx); err != nil {
					return err
				}
				fmt.Println("Notifications cleared")
				return nil
			case ack != "":
				if err := a.db.MarkNotificationRead(ctx, ack); err != nil {
					return err
				}
				fmt.Printf("Marked %s as read\n", ack)
				return nil
			}

			notes, err := a.db.ListNotifications(ctx, !all)
			if err != nil {
				return err
			}
			if len(notes) == 0 {
				fmt.Println("No notifications.")
				return nil
			}
			for _, n := range notes {
				printNotification(os.Stdout, n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include read notifications")
	cmd.Flags().StringVar(&ack, "ack", "", "mark the notification with this id as read")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "delete every notification")
	cmd.MarkFlagsMutuallyExclusive("ack", "clear")
	return cmd
}

func printNotification(w io.Writer, n model.Notification) {
	badge := "   "
	if !n.Read {
		badge = theme.NewBadge
	}
	fmt.Fprintf(w, "%s %s  %s  %s\n  %s\n",
		badge,
		theme.MutedStyle.Render(n.Date.Local().Format(dateLayout)),
		n.Author,
		n.Subject,
		theme.MutedStyle.Render(n.ID))
}
