package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsort/internal/classify"
	"github.com/nhle/mailsort/internal/theme"
)

func relocateCmd() *cobra.Command {
	var from, to, allTo string

	cmd := &cobra.Command{
		Use:   "relocate [message-id]",
		Short: "Move a message between taxonomy folders",
		Long: "Move one message, or with --all-to every message of the source folder, " +
			"to another taxonomy folder. The source defaults to the unclassified folder. " +
			"Without --to a destination picker is shown.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if allTo == "" && len(args) == 0 {
				return errors.New("a message id or --all-to is required")
			}

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

			src := rc.UnclassifiedPath
			if from != "" {
				if src, err = resolvePath(rc, from); err != nil {
					return err
				}
			}

			if allTo != "" {
				dst, err := resolvePath(rc, allTo)
				if err != nil {
					return err
				}
				n, err := a.runner.RelocateAll(ctx, src, dst)
				if err != nil {
					return err
				}
				fmt.Printf("Moved %d message(s) from %s to %s\n", n,
					theme.PathStyle.Render(src), theme.PathStyle.Render(dst))
				return nil
			}

			var dst string
			if to != "" {
				if dst, err = resolvePath(rc, to); err != nil {
					return err
				}
			} else if dst, err = pickDestination(rc, src); err != nil {
				return err
			}

			moved, err := a.runner.Relocate(ctx, args[0], src, dst)
			if err != nil {
				return err
			}
			fmt.Printf("Moved %s to %s %s\n", args[0], theme.PathStyle.Render(dst),
				theme.MutedStyle.Render("(now "+moved.ID+")"))
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "source taxonomy path (default: the unclassified folder)")
	cmd.Flags().StringVar(&to, "to", "", "destination taxonomy path")
	cmd.Flags().StringVar(&allTo, "all-to", "", "move every message of the source folder to this path")
	cmd.MarkFlagsMutuallyExclusive("to", "all-to")
	return cmd
}

// resolvePath accepts a full taxonomy path key or one relative to the
// taxonomy root.
func resolvePath(rc *classify.RunContext, p string) (string, error) {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if _, ok := rc.Folders[p]; ok {
		return p, nil
	}
	full := rc.Tree.Root().Path + "/" + p
	if _, ok := rc.Folders[full]; ok {
		return full, nil
	}
	return "", fmt.Errorf("%s: %w", p, classify.ErrUnknownPath)
}

// destinations lists the provisioned paths a message in src can move to.
func destinations(rc *classify.RunContext, src string) []string {
	var out []string
	for _, p := range rc.Folders.Paths() {
		if p == src || p == rc.Tree.Root().Path {
			continue
		}
		out = append(out, p)
	}
	return out
}

func pickDestination(rc *classify.RunContext, src string) (string, error) {
	paths := destinations(rc, src)
	if len(paths) == 0 {
		return "", errors.New("no destination folders provisioned")
	}

	opts := make([]huh.Option[string], len(paths))
	for i, p := range paths {
		opts[i] = huh.NewOption(p, p)
	}

	var dst string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Destination").
				Description("Move from " + src).
				Options(opts...).
				Value(&dst),
		),
	).Run()
	if err != nil {
		return "", fmt.Errorf("choosing destination: %w", err)
	}
	return dst, nil
}
