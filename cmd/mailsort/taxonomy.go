package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsort/internal/taxonomy"
	"github.com/nhle/mailsort/internal/theme"
)

var errNoTaxonomy = errors.New("no taxonomy saved yet (see 'mailsort taxonomy import')")

func taxonomyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Manage the taxonomy that drives sorting",
	}
	cmd.AddCommand(taxonomyImportCmd())
	cmd.AddCommand(taxonomyShowCmd())
	return cmd
}

func taxonomyImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Replace the taxonomy with a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			root, err := taxonomy.Parse(data)
			if err != nil {
				return err
			}

			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.db.SaveTaxonomy(cmd.Context(), root); err != nil {
				return err
			}

			tree, err := taxonomy.Build(root, a.cfg.Mailbox.RootFolder)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d topic(s); the next run will apply them\n", tree.Len()-1)
			return nil
		},
	}
}

func taxonomyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the taxonomy with own and inherited tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			root, err := a.db.LoadTaxonomy(cmd.Context())
			if err != nil {
				return err
			}
			if root == nil {
				return errNoTaxonomy
			}
			tree, err := taxonomy.Build(root, a.cfg.Mailbox.RootFolder)
			if err != nil {
				return err
			}

			renderTaxonomy(os.Stdout, tree, taxonomy.BuildIndex(tree))
			return nil
		},
	}
}

// renderTaxonomy prints one line per node, indented by depth, followed by
// its own tags and, dimmed, the tags it inherits.
func renderTaxonomy(w io.Writer, tree *taxonomy.Tree, ix *taxonomy.Index) {
	tree.Walk(func(n *taxonomy.Node) {
		if n.IsRoot() {
			fmt.Fprintln(w, theme.HeaderStyle.Render(n.Path))
			return
		}

		line := strings.Repeat("  ", n.Depth-1) + theme.PathStyle.Render(n.Topic)
		if e, ok := ix.Entry(n.Path); ok {
			if len(e.OwnTags) > 0 {
				line += " " + theme.TagStyle.Render("["+strings.Join(e.OwnTags, ", ")+"]")
			}
			if len(e.InheritedTags) > 0 {
				line += " " + theme.InheritedTagStyle.Render("+["+strings.Join(e.InheritedTags, ", ")+"]")
			}
		}
		fmt.Fprintln(w, line)
	})
}
