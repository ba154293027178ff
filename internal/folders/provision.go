package folders

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/nhle/mailsort/internal/mailstore"
)

// Map resolves taxonomy path keys to folder handles.
type Map map[string]mailstore.Folder

// Paths returns the mapped paths, sorted.
func (m Map) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ResolveAccount picks the account hosting the taxonomy: the one named
// name, or the last listed account when name is empty.
func ResolveAccount(ctx context.Context, dir mailstore.Directory, name string) (mailstore.Account, error) {
	accounts, err := dir.Accounts(ctx)
	if err != nil {
		return mailstore.Account{}, fmt.Errorf("listing accounts: %w", err)
	}
	if len(accounts) == 0 {
		return mailstore.Account{}, fmt.Errorf("no mail accounts configured")
	}
	if name == "" {
		return accounts[len(accounts)-1], nil
	}
	for _, acc := range accounts {
		if acc.Name == name {
			return acc, nil
		}
	}
	return mailstore.Account{}, fmt.Errorf("account %q not found", name)
}

// FindRoot looks up the top-level folder called name.
func FindRoot(ctx context.Context, dir mailstore.Directory, acc mailstore.Account, name string) (mailstore.Folder, bool, error) {
	top, err := dir.TopFolders(ctx, acc)
	if err != nil {
		return mailstore.Folder{}, false, fmt.Errorf("listing top folders of %s: %w", acc.Name, err)
	}
	f, ok := mailstore.FindChild(top, name)
	return f, ok, nil
}

// EnsureRoot returns the top-level folder called name, creating it when
// missing.
func EnsureRoot(ctx context.Context, dir mailstore.Directory, acc mailstore.Account, name string) (mailstore.Folder, error) {
	f, ok, err := FindRoot(ctx, dir, acc, name)
	if err != nil {
		return mailstore.Folder{}, err
	}
	if ok {
		return f, nil
	}
	f, err = dir.CreateFolder(ctx, mailstore.Folder{AccountID: acc.ID}, name)
	if err != nil {
		return mailstore.Folder{}, fmt.Errorf("creating root folder %s: %w", name, err)
	}
	return f, nil
}

// ActualShape lists the folder tree below root breadth first.
func ActualShape(ctx context.Context, dir mailstore.Directory, root mailstore.Folder) (Shape, error) {
	type item struct {
		folder mailstore.Folder
		rel    string
	}

	shape := make(Shape)
	queue := []item{{folder: root}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		children, err := dir.SubFolders(ctx, cur.folder)
		if err != nil {
			return nil, fmt.Errorf("listing subfolders of %s: %w", cur.folder.Path, err)
		}
		for _, child := range children {
			rel := child.Name
			if cur.rel != "" {
				rel = cur.rel + shapeSep + child.Name
			}
			shape[rel] = struct{}{}
			queue = append(queue, item{folder: child, rel: rel})
		}
	}
	return shape, nil
}

// Provisioner creates the folders of a Plan that do not exist yet.
type Provisioner struct {
	dir    mailstore.Directory
	logger *slog.Logger
}

// NewProvisioner returns a Provisioner. A nil logger uses slog.Default().
func NewProvisioner(dir mailstore.Directory, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{dir: dir, logger: logger.With("component", "provisioner")}
}

// Provision walks plan under root, reusing existing folders whose name
// matches and creating the rest. A folder that cannot be created is
// logged and left out of the returned map together with its subtree; a
// folder that cannot be listed keeps its own entry but loses its subtree.
// Only context cancellation is returned as an error.
func (p *Provisioner) Provision(ctx context.Context, plan Plan, root mailstore.Folder) (Map, error) {
	return p.walk(ctx, plan, root, true)
}

// Resolve maps plan onto the folders that already exist under root and
// creates nothing. Paths without a folder are absent from the map, and so
// are their subtrees.
func (p *Provisioner) Resolve(ctx context.Context, plan Plan, root mailstore.Folder) (Map, error) {
	return p.walk(ctx, plan, root, false)
}

func (p *Provisioner) walk(ctx context.Context, plan Plan, root mailstore.Folder, create bool) (Map, error) {
	handles := make([]*mailstore.Folder, len(plan))
	handles[0] = &root

	listings := make(map[int][]mailstore.Folder)
	unlisted := make(map[int]bool)
	created := 0

	for i := 1; i < len(plan); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node := plan[i]
		parent := handles[node.Parent]
		if parent == nil || unlisted[node.Parent] {
			continue
		}

		existing, listed := listings[node.Parent]
		if !listed {
			var err error
			existing, err = p.dir.SubFolders(ctx, *parent)
			if err != nil {
				p.logger.Error("listing folder failed", "path", plan[node.Parent].Path, "error", err)
				unlisted[node.Parent] = true
				continue
			}
			listings[node.Parent] = existing
		}

		if f, ok := mailstore.FindChild(existing, node.Name); ok {
			handles[i] = &f
			continue
		}
		if !create {
			p.logger.Debug("folder missing", "path", node.Path, "name", node.Name)
			continue
		}

		f, err := p.dir.CreateFolder(ctx, *parent, node.Name)
		if err != nil {
			p.logger.Error("creating folder failed", "path", node.Path, "name", node.Name, "error", err)
			continue
		}
		p.logger.Debug("created folder", "path", node.Path, "folder", f.Path)
		created++

		handles[i] = &f
		listings[node.Parent] = append(listings[node.Parent], f)
		listings[i] = []mailstore.Folder{}
	}

	m := make(Map, len(plan))
	for i, h := range handles {
		if h != nil {
			m[plan[i].Path] = *h
		}
	}

	if create {
		p.logger.Info("provisioned folders", "mapped", len(m), "created", created, "expected", len(plan))
	} else {
		p.logger.Debug("resolved folders", "mapped", len(m), "expected", len(plan))
	}
	return m, nil
}
