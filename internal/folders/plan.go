// Package folders mirrors the taxonomy as a folder tree in the mail store:
// it computes the expected shape, reads the actual one, and provisions
// whatever is missing.
package folders

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nhle/mailsort/internal/taxonomy"
)

var (
	// ErrReservedName is returned when a top-level topic collides with the
	// reserved Unclassified folder.
	ErrReservedName = errors.New("topic collides with the unclassified folder")

	// ErrNameCollision is returned when sibling topics sanitize to the same
	// folder name.
	ErrNameCollision = errors.New("sibling topics map to the same folder name")
)

// illegalChars are rejected in folder names by common mail stores.
const illegalChars = `\/:"*?<>|`

// Sanitize replaces runs of characters that mail stores reject in folder
// names, and the store's hierarchy delimiter, with a single underscore.
func Sanitize(name string, delim rune) string {
	var b strings.Builder
	b.Grow(len(name))
	inRun := false
	for _, r := range name {
		if r == delim || strings.ContainsRune(illegalChars, r) {
			if !inRun {
				b.WriteByte('_')
			}
			inRun = true
			continue
		}
		inRun = false
		b.WriteRune(r)
	}
	return b.String()
}

// PlanNode is one folder the taxonomy expects. Path is the taxonomy path
// key; Name is the sanitized folder name.
type PlanNode struct {
	Path   string
	Name   string
	Parent int
}

// Plan lists the expected folders in pre-order. Plan[0] is the root and
// every node's parent precedes it.
type Plan []PlanNode

// NewPlan derives the expected folder tree from the taxonomy, appending
// the unclassified leaf as the last child of the root. delim is the mail
// store's hierarchy delimiter; it never appears in a planned name.
func NewPlan(tree *taxonomy.Tree, unclassified string, delim rune) (Plan, error) {
	plan := make(Plan, 0, tree.Len()+1)
	index := make(map[taxonomy.NodeID]int, tree.Len())
	reserved := Sanitize(unclassified, delim)

	// siblings[parent index][name] is the taxonomy path owning that name.
	siblings := make(map[int]map[string]string)

	var err error
	tree.Walk(func(n *taxonomy.Node) {
		if err != nil {
			return
		}
		if n.IsRoot() {
			index[n.ID] = 0
			plan = append(plan, PlanNode{Path: n.Path, Name: Sanitize(lastSegment(n.Path), delim), Parent: -1})
			return
		}

		parent := index[n.Parent]
		name := Sanitize(n.Topic, delim)
		if parent == 0 && name == reserved {
			err = fmt.Errorf("%s: %w", n.Path, ErrReservedName)
			return
		}
		names := siblings[parent]
		if names == nil {
			names = make(map[string]string)
			siblings[parent] = names
		}
		if other, dup := names[name]; dup {
			err = fmt.Errorf("%s and %s as %q: %w", other, n.Path, name, ErrNameCollision)
			return
		}
		names[name] = n.Path

		index[n.ID] = len(plan)
		plan = append(plan, PlanNode{Path: n.Path, Name: name, Parent: parent})
	})
	if err != nil {
		return nil, err
	}

	plan = append(plan, PlanNode{
		Path:   tree.Root().Path + "/" + unclassified,
		Name:   reserved,
		Parent: 0,
	})
	return plan, nil
}

func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Root returns the root node of the plan.
func (p Plan) Root() PlanNode { return p[0] }

// UnclassifiedPath returns the taxonomy path key of the unclassified leaf.
func (p Plan) UnclassifiedPath() string { return p[len(p)-1].Path }

// Shape returns the expected shape below the root.
func (p Plan) Shape() Shape {
	rel := make([]string, len(p))
	shape := make(Shape, len(p)-1)
	for i := 1; i < len(p); i++ {
		n := p[i]
		if n.Parent == 0 {
			rel[i] = n.Name
		} else {
			rel[i] = rel[n.Parent] + shapeSep + n.Name
		}
		shape[rel[i]] = struct{}{}
	}
	return shape
}

// shapeSep joins folder names in shape keys. It is unlikely in folder
// names.
const shapeSep = "\x1f"

// Shape is the set of folder-name paths below a root. Two trees have
// equal child-name sets at every level exactly when their shapes are
// equal.
type Shape map[string]struct{}

// Equal reports whether s and o describe the same tree.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for k := range s {
		if _, ok := o[k]; !ok {
			return false
		}
	}
	return true
}

// Diff returns the slash-joined paths present in s but not in actual
// (missing) and those present only in actual (extra), sorted.
func (s Shape) Diff(actual Shape) (missing, extra []string) {
	for k := range s {
		if _, ok := actual[k]; !ok {
			missing = append(missing, strings.ReplaceAll(k, shapeSep, "/"))
		}
	}
	for k := range actual {
		if _, ok := s[k]; !ok {
			extra = append(extra, strings.ReplaceAll(k, shapeSep, "/"))
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}
