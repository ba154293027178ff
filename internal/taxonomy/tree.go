// Package taxonomy turns a user-authored taxonomy snapshot into the
// structures the sorter works with: a flat arena of nodes addressed by
// path, the tag index used for matching and the tag snapshot used for
// drift detection.
package taxonomy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nhle/mailsort/internal/model"
)

var (
	// ErrEmpty is returned when no taxonomy has been saved yet.
	ErrEmpty = errors.New("taxonomy is empty")

	// ErrMalformed is returned when a taxonomy cannot be mapped onto folders.
	ErrMalformed = errors.New("taxonomy is malformed")
)

// NodeID addresses a node inside a Tree. IDs follow pre-order, so the root
// is always 0 and a parent always has a smaller ID than its children.
type NodeID int

// NoParent is the parent ID of the root node.
const NoParent NodeID = -1

// Node is one arena entry.
type Node struct {
	ID       NodeID
	Topic    string
	Path     string
	Tags     []string
	HasTags  bool
	Parent   NodeID
	Children []NodeID
	Depth    int
}

// IsRoot reports whether n is the unnamed taxonomy root.
func (n *Node) IsRoot() bool { return n.Parent == NoParent }

// Tree is an immutable arena representation of a taxonomy snapshot.
type Tree struct {
	nodes  []Node
	byPath map[string]NodeID
}

// Build flattens root into a Tree. rootPath is the path given to the root
// node, normally the name of the mailbox root folder; descendants get
// "rootPath/topic/...". Sibling topics must be unique and non-empty.
func Build(root *model.TaxonomyNode, rootPath string) (*Tree, error) {
	if root == nil {
		return nil, ErrEmpty
	}

	t := &Tree{byPath: make(map[string]NodeID)}
	t.nodes = append(t.nodes, Node{
		ID:      0,
		Topic:   root.Topic,
		Path:    rootPath,
		Tags:    root.Tags,
		HasTags: root.HasTags(),
		Parent:  NoParent,
	})
	t.byPath[rootPath] = 0

	type pending struct {
		src    *model.TaxonomyNode
		parent NodeID
	}

	// Depth-first with an explicit stack; children are pushed in reverse
	// so IDs come out in authored pre-order.
	stack := make([]pending, 0, len(root.Children))
	for i := len(root.Children) - 1; i >= 0; i-- {
		stack = append(stack, pending{src: root.Children[i], parent: 0})
	}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.src == nil {
			return nil, fmt.Errorf("%w: nil child under %q", ErrMalformed, t.nodes[p.parent].Path)
		}

		topic := strings.TrimSpace(p.src.Topic)
		if topic == "" {
			return nil, fmt.Errorf("%w: empty topic under %q", ErrMalformed, t.nodes[p.parent].Path)
		}

		parent := &t.nodes[p.parent]
		path := parent.Path + "/" + topic
		if _, dup := t.byPath[path]; dup {
			return nil, fmt.Errorf("%w: duplicate topic %q", ErrMalformed, path)
		}

		id := NodeID(len(t.nodes))
		parent.Children = append(parent.Children, id)
		t.nodes = append(t.nodes, Node{
			ID:      id,
			Topic:   topic,
			Path:    path,
			Tags:    p.src.Tags,
			HasTags: p.src.HasTags(),
			Parent:  p.parent,
			Depth:   t.nodes[p.parent].Depth + 1,
		})
		t.byPath[path] = id

		for i := len(p.src.Children) - 1; i >= 0; i-- {
			stack = append(stack, pending{src: p.src.Children[i], parent: id})
		}
	}

	return t, nil
}

// Root returns the root node.
func (t *Tree) Root() *Node { return &t.nodes[0] }

// Node returns the node with the given ID.
func (t *Tree) Node(id NodeID) *Node { return &t.nodes[id] }

// Len returns the number of nodes including the root.
func (t *Tree) Len() int { return len(t.nodes) }

// Lookup returns the node at path.
func (t *Tree) Lookup(path string) (*Node, bool) {
	id, ok := t.byPath[path]
	if !ok {
		return nil, false
	}
	return &t.nodes[id], true
}

// Walk visits every node in pre-order, the root first.
func (t *Tree) Walk(fn func(n *Node)) {
	for i := range t.nodes {
		fn(&t.nodes[i])
	}
}

// PostOrder visits every node with children before their parent, siblings
// in authored order.
func (t *Tree) PostOrder(fn func(n *Node)) {
	type frame struct {
		id      NodeID
		visited bool
	}
	stack := []frame{{id: 0}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if top.visited {
			fn(&t.nodes[top.id])
			continue
		}

		stack = append(stack, frame{id: top.id, visited: true})
		children := t.nodes[top.id].Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{id: children[i]})
		}
	}
}
