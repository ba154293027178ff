package taxonomy

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize prepares a tag or message text for case-insensitive substring
// matching: trimmed, NFC-normalized and lowercased. Lowercasing keeps
// characters like ß intact, so "ss" does not match "ß".
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return cases.Lower(language.Und).String(norm.NFC.String(s))
}

// TagSet is a sorted, duplicate-free list of normalized tags.
type TagSet []string

// NewTagSet normalizes raw tags, dropping blanks and duplicates.
func NewTagSet(raw []string) TagSet {
	seen := make(map[string]struct{}, len(raw))
	set := make(TagSet, 0, len(raw))
	for _, r := range raw {
		tag := Normalize(r)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		set = append(set, tag)
	}
	sort.Strings(set)
	return set
}

// Union returns a new set holding the tags of s and o.
func (s TagSet) Union(o TagSet) TagSet {
	out := make(TagSet, 0, len(s)+len(o))
	i, j := 0, 0
	for i < len(s) && j < len(o) {
		switch {
		case s[i] < o[j]:
			out = append(out, s[i])
			i++
		case s[i] > o[j]:
			out = append(out, o[j])
			j++
		default:
			out = append(out, s[i])
			i++
			j++
		}
	}
	out = append(out, s[i:]...)
	return append(out, o[j:]...)
}

// Contains reports whether tag is in the set.
func (s TagSet) Contains(tag string) bool {
	i := sort.SearchStrings(s, tag)
	return i < len(s) && s[i] == tag
}

// IndexEntry holds the matching rules of one taxonomy node.
type IndexEntry struct {
	Path              string
	OwnTags           TagSet
	InheritedTags     TagSet
	DirectChildOfRoot bool
}

// Index maps taxonomy paths to their tag rules. Paths preserves the
// pre-order of the taxonomy so evaluation order is deterministic.
type Index struct {
	Paths   []string
	Entries map[string]IndexEntry
}

// Entry returns the index entry for path.
func (ix *Index) Entry(path string) (IndexEntry, bool) {
	e, ok := ix.Entries[path]
	return e, ok
}

// Len returns the number of indexed paths.
func (ix *Index) Len() int { return len(ix.Paths) }

// BuildIndex computes the tag index of every non-root node. Inherited tags
// of a node are the own and inherited tags of its parent; the root's tags
// are never inherited since the root is not a category.
func BuildIndex(t *Tree) *Index {
	ix := &Index{
		Paths:   make([]string, 0, t.Len()-1),
		Entries: make(map[string]IndexEntry, t.Len()-1),
	}

	// accumulated[id] = inherited ∪ own of node id, handed down to children.
	accumulated := make([]TagSet, t.Len())
	accumulated[0] = TagSet{}

	t.Walk(func(n *Node) {
		if n.IsRoot() {
			return
		}

		own := NewTagSet(n.Tags)
		inherited := accumulated[n.Parent]

		ix.Paths = append(ix.Paths, n.Path)
		ix.Entries[n.Path] = IndexEntry{
			Path:              n.Path,
			OwnTags:           own,
			InheritedTags:     append(TagSet(nil), inherited...),
			DirectChildOfRoot: n.Parent == 0,
		}
		accumulated[n.ID] = inherited.Union(own)
	})

	return ix
}
