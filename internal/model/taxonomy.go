package model

// TaxonomyNode is one topic in the user-authored taxonomy. The root node is
// unnamed; its direct children are the top-level categories.
type TaxonomyNode struct {
	// Topic is the display name of the node. It is unique among siblings,
	// not globally.
	Topic string `json:"topic" yaml:"topic"`

	// Tags are the node's own matching rules, in authored order.
	Tags []string `json:"tags" yaml:"tags"`

	// Children are the sub-topics, in authored order.
	Children []*TaxonomyNode `json:"children,omitempty" yaml:"children,omitempty"`
}

// HasTags reports whether the node carries a tags field at all.
func (n *TaxonomyNode) HasTags() bool {
	return n != nil && n.Tags != nil
}
