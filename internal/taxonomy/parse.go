package taxonomy

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/nhle/mailsort/internal/model"
)

// document accepts either a bare root node or a mind-map export that wraps
// the root under "nodeData".
type document struct {
	NodeData           *model.TaxonomyNode `yaml:"nodeData"`
	model.TaxonomyNode `yaml:",inline"`
}

// Parse decodes a taxonomy file. YAML and JSON are both accepted.
func Parse(data []byte) (*model.TaxonomyNode, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	root := &doc.TaxonomyNode
	if doc.NodeData != nil {
		root = doc.NodeData
	}

	if root.Topic == "" && len(root.Children) == 0 {
		return nil, ErrEmpty
	}

	// Build validates sibling uniqueness and topics.
	if _, err := Build(root, "_"); err != nil {
		return nil, err
	}

	return root, nil
}
