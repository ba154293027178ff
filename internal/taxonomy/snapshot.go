package taxonomy

import (
	"encoding/json"
	"fmt"
)

// SnapshotEntry records the authored tags of one node.
type SnapshotEntry struct {
	Node string   `json:"node"`
	Tags []string `json:"tags"`
}

// TagSnapshot is the persisted record of every node's tags, in traversal
// order. It is only ever compared for exact equality.
type TagSnapshot []SnapshotEntry

// Snapshot collects the tags of every node that carries a tags field,
// children before their parent. Tags are kept exactly as authored, so
// reordering or re-casing a tag counts as a change.
func Snapshot(t *Tree) TagSnapshot {
	snap := TagSnapshot{}
	t.PostOrder(func(n *Node) {
		if !n.HasTags {
			return
		}
		snap = append(snap, SnapshotEntry{
			Node: n.Path,
			Tags: append([]string{}, n.Tags...),
		})
	})
	return snap
}

// Equal compares two snapshots entry by entry: same length, same node
// paths in the same order, same tag arrays in the same order.
func (s TagSnapshot) Equal(o TagSnapshot) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i].Node != o[i].Node {
			return false
		}
		if len(s[i].Tags) != len(o[i].Tags) {
			return false
		}
		for j := range s[i].Tags {
			if s[i].Tags[j] != o[i].Tags[j] {
				return false
			}
		}
	}
	return true
}

// Marshal encodes the snapshot for the key-value store.
func (s TagSnapshot) Marshal() ([]byte, error) {
	if s == nil {
		s = TagSnapshot{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling tag snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot decodes a persisted snapshot. Empty input decodes to
// an empty snapshot.
func UnmarshalSnapshot(data []byte) (TagSnapshot, error) {
	if len(data) == 0 {
		return TagSnapshot{}, nil
	}
	var snap TagSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling tag snapshot: %w", err)
	}
	return snap, nil
}
