package item

// TreeNode is an item placed in a comment tree. Depth is 0 for the roots
// handed to the loader and parent depth + 1 below. Children follow the
// parent's Kids order with failed and tombstoned entries left out.
type TreeNode struct {
	Item     Item       `json:"item"`
	Depth    int        `json:"depth"`
	Children []TreeNode `json:"children,omitempty"`
}

// ID returns the underlying item ID.
func (n TreeNode) ID() int {
	return n.Item.ID
}

// Count returns the number of nodes in the forest.
func Count(nodes []TreeNode) int {
	total := 0
	for _, n := range nodes {
		total += 1 + Count(n.Children)
	}
	return total
}

// MaxDepth returns the number of levels in the forest (0 when empty).
func MaxDepth(nodes []TreeNode) int {
	levels := 0
	for _, n := range nodes {
		if d := 1 + MaxDepth(n.Children); d > levels {
			levels = d
		}
	}
	return levels
}

// Flatten returns the visible nodes in pre-order. Children of IDs present
// in collapsed are skipped; the collapsed node itself stays visible.
func Flatten(nodes []TreeNode, collapsed map[int]bool) []TreeNode {
	var out []TreeNode
	var walk func([]TreeNode)
	walk = func(level []TreeNode) {
		for _, n := range level {
			out = append(out, n)
			if !collapsed[n.Item.ID] {
				walk(n.Children)
			}
		}
	}
	walk(nodes)
	return out
}
