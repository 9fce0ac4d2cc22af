package index

import (
	"element-indexer/internal/entity"
)

// Ingest converts the driver's raw node tree into a flat, pre-order
// slice with parent pointers and document positions set. The traversal
// order is a pure function of the tree, which is what makes handle
// assignment reproducible.
func Ingest(root *entity.Node) []*entity.Node {
	if root == nil {
		return nil
	}

	var flat []*entity.Node

	var visit func(n *entity.Node, parent *entity.Node)
	visit = func(n *entity.Node, parent *entity.Node) {
		n.Parent = parent
		n.Position = len(flat)
		flat = append(flat, n)

		for _, child := range n.Children {
			visit(child, n)
		}
	}

	visit(root, nil)

	return flat
}

// isAncestor reports whether a is on b's parent chain.
func isAncestor(a, b *entity.Node) bool {
	for cur := b.Parent; cur != nil; cur = cur.Parent {
		if cur == a {
			return true
		}
	}

	return false
}
