package selector

import (
	"fmt"
	"strings"

	"element-indexer/internal/entity"
)

// XPathFor derives an absolute XPath for a snapshot node. A valid id on
// the node or any ancestor shortcuts the prefix to //*[@id="..."];
// otherwise the path runs from the document root with 1-based indices
// among same-tag siblings. Always returns a non-empty path.
func XPathFor(n *entity.Node) string {
	var parts []string

	for cur := n; cur != nil; cur = cur.Parent {
		if id := cur.Attr("id"); ValidID(id) {
			parts = append([]string{fmt.Sprintf(`//*[@id="%s"]`, id)}, parts...)

			return strings.Join(parts, "/")
		}

		if cur.Parent == nil {
			parts = append([]string{"/" + cur.Tag}, parts...)

			break
		}

		parts = append([]string{fmt.Sprintf("%s[%d]", cur.Tag, siblingIndex(cur))}, parts...)
	}

	return strings.Join(parts, "/")
}

// siblingIndex is the 1-based position of n among its parent's children
// with the same tag.
func siblingIndex(n *entity.Node) int {
	idx := 1

	for _, sibling := range n.Parent.Children {
		if sibling == n {
			return idx
		}

		if sibling.Tag == n.Tag {
			idx++
		}
	}

	return idx
}
