package index

import (
	"strings"

	"element-indexer/internal/entity"
)

const (
	// Targets smaller than 8x8 px are excluded as unreliable.
	minTargetSize = 8.0

	// Ancestor/descendant pairs whose boxes overlap at least this share
	// of the larger box are treated as one visual target.
	overlapThreshold = 0.9
)

var (
	clickableTags  = map[string]bool{"a": true, "button": true, "select": true, "summary": true}
	inputTags      = map[string]bool{"input": true, "textarea": true, "select": true}
	clickableRoles = map[string]bool{"button": true, "link": true, "tab": true, "menuitem": true, "checkbox": true, "radio": true}
)

// Filter reduces the flattened snapshot to the interactable nodes that
// earn a handle: classified clickable or input, visible through the
// whole ancestor chain, at least 8x8 px, with duplicate visual targets
// collapsed to the innermost node. Document order is preserved.
func Filter(flat []*entity.Node) []*entity.Node {
	var qualifying []*entity.Node

	for _, n := range flat {
		clickable, input := Classify(n)
		if !clickable && !input {
			continue
		}

		if !visibleWithAncestors(n) {
			continue
		}

		if n.Box.Width < minTargetSize || n.Box.Height < minTargetSize {
			continue
		}

		qualifying = append(qualifying, n)
	}

	return suppressOverlaps(qualifying)
}

// Classify derives the clickable and input flags from tag, role and the
// driver-reported handler/cursor hints.
func Classify(n *entity.Node) (clickable, input bool) {
	tag := strings.ToLower(n.Tag)

	input = inputTags[tag] && n.Attr("type") != "hidden"
	if v, ok := n.Attributes["contenteditable"]; ok && v != "false" {
		input = true
	}

	clickable = clickableTags[tag] ||
		tag == "input" && isClickableInputType(n.Attr("type")) ||
		clickableRoles[n.Attr("role")] ||
		n.ClickHandler ||
		n.PointerCur

	return clickable, input
}

func isClickableInputType(t string) bool {
	switch t {
	case "button", "submit", "reset", "checkbox", "radio", "image":
		return true
	}

	return false
}

func visibleWithAncestors(n *entity.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if !cur.SelfVisible() {
			return false
		}
	}

	return true
}

// suppressOverlaps keeps only the innermost of nested nodes whose boxes
// cover the same visual target. Non-nested heavy overlaps are both kept
// unless one box fully contains the other, in which case the contained
// node wins.
func suppressOverlaps(nodes []*entity.Node) []*entity.Node {
	dropped := make(map[*entity.Node]bool)

	for i, outer := range nodes {
		for j, inner := range nodes {
			if i == j || dropped[outer] || dropped[inner] {
				continue
			}

			if isAncestor(outer, inner) {
				larger := max(outer.Box.Area(), inner.Box.Area())
				if larger > 0 && outer.Box.Overlap(inner.Box) >= overlapThreshold*larger {
					dropped[outer] = true
				}

				continue
			}

			if !isAncestor(inner, outer) && outer.Box.Contains(inner.Box) && outer.Box.Area() > inner.Box.Area() {
				dropped[outer] = true
			}
		}
	}

	kept := nodes[:0:0]

	for _, n := range nodes {
		if !dropped[n] {
			kept = append(kept, n)
		}
	}

	return kept
}
