package selector

import (
	"testing"

	"element-indexer/internal/entity"

	"github.com/stretchr/testify/require"
)

// linkParents fills Parent pointers the way snapshot ingest does.
func linkParents(n *entity.Node) {
	for _, child := range n.Children {
		child.Parent = n
		linkParents(child)
	}
}

func TestXPathForIDShortcut(t *testing.T) {
	root := &entity.Node{
		Tag: "html",
		Children: []*entity.Node{
			{Tag: "body", Children: []*entity.Node{
				{Tag: "button", Attributes: map[string]string{"id": "save"}},
			}},
		},
	}
	linkParents(root)

	button := root.Children[0].Children[0]
	require.Equal(t, `//*[@id="save"]`, XPathFor(button))
}

func TestXPathForAncestorIDShortcut(t *testing.T) {
	root := &entity.Node{
		Tag: "html",
		Children: []*entity.Node{
			{Tag: "body", Children: []*entity.Node{
				{Tag: "form", Attributes: map[string]string{"id": "login"}, Children: []*entity.Node{
					{Tag: "input"},
					{Tag: "button"},
				}},
			}},
		},
	}
	linkParents(root)

	button := root.Children[0].Children[0].Children[1]
	require.Equal(t, `//*[@id="login"]/button[1]`, XPathFor(button))
}

func TestXPathForAbsolutePathWithSiblingIndices(t *testing.T) {
	root := &entity.Node{
		Tag: "html",
		Children: []*entity.Node{
			{Tag: "body", Children: []*entity.Node{
				{Tag: "div"},
				{Tag: "div", Children: []*entity.Node{
					{Tag: "a"},
					{Tag: "span"},
					{Tag: "a"},
				}},
			}},
		},
	}
	linkParents(root)

	secondLink := root.Children[0].Children[1].Children[2]
	require.Equal(t, "/html/body[1]/div[2]/a[2]", XPathFor(secondLink))
}

func TestXPathForIgnoresInvalidID(t *testing.T) {
	root := &entity.Node{
		Tag: "html",
		Children: []*entity.Node{
			{Tag: "body", Children: []*entity.Node{
				{Tag: "button", Attributes: map[string]string{"id": "123-starts-with-digit"}},
			}},
		},
	}
	linkParents(root)

	button := root.Children[0].Children[0]
	require.Equal(t, "/html/body[1]/button[1]", XPathFor(button))
}

func TestValidID(t *testing.T) {
	require.True(t, ValidID("submit"))
	require.True(t, ValidID("main-nav_2"))
	require.False(t, ValidID(""))
	require.False(t, ValidID("9lives"))
	require.False(t, ValidID("has space"))
	require.False(t, ValidID("dot.dot"))
}

func TestRoleValueRoundTrip(t *testing.T) {
	role, name := SplitRoleValue(RoleValue("button", "Add to cart"))
	require.Equal(t, "button", role)
	require.Equal(t, "Add to cart", name)

	role, name = SplitRoleValue(RoleValue("link", ""))
	require.Equal(t, "link", role)
	require.Empty(t, name)
}
