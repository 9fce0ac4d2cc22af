package browser

import (
	"testing"

	"element-indexer/internal/entity"
	"element-indexer/internal/selector"

	"github.com/stretchr/testify/require"
)

func TestPlaywrightSelectorMapping(t *testing.T) {
	cases := []struct {
		kind  entity.SelectorKind
		value string
		want  string
		name  string
	}{
		{entity.SelectorKindID, "#submit", "#submit", ""},
		{entity.SelectorKindDataAttr, "[data-testid='go']", "[data-testid='go']", ""},
		{entity.SelectorKindCSS, "button.primary", "button.primary", ""},
		{entity.SelectorKindXPath, "/html/body[1]/button[1]", "xpath=/html/body[1]/button[1]", ""},
		{entity.SelectorKindRole, selector.RoleValue("button", "Checkout"), "[role='button']", "Checkout"},
		{entity.SelectorKindText, "Add to cart", `text="Add to cart"`, ""},
	}

	for _, tc := range cases {
		got, roleName, err := playwrightSelector(tc.kind, tc.value)
		require.NoError(t, err, "kind %s", tc.kind)
		require.Equal(t, tc.want, got)
		require.Equal(t, tc.name, roleName)
	}
}

func TestPlaywrightSelectorRejectsUnknownKind(t *testing.T) {
	_, _, err := playwrightSelector("teleport", "whatever")
	require.Error(t, err)
}

func TestPlaywrightSelectorRejectsEmptyRole(t *testing.T) {
	_, _, err := playwrightSelector(entity.SelectorKindRole, "|name-without-role")
	require.Error(t, err)
}

func TestDecodeNode(t *testing.T) {
	// The shape page.Evaluate hands back: generic maps and float64s.
	raw := map[string]interface{}{
		"tag":  "button",
		"text": "Save",
		"attributes": map[string]interface{}{
			"id": "save",
		},
		"box": map[string]interface{}{
			"x": 10.0, "y": 20.0, "width": 100.0, "height": 30.0,
		},
		"display":       "block",
		"visibility":    "visible",
		"opacity":       1.0,
		"clickHandler":  true,
		"pointerCursor": false,
		"children": []interface{}{
			map[string]interface{}{"tag": "span", "text": "Save"},
		},
	}

	node, err := decodeNode(raw)
	require.NoError(t, err)

	require.Equal(t, "button", node.Tag)
	require.Equal(t, "save", node.Attr("id"))
	require.Equal(t, entity.BoundingBox{X: 10, Y: 20, Width: 100, Height: 30}, node.Box)
	require.True(t, node.ClickHandler)
	require.True(t, node.SelfVisible())
	require.Len(t, node.Children, 1)
	require.Equal(t, "span", node.Children[0].Tag)
}

func TestDecodeNodeRejectsNonObject(t *testing.T) {
	_, err := decodeNode("just a string")
	require.Error(t, err)
}

func TestStructureResultHelpers(t *testing.T) {
	m := map[string]interface{}{
		"url":       "https://example.com",
		"nodeCount": 42.0,
		"topLevel":  "header#top,main,footer",
	}

	require.Equal(t, "https://example.com", getString(m, "url"))
	require.Equal(t, 42.0, getFloat(m, "nodeCount"))
	require.Empty(t, getString(m, "missing"))
	require.Zero(t, getFloat(m, "missing"))
}
