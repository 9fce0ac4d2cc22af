package selector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"element-indexer/internal/entity"
)

// qaAttributes are the stable test attributes checked in order, first
// hit wins.
var qaAttributes = []string{"data-testid", "data-test-id", "data-test", "data-qa", "data-cy"}

var (
	idPattern      = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)
	hexishClass    = regexp.MustCompile(`^[a-f0-9]{8,}$`)
	leadingDigit   = regexp.MustCompile(`^[0-9]`)
	maxClassLength = 40
)

// ValidID reports whether an id attribute is usable in a #id selector.
func ValidID(id string) bool {
	return id != "" && idPattern.MatchString(id)
}

// RoleValue encodes a role + accessible-name pair into a single
// selector value; the driver and matcher split it back apart.
func RoleValue(role, name string) string {
	return role + "|" + name
}

// SplitRoleValue is the inverse of RoleValue.
func SplitRoleValue(value string) (role, name string) {
	role, name, _ = strings.Cut(value, "|")

	return role, name
}

type Generator struct {
	maxTextLen int
}

func NewGenerator(maxTextLen int) *Generator {
	return &Generator{maxTextLen: maxTextLen}
}

// Generate derives the full candidate list for one node, highest
// priority first. The absolute XPath is always present, so the list is
// never empty. ID and CSS candidates that are not unique within the
// snapshot are demoted rather than dropped.
func (g *Generator) Generate(root, node *entity.Node) []entity.Selector {
	var selectors []entity.Selector

	if id := node.Attr("id"); ValidID(id) {
		priority := entity.SelectorKindID.BasePriority()
		if MatchCount(root, "#"+id) != 1 {
			priority += entity.DemotedPriorityOffset
		}

		selectors = append(selectors, entity.Selector{
			Kind:     entity.SelectorKindID,
			Value:    "#" + id,
			Priority: priority,
		})
	}

	for _, attr := range qaAttributes {
		if v := node.Attr(attr); v != "" {
			selectors = append(selectors, entity.Selector{
				Kind:     entity.SelectorKindDataAttr,
				Value:    fmt.Sprintf("[%s='%s']", attr, v),
				Priority: entity.SelectorKindDataAttr.BasePriority(),
			})

			break
		}
	}

	if css, demoted, ok := g.cssCandidate(root, node); ok {
		priority := entity.SelectorKindCSS.BasePriority()
		if demoted {
			priority += entity.DemotedPriorityOffset
		}

		selectors = append(selectors, entity.Selector{
			Kind:     entity.SelectorKindCSS,
			Value:    css,
			Priority: priority,
		})
	}

	selectors = append(selectors, entity.Selector{
		Kind:     entity.SelectorKindXPath,
		Value:    XPathFor(node),
		Priority: entity.SelectorKindXPath.BasePriority(),
	})

	if role := node.Attr("role"); role != "" {
		name := node.Attr("aria-label")
		if name == "" {
			name = entity.NormalizeText(node.Text)
		}

		selectors = append(selectors, entity.Selector{
			Kind:     entity.SelectorKindRole,
			Value:    RoleValue(role, name),
			Priority: entity.SelectorKindRole.BasePriority(),
		})
	}

	if text := entity.NormalizeText(node.Text); text != "" && len(text) <= g.maxTextLen {
		selectors = append(selectors, entity.Selector{
			Kind:     entity.SelectorKindText,
			Value:    text,
			Priority: entity.SelectorKindText.BasePriority(),
		})
	}

	sort.SliceStable(selectors, func(i, j int) bool {
		return selectors[i].Priority < selectors[j].Priority
	})

	return selectors
}

// cssCandidate builds tag + minimal distinguishing attribute selectors
// and returns the first one that uniquely matches the snapshot. When
// every candidate is ambiguous the tightest one is returned demoted.
func (g *Generator) cssCandidate(root, node *entity.Node) (string, bool, bool) {
	candidates := g.cssCandidates(node)
	if len(candidates) == 0 {
		return "", false, false
	}

	var firstMatching string

	for _, candidate := range candidates {
		switch MatchCount(root, candidate) {
		case 1:
			return candidate, false, true
		case 0:
			// A candidate that matches nothing in its own snapshot is
			// malformed for this page; skip it.
		default:
			if firstMatching == "" {
				firstMatching = candidate
			}
		}
	}

	if firstMatching != "" {
		return firstMatching, true, true
	}

	return "", false, false
}

func (g *Generator) cssCandidates(node *entity.Node) []string {
	var candidates []string

	tag := node.Tag

	if name := node.Attr("name"); name != "" {
		candidates = append(candidates, fmt.Sprintf("%s[name='%s']", tag, name))
	}

	if tag == "input" {
		typ := node.Attr("type")
		placeholder := node.Attr("placeholder")

		if typ != "" && placeholder != "" {
			candidates = append(candidates, fmt.Sprintf("input[type='%s'][placeholder='%s']", typ, placeholder))
		}

		if placeholder != "" {
			candidates = append(candidates, fmt.Sprintf("input[placeholder='%s']", placeholder))
		}

		if typ != "" {
			candidates = append(candidates, fmt.Sprintf("input[type='%s']", typ))
		}
	}

	if label := node.Attr("aria-label"); label != "" && len(label) < 80 {
		candidates = append(candidates, fmt.Sprintf("%s[aria-label='%s']", tag, label))
	}

	if classes := usableClasses(node.Attr("class")); len(classes) > 0 {
		candidates = append(candidates, tag+"."+strings.Join(classes, "."))
	}

	return candidates
}

// usableClasses keeps up to two class names that look hand-written
// rather than generated (no leading digit, not hash-like, short).
func usableClasses(classAttr string) []string {
	var result []string

	for _, c := range strings.Fields(classAttr) {
		if leadingDigit.MatchString(c) || hexishClass.MatchString(c) || len(c) >= maxClassLength {
			continue
		}

		result = append(result, c)
		if len(result) == 2 {
			break
		}
	}

	return result
}
