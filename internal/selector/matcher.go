package selector

import (
	"fmt"
	"strings"

	"element-indexer/internal/entity"
)

// The generator only ever emits simple selectors: an optional tag name
// followed by any mix of #id, .class and [attr='value'] parts, no
// combinators. simpleSelector is the parsed form used to verify
// uniqueness against the snapshot.
type simpleSelector struct {
	Tag     string
	ID      string
	Classes []string
	Attrs   map[string]string
}

func parseSimple(sel string) (*simpleSelector, error) {
	if strings.TrimSpace(sel) == "" {
		return nil, fmt.Errorf("empty selector")
	}

	parsed := &simpleSelector{Attrs: make(map[string]string)}
	rest := sel

	// Leading tag name runs until the first #, . or [.
	if i := strings.IndexAny(rest, "#.["); i != 0 {
		if i < 0 {
			parsed.Tag = rest

			return parsed, nil
		}

		parsed.Tag = rest[:i]
		rest = rest[i:]
	}

	for rest != "" {
		switch rest[0] {
		case '#':
			end := nextPart(rest[1:])
			parsed.ID = rest[1 : 1+end]
			rest = rest[1+end:]
		case '.':
			end := nextPart(rest[1:])
			parsed.Classes = append(parsed.Classes, rest[1:1+end])
			rest = rest[1+end:]
		case '[':
			close := strings.IndexByte(rest, ']')
			if close < 0 {
				return nil, fmt.Errorf("unterminated attribute in %q", sel)
			}

			name, value, err := parseAttr(rest[1:close])
			if err != nil {
				return nil, fmt.Errorf("selector %q: %w", sel, err)
			}

			parsed.Attrs[name] = value
			rest = rest[close+1:]
		default:
			return nil, fmt.Errorf("unsupported selector syntax in %q", sel)
		}
	}

	return parsed, nil
}

// nextPart finds where an id or class token ends.
func nextPart(s string) int {
	if i := strings.IndexAny(s, "#.["); i >= 0 {
		return i
	}

	return len(s)
}

func parseAttr(body string) (string, string, error) {
	eq := strings.IndexByte(body, '=')
	if eq < 0 {
		// Bare [attr] presence test.
		return body, "", nil
	}

	name := body[:eq]
	value := body[eq+1:]
	value = strings.Trim(value, `'"`)

	if name == "" {
		return "", "", fmt.Errorf("attribute selector without name")
	}

	return name, value, nil
}

func (s *simpleSelector) matches(n *entity.Node) bool {
	if s.Tag != "" && n.Tag != s.Tag {
		return false
	}

	if s.ID != "" && n.Attr("id") != s.ID {
		return false
	}

	if len(s.Classes) > 0 {
		classes := strings.Fields(n.Attr("class"))
		have := make(map[string]bool, len(classes))

		for _, c := range classes {
			have[c] = true
		}

		for _, want := range s.Classes {
			if !have[want] {
				return false
			}
		}
	}

	for name, value := range s.Attrs {
		got, ok := n.Attributes[name]
		if !ok {
			return false
		}

		if value != "" && got != value {
			return false
		}
	}

	return true
}

// MatchCount counts the nodes in the snapshot rooted at root that the
// selector matches. Unparseable selectors count as zero matches.
func MatchCount(root *entity.Node, sel string) int {
	parsed, err := parseSimple(sel)
	if err != nil {
		return 0
	}

	count := 0
	walk(root, func(n *entity.Node) {
		if parsed.matches(n) {
			count++
		}
	})

	return count
}

func walk(n *entity.Node, fn func(*entity.Node)) {
	if n == nil {
		return
	}

	fn(n)

	for _, child := range n.Children {
		walk(child, fn)
	}
}
