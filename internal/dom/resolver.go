package dom

import (
	"sort"
	"strings"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"golang.org/x/net/html"
)

// Strategy scores. A candidate whose tag equals the descriptor's tag earns
// tagBoost on top.
const (
	scoreAriaExact     = 10
	scoreAriaContains  = 8
	scoreRoleTextExact = 8
	scoreRoleTextPart  = 6
	scorePlaceholder   = 8
	scoreDataAttr      = 7
	scoreTagTextExact  = 6
	scoreTagTextPart   = 4
	scorePath          = 3
	tagBoost           = 1

	textPrefixRunes   = 20
	minTextForPartial = 5
)

// Match is the winning candidate of a resolution.
type Match struct {
	Node     *html.Node
	Score    int
	Strategy string
}

type candidate struct {
	node     *html.Node
	score    int
	strategy string
}

// Resolve relocates the element described by desc in the snapshot.
// Candidates are gathered from every strategy; the strictly highest score
// wins and ties go to the candidate found first.
func (s *Snapshot) Resolve(desc schemas.ElementDescriptor) (Match, bool) {
	return Resolve(s.Root, s.Body, desc)
}

// Resolve runs the scored strategies over root, walking positional paths
// from body.
func Resolve(root, body *html.Node, desc schemas.ElementDescriptor) (Match, bool) {
	if desc.IsZero() {
		return Match{}, false
	}

	var cands []candidate
	add := func(n *html.Node, score int, strategy string) {
		cands = append(cands, candidate{node: n, score: score, strategy: strategy})
	}

	if desc.AriaLabel != "" {
		want := strings.ToLower(desc.AriaLabel)
		Walk(root, func(n *html.Node) bool {
			label, ok := Attr(n, "aria-label")
			if !ok {
				return true
			}
			if label == desc.AriaLabel {
				add(n, scoreAriaExact, "aria-label")
			} else if strings.Contains(strings.ToLower(label), want) {
				add(n, scoreAriaContains, "aria-label~")
			}
			return true
		})
	}

	if desc.Role != "" && desc.TextContent != "" {
		prefix := truncateRunes(desc.TextContent, textPrefixRunes)
		Walk(root, func(n *html.Node) bool {
			if role, ok := Attr(n, "role"); !ok || role != desc.Role {
				return true
			}
			text := TrimmedText(n)
			if text == desc.TextContent {
				add(n, scoreRoleTextExact, "role+text")
			} else if strings.Contains(text, prefix) {
				add(n, scoreRoleTextPart, "role+text~")
			}
			return true
		})
	}

	if desc.Placeholder != "" {
		Walk(root, func(n *html.Node) bool {
			if p, ok := Attr(n, "placeholder"); ok && p == desc.Placeholder {
				add(n, scorePlaceholder, "placeholder")
			}
			return true
		})
	}

	if len(desc.DataAttributes) > 0 {
		keys := make([]string, 0, len(desc.DataAttributes))
		for k := range desc.DataAttributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			want := desc.DataAttributes[key]
			Walk(root, func(n *html.Node) bool {
				if v, ok := Attr(n, key); ok && v == want {
					add(n, scoreDataAttr, "data:"+key)
				}
				return true
			})
		}
	}

	if desc.TagName != "" && desc.TextContent != "" {
		prefix := truncateRunes(desc.TextContent, textPrefixRunes)
		partial := len([]rune(desc.TextContent)) > minTextForPartial
		Walk(root, func(n *html.Node) bool {
			if TagName(n) != desc.TagName {
				return true
			}
			text := TrimmedText(n)
			if text == desc.TextContent {
				add(n, scoreTagTextExact, "tag+text")
			} else if partial && strings.Contains(text, prefix) {
				add(n, scoreTagTextPart, "tag+text~")
			}
			return true
		})
	}

	if len(desc.NthChildPath) > 0 && body != nil {
		if n, ok := WalkPath(body, desc.NthChildPath); ok {
			add(n, scorePath, "path")
		}
	}

	if len(cands) == 0 {
		return Match{}, false
	}

	best := -1
	for i := range cands {
		if desc.TagName != "" && TagName(cands[i].node) == desc.TagName {
			cands[i].score += tagBoost
		}
		if best < 0 || cands[i].score > cands[best].score {
			best = i
		}
	}
	c := cands[best]
	return Match{Node: c.node, Score: c.score, Strategy: c.strategy}, true
}
