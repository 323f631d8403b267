package dom

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"golang.org/x/net/html"
)

const (
	maxDescriptorText = 80
	maxLabelText      = 30
	maxPathSteps      = 10
)

// Capture fingerprints an element for later relocation.
func Capture(n *html.Node) schemas.ElementDescriptor {
	desc := schemas.ElementDescriptor{
		TagName:      TagName(n),
		TextContent:  truncateRunes(TrimmedText(n), maxDescriptorText),
		AriaLabel:    AttrOr(n, "aria-label"),
		Role:         AttrOr(n, "role"),
		Placeholder:  AttrOr(n, "placeholder"),
		Type:         AttrOr(n, "type"),
		NthChildPath: PathOf(n),
	}
	for _, a := range n.Attr {
		if strings.HasPrefix(a.Key, "data-") {
			if desc.DataAttributes == nil {
				desc.DataAttributes = make(map[string]string)
			}
			desc.DataAttributes[a.Key] = a.Val
		}
	}
	desc.DisplayLabel = DisplayLabel(desc)
	return desc
}

// DisplayLabel renders a short human label for a descriptor.
func DisplayLabel(d schemas.ElementDescriptor) string {
	switch {
	case d.AriaLabel != "":
		return fmt.Sprintf("%s [%s]", d.TagName, d.AriaLabel)
	case d.Placeholder != "":
		return fmt.Sprintf("%s (%s)", d.TagName, d.Placeholder)
	case d.TextContent != "":
		return fmt.Sprintf("%s \"%s\"", d.TagName, truncateRunes(d.TextContent, maxLabelText))
	default:
		return d.TagName
	}
}

// PathOf returns the positional path from body to n. Deep nodes keep only
// the last ten steps.
func PathOf(n *html.Node) []schemas.PathStep {
	var path []schemas.PathStep
	for cur := n; IsElement(cur) && TagName(cur) != "body" && len(path) < maxPathSteps; {
		parent := ParentElement(cur)
		if parent == nil {
			break
		}
		path = append([]schemas.PathStep{{Tag: TagName(cur), Index: elementIndex(cur)}}, path...)
		cur = parent
	}
	return path
}

// WalkPath follows path from body. Every step must exist and carry the
// recorded tag.
func WalkPath(body *html.Node, path []schemas.PathStep) (*html.Node, bool) {
	cur := body
	for _, step := range path {
		children := ElementChildren(cur)
		if step.Index < 0 || step.Index >= len(children) {
			return nil, false
		}
		child := children[step.Index]
		if TagName(child) != step.Tag {
			return nil, false
		}
		cur = child
	}
	return cur, cur != nil
}
