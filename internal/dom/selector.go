package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// SelectorFor returns a positional CSS selector that addresses n in the live
// page the snapshot was taken from, e.g. "body > div:nth-child(2) > button:nth-child(1)".
// Every step carries its tag so a node that moved since the snapshot is not
// matched. Inside SVG or MathML, where tag case matters, steps are positional only.
func SelectorFor(n *html.Node) string {
	if !IsElement(n) {
		return ""
	}
	var parts []string
	for cur := n; IsElement(cur); cur = ParentElement(cur) {
		tag := TagName(cur)
		switch tag {
		case "body", "html", "head":
			parts = append(parts, tag)
			return joinReversed(parts)
		}
		if inForeignContent(cur) {
			tag = ""
		}
		parts = append(parts, fmt.Sprintf("%s:nth-child(%d)", tag, elementIndex(cur)+1))
	}
	return joinReversed(parts)
}

func inForeignContent(n *html.Node) bool {
	for p := ParentElement(n); p != nil; p = ParentElement(p) {
		switch TagName(p) {
		case "svg", "math":
			return true
		}
	}
	return false
}

func joinReversed(parts []string) string {
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

// Target addresses a snapshot node in the live page.
type Target struct {
	Selector string `json:"selector"`
	Tag      string `json:"tag"`
	Label    string `json:"label"`
}

// TargetOf builds the live address of n.
func TargetOf(n *html.Node) Target {
	label := AttrOr(n, "aria-label")
	if label == "" {
		label = truncateRunes(TrimmedText(n), maxLabelText)
	}
	return Target{Selector: SelectorFor(n), Tag: TagName(n), Label: label}
}
