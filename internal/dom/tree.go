package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// IsElement reports whether n is an element node.
func IsElement(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode
}

// TagName returns the lower-cased tag of an element.
func TagName(n *html.Node) string {
	if !IsElement(n) {
		return ""
	}
	return strings.ToLower(n.Data)
}

// Attr returns the value of the named attribute and whether it is present.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// AttrOr returns the named attribute or "" when absent.
func AttrOr(n *html.Node, key string) string {
	v, _ := Attr(n, key)
	return v
}

// TextContent concatenates every descendant text node, like the DOM property.
func TextContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		for ; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				sb.WriteString(c.Data)
			}
			walk(c.FirstChild)
		}
	}
	walk(n.FirstChild)
	return sb.String()
}

// TrimmedText is TextContent with surrounding whitespace removed.
func TrimmedText(n *html.Node) string {
	return strings.TrimSpace(TextContent(n))
}

// ElementChildren returns the element children of n in order.
func ElementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	if n == nil {
		return out
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if IsElement(c) {
			out = append(out, c)
		}
	}
	return out
}

// ParentElement returns the closest element ancestor of n, or nil.
func ParentElement(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if IsElement(p) {
			return p
		}
	}
	return nil
}

// elementIndex returns the position of n among its parent's element children.
func elementIndex(n *html.Node) int {
	idx := 0
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if IsElement(s) {
			idx++
		}
	}
	return idx
}

// Walk visits every element under root (root included) in document order.
// Returning false from fn stops the walk.
func Walk(root *html.Node, fn func(*html.Node) bool) {
	var visit func(*html.Node) bool
	visit = func(n *html.Node) bool {
		if IsElement(n) && !fn(n) {
			return false
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !visit(c) {
				return false
			}
		}
		return true
	}
	if root != nil {
		visit(root)
	}
}

// VideoSource returns the resolved source of a video element: its own src,
// or the src of its first <source> child that has one.
func VideoSource(n *html.Node) string {
	if src := AttrOr(n, "src"); src != "" {
		return src
	}
	var found string
	Walk(n, func(c *html.Node) bool {
		if c != n && TagName(c) == "source" {
			if src := AttrOr(c, "src"); src != "" {
				found = src
				return false
			}
		}
		return true
	})
	return found
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
