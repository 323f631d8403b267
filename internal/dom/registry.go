package dom

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xkilldash9x/flow-automator/api/schemas"
	"golang.org/x/net/html"
)

// Query looks up one markup shape in a snapshot.
type Query func(doc *goquery.Document) *html.Node

// Registry maps a capability key to ordered fallback queries used when no
// descriptor was picked for it, or the picked one no longer resolves.
type Registry struct {
	queries map[schemas.ElementRole][]Query
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{queries: make(map[schemas.ElementRole][]Query)}
}

// Register appends queries for role; earlier queries take precedence.
func (r *Registry) Register(role schemas.ElementRole, queries ...Query) {
	r.queries[role] = append(r.queries[role], queries...)
}

// Lookup returns the first node produced by role's queries.
func (r *Registry) Lookup(doc *goquery.Document, role schemas.ElementRole) (*html.Node, bool) {
	for _, q := range r.queries[role] {
		if n := q(doc); n != nil {
			return n, true
		}
	}
	return nil, false
}

// Roles lists the keys that have fallbacks.
func (r *Registry) Roles() []schemas.ElementRole {
	out := make([]schemas.ElementRole, 0, len(r.queries))
	for role := range r.queries {
		out = append(out, role)
	}
	return out
}

// First matches a plain CSS selector.
func First(selector string) Query {
	return func(doc *goquery.Document) *html.Node {
		return doc.Find(selector).First().Get(0)
	}
}

// AttrContains matches elements selected by selector whose attr contains
// needle, ignoring case.
func AttrContains(selector, attr, needle string) Query {
	needle = strings.ToLower(needle)
	return func(doc *goquery.Document) *html.Node {
		return doc.Find(selector).FilterFunction(func(_ int, s *goquery.Selection) bool {
			v, ok := s.Attr(attr)
			return ok && strings.Contains(strings.ToLower(v), needle)
		}).First().Get(0)
	}
}

// ButtonText returns the first button (or role=button) whose text contains
// any keyword, ignoring case. Buttons are visited in document order.
func ButtonText(keywords ...string) Query {
	return func(doc *goquery.Document) *html.Node {
		var found *html.Node
		doc.Find(`button, [role="button"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.ToLower(strings.TrimSpace(s.Text()))
			for _, kw := range keywords {
				if strings.Contains(text, kw) {
					found = s.Get(0)
					return false
				}
			}
			return true
		})
		return found
	}
}

// DefaultRegistry encodes the common markup shapes of the Flow page.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(schemas.RolePromptInput,
		AttrContains("textarea", "aria-label", "prompt"),
		AttrContains("textarea", "aria-label", "describe"),
		AttrContains("textarea", "placeholder", "prompt"),
		AttrContains(`div[contenteditable="true"]`, "aria-label", "prompt"),
		First(`div[contenteditable="true"]`),
		First("textarea"),
	)
	r.Register(schemas.RoleGenerateButton,
		AttrContains("button", "aria-label", "generate"),
		AttrContains("button", "aria-label", "create"),
		ButtonText("generate", "create", "go"),
	)
	r.Register(schemas.RoleDownloadButton,
		AttrContains("button", "aria-label", "download"),
		AttrContains("a", "aria-label", "download"),
		First("a[download]"),
		ButtonText("download", "save"),
	)
	r.Register(schemas.RoleVideoElement,
		First("video[src]"),
		First("video"),
	)
	r.Register(schemas.RoleLoadingIndicator,
		First(`[role="progressbar"]`),
		AttrContains("*", "aria-label", "loading"),
		AttrContains("*", "aria-label", "generating"),
	)
	r.Register(schemas.RoleErrorIndicator,
		First(`[role="alert"]`),
		AttrContains("*", "aria-label", "error"),
	)
	return r
}
