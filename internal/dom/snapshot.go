package dom

import (
	"fmt"
	"io"
	"sort"

	"github.com/PuerkitoBio/goquery"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SnapshotScript serializes document.body into the compact tree format read
// by ParseSnapshot. Element children are kept in their live order, so indexes
// computed on the snapshot address the same nodes on the page. Media src
// attributes are replaced by the resolved src property.
const SnapshotScript = `(() => {
  const media = new Set(['VIDEO', 'SOURCE', 'IMG', 'A']);
  const walk = (el) => {
    const n = { t: el.tagName.toLowerCase(), a: {}, c: [] };
    for (const attr of el.attributes) n.a[attr.name] = attr.value;
    if (media.has(el.tagName)) {
      const src = el.currentSrc || el.src;
      if (src) n.a.src = src;
      if (el.tagName === 'A' && el.href) n.a.href = el.href;
    }
    const keepText = el.tagName !== 'SCRIPT' && el.tagName !== 'STYLE' && el.tagName !== 'NOSCRIPT';
    for (const child of el.childNodes) {
      if (child.nodeType === 1) n.c.push(walk(child));
      else if (child.nodeType === 3 && keepText && child.nodeValue) n.c.push(child.nodeValue);
    }
    return n;
  };
  return JSON.stringify({ url: location.href, body: document.body ? walk(document.body) : null });
})()`

type rawNode struct {
	Tag      string                `json:"t"`
	Attrs    map[string]string     `json:"a"`
	Children []jsoniter.RawMessage `json:"c"`
}

type rawSnapshot struct {
	URL  string   `json:"url"`
	Body *rawNode `json:"body"`
}

// Snapshot is a structural copy of the page taken at one instant.
type Snapshot struct {
	URL  string
	Doc  *goquery.Document
	Root *html.Node
	Body *html.Node
}

// ParseSnapshot rebuilds the output of SnapshotScript as an html tree.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var raw rawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode dom snapshot: %w", err)
	}

	root := &html.Node{Type: html.DocumentNode}
	htmlEl := newElement("html", nil)
	root.AppendChild(htmlEl)
	htmlEl.AppendChild(newElement("head", nil))

	var body *html.Node
	if raw.Body != nil {
		var err error
		body, err = buildNode(raw.Body)
		if err != nil {
			return nil, err
		}
	} else {
		body = newElement("body", nil)
	}
	htmlEl.AppendChild(body)

	return newSnapshot(raw.URL, root, body), nil
}

// ParseHTML builds a snapshot from markup, used for pages served as HTML and
// in tests.
func ParseHTML(r io.Reader, pageURL string) (*Snapshot, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	var body *html.Node
	Walk(root, func(n *html.Node) bool {
		if n.DataAtom == atom.Body {
			body = n
			return false
		}
		return true
	})
	if body == nil {
		return nil, fmt.Errorf("document has no body")
	}
	return newSnapshot(pageURL, root, body), nil
}

func newSnapshot(pageURL string, root, body *html.Node) *Snapshot {
	return &Snapshot{
		URL:  pageURL,
		Doc:  goquery.NewDocumentFromNode(root),
		Root: root,
		Body: body,
	}
}

// Select wraps nodes for goquery traversal within this snapshot.
func (s *Snapshot) Select(nodes ...*html.Node) *goquery.Selection {
	return s.Doc.FindNodes(nodes...)
}

func newElement(tag string, attrs map[string]string) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		n.Attr = append(n.Attr, html.Attribute{Key: k, Val: attrs[k]})
	}
	return n
}

func buildNode(raw *rawNode) (*html.Node, error) {
	n := newElement(raw.Tag, raw.Attrs)
	for _, child := range raw.Children {
		if len(child) > 0 && child[0] == '"' {
			var text string
			if err := json.Unmarshal(child, &text); err != nil {
				return nil, fmt.Errorf("failed to decode text node: %w", err)
			}
			n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
			continue
		}
		var rc rawNode
		if err := json.Unmarshal(child, &rc); err != nil {
			return nil, fmt.Errorf("failed to decode element under <%s>: %w", raw.Tag, err)
		}
		c, err := buildNode(&rc)
		if err != nil {
			return nil, err
		}
		n.AppendChild(c)
	}
	return n, nil
}
