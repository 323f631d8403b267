package dom

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/flow-automator/api/schemas"
)

const flowPage = `<!DOCTYPE html>
<html><head><title>Flow</title></head>
<body>
  <div id="composer">
    <button aria-label="Create video">Create</button>
    <textarea placeholder="Describe your video"></textarea>
  </div>
  <div role="toolbar">
    <span data-testid="gen" data-variant="primary">Generate now</span>
    <button>Generate now</button>
  </div>
  <section>
    <button aria-label="Dup">A</button>
    <button aria-label="Dup">B</button>
  </section>
</body></html>`

func mustParse(t *testing.T, markup string) *Snapshot {
	t.Helper()
	snap, err := ParseHTML(strings.NewReader(markup), "https://labs.google/fx/tools/flow")
	require.NoError(t, err)
	return snap
}

func find(t *testing.T, snap *Snapshot, selector string) *html.Node {
	t.Helper()
	n := snap.Doc.Find(selector).First().Get(0)
	require.NotNil(t, n, "selector %q matched nothing", selector)
	return n
}

func TestCapture(t *testing.T) {
	snap := mustParse(t, flowPage)

	t.Run("aria label element", func(t *testing.T) {
		desc := Capture(find(t, snap, `button[aria-label="Create video"]`))
		want := schemas.ElementDescriptor{
			TagName:      "button",
			TextContent:  "Create",
			AriaLabel:    "Create video",
			NthChildPath: []schemas.PathStep{{Tag: "div", Index: 0}, {Tag: "button", Index: 0}},
			DisplayLabel: "button [Create video]",
		}
		if diff := cmp.Diff(want, desc); diff != "" {
			t.Errorf("Capture() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("data attributes and text label", func(t *testing.T) {
		desc := Capture(find(t, snap, "span"))
		assert.Equal(t, map[string]string{"data-testid": "gen", "data-variant": "primary"}, desc.DataAttributes)
		assert.Equal(t, `span "Generate now"`, desc.DisplayLabel)
	})

	t.Run("placeholder label", func(t *testing.T) {
		desc := Capture(find(t, snap, "textarea"))
		assert.Equal(t, "textarea (Describe your video)", desc.DisplayLabel)
		assert.Equal(t, []schemas.PathStep{{Tag: "div", Index: 0}, {Tag: "textarea", Index: 1}}, desc.NthChildPath)
	})

	t.Run("text is trimmed and bounded", func(t *testing.T) {
		long := strings.Repeat("x", 120)
		s := mustParse(t, "<body><p>   "+long+"   </p></body>")
		desc := Capture(find(t, s, "p"))
		assert.Len(t, desc.TextContent, 80)
		assert.Equal(t, `p "`+strings.Repeat("x", 30)+`"`, desc.DisplayLabel)
	})

	t.Run("bare tag label", func(t *testing.T) {
		s := mustParse(t, "<body><video></video></body>")
		assert.Equal(t, "video", Capture(find(t, s, "video")).DisplayLabel)
	})
}

func TestPathOf_Bounded(t *testing.T) {
	markup := "<body>" + strings.Repeat("<div>", 14) + "<b>deep</b>" + strings.Repeat("</div>", 14) + "</body>"
	snap := mustParse(t, markup)
	path := PathOf(find(t, snap, "b"))
	require.Len(t, path, 10)
	assert.Equal(t, schemas.PathStep{Tag: "b", Index: 0}, path[9])
}

func TestWalkPath(t *testing.T) {
	snap := mustParse(t, flowPage)

	n, ok := WalkPath(snap.Body, []schemas.PathStep{{Tag: "div", Index: 1}, {Tag: "button", Index: 1}})
	require.True(t, ok)
	assert.Equal(t, "Generate now", TrimmedText(n))

	_, ok = WalkPath(snap.Body, []schemas.PathStep{{Tag: "section", Index: 1}})
	assert.False(t, ok, "tag mismatch must fail the walk")

	_, ok = WalkPath(snap.Body, []schemas.PathStep{{Tag: "div", Index: 9}})
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	snap := mustParse(t, flowPage)

	t.Run("empty descriptor is not found", func(t *testing.T) {
		_, ok := snap.Resolve(schemas.ElementDescriptor{})
		assert.False(t, ok)
	})

	t.Run("aria label beats positional path", func(t *testing.T) {
		desc := schemas.ElementDescriptor{
			TagName:   "button",
			AriaLabel: "Create video",
			// Points at the second toolbar button.
			NthChildPath: []schemas.PathStep{{Tag: "div", Index: 1}, {Tag: "button", Index: 1}},
		}
		m, ok := snap.Resolve(desc)
		require.True(t, ok)
		assert.Equal(t, 11, m.Score)
		assert.Equal(t, "aria-label", m.Strategy)
		assert.Equal(t, "Create", TrimmedText(m.Node))
	})

	t.Run("deterministic", func(t *testing.T) {
		desc := Capture(find(t, snap, "span"))
		first, ok := snap.Resolve(desc)
		require.True(t, ok)
		for i := 0; i < 5; i++ {
			again, ok := snap.Resolve(desc)
			require.True(t, ok)
			assert.Same(t, first.Node, again.Node)
		}
	})

	t.Run("aria label substring", func(t *testing.T) {
		m, ok := snap.Resolve(schemas.ElementDescriptor{AriaLabel: "create"})
		require.True(t, ok)
		assert.Equal(t, 8, m.Score)
		assert.Equal(t, "button", TagName(m.Node))
	})

	t.Run("ties go to the first candidate", func(t *testing.T) {
		m, ok := snap.Resolve(schemas.ElementDescriptor{AriaLabel: "Dup"})
		require.True(t, ok)
		assert.Equal(t, "A", TrimmedText(m.Node))
	})

	t.Run("tag boost decides between equal strategies", func(t *testing.T) {
		s := mustParse(t, `<body><div aria-label="prompt here box"></div><textarea placeholder="Prompt here"></textarea></body>`)
		m, ok := s.Resolve(schemas.ElementDescriptor{TagName: "textarea", Placeholder: "Prompt here", AriaLabel: "prompt here"})
		require.True(t, ok)
		assert.Equal(t, "textarea", TagName(m.Node))
		assert.Equal(t, 9, m.Score)
	})

	t.Run("role and partial text", func(t *testing.T) {
		m, ok := snap.Resolve(schemas.ElementDescriptor{Role: "toolbar", TextContent: "Generate now"})
		require.True(t, ok)
		assert.Equal(t, "role+text~", m.Strategy)
		assert.Equal(t, 6, m.Score)
	})

	t.Run("data attribute", func(t *testing.T) {
		m, ok := snap.Resolve(schemas.ElementDescriptor{TagName: "span", DataAttributes: map[string]string{"data-testid": "gen"}})
		require.True(t, ok)
		assert.Equal(t, 8, m.Score)
		assert.Equal(t, "span", TagName(m.Node))
	})

	t.Run("partial tag text needs more than five characters", func(t *testing.T) {
		_, ok := snap.Resolve(schemas.ElementDescriptor{TagName: "span", TextContent: "Gen"})
		assert.False(t, ok)

		m, ok := snap.Resolve(schemas.ElementDescriptor{TagName: "span", TextContent: "Generate"})
		require.True(t, ok)
		assert.Equal(t, scoreTagTextPart+tagBoost, m.Score)
	})

	t.Run("path fallback", func(t *testing.T) {
		m, ok := snap.Resolve(schemas.ElementDescriptor{
			TagName:      "button",
			NthChildPath: []schemas.PathStep{{Tag: "section", Index: 2}, {Tag: "button", Index: 1}},
		})
		require.True(t, ok)
		assert.Equal(t, "path", m.Strategy)
		assert.Equal(t, "B", TrimmedText(m.Node))
	})
}

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		name   string
		markup string
		role   schemas.ElementRole
		want   string // text or tag of the expected node
	}{
		{"prompt by aria", `<body><textarea></textarea><textarea aria-label="Enter your PROMPT">p</textarea></body>`, schemas.RolePromptInput, "p"},
		{"prompt contenteditable", `<body><div contenteditable="true">ce</div></body>`, schemas.RolePromptInput, "ce"},
		{"prompt any textarea", `<body><textarea>last</textarea></body>`, schemas.RolePromptInput, "last"},
		{"generate by aria", `<body><button>Go</button><button aria-label="Create clip">x</button></body>`, schemas.RoleGenerateButton, "x"},
		{"generate by text", `<body><button>Cancel</button><div role="button">Generate</div></body>`, schemas.RoleGenerateButton, "Generate"},
		{"download link", `<body><a href="/v.mp4" download>file</a></body>`, schemas.RoleDownloadButton, "file"},
		{"download by text", `<body><button>Save</button></body>`, schemas.RoleDownloadButton, "Save"},
		{"video with src first", `<body><video></video><video src="b.mp4">two</video></body>`, schemas.RoleVideoElement, "two"},
		{"loading", `<body><span aria-label="Generating video">spin</span></body>`, schemas.RoleLoadingIndicator, "spin"},
		{"error", `<body><div role="alert">Quota exceeded</div></body>`, schemas.RoleErrorIndicator, "Quota exceeded"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap := mustParse(t, tc.markup)
			n, ok := reg.Lookup(snap.Doc, tc.role)
			require.True(t, ok)
			assert.Equal(t, tc.want, TrimmedText(n))
		})
	}

	t.Run("no match", func(t *testing.T) {
		snap := mustParse(t, `<body><p>nothing here</p></body>`)
		_, ok := reg.Lookup(snap.Doc, schemas.RoleErrorIndicator)
		assert.False(t, ok)
		_, ok = reg.Lookup(snap.Doc, schemas.RoleStyle)
		assert.False(t, ok)
	})
}

func TestFinder(t *testing.T) {
	snap := mustParse(t, flowPage)
	f := NewFinder(nil)

	t.Run("falls back without a descriptor", func(t *testing.T) {
		n, ok := f.Find(snap, schemas.RoleGenerateButton)
		require.True(t, ok)
		assert.Equal(t, "Create video", AttrOr(n, "aria-label"))
	})

	t.Run("prefers the picked descriptor", func(t *testing.T) {
		f.Replace(schemas.PickedElements{
			schemas.RoleGenerateButton: {TagName: "button", TextContent: "Generate now"},
		})
		n, ok := f.Find(snap, schemas.RoleGenerateButton)
		require.True(t, ok)
		assert.Equal(t, "Generate now", TrimmedText(n))
	})

	t.Run("stale descriptor falls back", func(t *testing.T) {
		f.Replace(schemas.PickedElements{
			schemas.RoleGenerateButton: {AriaLabel: "does not exist"},
		})
		n, ok := f.Find(snap, schemas.RoleGenerateButton)
		require.True(t, ok)
		assert.Equal(t, "Create video", AttrOr(n, "aria-label"))
	})

	t.Run("replace with empty clears", func(t *testing.T) {
		f.Replace(schemas.PickedElements{})
		_, ok := f.Descriptor(schemas.RoleGenerateButton)
		assert.False(t, ok)
	})
}

func TestSelectorFor(t *testing.T) {
	snap := mustParse(t, flowPage)
	assert.Equal(t, "body > div:nth-child(2) > button:nth-child(2)", SelectorFor(find(t, snap, "div[role=toolbar] button")))
	assert.Equal(t, "body", SelectorFor(snap.Body))

	target := TargetOf(find(t, snap, `button[aria-label="Create video"]`))
	assert.Equal(t, "button", target.Tag)
	assert.Equal(t, "Create video", target.Label)

	// The selector addresses the same node when evaluated on the snapshot.
	n := snap.Doc.Find(target.Selector).Get(0)
	assert.Equal(t, "Create video", AttrOr(n, "aria-label"))
}

func TestParseSnapshot(t *testing.T) {
	raw := []byte(`{"url":"https://labs.google/fx/tools/flow/project/1","body":{"t":"body","a":{},"c":[
		"\n",
		{"t":"div","a":{"class":"grid"},"c":[
			{"t":"video","a":{"src":"https://cdn.example/v.mp4"},"c":[]},
			{"t":"button","a":{"aria-label":"Download"},"c":["Download"]}
		]}
	]}}`)

	snap, err := ParseSnapshot(raw)
	require.NoError(t, err)
	assert.Equal(t, "https://labs.google/fx/tools/flow/project/1", snap.URL)

	video := snap.Doc.Find("video").Get(0)
	require.NotNil(t, video)
	assert.Equal(t, "https://cdn.example/v.mp4", VideoSource(video))
	assert.Equal(t, []schemas.PathStep{{Tag: "div", Index: 0}, {Tag: "video", Index: 0}}, PathOf(video))

	n, ok := DefaultRegistry().Lookup(snap.Doc, schemas.RoleDownloadButton)
	require.True(t, ok)
	assert.Equal(t, "body > div:nth-child(1) > button:nth-child(2)", SelectorFor(n))

	_, err = ParseSnapshot([]byte(`{"body":`))
	assert.Error(t, err)
}

func TestSelectorFor_ForeignContent(t *testing.T) {
	snap := mustParse(t, `<body><button><svg><path d="M0"></path></svg></button></body>`)
	assert.Equal(t, "body > button:nth-child(1) > svg:nth-child(1) > :nth-child(1)", SelectorFor(find(t, snap, "path")))
}

func TestVideoSource_SourceChild(t *testing.T) {
	snap := mustParse(t, `<body><video><source src="a.webm"></video></body>`)
	assert.Equal(t, "a.webm", VideoSource(find(t, snap, "video")))
}
