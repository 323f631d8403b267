package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/dom"
)

// fakePage serves snapshots from mutable markup.
type fakePage struct {
	t  *testing.T
	mu sync.Mutex

	markup      string
	snapshotErr error
	mutations   chan struct{}
	observed    int
	revoked     int

	pickerRole    schemas.ElementRole
	pickerOnEvent func(context.Context, PickerEvent)
	pickerStops   int
}

func newFakePage(t *testing.T, markup string) *fakePage {
	return &fakePage{t: t, markup: markup, mutations: make(chan struct{})}
}

func (p *fakePage) setMarkup(markup string) {
	p.mu.Lock()
	p.markup = markup
	p.mu.Unlock()
}

func (p *fakePage) Snapshot(ctx context.Context) (*dom.Snapshot, error) {
	p.mu.Lock()
	markup, err := p.markup, p.snapshotErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	snap, perr := dom.ParseHTML(strings.NewReader(markup), "https://labs.google/fx/tools/flow/project/1")
	require.NoError(p.t, perr)
	return snap, ctx.Err()
}

func (p *fakePage) Observe(context.Context) (<-chan struct{}, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observed++
	return p.mutations, func() {
		p.mu.Lock()
		p.revoked++
		p.mu.Unlock()
	}, nil
}

func (p *fakePage) StartPicker(_ context.Context, role schemas.ElementRole, onEvent func(context.Context, PickerEvent)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pickerRole = role
	p.pickerOnEvent = onEvent
	return nil
}

func (p *fakePage) StopPicker(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pickerStops++
	return nil
}

// firePicker simulates the in-page overlay reporting an outcome.
func (p *fakePage) firePicker(ev PickerEvent) {
	p.mu.Lock()
	fn := p.pickerOnEvent
	p.mu.Unlock()
	require.NotNil(p.t, fn, "picker was never started")
	fn(context.Background(), ev)
}

func (p *fakePage) observedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.observed
}

// fakeInput records the interactions requested of the humanoid layer.
type fakeInput struct {
	mu      sync.Mutex
	clicks  []string
	typed   map[string]string
	typeErr error
}

func newFakeInput() *fakeInput {
	return &fakeInput{typed: map[string]string{}}
}

func (f *fakeInput) Click(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, selector)
	return nil
}

func (f *fakeInput) TypeText(_ context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.typeErr != nil {
		return f.typeErr
	}
	f.typed[selector] = text
	return nil
}

// recordingNotifier captures page messages.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notified
}

type notified struct {
	Type    schemas.PageMessageType
	Payload interface{}
}

func (r *recordingNotifier) Notify(msgType schemas.PageMessageType, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, notified{msgType, payload})
}

func (r *recordingNotifier) messages() []notified {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notified(nil), r.msgs...)
}

var errTyping = errors.New("humanoid: could not focus element")

func stringsReader(s string) *strings.Reader { return strings.NewReader(s) }
