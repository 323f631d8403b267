package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/bridge"
	"github.com/xkilldash9x/flow-automator/internal/config"
	"github.com/xkilldash9x/flow-automator/internal/store"
)

// fakePage answers bridge calls from per-action handlers, encoding results
// the way the bridge does.
type fakePage struct {
	mu       sync.Mutex
	calls    []schemas.Action
	payloads map[schemas.Action][]interface{}
	handlers map[schemas.Action]func(ctx context.Context, payload interface{}) (interface{}, error)
}

func newFakePage() *fakePage {
	p := &fakePage{
		payloads: make(map[schemas.Action][]interface{}),
		handlers: make(map[schemas.Action]func(context.Context, interface{}) (interface{}, error)),
	}
	ok := func(context.Context, interface{}) (interface{}, error) {
		return schemas.ActionResult{Success: true}, nil
	}
	p.handlers[schemas.ActionFillPrompt] = ok
	p.handlers[schemas.ActionClickGenerate] = ok
	p.handlers[schemas.ActionUpdatePickedElements] = ok
	p.handlers[schemas.ActionClickDownload] = ok
	p.handlers[schemas.ActionCancelWait] = ok
	p.handlers[schemas.ActionWaitForCompletion] = func(context.Context, interface{}) (interface{}, error) {
		return schemas.StatusResult{Status: schemas.PageComplete, VideoURL: "https://cdn.example/v.mp4"}, nil
	}
	return p
}

var _ bridge.Caller = (*fakePage)(nil)

func (p *fakePage) on(action schemas.Action, fn func(ctx context.Context, payload interface{}) (interface{}, error)) {
	p.mu.Lock()
	p.handlers[action] = fn
	p.mu.Unlock()
}

// Call mirrors the bridge: the handler runs on its own goroutine and is not
// cancelled by the caller, whose result is discarded once ctx ends.
func (p *fakePage) Call(ctx context.Context, action schemas.Action, payload interface{}, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.calls = append(p.calls, action)
	p.payloads[action] = append(p.payloads[action], payload)
	fn := p.handlers[action]
	p.mu.Unlock()

	if fn == nil {
		return errors.New("no handler for " + string(action))
	}
	type reply struct {
		result interface{}
		err    error
	}
	replies := make(chan reply, 1)
	go func() {
		result, err := fn(context.WithoutCancel(ctx), payload)
		replies <- reply{result, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-replies:
		if r.err != nil {
			return r.err
		}
		raw, err := json.Marshal(r.result)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, out)
	}
}

func (p *fakePage) count(action schemas.Action) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, a := range p.calls {
		if a == action {
			n++
		}
	}
	return n
}

func (p *fakePage) payloadsFor(action schemas.Action) []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]interface{}(nil), p.payloads[action]...)
}

// fakeTargets returns page, or err when set. When hold is set, Target
// signals entered and blocks until hold is closed, ignoring ctx.
type fakeTargets struct {
	page    *fakePage
	err     error
	hold    chan struct{}
	entered chan struct{}
}

func (f *fakeTargets) Target(context.Context) (bridge.Caller, error) {
	if f.hold != nil {
		f.entered <- struct{}{}
		<-f.hold
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []schemas.Event
}

func (r *recorder) Publish(ev schemas.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) phases() []schemas.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schemas.Phase
	for _, ev := range r.events {
		if ev.StatusUpdate != nil {
			out = append(out, ev.StatusUpdate.Status)
		}
	}
	return out
}

func (r *recorder) picked() []schemas.ElementPickedConfirm {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schemas.ElementPickedConfirm
	for _, ev := range r.events {
		if ev.Picked != nil {
			out = append(out, *ev.Picked)
		}
	}
	return out
}

// fakeDownloader records requested downloads.
type fakeDownloader struct {
	mu    sync.Mutex
	urls  []string
	names []string
	err   error
}

func (d *fakeDownloader) Download(_ context.Context, url, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	d.names = append(d.names, name)
	if d.err != nil {
		return "", d.err
	}
	return "/downloads/" + name, nil
}

type harness struct {
	ctrl       *Controller
	store      *store.Store
	page       *fakePage
	targets    *fakeTargets
	events     *recorder
	downloader *fakeDownloader
	metrics    *Metrics
}

func newHarness(t *testing.T, prompts ...string) *harness {
	t.Helper()
	h := &harness{
		store:      store.New(store.NewMemoryBackend(), zaptest.NewLogger(t)),
		page:       newFakePage(),
		events:     &recorder{},
		downloader: &fakeDownloader{},
		metrics:    MustNewMetrics(prometheus.NewRegistry()),
	}
	h.targets = &fakeTargets{page: h.page}

	ctx := context.Background()
	for _, p := range prompts {
		_, err := h.store.AddPrompt(ctx, p)
		require.NoError(t, err)
	}
	_, err := h.store.UpdateSettings(ctx, map[string]interface{}{"delayBetween": 0})
	require.NoError(t, err)

	h.ctrl, err = New(config.PipelineConfig{CallTimeout: time.Second}, Deps{
		Store:      h.store,
		Targets:    h.targets,
		Events:     h.events,
		Downloader: h.downloader,
		Metrics:    h.metrics,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.ctrl.Close(ctx)
	})
	return h
}

// runToEnd starts the pipeline and waits for it to finish.
func (h *harness) runToEnd(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.Start())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Wait(ctx))
}

func (h *harness) logMessages(t *testing.T) []string {
	t.Helper()
	logs, err := h.store.Logs(context.Background())
	require.NoError(t, err)
	out := make([]string, len(logs))
	for i, l := range logs {
		out[i] = l.Message
	}
	return out
}

func (h *harness) statuses(t *testing.T) []schemas.PromptStatus {
	t.Helper()
	q, err := h.store.Queue(context.Background())
	require.NoError(t, err)
	out := make([]schemas.PromptStatus, len(q))
	for i, item := range q {
		out[i] = item.Status
	}
	return out
}
