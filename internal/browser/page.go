// internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/dom"
	"github.com/xkilldash9x/flow-automator/internal/executor"
)

const cleanupTimeout = 2 * time.Second

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// pickerMessage is what the picker overlay passes to its binding.
type pickerMessage struct {
	Kind string             `json:"kind"`
	Path []schemas.PathStep `json:"path"`
}

// Page implements executor.Page over one chromedp target.
type Page struct {
	tab *tab

	mu        sync.Mutex
	observers map[int]chan struct{}
	nextObs   int
	onPicker  func(context.Context, executor.PickerEvent)
}

var _ executor.Page = (*Page)(nil)

// newPage registers the page bindings on the tab and starts routing binding
// calls. Bindings survive navigation; the observer script is reinstalled on
// each load while anyone is observing.
func newPage(ctx context.Context, tabCtx context.Context, logger *zap.Logger) (*Page, error) {
	p := &Page{
		tab:       &tab{ctx: tabCtx, logger: logger.Named("page")},
		observers: make(map[int]chan struct{}),
	}
	chromedp.ListenTarget(tabCtx, p.handleEvent)
	if err := p.tab.run(ctx, scriptTimeout,
		runtime.Enable(),
		runtime.AddBinding(mutationBinding),
		runtime.AddBinding(pickerBinding),
	); err != nil {
		return nil, fmt.Errorf("could not register page bindings: %w", err)
	}
	return p, nil
}

// handleEvent runs on the chromedp event loop and must not block.
func (p *Page) handleEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *runtime.EventBindingCalled:
		switch ev.Name {
		case mutationBinding:
			p.broadcastMutation()
		case pickerBinding:
			go p.dispatchPicker(ev.Payload)
		}
	case *page.EventLoadEventFired:
		p.mu.Lock()
		observing := len(p.observers) > 0
		p.mu.Unlock()
		if observing {
			go p.installObserver()
		}
	}
}

func (p *Page) broadcastMutation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.observers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (p *Page) dispatchPicker(payload string) {
	var msg pickerMessage
	if err := wire.Unmarshal([]byte(payload), &msg); err != nil {
		p.tab.logger.Warn("Malformed picker message.", zap.Error(err))
		return
	}
	p.mu.Lock()
	fn := p.onPicker
	p.onPicker = nil
	p.mu.Unlock()
	if fn == nil {
		return
	}
	ctx, cancel := Detach(p.tab.ctx, scriptTimeout)
	defer cancel()
	fn(ctx, executor.PickerEvent{Cancelled: msg.Kind != "picked", Path: msg.Path})
}

func (p *Page) installObserver() {
	ctx, cancel := Detach(p.tab.ctx, cleanupTimeout)
	defer cancel()
	var installed bool
	if err := p.tab.evaluate(ctx, observeScript, &installed); err != nil {
		p.tab.logger.Debug("Could not install mutation observer.", zap.Error(err))
		return
	}
	if !installed {
		p.tab.logger.Debug("Mutation observer not installed: document has no body.")
	}
}

// Snapshot serializes the live DOM and rebuilds it locally.
func (p *Page) Snapshot(ctx context.Context) (*dom.Snapshot, error) {
	var encoded string
	if err := p.tab.evaluate(ctx, dom.SnapshotScript, &encoded); err != nil {
		return nil, err
	}
	return dom.ParseSnapshot([]byte(encoded))
}

// Observe reports DOM mutations until revoke is called.
func (p *Page) Observe(ctx context.Context) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)
	p.mu.Lock()
	id := p.nextObs
	p.nextObs++
	p.observers[id] = ch
	first := len(p.observers) == 1
	p.mu.Unlock()

	if first {
		var installed bool
		if err := p.tab.evaluate(ctx, observeScript, &installed); err != nil {
			p.mu.Lock()
			delete(p.observers, id)
			p.mu.Unlock()
			return nil, nil, fmt.Errorf("could not install mutation observer: %w", err)
		}
	}

	var once sync.Once
	revoke := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.observers, id)
			last := len(p.observers) == 0
			p.mu.Unlock()
			if !last {
				return
			}
			cleanupCtx, cancel := Detach(p.tab.ctx, cleanupTimeout)
			defer cancel()
			var ok bool
			if err := p.tab.evaluate(cleanupCtx, disconnectScript, &ok); err != nil {
				p.tab.logger.Debug("Could not disconnect mutation observer.", zap.Error(err))
			}
		})
	}
	return ch, revoke, nil
}

// StartPicker installs the picker overlay for role.
func (p *Page) StartPicker(ctx context.Context, role schemas.ElementRole, onEvent func(context.Context, executor.PickerEvent)) error {
	p.mu.Lock()
	p.onPicker = onEvent
	p.mu.Unlock()
	if _, err := p.tab.call(ctx, pickerScript, []interface{}{string(role)}); err != nil {
		p.mu.Lock()
		p.onPicker = nil
		p.mu.Unlock()
		return fmt.Errorf("could not start element picker: %w", err)
	}
	return nil
}

// StopPicker removes the overlay; a pending pick is discarded.
func (p *Page) StopPicker(ctx context.Context) error {
	p.mu.Lock()
	p.onPicker = nil
	p.mu.Unlock()
	var ok bool
	return p.tab.evaluate(ctx, stopPickerScript, &ok)
}
