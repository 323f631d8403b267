// Package executor serves automation requests against one Flow tab.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/config"
	"github.com/xkilldash9x/flow-automator/internal/dom"
	"github.com/xkilldash9x/flow-automator/internal/humanoid"
	"github.com/xkilldash9x/flow-automator/internal/watcher"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultWaitTimeout applies when waitForCompletion carries no timeout.
const defaultWaitTimeout = 300000

// PickerEvent is reported by the page when a picker session ends. Path
// locates the clicked element from body; it is empty when cancelled.
type PickerEvent struct {
	Cancelled bool
	Path      []schemas.PathStep
}

// Page is the live tab the executor acts on.
type Page interface {
	// Snapshot captures the current DOM structure.
	Snapshot(ctx context.Context) (*dom.Snapshot, error)
	// Observe reports structural changes until revoke is called.
	Observe(ctx context.Context) (<-chan struct{}, func(), error)
	// StartPicker installs the picker overlay. onEvent is called once when
	// the user clicks an element or presses Escape.
	StartPicker(ctx context.Context, role schemas.ElementRole, onEvent func(context.Context, PickerEvent)) error
	// StopPicker removes the picker overlay, if any.
	StopPicker(ctx context.Context) error
}

// Notifier carries unsolicited messages to the orchestrator.
type Notifier interface {
	Notify(msgType schemas.PageMessageType, payload interface{})
}

// Executor dispatches named operations onto the page. It holds no pipeline
// state; the only state it keeps is the descriptor cache and picker mode.
type Executor struct {
	page    Page
	input   humanoid.Controller
	finder  *dom.Finder
	watcher *watcher.Watcher
	logger  *zap.Logger

	notifyMu sync.RWMutex
	notifier Notifier

	pickerMu      sync.Mutex
	pickerRole    schemas.ElementRole
	pickerSession int
}

// New creates an executor for page.
func New(page Page, input humanoid.Controller, finder *dom.Finder, cfg config.WatcherConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if finder == nil {
		finder = dom.NewFinder(nil)
	}
	e := &Executor{
		page:   page,
		input:  input,
		finder: finder,
		logger: logger.Named("executor"),
	}
	e.watcher = watcher.New(e, cfg, logger)
	return e
}

// SetNotifier sets where picker outcomes are sent.
func (e *Executor) SetNotifier(n Notifier) {
	e.notifyMu.Lock()
	e.notifier = n
	e.notifyMu.Unlock()
}

func (e *Executor) notify(msgType schemas.PageMessageType, payload interface{}) {
	e.notifyMu.RLock()
	n := e.notifier
	e.notifyMu.RUnlock()
	if n == nil {
		e.logger.Warn("No notifier set, dropping page message.", zap.String("type", string(msgType)))
		return
	}
	n.Notify(msgType, payload)
}

// Handle serves one request and returns its encoded result.
func (e *Executor) Handle(ctx context.Context, req schemas.Request) json.RawMessage {
	e.logger.Debug("Handling request.", zap.String("action", string(req.Action)), zap.String("id", req.ID))

	var result interface{}
	switch req.Action {
	case schemas.ActionFillPrompt:
		var p schemas.FillPromptPayload
		if err := decode(req, &p); err != nil {
			return encode(schemas.ActionResult{Error: err.Error()})
		}
		result = e.FillPrompt(ctx, p.Text)
	case schemas.ActionClickGenerate:
		result = e.ClickGenerate(ctx)
	case schemas.ActionClickDownload:
		result = e.ClickDownload(ctx)
	case schemas.ActionGetStatus:
		result = e.GetStatus(ctx)
	case schemas.ActionWaitForCompletion:
		var p schemas.WaitPayload
		if err := decode(req, &p); err != nil {
			return encode(schemas.StatusResult{Status: schemas.PageError, Message: err.Error()})
		}
		result = e.WaitForCompletion(ctx, p.Timeout)
	case schemas.ActionApplyVideoSpecs:
		var p schemas.ApplySpecsPayload
		if err := decode(req, &p); err != nil {
			return encode(schemas.ErrorResult{Error: err.Error()})
		}
		result = e.ApplyVideoSpecs(ctx, p.Specs)
	case schemas.ActionStartPicker:
		var p schemas.PickerPayload
		if err := decode(req, &p); err != nil {
			return encode(schemas.ActionResult{Error: err.Error()})
		}
		result = e.StartPicker(ctx, p.Role)
	case schemas.ActionStopPicker:
		result = e.StopPicker(ctx)
	case schemas.ActionUpdatePickedElements:
		var p schemas.PickedElements
		if err := decode(req, &p); err != nil {
			return encode(schemas.ActionResult{Error: err.Error()})
		}
		e.finder.Replace(p)
		result = schemas.ActionResult{Success: true}
	case schemas.ActionTestElement:
		var p schemas.TestElementPayload
		if err := decode(req, &p); err != nil {
			return encode(schemas.TestResult{})
		}
		result = e.TestElement(ctx, p.Key)
	case schemas.ActionPing:
		result = schemas.PingResult{Alive: true}
	case schemas.ActionCancelWait:
		e.watcher.Stop()
		result = schemas.ActionResult{Success: true}
	default:
		result = schemas.ErrorResult{Error: fmt.Sprintf("Unknown action: %s", req.Action)}
	}
	return encode(result)
}

// Close ends any completion wait and picker session.
func (e *Executor) Close(ctx context.Context) {
	e.watcher.Stop()
	e.pickerMu.Lock()
	active := e.pickerRole != ""
	e.pickerRole = ""
	e.pickerSession++
	e.pickerMu.Unlock()
	if active {
		if err := e.page.StopPicker(ctx); err != nil {
			e.logger.Debug("Could not remove picker overlay.", zap.Error(err))
		}
	}
}

// find locates role in a fresh snapshot.
func (e *Executor) find(ctx context.Context, role schemas.ElementRole) (*dom.Snapshot, *html.Node, error) {
	snap, err := e.page.Snapshot(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("page snapshot failed: %w", err)
	}
	node, ok := e.finder.Find(snap, role)
	if !ok {
		return snap, nil, nil
	}
	return snap, node, nil
}

func decode(req schemas.Request, v interface{}) error {
	if len(req.Payload) == 0 {
		return nil
	}
	if err := wire.Unmarshal(req.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", req.Action, err)
	}
	return nil
}

func encode(v interface{}) json.RawMessage {
	raw, err := wire.Marshal(v)
	if err != nil {
		raw, _ = wire.Marshal(schemas.ErrorResult{Error: err.Error()})
	}
	return raw
}
