package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flow-automator/api/schemas"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrClosed is returned by Call after Close.
var ErrClosed = errors.New("bridge: closed")

// Handler serves requests on the page side of the bridge. The returned
// value is the JSON-encoded result.
type Handler interface {
	Handle(ctx context.Context, req schemas.Request) json.RawMessage
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req schemas.Request) json.RawMessage

func (f HandlerFunc) Handle(ctx context.Context, req schemas.Request) json.RawMessage {
	return f(ctx, req)
}

// Caller is the orchestrator side of the bridge.
type Caller interface {
	Call(ctx context.Context, action schemas.Action, payload interface{}, out interface{}) error
}

// Bridge carries requests from the orchestrator to a page executor. The two
// sides share nothing but encoded messages. Each request is served on its
// own goroutine, so a long wait does not hold up a status query.
type Bridge struct {
	handler Handler
	logger  *zap.Logger

	mu       sync.Mutex
	pending  map[string]chan []byte
	closed   bool
	listener func(schemas.PageMessage)

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ Caller = (*Bridge)(nil)

// New creates a bridge that dispatches to handler.
func New(handler Handler, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		handler: handler,
		logger:  logger.Named("bridge"),
		pending: make(map[string]chan []byte),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Call sends action with payload and decodes the result into out (which may
// be nil). If ctx ends first the request keeps running on the page side but
// its result is discarded. A ctx that has already ended dispatches nothing.
func (b *Bridge) Call(ctx context.Context, action schemas.Action, payload interface{}, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := schemas.Request{ID: uuid.New().String(), Action: action}
	if payload != nil {
		raw, err := wire.Marshal(payload)
		if err != nil {
			return fmt.Errorf("bridge: encode %s payload: %w", action, err)
		}
		req.Payload = raw
	}
	data, err := wire.Marshal(req)
	if err != nil {
		return fmt.Errorf("bridge: encode %s request: %w", action, err)
	}

	ch := make(chan []byte, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.pending[req.ID] = ch
	b.wg.Add(1)
	b.mu.Unlock()

	go b.serve(ctx, data)

	select {
	case <-ctx.Done():
		b.forget(req.ID)
		return ctx.Err()
	case <-b.baseCtx.Done():
		b.forget(req.ID)
		return ErrClosed
	case respData := <-ch:
		var resp schemas.Response
		if err := wire.Unmarshal(respData, &resp); err != nil {
			return fmt.Errorf("bridge: decode %s response: %w", action, err)
		}
		if out == nil {
			return nil
		}
		if err := wire.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("bridge: decode %s result: %w", action, err)
		}
		return nil
	}
}

// serve runs on the page side: decode, handle, encode, reply. Once
// dispatched the handler is not cancelled by the caller. It is bounded by
// the caller's deadline, if any, and by Close.
func (b *Bridge) serve(callerCtx context.Context, data []byte) {
	defer b.wg.Done()

	var req schemas.Request
	if err := wire.Unmarshal(data, &req); err != nil {
		b.logger.Error("Dropping undecodable request.", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(callerCtx))
	defer cancel()
	if deadline, ok := callerCtx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		ctx, cancelDeadline = context.WithDeadline(ctx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(b.baseCtx, cancel)
	defer stop()

	result := b.handle(ctx, req)
	respData, err := wire.Marshal(schemas.Response{ID: req.ID, Result: result})
	if err != nil {
		b.logger.Error("Could not encode response.", zap.String("action", string(req.Action)), zap.Error(err))
		return
	}

	b.mu.Lock()
	ch, ok := b.pending[req.ID]
	delete(b.pending, req.ID)
	b.mu.Unlock()
	if !ok {
		b.logger.Debug("Discarding result of abandoned request.", zap.String("action", string(req.Action)))
		return
	}
	ch <- respData
}

func (b *Bridge) handle(ctx context.Context, req schemas.Request) (result json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Handler panicked.", zap.String("action", string(req.Action)), zap.Any("panic", r))
			result, _ = wire.Marshal(schemas.ErrorResult{Error: fmt.Sprintf("handler panic: %v", r)})
		}
	}()
	result = b.handler.Handle(ctx, req)
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return result
}

// Listen registers fn to receive messages the page side sends with Notify.
// Messages are delivered on their own goroutine.
func (b *Bridge) Listen(fn func(schemas.PageMessage)) {
	b.mu.Lock()
	b.listener = fn
	b.mu.Unlock()
}

// Notify sends an unsolicited message from the page side. It is dropped
// when nobody listens or the bridge is closed.
func (b *Bridge) Notify(msgType schemas.PageMessageType, payload interface{}) {
	msg := schemas.PageMessage{Type: msgType}
	if payload != nil {
		raw, err := wire.Marshal(payload)
		if err != nil {
			b.logger.Error("Could not encode page message.", zap.String("type", string(msgType)), zap.Error(err))
			return
		}
		msg.Payload = raw
	}
	data, err := wire.Marshal(msg)
	if err != nil {
		b.logger.Error("Could not encode page message.", zap.String("type", string(msgType)), zap.Error(err))
		return
	}

	b.mu.Lock()
	fn := b.listener
	if b.closed || fn == nil {
		b.mu.Unlock()
		b.logger.Debug("Dropping page message.", zap.String("type", string(msgType)))
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		var decoded schemas.PageMessage
		if err := wire.Unmarshal(data, &decoded); err != nil {
			b.logger.Error("Dropping undecodable page message.", zap.Error(err))
			return
		}
		fn(decoded)
	}()
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// Close rejects new calls, cancels in-flight handlers and waits for them.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}
