// internal/browser/cdp_executor.go
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flow-automator/internal/humanoid"
)

const (
	inputTimeout  = 10 * time.Second
	scriptTimeout = 20 * time.Second
)

// tab runs chromedp actions against one attached target.
type tab struct {
	ctx    context.Context // chromedp target context
	logger *zap.Logger
}

// run executes actions on the tab under opCtx, bounded by timeout.
func (t *tab) run(opCtx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	ctx, cancel := CombineContext(t.ctx, opCtx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}
	err := chromedp.Run(ctx, actions...)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && opCtx.Err() == nil {
		return fmt.Errorf("timed out after %v: %w", timeout, ctx.Err())
	}
	return err
}

// evaluate runs an expression whose value is copied into out.
func (t *tab) evaluate(ctx context.Context, expr string, out interface{}) error {
	return t.run(ctx, scriptTimeout, chromedp.Evaluate(expr, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	}))
}

// call invokes the function expression fn with args and returns its
// JSON-encoded result. A null or undefined result comes back as "null".
func (t *tab) call(ctx context.Context, fn string, args []interface{}) (json.RawMessage, error) {
	expr, err := callExpression(fn, args)
	if err != nil {
		return nil, err
	}
	var encoded string
	if err := t.evaluate(ctx, expr, &encoded); err != nil {
		return nil, err
	}
	return json.RawMessage(encoded), nil
}

// callExpression wraps fn so the page returns its result serialized as a
// string. Evaluating to a string keeps null results distinguishable from
// evaluation failures.
func callExpression(fn string, args []interface{}) (string, error) {
	encoded := make([]string, len(args))
	for i, arg := range args {
		b, err := wire.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("could not encode script argument %d: %w", i, err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf(`(async () => {
  const v = await (%s)(%s);
  return JSON.stringify(v === undefined ? null : v);
})()`, fn, strings.Join(encoded, ", ")), nil
}

// cdpExecutor implements humanoid.Executor with CDP input commands.
type cdpExecutor struct {
	*tab
}

var _ humanoid.Executor = (*cdpExecutor)(nil)

func (e *cdpExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return e.run(ctx, 0, chromedp.Sleep(d))
}

func (e *cdpExecutor) DispatchMouseEvent(ctx context.Context, data humanoid.MouseEventData) error {
	p := input.DispatchMouseEvent(input.MouseType(data.Type), data.X, data.Y).
		WithButton(input.MouseButton(data.Button)).
		WithButtons(data.Buttons).
		WithClickCount(int64(data.ClickCount))
	if err := e.run(ctx, inputTimeout, p); err != nil {
		return fmt.Errorf("cdpExecutor: dispatch %s: %w", data.Type, err)
	}
	return nil
}

// SendKeys commits text to the focused element in one Input.insertText.
func (e *cdpExecutor) SendKeys(ctx context.Context, keys string) error {
	if err := e.run(ctx, inputTimeout, input.InsertText(keys)); err != nil {
		return fmt.Errorf("cdpExecutor: insert text: %w", err)
	}
	return nil
}

func (e *cdpExecutor) GetElementGeometry(ctx context.Context, selector string) (*humanoid.ElementGeometry, error) {
	res, err := e.call(ctx, geometryScript, []interface{}{selector})
	if err != nil {
		return nil, fmt.Errorf("failed JS evaluation for geometry '%s': %w", selector, err)
	}
	if string(res) == "null" {
		e.logger.Debug("Element geometry evaluation returned null (not found or not visible).", zap.String("selector", selector))
		return nil, fmt.Errorf("element '%s' not found or not visible", selector)
	}

	var geom humanoid.ElementGeometry
	if err := wire.Unmarshal(res, &geom); err != nil {
		return nil, fmt.Errorf("failed to unmarshal geometry for '%s': %w (payload: %s)", selector, err, string(res))
	}
	if geom.Width <= 0 || geom.Height <= 0 {
		return nil, fmt.Errorf("element '%s' not found or not visible (width=%d, height=%d)", selector, geom.Width, geom.Height)
	}
	return &geom, nil
}

func (e *cdpExecutor) ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
	res, err := e.call(ctx, script, args)
	if err != nil {
		return nil, fmt.Errorf("failed ExecuteScript evaluation: %w", err)
	}
	return res, nil
}
