package humanoid

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// releaseTimeout bounds the mouse-up sent after the click context ended, so
// the page is never left with a held button.
const releaseTimeout = 2 * time.Second

// Click scrolls the element into view, glides the pointer to its center and
// performs a press, hold and release there. The browser turns these into the
// full pointer/mouse event lifecycle (over, enter, move, down, up, click).
func (h *Humanoid) Click(ctx context.Context, selector string) error {
	geo, err := h.executor.GetElementGeometry(ctx, selector)
	if err != nil {
		return fmt.Errorf("humanoid: could not locate element %q: %w", selector, err)
	}
	target := geo.Center()

	if err := h.moveTo(ctx, target); err != nil {
		return err
	}

	press := MouseEventData{
		Type:       MousePress,
		X:          target.X,
		Y:          target.Y,
		Button:     ButtonLeft,
		ClickCount: 1,
		// When pressed, the 'Buttons' field must reflect the state (1=Left).
		Buttons: 1,
	}
	if err := h.executor.DispatchMouseEvent(ctx, press); err != nil {
		return fmt.Errorf("humanoid: mouse press failed: %w", err)
	}
	h.mu.Lock()
	h.currentButtonState = ButtonLeft
	h.mu.Unlock()

	holdErr := h.executor.Sleep(ctx, h.holdDuration())

	release := MouseEventData{
		Type:       MouseRelease,
		X:          target.X,
		Y:          target.Y,
		Button:     ButtonLeft,
		ClickCount: 1,
		Buttons:    0,
	}
	releaseCtx := ctx
	if holdErr != nil {
		var cancel context.CancelFunc
		releaseCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
	}
	if err := h.executor.DispatchMouseEvent(releaseCtx, release); err != nil {
		h.logger.Warn("Mouse release failed; button may remain pressed.", zap.Error(err))
		if holdErr == nil {
			return fmt.Errorf("humanoid: mouse release failed: %w", err)
		}
	}
	h.mu.Lock()
	h.currentButtonState = ButtonNone
	h.mu.Unlock()

	if holdErr != nil {
		return holdErr
	}
	h.logger.Debug("Clicked element.", zap.String("selector", selector), zap.Float64("x", target.X), zap.Float64("y", target.Y))
	return nil
}

// moveTo dispatches a short linear glide from the last known position.
func (h *Humanoid) moveTo(ctx context.Context, target Vector2D) error {
	start, known := h.Position()
	steps := 1
	if known {
		steps = glideSteps
	}
	for i := 1; i <= steps; i++ {
		p := target
		if known {
			p = start.Lerp(target, float64(i)/float64(steps))
		}
		move := MouseEventData{Type: MouseMove, X: p.X, Y: p.Y, Button: ButtonNone}
		if err := h.executor.DispatchMouseEvent(ctx, move); err != nil {
			return fmt.Errorf("humanoid: mouse move failed: %w", err)
		}
		h.mu.Lock()
		h.currentPos = p
		h.hasPosition = true
		h.mu.Unlock()
	}
	return nil
}
