// internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext derives a context from tabCtx (which carries the chromedp
// target) that is also cancelled when opCtx is. Values come from tabCtx
// only; opCtx contributes its deadline and cancellation.
func CombineContext(tabCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(tabCtx)
	if deadline, ok := opCtx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		combined, cancelDeadline = context.WithDeadline(combined, deadline)
		stop := context.AfterFunc(opCtx, func() { cancel(context.Cause(opCtx)) })
		return combined, func() {
			stop()
			cancelDeadline()
			cancel(context.Canceled)
		}
	}
	stop := context.AfterFunc(opCtx, func() { cancel(context.Cause(opCtx)) })
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Detach returns a context that keeps ctx's values but not its
// cancellation, bounded by timeout. Cleanup that must reach the page after
// the caller gave up runs under it.
func Detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
