// Filename: internal/humanoid/interface.go
package humanoid

import (
	"context"
	"encoding/json"
	"time"
)

// Controller is the high-level interaction surface used by the page executor.
type Controller interface {
	// Click scrolls the element into view and presses it at its center.
	Click(ctx context.Context, selector string) error
	// TypeText replaces the element's content with text.
	TypeText(ctx context.Context, selector string, text string) error
}

// Executor defines the interface for interacting with the browser automation layer.
// This interface is designed to be agnostic of the underlying technology.
type Executor interface {
	// Sleep pauses execution, respecting context cancellation.
	Sleep(ctx context.Context, d time.Duration) error

	// DispatchMouseEvent sends a mouse event using agnostic data structures.
	DispatchMouseEvent(ctx context.Context, data MouseEventData) error

	// SendKeys inserts text into the focused element as a single input
	// operation, the way an IME commit would.
	SendKeys(ctx context.Context, keys string) error

	// GetElementGeometry scrolls the first element matching selector into view
	// and returns its geometry.
	GetElementGeometry(ctx context.Context, selector string) (*ElementGeometry, error)

	// ExecuteScript calls the JavaScript function expression script with args
	// and returns its JSON-encoded result. Promises are awaited.
	ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error)
}
