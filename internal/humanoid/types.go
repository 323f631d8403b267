// internal/humanoid/types.go
package humanoid

// MouseEventType defines the type of mouse event.
// These strings align with the CDP Input.dispatchMouseEvent types.
type MouseEventType string

const (
	MouseMove    MouseEventType = "mouseMoved"
	MousePress   MouseEventType = "mousePressed"
	MouseRelease MouseEventType = "mouseReleased"
)

// MouseButton defines the mouse button.
type MouseButton string

const (
	ButtonNone MouseButton = "none"
	ButtonLeft MouseButton = "left"
)

// MouseEventData holds the data required to dispatch a mouse event.
// This is an agnostic structure used by the Executor interface.
type MouseEventData struct {
	Type MouseEventType
	X    float64
	Y    float64
	// Button that was pressed or released (relevant for Press/Release events).
	Button MouseButton
	// Number of consecutive clicks.
	ClickCount int
	// Buttons is a bitfield of the buttons currently held (1: Left).
	Buttons int64
}

// ElementGeometry is the viewport box of an element after it was scrolled
// into view.
type ElementGeometry struct {
	// Content box vertices [x0, y0, x1, y1, x2, y2, x3, y3].
	Vertices []float64
	Width    int64
	Height   int64
}

// Center returns the midpoint of the box.
func (g *ElementGeometry) Center() Vector2D {
	if g == nil || len(g.Vertices) < 8 {
		return Vector2D{}
	}
	var x, y float64
	for i := 0; i < 8; i += 2 {
		x += g.Vertices[i]
		y += g.Vertices[i+1]
	}
	return Vector2D{X: x / 4, Y: y / 4}
}

// Vector2D is a viewport coordinate.
type Vector2D struct {
	X, Y float64
}

// Lerp interpolates between v and o; t=0 yields v, t=1 yields o.
func (v Vector2D) Lerp(o Vector2D, t float64) Vector2D {
	return Vector2D{X: v.X + (o.X-v.X)*t, Y: v.Y + (o.Y-v.Y)*t}
}
