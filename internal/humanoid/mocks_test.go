package humanoid

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockExecutor implements the agnostic Executor interface for testing.
// Overrides replace the default behavior when set.
type mockExecutor struct {
	t  *testing.T
	mu sync.Mutex

	dispatchedEvents []MouseEventData
	sentKeys         []string
	sleepDurations   []time.Duration
	scripts          []string

	geometry *ElementGeometry
	// content is what readContentScript returns; SendKeys stores into it.
	content *string

	MockSleep         func(ctx context.Context, d time.Duration) error
	MockSendKeys      func(ctx context.Context, keys string) error
	MockExecuteScript func(ctx context.Context, script string, args []interface{}) (json.RawMessage, error)
}

func newMockExecutor(t *testing.T) *mockExecutor {
	return &mockExecutor{
		t: t,
		geometry: &ElementGeometry{
			Vertices: []float64{100, 200, 300, 200, 300, 240, 100, 240},
			Width:    200,
			Height:   40,
		},
	}
}

func (m *mockExecutor) Sleep(ctx context.Context, d time.Duration) error {
	m.mu.Lock()
	m.sleepDurations = append(m.sleepDurations, d)
	m.mu.Unlock()
	if m.MockSleep != nil {
		return m.MockSleep(ctx, d)
	}
	return ctx.Err()
}

func (m *mockExecutor) DispatchMouseEvent(ctx context.Context, data MouseEventData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Record first so cleanup releases sent after cancellation are visible.
	m.dispatchedEvents = append(m.dispatchedEvents, data)
	return ctx.Err()
}

func (m *mockExecutor) SendKeys(ctx context.Context, keys string) error {
	m.mu.Lock()
	m.sentKeys = append(m.sentKeys, keys)
	m.mu.Unlock()
	if m.MockSendKeys != nil {
		return m.MockSendKeys(ctx, keys)
	}
	m.mu.Lock()
	m.content = &keys
	m.mu.Unlock()
	return nil
}

func (m *mockExecutor) GetElementGeometry(ctx context.Context, selector string) (*ElementGeometry, error) {
	return m.geometry, ctx.Err()
}

func (m *mockExecutor) ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
	m.mu.Lock()
	m.scripts = append(m.scripts, script)
	m.mu.Unlock()
	if m.MockExecuteScript != nil {
		return m.MockExecuteScript(ctx, script, args)
	}
	return m.defaultExecuteScript(script, args)
}

// defaultExecuteScript emulates a well-behaved textarea.
func (m *mockExecutor) defaultExecuteScript(script string, args []interface{}) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch script {
	case focusAndClearScript:
		empty := ""
		m.content = &empty
		return json.RawMessage(`{"ok":true}`), nil
	case readContentScript:
		return json.Marshal(m.content)
	case setContentScript:
		text := args[1].(string)
		m.content = &text
		return json.RawMessage(`{"ok":true}`), nil
	}
	m.t.Fatalf("unexpected script: %s", strings.SplitN(script, "\n", 2)[0])
	return nil, nil
}

func (m *mockExecutor) events() []MouseEventData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MouseEventData(nil), m.dispatchedEvents...)
}

func (m *mockExecutor) ranScript(script string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.scripts {
		if s == script {
			n++
		}
	}
	return n
}
