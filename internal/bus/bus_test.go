package bus_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/bus"
)

func newTestBus(t *testing.T, bufferSize int) *bus.EventBus {
	return bus.NewEventBus(zaptest.NewLogger(t), bufferSize)
}

func TestBus_DeliversByType(t *testing.T) {
	eb := newTestBus(t, 4)
	defer eb.Shutdown()

	statusCh, unsubStatus := eb.Subscribe(schemas.EventStatusUpdate)
	defer unsubStatus()
	allCh, unsubAll := eb.Subscribe()
	defer unsubAll()

	eb.Publish(schemas.NewStatusEvent(schemas.PhaseRunning, "Processing 1/2"))
	eb.Publish(schemas.NewPickedEvent(schemas.RolePromptInput, nil))

	msg := <-statusCh
	require.NotNil(t, msg.Event.StatusUpdate)
	assert.Equal(t, schemas.PhaseRunning, msg.Event.StatusUpdate.Status)
	assert.NotEmpty(t, msg.ID)
	select {
	case extra := <-statusCh:
		t.Fatalf("unexpected event %v on status-only subscription", extra.Event.Type)
	default:
	}

	assert.Equal(t, schemas.EventStatusUpdate, (<-allCh).Event.Type)
	assert.Equal(t, schemas.EventElementPickedConfirm, (<-allCh).Event.Type)
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	eb := bus.NewEventBus(zap.New(core), 1)
	defer eb.Shutdown()

	ch, unsubscribe := eb.Subscribe(schemas.EventStatusUpdate)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			eb.Publish(schemas.NewStatusEvent(schemas.PhaseWaiting, ""))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
	assert.Equal(t, 9, logs.FilterMessageSnippet("dropping event").Len())
}

func TestBus_Unsubscribe(t *testing.T) {
	eb := newTestBus(t, 1)
	defer eb.Shutdown()

	ch, unsubscribe := eb.Subscribe(schemas.EventStatusUpdate)
	unsubscribe()
	unsubscribe()

	_, open := <-ch
	assert.False(t, open, "unsubscribe closes the channel")
	eb.Publish(schemas.NewStatusEvent(schemas.PhaseIdle, ""))
}

func TestBus_Shutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	eb := newTestBus(t, 8)

	var wg sync.WaitGroup
	received := make([]int, 5)
	for i := range received {
		ch, _ := eb.Subscribe()
		wg.Add(1)
		go func(i int, ch <-chan bus.Message) {
			defer wg.Done()
			for range ch {
				received[i]++
			}
		}(i, ch)
	}

	for i := 0; i < 3; i++ {
		eb.Publish(schemas.NewStatusEvent(schemas.PhaseRunning, ""))
	}
	eb.Shutdown()
	eb.Shutdown()
	wg.Wait()

	for _, n := range received {
		assert.Equal(t, 3, n)
	}

	ch, unsubscribe := eb.Subscribe()
	_, open := <-ch
	assert.False(t, open, "subscribing after shutdown yields a closed channel")
	unsubscribe()
	eb.Publish(schemas.NewStatusEvent(schemas.PhaseIdle, ""))
}
