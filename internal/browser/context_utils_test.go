package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

type ctxKey string

func TestCombineContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("operation cancel propagates", func(t *testing.T) {
		tabCtx := context.WithValue(context.Background(), ctxKey("target"), "tab-1")
		opCtx, cancelOp := context.WithCancel(context.Background())

		combined, cancel := CombineContext(tabCtx, opCtx)
		defer cancel()
		assert.Equal(t, "tab-1", combined.Value(ctxKey("target")))

		cancelOp()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context not cancelled")
		}
		assert.ErrorIs(t, context.Cause(combined), context.Canceled)
	})

	t.Run("tab cancel propagates", func(t *testing.T) {
		tabCtx, cancelTab := context.WithCancel(context.Background())
		combined, cancel := CombineContext(tabCtx, context.Background())
		defer cancel()
		cancelTab()
		<-combined.Done()
	})

	t.Run("operation deadline applies", func(t *testing.T) {
		opCtx, cancelOp := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancelOp()
		combined, cancel := CombineContext(context.Background(), opCtx)
		defer cancel()
		_, ok := combined.Deadline()
		assert.True(t, ok)
		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.DeadlineExceeded)
	})
}

func TestDetach(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.WithValue(context.Background(), ctxKey("target"), "tab-2"))
	cancelParent()

	ctx, cancel := Detach(parent, time.Minute)
	defer cancel()
	assert.NoError(t, ctx.Err())
	assert.Equal(t, "tab-2", ctx.Value(ctxKey("target")))
	_, ok := ctx.Deadline()
	assert.True(t, ok)
}
