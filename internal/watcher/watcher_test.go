package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/config"
)

// fakeSource scripts page status by evaluation count.
type fakeSource struct {
	mu         sync.Mutex
	status     func(eval int) schemas.StatusResult
	evals      int
	mutations  chan struct{}
	observeErr error
	observed   int
	revoked    int
}

func newFakeSource(status func(eval int) schemas.StatusResult) *fakeSource {
	return &fakeSource{status: status, mutations: make(chan struct{})}
}

func (f *fakeSource) Evaluate(ctx context.Context) (schemas.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals++
	return f.status(f.evals), ctx.Err()
}

func (f *fakeSource) Observe(ctx context.Context) (<-chan struct{}, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.observeErr != nil {
		return nil, nil, f.observeErr
	}
	f.observed++
	return f.mutations, func() {
		f.mu.Lock()
		f.revoked++
		f.mu.Unlock()
	}, nil
}

func (f *fakeSource) counts() (evals, observed, revoked int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evals, f.observed, f.revoked
}

func generating(int) schemas.StatusResult { return schemas.StatusResult{Status: schemas.PageGenerating} }

func testConfig() config.WatcherConfig {
	return config.WatcherConfig{
		PollInitial:    time.Hour,
		PollMultiplier: 1.2,
		PollMax:        time.Hour,
		MutationRate:   0,
		MutationBurst:  1,
	}
}

func newTestWatcher(t *testing.T, src Source, cfg config.WatcherConfig) *Watcher {
	return New(src, cfg, zaptest.NewLogger(t))
}

// waitObserving blocks until the n-th subscription is observing the page.
func waitObserving(t *testing.T, w *Watcher, src *fakeSource, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, observed, _ := src.counts()
		return w.Active() && observed >= n
	}, time.Second, time.Millisecond)
}

func TestWait_ImmediateComplete(t *testing.T) {
	defer goleak.VerifyNone(t)
	src := newFakeSource(func(int) schemas.StatusResult {
		return schemas.StatusResult{Status: schemas.PageComplete, VideoURL: "https://cdn/v.mp4"}
	})
	w := newTestWatcher(t, src, testConfig())

	res, err := w.Wait(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/v.mp4", res.VideoURL)

	_, observed, _ := src.counts()
	assert.Zero(t, observed, "resolved on the first check without observing")
	assert.False(t, w.Active())
}

func TestWait_MutationResolves(t *testing.T) {
	defer goleak.VerifyNone(t)
	var ready sync.Mutex
	done := false
	src := newFakeSource(func(int) schemas.StatusResult {
		ready.Lock()
		defer ready.Unlock()
		if done {
			return schemas.StatusResult{Status: schemas.PageComplete, VideoURL: "blob:1"}
		}
		return schemas.StatusResult{Status: schemas.PageGenerating}
	})
	w := newTestWatcher(t, src, testConfig())

	type outcome struct {
		res schemas.StatusResult
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		res, err := w.Wait(context.Background(), time.Minute)
		out <- outcome{res, err}
	}()
	waitObserving(t, w, src, 1)

	src.mutations <- struct{}{}
	ready.Lock()
	done = true
	ready.Unlock()
	src.mutations <- struct{}{}

	select {
	case o := <-out:
		require.NoError(t, o.err)
		assert.Equal(t, schemas.PageComplete, o.res.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("mutation did not resolve the wait")
	}
	_, observed, revoked := src.counts()
	assert.Equal(t, 1, observed)
	assert.Equal(t, 1, revoked)
}

func TestWait_PollingResolvesWithoutObserver(t *testing.T) {
	defer goleak.VerifyNone(t)
	src := newFakeSource(func(eval int) schemas.StatusResult {
		if eval >= 3 {
			return schemas.StatusResult{Status: schemas.PageError, Message: "Generation failed"}
		}
		return schemas.StatusResult{Status: schemas.PageIdle}
	})
	src.observeErr = errors.New("binding unavailable")
	cfg := testConfig()
	cfg.PollInitial = 5 * time.Millisecond
	cfg.PollMax = 10 * time.Millisecond
	w := newTestWatcher(t, src, cfg)

	res, err := w.Wait(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, schemas.PageError, res.Status)
	assert.Equal(t, "Generation failed", res.Message)
	evals, _, _ := src.counts()
	assert.Equal(t, 3, evals)
}

func TestWait_TimeoutNeverEarly(t *testing.T) {
	defer goleak.VerifyNone(t)
	src := newFakeSource(generating)
	cfg := testConfig()
	cfg.PollInitial = 10 * time.Millisecond
	w := newTestWatcher(t, src, cfg)

	start := time.Now()
	res, err := w.Wait(context.Background(), 80*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, schemas.PageTimeout, res.Status)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	_, _, revoked := src.counts()
	assert.Equal(t, 1, revoked)
}

func TestWait_SupersededByNewWait(t *testing.T) {
	defer goleak.VerifyNone(t)
	src := newFakeSource(generating)
	w := newTestWatcher(t, src, testConfig())

	first := make(chan error, 1)
	go func() {
		_, err := w.Wait(context.Background(), time.Minute)
		first <- err
	}()
	waitObserving(t, w, src, 1)

	res, err := w.Wait(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, schemas.PageTimeout, res.Status)

	assert.ErrorIs(t, <-first, ErrSuperseded)
	_, observed, revoked := src.counts()
	assert.Equal(t, 2, observed)
	assert.Equal(t, 2, revoked, "each subscription is torn down exactly once")
	assert.False(t, w.Active())
}

func TestStop_Idempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	src := newFakeSource(generating)
	w := newTestWatcher(t, src, testConfig())

	errCh := make(chan error, 1)
	go func() {
		_, err := w.Wait(context.Background(), time.Minute)
		errCh <- err
	}()
	waitObserving(t, w, src, 1)

	w.Stop()
	w.Stop()
	assert.ErrorIs(t, <-errCh, ErrStopped)
	w.Stop()

	_, _, revoked := src.counts()
	assert.Equal(t, 1, revoked)
}

func TestWait_ContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)
	src := newFakeSource(generating)
	w := newTestWatcher(t, src, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := w.Wait(ctx, time.Minute)
		errCh <- err
	}()
	waitObserving(t, w, src, 1)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestWait_CoalescesMutationBursts(t *testing.T) {
	defer goleak.VerifyNone(t)
	src := newFakeSource(generating)
	cfg := testConfig()
	cfg.MutationRate = 0.5
	cfg.MutationBurst = 1
	w := newTestWatcher(t, src, cfg)

	errCh := make(chan error, 1)
	go func() {
		_, err := w.Wait(context.Background(), time.Minute)
		errCh <- err
	}()
	waitObserving(t, w, src, 1)

	for i := 0; i < 5; i++ {
		src.mutations <- struct{}{}
	}
	w.Stop()
	require.ErrorIs(t, <-errCh, ErrStopped)

	evals, _, _ := src.counts()
	assert.Equal(t, 2, evals, "initial check plus one evaluation for the whole burst")
}
