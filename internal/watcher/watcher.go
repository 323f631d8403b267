// internal/watcher/watcher.go
package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/config"
)

var (
	// ErrSuperseded is returned by a wait that was replaced by a newer one.
	ErrSuperseded = errors.New("watcher: superseded by a newer wait")
	// ErrStopped is returned by a wait ended through Stop.
	ErrStopped = errors.New("watcher: stopped")
)

// Source is the page the watcher observes.
type Source interface {
	// Evaluate derives the current page status.
	Evaluate(ctx context.Context) (schemas.StatusResult, error)
	// Observe starts reporting structural changes of the page. Notifications
	// arrive on the returned channel until revoke is called.
	Observe(ctx context.Context) (notifications <-chan struct{}, revoke func(), err error)
}

// Watcher detects the end of a generation. At most one wait is active.
type Watcher struct {
	source Source
	cfg    config.WatcherConfig
	logger *zap.Logger

	mu     sync.Mutex
	active *subscription
}

// subscription is one active observation: a mutation producer and a poll
// timer feeding one evaluation loop.
type subscription struct {
	cancel context.CancelCauseFunc
	done   chan struct{}

	teardownOnce sync.Once
	revoke       func()
	timers       []*time.Timer
}

// New creates a Watcher over source.
func New(source Source, cfg config.WatcherConfig, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		source: source,
		cfg:    cfg,
		logger: logger.Named("watcher"),
	}
}

// Wait blocks until the page reports complete or error, or timeout elapses.
// Idle and generating states keep the watch alive. A wait already in
// progress is ended with ErrSuperseded before this one starts.
func (w *Watcher) Wait(ctx context.Context, timeout time.Duration) (schemas.StatusResult, error) {
	deadline := time.Now().Add(timeout)

	ctx, cancel := context.WithCancelCause(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}

	w.mu.Lock()
	prev := w.active
	w.active = sub
	w.mu.Unlock()

	if prev != nil {
		prev.cancel(ErrSuperseded)
		<-prev.done
	}

	defer func() {
		sub.teardown()
		w.mu.Lock()
		if w.active == sub {
			w.active = nil
		}
		w.mu.Unlock()
		cancel(nil)
		close(sub.done)
	}()

	return w.watch(ctx, sub, deadline)
}

// Stop ends the active wait, if any, with ErrStopped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	sub := w.active
	w.mu.Unlock()
	if sub != nil {
		sub.cancel(ErrStopped)
	}
}

// Active reports whether a wait is in progress.
func (w *Watcher) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active != nil
}

func (w *Watcher) watch(ctx context.Context, sub *subscription, deadline time.Time) (schemas.StatusResult, error) {
	if res, ok := w.check(ctx); ok {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return schemas.StatusResult{}, context.Cause(ctx)
	}

	mutations, revoke, err := w.source.Observe(ctx)
	if err != nil {
		// Polling alone still resolves the wait, only later.
		w.logger.Warn("Could not observe page mutations, polling only.", zap.Error(err))
		mutations = nil
	} else {
		sub.revoke = revoke
	}

	schedule := w.pollSchedule()
	pollTimer := time.NewTimer(schedule.NextBackOff())
	deadlineTimer := time.NewTimer(time.Until(deadline))
	sub.timers = append(sub.timers, pollTimer, deadlineTimer)

	limiter := w.mutationLimiter()
	var coalesceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return schemas.StatusResult{}, context.Cause(ctx)

		case <-deadlineTimer.C:
			w.logger.Debug("Completion wait timed out.")
			return schemas.StatusResult{Status: schemas.PageTimeout}, nil

		case _, ok := <-mutations:
			if !ok {
				mutations = nil
				continue
			}
			if coalesceC != nil {
				// An evaluation is already scheduled and will see this change.
				continue
			}
			delay := limiter.Reserve().Delay()
			if delay > 0 {
				t := time.NewTimer(delay)
				sub.timers = append(sub.timers, t)
				coalesceC = t.C
				continue
			}
			if res, ok := w.check(ctx); ok {
				return res, nil
			}

		case <-coalesceC:
			coalesceC = nil
			if res, ok := w.check(ctx); ok {
				return res, nil
			}

		case <-pollTimer.C:
			if res, ok := w.check(ctx); ok {
				return res, nil
			}
			pollTimer.Reset(schedule.NextBackOff())
		}
	}
}

// check evaluates the page once and reports whether the wait is resolved.
func (w *Watcher) check(ctx context.Context) (schemas.StatusResult, bool) {
	res, err := w.source.Evaluate(ctx)
	if err != nil {
		if ctx.Err() == nil {
			// The page may be mid-navigation; the next tick tries again.
			w.logger.Debug("Status evaluation failed.", zap.Error(err))
		}
		return schemas.StatusResult{}, false
	}
	switch res.Status {
	case schemas.PageComplete, schemas.PageError:
		return res, true
	}
	return schemas.StatusResult{}, false
}

func (w *Watcher) pollSchedule() *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(w.cfg.PollInitial),
		backoff.WithMultiplier(w.cfg.PollMultiplier),
		backoff.WithMaxInterval(w.cfg.PollMax),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
}

func (w *Watcher) mutationLimiter() *rate.Limiter {
	limit := rate.Limit(w.cfg.MutationRate)
	if w.cfg.MutationRate <= 0 {
		limit = rate.Inf
	}
	burst := w.cfg.MutationBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}

// teardown revokes the mutation producer and stops every timer, once.
func (s *subscription) teardown() {
	s.teardownOnce.Do(func() {
		if s.revoke != nil {
			s.revoke()
		}
		for _, t := range s.timers {
			t.Stop()
		}
	})
}
