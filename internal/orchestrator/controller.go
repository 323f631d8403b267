// Package orchestrator runs the prompt queue against the Flow tab.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/bridge"
	"github.com/xkilldash9x/flow-automator/internal/bus"
	"github.com/xkilldash9x/flow-automator/internal/config"
	"github.com/xkilldash9x/flow-automator/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultCallTimeout bounds page messages handled outside a run.
const defaultCallTimeout = 30 * time.Second

// TargetLocator finds the tab to automate.
type TargetLocator interface {
	// Target returns a channel to the executor of the first open Flow tab.
	Target(ctx context.Context) (bridge.Caller, error)
}

// Downloader writes a video URL to a path relative to the download dir.
type Downloader interface {
	Download(ctx context.Context, url, name string) (string, error)
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Store      *store.Store
	Targets    TargetLocator
	Events     bus.Publisher
	Downloader Downloader
	// Metrics defaults to the process-wide collectors.
	Metrics *Metrics
}

// RunStatus is a point-in-time view of the controller.
type RunStatus struct {
	Running bool                   `json:"running"`
	Paused  bool                   `json:"paused"`
	State   schemas.PipelineStatus `json:"state"`
}

// Controller owns the pipeline state machine. State changes only through
// Start, Pause, Resume, Stop and Restart.
type Controller struct {
	cfg        config.PipelineConfig
	store      *store.Store
	targets    TargetLocator
	events     bus.Publisher
	downloader Downloader
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time

	base       context.Context
	baseCancel context.CancelFunc

	mu     sync.Mutex
	state  schemas.PipelineStatus
	cancel context.CancelFunc
	done   chan struct{}
	// resume is non-nil while paused and closed on resume.
	resume chan struct{}
	// tab is the executor the current run last addressed.
	tab bridge.Caller
}

// New creates an idle controller.
func New(cfg config.PipelineConfig, deps Deps, logger *zap.Logger) (*Controller, error) {
	if deps.Store == nil || deps.Targets == nil || deps.Events == nil || deps.Downloader == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = defaultMetrics()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:        cfg,
		store:      deps.Store,
		targets:    deps.Targets,
		events:     deps.Events,
		downloader: deps.Downloader,
		metrics:    deps.Metrics,
		logger:     logger.Named("orchestrator"),
		now:        time.Now,
		base:       base,
		baseCancel: cancel,
		state:      schemas.PipelineIdle,
	}, nil
}

// Start begins a run from the persisted currentIndex. Starting while paused
// resumes; starting while running does nothing.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.base.Err() != nil {
		return errors.New("orchestrator is closed")
	}
	switch c.state {
	case schemas.PipelineRunning:
		return nil
	case schemas.PipelinePaused:
		c.resumeLocked()
		return nil
	}

	ctx, cancel := context.WithCancel(c.base)
	done := make(chan struct{})
	c.state = schemas.PipelineRunning
	c.cancel = cancel
	c.done = done
	c.resume = nil
	c.tab = nil
	c.metrics.SetRunActive(true)
	go c.run(ctx, done)
	c.logger.Info("Pipeline started.")
	return nil
}

// Pause asks the run to stop at its next checkpoint. It is a no-op unless
// running.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != schemas.PipelineRunning {
		return
	}
	c.state = schemas.PipelinePaused
	c.resume = make(chan struct{})
	c.logger.Info("Pipeline pause requested.")
}

// Resume releases a paused run. It is a no-op unless paused.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != schemas.PipelinePaused {
		return
	}
	c.resumeLocked()
}

func (c *Controller) resumeLocked() {
	c.state = schemas.PipelineRunning
	if c.resume != nil {
		close(c.resume)
		c.resume = nil
	}
	c.logger.Info("Pipeline resumed.")
}

// Stop cancels the run and waits for it to persist its final state. It is
// valid in any state and always ends Idle, even when ctx expires before the
// run has unwound. Page requests already dispatched finish on their own; a
// pending completion wait is ended explicitly.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	if c.resume != nil {
		close(c.resume)
		c.resume = nil
	}
	c.mu.Unlock()

	if cancel == nil {
		pctx := context.WithoutCancel(ctx)
		if err := c.store.SetPipelineStatus(pctx, schemas.PipelineIdle); err != nil {
			c.logger.Warn("Could not persist pipeline state.", zap.Error(err))
		}
		c.mu.Lock()
		c.state = schemas.PipelineIdle
		c.mu.Unlock()
		c.broadcast(schemas.PhaseIdle, "")
		return nil
	}

	cancel()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("pipeline did not stop: %w", ctx.Err())
	}

	c.mu.Lock()
	c.state = schemas.PipelineIdle
	tab := c.tab
	c.mu.Unlock()
	c.endPageWait(ctx, tab)

	if err != nil {
		return err
	}
	c.logger.Info("Pipeline stopped.")
	return nil
}

// endPageWait asks tab to abandon its completion wait, if it has one.
func (c *Controller) endPageWait(ctx context.Context, tab bridge.Caller) {
	if tab == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout())
	defer cancel()
	var res schemas.ActionResult
	if err := tab.Call(cctx, schemas.ActionCancelWait, nil, &res); err != nil {
		c.logger.Debug("Could not cancel page wait.", zap.Error(err))
	}
}

// Restart stops any run, resets the pipeline state and every unfinished
// item to pending, then starts from the top.
func (c *Controller) Restart(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil {
		return err
	}
	if err := c.store.ResetPipelineState(ctx); err != nil {
		return err
	}
	if _, err := c.store.ResetQueue(ctx); err != nil {
		return err
	}
	return c.Start()
}

// Status reports whether a run is active and whether it is paused.
func (c *Controller) Status() RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return RunStatus{
		Running: c.state == schemas.PipelineRunning || c.state == schemas.PipelinePaused,
		Paused:  c.state == schemas.PipelinePaused,
		State:   c.state,
	}
}

// Wait blocks until the current run, if any, has finished.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops any run and rejects further starts.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Stop(ctx)
	c.baseCancel()
	return err
}

// finish records the end of the run that owns done.
func (c *Controller) finish(done chan struct{}, final schemas.PipelineStatus) {
	c.mu.Lock()
	if c.done == done {
		c.state = final
		c.cancel = nil
		c.resume = nil
	}
	c.mu.Unlock()
	c.metrics.SetRunActive(false)
	close(done)
}

// setTab records the executor the run owning done is using.
func (c *Controller) setTab(done chan struct{}, tab bridge.Caller) {
	c.mu.Lock()
	if c.done == done {
		c.tab = tab
	}
	c.mu.Unlock()
}

// gate returns the resume channel when a pause is pending.
func (c *Controller) gate() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != schemas.PipelinePaused {
		return nil
	}
	return c.resume
}

func (c *Controller) broadcast(phase schemas.Phase, detail string) {
	c.events.Publish(schemas.NewStatusEvent(phase, detail))
}

// record appends to the activity log and mirrors the line to the logger.
func (c *Controller) record(ctx context.Context, typ schemas.LogType, msg string) {
	switch typ {
	case schemas.LogError:
		c.logger.Warn(msg)
	default:
		c.logger.Info(msg)
	}
	if err := c.store.AddLog(context.WithoutCancel(ctx), typ, msg); err != nil {
		c.logger.Warn("Could not append to activity log.", zap.Error(err))
	}
}
