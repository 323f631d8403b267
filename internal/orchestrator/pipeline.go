package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/bridge"
	"github.com/xkilldash9x/flow-automator/internal/download"
)

const (
	noTargetLog    = "No Flow tab found. Open labs.google/fx/tools/flow first."
	noTargetDetail = "No Flow tab found"
)

// run processes the queue until it is exhausted, the run is cancelled or
// no Flow tab can be found.
func (c *Controller) run(ctx context.Context, done chan struct{}) {
	// Store writes outlive cancellation so the final state always lands.
	pctx := context.WithoutCancel(ctx)
	final := schemas.PipelineIdle
	index := 0

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Pipeline panicked.", zap.Any("panic", r), zap.Stack("stack"))
			c.record(pctx, schemas.LogError, fmt.Sprintf("Pipeline error: %v", r))
			final = schemas.PipelineIdle
		}
		if _, err := c.store.UpdatePipelineState(pctx, func(st *schemas.PipelineState) {
			st.Status = final
			st.CurrentIndex = index
		}); err != nil {
			c.logger.Warn("Could not persist pipeline state.", zap.Error(err))
		}
		if final == schemas.PipelineIdle {
			c.broadcast(schemas.PhaseIdle, "")
		}
		c.finish(done, final)
	}()

	var err error
	index, final, err = c.loop(ctx, pctx, done)
	if err != nil {
		c.record(pctx, schemas.LogError, fmt.Sprintf("Pipeline error: %s", err))
	}
}

func (c *Controller) loop(ctx, pctx context.Context, done chan struct{}) (int, schemas.PipelineStatus, error) {
	settings, err := c.store.Settings(pctx)
	if err != nil {
		return 0, schemas.PipelineIdle, err
	}
	queue, err := c.store.Queue(pctx)
	if err != nil {
		return 0, schemas.PipelineIdle, err
	}
	state, err := c.store.PipelineState(pctx)
	if err != nil {
		return 0, schemas.PipelineIdle, err
	}
	index := state.CurrentIndex
	if index < 0 {
		index = 0
	}

	if err := c.persist(pctx, schemas.PipelineRunning, index); err != nil {
		return index, schemas.PipelineIdle, err
	}
	c.broadcast(schemas.PhaseRunning, "")

	for index < len(queue) {
		if ctx.Err() != nil {
			break
		}
		if err := c.checkpoint(ctx, pctx, index); err != nil {
			break
		}

		item := queue[index]
		if item.Status.Terminal() {
			c.metrics.IncItem("skipped")
			index++
			if err := c.persistIndex(pctx, index); err != nil {
				return index, schemas.PipelineIdle, err
			}
			continue
		}

		caller, err := c.targets.Target(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Warn("Could not locate Flow tab.", zap.Error(err))
			c.record(pctx, schemas.LogError, noTargetLog)
			c.broadcast(schemas.PhaseError, noTargetDetail)
			return index, schemas.PipelineError, nil
		}
		if ctx.Err() != nil {
			break
		}
		c.setTab(done, caller)

		if err := c.store.SetPromptStatus(pctx, index, schemas.PromptGenerating); err != nil {
			return index, schemas.PipelineIdle, err
		}
		c.broadcast(schemas.PhaseGenerating, item.Text)
		c.record(pctx, schemas.LogInfo, fmt.Sprintf("Starting prompt %d: \"%s...\"", index+1, truncate(item.Text, 50)))

		ok, retries := c.process(ctx, pctx, caller, index, item, settings)
		if ctx.Err() != nil {
			// Interrupted mid-item: the item stays generating and is
			// processed as pending by the next run.
			break
		}
		if ok {
			c.metrics.IncItem("done")
		} else {
			c.metrics.IncItem("failed")
			if err := c.store.SetPromptStatus(pctx, index, schemas.PromptFailed); err != nil {
				return index, schemas.PipelineIdle, err
			}
			c.record(pctx, schemas.LogError, fmt.Sprintf("Prompt %d failed after %d retries", index+1, retries))
		}

		index++
		if err := c.persistIndex(pctx, index); err != nil {
			return index, schemas.PipelineIdle, err
		}

		if index < len(queue) && ctx.Err() == nil {
			c.broadcast(schemas.PhaseWaitingDelay, "")
			_ = sleep(ctx, time.Duration(settings.DelayBetween)*time.Second)
		}

		if queue, err = c.store.Queue(pctx); err != nil {
			return index, schemas.PipelineIdle, err
		}
	}
	return index, schemas.PipelineIdle, nil
}

// process runs attempts for one item until it completes or its retry
// budget is spent. It returns whether the item completed and how many
// attempts failed.
func (c *Controller) process(ctx, pctx context.Context, caller bridge.Caller, index int, item schemas.PromptItem, settings schemas.Settings) (bool, int) {
	retries := 0
	for retries <= settings.MaxRetries {
		if ctx.Err() != nil || c.checkpoint(ctx, pctx, index) != nil {
			return false, retries
		}
		c.metrics.IncAttempt()

		if err := c.applySpecs(ctx, pctx, caller); err != nil {
			return false, retries
		}

		var fill schemas.ActionResult
		c.callAction(ctx, caller, schemas.ActionFillPrompt, schemas.FillPromptPayload{Text: item.Text}, &fill)
		if ctx.Err() != nil {
			return false, retries
		}
		if !fill.Success {
			c.record(pctx, schemas.LogError, fmt.Sprintf("Fill failed: %s", fill.Error))
			c.metrics.IncRetry("fill")
			retries++
			_ = sleep(ctx, c.cfg.StepFailureDelay)
			continue
		}
		_ = sleep(ctx, c.cfg.FillSettle)

		var gen schemas.ActionResult
		c.callAction(ctx, caller, schemas.ActionClickGenerate, nil, &gen)
		if ctx.Err() != nil {
			return false, retries
		}
		if !gen.Success {
			c.record(pctx, schemas.LogError, fmt.Sprintf("Generate click failed: %s", gen.Error))
			c.metrics.IncRetry("generate")
			retries++
			_ = sleep(ctx, c.cfg.StepFailureDelay)
			continue
		}

		c.broadcast(schemas.PhaseWaiting, item.Text)
		result, raw := c.waitForCompletion(ctx, caller, settings)
		if ctx.Err() != nil {
			return false, retries
		}

		switch result.Status {
		case schemas.PageComplete:
			c.record(pctx, schemas.LogSuccess, fmt.Sprintf("Prompt %d completed", index+1))
			if settings.AutoDownload {
				c.broadcast(schemas.PhaseDownloading, item.Text)
				c.download(ctx, pctx, caller, item.Text, result.VideoURL)
			}
			if err := c.store.SetPromptStatus(pctx, index, schemas.PromptDone); err != nil {
				c.logger.Warn("Could not mark prompt done.", zap.Int("index", index), zap.Error(err))
			}
			return true, retries
		case schemas.PageError:
			c.record(pctx, schemas.LogError, fmt.Sprintf("Generation error: %s", result.Message))
			c.metrics.IncRetry("error")
		case schemas.PageTimeout:
			c.record(pctx, schemas.LogError, fmt.Sprintf("Timeout waiting for prompt %d", index+1))
			c.metrics.IncRetry("timeout")
		default:
			c.record(pctx, schemas.LogError, fmt.Sprintf("Unexpected status: %s", raw))
			c.metrics.IncRetry("unexpected")
		}
		retries++

		if retries <= settings.MaxRetries {
			c.record(pctx, schemas.LogInfo, fmt.Sprintf("Retrying (%d/%d)...", retries, settings.MaxRetries))
			_ = sleep(ctx, c.cfg.RetryDelay)
		}
	}
	return false, retries
}

// applySpecs sets the stored video options when any are configured.
// Per-option failures are logged and never retried.
func (c *Controller) applySpecs(ctx, pctx context.Context, caller bridge.Caller) error {
	specs, err := c.store.VideoSpecs(pctx)
	if err != nil {
		c.logger.Warn("Could not read video specs.", zap.Error(err))
		return nil
	}
	if specs.Empty() {
		return nil
	}
	var results schemas.SpecResult
	if err := c.call(ctx, caller, schemas.ActionApplyVideoSpecs, schemas.ApplySpecsPayload{Specs: specs}, &results); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("Applying video specs failed.", zap.Error(err))
	}
	for _, f := range specs.Fields() {
		res, ok := results[f.Field]
		if !ok || res.Success || res.Skipped {
			continue
		}
		msg := res.Error
		if msg == "" {
			msg = "failed"
		}
		c.record(pctx, schemas.LogInfo, fmt.Sprintf("Video spec %q: %s", f.Field, msg))
	}
	return sleep(ctx, c.cfg.SpecsSettle)
}

// waitForCompletion returns the page's verdict and its encoding for the
// log. A failed call yields an empty status.
func (c *Controller) waitForCompletion(ctx context.Context, caller bridge.Caller, settings schemas.Settings) (schemas.StatusResult, string) {
	timeout := time.Duration(settings.CompletionTimeout) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(schemas.DefaultSettings().CompletionTimeout) * time.Second
	}
	// The page enforces the timeout; the call deadline only guards a
	// vanished tab.
	callCtx, cancel := context.WithTimeout(ctx, timeout+c.cfg.CallTimeout)
	defer cancel()

	started := time.Now()
	var result schemas.StatusResult
	if err := caller.Call(callCtx, schemas.ActionWaitForCompletion, schemas.WaitPayload{Timeout: timeout.Milliseconds()}, &result); err != nil {
		failure := schemas.ActionResult{Error: messageFailed(err)}
		raw, _ := json.Marshal(failure)
		return schemas.StatusResult{}, string(raw)
	}
	c.metrics.ObserveWait(string(result.Status), time.Since(started))
	raw, _ := json.Marshal(result)
	return result, string(raw)
}

// download saves the finished video. Failures are logged, never retried.
func (c *Controller) download(ctx, pctx context.Context, caller bridge.Caller, text, videoURL string) {
	var dl schemas.ActionResult
	c.callAction(ctx, caller, schemas.ActionClickDownload, nil, &dl)
	if ctx.Err() != nil {
		return
	}

	url := videoURL
	if url == "" {
		url = dl.VideoURL
	}
	if url == "" {
		if !dl.Success {
			c.record(pctx, schemas.LogError, "Download button not found and no video URL available")
		}
		return
	}

	folder, err := c.store.DownloadFolder(pctx)
	if err != nil {
		c.logger.Warn("Could not read download folder.", zap.Error(err))
	}
	name := download.Filename(folder, text, c.now())
	if _, err := c.downloader.Download(ctx, url, name); err != nil {
		c.record(pctx, schemas.LogError, fmt.Sprintf("Download failed: %s", err))
		return
	}
	c.record(pctx, schemas.LogSuccess, fmt.Sprintf("Downloaded: %s", name))
}

// checkpoint blocks while a pause is pending. The paused state is persisted
// and broadcast on entry and the running state on release.
func (c *Controller) checkpoint(ctx, pctx context.Context, index int) error {
	gate := c.gate()
	if gate == nil {
		return ctx.Err()
	}
	if err := c.persist(pctx, schemas.PipelinePaused, index); err != nil {
		c.logger.Warn("Could not persist pipeline state.", zap.Error(err))
	}
	c.broadcast(schemas.PhasePaused, "")
	select {
	case <-gate:
	case <-ctx.Done():
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := c.persist(pctx, schemas.PipelineRunning, index); err != nil {
		c.logger.Warn("Could not persist pipeline state.", zap.Error(err))
	}
	c.broadcast(schemas.PhaseRunning, "")
	return nil
}

func (c *Controller) persist(ctx context.Context, status schemas.PipelineStatus, index int) error {
	_, err := c.store.UpdatePipelineState(ctx, func(st *schemas.PipelineState) {
		st.Status = status
		st.CurrentIndex = index
	})
	return err
}

func (c *Controller) persistIndex(ctx context.Context, index int) error {
	_, err := c.store.UpdatePipelineState(ctx, func(st *schemas.PipelineState) {
		st.CurrentIndex = index
	})
	return err
}

// call sends one request under the per-call timeout.
func (c *Controller) call(ctx context.Context, caller bridge.Caller, action schemas.Action, payload, out interface{}) error {
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}
	return caller.Call(ctx, action, payload, out)
}

// callAction is call for {success, error} results; transport failures
// become an unsuccessful result.
func (c *Controller) callAction(ctx context.Context, caller bridge.Caller, action schemas.Action, payload interface{}, out *schemas.ActionResult) {
	if err := c.call(ctx, caller, action, payload, out); err != nil {
		*out = schemas.ActionResult{Error: messageFailed(err)}
	}
}

func messageFailed(err error) string {
	return "Message failed: " + err.Error()
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// truncate returns the first n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
