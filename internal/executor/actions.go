package executor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/dom"
)

// FillPrompt replaces the prompt input's content with text.
func (e *Executor) FillPrompt(ctx context.Context, text string) schemas.ActionResult {
	_, input, err := e.find(ctx, schemas.RolePromptInput)
	if err != nil {
		return schemas.ActionResult{Error: err.Error()}
	}
	if input == nil {
		return schemas.ActionResult{Error: "Prompt input not found"}
	}
	if err := e.input.TypeText(ctx, dom.SelectorFor(input), text); err != nil {
		return schemas.ActionResult{Error: err.Error()}
	}
	return schemas.ActionResult{Success: true}
}

// ClickGenerate presses the generate button.
func (e *Executor) ClickGenerate(ctx context.Context) schemas.ActionResult {
	_, btn, err := e.find(ctx, schemas.RoleGenerateButton)
	if err != nil {
		return schemas.ActionResult{Error: err.Error()}
	}
	if btn == nil {
		return schemas.ActionResult{Error: "Generate button not found"}
	}
	if err := e.input.Click(ctx, dom.SelectorFor(btn)); err != nil {
		return schemas.ActionResult{Error: err.Error()}
	}
	return schemas.ActionResult{Success: true}
}

// ClickDownload presses the download button. Without one, the source of
// the video element is returned so the caller can fetch it.
func (e *Executor) ClickDownload(ctx context.Context) schemas.ActionResult {
	snap, btn, err := e.find(ctx, schemas.RoleDownloadButton)
	if err != nil {
		return schemas.ActionResult{Error: err.Error()}
	}
	if btn == nil {
		if video, ok := e.finder.Find(snap, schemas.RoleVideoElement); ok {
			if src := dom.VideoSource(video); src != "" {
				return schemas.ActionResult{Success: true, VideoURL: src}
			}
		}
		return schemas.ActionResult{Error: "Download button not found"}
	}
	if err := e.input.Click(ctx, dom.SelectorFor(btn)); err != nil {
		return schemas.ActionResult{Error: err.Error()}
	}
	return schemas.ActionResult{Success: true}
}

// GetStatus reports the page state derived from its indicators.
func (e *Executor) GetStatus(ctx context.Context) schemas.StatusResult {
	res, err := e.Evaluate(ctx)
	if err != nil {
		return schemas.StatusResult{Status: schemas.PageError, Message: err.Error()}
	}
	return res
}

// Evaluate takes a snapshot and derives the page status from it.
func (e *Executor) Evaluate(ctx context.Context) (schemas.StatusResult, error) {
	snap, err := e.page.Snapshot(ctx)
	if err != nil {
		return schemas.StatusResult{}, err
	}
	return e.pageStatus(snap), nil
}

// Observe forwards the page's mutation notifications to the watcher.
func (e *Executor) Observe(ctx context.Context) (<-chan struct{}, func(), error) {
	return e.page.Observe(ctx)
}

// pageStatus applies the precedence error > loading > video > idle.
func (e *Executor) pageStatus(snap *dom.Snapshot) schemas.StatusResult {
	if errEl, ok := e.finder.Find(snap, schemas.RoleErrorIndicator); ok {
		msg := dom.TrimmedText(errEl)
		if msg == "" {
			msg = "Unknown error"
		}
		return schemas.StatusResult{Status: schemas.PageError, Message: msg}
	}
	if _, ok := e.finder.Find(snap, schemas.RoleLoadingIndicator); ok {
		return schemas.StatusResult{Status: schemas.PageGenerating}
	}
	if video, ok := e.finder.Find(snap, schemas.RoleVideoElement); ok {
		if src := dom.VideoSource(video); src != "" {
			return schemas.StatusResult{Status: schemas.PageComplete, VideoURL: src}
		}
	}
	return schemas.StatusResult{Status: schemas.PageIdle}
}

// WaitForCompletion blocks until the page completes, errors or timeoutMs
// elapses. A wait replaced by a newer one reports an error result.
func (e *Executor) WaitForCompletion(ctx context.Context, timeoutMs int64) schemas.StatusResult {
	if timeoutMs <= 0 {
		timeoutMs = defaultWaitTimeout
	}
	res, err := e.watcher.Wait(ctx, time.Duration(timeoutMs)*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			e.logger.Debug("Completion wait abandoned.", zap.Error(err))
		}
		return schemas.StatusResult{Status: schemas.PageError, Message: err.Error()}
	}
	return res
}

// TestElement reports whether role currently resolves on the page.
func (e *Executor) TestElement(ctx context.Context, role schemas.ElementRole) schemas.TestResult {
	_, node, err := e.find(ctx, role)
	if err != nil || node == nil {
		return schemas.TestResult{}
	}
	t := dom.TargetOf(node)
	return schemas.TestResult{Found: true, Tag: t.Tag, Label: t.Label}
}
