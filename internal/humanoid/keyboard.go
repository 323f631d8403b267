package humanoid

import (
	"context"
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// focusAndClearScript focuses the element and removes its content through
// editing commands so frameworks see a user edit.
const focusAndClearScript = `function(selector) {
  const el = document.querySelector(selector);
  if (!el) return { ok: false, error: 'element not found' };
  el.scrollIntoView({ block: 'center', behavior: 'instant' });
  el.focus();
  document.execCommand('selectAll', false, null);
  document.execCommand('delete', false, null);
  return { ok: true };
}`

// readContentScript returns the effective content of an input-like element.
const readContentScript = `function(selector) {
  const el = document.querySelector(selector);
  if (!el) return null;
  if (el.tagName === 'TEXTAREA' || el.tagName === 'INPUT') return el.value;
  return el.innerText ?? el.textContent;
}`

// setContentScript writes text through the native value setter (or
// textContent for editable containers) and synthesizes the input events a
// framework listens for.
const setContentScript = `function(selector, text) {
  const el = document.querySelector(selector);
  if (!el) return { ok: false, error: 'element not found' };
  el.focus();
  el.dispatchEvent(new InputEvent('beforeinput', { bubbles: true, cancelable: true, inputType: 'insertText', data: text }));
  if (el.tagName === 'TEXTAREA' || el.tagName === 'INPUT') {
    const proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
    const desc = Object.getOwnPropertyDescriptor(proto, 'value');
    if (desc && desc.set) desc.set.call(el, text); else el.value = text;
  } else {
    el.textContent = text;
  }
  el.dispatchEvent(new InputEvent('input', { bubbles: true, inputType: 'insertText', data: text }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return { ok: true };
}`

type scriptOutcome struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// TypeText focuses the element, clears it and inserts text as one input
// operation. When the page does not reflect the text afterwards the value
// is written directly and input/change events are synthesized.
func (h *Humanoid) TypeText(ctx context.Context, selector string, text string) error {
	if err := h.runOutcome(ctx, focusAndClearScript, selector); err != nil {
		return fmt.Errorf("humanoid: could not focus %q: %w", selector, err)
	}

	if err := h.executor.SendKeys(ctx, text); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.logger.Debug("Text insertion failed, using direct write.", zap.Error(err))
	} else if h.contentMatches(ctx, selector, text) {
		return nil
	}

	if err := h.runOutcome(ctx, setContentScript, selector, text); err != nil {
		return fmt.Errorf("humanoid: could not write text into %q: %w", selector, err)
	}
	if !h.contentMatches(ctx, selector, text) {
		// The page may normalize or intercept input; the write is best effort.
		h.logger.Warn("Element content differs from requested text after write.", zap.String("selector", selector))
	}
	return nil
}

func (h *Humanoid) runOutcome(ctx context.Context, script string, args ...interface{}) error {
	raw, err := h.executor.ExecuteScript(ctx, script, args)
	if err != nil {
		return err
	}
	var out scriptOutcome
	if err := wire.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unexpected script result %s: %w", string(raw), err)
	}
	if !out.OK {
		if out.Error == "" {
			out.Error = "script reported failure"
		}
		return errors.New(out.Error)
	}
	return nil
}

func (h *Humanoid) contentMatches(ctx context.Context, selector, text string) bool {
	raw, err := h.executor.ExecuteScript(ctx, readContentScript, []interface{}{selector})
	if err != nil {
		return false
	}
	var content *string
	if err := wire.Unmarshal(raw, &content); err != nil || content == nil {
		return false
	}
	return normalizeSpace(*content) == normalizeSpace(text)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
