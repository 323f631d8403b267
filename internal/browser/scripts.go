package browser

// Binding names exposed to the page through Runtime.addBinding.
const (
	mutationBinding = "__flowAutomatorMutation"
	pickerBinding   = "__flowAutomatorPicker"
)

// observeScript (re)installs the completion observer. Bursts of mutations in
// one task are reported as a single binding call.
const observeScript = `(() => {
  if (window.__flowAutomatorObserver) window.__flowAutomatorObserver.disconnect();
  if (!document.body) return false;
  let queued = false;
  const obs = new MutationObserver(() => {
    if (queued) return;
    queued = true;
    queueMicrotask(() => {
      queued = false;
      if (typeof window.` + mutationBinding + ` === 'function') window.` + mutationBinding + `('1');
    });
  });
  obs.observe(document.body, {
    childList: true,
    subtree: true,
    attributes: true,
    attributeFilter: ['src', 'class', 'style', 'aria-label', 'hidden'],
  });
  window.__flowAutomatorObserver = obs;
  return true;
})()`

const disconnectScript = `(() => {
  if (window.__flowAutomatorObserver) window.__flowAutomatorObserver.disconnect();
  window.__flowAutomatorObserver = null;
  return true;
})()`

// pickerScript is a function expression taking the role being picked. It
// draws a highlight that follows the cursor and reports the clicked
// element's path from body, or a cancellation on Escape.
const pickerScript = `function(role) {
  if (window.__flowAutomatorPickerStop) window.__flowAutomatorPickerStop();

  const overlay = document.createElement('div');
  overlay.id = 'flow-automator-picker-overlay';
  Object.assign(overlay.style, {
    position: 'fixed', top: '0', left: '0', width: '100vw', height: '100vh',
    zIndex: '2147483647', pointerEvents: 'none',
  });
  const label = document.createElement('div');
  label.id = 'flow-automator-picker-label';
  Object.assign(label.style, {
    position: 'fixed', top: '8px', left: '50%', transform: 'translateX(-50%)',
    background: '#1a73e8', color: '#fff', padding: '8px 16px', borderRadius: '8px',
    fontSize: '13px', fontWeight: '600', zIndex: '2147483647', pointerEvents: 'none',
    fontFamily: '-apple-system, BlinkMacSystemFont, sans-serif',
  });
  label.textContent = 'Click an element to pick: ' + role + '  (Esc to cancel)';

  let highlighted = null;
  let prevOutline = '';
  const unhighlight = () => {
    if (highlighted) highlighted.style.outline = prevOutline;
    highlighted = null;
  };
  const report = (msg) => {
    if (typeof window.` + pickerBinding + ` === 'function') window.` + pickerBinding + `(JSON.stringify(msg));
  };
  const pathOf = (el) => {
    const path = [];
    for (let cur = el; cur && cur !== document.body; cur = cur.parentElement) {
      const parent = cur.parentElement;
      if (!parent) break;
      path.unshift({ tag: cur.tagName.toLowerCase(), index: Array.prototype.indexOf.call(parent.children, cur) });
    }
    return path;
  };

  const onMove = (e) => {
    const el = document.elementFromPoint(e.clientX, e.clientY);
    if (!el || el === overlay || el === label || el === highlighted) return;
    unhighlight();
    highlighted = el;
    prevOutline = el.style.outline;
    el.style.outline = '3px solid #1a73e8';
    const aria = el.getAttribute('aria-label') || '';
    const text = (el.textContent || '').trim().slice(0, 40);
    let info = el.tagName.toLowerCase();
    if (aria) info += ' [' + aria + ']'; else if (text) info += ' "' + text + '"';
    label.textContent = 'Pick ' + role + ': ' + info + '  (Esc to cancel)';
  };
  const onClick = (e) => {
    e.preventDefault();
    e.stopImmediatePropagation();
    const el = document.elementFromPoint(e.clientX, e.clientY);
    if (!el || el === overlay || el === label) return;
    const path = pathOf(el);
    stop();
    report({ kind: 'picked', path });
  };
  const onKey = (e) => {
    if (e.key !== 'Escape') return;
    e.preventDefault();
    e.stopImmediatePropagation();
    stop();
    report({ kind: 'cancelled' });
  };
  const stop = () => {
    unhighlight();
    document.removeEventListener('mousemove', onMove, true);
    document.removeEventListener('click', onClick, true);
    document.removeEventListener('keydown', onKey, true);
    overlay.remove();
    label.remove();
    window.__flowAutomatorPickerStop = null;
  };

  document.body.appendChild(overlay);
  document.body.appendChild(label);
  document.addEventListener('mousemove', onMove, true);
  document.addEventListener('click', onClick, true);
  document.addEventListener('keydown', onKey, true);
  window.__flowAutomatorPickerStop = stop;
  return true;
}`

const stopPickerScript = `(() => {
  if (window.__flowAutomatorPickerStop) window.__flowAutomatorPickerStop();
  return true;
})()`

// geometryScript scrolls the element into view and returns its border box.
const geometryScript = `function(sel) {
  const node = document.querySelector(sel);
  if (!node) return null;
  node.scrollIntoView({ block: 'center', inline: 'center', behavior: 'instant' });
  const rect = node.getBoundingClientRect();
  const style = window.getComputedStyle(node);
  if (rect.width <= 0 || rect.height <= 0 || style.display === 'none' || style.visibility === 'hidden') return null;
  return {
    vertices: [rect.left, rect.top, rect.right, rect.top, rect.right, rect.bottom, rect.left, rect.bottom],
    width: Math.round(rect.width),
    height: Math.round(rect.height),
  };
}`
