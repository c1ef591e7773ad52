package usecase

// All JavaScript injected into the chat page lives in this file. The page
// exposes no automation API, so every signal the engine consumes is scraped
// from the DOM here; when the page's structure changes, this file is the only
// place that needs to follow it.

// statusProbeJS produces one ResponseSnapshot worth of page state: the
// current response text, the stop/generating and retry/regenerate controls,
// the number of user turns, and whether the compose area is empty.
const statusProbeJS = `(() => {
  const bodyText = (document.body && document.body.innerText) ? document.body.innerText : '';
  const main = document.querySelector('main') || document.querySelector('[role="main"]') || document.body;

  let stopVisible = false;
  for (const btn of document.querySelectorAll('button')) {
    if (btn.disabled || btn.offsetParent === null) continue;
    const aria = (btn.getAttribute('aria-label') || '').toLowerCase();
    const title = (btn.getAttribute('title') || '').toLowerCase();
    const testid = (btn.getAttribute('data-testid') || '').toLowerCase();
    const txt = (btn.innerText || '').toLowerCase();
    const isStop =
      aria.includes('stop') || aria.includes('cancel') ||
      title.includes('stop') || title.includes('cancel') ||
      testid.includes('stop') ||
      aria.includes('detener') || aria.includes('cancelar') ||
      txt === 'stop' || txt === 'detener' || txt === 'cancelar';
    if (isStop) { stopVisible = true; break; }
  }

  let retryVisible = false;
  for (const btn of document.querySelectorAll('button')) {
    if (btn.disabled || btn.offsetParent === null) continue;
    const t = ((btn.innerText || '') + ' ' + (btn.getAttribute('aria-label') || '')).toLowerCase();
    if (t.includes('try again') || t.includes('retry') || t.includes('regenerate') ||
        t.includes('reintentar') || t.includes('intentar de nuevo') || t.includes('regenerar')) {
      retryVisible = true;
      break;
    }
  }

  const userTurns = document.querySelectorAll(
    '[data-testid*="query"], [class*="UserMessage"], [class*="user-message"]'
  ).length;

  const compose = document.querySelector('[contenteditable="true"]') ||
                  document.querySelector('textarea') ||
                  document.querySelector('input[type="text"]');
  let composeEmpty = true;
  if (compose) {
    const v = compose.getAttribute && compose.getAttribute('contenteditable') === 'true'
      ? (compose.innerText || '')
      : (compose.value || '');
    composeEmpty = v.trim().length === 0;
  }

  // Response extraction: prefer prose/markdown answer blocks, fall back to
  // the main region's text.
  let response = '';
  const selectors = [
    '[class*="prose"]', '[class*="Prose"]',
    '[class*="markdown"]', '[class*="Markdown"]',
    '[data-testid*="answer"]', '[class*="answer"]'
  ];
  const candidates = [];
  for (const sel of selectors) {
    try { candidates.push(...main.querySelectorAll(sel)); } catch {}
  }
  const texts = [...new Set(candidates)]
    .filter(el => {
      if (el.closest('nav, aside, header, footer, form, [contenteditable]')) return false;
      const t = (el.innerText || '').trim();
      return t.length > 10;
    })
    .map(el => el.innerText.trim());
  if (texts.length > 0) {
    response = texts.slice(-12).join('\n\n');
  } else if (main && main.innerText) {
    response = main.innerText.trim();
  }
  if (response) {
    response = response
      .replace(/Ask a follow-up/gi, '')
      .replace(/Ask anything\.*/gi, '')
      .replace(/Type a message\.*/gi, '')
      .replace(/\n{3,}/g, '\n\n')
      .trim();
  }

  return {
    text: response.slice(0, 16000),
    stopVisible,
    retryVisible,
    userTurns,
    composeEmpty
  };
})()`

// clearComposeJS empties the compose area and reports whether it is empty
// afterwards. Used by the new-chat path so the next prompt cannot append to a
// stale draft.
const clearComposeJS = `(() => {
  const el = document.querySelector('[contenteditable="true"]');
  if (el) {
    el.focus();
    document.execCommand('selectAll', false, null);
    document.execCommand('insertText', false, '');
    return { empty: (el.innerText || '').trim().length === 0 };
  }
  const ta = document.querySelector('textarea') || document.querySelector('input[type="text"]');
  if (ta) {
    ta.focus();
    ta.value = '';
    ta.dispatchEvent(new Event('input', { bubbles: true }));
    return { empty: true };
  }
  return { empty: false };
})()`

// writePromptJSTemplate writes the prompt into the compose area. The %s
// placeholder receives the JSON-encoded prompt string. execCommand keeps
// React/Vue-style editors in sync for contenteditable inputs; plain inputs
// get a value assignment plus an input event.
const writePromptJSTemplate = `(() => {
  const prompt = %s;
  const selectors = [
    '[contenteditable="true"]',
    'textarea[placeholder*="Ask"]',
    'textarea[placeholder*="Search"]',
    'textarea',
    'input[type="text"]'
  ];
  let target = null;
  for (const s of selectors) {
    const el = document.querySelector(s);
    if (!el) continue;
    const r = el.getBoundingClientRect();
    if (r.width <= 0 || r.height <= 0) continue;
    target = el;
    break;
  }
  if (!target) return { ok: false, reason: 'no input element' };

  target.focus();
  if (target.getAttribute && target.getAttribute('contenteditable') === 'true') {
    try {
      document.execCommand('selectAll', false, null);
      document.execCommand('insertText', false, prompt);
    } catch {
      target.innerText = prompt;
      target.dispatchEvent(new InputEvent('input', { bubbles: true, inputType: 'insertText', data: prompt }));
    }
  } else {
    target.value = prompt;
    target.dispatchEvent(new Event('input', { bubbles: true }));
  }

  const hasText = (() => {
    const ce = document.querySelector('[contenteditable="true"]');
    if (ce && ce.innerText && ce.innerText.trim().length > 0) return true;
    const ta = document.querySelector('textarea');
    if (ta && ta.value && ta.value.trim().length > 0) return true;
    const it = document.querySelector('input[type="text"]');
    if (it && it.value && it.value.trim().length > 0) return true;
    return false;
  })();
  return { ok: hasText };
})()`

// pressEnterJS dispatches Enter on the compose area, the page's primary
// send path.
const pressEnterJS = `(() => {
  const el = document.querySelector('[contenteditable="true"]') ||
             document.querySelector('textarea') ||
             document.querySelector('input[type="text"]');
  if (!el) return { ok: false };
  el.focus();
  const down = new KeyboardEvent('keydown', { key: 'Enter', code: 'Enter', keyCode: 13, which: 13, bubbles: true, cancelable: true });
  el.dispatchEvent(down);
  const up = new KeyboardEvent('keyup', { key: 'Enter', code: 'Enter', keyCode: 13, which: 13, bubbles: true });
  el.dispatchEvent(up);
  return { ok: true };
})()`

// clickSendJS clicks the send affordance: labeled buttons first, then the
// rightmost visible button near the compose area as a positional fallback,
// then a form submit as last resort.
const clickSendJS = `(() => {
  const labeled = [
    'button[aria-label*="Submit"]',
    'button[aria-label*="Send"]',
    'button[aria-label*="Ask"]',
    'button[type="submit"]',
  ];
  for (const sel of labeled) {
    const btn = document.querySelector(sel);
    if (btn && !btn.disabled && btn.offsetParent !== null) {
      btn.click();
      return { ok: true };
    }
  }
  const inputEl = document.querySelector('[contenteditable="true"]') ||
                  document.querySelector('textarea') ||
                  document.querySelector('input[type="text"]');
  if (inputEl) {
    let parent = inputEl.parentElement;
    const candidates = [];
    for (let i = 0; i < 6 && parent; i++) {
      for (const btn of parent.querySelectorAll('button')) {
        if (btn.disabled || btn.offsetParent === null) continue;
        const rect = btn.getBoundingClientRect();
        if (rect.width <= 0 || rect.height <= 0) continue;
        const aria = (btn.getAttribute('aria-label') || '').toLowerCase();
        const txt = (btn.innerText || '').toLowerCase();
        if (aria.includes('attach') || aria.includes('voice') || aria.includes('menu') || aria.includes('more')) continue;
        if (txt.includes('attach') || txt.includes('voice')) continue;
        candidates.push({ btn, x: rect.right });
      }
      parent = parent.parentElement;
    }
    if (candidates.length) {
      candidates.sort((a, b) => b.x - a.x);
      candidates[0].btn.click();
      return { ok: true };
    }
  }
  const form = document.querySelector('form');
  if (form) {
    form.dispatchEvent(new Event('submit', { bubbles: true, cancelable: true }));
    return { ok: true };
  }
  return { ok: false };
})()`

// clickRetryJS clicks the retry/regenerate control if one is visible.
const clickRetryJS = `(() => {
  for (const btn of document.querySelectorAll('button')) {
    if (btn.disabled || btn.offsetParent === null) continue;
    const t = ((btn.innerText || '') + ' ' + (btn.getAttribute('aria-label') || '')).toLowerCase();
    if (t.includes('try again') || t.includes('retry') || t.includes('regenerate') ||
        t.includes('reintentar') || t.includes('intentar de nuevo') || t.includes('regenerar')) {
      btn.click();
      return { ok: true };
    }
  }
  return { ok: false };
})()`
