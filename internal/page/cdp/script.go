package cdp

// helperJS is installed into every document on first use. Elements are
// addressed by a data attribute so refs survive between evaluations.
const helperJS = `(function () {
  if (window.__sea) return window.__sea;
  let seq = 0;
  const prevented = {};
  const refOf = (el) => {
    if (!el.hasAttribute('data-sea-ref')) el.setAttribute('data-sea-ref', 'n' + (++seq));
    return el.getAttribute('data-sea-ref');
  };
  const byRef = (ref) => {
    const el = document.querySelector('[data-sea-ref="' + ref + '"]');
    if (!el) throw new Error('node ' + ref + ' is no longer attached');
    return el;
  };
  const visible = (el) => {
    if (!el.isConnected) return false;
    for (let n = el; n && n.nodeType === 1; n = n.parentElement) {
      const st = getComputedStyle(n);
      if (st.display === 'none' || st.visibility === 'hidden' || n.hidden) return false;
    }
    if (el.tagName === 'OPTION') return true;
    return el.getClientRects().length > 0;
  };
  const enabled = (el) => {
    for (let n = el; n && n.nodeType === 1; n = n.parentElement) {
      if (n.disabled) return false;
    }
    return true;
  };
  const snapshot = (el) => {
    const attrs = {};
    for (const a of el.attributes) if (a.name !== 'data-sea-ref') attrs[a.name] = a.value;
    const snap = {
      ref: refOf(el),
      tag: el.tagName.toLowerCase(),
      attrs: attrs,
      text: el.textContent || '',
      value: 'value' in el && el.tagName !== 'BUTTON' && el.tagName !== 'LI' ? String(el.value) : '',
      checked: !!el.checked,
      visible: visible(el),
      enabled: enabled(el),
      readOnly: !!el.readOnly,
      multiple: !!el.multiple,
    };
    if (el.tagName === 'SELECT') {
      snap.options = Array.from(el.options).map((o) => ({
        value: o.value, text: o.text, selected: o.selected, disabled: o.disabled,
      }));
    }
    return snap;
  };
  const query = (q) => {
    const roots = q.scope ? Array.from(document.querySelectorAll(q.scope)) : [document];
    let found = [];
    for (const r of roots) {
      if (q.selector) {
        found.push(...r.querySelectorAll(q.selector));
      } else {
        if (r !== document) found.push(r);
        found.push(...r.querySelectorAll('*'));
      }
    }
    found = found.filter((el, i) => found.indexOf(el) === i && el.tagName !== 'SCRIPT' && el.tagName !== 'STYLE');
    if (q.text) {
      found = found.filter((el) => (el.textContent || '').includes(q.text));
      const first = found.find((el) => !found.some((o) => o !== el && el.contains(o)));
      found = first ? [first] : [];
    }
    return found.map(snapshot);
  };
  const setValue = (el, v) => {
    const proto = Object.getPrototypeOf(el);
    const desc = Object.getOwnPropertyDescriptor(proto, 'value');
    if (desc && desc.set) desc.set.call(el, v); else el.value = v;
    el.dispatchEvent(new Event('input', { bubbles: true }));
  };
  const key = (type, k) => new KeyboardEvent(type, { key: k, bubbles: true, cancelable: true });
  const mouse = (type) => new MouseEvent(type, { bubbles: true, cancelable: true, view: window });
  const dispatch = (ref, ev) => {
    const el = byRef(ref);
    switch (ev.type) {
      case 'focus': el.focus(); return;
      case 'blur': el.blur(); return;
      case 'mousedown': case 'mouseup': el.dispatchEvent(mouse(ev.type)); return;
      case 'click': el.click(); return;
      case 'keydown': {
        prevented[ref] = !el.dispatchEvent(key('keydown', ev.key));
        if (prevented[ref]) return;
        if (ev.key === 'SelectAll') {
          if (el.select) el.select();
        } else if (ev.key === 'Backspace') {
          const s = el.selectionStart, e = el.selectionEnd, v = String(el.value);
          if (s !== null && e !== null && s !== e) setValue(el, v.slice(0, s) + v.slice(e));
          else setValue(el, v.slice(0, -1));
        } else if (ev.key === 'Enter') {
          if (el.form && el.tagName === 'INPUT') el.form.requestSubmit();
        }
        return;
      }
      case 'keypress': {
        if (prevented[ref]) return;
        if (!el.dispatchEvent(key('keypress', ev.key))) return;
        const max = el.maxLength;
        const v = String(el.value);
        const s = el.selectionStart, e = el.selectionEnd;
        let next = (s !== null && e !== null && s !== e) ? v.slice(0, s) + v.slice(e) : v;
        if (max > 0 && next.length >= max) return;
        setValue(el, next + ev.key);
        return;
      }
      case 'keyup': el.dispatchEvent(key('keyup', ev.key)); return;
      case 'input': el.dispatchEvent(new Event('input', { bubbles: true })); return;
      case 'change': {
        if (el.tagName === 'SELECT' && ev.values) {
          for (const o of el.options) o.selected = ev.values.includes(o.value);
          el.dispatchEvent(new Event('input', { bubbles: true }));
        }
        el.dispatchEvent(new Event('change', { bubbles: true }));
        return;
      }
      case 'submit': (el.form || el).requestSubmit(); return;
    }
    throw new Error('unsupported event ' + ev.type);
  };
  window.__sea = { query: query, dispatch: dispatch };
  return window.__sea;
})()`
