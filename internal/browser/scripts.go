package browser

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// refAttr marks nodes returned by Query so later actions can address them.
const refAttr = "data-tablecast-ref"

// jsQuery snapshots every node matching a selector. Invalid selectors yield
// an empty list rather than an exception.
const jsQuery = `(function(selector) {
	let nodes;
	try {
		nodes = document.querySelectorAll(selector);
	} catch (e) {
		return [];
	}
	let next = window.__tablecastRef || 0;
	const out = [];
	for (const el of nodes) {
		let ref = el.getAttribute('` + refAttr + `');
		if (!ref) {
			ref = String(++next);
			el.setAttribute('` + refAttr + `', ref);
		}
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		const visible = rect.width > 0 && rect.height > 0 &&
			style.visibility !== 'hidden' && style.display !== 'none' &&
			parseFloat(style.opacity || '1') > 0;
		const field = el.tagName === 'TEXTAREA' || el.tagName === 'INPUT';
		const text = field ? (el.value || '') : (el.innerText || el.textContent || '');
		out.push({
			ref: '[` + refAttr + `="' + ref + '"]',
			tag: el.tagName.toLowerCase(),
			type: (el.getAttribute('type') || '').toLowerCase(),
			text: text.trim().slice(0, 256),
			title: el.getAttribute('title') || '',
			src: el.getAttribute('src') || '',
			visible: visible,
			enabled: !el.disabled && el.getAttribute('aria-disabled') !== 'true',
			editable: field || el.isContentEditable,
			width: rect.width,
			height: rect.height,
		});
	}
	window.__tablecastRef = next;
	return out;
})(%s)`

// jsClearField empties a text field through the native value setter so
// framework-controlled inputs see the change, then leaves it focused and
// selected for the insert that follows.
const jsClearField = `(function(selector) {
	const el = document.querySelector(selector);
	if (!el || el.disabled || el.readOnly) return false;
	if (!el.isContentEditable && el.tagName !== 'TEXTAREA' && el.tagName !== 'INPUT') return false;
	el.focus();
	if (el.isContentEditable) {
		document.execCommand('selectAll', false, null);
		document.execCommand('delete', false, null);
		return true;
	}
	const proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) {
		desc.set.call(el, '');
	} else {
		el.value = '';
	}
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	if (typeof el.select === 'function') el.select();
	return true;
})(%s)`

// jsReadField returns a field's current content, or null if it is gone.
const jsReadField = `(function(selector) {
	const el = document.querySelector(selector);
	if (!el) return null;
	if (el.isContentEditable) return el.innerText;
	if ('value' in el) return el.value;
	return el.textContent;
})(%s)`

// jsSelectOption picks an <option> by its visible label.
const jsSelectOption = `(function(selector, label) {
	const el = document.querySelector(selector);
	if (!el || el.tagName !== 'SELECT') return false;
	const opt = Array.from(el.options).find(o => o.text.trim() === label);
	if (!opt) return false;
	const desc = Object.getOwnPropertyDescriptor(HTMLSelectElement.prototype, 'value');
	if (desc && desc.set) {
		desc.set.call(el, opt.value);
	} else {
		el.value = opt.value;
	}
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})(%s, %s)`

// script renders a function template with JSON-encoded arguments.
func script(tmpl string, args ...interface{}) string {
	encoded := make([]interface{}, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			b = []byte(`null`)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf(tmpl, encoded...)
}
