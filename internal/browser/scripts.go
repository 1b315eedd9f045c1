package browser

// setInputFn is shared by the page scripts below. It writes through the native
// value setter so framework-bound inputs notice, then fires input and change.
const setInputFn = `
const setInput = (name, value) => {
  const el = document.querySelector('input[name="' + name + '"]');
  if (!el) {
    throw new Error('input "' + name + '" not found');
  }
  const proto = Object.getPrototypeOf(el);
  const desc = Object.getOwnPropertyDescriptor(proto, 'value') ||
    Object.getOwnPropertyDescriptor(HTMLInputElement.prototype, 'value');
  if (desc && desc.set) {
    desc.set.call(el, value);
  } else {
    el.value = value;
  }
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
};
`

// fillLoginScript takes (email, password, submitSelector).
const fillLoginScript = `function(email, password, submitSelector) {` + setInputFn + `
  setInput('email', email);
  setInput('password', password);
  const submit = document.querySelector(submitSelector);
  if (!submit) {
    throw new Error('submit control not found');
  }
  submit.click();
  return true;
}`

// addProductScript takes (quantity).
const addProductScript = `function(quantity) {` + setInputFn + `
  setInput('quantity', String(quantity));
  const button = document.querySelector('button[data-available="false"]');
  if (!button) {
    throw new Error('add-to-cart button not found');
  }
  button.click();
  return true;
}`
