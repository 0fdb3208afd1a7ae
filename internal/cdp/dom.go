package cdp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/meet_torture/internal/session"
)

// callExpression turns a WebDriver style function body into an expression
// that applies it to args.
func callExpression(body string, args []any) (string, error) {
	if args == nil {
		args = []any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", session.NewError(session.CodeValidation, "script arguments are not JSON", err)
	}
	return "(function(){" + body + "\n}).apply(null, " + string(raw) + ")", nil
}

// inFrames evaluates expr inside the window reached by walking frames from
// the top document. Frames are matched by id, then by name.
func inFrames(frames []string, expr string) string {
	if len(frames) == 0 {
		return expr
	}
	path, _ := json.Marshal(frames)
	src, _ := json.Marshal(expr)
	return `(function(){let w = window; for (const id of ` + string(path) + `) {` +
		`const f = w.document.getElementById(id) || w.document.getElementsByName(id)[0];` +
		`if (!f || !f.contentWindow) { throw new Error('no such frame: ' + id); }` +
		`w = f.contentWindow; } return w.eval(` + string(src) + `); })()`
}

const scriptFind = `const by = arguments[0], v = arguments[1];
let nodes = [];
switch (by) {
case 'css selector': nodes = Array.from(document.querySelectorAll(v)); break;
case 'id': { const n = document.getElementById(v); if (n) { nodes = [n]; } break; }
case 'tag name': nodes = Array.from(document.getElementsByTagName(v)); break;
case 'class name': nodes = Array.from(document.getElementsByClassName(v)); break;
case 'name': nodes = Array.from(document.getElementsByName(v)); break;
case 'test id': nodes = Array.from(document.querySelectorAll('[data-testid="' + CSS.escape(v) + '"]')); break;
case 'link text': nodes = Array.from(document.querySelectorAll('a')).filter(a => a.textContent.trim() === v); break;
case 'partial link text': nodes = Array.from(document.querySelectorAll('a')).filter(a => a.textContent.includes(v)); break;
case 'xpath': {
  const r = document.evaluate(v, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
  for (let i = 0; i < r.snapshotLength; i++) { nodes.push(r.snapshotItem(i)); }
  break;
}
default: throw new Error('unsupported locator: ' + by);
}
const refs = window.__tortureRefs || (window.__tortureRefs = []);
return nodes.map(n => refs.push(n) - 1);`

const elementPrelude = `const el = (window.__tortureRefs || [])[arguments[0]];
if (!el || !el.isConnected) { throw new Error('stale element reference'); }
`

const (
	scriptElementText      = elementPrelude + `return el.innerText !== undefined ? el.innerText : el.textContent;`
	scriptElementAttribute = elementPrelude + `const v = el.getAttribute(arguments[1]); return v === null ? '' : v;`
	scriptElementDisplayed = elementPrelude + `const s = getComputedStyle(el); const r = el.getBoundingClientRect();
return s.visibility !== 'hidden' && s.display !== 'none' && r.width > 0 && r.height > 0;`
	scriptElementFocus = elementPrelude + `el.focus(); return true;`
	// Center of the element in top level viewport coordinates.
	scriptElementCenter = elementPrelude + `el.scrollIntoView({block: 'center', inline: 'center'});
const r = el.getBoundingClientRect();
let x = r.left + r.width / 2, y = r.top + r.height / 2;
let w = window;
while (w !== w.top && w.frameElement) {
  const f = w.frameElement.getBoundingClientRect();
  x += f.left; y += f.top; w = w.parent;
}
return [x, y];`
)

// element is a node remembered in its window's reference table.
type element struct {
	s      *Session
	target target.ID
	frames []string
	ref    int
}

var _ session.Element = (*element)(nil)

func (e *element) call(ctx context.Context, body string, extra ...any) (any, error) {
	return e.s.evalIn(ctx, e.target, e.frames, body, append([]any{e.ref}, extra...))
}

func (e *element) Click(ctx context.Context) error {
	v, err := e.call(ctx, scriptElementCenter)
	if err != nil {
		return err
	}
	pt, ok := v.([]any)
	if !ok || len(pt) != 2 {
		return session.NewError(session.CodeSession, fmt.Sprintf("unexpected element position %v", v), nil)
	}
	x, _ := pt[0].(float64)
	y, _ := pt[1].(float64)
	for _, typ := range []input.MouseType{input.MousePressed, input.MouseReleased} {
		if err := e.s.t.mouse(ctx, e.target, typ, x, y, input.Left); err != nil {
			return session.NewError(session.CodeSession, "click", err)
		}
	}
	return nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	v, err := e.call(ctx, scriptElementText)
	s, _ := v.(string)
	return s, err
}

func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	v, err := e.call(ctx, scriptElementAttribute, name)
	s, _ := v.(string)
	return s, err
}

func (e *element) Displayed(ctx context.Context) (bool, error) {
	v, err := e.call(ctx, scriptElementDisplayed)
	b, _ := v.(bool)
	return b, err
}

func (e *element) SendKeys(ctx context.Context, text string) error {
	if _, err := e.call(ctx, scriptElementFocus); err != nil {
		return err
	}
	if err := e.s.t.insertText(ctx, e.target, text); err != nil {
		return session.NewError(session.CodeSession, "send keys", err)
	}
	return nil
}
