package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/meet_torture/internal/session"
	"github.com/dgnsrekt/meet_torture/internal/wait"
)

const (
	defaultPageLoadTimeout = 30 * time.Second
	readyPollInterval      = 100 * time.Millisecond
)

// Session drives one browser over CDP.
type Session struct {
	t transport

	mu       sync.Mutex
	current  target.ID
	frames   []string
	timeouts session.Timeouts
	quit     bool

	// pointer state for Perform / ResetInput
	x, y    float64
	buttons []input.MouseButton
	keys    []string
}

var _ session.Session = (*Session)(nil)

// newSession wraps t and selects the first page target.
func newSession(ctx context.Context, t transport) (*Session, error) {
	s := &Session{t: t, timeouts: session.Timeouts{PageLoad: defaultPageLoadTimeout}}
	ids, err := t.pages(ctx)
	if err != nil {
		return nil, session.NewError(session.CodeSession, "list pages", err)
	}
	if len(ids) == 0 {
		id, err := t.createPage(ctx)
		if err != nil {
			return nil, session.NewError(session.CodeSession, "create page", err)
		}
		ids = []target.ID{id}
	}
	s.current = ids[0]
	return s, nil
}

// selected returns the current target and frame path.
func (s *Session) selected() (target.ID, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit {
		return "", nil, session.NewError(session.CodeClosed, "session has quit", nil)
	}
	if s.current == "" {
		return "", nil, session.NewError(session.CodeClosed, "no window selected", nil)
	}
	return s.current, slices.Clone(s.frames), nil
}

func (s *Session) evalIn(ctx context.Context, id target.ID, frames []string, body string, args []any) (any, error) {
	expr, err := callExpression(body, args)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	limit := s.timeouts.Script
	s.mu.Unlock()
	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	raw, err := s.t.evaluate(ctx, id, inFrames(frames, expr))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, session.NewError(session.CodeTimeout, "script timed out", err)
		}
		return nil, session.NewError(session.CodeSession, "execute script", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, session.NewError(session.CodeSession, "decode script result", err)
	}
	return v, nil
}

func (s *Session) evalString(ctx context.Context, id target.ID, frames []string, body string) (string, error) {
	v, err := s.evalIn(ctx, id, frames, body, nil)
	if err != nil {
		return "", err
	}
	str, _ := v.(string)
	return str, nil
}

func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	id, _, err := s.selected()
	if err != nil {
		return err
	}
	if timeout <= 0 {
		s.mu.Lock()
		timeout = s.timeouts.PageLoad
		s.mu.Unlock()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
	if err := s.t.navigate(ctx, id, url); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return session.NewError(session.CodeTimeout, "page load timed out: "+url, err)
		}
		return session.NewError(session.CodeSession, "navigate to "+url, err)
	}
	return s.waitReady(ctx, id, timeout, url)
}

func (s *Session) waitReady(ctx context.Context, id target.ID, timeout time.Duration, what string) error {
	err := wait.For(ctx, timeout, readyPollInterval, "document ready for "+what, func(ctx context.Context) (bool, error) {
		raw, err := s.t.evaluate(ctx, id, "document.readyState")
		if err != nil {
			return false, err
		}
		var state string
		_ = json.Unmarshal(raw, &state)
		return state == "complete", nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return session.NewError(session.CodeTimeout, "page load timed out: "+what, err)
	}
	return err
}

func (s *Session) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	id, frames, err := s.selected()
	if err != nil {
		return nil, err
	}
	return s.evalIn(ctx, id, frames, script, args)
}

func (s *Session) FindElements(ctx context.Context, sel session.Selector) ([]session.Element, error) {
	id, frames, err := s.selected()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	implicit := s.timeouts.Implicit
	s.mu.Unlock()

	find := func(ctx context.Context) ([]session.Element, error) {
		v, err := s.evalIn(ctx, id, frames, scriptFind, []any{string(sel.By), sel.Value})
		if err != nil {
			return nil, err
		}
		refs, _ := v.([]any)
		out := make([]session.Element, 0, len(refs))
		for _, r := range refs {
			n, ok := r.(float64)
			if !ok {
				continue
			}
			out = append(out, &element{s: s, target: id, frames: frames, ref: int(n)})
		}
		return out, nil
	}
	if implicit <= 0 {
		return find(ctx)
	}

	var found []session.Element
	err = wait.For(ctx, implicit, readyPollInterval, sel.String(), func(ctx context.Context) (bool, error) {
		els, err := find(ctx)
		if err != nil {
			return false, err
		}
		found = els
		return len(els) > 0, nil
	})
	if err != nil && !session.IsCode(err, session.CodeTimeout) {
		return nil, err
	}
	return found, nil
}

func (s *Session) FindElement(ctx context.Context, sel session.Selector) (session.Element, error) {
	els, err := s.FindElements(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, session.NewError(session.CodeNotFound, "no element matches "+sel.String(), nil)
	}
	return els[0], nil
}

// Title and CurrentURL describe the top level document even inside a frame.
func (s *Session) Title(ctx context.Context) (string, error) {
	id, _, err := s.selected()
	if err != nil {
		return "", err
	}
	return s.evalString(ctx, id, nil, "return document.title;")
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	id, _, err := s.selected()
	if err != nil {
		return "", err
	}
	return s.evalString(ctx, id, nil, "return location.href;")
}

func (s *Session) PageSource(ctx context.Context) (string, error) {
	id, frames, err := s.selected()
	if err != nil {
		return "", err
	}
	return s.evalString(ctx, id, frames, "return document.documentElement.outerHTML;")
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	id, _, err := s.selected()
	if err != nil {
		return nil, err
	}
	buf, err := s.t.screenshot(ctx, id)
	if err != nil {
		return nil, session.NewError(session.CodeSession, "screenshot", err)
	}
	return buf, nil
}

func (s *Session) Cookies(ctx context.Context) ([]session.Cookie, error) {
	id, _, err := s.selected()
	if err != nil {
		return nil, err
	}
	out, err := s.t.cookies(ctx, id)
	if err != nil {
		return nil, session.NewError(session.CodeSession, "get cookies", err)
	}
	return out, nil
}

func (s *Session) AddCookie(ctx context.Context, c session.Cookie) error {
	id, _, err := s.selected()
	if err != nil {
		return err
	}
	if c.Name == "" {
		return session.NewError(session.CodeValidation, "cookie name is required", nil)
	}
	url, err := s.evalString(ctx, id, nil, "return location.href;")
	if err != nil {
		return err
	}
	if err := s.t.setCookie(ctx, id, c, url); err != nil {
		return session.NewError(session.CodeSession, "add cookie "+c.Name, err)
	}
	return nil
}

func (s *Session) DeleteCookie(ctx context.Context, name string) error {
	id, _, err := s.selected()
	if err != nil {
		return err
	}
	url, err := s.evalString(ctx, id, nil, "return location.href;")
	if err != nil {
		return err
	}
	if err := s.t.deleteCookie(ctx, id, name, url); err != nil {
		return session.NewError(session.CodeSession, "delete cookie "+name, err)
	}
	return nil
}

func (s *Session) DeleteAllCookies(ctx context.Context) error {
	id, _, err := s.selected()
	if err != nil {
		return err
	}
	if err := s.t.clearCookies(ctx, id); err != nil {
		return session.NewError(session.CodeSession, "clear cookies", err)
	}
	return nil
}

func (s *Session) SetTimeouts(ctx context.Context, t session.Timeouts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.PageLoad > 0 {
		s.timeouts.PageLoad = t.PageLoad
	}
	if t.Script > 0 {
		s.timeouts.Script = t.Script
	}
	if t.Implicit > 0 {
		s.timeouts.Implicit = t.Implicit
	}
	return nil
}

func mouseButton(name string) input.MouseButton {
	switch name {
	case "right":
		return input.Right
	case "middle":
		return input.Middle
	default:
		return input.Left
	}
}

func (s *Session) Perform(ctx context.Context, actions []session.Action) error {
	id, _, err := s.selected()
	if err != nil {
		return err
	}
	for i, a := range actions {
		if err := s.perform(ctx, id, a); err != nil {
			return session.NewError(session.CodeSession, fmt.Sprintf("action %d (%s)", i, a.Kind), err)
		}
	}
	return nil
}

func (s *Session) perform(ctx context.Context, id target.ID, a session.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch a.Kind {
	case session.ActionPointerMove:
		s.x, s.y = a.X, a.Y
		return s.t.mouse(ctx, id, input.MouseMoved, s.x, s.y, input.None)
	case session.ActionPointerDown:
		b := mouseButton(a.Button)
		s.buttons = append(s.buttons, b)
		return s.t.mouse(ctx, id, input.MousePressed, s.x, s.y, b)
	case session.ActionPointerUp:
		b := mouseButton(a.Button)
		if i := slices.Index(s.buttons, b); i >= 0 {
			s.buttons = slices.Delete(s.buttons, i, i+1)
		}
		return s.t.mouse(ctx, id, input.MouseReleased, s.x, s.y, b)
	case session.ActionKeyDown:
		s.keys = append(s.keys, a.Key)
		return s.t.key(ctx, id, input.KeyDown, a.Key)
	case session.ActionKeyUp:
		if i := slices.Index(s.keys, a.Key); i >= 0 {
			s.keys = slices.Delete(s.keys, i, i+1)
		}
		return s.t.key(ctx, id, input.KeyUp, a.Key)
	case session.ActionText:
		return s.t.insertText(ctx, id, a.Text)
	case session.ActionPause:
		return wait.Sleep(ctx, a.Duration)
	default:
		return session.NewError(session.CodeUnsupported, "unknown action "+string(a.Kind), nil)
	}
}

// ResetInput releases every key and button still held by Perform.
func (s *Session) ResetInput(ctx context.Context) error {
	id, _, err := s.selected()
	if err != nil {
		return err
	}
	s.mu.Lock()
	keys, buttons := s.keys, s.buttons
	s.keys, s.buttons = nil, nil
	x, y := s.x, s.y
	s.mu.Unlock()

	var errs []error
	for i := len(keys) - 1; i >= 0; i-- {
		errs = append(errs, s.t.key(ctx, id, input.KeyUp, keys[i]))
	}
	for i := len(buttons) - 1; i >= 0; i-- {
		errs = append(errs, s.t.mouse(ctx, id, input.MouseReleased, x, y, buttons[i]))
	}
	if err := errors.Join(errs...); err != nil {
		return session.NewError(session.CodeSession, "release input", err)
	}
	return nil
}

func (s *Session) WindowHandles(ctx context.Context) ([]string, error) {
	if s.hasQuit() {
		return nil, session.NewError(session.CodeClosed, "session has quit", nil)
	}
	ids, err := s.t.pages(ctx)
	if err != nil {
		return nil, session.NewError(session.CodeSession, "list windows", err)
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out, nil
}

func (s *Session) hasQuit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quit
}

func (s *Session) WindowHandle(ctx context.Context) (string, error) {
	id, _, err := s.selected()
	return string(id), err
}

// OpenWindow opens a blank tab without selecting it.
func (s *Session) OpenWindow(ctx context.Context) error {
	if s.hasQuit() {
		return session.NewError(session.CodeClosed, "session has quit", nil)
	}
	id, err := s.t.createPage(ctx)
	if err != nil {
		return session.NewError(session.CodeSession, "open window", err)
	}
	slog.Debug("window opened", "handle", id)
	return nil
}

func (s *Session) SwitchToWindow(ctx context.Context, handle string) error {
	handles, err := s.WindowHandles(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(handles, handle) {
		return session.NewError(session.CodeNotFound, "no such window "+handle, nil)
	}
	if err := s.t.activate(ctx, target.ID(handle)); err != nil {
		return session.NewError(session.CodeSession, "activate window "+handle, err)
	}
	s.mu.Lock()
	s.current = target.ID(handle)
	s.frames = nil
	s.mu.Unlock()
	return nil
}

func (s *Session) SwitchToFrame(ctx context.Context, id string) error {
	tid, frames, err := s.selected()
	if err != nil {
		return err
	}
	if id == "" {
		s.mu.Lock()
		s.frames = nil
		s.mu.Unlock()
		return nil
	}
	next := append(frames, id)
	// resolving the frame path throws if any step is missing
	if _, err := s.evalIn(ctx, tid, next, "return true;", nil); err != nil {
		return session.NewError(session.CodeNotFound, "no such frame "+id, err)
	}
	s.mu.Lock()
	s.frames = next
	s.mu.Unlock()
	return nil
}

func (s *Session) Back(ctx context.Context) error    { return s.history(ctx, -1) }
func (s *Session) Forward(ctx context.Context) error { return s.history(ctx, 1) }

func (s *Session) history(ctx context.Context, delta int) error {
	id, _, err := s.selected()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.frames = nil
	timeout := s.timeouts.PageLoad
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.t.history(ctx, id, delta); err != nil {
		return session.NewError(session.CodeSession, "history navigation", err)
	}
	return s.waitReady(ctx, id, timeout, "history entry")
}

func (s *Session) PrintPage(ctx context.Context) ([]byte, error) {
	id, _, err := s.selected()
	if err != nil {
		return nil, err
	}
	buf, err := s.t.printPDF(ctx, id)
	if err != nil {
		return nil, session.NewError(session.CodeSession, "print page", err)
	}
	return buf, nil
}

func (s *Session) SetWindowSize(ctx context.Context, width, height int) error {
	id, _, err := s.selected()
	if err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return session.NewError(session.CodeValidation, fmt.Sprintf("invalid window size %dx%d", width, height), nil)
	}
	if err := s.t.setViewport(ctx, id, width, height); err != nil {
		return session.NewError(session.CodeSession, "set window size", err)
	}
	return nil
}

// Close closes the current window. Closing the last window ends the session.
func (s *Session) Close(ctx context.Context) error {
	id, _, err := s.selected()
	if err != nil {
		return err
	}
	if err := s.t.closePage(ctx, id); err != nil {
		return session.NewError(session.CodeSession, "close window", err)
	}
	s.mu.Lock()
	s.current = ""
	s.frames = nil
	s.mu.Unlock()

	left, err := s.t.pages(ctx)
	if err == nil && len(left) == 0 {
		return s.Quit(ctx)
	}
	return nil
}

func (s *Session) Quit(ctx context.Context) error {
	s.mu.Lock()
	if s.quit {
		s.mu.Unlock()
		return nil
	}
	s.quit = true
	s.current = ""
	s.mu.Unlock()
	if err := s.t.close(ctx); err != nil {
		return session.NewError(session.CodeSession, "quit", err)
	}
	return nil
}
