// Package sessiontest provides an in-memory session.Session for tests.
package sessiontest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgnsrekt/meet_torture/internal/session"
)

// Event is one entry of the fake's journal.
type Event struct {
	Method string
	Handle string
	Arg    string
	Phase  string // "begin" or "end"
}

// ScriptFunc answers ExecuteScript calls.
type ScriptFunc func(handle, script string, args []any) (any, error)

// Session is a scriptable fake browser. All fields prefixed with a capital
// letter may be set before use; the rest is internal state.
type Session struct {
	// OnScript answers scripts; nil returns (nil, nil).
	OnScript ScriptFunc
	// Delay is slept inside Navigate and ExecuteScript.
	Delay time.Duration
	// Fail makes the named method return the error.
	Fail map[string]error
	// PopupsOnOpen extra windows appear with every OpenWindow.
	PopupsOnOpen int

	mu       sync.Mutex
	handles  []string
	current  string
	frame    string
	urls     map[string]string
	titles   map[string]string
	nextID   int
	journal  []Event
	quits    int
	elements map[session.Selector][]*Element
	cookies  []session.Cookie
	timeouts session.Timeouts
}

var _ session.Session = (*Session)(nil)

// New returns a fake with one open window.
func New() *Session {
	s := &Session{
		urls:     make(map[string]string),
		titles:   make(map[string]string),
		elements: make(map[session.Selector][]*Element),
		Fail:     make(map[string]error),
	}
	s.current = s.addWindowLocked()
	return s
}

func (s *Session) addWindowLocked() string {
	s.nextID++
	h := fmt.Sprintf("W%d", s.nextID)
	s.handles = append(s.handles, h)
	s.urls[h] = "about:blank"
	return h
}

func (s *Session) begin(method, arg string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = append(s.journal, Event{Method: method, Handle: s.current, Arg: arg, Phase: "begin"})
	if err := s.Fail[method]; err != nil {
		return s.current, err
	}
	if s.quits > 0 && method != "Quit" {
		return s.current, session.NewError(session.CodeSession, "session already quit", nil)
	}
	return s.current, nil
}

func (s *Session) end(method, handle, arg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = append(s.journal, Event{Method: method, Handle: handle, Arg: arg, Phase: "end"})
}

func (s *Session) sleep(ctx context.Context) error {
	if s.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(s.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Journal returns a copy of every recorded event.
func (s *Session) Journal() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.journal...)
}

// Calls returns the completed calls of method, in order.
func (s *Session) Calls(method string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.journal {
		if e.Method == method && e.Phase == "end" {
			out = append(out, e)
		}
	}
	return out
}

// Navigations lists the urls loaded so far.
func (s *Session) Navigations() []string {
	var out []string
	for _, e := range s.Calls("Navigate") {
		out = append(out, e.Arg)
	}
	return out
}

// QuitCount reports how many times Quit reached the fake.
func (s *Session) QuitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quits
}

// Handles returns the open windows.
func (s *Session) Handles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.handles...)
}

// URL returns the document loaded in the given window.
func (s *Session) URL(handle string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urls[handle]
}

// Frame returns the selected frame id ("" for the top document).
func (s *Session) Frame() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// AddElement registers an element returned for sel.
func (s *Session) AddElement(sel session.Selector, el *Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el.owner = s
	s.elements[sel] = append(s.elements[sel], el)
}

// SetFail makes method fail with err; a nil err clears it.
func (s *Session) SetFail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.Fail, method)
		return
	}
	s.Fail[method] = err
}

func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	h, err := s.begin("Navigate", url)
	if err != nil {
		return err
	}
	if err := s.sleep(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.urls[h] = url
	s.frame = ""
	s.mu.Unlock()
	s.end("Navigate", h, url)
	return nil
}

func (s *Session) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	h, err := s.begin("ExecuteScript", script)
	if err != nil {
		return nil, err
	}
	if err := s.sleep(ctx); err != nil {
		return nil, err
	}
	var out any
	if s.OnScript != nil {
		out, err = s.OnScript(h, script, args)
	}
	s.end("ExecuteScript", h, script)
	return out, err
}

func (s *Session) FindElement(ctx context.Context, sel session.Selector) (session.Element, error) {
	els, err := s.FindElements(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, session.NewError(session.CodeNotFound, "no such element: "+sel.String(), nil)
	}
	return els[0], nil
}

func (s *Session) FindElements(ctx context.Context, sel session.Selector) ([]session.Element, error) {
	h, err := s.begin("FindElements", sel.String())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	var out []session.Element
	for _, el := range s.elements[sel] {
		out = append(out, el)
	}
	s.mu.Unlock()
	s.end("FindElements", h, sel.String())
	return out, nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	h, err := s.begin("Title", "")
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	title := s.titles[h]
	s.mu.Unlock()
	s.end("Title", h, "")
	return title, nil
}

// SetTitle sets the document title of a window.
func (s *Session) SetTitle(handle, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles[handle] = title
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	h, err := s.begin("CurrentURL", "")
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	u := s.urls[h]
	s.mu.Unlock()
	s.end("CurrentURL", h, "")
	return u, nil
}

func (s *Session) PageSource(ctx context.Context) (string, error) {
	h, err := s.begin("PageSource", "")
	if err != nil {
		return "", err
	}
	s.end("PageSource", h, "")
	return "<html><body>" + h + "</body></html>", nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	h, err := s.begin("Screenshot", "")
	if err != nil {
		return nil, err
	}
	s.end("Screenshot", h, "")
	return []byte("\x89PNG" + h), nil
}

func (s *Session) Cookies(ctx context.Context) ([]session.Cookie, error) {
	h, err := s.begin("Cookies", "")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := append([]session.Cookie(nil), s.cookies...)
	s.mu.Unlock()
	s.end("Cookies", h, "")
	return out, nil
}

func (s *Session) AddCookie(ctx context.Context, c session.Cookie) error {
	h, err := s.begin("AddCookie", c.Name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cookies = append(s.cookies, c)
	s.mu.Unlock()
	s.end("AddCookie", h, c.Name)
	return nil
}

func (s *Session) DeleteCookie(ctx context.Context, name string) error {
	h, err := s.begin("DeleteCookie", name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	kept := s.cookies[:0]
	for _, c := range s.cookies {
		if c.Name != name {
			kept = append(kept, c)
		}
	}
	s.cookies = kept
	s.mu.Unlock()
	s.end("DeleteCookie", h, name)
	return nil
}

func (s *Session) DeleteAllCookies(ctx context.Context) error {
	h, err := s.begin("DeleteAllCookies", "")
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cookies = nil
	s.mu.Unlock()
	s.end("DeleteAllCookies", h, "")
	return nil
}

func (s *Session) SetTimeouts(ctx context.Context, t session.Timeouts) error {
	h, err := s.begin("SetTimeouts", "")
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.timeouts = t
	s.mu.Unlock()
	s.end("SetTimeouts", h, "")
	return nil
}

func (s *Session) Perform(ctx context.Context, actions []session.Action) error {
	h, err := s.begin("Perform", fmt.Sprint(len(actions)))
	if err != nil {
		return err
	}
	s.end("Perform", h, fmt.Sprint(len(actions)))
	return nil
}

func (s *Session) ResetInput(ctx context.Context) error {
	h, err := s.begin("ResetInput", "")
	if err != nil {
		return err
	}
	s.end("ResetInput", h, "")
	return nil
}

func (s *Session) WindowHandles(ctx context.Context) ([]string, error) {
	h, err := s.begin("WindowHandles", "")
	if err != nil {
		return nil, err
	}
	out := s.Handles()
	s.end("WindowHandles", h, "")
	return out, nil
}

func (s *Session) WindowHandle(ctx context.Context) (string, error) {
	h, err := s.begin("WindowHandle", "")
	if err != nil {
		return "", err
	}
	s.end("WindowHandle", h, "")
	return h, nil
}

func (s *Session) OpenWindow(ctx context.Context) error {
	h, err := s.begin("OpenWindow", "")
	if err != nil {
		return err
	}
	s.mu.Lock()
	for i := 0; i <= s.PopupsOnOpen; i++ {
		s.addWindowLocked()
	}
	s.mu.Unlock()
	s.end("OpenWindow", h, "")
	return nil
}

func (s *Session) SwitchToWindow(ctx context.Context, handle string) error {
	if _, err := s.begin("SwitchToWindow", handle); err != nil {
		return err
	}
	s.mu.Lock()
	found := false
	for _, h := range s.handles {
		if h == handle {
			found = true
			break
		}
	}
	if found {
		s.current = handle
		s.frame = ""
	}
	s.mu.Unlock()
	s.end("SwitchToWindow", handle, handle)
	if !found {
		return session.NewError(session.CodeNotFound, "no such window: "+handle, nil)
	}
	return nil
}

func (s *Session) SwitchToFrame(ctx context.Context, id string) error {
	h, err := s.begin("SwitchToFrame", id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.frame = id
	s.mu.Unlock()
	s.end("SwitchToFrame", h, id)
	return nil
}

func (s *Session) Back(ctx context.Context) error {
	h, err := s.begin("Back", "")
	if err != nil {
		return err
	}
	s.end("Back", h, "")
	return nil
}

func (s *Session) Forward(ctx context.Context) error {
	h, err := s.begin("Forward", "")
	if err != nil {
		return err
	}
	s.end("Forward", h, "")
	return nil
}

func (s *Session) PrintPage(ctx context.Context) ([]byte, error) {
	h, err := s.begin("PrintPage", "")
	if err != nil {
		return nil, err
	}
	s.end("PrintPage", h, "")
	return []byte("%PDF"), nil
}

func (s *Session) SetWindowSize(ctx context.Context, width, height int) error {
	h, err := s.begin("SetWindowSize", fmt.Sprintf("%dx%d", width, height))
	if err != nil {
		return err
	}
	s.end("SetWindowSize", h, fmt.Sprintf("%dx%d", width, height))
	return nil
}

func (s *Session) Close(ctx context.Context) error {
	h, err := s.begin("Close", "")
	if err != nil {
		return err
	}
	s.mu.Lock()
	kept := s.handles[:0]
	for _, x := range s.handles {
		if x != h {
			kept = append(kept, x)
		}
	}
	s.handles = kept
	delete(s.urls, h)
	s.mu.Unlock()
	s.end("Close", h, "")
	return nil
}

func (s *Session) Quit(ctx context.Context) error {
	h, err := s.begin("Quit", "")
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.quits++
	s.mu.Unlock()
	s.end("Quit", h, "")
	return nil
}

// Element is a fake DOM node.
type Element struct {
	TextValue  string
	Attributes map[string]string
	Hidden     bool
	// OnClick runs after a click is recorded.
	OnClick func() error

	owner  *Session
	mu     sync.Mutex
	clicks int
	typed  string
}

var _ session.Element = (*Element)(nil)

// Clicks reports how often the element was clicked.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Typed returns everything sent with SendKeys.
func (e *Element) Typed() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typed
}

func (e *Element) Click(ctx context.Context) error {
	if e.owner != nil {
		e.owner.mu.Lock()
		err := e.owner.Fail["Click"]
		e.owner.mu.Unlock()
		if err != nil {
			return err
		}
	}
	e.mu.Lock()
	e.clicks++
	e.mu.Unlock()
	if e.OnClick != nil {
		return e.OnClick()
	}
	return nil
}

func (e *Element) Text(ctx context.Context) (string, error) { return e.TextValue, nil }

func (e *Element) Attribute(ctx context.Context, name string) (string, error) {
	return e.Attributes[name], nil
}

func (e *Element) Displayed(ctx context.Context) (bool, error) { return !e.Hidden, nil }

func (e *Element) SendKeys(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.typed += text
	return nil
}
