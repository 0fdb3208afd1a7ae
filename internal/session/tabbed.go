package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry tracks every base session shared by Tabbed sessions: its live
// reference count, the lock serialising access to it and the window handles
// already adopted by a tab. Base sessions must be comparable values
// (pointers in practice).
type Registry struct {
	mu    sync.Mutex
	bases map[Session]*baseEntry
}

type baseEntry struct {
	mu      sync.Mutex // held for every switch+act on the base session
	refs    int
	created int
	tabs    map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{bases: make(map[Session]*baseEntry)}
}

// RefCount returns the number of live tabs over base.
func (r *Registry) RefCount(base Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.bases[base]; ok {
		return e.refs
	}
	return 0
}

// Tracked reports whether the registry still holds bookkeeping for base.
func (r *Registry) Tracked(base Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bases[base]
	return ok
}

func (r *Registry) acquire(base Session) *baseEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bases[base]
	if !ok {
		e = &baseEntry{tabs: make(map[string]struct{})}
		r.bases[base] = e
	}
	e.refs++
	return e
}

// release drops one reference and reports whether it was the last one.
func (r *Registry) release(base Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bases[base]
	if !ok {
		return false
	}
	e.refs--
	if e.refs > 0 {
		return false
	}
	delete(r.bases, base)
	return true
}

// Tabbed is a Session bound to one window of a shared base session. Every
// call takes the base session's lock, switches the base to this tab's window
// and then delegates.
type Tabbed struct {
	reg   *Registry
	base  Session
	entry *baseEntry

	tabID string // guarded by entry.mu
	quit  bool   // guarded by entry.mu
}

var _ Session = (*Tabbed)(nil)

// NewTabbed creates a tab over base. The first tab adopts the single window
// the base session already has; later tabs open a new window and adopt the
// one handle that appears.
func NewTabbed(ctx context.Context, reg *Registry, base Session) (*Tabbed, error) {
	entry := reg.acquire(base)

	entry.mu.Lock()
	tabID, err := adoptWindow(ctx, base, entry)
	if err == nil {
		entry.created++
		entry.tabs[tabID] = struct{}{}
	}
	entry.mu.Unlock()

	if err != nil {
		reg.release(base)
		return nil, err
	}
	slog.Debug("tab created", "tab_id", tabID, "refs", reg.RefCount(base))
	return &Tabbed{reg: reg, base: base, entry: entry, tabID: tabID}, nil
}

// adoptWindow must be called with entry.mu held.
func adoptWindow(ctx context.Context, base Session, entry *baseEntry) (string, error) {
	before, err := base.WindowHandles(ctx)
	if err != nil {
		return "", err
	}
	if entry.created == 0 {
		if len(before) != 1 {
			return "", NewError(CodeMultiplex,
				fmt.Sprintf("fresh base session has %d windows, want exactly 1", len(before)), nil)
		}
		return before[0], nil
	}

	if err := base.OpenWindow(ctx); err != nil {
		return "", err
	}
	after, err := base.WindowHandles(ctx)
	if err != nil {
		return "", err
	}

	seen := make(map[string]struct{}, len(before))
	for _, h := range before {
		seen[h] = struct{}{}
	}
	var fresh []string
	for _, h := range after {
		if _, ok := seen[h]; !ok {
			fresh = append(fresh, h)
		}
	}
	if len(fresh) != 1 {
		return "", NewError(CodeMultiplex,
			fmt.Sprintf("expected exactly one new window after open, got %d (%v)", len(fresh), fresh), nil)
	}
	if _, taken := entry.tabs[fresh[0]]; taken {
		return "", NewError(CodeMultiplex,
			fmt.Sprintf("new window %s is already adopted by another tab", fresh[0]), nil)
	}
	return fresh[0], nil
}

// TabID returns the adopted window handle, or "" once the tab is closed.
func (t *Tabbed) TabID() string {
	t.entry.mu.Lock()
	defer t.entry.mu.Unlock()
	return t.tabID
}

// Base returns the shared session.
func (t *Tabbed) Base() Session { return t.base }

// do runs fn with the base session switched to this tab.
func (t *Tabbed) do(ctx context.Context, fn func() error) error {
	t.entry.mu.Lock()
	defer t.entry.mu.Unlock()
	if t.tabID == "" {
		return NewError(CodeClosed, "tab is closed", nil)
	}
	if err := t.base.SwitchToWindow(ctx, t.tabID); err != nil {
		return err
	}
	return fn()
}

func call[T any](ctx context.Context, t *Tabbed, fn func() (T, error)) (T, error) {
	var out T
	err := t.do(ctx, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

func (t *Tabbed) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return t.do(ctx, func() error { return t.base.Navigate(ctx, url, timeout) })
}

func (t *Tabbed) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	return call(ctx, t, func() (any, error) { return t.base.ExecuteScript(ctx, script, args...) })
}

func (t *Tabbed) FindElement(ctx context.Context, sel Selector) (Element, error) {
	el, err := call(ctx, t, func() (Element, error) { return t.base.FindElement(ctx, sel) })
	if err != nil {
		return nil, err
	}
	return &tabElement{tab: t, el: el}, nil
}

func (t *Tabbed) FindElements(ctx context.Context, sel Selector) ([]Element, error) {
	els, err := call(ctx, t, func() ([]Element, error) { return t.base.FindElements(ctx, sel) })
	if err != nil {
		return nil, err
	}
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = &tabElement{tab: t, el: el}
	}
	return out, nil
}

func (t *Tabbed) Title(ctx context.Context) (string, error) {
	return call(ctx, t, func() (string, error) { return t.base.Title(ctx) })
}

func (t *Tabbed) CurrentURL(ctx context.Context) (string, error) {
	return call(ctx, t, func() (string, error) { return t.base.CurrentURL(ctx) })
}

func (t *Tabbed) PageSource(ctx context.Context) (string, error) {
	return call(ctx, t, func() (string, error) { return t.base.PageSource(ctx) })
}

func (t *Tabbed) Screenshot(ctx context.Context) ([]byte, error) {
	return call(ctx, t, func() ([]byte, error) { return t.base.Screenshot(ctx) })
}

func (t *Tabbed) Cookies(ctx context.Context) ([]Cookie, error) {
	return call(ctx, t, func() ([]Cookie, error) { return t.base.Cookies(ctx) })
}

func (t *Tabbed) AddCookie(ctx context.Context, c Cookie) error {
	return t.do(ctx, func() error { return t.base.AddCookie(ctx, c) })
}

func (t *Tabbed) DeleteCookie(ctx context.Context, name string) error {
	return t.do(ctx, func() error { return t.base.DeleteCookie(ctx, name) })
}

func (t *Tabbed) DeleteAllCookies(ctx context.Context) error {
	return t.do(ctx, func() error { return t.base.DeleteAllCookies(ctx) })
}

func (t *Tabbed) SetTimeouts(ctx context.Context, to Timeouts) error {
	return t.do(ctx, func() error { return t.base.SetTimeouts(ctx, to) })
}

func (t *Tabbed) Perform(ctx context.Context, actions []Action) error {
	return t.do(ctx, func() error { return t.base.Perform(ctx, actions) })
}

func (t *Tabbed) ResetInput(ctx context.Context) error {
	return t.do(ctx, func() error { return t.base.ResetInput(ctx) })
}

// WindowHandles only reports this tab's own window.
func (t *Tabbed) WindowHandles(ctx context.Context) ([]string, error) {
	id, err := t.WindowHandle(ctx)
	if err != nil {
		return nil, err
	}
	return []string{id}, nil
}

func (t *Tabbed) WindowHandle(ctx context.Context) (string, error) {
	id := t.TabID()
	if id == "" {
		return "", NewError(CodeClosed, "tab is closed", nil)
	}
	return id, nil
}

func unsupported(op string) error {
	return NewError(CodeUnsupported, op+" is not supported on a tabbed session", nil)
}

func (t *Tabbed) OpenWindow(ctx context.Context) error { return unsupported("open window") }

func (t *Tabbed) SwitchToWindow(ctx context.Context, handle string) error {
	return unsupported("switch to window")
}

func (t *Tabbed) SwitchToFrame(ctx context.Context, id string) error {
	return unsupported("switch to frame")
}

func (t *Tabbed) Back(ctx context.Context) error    { return unsupported("history back") }
func (t *Tabbed) Forward(ctx context.Context) error { return unsupported("history forward") }

func (t *Tabbed) PrintPage(ctx context.Context) ([]byte, error) {
	return nil, unsupported("print page")
}

func (t *Tabbed) SetWindowSize(ctx context.Context, width, height int) error {
	return unsupported("window management")
}

// Close closes this tab's window. The tab is unusable afterwards.
func (t *Tabbed) Close(ctx context.Context) error {
	t.entry.mu.Lock()
	defer t.entry.mu.Unlock()
	return t.closeLocked(ctx)
}

func (t *Tabbed) closeLocked(ctx context.Context) error {
	if t.tabID == "" {
		return nil
	}
	if err := t.base.SwitchToWindow(ctx, t.tabID); err != nil {
		return err
	}
	if err := t.base.Close(ctx); err != nil {
		return err
	}
	delete(t.entry.tabs, t.tabID)
	slog.Debug("tab closed", "tab_id", t.tabID)
	t.tabID = ""
	return nil
}

// Quit closes the tab if still open and drops its reference on the base
// session, quitting the base when no tabs remain. Quitting twice is a no-op.
func (t *Tabbed) Quit(ctx context.Context) error {
	t.entry.mu.Lock()
	if t.quit {
		t.entry.mu.Unlock()
		return nil
	}
	t.quit = true
	closeErr := t.closeLocked(ctx)
	if closeErr != nil {
		// The window is gone from our point of view either way.
		t.tabID = ""
	}
	t.entry.mu.Unlock()

	if !t.reg.release(t.base) {
		return closeErr
	}
	slog.Debug("last tab released, quitting base session")
	return errors.Join(closeErr, t.base.Quit(ctx))
}

// tabElement re-selects its tab before every element call.
type tabElement struct {
	tab *Tabbed
	el  Element
}

func (e *tabElement) Click(ctx context.Context) error {
	return e.tab.do(ctx, func() error { return e.el.Click(ctx) })
}

func (e *tabElement) Text(ctx context.Context) (string, error) {
	return call(ctx, e.tab, func() (string, error) { return e.el.Text(ctx) })
}

func (e *tabElement) Attribute(ctx context.Context, name string) (string, error) {
	return call(ctx, e.tab, func() (string, error) { return e.el.Attribute(ctx, name) })
}

func (e *tabElement) Displayed(ctx context.Context) (bool, error) {
	return call(ctx, e.tab, func() (bool, error) { return e.el.Displayed(ctx) })
}

func (e *tabElement) SendKeys(ctx context.Context, text string) error {
	return e.tab.do(ctx, func() error { return e.el.SendKeys(ctx, text) })
}
