package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	cdptypes "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/meet_torture/internal/session"
)

// ChromedpOptions selects how chromedp obtains its browser.
type ChromedpOptions struct {
	// RemoteURL attaches to a running browser (ws:// or http:// DevTools
	// endpoint) instead of starting one.
	RemoteURL string
	ExecPath  string
	// Flags are command line switches such as "--use-fake-ui-for-media-stream"
	// or "--window-size=1280,720".
	Flags    []string
	Headless bool
}

func (o ChromedpOptions) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !o.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	for _, f := range o.Flags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(f, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// chromedpTransport keeps one chromedp context per page target.
type chromedpTransport struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	root          target.ID

	mu   sync.Mutex
	tabs map[target.ID]*tab
}

// DialChromedp starts (or attaches to) a browser with chromedp and returns
// a session on its first page.
func DialChromedp(ctx context.Context, opts ChromedpOptions) (*Session, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts.allocatorOptions()...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	start := func() error {
		done := make(chan error, 1)
		go func() { done <- chromedp.Run(browserCtx) }()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := start(); err != nil {
		browserCancel()
		allocCancel()
		return nil, session.NewError(session.CodeSession, "start browser", err)
	}

	t := &chromedpTransport{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		root:          chromedp.FromContext(browserCtx).Target.TargetID,
		tabs:          map[target.ID]*tab{},
	}
	t.tabs[t.root] = &tab{ctx: browserCtx, cancel: func() {}}
	t.listen(browserCtx)

	s, err := newSession(ctx, t)
	if err != nil {
		_ = t.close(ctx)
		return nil, err
	}
	// prefer the page chromedp is attached to
	s.current = t.root
	return s, nil
}

// listen accepts dialogs on the tab behind ctx.
func (t *chromedpTransport) listen(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev any) {
		if e, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			slog.Debug("accepting javascript dialog", "type", e.Type, "message", e.Message)
			go func() {
				if err := chromedp.Run(ctx, page.HandleJavaScriptDialog(true)); err != nil {
					slog.Warn("dialog not handled", "error", err)
				}
			}()
		}
	})
}

func (t *chromedpTransport) tab(id target.ID) *tab {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tb, ok := t.tabs[id]; ok {
		return tb
	}
	ctx, cancel := chromedp.NewContext(t.browserCtx, chromedp.WithTargetID(id))
	tb := &tab{ctx: ctx, cancel: cancel}
	t.tabs[id] = tb
	t.listen(ctx)
	return tb
}

// run executes actions on tab id, bounded by the caller's ctx.
func (t *chromedpTransport) run(ctx context.Context, id target.ID, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.tab(id).ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return err
	}
	return nil
}

func (t *chromedpTransport) pages(ctx context.Context) ([]target.ID, error) {
	infos, err := chromedp.Targets(t.browserCtx)
	if err != nil {
		return nil, err
	}
	var out []target.ID
	for _, info := range infos {
		if info.Type == "page" {
			out = append(out, info.TargetID)
		}
	}
	return out, nil
}

func (t *chromedpTransport) createPage(ctx context.Context) (target.ID, error) {
	tabCtx, cancel := chromedp.NewContext(t.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return "", err
	}
	id := chromedp.FromContext(tabCtx).Target.TargetID
	t.mu.Lock()
	t.tabs[id] = &tab{ctx: tabCtx, cancel: cancel}
	t.mu.Unlock()
	t.listen(tabCtx)
	return id, nil
}

func (t *chromedpTransport) closePage(ctx context.Context, id target.ID) error {
	err := t.run(ctx, id, page.Close())
	t.mu.Lock()
	tb := t.tabs[id]
	delete(t.tabs, id)
	t.mu.Unlock()
	if tb != nil && id != t.root {
		tb.cancel()
	}
	return err
}

func (t *chromedpTransport) activate(ctx context.Context, id target.ID) error {
	return t.run(ctx, id, page.BringToFront())
}

func (t *chromedpTransport) navigate(ctx context.Context, id target.ID, url string) error {
	return t.run(ctx, id, chromedp.Navigate(url))
}

func (t *chromedpTransport) evaluate(ctx context.Context, id target.ID, expr string) (json.RawMessage, error) {
	var encoded string
	err := t.run(ctx, id, chromedp.Evaluate(stringified(expr), &encoded,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams { return p.WithAwaitPromise(true) }))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(encoded), nil
}

func (t *chromedpTransport) history(ctx context.Context, id target.ID, delta int) error {
	return t.run(ctx, id, chromedp.ActionFunc(func(ctx context.Context) error {
		cur, entries, err := page.GetNavigationHistory().Do(ctx)
		if err != nil {
			return err
		}
		next := int(cur) + delta
		if next < 0 || next >= len(entries) {
			return nil
		}
		return page.NavigateToHistoryEntry(entries[next].ID).Do(ctx)
	}))
}

func (t *chromedpTransport) screenshot(ctx context.Context, id target.ID) ([]byte, error) {
	var buf []byte
	err := t.run(ctx, id, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (t *chromedpTransport) printPDF(ctx context.Context, id target.ID) ([]byte, error) {
	var buf []byte
	err := t.run(ctx, id, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, _, err = page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		return err
	}))
	return buf, err
}

func (t *chromedpTransport) setViewport(ctx context.Context, id target.ID, width, height int) error {
	return t.run(ctx, id, chromedp.EmulateViewport(int64(width), int64(height)))
}

func (t *chromedpTransport) cookies(ctx context.Context, id target.ID) ([]session.Cookie, error) {
	var raw []*network.Cookie
	err := t.run(ctx, id, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	out := make([]session.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, session.Cookie{
			Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
			Expires: fromEpoch(c.Expires), Secure: c.Secure, HTTPOnly: c.HTTPOnly,
		})
	}
	return out, nil
}

func (t *chromedpTransport) setCookie(ctx context.Context, id target.ID, c session.Cookie, url string) error {
	return t.run(ctx, id, chromedp.ActionFunc(func(ctx context.Context) error {
		p := network.SetCookie(c.Name, c.Value).WithSecure(c.Secure).WithHTTPOnly(c.HTTPOnly)
		if c.Domain != "" {
			p = p.WithDomain(c.Domain)
		} else {
			p = p.WithURL(url)
		}
		if c.Path != "" {
			p = p.WithPath(c.Path)
		}
		if !c.Expires.IsZero() {
			exp := cdptypes.TimeSinceEpoch(c.Expires)
			p = p.WithExpires(&exp)
		}
		return p.Do(ctx)
	}))
}

func (t *chromedpTransport) deleteCookie(ctx context.Context, id target.ID, name, url string) error {
	return t.run(ctx, id, network.DeleteCookies(name).WithURL(url))
}

func (t *chromedpTransport) clearCookies(ctx context.Context, id target.ID) error {
	return t.run(ctx, id, network.ClearBrowserCookies())
}

func (t *chromedpTransport) mouse(ctx context.Context, id target.ID, typ input.MouseType, x, y float64, button input.MouseButton) error {
	p := input.DispatchMouseEvent(typ, x, y).WithButton(button)
	if typ != input.MouseMoved {
		p = p.WithClickCount(1)
	}
	return t.run(ctx, id, p)
}

func (t *chromedpTransport) key(ctx context.Context, id target.ID, typ input.KeyType, key string) error {
	return t.run(ctx, id, input.DispatchKeyEvent(typ).WithKey(key))
}

func (t *chromedpTransport) insertText(ctx context.Context, id target.ID, text string) error {
	return t.run(ctx, id, input.InsertText(text))
}

func (t *chromedpTransport) close(context.Context) error {
	t.mu.Lock()
	for id, tb := range t.tabs {
		if id != t.root {
			tb.cancel()
		}
	}
	t.tabs = map[target.ID]*tab{}
	t.mu.Unlock()

	err := chromedp.Cancel(t.browserCtx)
	t.browserCancel()
	t.allocCancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
