package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/meet_torture/internal/session"
)

// stringified wraps expr so the page returns its awaited value as a JSON
// string. undefined becomes null.
func stringified(expr string) string {
	return "(async () => { const v = await (" + expr + "\n); return JSON.stringify(v === undefined ? null : v); })()"
}

// rawTransport speaks CDP over conn, attaching one flat session per page.
type rawTransport struct {
	c       *conn
	onClose func() error

	mu       sync.Mutex
	sessions map[target.ID]string
}

// DialRaw connects to the DevTools endpoint at httpBase (for example
// http://127.0.0.1:9222) and returns a session on its first page. onClose,
// when set, runs after Quit has disconnected.
func DialRaw(ctx context.Context, httpBase string, onClose func() error) (*Session, error) {
	c := newConn(httpBase)
	if err := c.dial(ctx); err != nil {
		return nil, session.NewError(session.CodeSession, "connect to "+httpBase, err)
	}
	t := &rawTransport{c: c, onClose: onClose, sessions: map[target.ID]string{}}
	c.on("Target.detachedFromTarget", t.detached)
	c.on("Page.javascriptDialogOpening", t.dialogOpening)

	s, err := newSession(ctx, t)
	if err != nil {
		_ = t.close(ctx)
		return nil, err
	}
	return s, nil
}

func (t *rawTransport) detached(_ string, params json.RawMessage) {
	var ev struct {
		SessionID string    `json:"sessionId"`
		TargetID  target.ID `json:"targetId"`
	}
	if json.Unmarshal(params, &ev) != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, sid := range t.sessions {
		if sid == ev.SessionID || id == ev.TargetID {
			delete(t.sessions, id)
		}
	}
}

// dialogOpening accepts every dialog; a leave-page prompt must not block
// hang up.
func (t *rawTransport) dialogOpening(sessionID string, params json.RawMessage) {
	var ev struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(params, &ev)
	slog.Debug("accepting javascript dialog", "type", ev.Type, "message", ev.Message)
	go func() {
		err := t.c.call(context.Background(), sessionID, "Page.handleJavaScriptDialog",
			struct {
				Accept bool `json:"accept"`
			}{Accept: true}, nil)
		if err != nil {
			slog.Warn("dialog not handled", "error", err)
		}
	}()
}

// attach returns the flat session for id, attaching on first use.
func (t *rawTransport) attach(ctx context.Context, id target.ID) (string, error) {
	t.mu.Lock()
	sid, ok := t.sessions[id]
	t.mu.Unlock()
	if ok {
		return sid, nil
	}

	var res struct {
		SessionID string `json:"sessionId"`
	}
	err := t.c.call(ctx, "", "Target.attachToTarget", struct {
		TargetID target.ID `json:"targetId"`
		Flatten  bool      `json:"flatten"`
	}{TargetID: id, Flatten: true}, &res)
	if err != nil {
		return "", err
	}
	// dialogs are only reported with the page domain enabled
	if err := t.c.call(ctx, res.SessionID, "Page.enable", nil, nil); err != nil {
		return "", err
	}
	t.mu.Lock()
	t.sessions[id] = res.SessionID
	t.mu.Unlock()
	return res.SessionID, nil
}

// on attaches to id and runs method there.
func (t *rawTransport) on(ctx context.Context, id target.ID, method string, params, out any) error {
	sid, err := t.attach(ctx, id)
	if err != nil {
		return fmt.Errorf("attach %s: %w", id, err)
	}
	return t.c.call(ctx, sid, method, params, out)
}

func (t *rawTransport) pages(ctx context.Context) ([]target.ID, error) {
	infos, err := t.c.targets(ctx)
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

func (t *rawTransport) createPage(ctx context.Context) (target.ID, error) {
	var res struct {
		TargetID target.ID `json:"targetId"`
	}
	err := t.c.call(ctx, "", "Target.createTarget", struct {
		URL string `json:"url"`
	}{URL: "about:blank"}, &res)
	return res.TargetID, err
}

type targetParams struct {
	TargetID target.ID `json:"targetId"`
}

func (t *rawTransport) closePage(ctx context.Context, id target.ID) error {
	err := t.c.call(ctx, "", "Target.closeTarget", targetParams{TargetID: id}, nil)
	t.mu.Lock()
	delete(t.sessions, id)
	t.mu.Unlock()
	return err
}

func (t *rawTransport) activate(ctx context.Context, id target.ID) error {
	return t.c.call(ctx, "", "Target.activateTarget", targetParams{TargetID: id}, nil)
}

func (t *rawTransport) navigate(ctx context.Context, id target.ID, url string) error {
	var res struct {
		ErrorText string `json:"errorText"`
	}
	err := t.on(ctx, id, "Page.navigate", struct {
		URL string `json:"url"`
	}{URL: url}, &res)
	if err != nil {
		return err
	}
	if res.ErrorText != "" {
		return errors.New(res.ErrorText)
	}
	return nil
}

func (t *rawTransport) evaluate(ctx context.Context, id target.ID, expr string) (json.RawMessage, error) {
	var res struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	err := t.on(ctx, id, "Runtime.evaluate", struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: stringified(expr), ReturnByValue: true, AwaitPromise: true}, &res)
	if err != nil {
		return nil, err
	}
	if ex := res.ExceptionDetails; ex != nil {
		if ex.Exception != nil && ex.Exception.Description != "" {
			return nil, errors.New(ex.Exception.Description)
		}
		return nil, errors.New(ex.Text)
	}
	var encoded string
	if err := json.Unmarshal(res.Result.Value, &encoded); err != nil {
		return nil, fmt.Errorf("unexpected evaluate result %s", res.Result.Value)
	}
	return json.RawMessage(encoded), nil
}

func (t *rawTransport) history(ctx context.Context, id target.ID, delta int) error {
	var h struct {
		CurrentIndex int `json:"currentIndex"`
		Entries      []struct {
			ID int64 `json:"id"`
		} `json:"entries"`
	}
	if err := t.on(ctx, id, "Page.getNavigationHistory", nil, &h); err != nil {
		return err
	}
	next := h.CurrentIndex + delta
	if next < 0 || next >= len(h.Entries) {
		return nil
	}
	return t.on(ctx, id, "Page.navigateToHistoryEntry", struct {
		EntryID int64 `json:"entryId"`
	}{EntryID: h.Entries[next].ID}, nil)
}

func (t *rawTransport) data(ctx context.Context, id target.ID, method string, params any) ([]byte, error) {
	var res struct {
		Data string `json:"data"`
	}
	if err := t.on(ctx, id, method, params, &res); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(res.Data)
}

func (t *rawTransport) screenshot(ctx context.Context, id target.ID) ([]byte, error) {
	return t.data(ctx, id, "Page.captureScreenshot", struct {
		Format      string `json:"format"`
		FromSurface bool   `json:"fromSurface"`
	}{Format: "png", FromSurface: true})
}

func (t *rawTransport) printPDF(ctx context.Context, id target.ID) ([]byte, error) {
	return t.data(ctx, id, "Page.printToPDF", struct {
		PrintBackground bool `json:"printBackground"`
	}{PrintBackground: true})
}

func (t *rawTransport) setViewport(ctx context.Context, id target.ID, width, height int) error {
	return t.on(ctx, id, "Emulation.setDeviceMetricsOverride", struct {
		Width             int     `json:"width"`
		Height            int     `json:"height"`
		DeviceScaleFactor float64 `json:"deviceScaleFactor"`
		Mobile            bool    `json:"mobile"`
	}{Width: width, Height: height}, nil)
}

type wireCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	URL      string  `json:"url,omitempty"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
}

func (t *rawTransport) cookies(ctx context.Context, id target.ID) ([]session.Cookie, error) {
	var res struct {
		Cookies []wireCookie `json:"cookies"`
	}
	if err := t.on(ctx, id, "Network.getCookies", nil, &res); err != nil {
		return nil, err
	}
	out := make([]session.Cookie, 0, len(res.Cookies))
	for _, c := range res.Cookies {
		out = append(out, session.Cookie{
			Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
			Expires: fromEpoch(c.Expires), Secure: c.Secure, HTTPOnly: c.HTTPOnly,
		})
	}
	return out, nil
}

func (t *rawTransport) setCookie(ctx context.Context, id target.ID, c session.Cookie, url string) error {
	w := wireCookie{
		Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
		Expires: toEpoch(c.Expires), Secure: c.Secure, HTTPOnly: c.HTTPOnly,
	}
	if c.Domain == "" {
		w.URL = url
	}
	return t.on(ctx, id, "Network.setCookie", w, nil)
}

func (t *rawTransport) deleteCookie(ctx context.Context, id target.ID, name, url string) error {
	return t.on(ctx, id, "Network.deleteCookies", struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}{Name: name, URL: url}, nil)
}

func (t *rawTransport) clearCookies(ctx context.Context, id target.ID) error {
	return t.on(ctx, id, "Network.clearBrowserCookies", nil, nil)
}

func (t *rawTransport) mouse(ctx context.Context, id target.ID, typ input.MouseType, x, y float64, button input.MouseButton) error {
	clicks := 0
	if typ != input.MouseMoved {
		clicks = 1
	}
	return t.on(ctx, id, "Input.dispatchMouseEvent", struct {
		Type       string  `json:"type"`
		X          float64 `json:"x"`
		Y          float64 `json:"y"`
		Button     string  `json:"button"`
		ClickCount int     `json:"clickCount"`
	}{Type: string(typ), X: x, Y: y, Button: string(button), ClickCount: clicks}, nil)
}

func (t *rawTransport) key(ctx context.Context, id target.ID, typ input.KeyType, key string) error {
	return t.on(ctx, id, "Input.dispatchKeyEvent", struct {
		Type string `json:"type"`
		Key  string `json:"key"`
	}{Type: string(typ), Key: key}, nil)
}

func (t *rawTransport) insertText(ctx context.Context, id target.ID, text string) error {
	return t.on(ctx, id, "Input.insertText", struct {
		Text string `json:"text"`
	}{Text: text}, nil)
}

func (t *rawTransport) close(context.Context) error {
	err := t.c.close()
	if t.onClose != nil {
		err = errors.Join(err, t.onClose())
	}
	return err
}
