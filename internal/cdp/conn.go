package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// conn is a flat-session CDP client over a single browser websocket. It
// skips the auto-attach and domain setup a full client performs and only
// sends what the caller asks for.
type conn struct {
	httpBase string // e.g. "http://127.0.0.1:9222"

	mu  sync.Mutex
	ws  net.Conn
	seq atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan json.RawMessage

	eventMu  sync.RWMutex
	handlers map[string][]func(sessionID string, params json.RawMessage)
}

// cdpError is an error reply to a command.
type cdpError struct {
	Method  string
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *cdpError) Error() string {
	return fmt.Sprintf("cdp: %s: %s (%d)", e.Method, e.Message, e.Code)
}

func newConn(httpBase string) *conn {
	return &conn{
		httpBase: strings.TrimRight(httpBase, "/"),
		pending:  make(map[int64]chan json.RawMessage),
		handlers: make(map[string][]func(string, json.RawMessage)),
	}
}

// dial connects to the browser websocket advertised by /json/version.
func (c *conn) dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		return nil
	}

	wsURL, err := c.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("cdp: browser ws url: %w", err)
	}
	slog.Debug("cdp connecting", "ws_url", wsURL)
	nc, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("cdp: dial: %w", err)
	}
	c.ws = nc
	go c.readLoop(nc)
	return nil
}

func (c *conn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return nil
	}
	err := c.ws.Close()
	c.ws = nil
	return err
}

func (c *conn) readLoop(nc net.Conn) {
	for {
		data, err := wsutil.ReadServerText(nc)
		if err != nil {
			slog.Debug("cdp read loop exit", "error", err)
			c.failPending()
			return
		}

		var msg struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		switch {
		case msg.ID > 0:
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.pendingMu.Unlock()
			if ok {
				ch <- data
			}
		case msg.Method != "":
			c.dispatch(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

func (c *conn) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *conn) forget(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// call sends method on sessionID ("" for the browser session) and decodes
// the result into out when out is non-nil.
func (c *conn) call(ctx context.Context, sessionID, method string, params, out any) error {
	c.mu.Lock()
	nc := c.ws
	c.mu.Unlock()
	if nc == nil {
		return fmt.Errorf("cdp: %s: not connected", method)
	}

	id := c.seq.Add(1)
	data, err := json.Marshal(struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params})
	if err != nil {
		return fmt.Errorf("cdp: marshal %s: %w", method, err)
	}

	ch := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	c.mu.Lock()
	err = wsutil.WriteClientText(nc, data)
	c.mu.Unlock()
	if err != nil {
		c.forget(id)
		return fmt.Errorf("cdp: send %s: %w", method, err)
	}

	var resp json.RawMessage
	select {
	case r, ok := <-ch:
		if !ok {
			return fmt.Errorf("cdp: %s: connection closed", method)
		}
		resp = r
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *cdpError       `json:"error"`
	}
	if err := json.Unmarshal(resp, &envelope); err != nil {
		return fmt.Errorf("cdp: decode %s: %w", method, err)
	}
	if envelope.Error != nil {
		envelope.Error.Method = method
		return envelope.Error
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("cdp: decode %s result: %w", method, err)
	}
	return nil
}

// on registers fn for an event method.
func (c *conn) on(method string, fn func(sessionID string, params json.RawMessage)) {
	c.eventMu.Lock()
	c.handlers[method] = append(c.handlers[method], fn)
	c.eventMu.Unlock()
}

func (c *conn) dispatch(method, sessionID string, params json.RawMessage) {
	c.eventMu.RLock()
	fns := append([]func(string, json.RawMessage){}, c.handlers[method]...)
	c.eventMu.RUnlock()
	for _, fn := range fns {
		fn(sessionID, params)
	}
}

// targets lists open targets via /json/list.
func (c *conn) targets(ctx context.Context) ([]*target.Info, error) {
	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := c.getJSON(ctx, "/json/list", &entries); err != nil {
		return nil, err
	}
	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{TargetID: target.ID(e.ID), Type: e.Type, Title: e.Title, URL: e.URL})
	}
	return out, nil
}

func (c *conn) browserWSURL(ctx context.Context) (string, error) {
	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := c.getJSON(ctx, "/json/version", &info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("cdp: empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}

func (c *conn) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.httpBase+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cdp: %s: HTTP %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
