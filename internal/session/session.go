// Package session defines the remote-controllable browser capability the
// harness drives and the tab multiplexer that shares one browser between
// several logical sessions.
package session

import (
	"context"
	"time"
)

// By names an element location strategy.
type By string

const (
	ByCSS             By = "css selector"
	ByID              By = "id"
	ByXPath           By = "xpath"
	ByTagName         By = "tag name"
	ByClassName       By = "class name"
	ByName            By = "name"
	ByLinkText        By = "link text"
	ByPartialLinkText By = "partial link text"
	ByTestID          By = "test id"
)

// Selector locates elements in the current document.
type Selector struct {
	By    By
	Value string
}

func CSS(v string) Selector    { return Selector{By: ByCSS, Value: v} }
func ID(v string) Selector     { return Selector{By: ByID, Value: v} }
func XPath(v string) Selector  { return Selector{By: ByXPath, Value: v} }
func TestID(v string) Selector { return Selector{By: ByTestID, Value: v} }

func (s Selector) String() string { return string(s.By) + "=" + s.Value }

// Cookie is a browser cookie.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

// Timeouts configures how long the browser waits for pages, scripts and
// element lookups. Zero fields are left unchanged.
type Timeouts struct {
	PageLoad time.Duration
	Script   time.Duration
	Implicit time.Duration
}

// ActionKind is one step of an input sequence.
type ActionKind string

const (
	ActionPointerMove ActionKind = "pointerMove"
	ActionPointerDown ActionKind = "pointerDown"
	ActionPointerUp   ActionKind = "pointerUp"
	ActionKeyDown     ActionKind = "keyDown"
	ActionKeyUp       ActionKind = "keyUp"
	ActionText        ActionKind = "text"
	ActionPause       ActionKind = "pause"
)

// Action is a low level input event.
type Action struct {
	Kind     ActionKind
	X, Y     float64
	Button   string
	Key      string
	Text     string
	Duration time.Duration
}

// Element is a handle to a node found in the current document.
type Element interface {
	Click(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	Displayed(ctx context.Context) (bool, error)
	SendKeys(ctx context.Context, text string) error
}

// Session is one remote-controllable browser. Window handles identify the
// browser's top level windows (tabs); most operations act on the window
// selected with SwitchToWindow.
type Session interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// ExecuteScript runs a function body in the page. The body may use
	// arguments[i] and return a JSON-compatible value; promises are awaited.
	ExecuteScript(ctx context.Context, script string, args ...any) (any, error)
	FindElement(ctx context.Context, sel Selector) (Element, error)
	FindElements(ctx context.Context, sel Selector) ([]Element, error)
	Title(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) (string, error)
	PageSource(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)

	Cookies(ctx context.Context) ([]Cookie, error)
	AddCookie(ctx context.Context, c Cookie) error
	DeleteCookie(ctx context.Context, name string) error
	DeleteAllCookies(ctx context.Context) error
	SetTimeouts(ctx context.Context, t Timeouts) error
	Perform(ctx context.Context, actions []Action) error
	ResetInput(ctx context.Context) error

	WindowHandles(ctx context.Context) ([]string, error)
	WindowHandle(ctx context.Context) (string, error)
	OpenWindow(ctx context.Context) error
	SwitchToWindow(ctx context.Context, handle string) error
	// SwitchToFrame selects an iframe by id or name; "" returns to the top
	// level document.
	SwitchToFrame(ctx context.Context, id string) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	PrintPage(ctx context.Context) ([]byte, error)
	SetWindowSize(ctx context.Context, width, height int) error

	// Close closes the current window.
	Close(ctx context.Context) error
	// Quit ends the whole session.
	Quit(ctx context.Context) error
}
