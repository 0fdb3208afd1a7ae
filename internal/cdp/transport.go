// Package cdp implements session.Session over the Chrome DevTools Protocol.
// Window handles are page target ids. Two transports are available: a
// minimal flat-session websocket client and chromedp.
package cdp

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/meet_torture/internal/session"
)

// transport is the protocol surface Session needs from a backend. Every
// page-level call names the target it acts on; no call depends on a
// "current" page.
type transport interface {
	pages(ctx context.Context) ([]target.ID, error)
	createPage(ctx context.Context) (target.ID, error)
	closePage(ctx context.Context, id target.ID) error
	activate(ctx context.Context, id target.ID) error

	navigate(ctx context.Context, id target.ID, url string) error
	// evaluate runs expr with promises awaited and returns its JSON value.
	evaluate(ctx context.Context, id target.ID, expr string) (json.RawMessage, error)
	history(ctx context.Context, id target.ID, delta int) error
	screenshot(ctx context.Context, id target.ID) ([]byte, error)
	printPDF(ctx context.Context, id target.ID) ([]byte, error)
	setViewport(ctx context.Context, id target.ID, width, height int) error

	cookies(ctx context.Context, id target.ID) ([]session.Cookie, error)
	setCookie(ctx context.Context, id target.ID, c session.Cookie, url string) error
	deleteCookie(ctx context.Context, id target.ID, name, url string) error
	clearCookies(ctx context.Context, id target.ID) error

	mouse(ctx context.Context, id target.ID, typ input.MouseType, x, y float64, button input.MouseButton) error
	key(ctx context.Context, id target.ID, typ input.KeyType, key string) error
	insertText(ctx context.Context, id target.ID, text string) error

	// close ends the browser connection and anything the transport owns.
	close(ctx context.Context) error
}

// fromEpoch converts CDP cookie expiry seconds; session cookies report -1.
func fromEpoch(sec float64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

func toEpoch(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
