// File: internal/browser/page.go
// Package browser owns the per-request headless Chrome instances and exposes
// the small set of page primitives the table pipeline needs.
package browser

import (
	"context"
	"errors"
	"time"

	"github.com/chromedp/chromedp/kb"
)

var (
	// ErrSessionClosed means the browser behind a session is gone, either
	// because it was released or because the process died.
	ErrSessionClosed = errors.New("browser session closed")
	// ErrLaunch wraps every failure to bring up a browser.
	ErrLaunch = errors.New("browser launch failed")
)

// IsSessionError reports whether err means the session can no longer be used.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrSessionClosed)
}

// KeyEscape is the key Page.PressKey sends to dismiss overlays.
const KeyEscape = kb.Escape

// Element is a snapshot of one DOM node taken by Page.Query. Ref is a CSS
// selector that addresses exactly that node for later actions; it stays
// valid until the node is removed from the document.
type Element struct {
	Ref      string  `json:"ref"`
	Tag      string  `json:"tag"`
	Type     string  `json:"type"`
	Text     string  `json:"text"`
	Title    string  `json:"title"`
	Src      string  `json:"src"`
	Visible  bool    `json:"visible"`
	Enabled  bool    `json:"enabled"`
	Editable bool    `json:"editable"` // textarea, input or contenteditable
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

// Page is the surface the pipeline drives. Every method returns an error
// wrapping ErrSessionClosed when the browser is gone and the caller's context
// error when ctx ends first; any other error is local to that one action.
type Page interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)

	// Query returns the nodes matching selector in document order. A selector
	// that matches nothing or does not parse yields (nil, nil).
	Query(ctx context.Context, selector string) ([]Element, error)

	Click(ctx context.Context, ref string) error
	PressKey(ctx context.Context, key string) error

	// ReplaceText discards whatever the field holds and writes text in its place.
	ReplaceText(ctx context.Context, ref, text string) error
	ReadText(ctx context.Context, ref string) (string, error)

	SetFiles(ctx context.Context, ref string, paths []string) error
	// SelectOption picks the option whose visible label equals label and
	// reports whether one was found.
	SelectOption(ctx context.Context, ref, label string) (bool, error)

	// AcceptDialog waits up to wait for a JavaScript dialog and returns its
	// message. Dialogs are always accepted as they open so they never block
	// the page; this only observes them.
	AcceptDialog(ctx context.Context, wait time.Duration) (string, bool, error)

	CaptureElement(ctx context.Context, ref string) ([]byte, error)
	CaptureViewport(ctx context.Context) ([]byte, error)
}
