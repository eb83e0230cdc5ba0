// Package browser provides the browser-automation primitives wabridge drives:
// an isolated Chromium per session, its page, and the element operations the
// automation engine and activity simulator need. The rod-backed implementation
// lives alongside the interfaces; browsertest provides an in-memory one.
package browser

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// PageInfo describes the current document of a page.
type PageInfo struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Page is one live tab. Every call is a suspension point and may observe that
// the tab, its context or the browser process is gone (see IsClosed).
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	// WaitIdle waits until network and DOM have been quiet for d.
	WaitIdle(ctx context.Context, d time.Duration) error
	Info(ctx context.Context) (PageInfo, error)
	HTML(ctx context.Context) (string, error)
	// Query returns every element matching a CSS selector without waiting.
	Query(ctx context.Context, selector string) ([]Element, error)
	// HideOverlays disables pointer interception by fixed/absolute overlays
	// that sit outside any open dialog.
	HideOverlays(ctx context.Context) error
	MouseMove(ctx context.Context, x, y float64) error
	Scroll(ctx context.Context, dx, dy float64) error
}

// Element is a handle to one DOM node of a Page.
type Element interface {
	Query(ctx context.Context, selector string) ([]Element, error)
	// Text is the rendered (innerText-like) text of the element.
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, bool, error)
	Visible(ctx context.Context) (bool, error)
	Matches(ctx context.Context, selector string) (bool, error)
	// Closest returns the nearest inclusive ancestor matching selector, or nil.
	Closest(ctx context.Context, selector string) (Element, error)
	ScrollIntoView(ctx context.Context) error
	// DispatchClick fires synthetic mousedown/mouseup/click events on the node itself.
	DispatchClick(ctx context.Context) error
	// ForceClick clicks at the element's coordinates without actionability checks.
	ForceClick(ctx context.Context) error
	// Click is an ordinary input-level click that waits for the element to be interactable.
	Click(ctx context.Context) error
	Clear(ctx context.Context) error
	// Type enters text as keyboard input.
	Type(ctx context.Context, text string) error
	// SetValue assigns a form control's value through the native setter and fires
	// input and change events.
	SetValue(ctx context.Context, value string) error
	// SetContent replaces the text of an editable region and fires input and change events.
	SetContent(ctx context.Context, text string) error
	// Describe returns a short human-readable descriptor (tag, role, label, text).
	Describe(ctx context.Context) (string, error)
}

// Handles is the exclusively owned (process, context, page) triple of one session
// plus its profile storage.
type Handles interface {
	Page() Page
	ProfileDir() string
	// Release closes page, context and browser process in that order. Every step is
	// attempted; the errors of the failed ones are returned.
	Release(removeProfile bool) []error
}

// ErrClosed marks errors caused by a page, context or browser that is no longer reachable.
var ErrClosed = errors.New("browser: target closed")

type closedError struct {
	err error
}

func (e *closedError) Error() string        { return "browser: target closed: " + e.err.Error() }
func (e *closedError) Unwrap() error        { return e.err }
func (e *closedError) Is(target error) bool { return target == ErrClosed }

// closedMarkers are fragments of rod/CDP/transport errors that mean the target is gone.
var closedMarkers = []string{
	"target closed",
	"session with given id not found",
	"no target with given id",
	"browser has disconnected",
	"websocket: close",
	"use of closed network connection",
	"connection reset by peer",
	"broken pipe",
	"cdp connection closed",
	"page has been closed",
	"target page, context or browser has been closed",
}

// IsClosed reports whether err indicates the browser, context or page is no longer reachable.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range closedMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Classify wraps closed-resource errors so callers can test them with errors.Is(err, ErrClosed).
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrClosed) {
		return err
	}
	if IsClosed(err) {
		return &closedError{err: err}
	}
	return err
}
