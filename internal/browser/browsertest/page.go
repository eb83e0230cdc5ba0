// Package browsertest provides an in-memory browser.Page over a goquery document.
// Click and input handlers registered by CSS selector script how the page reacts,
// which is enough to replay a remote UI without launching Chromium.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/roelfdiedericks/wabridge/internal/browser"
)

var errTargetClosed = errors.New("Target closed")

// ClickFunc mutates doc in response to a click on el.
type ClickFunc func(doc *goquery.Document, el *goquery.Selection)

// InputFunc mutates doc after el's value or content changed to value.
type InputFunc func(doc *goquery.Document, el *goquery.Selection, value string)

type clickHandler struct {
	selector string
	fn       ClickFunc
}

type inputHandler struct {
	selector string
	fn       InputFunc
}

// Page is a fake browser.Page. The zero value is not usable; use NewPage.
type Page struct {
	mu      sync.Mutex
	initial string
	doc     *goquery.Document
	url     string
	closed  bool

	clicks []clickHandler
	inputs []inputHandler

	failDispatch bool

	stats Stats
}

// Stats counts the calls a Page has served.
type Stats struct {
	Reloads      int
	MouseMoves   int
	Scrolls      int
	OverlayHides int
	Clicks       []string // "dispatch|force|click: <descriptor>"
}

// Stats returns a snapshot of the call counters.
func (p *Page) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Clicks = append([]string(nil), p.stats.Clicks...)
	return s
}

// NewPage builds a page from an HTML document. Reload restores this document.
func NewPage(html string) *Page {
	p := &Page{initial: html, url: "about:blank"}
	p.doc = mustParse(html)
	return p
}

func mustParse(html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		panic(fmt.Sprintf("browsertest: parse html: %v", err))
	}
	return doc
}

// OnClick registers fn for clicks that land on, or bubble through, an element matching selector.
func (p *Page) OnClick(selector string, fn ClickFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, clickHandler{selector: selector, fn: fn})
}

// OnInput registers fn for value changes of elements matching selector.
func (p *Page) OnInput(selector string, fn InputFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputs = append(p.inputs, inputHandler{selector: selector, fn: fn})
}

// FailDispatch makes DispatchClick fail so the click fallbacks run.
func (p *Page) FailDispatch(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failDispatch = fail
}

// Close makes every later call fail the way a crashed tab does.
func (p *Page) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Document runs fn with the live document under the page lock.
func (p *Page) Document(fn func(doc *goquery.Document)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.doc)
}

// check must be called with mu held.
func (p *Page) check(ctx context.Context) error {
	if p.closed {
		return browser.Classify(errTargetClosed)
	}
	return ctx.Err()
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	p.url = url
	p.doc = mustParse(p.initial)
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	p.stats.Reloads++
	p.doc = mustParse(p.initial)
	return nil
}

func (p *Page) WaitIdle(ctx context.Context, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.check(ctx)
}

func (p *Page) Info(ctx context.Context) (browser.PageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return browser.PageInfo{}, err
	}
	return browser.PageInfo{Title: strings.TrimSpace(p.doc.Find("title").First().Text()), URL: p.url}, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return "", err
	}
	return p.doc.Html()
}

func (p *Page) Query(ctx context.Context, selector string) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	return p.wrap(p.doc.Find(selector)), nil
}

func (p *Page) HideOverlays(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	p.stats.OverlayHides++
	return nil
}

func (p *Page) MouseMove(ctx context.Context, _, _ float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	p.stats.MouseMoves++
	return nil
}

func (p *Page) Scroll(ctx context.Context, _, _ float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	p.stats.Scrolls++
	return nil
}

func (p *Page) wrap(sel *goquery.Selection) []browser.Element {
	out := make([]browser.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Element{page: p, sel: s})
	})
	return out
}

// click runs every handler whose selector matches el or one of its ancestors. mu must be held.
func (p *Page) click(kind string, sel *goquery.Selection) {
	p.stats.Clicks = append(p.stats.Clicks, kind+": "+describe(sel))
	for _, h := range p.clicks {
		if sel.Closest(h.selector).Length() > 0 {
			h.fn(p.doc, sel)
		}
	}
}

func (p *Page) input(sel *goquery.Selection, value string) {
	for _, h := range p.inputs {
		if sel.Is(h.selector) {
			h.fn(p.doc, sel, value)
		}
	}
}

var _ browser.Page = (*Page)(nil)
