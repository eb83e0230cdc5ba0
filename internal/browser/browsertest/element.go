package browsertest

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/roelfdiedericks/wabridge/internal/browser"
)

// Element is one node of a fake Page.
type Element struct {
	page *Page
	sel  *goquery.Selection
}

var errDispatch = errors.New("browsertest: synthetic dispatch failed")

func (e *Element) lock(ctx context.Context) (func(), error) {
	e.page.mu.Lock()
	if err := e.page.check(ctx); err != nil {
		e.page.mu.Unlock()
		return nil, err
	}
	return e.page.mu.Unlock, nil
}

func (e *Element) Query(ctx context.Context, selector string) ([]browser.Element, error) {
	unlock, err := e.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.page.wrap(e.sel.Find(selector)), nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	unlock, err := e.lock(ctx)
	if err != nil {
		return "", err
	}
	defer unlock()
	return normalize(e.sel.Text()), nil
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	unlock, err := e.lock(ctx)
	if err != nil {
		return "", false, err
	}
	defer unlock()
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

// Visible treats the hidden attribute and inline display:none or
// visibility:hidden on the node or any ancestor as invisible.
func (e *Element) Visible(ctx context.Context) (bool, error) {
	unlock, err := e.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()
	if e.sel.Closest("html").Length() == 0 {
		return false, nil // detached
	}
	for s := e.sel; s.Length() > 0; s = s.Parent() {
		if _, hidden := s.Attr("hidden"); hidden {
			return false, nil
		}
		style, _ := s.Attr("style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false, nil
		}
	}
	return true, nil
}

func (e *Element) Matches(ctx context.Context, selector string) (bool, error) {
	unlock, err := e.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()
	return e.sel.Is(selector), nil
}

func (e *Element) Closest(ctx context.Context, selector string) (browser.Element, error) {
	unlock, err := e.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	c := e.sel.Closest(selector)
	if c.Length() == 0 {
		return nil, nil
	}
	return &Element{page: e.page, sel: c}, nil
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	unlock()
	return nil
}

func (e *Element) DispatchClick(ctx context.Context) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if e.page.failDispatch {
		return errDispatch
	}
	e.page.click("dispatch", e.sel)
	return nil
}

func (e *Element) ForceClick(ctx context.Context) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	e.page.click("force", e.sel)
	return nil
}

func (e *Element) Click(ctx context.Context) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	e.page.click("click", e.sel)
	return nil
}

func (e *Element) Clear(ctx context.Context) error {
	return e.SetValue(ctx, "")
}

func (e *Element) Type(ctx context.Context, text string) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	v, _ := e.sel.Attr("value")
	v += text
	e.sel.SetAttr("value", v)
	e.page.input(e.sel, v)
	return nil
}

func (e *Element) SetValue(ctx context.Context, value string) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if e.sel.Is("textarea") {
		e.sel.SetText(value)
	}
	e.sel.SetAttr("value", value)
	e.page.input(e.sel, value)
	return nil
}

func (e *Element) SetContent(ctx context.Context, text string) error {
	unlock, err := e.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	e.sel.SetText(text)
	e.page.input(e.sel, text)
	return nil
}

func (e *Element) Describe(ctx context.Context) (string, error) {
	unlock, err := e.lock(ctx)
	if err != nil {
		return "", err
	}
	defer unlock()
	return describe(e.sel), nil
}

// Value returns the current value attribute (or text for textareas).
func (e *Element) Value() string {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if e.sel.Is("textarea") {
		return e.sel.Text()
	}
	v, _ := e.sel.Attr("value")
	return v
}

func describe(s *goquery.Selection) string {
	out := goquery.NodeName(s)
	if role, ok := s.Attr("role"); ok {
		out += "[role=" + role + "]"
	}
	if label, ok := s.Attr("aria-label"); ok {
		out += "[aria-label=" + label + "]"
	}
	if text := normalize(s.Text()); text != "" {
		out += ` "` + truncate(text, 60) + `"`
	}
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var _ browser.Element = (*Element)(nil)

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
