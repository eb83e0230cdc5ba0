package browser

import (
	"context"
	"errors"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// rodPage adapts a *rod.Page to Page. Every rod error passes through Classify.
type rodPage struct {
	page *rod.Page
}

// WrapPage exposes a rod page through the Page interface.
func WrapPage(p *rod.Page) Page {
	return &rodPage{page: p}
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return Classify(err)
	}
	return Classify(pg.WaitLoad())
}

func (p *rodPage) Reload(ctx context.Context) error {
	pg := p.page.Context(ctx)
	if err := pg.Reload(); err != nil {
		return Classify(err)
	}
	return Classify(pg.WaitLoad())
}

func (p *rodPage) WaitIdle(ctx context.Context, d time.Duration) error {
	return Classify(p.page.Context(ctx).WaitStable(d))
}

func (p *rodPage) Info(ctx context.Context) (PageInfo, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return PageInfo{}, Classify(err)
	}
	return PageInfo{Title: info.Title, URL: info.URL}, nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	return html, Classify(err)
}

func (p *rodPage) Query(ctx context.Context, selector string) ([]Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, Classify(err)
	}
	return wrapElements(els), nil
}

const hideOverlaysJS = `() => {
	const dialogs = Array.from(document.querySelectorAll('[role="dialog"], [aria-modal="true"]'));
	let hidden = 0;
	for (const el of document.querySelectorAll('body *')) {
		const style = getComputedStyle(el);
		if (style.position !== 'fixed' && style.position !== 'absolute') continue;
		if (dialogs.some(d => d === el || d.contains(el) || el.contains(d))) continue;
		const r = el.getBoundingClientRect();
		if (r.width < window.innerWidth * 0.5 || r.height < window.innerHeight * 0.5) continue;
		el.style.pointerEvents = 'none';
		hidden++;
	}
	return hidden;
}`

func (p *rodPage) HideOverlays(ctx context.Context) error {
	_, err := p.page.Context(ctx).Eval(hideOverlaysJS)
	return Classify(err)
}

func (p *rodPage) MouseMove(ctx context.Context, x, y float64) error {
	return Classify(proto.InputDispatchMouseEvent{
		Type: proto.InputDispatchMouseEventTypeMouseMoved,
		X:    x,
		Y:    y,
	}.Call(p.page.Context(ctx)))
}

func (p *rodPage) Scroll(ctx context.Context, dx, dy float64) error {
	return Classify(proto.InputDispatchMouseEvent{
		Type:   proto.InputDispatchMouseEventTypeMouseWheel,
		X:      100,
		Y:      100,
		DeltaX: dx,
		DeltaY: dy,
	}.Call(p.page.Context(ctx)))
}

// rodElement adapts a *rod.Element to Element.
type rodElement struct {
	el *rod.Element
}

func wrapElements(els rod.Elements) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out
}

func (e *rodElement) Query(ctx context.Context, selector string) ([]Element, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, Classify(err)
	}
	return wrapElements(els), nil
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	s, err := e.el.Context(ctx).Text()
	return s, Classify(err)
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, Classify(err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) Visible(ctx context.Context) (bool, error) {
	v, err := e.el.Context(ctx).Visible()
	return v, Classify(err)
}

func (e *rodElement) Matches(ctx context.Context, selector string) (bool, error) {
	ok, err := e.el.Context(ctx).Matches(selector)
	return ok, Classify(err)
}

func (e *rodElement) Closest(ctx context.Context, selector string) (Element, error) {
	el, err := e.el.Context(ctx).ElementByJS(rod.Eval(`(s) => this.closest(s)`, selector))
	if err != nil {
		var notFound *rod.ElementNotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, Classify(err)
	}
	return &rodElement{el: el}, nil
}

func (e *rodElement) ScrollIntoView(ctx context.Context) error {
	return Classify(e.el.Context(ctx).ScrollIntoView())
}

const dispatchClickJS = `() => {
	const opts = {bubbles: true, cancelable: true, view: window, button: 0};
	this.dispatchEvent(new MouseEvent('mousedown', opts));
	this.dispatchEvent(new MouseEvent('mouseup', opts));
	this.dispatchEvent(new MouseEvent('click', opts));
}`

func (e *rodElement) DispatchClick(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(dispatchClickJS)
	return Classify(err)
}

func (e *rodElement) ForceClick(ctx context.Context) error {
	el := e.el.Context(ctx)
	shape, err := el.Shape()
	if err != nil {
		return Classify(err)
	}
	box := shape.Box()
	if box == nil {
		return errors.New("browser: element has no box")
	}
	x, y := box.X+box.Width/2, box.Y+box.Height/2

	page := el.Page().Context(ctx)
	for _, ev := range []proto.InputDispatchMouseEvent{
		{Type: proto.InputDispatchMouseEventTypeMouseMoved, X: x, Y: y},
		{Type: proto.InputDispatchMouseEventTypeMousePressed, X: x, Y: y, Button: proto.InputMouseButtonLeft, ClickCount: 1},
		{Type: proto.InputDispatchMouseEventTypeMouseReleased, X: x, Y: y, Button: proto.InputMouseButtonLeft, ClickCount: 1},
	} {
		if err := ev.Call(page); err != nil {
			return Classify(err)
		}
	}
	return nil
}

func (e *rodElement) Click(ctx context.Context) error {
	return Classify(e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1))
}

func (e *rodElement) Clear(ctx context.Context) error {
	return e.SetValue(ctx, "")
}

func (e *rodElement) Type(ctx context.Context, text string) error {
	return Classify(e.el.Context(ctx).Input(text))
}

// setValueJS goes through the prototype's value setter so frameworks that track the
// last value (React) notice the change.
const setValueJS = `(value) => {
	const proto = this instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype
		: this instanceof HTMLSelectElement ? HTMLSelectElement.prototype
		: HTMLInputElement.prototype;
	const setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
	this.focus();
	setter.call(this, value);
	this.dispatchEvent(new Event('input', {bubbles: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
}`

func (e *rodElement) SetValue(ctx context.Context, value string) error {
	_, err := e.el.Context(ctx).Eval(setValueJS, value)
	return Classify(err)
}

const setContentJS = `(text) => {
	this.focus();
	this.textContent = text;
	this.dispatchEvent(new InputEvent('input', {bubbles: true, data: text, inputType: 'insertText'}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
}`

func (e *rodElement) SetContent(ctx context.Context, text string) error {
	_, err := e.el.Context(ctx).Eval(setContentJS, text)
	return Classify(err)
}

const describeJS = `() => {
	const tag = this.tagName.toLowerCase();
	const role = this.getAttribute('role');
	const label = this.getAttribute('aria-label');
	const text = (this.innerText || '').trim().replace(/\s+/g, ' ').slice(0, 60);
	let s = tag;
	if (role) s += '[role=' + role + ']';
	if (label) s += '[aria-label=' + label + ']';
	if (text) s += ' "' + text + '"';
	return s;
}`

func (e *rodElement) Describe(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(describeJS)
	if err != nil {
		return "", Classify(err)
	}
	return res.Value.Str(), nil
}
