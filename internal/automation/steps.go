package automation

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/roelfdiedericks/wabridge/internal/browser"
	. "github.com/roelfdiedericks/wabridge/internal/logging"
)

// diagnosticsTimeout bounds diagnostics collection after step 2 gave up.
const diagnosticsTimeout = 5 * time.Second

// searchInputSelectors find the country search field of an open combo popover,
// most specific first. The popover is usually portaled outside the dialog.
var searchInputSelectors = []string{
	`input[type="search"][aria-controls]`,
	`input[aria-autocomplete][aria-controls]`,
	`input[aria-controls]`,
}

// phoneFallbackSelector matches text-like inputs when no tel input is visible.
const phoneFallbackSelector = `input:not([type="hidden"]):not([type="checkbox"]):not([type="radio"]):not([type="submit"]):not([type="button"])`

var sendLabel = regexp.MustCompile(`^Send [Mm]essage$`)

// run carries the state of one Send across its steps.
type run struct {
	engine *Engine
	page   browser.Page
	req    Request
}

func (r *run) poll() time.Duration { return r.engine.timeouts.Poll }

// scope returns the most recently opened visible dialog, or the whole page.
func (r *run) scope(ctx context.Context) (Scope, error) {
	dialogs, err := visible(ctx, Scope{Page: r.page}, dialogSelector)
	if err != nil {
		return Scope{}, err
	}
	if len(dialogs) == 0 {
		return Scope{Page: r.page}, nil
	}
	return Scope{Page: r.page, Root: dialogs[len(dialogs)-1]}, nil
}

// resolveIn polls chain against the current scope until it finds an element.
func (r *run) resolveIn(ctx context.Context, chain Chain, what string) (browser.Element, string, error) {
	type hit struct {
		el       browser.Element
		strategy string
	}
	h, err := poll(ctx, r.poll(), what, func(ctx context.Context) (hit, bool, error) {
		s, err := r.scope(ctx)
		if err != nil {
			return hit{}, false, err
		}
		el, name, err := chain.Resolve(ctx, s)
		if err != nil || el == nil {
			return hit{}, false, err
		}
		return hit{el, name}, true, nil
	})
	return h.el, h.strategy, err
}

// first polls until fn returns a non-nil element.
func (r *run) first(ctx context.Context, what string, fn func(ctx context.Context, s Scope) (browser.Element, error)) (browser.Element, error) {
	return poll(ctx, r.poll(), what, func(ctx context.Context) (browser.Element, bool, error) {
		s, err := r.scope(ctx)
		if err != nil {
			return nil, false, err
		}
		el, err := fn(ctx, s)
		return el, el != nil && err == nil, err
	})
}

func (r *run) openCompose(ctx context.Context) error {
	el, strategy, err := r.resolveIn(ctx, r.engine.compose, "compose button")
	if err != nil {
		return fail(err, "compose button not found")
	}
	L_debug("automation: compose button found", "strategy", strategy)
	if err := r.engine.click(ctx, r.page, el); err != nil {
		return fail(err, "could not click compose button")
	}
	_, err = r.first(ctx, "compose dialog", func(ctx context.Context, s Scope) (browser.Element, error) {
		if s.Root == nil {
			return nil, nil
		}
		return s.Root, nil
	})
	if err != nil {
		return fail(err, "compose dialog did not open")
	}
	return nil
}

func (r *run) selectNewConversation(ctx context.Context) error {
	el, strategy, err := r.resolveIn(ctx, r.engine.newConversation, "new conversation control")
	if err != nil {
		se := fail(err, "new WhatsApp conversation control not found")
		if !browser.IsClosed(err) {
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), diagnosticsTimeout)
			se.Diagnostics = collectDiagnostics(dctx, r.page, r.engine.newConversation)
			cancel()
		}
		return se
	}
	L_debug("automation: new conversation control found", "strategy", strategy)
	if err := r.engine.click(ctx, r.page, el); err != nil {
		return fail(err, "could not click new conversation control")
	}
	return nil
}

func (r *run) chooseCountryCode(ctx context.Context) error {
	ext := digits(r.req.Extension)

	combo, err := r.first(ctx, "country code combo", func(ctx context.Context, s Scope) (browser.Element, error) {
		return byText(comboSelector, func(text string) bool { return strings.Contains(text, "+") })(ctx, s)
	})
	if err != nil {
		return fail(err, "country code selector not found")
	}
	// clicking an open combo would close it again
	expanded, _, err := combo.Attribute(ctx, "aria-expanded")
	if err != nil {
		return fail(err, "could not read country code selector state")
	}
	if expanded != "true" {
		if err := r.engine.click(ctx, r.page, combo); err != nil {
			return fail(err, "could not open country code selector")
		}
	}

	search, err := poll(ctx, r.poll(), "country search input", func(ctx context.Context) (browser.Element, bool, error) {
		el, err := byMarker(searchInputSelectors...)(ctx, Scope{Page: r.page})
		return el, el != nil && err == nil, err
	})
	if err != nil {
		return fail(err, "country search input not found")
	}
	if err := search.Clear(ctx); err != nil {
		return fail(err, "could not clear country search")
	}
	if err := search.Type(ctx, ext); err != nil {
		return fail(err, "could not type country code")
	}
	listID, _, err := search.Attribute(ctx, "aria-controls")
	if err != nil {
		return fail(err, "could not read country list id")
	}

	option, err := poll(ctx, r.poll(), "country option", func(ctx context.Context) (browser.Element, bool, error) {
		lists, err := visible(ctx, Scope{Page: r.page}, attrSelector("id", listID))
		if err != nil || len(lists) == 0 {
			return nil, false, err
		}
		list := Scope{Page: r.page, Root: lists[0]}
		el, err := byTextContaining(`[role="option"]`, "+"+ext)(ctx, list)
		if err != nil || el != nil {
			return el, el != nil, err
		}
		el, err = byTextContaining(`[role="option"]`, "+")(ctx, list)
		return el, el != nil, err
	})
	if err != nil {
		return fail(err, "no country option for +%s", ext)
	}
	if err := r.engine.click(ctx, r.page, option); err != nil {
		return fail(err, "could not select country option")
	}

	_, err = poll(ctx, r.poll(), "country code applied", func(ctx context.Context) (struct{}, bool, error) {
		text, err := combo.Text(ctx)
		return struct{}{}, err == nil && strings.Contains(text, "+"+ext), err
	})
	if err != nil {
		return fail(err, "country code +%s not applied", ext)
	}
	return nil
}

func (r *run) fillPhoneNumber(ctx context.Context) error {
	input, err := r.first(ctx, "phone number input", func(ctx context.Context, s Scope) (browser.Element, error) {
		if el, err := byMarker(`input[type="tel"]`)(ctx, s); err != nil || el != nil {
			return el, err
		}
		els, err := visible(ctx, Scope{Page: r.page}, phoneFallbackSelector)
		if err != nil || len(els) == 0 {
			return nil, err
		}
		// the phone field follows the country combo, so the last input wins
		return els[len(els)-1], nil
	})
	if err != nil {
		return fail(err, "phone number input not found")
	}
	if err := input.SetValue(ctx, digits(r.req.PhoneNumber)); err != nil {
		return fail(err, "could not fill phone number")
	}
	return nil
}

func (r *run) fillMessage(ctx context.Context) error {
	type field struct {
		el       browser.Element
		editable bool
	}
	f, err := poll(ctx, r.poll(), "message input", func(ctx context.Context) (field, bool, error) {
		s, err := r.scope(ctx)
		if err != nil {
			return field{}, false, err
		}
		if el, err := byMarker("textarea")(ctx, s); err != nil || el != nil {
			return field{el: el}, el != nil, err
		}
		el, err := byMarker(`[contenteditable="true"]`)(ctx, s)
		return field{el: el, editable: true}, el != nil, err
	})
	if err != nil {
		return fail(err, "message input not found")
	}
	if f.editable {
		err = f.el.SetContent(ctx, r.req.Message)
	} else {
		err = f.el.SetValue(ctx, r.req.Message)
	}
	if err != nil {
		return fail(err, "could not fill message")
	}
	return nil
}

func (r *run) submit(ctx context.Context) error {
	matchSend := func(text string) bool { return sendLabel.MatchString(normalize(text)) }

	btn, err := r.first(ctx, "send button", func(ctx context.Context, s Scope) (browser.Element, error) {
		if el, err := byRawText(clickableSelector, matchSend)(ctx, s); err != nil || el != nil {
			return el, err
		}
		label, err := byRawText("span, div", matchSend)(ctx, s)
		if err != nil || label == nil {
			return nil, err
		}
		clickable, err := label.Closest(ctx, clickableSelector)
		if err != nil {
			return nil, err
		}
		if clickable != nil {
			return clickable, nil
		}
		return label, nil
	})
	if err != nil {
		return fail(err, "send button not found")
	}
	if err := r.engine.click(ctx, r.page, btn); err != nil {
		return fail(err, "could not click send button")
	}
	return nil
}

// byRawText is byText without lower-casing, for labels whose case matters.
func byRawText(selector string, match func(text string) bool) func(context.Context, Scope) (browser.Element, error) {
	return func(ctx context.Context, s Scope) (browser.Element, error) {
		els, err := visible(ctx, s, selector)
		if err != nil {
			return nil, err
		}
		for _, el := range els {
			text, err := el.Text(ctx)
			if err != nil {
				if browser.IsClosed(err) {
					return nil, err
				}
				continue
			}
			if match(text) {
				return el, nil
			}
		}
		return nil, nil
	}
}
