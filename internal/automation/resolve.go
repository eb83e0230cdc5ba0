package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roelfdiedericks/wabridge/internal/browser"
)

// Scope is where a lookup runs: inside Root when set, otherwise the whole page.
type Scope struct {
	Page browser.Page
	Root browser.Element
}

// Query runs selector within the scope.
func (s Scope) Query(ctx context.Context, selector string) ([]browser.Element, error) {
	if s.Root != nil {
		return s.Root.Query(ctx, selector)
	}
	return s.Page.Query(ctx, selector)
}

// Resolver is one element-lookup strategy. Find returns nil when nothing matches.
type Resolver struct {
	Name string
	Find func(ctx context.Context, s Scope) (browser.Element, error)
}

// Chain is an ordered list of strategies of decreasing specificity.
type Chain []Resolver

// Names lists the strategy names in order.
func (c Chain) Names() []string {
	out := make([]string, len(c))
	for i, r := range c {
		out[i] = r.Name
	}
	return out
}

// Resolve tries each strategy in order and returns the first hit with the name of
// the strategy that found it. A closed-browser error stops the chain; other
// strategy errors are skipped and the last one is returned if nothing matched.
func (c Chain) Resolve(ctx context.Context, s Scope) (browser.Element, string, error) {
	var last error
	for _, r := range c {
		el, err := r.Find(ctx, s)
		if err != nil {
			if browser.IsClosed(err) {
				return nil, "", err
			}
			last = err
			continue
		}
		if el != nil {
			return el, r.Name, nil
		}
	}
	return nil, "", last
}

// poll calls fn every interval until it reports ok, returns a closed-browser
// error, or ctx ends.
func poll[T any](ctx context.Context, interval time.Duration, what string, fn func(ctx context.Context) (T, bool, error)) (T, error) {
	var zero T
	var last error
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if last != nil {
				return zero, fmt.Errorf("timed out waiting for %s: %w", what, last)
			}
			return zero, fmt.Errorf("timed out waiting for %s: %w", what, ctx.Err())
		case <-timer.C:
		}

		v, ok, err := fn(ctx)
		switch {
		case err != nil && browser.IsClosed(err):
			return zero, err
		case err != nil:
			if ctx.Err() == nil {
				last = err
			}
		case ok:
			return v, nil
		}
		timer.Reset(interval)
	}
}

// visible returns the visible elements matching selector in s, in document order.
func visible(ctx context.Context, s Scope, selector string) ([]browser.Element, error) {
	els, err := s.Query(ctx, selector)
	if err != nil {
		return nil, err
	}
	out := els[:0]
	for _, el := range els {
		ok, err := el.Visible(ctx)
		if err != nil {
			if browser.IsClosed(err) {
				return nil, err
			}
			continue // detached between query and check
		}
		if ok {
			out = append(out, el)
		}
	}
	return out, nil
}

// label is the lower-cased accessible text of el: aria-label followed by rendered text.
func label(ctx context.Context, el browser.Element) (string, error) {
	aria, _, err := el.Attribute(ctx, "aria-label")
	if err != nil {
		return "", err
	}
	text, err := el.Text(ctx)
	if err != nil {
		return "", err
	}
	return strings.ToLower(normalize(aria + " " + text)), nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// byMarker returns the first visible element matching any of the selectors.
func byMarker(selectors ...string) func(context.Context, Scope) (browser.Element, error) {
	return func(ctx context.Context, s Scope) (browser.Element, error) {
		for _, sel := range selectors {
			els, err := visible(ctx, s, sel)
			if err != nil {
				return nil, err
			}
			if len(els) > 0 {
				return els[0], nil
			}
		}
		return nil, nil
	}
}

// byText returns the first visible element matching selector whose text satisfies match.
func byText(selector string, match func(text string) bool) func(context.Context, Scope) (browser.Element, error) {
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
			if match(strings.ToLower(normalize(text))) {
				return el, nil
			}
		}
		return nil, nil
	}
}

// byTextContaining matches a case-insensitive substring of the visible text.
func byTextContaining(selector string, phrases ...string) func(context.Context, Scope) (browser.Element, error) {
	return byText(selector, func(text string) bool {
		for _, p := range phrases {
			if strings.Contains(text, strings.ToLower(p)) {
				return true
			}
		}
		return false
	})
}

// byExactText matches the whole visible text, ignoring case and surrounding space.
func byExactText(selector string, texts ...string) func(context.Context, Scope) (browser.Element, error) {
	return byText(selector, func(text string) bool {
		for _, t := range texts {
			if text == strings.ToLower(t) {
				return true
			}
		}
		return false
	})
}

// byAllKeywords matches text containing every keyword.
func byAllKeywords(selector string, keywords ...string) func(context.Context, Scope) (browser.Element, error) {
	return byText(selector, func(text string) bool {
		for _, k := range keywords {
			if !strings.Contains(text, strings.ToLower(k)) {
				return false
			}
		}
		return true
	})
}

// attrSelector builds [name="value"] with value escaped for a CSS string.
func attrSelector(name, value string) string {
	value = strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value)
	return fmt.Sprintf(`[%s="%s"]`, name, value)
}
