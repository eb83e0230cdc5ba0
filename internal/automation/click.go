package automation

import (
	"context"
	"errors"
	"fmt"

	"github.com/roelfdiedericks/wabridge/internal/browser"
	. "github.com/roelfdiedericks/wabridge/internal/logging"
)

// click runs the shared click procedure: scroll into view, neutralise overlays,
// then a synthetic dispatch, a forced click and an ordinary click in that order.
// Each attempt is bounded by ClickAttempt; the first success wins.
func (e *Engine) click(ctx context.Context, page browser.Page, el browser.Element) error {
	prep := func(name string, fn func(context.Context) error) error {
		actx, cancel := context.WithTimeout(ctx, e.timeouts.ClickAttempt)
		defer cancel()
		if err := fn(actx); err != nil {
			if browser.IsClosed(err) {
				return err
			}
			L_trace("automation: click preparation failed", "stage", name, "error", err)
		}
		return nil
	}
	if err := prep("scroll", el.ScrollIntoView); err != nil {
		return err
	}
	if err := prep("overlays", page.HideOverlays); err != nil {
		return err
	}

	attempts := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"dispatch", el.DispatchClick},
		{"force", el.ForceClick},
		{"click", el.Click},
	}

	var errs []error
	for _, a := range attempts {
		actx, cancel := context.WithTimeout(ctx, e.timeouts.ClickAttempt)
		err := a.fn(actx)
		cancel()
		if err == nil {
			if len(errs) > 0 {
				L_debug("automation: click fell back", "method", a.name, "failed", len(errs))
			}
			return nil
		}
		if browser.IsClosed(err) {
			return err
		}
		errs = append(errs, fmt.Errorf("%s: %w", a.name, err))
	}
	return fmt.Errorf("all click attempts failed: %w", errors.Join(errs...))
}
