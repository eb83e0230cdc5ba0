package automation

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/roelfdiedericks/wabridge/internal/browser"
	. "github.com/roelfdiedericks/wabridge/internal/logging"
)

// maxDiagnosticControls caps the control list in Diagnostics.
const maxDiagnosticControls = 25

// collectDiagnostics snapshots the page for post-mortem debugging. It parses the
// page HTML with goquery and falls back to querying live elements when the HTML
// cannot be read. It never fails; missing pieces are left empty.
func collectDiagnostics(ctx context.Context, page browser.Page, chain Chain) *Diagnostics {
	d := &Diagnostics{
		Strategies:      chain.Names(),
		StrategyVersion: NewConversationStrategiesVersion,
	}

	if info, err := page.Info(ctx); err == nil {
		d.Title, d.URL = info.Title, info.URL
	}

	html, err := page.HTML(ctx)
	if err == nil {
		doc, perr := goquery.NewDocumentFromReader(strings.NewReader(html))
		if perr == nil {
			d.DialogPresent = doc.Find(dialogSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
				return staticVisible(s)
			}).Length() > 0
			doc.Find(interactiveSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				if staticVisible(s) {
					d.Controls = append(d.Controls, describeSelection(s))
				}
				return len(d.Controls) < maxDiagnosticControls
			})
			return d
		}
		err = perr
	}
	L_debug("automation: diagnostics falling back to live elements", "error", err)

	dialogs, _ := visible(ctx, Scope{Page: page}, dialogSelector)
	d.DialogPresent = len(dialogs) > 0
	controls, _ := visible(ctx, Scope{Page: page}, interactiveSelector)
	for _, el := range controls {
		if len(d.Controls) >= maxDiagnosticControls {
			break
		}
		if desc, err := el.Describe(ctx); err == nil {
			d.Controls = append(d.Controls, desc)
		}
	}
	return d
}

// staticVisible approximates visibility from markup alone: no hidden attribute,
// aria-hidden or inline display:none/visibility:hidden on the node or its ancestors.
func staticVisible(s *goquery.Selection) bool {
	for n := s; n.Length() > 0; n = n.Parent() {
		if _, ok := n.Attr("hidden"); ok {
			return false
		}
		if v, _ := n.Attr("aria-hidden"); v == "true" {
			return false
		}
		style, _ := n.Attr("style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

// describeSelection renders tag[role=..][aria-label=..] "text".
func describeSelection(s *goquery.Selection) string {
	out := goquery.NodeName(s)
	if role, ok := s.Attr("role"); ok {
		out += "[role=" + role + "]"
	}
	if l, ok := s.Attr("aria-label"); ok {
		out += "[aria-label=" + l + "]"
	}
	if text := normalize(s.Text()); text != "" {
		out += ` "` + truncate(text, 60) + `"`
	}
	return out
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
