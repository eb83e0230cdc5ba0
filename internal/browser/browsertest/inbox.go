package browsertest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// InboxOptions bends the scripted inbox to exercise fallbacks and failures.
type InboxOptions struct {
	// NewConversationText is the label of the step-2 control. Default "New WhatsApp conversation".
	NewConversationText string
	// NewConversationMarker puts the structural marker on the step-2 control.
	NewConversationMarker bool
	// NoCountryCombo leaves the "+" combo out of the form.
	NoCountryCombo bool
	// UntypedPhoneInput renders the phone field without type="tel".
	UntypedPhoneInput bool
	// EditableMessage renders the message body as a contenteditable region.
	EditableMessage bool
	// PlainSendLabel renders the send control as a span inside a non-button container.
	PlainSendLabel bool
	// CountryExpanded renders the country combo already open, with its search popover showing.
	CountryExpanded bool
}

// Sent is one message the inbox accepted.
type Sent struct {
	CountryCode string
	PhoneNumber string
	Message     string
}

// Inbox is a scripted business inbox: a compose button that opens a dialog, a
// conversation-type picker, a searchable country-code combo, phone and message
// fields, and a send button.
type Inbox struct {
	*Page

	mu   sync.Mutex
	sent []Sent
}

// InboxURL is the address a fresh Inbox reports.
const InboxURL = "https://business.facebook.com/latest/inbox/all"

const inboxHTML = `<!DOCTYPE html>
<html><head><title>Inbox | Meta Business Suite</title></head>
<body>
<div class="banner" style="position: fixed">Cookie banner</div>
<nav>
  <div role="button" aria-label="Search">Search</div>
  <div role="button" data-testid="inbox-compose-button" aria-label="New message"><span>New message</span></div>
</nav>
<div class="threads"><div role="row">Earlier conversation</div></div>
<div id="tooltip" hidden><div role="button">New WhatsApp conversation</div></div>
</body></html>`

// countryPopover is portaled to the body, outside the dialog.
const countryPopover = `<div class="popover">
  <input type="search" aria-autocomplete="list" aria-controls=":r7:" placeholder="Search countries" value="">
  <div role="listbox" id=":r7:"></div>
</div>`

// countries answers the country-code search.
var countries = map[string]string{
	"1":  "United States +1",
	"27": "South Africa +27",
	"44": "United Kingdom +44",
	"62": "Indonesia +62",
	"91": "India +91",
}

// NewInbox builds the scripted inbox.
func NewInbox(opts InboxOptions) *Inbox {
	if opts.NewConversationText == "" {
		opts.NewConversationText = "New WhatsApp conversation"
	}
	in := &Inbox{Page: NewPage(inboxHTML)}
	in.url = InboxURL

	in.OnClick(`[data-testid="inbox-compose-button"]`, func(doc *goquery.Document, _ *goquery.Selection) {
		if doc.Find(`[role="dialog"]`).Length() > 0 {
			return
		}
		marker := ""
		if opts.NewConversationMarker {
			marker = ` data-testid="new-whatsapp-conversation"`
		}
		doc.Find("body").AppendHtml(`<div role="dialog" aria-modal="true" aria-label="Message composer">
  <h2>New message</h2>
  <div role="button"><span>Instagram Direct</span></div>
  <div role="button"><span>Messenger</span></div>
  <div role="button" id="new-conversation"` + marker + `><span>` + opts.NewConversationText + `</span></div>
  <div role="button" aria-label="Close">X</div>
</div>`)
	})

	in.OnClick("#new-conversation", func(doc *goquery.Document, _ *goquery.Selection) {
		var form strings.Builder
		form.WriteString(`<form class="compose">`)
		form.WriteString(`<div role="combobox" aria-label="Business account" aria-expanded="false"><span>My Business</span></div>`)
		if !opts.NoCountryCombo {
			fmt.Fprintf(&form, `<div role="combobox" id="country" aria-expanded="%t" aria-haspopup="listbox"><span>+1</span></div>`, opts.CountryExpanded)
		}
		if opts.UntypedPhoneInput {
			form.WriteString(`<input name="phone" placeholder="Phone number" value="">`)
		} else {
			form.WriteString(`<input type="tel" name="phone" placeholder="Phone number" value="">`)
		}
		if opts.EditableMessage {
			form.WriteString(`<div contenteditable="true" role="textbox" class="message"></div>`)
		} else {
			form.WriteString(`<textarea name="message" placeholder="Type a message"></textarea>`)
		}
		if opts.PlainSendLabel {
			form.WriteString(`<div class="send"><span>Send Message</span></div>`)
		} else {
			form.WriteString(`<div role="button" class="send" tabindex="0"><span>Send message</span></div>`)
		}
		form.WriteString(`</form>`)
		doc.Find(`[role="dialog"]`).SetHtml(`<h2>New WhatsApp conversation</h2>` + form.String())
		if opts.CountryExpanded && !opts.NoCountryCombo {
			doc.Find("body").AppendHtml(countryPopover)
		}
	})

	// a click toggles the combo, like the real one
	in.OnClick("#country", func(doc *goquery.Document, el *goquery.Selection) {
		combo := doc.Find("#country")
		if v, _ := combo.Attr("aria-expanded"); v == "true" {
			combo.SetAttr("aria-expanded", "false")
			doc.Find(".popover").Remove()
			return
		}
		combo.SetAttr("aria-expanded", "true")
		doc.Find("body").AppendHtml(countryPopover)
	})

	in.OnInput(`input[aria-controls=":r7:"]`, func(doc *goquery.Document, _ *goquery.Selection, value string) {
		list := doc.Find(`[id=":r7:"]`)
		digits := strings.TrimPrefix(strings.TrimSpace(value), "+")
		if name, ok := countries[digits]; ok && digits != "" {
			list.SetHtml(`<div role="option" data-code="` + digits + `"><span>` + name + `</span></div>`)
			return
		}
		list.SetHtml(`<div role="option" aria-disabled="true">No results</div>`)
	})

	in.OnClick(`[role="option"][data-code]`, func(doc *goquery.Document, el *goquery.Selection) {
		code, _ := el.Closest(`[role="option"]`).Attr("data-code")
		combo := doc.Find("#country")
		combo.SetHtml(`<span>+` + code + `</span>`)
		combo.SetAttr("aria-expanded", "false")
		doc.Find(".popover").Remove()
	})

	in.OnClick(".send", func(doc *goquery.Document, _ *goquery.Selection) {
		dialog := doc.Find(`[role="dialog"]`)
		s := Sent{
			CountryCode: strings.TrimSpace(dialog.Find("#country").Text()),
		}
		s.PhoneNumber, _ = dialog.Find(`input[name="phone"]`).Attr("value")
		if ta := dialog.Find("textarea"); ta.Length() > 0 {
			s.Message = ta.Text()
		} else {
			s.Message = dialog.Find(`[contenteditable="true"]`).Text()
		}
		in.mu.Lock()
		in.sent = append(in.sent, s)
		in.mu.Unlock()
		dialog.Remove()
	})

	return in
}

// Sent returns the messages submitted so far.
func (in *Inbox) Sent() []Sent {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]Sent(nil), in.sent...)
}
