package automation

// Selectors and phrases for the business inbox compose flow. The remote UI is
// not under our control; extend these lists when it drifts.
const (
	dialogSelector      = `[role="dialog"], [aria-modal="true"]`
	interactiveSelector = `button, [role="button"], [role="menuitem"], [role="menuitemradio"], [role="option"], [role="radio"], [role="tab"], [role="link"], a[href]`
	comboSelector       = `[role="combobox"]`
	clickableSelector   = `button, [role="button"]`
)

// ComposeStrategies locate the control that opens the compose dialog.
var ComposeStrategies = Chain{
	{Name: "marker", Find: byMarker(
		`[data-testid="inbox-compose-button"]`,
		`[aria-label="New message"]`,
		`[aria-label="Compose"]`,
	)},
	{Name: "substring", Find: byTextContaining(interactiveSelector, "new message", "compose", "create message")},
}

// NewConversationStrategiesVersion identifies the revision of
// NewConversationStrategies reported in step-2 diagnostics.
const NewConversationStrategiesVersion = "2"

// NewConversationStrategies locate the "new WhatsApp conversation" control
// inside the compose dialog, most specific first.
var NewConversationStrategies = Chain{
	{Name: "marker", Find: byMarker(
		`[data-testid="new-whatsapp-conversation"]`,
		`[aria-label="New WhatsApp conversation"]`,
		`[aria-label="New WhatsApp message"]`,
	)},
	{Name: "substring", Find: byTextContaining(interactiveSelector,
		"new whatsapp conversation",
		"new whatsapp message",
		"start a whatsapp conversation",
	)},
	{Name: "exact", Find: byExactText(interactiveSelector,
		"WhatsApp",
		"WhatsApp message",
		"New conversation",
	)},
	{Name: "keyword", Find: byAllKeywords(interactiveSelector, "whatsapp", "new")},
}
