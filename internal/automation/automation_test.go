package automation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/roelfdiedericks/wabridge/internal/browser"
	"github.com/roelfdiedericks/wabridge/internal/browser/browsertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fastTimeouts keeps failing runs short.
func fastTimeouts() Timeouts {
	return Timeouts{
		Reload:                time.Second,
		Settle:                0,
		ClickAttempt:          200 * time.Millisecond,
		Poll:                  10 * time.Millisecond,
		OpenCompose:           300 * time.Millisecond,
		SelectNewConversation: 300 * time.Millisecond,
		ChooseCountryCode:     300 * time.Millisecond,
		FillPhoneNumber:       300 * time.Millisecond,
		FillMessage:           300 * time.Millisecond,
		Submit:                300 * time.Millisecond,
	}
}

var hello = Request{Extension: "62", PhoneNumber: "87769691301", Message: "hello"}

func TestSendSubmitsMessage(t *testing.T) {
	inbox := browsertest.NewInbox(browsertest.InboxOptions{})
	err := NewEngine(fastTimeouts()).Send(context.Background(), inbox, hello)
	require.NoError(t, err)

	assert.Equal(t, []browsertest.Sent{{CountryCode: "+62", PhoneNumber: "87769691301", Message: "hello"}}, inbox.Sent())
	stats := inbox.Stats()
	assert.Equal(t, 1, stats.Reloads)
	// compose, new conversation, combo, option, send
	assert.Len(t, stats.Clicks, 5)
	for _, c := range stats.Clicks {
		assert.True(t, strings.HasPrefix(c, "dispatch: "), c)
	}
}

func TestSendNormalizesNumbers(t *testing.T) {
	inbox := browsertest.NewInbox(browsertest.InboxOptions{})
	req := Request{Extension: "+27", PhoneNumber: "82 555-0100", Message: "hi"}
	require.NoError(t, NewEngine(fastTimeouts()).Send(context.Background(), inbox, req))
	require.Len(t, inbox.Sent(), 1)
	assert.Equal(t, "+27", inbox.Sent()[0].CountryCode)
	assert.Equal(t, "825550100", inbox.Sent()[0].PhoneNumber)
}

func TestSendFallbacks(t *testing.T) {
	tests := []struct {
		name string
		opts browsertest.InboxOptions
	}{
		{"marker", browsertest.InboxOptions{NewConversationText: "Start", NewConversationMarker: true}},
		{"exact text", browsertest.InboxOptions{NewConversationText: "WhatsApp"}},
		{"keywords", browsertest.InboxOptions{NewConversationText: "Create new chat on WhatsApp"}},
		{"untyped phone input", browsertest.InboxOptions{UntypedPhoneInput: true}},
		{"editable message", browsertest.InboxOptions{EditableMessage: true}},
		{"plain send label", browsertest.InboxOptions{PlainSendLabel: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inbox := browsertest.NewInbox(tt.opts)
			require.NoError(t, NewEngine(fastTimeouts()).Send(context.Background(), inbox, hello))
			assert.Equal(t, []browsertest.Sent{{CountryCode: "+62", PhoneNumber: "87769691301", Message: "hello"}}, inbox.Sent())
		})
	}
}

func TestSendLeavesExpandedCountryComboOpen(t *testing.T) {
	inbox := browsertest.NewInbox(browsertest.InboxOptions{CountryExpanded: true})
	require.NoError(t, NewEngine(fastTimeouts()).Send(context.Background(), inbox, hello))
	assert.Equal(t, []browsertest.Sent{{CountryCode: "+62", PhoneNumber: "87769691301", Message: "hello"}}, inbox.Sent())
	// compose, new conversation, option, send: the open combo is not clicked
	assert.Len(t, inbox.Stats().Clicks, 4)
}

func TestDescribeSelectionTruncatesRunes(t *testing.T) {
	label := strings.Repeat("é", 70)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<div role="button">` + label + `</div>`))
	require.NoError(t, err)

	desc := describeSelection(doc.Find(`[role="button"]`))
	assert.True(t, utf8.ValidString(desc))
	assert.Equal(t, `div[role=button] "`+strings.Repeat("é", 60)+`"`, desc)
	assert.Equal(t, "ab", truncate("ab", 5))
}

func TestClickFallsBackToForce(t *testing.T) {
	inbox := browsertest.NewInbox(browsertest.InboxOptions{})
	inbox.FailDispatch(true)
	require.NoError(t, NewEngine(fastTimeouts()).Send(context.Background(), inbox, hello))
	assert.Len(t, inbox.Sent(), 1)
	for _, c := range inbox.Stats().Clicks {
		assert.True(t, strings.HasPrefix(c, "force: "), c)
	}
}

func TestStepTwoFailureCarriesDiagnostics(t *testing.T) {
	inbox := browsertest.NewInbox(browsertest.InboxOptions{NewConversationText: "Email"})
	err := NewEngine(fastTimeouts()).Send(context.Background(), inbox, hello)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Step)
	assert.Equal(t, StepSelectNewConversation, se.Name)
	require.NotNil(t, se.Diagnostics)
	assert.Equal(t, "Inbox | Meta Business Suite", se.Diagnostics.Title)
	assert.Equal(t, browsertest.InboxURL, se.Diagnostics.URL)
	assert.True(t, se.Diagnostics.DialogPresent)
	assert.Equal(t, NewConversationStrategies.Names(), se.Diagnostics.Strategies)
	assert.Equal(t, NewConversationStrategiesVersion, se.Diagnostics.StrategyVersion)
	assert.NotEmpty(t, se.Diagnostics.Controls)
	joined := strings.Join(se.Diagnostics.Controls, "\n")
	assert.Contains(t, joined, "Email")
	// the hidden tooltip is not a candidate
	assert.NotContains(t, joined, "New WhatsApp conversation")
	assert.Empty(t, inbox.Sent())
}

func TestStepThreeFailure(t *testing.T) {
	inbox := browsertest.NewInbox(browsertest.InboxOptions{NoCountryCombo: true})
	err := NewEngine(fastTimeouts()).Send(context.Background(), inbox, hello)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.Step)
	assert.Equal(t, StepChooseCountryCode, se.Name)
	assert.Nil(t, se.Diagnostics)
	assert.Contains(t, se.Error(), "automation: step 3 (choose_country_code)")
	assert.Empty(t, inbox.Sent())
}

func TestUnknownCountryCodeFails(t *testing.T) {
	inbox := browsertest.NewInbox(browsertest.InboxOptions{})
	req := hello
	req.Extension = "999"
	err := NewEngine(fastTimeouts()).Send(context.Background(), inbox, req)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.Step)
	assert.Contains(t, se.Reason, "+999")
}

func TestClosedPageIsReported(t *testing.T) {
	inbox := browsertest.NewInbox(browsertest.InboxOptions{})
	inbox.Close()
	err := NewEngine(fastTimeouts()).Send(context.Background(), inbox, hello)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, se.Step)
	assert.Equal(t, StepReload, se.Name)
	assert.True(t, errors.Is(err, browser.ErrClosed))
}

func TestInvalidRequestSkipsPage(t *testing.T) {
	inbox := browsertest.NewInbox(browsertest.InboxOptions{})
	err := NewEngine(fastTimeouts()).Send(context.Background(), inbox, Request{Extension: "62"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, inbox.Stats().Reloads)
}

func TestCancelledContextStopsRun(t *testing.T) {
	inbox := browsertest.NewInbox(browsertest.InboxOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewEngine(fastTimeouts()).Send(ctx, inbox, hello)
	assert.Error(t, err)
	assert.Empty(t, inbox.Sent())
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"valid", hello, true},
		{"plus and separators", Request{Extension: "+62", PhoneNumber: "877-6969 1301", Message: "x"}, true},
		{"missing message", Request{Extension: "62", PhoneNumber: "1"}, false},
		{"blank message", Request{Extension: "62", PhoneNumber: "1", Message: "  "}, false},
		{"missing extension", Request{PhoneNumber: "1", Message: "x"}, false},
		{"missing phone", Request{Extension: "62", Message: "x"}, false},
		{"letters in phone", Request{Extension: "62", PhoneNumber: "12ab", Message: "x"}, false},
		{"letters in extension", Request{Extension: "id", PhoneNumber: "1", Message: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidRequest)
			}
		})
	}
}

func TestDefaultsFillZeroTimeouts(t *testing.T) {
	e := NewEngine(Timeouts{Submit: time.Second})
	got := e.Timeouts()
	assert.Equal(t, time.Second, got.Submit)
	assert.Equal(t, DefaultTimeouts().ChooseCountryCode, got.ChooseCountryCode)
	assert.Zero(t, got.Settle)
}

func TestStepErrorWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	se := &StepError{Step: 4, Name: StepFillPhoneNumber, Reason: "phone number input not found", Err: cause}
	assert.Equal(t, "automation: step 4 (fill_phone_number): phone number input not found: boom", se.Error())
	assert.ErrorIs(t, se, cause)
}
