// Package automation drives the business inbox compose flow on a live page:
// reload, then six bounded steps that open the compose dialog, pick a new
// WhatsApp conversation, choose the country code, fill number and message, and
// submit. The first failing step ends the run with a *StepError; nothing is retried.
package automation

import (
	"context"
	"errors"
	"time"

	"github.com/roelfdiedericks/wabridge/internal/browser"
	. "github.com/roelfdiedericks/wabridge/internal/logging"
)

// Timeouts bounds every phase of a run.
type Timeouts struct {
	Reload       time.Duration
	Settle       time.Duration // pause after the reload
	ClickAttempt time.Duration // each of the three click methods
	Poll         time.Duration // interval between lookups while waiting

	OpenCompose           time.Duration
	SelectNewConversation time.Duration
	ChooseCountryCode     time.Duration
	FillPhoneNumber       time.Duration
	FillMessage           time.Duration
	Submit                time.Duration
}

// DefaultTimeouts returns the production timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Reload:                60 * time.Second,
		Settle:                3 * time.Second,
		ClickAttempt:          5 * time.Second,
		Poll:                  250 * time.Millisecond,
		OpenCompose:           20 * time.Second,
		SelectNewConversation: 20 * time.Second,
		ChooseCountryCode:     30 * time.Second,
		FillPhoneNumber:       10 * time.Second,
		FillMessage:           10 * time.Second,
		Submit:                15 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultTimeouts.
func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	for _, f := range []struct{ v, def *time.Duration }{
		{&t.Reload, &d.Reload},
		{&t.ClickAttempt, &d.ClickAttempt},
		{&t.Poll, &d.Poll},
		{&t.OpenCompose, &d.OpenCompose},
		{&t.SelectNewConversation, &d.SelectNewConversation},
		{&t.ChooseCountryCode, &d.ChooseCountryCode},
		{&t.FillPhoneNumber, &d.FillPhoneNumber},
		{&t.FillMessage, &d.FillMessage},
		{&t.Submit, &d.Submit},
	} {
		if *f.v <= 0 {
			*f.v = *f.def
		}
	}
	if t.Settle < 0 {
		t.Settle = 0
	}
	return t
}

// Engine executes the compose flow. It holds no per-page state, so one Engine
// serves every session; callers must not run two sends on the same page at once.
type Engine struct {
	timeouts        Timeouts
	compose         Chain
	newConversation Chain
}

// NewEngine creates an engine. Zero timeouts take their defaults, except Settle,
// where zero means no pause.
func NewEngine(t Timeouts) *Engine {
	return &Engine{
		timeouts:        t.withDefaults(),
		compose:         ComposeStrategies,
		newConversation: NewConversationStrategies,
	}
}

// Timeouts returns the effective timeouts.
func (e *Engine) Timeouts() Timeouts {
	return e.timeouts
}

type step struct {
	name    string
	timeout time.Duration
	run     func(r *run, ctx context.Context) error
}

func (e *Engine) steps() []step {
	t := e.timeouts
	return []step{
		{StepOpenCompose, t.OpenCompose, (*run).openCompose},
		{StepSelectNewConversation, t.SelectNewConversation, (*run).selectNewConversation},
		{StepChooseCountryCode, t.ChooseCountryCode, (*run).chooseCountryCode},
		{StepFillPhoneNumber, t.FillPhoneNumber, (*run).fillPhoneNumber},
		{StepFillMessage, t.FillMessage, (*run).fillMessage},
		{StepSubmit, t.Submit, (*run).submit},
	}
}

// Send delivers req through page. It returns nil once all six steps completed,
// ErrInvalidRequest for a bad request, or a *StepError naming the failed step.
func (e *Engine) Send(ctx context.Context, page browser.Page, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	start := time.Now()

	// a previous failed run may have left dialogs or half-filled forms behind
	rctx, cancel := context.WithTimeout(ctx, e.timeouts.Reload)
	err := page.Reload(rctx)
	cancel()
	if err != nil {
		return &StepError{Step: 0, Name: StepReload, Reason: "page reload failed", Err: err}
	}
	if err := sleep(ctx, e.timeouts.Settle); err != nil {
		return &StepError{Step: 0, Name: StepReload, Reason: "interrupted while settling", Err: err}
	}

	r := &run{engine: e, page: page, req: req}
	for i, st := range e.steps() {
		stepStart := time.Now()
		sctx, cancel := context.WithTimeout(ctx, st.timeout)
		err := st.run(r, sctx)
		cancel()
		if err != nil {
			se := asStepError(err)
			se.Step, se.Name = i+1, st.name
			L_warn("automation: step failed", "step", se.Step, "name", se.Name, "reason", se.Reason, "error", se.Err)
			return se
		}
		L_debug("automation: step done", "step", i+1, "name", st.name, "took", time.Since(stepStart).Round(time.Millisecond))
	}

	L_elapsed(start, "automation: message submitted", "extension", req.Extension)
	return nil
}

func asStepError(err error) *StepError {
	var se *StepError
	if errors.As(err, &se) {
		return se
	}
	return &StepError{Reason: err.Error(), Err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
