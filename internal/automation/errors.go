package automation

import (
	"fmt"
	"strings"
)

// Step labels, in execution order. Step 0 is the pre-run reload.
const (
	StepReload                = "reload"
	StepOpenCompose           = "open_compose"
	StepSelectNewConversation = "select_new_conversation"
	StepChooseCountryCode     = "choose_country_code"
	StepFillPhoneNumber       = "fill_phone_number"
	StepFillMessage           = "fill_message"
	StepSubmit                = "submit"
)

// StepError is an automation failure at one step. Err, when set, is the
// underlying cause and may be a closed-browser error.
type StepError struct {
	Step        int          `json:"step"`
	Name        string       `json:"name"`
	Reason      string       `json:"reason"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
	Err         error        `json:"-"`
}

func (e *StepError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "automation: step %d (%s): %s", e.Step, e.Name, e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *StepError) Unwrap() error { return e.Err }

// fail builds a partial StepError; the engine fills in Step and Name.
func fail(err error, format string, args ...interface{}) *StepError {
	return &StepError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// Diagnostics describes the page at the moment a step gave up.
type Diagnostics struct {
	Title           string   `json:"title"`
	URL             string   `json:"url"`
	DialogPresent   bool     `json:"dialogPresent"`
	Controls        []string `json:"controls"`
	Strategies      []string `json:"strategies,omitempty"`
	StrategyVersion string   `json:"strategyVersion,omitempty"`
}
