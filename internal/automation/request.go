package automation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRequest marks a send request that fails validation.
var ErrInvalidRequest = errors.New("automation: invalid request")

// Request is one message to deliver.
type Request struct {
	Extension   string `json:"extension"`   // country calling code, e.g. "62"
	PhoneNumber string `json:"phoneNumber"` // national number
	Message     string `json:"message"`
}

// Validate rejects empty fields and non-numeric extension or phone number.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	for _, f := range []struct{ name, value string }{
		{"extension", r.Extension},
		{"phoneNumber", r.PhoneNumber},
	} {
		d := digits(f.value)
		if d == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidRequest, f.name)
		}
		for _, c := range d {
			if c < '0' || c > '9' {
				return fmt.Errorf("%w: %s must contain only digits", ErrInvalidRequest, f.name)
			}
		}
	}
	return nil
}

// digits strips the separators people commonly type into phone numbers.
func digits(s string) string {
	return strings.NewReplacer("+", "", " ", "", "-", "").Replace(strings.TrimSpace(s))
}
