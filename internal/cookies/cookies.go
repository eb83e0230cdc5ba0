// Package cookies turns a raw "name=value; name2=value2" cookie string into
// structured credentials scoped to the target application's domains.
package cookies

import (
	"fmt"
	"strings"

	. "github.com/roelfdiedericks/wabridge/internal/logging"
)

// Entry is one parsed name/value pair. Name is never empty.
type Entry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Credential is an Entry bound to a domain, ready to be installed in a browser.
type Credential struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	SameSite string
}

// DomainError records a per-domain application failure.
type DomainError struct {
	Domain string
	Err    error
}

func (e DomainError) Error() string {
	return fmt.Sprintf("cookies: apply to %s: %v", e.Domain, e.Err)
}

func (e DomainError) Unwrap() error { return e.Err }

// Parse splits s on ';' and returns the well-formed pairs in order.
// Segments without '=' and segments with an empty name are dropped.
// An empty result is an input error for the caller, not for this function.
func Parse(s string) []Entry {
	var out []Entry
	for _, seg := range strings.Split(s, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		name, value, ok := strings.Cut(seg, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, Entry{Name: name, Value: unquote(strings.TrimSpace(value))})
	}
	return out
}

// unquote strips exactly one layer of matching surrounding quotes.
func unquote(v string) string {
	if len(v) < 2 {
		return v
	}
	first, last := v[0], v[len(v)-1]
	if (first == '"' || first == '\'') && first == last {
		return v[1 : len(v)-1]
	}
	return v
}

// ForDomain projects entries onto one domain.
func ForDomain(entries []Entry, domain string) []Credential {
	creds := make([]Credential, 0, len(entries))
	for _, e := range entries {
		creds = append(creds, Credential{
			Name:     e.Name,
			Value:    e.Value,
			Domain:   domain,
			Path:     "/",
			Secure:   true,
			HTTPOnly: false,
			SameSite: "None",
		})
	}
	return creds
}

// ForDomains projects entries onto every domain, domain-major.
func ForDomains(entries []Entry, domains []string) []Credential {
	var creds []Credential
	for _, d := range domains {
		creds = append(creds, ForDomain(entries, d)...)
	}
	return creds
}

// Apply installs entries on every domain through fn. A failing domain is logged and
// skipped; the remaining domains are still attempted. It returns how many domains
// succeeded together with the failures.
func Apply(entries []Entry, domains []string, fn func(domain string, creds []Credential) error) (int, []DomainError) {
	applied := 0
	var failed []DomainError
	for _, d := range domains {
		if err := fn(d, ForDomain(entries, d)); err != nil {
			L_warn("cookies: failed to apply domain", "domain", d, "error", err)
			failed = append(failed, DomainError{Domain: d, Err: err})
			continue
		}
		applied++
	}
	return applied, failed
}
